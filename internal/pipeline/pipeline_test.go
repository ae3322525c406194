package pipeline_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kirolinter/devops-orchestrator/internal/cicd"
	"github.com/kirolinter/devops-orchestrator/internal/domain"
	"github.com/kirolinter/devops-orchestrator/internal/kv"
	"github.com/kirolinter/devops-orchestrator/internal/pipeline"
	"github.com/kirolinter/devops-orchestrator/internal/platform/logging"
)

func newManager(t *testing.T) *pipeline.Manager {
	t.Helper()
	store := kv.NewMemStore()
	t.Cleanup(func() { store.Close() })
	log := logging.New("test", "error", "text", &bytes.Buffer{})
	registry := pipeline.NewRegistry(store)
	return pipeline.NewManager(registry, log, nil)
}

func TestCoordinatorDetectsResourceConflict(t *testing.T) {
	registry := pipeline.NewRegistry(nil)
	coord := pipeline.NewCoordinator(registry, nil, nil)

	platforms := []domain.Platform{domain.PlatformGitHubActions}
	repository := "acme/widgets"

	// A real positive delay keeps the first call's resource lock held long enough for the
	// second, overlapping call to observe it.
	coord.AddRule(domain.CoordinationRule{
		Name:      "hold",
		Condition: domain.RuleCondition{Type: "platform_count", Count: 1},
		Action:    domain.RuleAction{Type: "delay", Seconds: 1},
	})

	var firstOp *domain.CrossPlatformOperation
	done := make(chan struct{})
	go func() {
		defer close(done)
		firstOp = coord.Coordinate(context.Background(), "trigger_workflows", platforms, repository, time.Now().UTC())
	}()

	// Give the first call time to reserve its lock and enter the delay before the second fires.
	time.Sleep(100 * time.Millisecond)
	secondOp := coord.Coordinate(context.Background(), "trigger_workflows", platforms, repository, time.Now().UTC())
	require.Equal(t, domain.OpFailed, secondOp.Status)
	require.NotEmpty(t, secondOp.Errors[domain.Platform("resource_conflicts")])

	<-done
	require.Equal(t, domain.OpSuccess, firstOp.Status)
	require.NotNil(t, firstOp.CompletedAt)

	// No lingering lock after both operations terminate: a third call on the same
	// repository/platform must succeed immediately rather than conflict.
	thirdOp := coord.Coordinate(context.Background(), "trigger_workflows", platforms, repository, time.Now().UTC())
	require.Equal(t, domain.OpSuccess, thirdOp.Status)
}

func TestCoordinatorRuleConditionFailsClosedOnUnknownType(t *testing.T) {
	registry := pipeline.NewRegistry(nil)
	coord := pipeline.NewCoordinator(registry, nil, nil)
	coord.AddRule(domain.CoordinationRule{
		Name:      "unknown",
		Condition: domain.RuleCondition{Type: "bogus"},
		Action:    domain.RuleAction{Type: "log", Message: "should never run"},
	})

	op := coord.Coordinate(context.Background(), "trigger_workflows",
		[]domain.Platform{domain.PlatformGitHubActions}, "acme/widgets", time.Now().UTC())
	require.Equal(t, domain.OpSuccess, op.Status)
}

func TestUnifiedStatusAggregatesAcrossPlatforms(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.Registry.Register(ctx, domain.PipelineEntry{
		PipelineID: "github_actions:acme/widgets:1", Platform: domain.PlatformGitHubActions,
		Repository: "acme/widgets", WorkflowID: "1", LastStatus: domain.StatusSuccess,
	}))
	require.NoError(t, m.Registry.Register(ctx, domain.PipelineEntry{
		PipelineID: "github_actions:acme/widgets:2", Platform: domain.PlatformGitHubActions,
		Repository: "acme/widgets", WorkflowID: "2", LastStatus: domain.StatusFailed,
	}))

	// Register a stub connector that reports connected, so TestConnections marks the platform active.
	m.RegisterConnector(noopConnector{platform: domain.PlatformGitHubActions})
	m.TestConnections(ctx)

	status := m.GetUnifiedStatus("acme/widgets")
	require.Equal(t, 2, status.Summary.TotalPipelines)
	require.Equal(t, 1, status.Summary.FailedPipelines)
	require.InDelta(t, 50.0, status.Summary.SuccessRate, 0.001)
}

type noopConnector struct {
	platform domain.Platform
}

func (n noopConnector) Platform() domain.Platform { return n.platform }
func (n noopConnector) DiscoverWorkflows(context.Context, string) ([]domain.UniversalWorkflow, error) {
	return nil, nil
}
func (n noopConnector) TriggerWorkflow(context.Context, string, string, string, map[string]string) (domain.TriggerResult, error) {
	return domain.TriggerResult{Success: true}, nil
}
func (n noopConnector) GetWorkflowStatus(context.Context, string, string, string) (domain.UniversalWorkflow, error) {
	return domain.UniversalWorkflow{}, nil
}
func (n noopConnector) CancelWorkflow(context.Context, string, string) (bool, error) { return true, nil }
func (n noopConnector) GetConnectorStatus(context.Context) cicd.ConnectorStatus {
	return cicd.ConnectorStatus{Connected: true, Platform: n.platform}
}
