package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
	"github.com/kirolinter/devops-orchestrator/internal/domain"
	"github.com/kirolinter/devops-orchestrator/internal/kv"
	"github.com/kirolinter/devops-orchestrator/internal/tasks"
)

func newTestEngine(t *testing.T) (*Engine, *MemRecorder) {
	t.Helper()
	store := kv.NewMemStore()
	queue := tasks.NewQueue(store)
	rec := NewMemRecorder()
	gates := NewGateRegistry()
	return NewEngine(rec, queue, gates, nil, nil), rec
}

func TestExecuteRunsNodesInDependencyOrder(t *testing.T) {
	engine, rec := newTestEngine(t)

	def := &domain.Definition{
		ID:   "def-1",
		Name: "build-test-deploy",
		Nodes: map[string]*domain.Node{
			"build":  {ID: "build", Name: "build", TaskType: "build"},
			"test":   {ID: "test", Name: "test", TaskType: "test", RunsAfter: []string{"build"}},
			"deploy": {ID: "deploy", Name: "deploy", TaskType: "deploy", RunsAfter: []string{"test"}},
		},
	}
	require.NoError(t, engine.RegisterDefinition(def))

	var order []string
	runners := map[string]StageRunner{
		"build": func(ctx context.Context, n *domain.Node, input map[string]interface{}) (map[string]interface{}, error) {
			order = append(order, "build")
			return map[string]interface{}{"ok": true}, nil
		},
		"test": func(ctx context.Context, n *domain.Node, input map[string]interface{}) (map[string]interface{}, error) {
			order = append(order, "test")
			return map[string]interface{}{"coverage": 85.0}, nil
		},
		"deploy": func(ctx context.Context, n *domain.Node, input map[string]interface{}) (map[string]interface{}, error) {
			order = append(order, "deploy")
			return map[string]interface{}{"ok": true}, nil
		},
	}

	exec, err := engine.Execute(context.Background(), "def-1", "exec-1", "ci-bot", "production", nil, runners)
	require.NoError(t, err)
	require.Equal(t, domain.ExecCompleted, exec.Status)
	require.Equal(t, []string{"build", "test", "deploy"}, order)

	require.Contains(t, rec.Stages, "exec-1")
	require.Len(t, rec.Stages["exec-1"], 3)
}

func TestExecuteFailsWhenRequiredStageFails(t *testing.T) {
	engine, _ := newTestEngine(t)

	def := &domain.Definition{
		ID:   "def-2",
		Name: "build-only",
		Nodes: map[string]*domain.Node{
			"build": {ID: "build", Name: "build", TaskType: "build"},
			"test":  {ID: "test", Name: "test", TaskType: "test", RunsAfter: []string{"build"}},
		},
	}
	require.NoError(t, engine.RegisterDefinition(def))

	runners := map[string]StageRunner{
		"build": func(ctx context.Context, n *domain.Node, input map[string]interface{}) (map[string]interface{}, error) {
			return nil, apierr.PermanentIO("build broke", nil)
		},
		"test": func(ctx context.Context, n *domain.Node, input map[string]interface{}) (map[string]interface{}, error) {
			t.Fatal("test stage must not run when its dependency failed")
			return nil, nil
		},
	}

	exec, err := engine.Execute(context.Background(), "def-2", "exec-2", "ci-bot", "staging", nil, runners)
	require.NoError(t, err)
	require.Equal(t, domain.ExecFailed, exec.Status)
	require.Equal(t, "build", exec.ErrorData["stage_id"])
	require.Equal(t, string(apierr.CodePermanentIO), exec.ErrorData["kind"])
	require.Contains(t, exec.ErrorData["message"], "build broke")
}

func TestExecuteRetriesTransientStageFailure(t *testing.T) {
	engine, rec := newTestEngine(t)

	def := &domain.Definition{
		ID: "def-3",
		Nodes: map[string]*domain.Node{
			"flaky": {ID: "flaky", Name: "flaky", TaskType: "flaky", Retry: &domain.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}},
		},
	}
	require.NoError(t, engine.RegisterDefinition(def))

	attempts := 0
	runners := map[string]StageRunner{
		"flaky": func(ctx context.Context, n *domain.Node, input map[string]interface{}) (map[string]interface{}, error) {
			attempts++
			if attempts < 2 {
				return nil, apierr.TransientIO("flake", nil)
			}
			return map[string]interface{}{"ok": true}, nil
		},
	}

	exec, err := engine.Execute(context.Background(), "def-3", "exec-3", "ci-bot", "staging", nil, runners)
	require.NoError(t, err)
	require.Equal(t, domain.ExecCompleted, exec.Status)
	require.Equal(t, 2, attempts)
	require.Equal(t, domain.StageCompleted, rec.Stages["exec-3"][0].Status)
}

func TestExecuteRejectsUnknownDefinition(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.Execute(context.Background(), "missing", "exec-4", "ci-bot", "staging", nil, nil)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.CodeNotFound, apiErr.Code)
}

func TestCancelSkipsRemainingStages(t *testing.T) {
	engine, rec := newTestEngine(t)

	def := &domain.Definition{
		ID: "def-5",
		Nodes: map[string]*domain.Node{
			"a": {ID: "a", Name: "a", TaskType: "a"},
			"b": {ID: "b", Name: "b", TaskType: "b", RunsAfter: []string{"a"}},
		},
	}
	require.NoError(t, engine.RegisterDefinition(def))

	runners := map[string]StageRunner{
		"a": func(ctx context.Context, n *domain.Node, input map[string]interface{}) (map[string]interface{}, error) {
			_ = engine.Cancel("exec-5")
			return map[string]interface{}{"ok": true}, nil
		},
		"b": func(ctx context.Context, n *domain.Node, input map[string]interface{}) (map[string]interface{}, error) {
			t.Fatal("stage b must not run after cancellation")
			return nil, nil
		},
	}

	exec, err := engine.Execute(context.Background(), "def-5", "exec-5", "ci-bot", "staging", nil, runners)
	require.NoError(t, err)
	require.Equal(t, domain.ExecCancelled, exec.Status)
	require.Equal(t, domain.StageSkipped, rec.Stages["exec-5"][1].Status)
}

func TestDefaultDefinitionFromEventAddsDeployForDockerfile(t *testing.T) {
	event := domain.Event{ID: "e1", Kind: domain.EventPush, Repository: "r1", FilesChanged: []string{"Dockerfile"}}
	def := DefaultDefinitionFromEvent(event)
	require.Contains(t, def.Nodes, "deploy")
	require.ElementsMatch(t, []string{"test"}, def.Nodes["deploy"].RunsAfter)
}
