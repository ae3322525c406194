// Package cicd defines the CI/CD connector contract (component E) shared by every per-platform
// adapter.
package cicd

import (
	"context"

	"github.com/kirolinter/devops-orchestrator/internal/domain"
)

// ConnectorStatus reports a connector's liveness, grounded on
// kirolinter/devops/integrations/cicd/base_connector.py's get_connector_status.
type ConnectorStatus struct {
	Connected bool
	Platform  domain.Platform
	Detail    map[string]interface{}
}

// Connector is the abstract contract every CI/CD adapter implements (§4.E).
type Connector interface {
	Platform() domain.Platform
	DiscoverWorkflows(ctx context.Context, repository string) ([]domain.UniversalWorkflow, error)
	TriggerWorkflow(ctx context.Context, repository, workflowID, branch string, inputs map[string]string) (domain.TriggerResult, error)
	GetWorkflowStatus(ctx context.Context, repository, workflowID, runID string) (domain.UniversalWorkflow, error)
	CancelWorkflow(ctx context.Context, repository, runID string) (bool, error)
	GetConnectorStatus(ctx context.Context) ConnectorStatus
}
