package store

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
	"github.com/kirolinter/devops-orchestrator/internal/domain"
)

// WorkflowRepo persists workflow executions and stage results (component B is authoritative for
// workflow_executions/workflow_stage_results per §3's ownership rules). Its method set satisfies
// internal/workflow.Recorder structurally; workflow does not import store to avoid a cycle.
type WorkflowRepo struct {
	store *Store
}

// NewWorkflowRepo builds a WorkflowRepo over an open Store.
func NewWorkflowRepo(s *Store) *WorkflowRepo {
	return &WorkflowRepo{store: s}
}

// SaveExecution upserts one execution row, keyed by execution_id.
func (r *WorkflowRepo) SaveExecution(ctx context.Context, exec *domain.Execution) error {
	ctx, cancel := r.store.CtxTimeout(ctx)
	defer cancel()

	input, err := json.Marshal(exec.Input)
	if err != nil {
		return apierr.Internal("marshal execution input", err)
	}
	output, err := json.Marshal(exec.Output)
	if err != nil {
		return apierr.Internal("marshal execution output", err)
	}
	errData, err := json.Marshal(exec.ErrorData)
	if err != nil {
		return apierr.Internal("marshal execution error data", err)
	}

	const q = `
		INSERT INTO workflow_executions
			(execution_id, definition_id, status, triggered_by, environment, input, output, error_data, started_at, completed_at)
		VALUES
			(:execution_id, :definition_id, :status, :triggered_by, :environment, :input, :output, :error_data, :started_at, :completed_at)
		ON CONFLICT (execution_id) DO UPDATE SET
			status = EXCLUDED.status,
			output = EXCLUDED.output,
			error_data = EXCLUDED.error_data,
			completed_at = EXCLUDED.completed_at`

	params := map[string]interface{}{
		"execution_id":  exec.ExecutionID,
		"definition_id": exec.DefinitionID,
		"status":        string(exec.Status),
		"triggered_by":  exec.TriggeredBy,
		"environment":   exec.Environment,
		"input":         input,
		"output":        output,
		"error_data":    errData,
		"started_at":    exec.StartedAt,
		"completed_at":  exec.CompletedAt,
	}

	return r.store.Tx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, q, params); err != nil {
			return apierr.TransientIO("save workflow execution", err)
		}
		return nil
	})
}

// SaveStage inserts one terminal stage result row.
func (r *WorkflowRepo) SaveStage(ctx context.Context, stage *domain.StageResult) error {
	ctx, cancel := r.store.CtxTimeout(ctx)
	defer cancel()

	output, err := json.Marshal(stage.Output)
	if err != nil {
		return apierr.Internal("marshal stage output", err)
	}

	const q = `
		INSERT INTO workflow_stage_results
			(execution_id, stage_id, stage_name, stage_type, status, started_at, completed_at, output, error, retry_count)
		VALUES
			(:execution_id, :stage_id, :stage_name, :stage_type, :status, :started_at, :completed_at, :output, :error, :retry_count)
		ON CONFLICT (execution_id, stage_id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			retry_count = EXCLUDED.retry_count`

	params := map[string]interface{}{
		"execution_id": stage.ExecutionID,
		"stage_id":     stage.StageID,
		"stage_name":   stage.StageName,
		"stage_type":   stage.StageType,
		"status":       string(stage.Status),
		"started_at":   stage.StartedAt,
		"completed_at": stage.CompletedAt,
		"output":       output,
		"error":        stage.Error,
		"retry_count":  stage.RetryCount,
	}

	return r.store.Tx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, q, params); err != nil {
			return apierr.TransientIO("save workflow stage result", err)
		}
		return nil
	})
}
