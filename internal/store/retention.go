package store

import (
	"context"
	"fmt"

	"github.com/kirolinter/devops-orchestrator/internal/domain"
)

// RetentionManager runs declarative cleanup of aged rows, grounded on
// kirolinter/database/migrations/data_retention.py's DataRetentionManager.
type RetentionManager struct {
	store    *Store
	policies []domain.RetentionPolicy
}

// NewRetentionManager builds a manager over the built-in policy set.
func NewRetentionManager(s *Store, policies []domain.RetentionPolicy) *RetentionManager {
	return &RetentionManager{store: s, policies: policies}
}

// effectiveDays returns the policy's retention horizon, overridden by system_configuration if a
// row exists for the policy's config key.
func (r *RetentionManager) effectiveDays(ctx context.Context, p domain.RetentionPolicy) (int, error) {
	var value string
	err := r.store.DB.GetContext(ctx, &value,
		`SELECT value FROM system_configuration WHERE key = $1`, p.ConfigKey())
	if err != nil {
		return p.RetentionDays, nil // no override row; soft-fail to the declared default
	}
	var days int
	if _, scanErr := fmt.Sscanf(value, "%d", &days); scanErr != nil || days <= 0 {
		return p.RetentionDays, nil
	}
	return days, nil
}

// TableResult reports the outcome of cleanup for a single table.
type TableResult struct {
	Table          string
	RetentionDays  int
	RowsAffected   int64
	Error          string
}

// CleanupResult aggregates cleanup across every policy; partial success is allowed.
type CleanupResult struct {
	DryRun  bool
	Tables  []TableResult
	Errors  []string
}

// Cleanup iterates every policy (or only tableNames, if non-empty), deleting (or, in dry-run
// mode, counting) rows older than the effective horizon. A row with date_column >= now-horizon
// is never touched.
func (r *RetentionManager) Cleanup(ctx context.Context, dryRun bool, tableNames []string) (*CleanupResult, error) {
	wanted := make(map[string]bool, len(tableNames))
	for _, t := range tableNames {
		wanted[t] = true
	}

	result := &CleanupResult{DryRun: dryRun}
	for _, p := range r.policies {
		if len(wanted) > 0 && !wanted[p.TableName] {
			continue
		}
		if err := p.Validate(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		days, err := r.effectiveDays(ctx, p)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		predicate := p.ExpandPredicate(days)
		query := fmt.Sprintf(`DELETE FROM %s WHERE %s < now() - ($1 || ' days')::interval`, p.TableName, p.DateColumn)
		if dryRun {
			query = fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s < now() - ($1 || ' days')::interval`, p.TableName, p.DateColumn)
		}
		if predicate != "" {
			query += " AND " + predicate
		}

		tr := TableResult{Table: p.TableName, RetentionDays: days}
		if dryRun {
			var count int64
			if err := r.store.DB.GetContext(ctx, &count, query, days); err != nil {
				tr.Error = err.Error()
			} else {
				tr.RowsAffected = count
			}
		} else {
			res, err := r.store.DB.ExecContext(ctx, query, days)
			if err != nil {
				tr.Error = err.Error()
			} else {
				tr.RowsAffected, _ = res.RowsAffected()
			}
		}
		if tr.Error != "" {
			result.Errors = append(result.Errors, tr.Error)
		}
		result.Tables = append(result.Tables, tr)
	}
	return result, nil
}

// DefaultPolicies returns the built-in retention policies referenced by the persisted-state
// layout in §6: workflow_executions, workflow_stage_results, devops_metrics,
// quality_gate_executions, audit_logs.
func DefaultPolicies() []domain.RetentionPolicy {
	return []domain.RetentionPolicy{
		{TableName: "workflow_executions", RetentionDays: 90, DateColumn: "completed_at"},
		{TableName: "workflow_stage_results", RetentionDays: 90, DateColumn: "completed_at"},
		{TableName: "devops_metrics", RetentionDays: 90, DateColumn: "timestamp"},
		{TableName: "quality_gate_executions", RetentionDays: 180, DateColumn: "completed_at"},
		{TableName: "audit_logs", RetentionDays: 365, DateColumn: "timestamp"},
	}
}
