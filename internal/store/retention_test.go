package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kirolinter/devops-orchestrator/internal/domain"
	"github.com/kirolinter/devops-orchestrator/internal/store"
)

func newRetentionMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &store.Store{DB: sqlx.NewDb(db, "postgres"), CommandTimeout: 5 * time.Second}, mock
}

func TestRetentionCleanupDryRunCountsWithoutDeleting(t *testing.T) {
	s, mock := newRetentionMockStore(t)

	policies := []domain.RetentionPolicy{
		{TableName: "workflow_executions", RetentionDays: 90, DateColumn: "completed_at"},
	}
	mgr := store.NewRetentionManager(s, policies)

	mock.ExpectQuery("SELECT value FROM system_configuration").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT count\(\*\) FROM workflow_executions WHERE completed_at < now\(\) - \(\$1 \|\| ' days'\)::interval`).
		WithArgs(90).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	result, err := mgr.Cleanup(context.Background(), true, []string{"workflow_executions"})
	require.NoError(t, err)
	require.True(t, result.DryRun)
	require.Empty(t, result.Errors)
	require.Len(t, result.Tables, 1)
	require.Equal(t, int64(5), result.Tables[0].RowsAffected)
	require.Equal(t, 90, result.Tables[0].RetentionDays)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetentionCleanupRealRunHonorsConfiguredHorizon(t *testing.T) {
	s, mock := newRetentionMockStore(t)

	policies := []domain.RetentionPolicy{
		{TableName: "workflow_executions", RetentionDays: 90, DateColumn: "completed_at"},
	}
	mgr := store.NewRetentionManager(s, policies)

	mock.ExpectQuery("SELECT value FROM system_configuration").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("30"))
	mock.ExpectExec(`DELETE FROM workflow_executions WHERE completed_at < now\(\) - \(\$1 \|\| ' days'\)::interval`).
		WithArgs(30).
		WillReturnResult(sqlmock.NewResult(0, 7))

	result, err := mgr.Cleanup(context.Background(), false, []string{"workflow_executions"})
	require.NoError(t, err)
	require.False(t, result.DryRun)
	require.Empty(t, result.Errors)
	require.Len(t, result.Tables, 1)
	require.Equal(t, 30, result.Tables[0].RetentionDays)
	require.Equal(t, int64(7), result.Tables[0].RowsAffected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetentionCleanupSkipsUnselectedTables(t *testing.T) {
	s, mock := newRetentionMockStore(t)

	policies := []domain.RetentionPolicy{
		{TableName: "workflow_executions", RetentionDays: 90, DateColumn: "completed_at"},
		{TableName: "audit_logs", RetentionDays: 365, DateColumn: "timestamp"},
	}
	mgr := store.NewRetentionManager(s, policies)

	mock.ExpectQuery("SELECT value FROM system_configuration").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`DELETE FROM audit_logs`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	result, err := mgr.Cleanup(context.Background(), false, []string{"audit_logs"})
	require.NoError(t, err)
	require.Len(t, result.Tables, 1)
	require.Equal(t, "audit_logs", result.Tables[0].Table)
	require.NoError(t, mock.ExpectationsWereMet())
}
