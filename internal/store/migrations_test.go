package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kirolinter/devops-orchestrator/internal/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &store.Store{DB: sqlx.NewDb(db, "postgres"), CommandTimeout: 5 * time.Second}, mock
}

func TestMigrationChecksumMismatchDetected(t *testing.T) {
	s, mock := newMockStore(t)

	declared := []store.Migration{
		{Version: "001", Name: "init", UpSQL: "CREATE TABLE a (id int)"},
		{Version: "002", Name: "add_col", UpSQL: "ALTER TABLE a ADD COLUMN b int"},
	}
	m := store.NewMigrator(s, declared)

	rows := sqlmock.NewRows([]string{"version", "name", "checksum", "applied_at", "duration_ms", "actor"}).
		AddRow("001", "init", declared[0].Checksum(), time.Now(), 1, "system").
		AddRow("002", "add_col", "deliberately-wrong-checksum", time.Now(), 1, "system")
	mock.ExpectQuery("SELECT version, name, checksum, applied_at, duration_ms, actor FROM schema_migrations").
		WillReturnRows(rows)

	result, err := m.Validate(context.Background())
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Len(t, result.Issues, 1)
	require.Equal(t, "checksum_mismatch", result.Issues[0].Type)
	require.Equal(t, "002", result.Issues[0].Version)
}

func TestMigrationValidateDetectsMissingMigration(t *testing.T) {
	s, mock := newMockStore(t)

	declared := []store.Migration{
		{Version: "001", Name: "init", UpSQL: "CREATE TABLE a (id int)"},
		{Version: "002", Name: "add_col", UpSQL: "ALTER TABLE a ADD COLUMN b int"},
		{Version: "003", Name: "add_idx", UpSQL: "CREATE INDEX ON a(b)"},
	}
	m := store.NewMigrator(s, declared)

	rows := sqlmock.NewRows([]string{"version", "name", "checksum", "applied_at", "duration_ms", "actor"}).
		AddRow("001", "init", declared[0].Checksum(), time.Now(), 1, "system").
		AddRow("003", "add_idx", declared[2].Checksum(), time.Now(), 1, "system")
	mock.ExpectQuery("SELECT version, name, checksum, applied_at, duration_ms, actor FROM schema_migrations").
		WillReturnRows(rows)

	result, err := m.Validate(context.Background())
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Contains(t, result.Issues, store.ValidationIssue{Type: "missing_migration", Version: "002"})
}

func TestMigrateToLatestStopsOnFirstFailure(t *testing.T) {
	s, mock := newMockStore(t)

	declared := []store.Migration{
		{Version: "001", Name: "init", UpSQL: "CREATE TABLE a (id int)"},
		{Version: "002", Name: "broken", UpSQL: "BOGUS SQL"},
		{Version: "003", Name: "never_reached", UpSQL: "CREATE TABLE b (id int)"},
	}
	m := store.NewMigrator(s, declared)

	mock.ExpectQuery("SELECT version, name, checksum, applied_at, duration_ms, actor FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "name", "checksum", "applied_at", "duration_ms", "actor"}))

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("BOGUS SQL").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, err := m.MigrateToLatest(context.Background(), "system")
	require.Error(t, err)
	require.Equal(t, 1, applied)
}
