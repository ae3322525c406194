package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
)

// Migration is one ordered, checksummed schema change, mirroring
// kirolinter/database/migrations/migration_manager.py's Migration dataclass.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
	// UpCallback runs inside the same transaction as UpSQL, after it, for changes that cannot be
	// expressed as plain SQL (e.g. seeding derived data).
	UpCallback func(ctx context.Context, tx *sqlx.Tx) error
}

// Checksum is a stable hash over (version, name, up_sql, down_sql).
func (m Migration) Checksum() string {
	h := md5.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", m.Version, m.Name, m.UpSQL, m.DownSQL)
	return hex.EncodeToString(h.Sum(nil))
}

// AppliedMigration is one row of the schema_migrations ledger.
type AppliedMigration struct {
	Version   string    `db:"version"`
	Name      string    `db:"name"`
	Checksum  string    `db:"checksum"`
	AppliedAt time.Time `db:"applied_at"`
	DurationMS int64    `db:"duration_ms"`
	Actor     string    `db:"actor"`
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version     TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	checksum    TEXT NOT NULL,
	applied_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	actor       TEXT NOT NULL
)`

// Migrator tracks and applies a declared, ordered set of Migrations against the Store.
type Migrator struct {
	store      *Store
	migrations []Migration
}

// NewMigrator sorts declared migrations by version and returns a Migrator.
func NewMigrator(s *Store, migrations []Migration) *Migrator {
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &Migrator{store: s, migrations: sorted}
}

// EnsureTable creates the migrations ledger table if absent.
func (m *Migrator) EnsureTable(ctx context.Context) error {
	_, err := m.store.DB.ExecContext(ctx, createMigrationsTable)
	if err != nil {
		return apierr.Internal("create schema_migrations table", err)
	}
	return nil
}

// Applied returns every row of the migrations ledger, ordered by version.
func (m *Migrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	var rows []AppliedMigration
	err := m.store.DB.SelectContext(ctx, &rows, `SELECT version, name, checksum, applied_at, duration_ms, actor FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, apierr.Internal("list applied migrations", err)
	}
	return rows, nil
}

// Pending returns declared migrations whose version is not yet in the ledger.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	appliedSet := make(map[string]bool, len(applied))
	for _, a := range applied {
		appliedSet[a.Version] = true
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if !appliedSet[mig.Version] {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// ValidationIssue reports one inconsistency found by Validate.
type ValidationIssue struct {
	Type    string // "checksum_mismatch" | "missing_migration"
	Version string
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Valid  bool
	Issues []ValidationIssue
}

// Validate checks that every applied row's checksum matches the currently declared migration of
// the same version, and that no declared migration with version <= max(applied) is missing.
func (m *Migrator) Validate(ctx context.Context) (*ValidationResult, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	declared := make(map[string]Migration, len(m.migrations))
	for _, mig := range m.migrations {
		declared[mig.Version] = mig
	}

	result := &ValidationResult{Valid: true}
	maxApplied := ""
	appliedSet := make(map[string]bool, len(applied))
	for _, a := range applied {
		appliedSet[a.Version] = true
		if a.Version > maxApplied {
			maxApplied = a.Version
		}
		mig, ok := declared[a.Version]
		if !ok {
			continue
		}
		if mig.Checksum() != a.Checksum {
			result.Valid = false
			result.Issues = append(result.Issues, ValidationIssue{Type: "checksum_mismatch", Version: a.Version})
		}
	}
	for _, mig := range m.migrations {
		if mig.Version <= maxApplied && !appliedSet[mig.Version] {
			result.Valid = false
			result.Issues = append(result.Issues, ValidationIssue{Type: "missing_migration", Version: mig.Version})
		}
	}
	return result, nil
}

// Apply runs one migration's up-SQL (and optional callback) inside a transaction, then records
// it in the ledger. actor identifies the caller (service name, operator) for audit purposes.
func (m *Migrator) Apply(ctx context.Context, mig Migration, actor string) error {
	start := time.Now()
	err := m.store.Tx(ctx, func(tx *sqlx.Tx) error {
		if mig.UpSQL != "" {
			if _, err := tx.ExecContext(ctx, mig.UpSQL); err != nil {
				return apierr.Internal("apply migration up_sql", err)
			}
		}
		if mig.UpCallback != nil {
			if err := mig.UpCallback(ctx, tx); err != nil {
				return apierr.Internal("apply migration callback", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, checksum, applied_at, duration_ms, actor) VALUES ($1,$2,$3,$4,$5,$6)`,
			mig.Version, mig.Name, mig.Checksum(), time.Now().UTC(), time.Since(start).Milliseconds(), actor)
		if err != nil {
			return apierr.Internal("record migration", err)
		}
		return nil
	})
	return err
}

// Rollback runs one migration's down-SQL inside a transaction and removes its ledger row.
func (m *Migrator) Rollback(ctx context.Context, mig Migration) error {
	return m.store.Tx(ctx, func(tx *sqlx.Tx) error {
		if mig.DownSQL != "" {
			if _, err := tx.ExecContext(ctx, mig.DownSQL); err != nil {
				return apierr.Internal("rollback migration down_sql", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version); err != nil {
			return apierr.Internal("remove migration ledger row", err)
		}
		return nil
	})
}

// MigrateToLatest applies every pending migration in order, stopping at the first failure. It
// reports how many migrations it successfully applied before stopping.
func (m *Migrator) MigrateToLatest(ctx context.Context, actor string) (applied int, err error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return 0, err
	}
	for _, mig := range pending {
		if err := m.Apply(ctx, mig, actor); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// MigrateToVersion applies pending migrations up to and including targetVersion, in order,
// stopping at the first failure.
func (m *Migrator) MigrateToVersion(ctx context.Context, targetVersion, actor string) (applied int, err error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return 0, err
	}
	for _, mig := range pending {
		if mig.Version > targetVersion {
			break
		}
		if err := m.Apply(ctx, mig, actor); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}
