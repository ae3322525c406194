// Package store implements the relational store abstraction (component B): connection pool,
// transactions, schema migrations, and retention policies.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
)

// Store wraps a pooled *sqlx.DB with the application's pool and timeout policy.
type Store struct {
	DB             *sqlx.DB
	CommandTimeout time.Duration
}

// Open dials dsn, applies pool sizing, and verifies connectivity with a ping.
func Open(ctx context.Context, dsn string, minConns, maxConns int, commandTimeout time.Duration) (*Store, error) {
	if dsn == "" {
		return nil, apierr.Validation("database DSN must not be empty")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, apierr.Internal("open database", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, apierr.UpstreamUnavailable(fmt.Sprintf("database ping failed: %v", err))
	}
	return &Store{DB: db, CommandTimeout: commandTimeout}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// Tx runs fn inside a transaction, guaranteeing rollback on error or panic and commit otherwise.
// This is the single mutual-exclusion primitive §4.B requires: atomic multi-statement execution
// with guaranteed release on every exit path.
func (s *Store) Tx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return apierr.TransientIO("begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// CtxTimeout derives a context bounded by the store's command timeout.
func (s *Store) CtxTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.CommandTimeout)
}
