// Package ingest implements the event ingestion layer (component D): repository pollers and
// webhook receivers that normalize heterogeneous upstream events into domain.Event, with
// signature verification and idempotent storage.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kirolinter/devops-orchestrator/internal/domain"
	"github.com/kirolinter/devops-orchestrator/internal/kv"
	"github.com/kirolinter/devops-orchestrator/internal/platform/logging"
)

// Handler is the single asynchronous handler signature for every extension point (§9
// re-architecture: one signature replaces the original's sync/coroutine dual dispatch).
type Handler func(ctx context.Context, event domain.Event) error

const (
	eventTTL        = 30 * 24 * time.Hour
	eventStreamMax  = 1000
	webhookTTL      = 7 * 24 * time.Hour
	webhookStreamMax = 1000
)

// Emitter normalizes, deduplicates, and persists events, then fans them out to registered
// handlers keyed by event kind.
type Emitter struct {
	store kv.Store
	log   *logging.Logger

	mu       sync.RWMutex
	handlers map[domain.EventKind][]Handler
}

// NewEmitter builds an Emitter backed by store for idempotent persistence.
func NewEmitter(store kv.Store, log *logging.Logger) *Emitter {
	return &Emitter{store: store, log: log, handlers: make(map[domain.EventKind][]Handler)}
}

// On registers a handler invoked for every event of the given kind.
func (e *Emitter) On(kind domain.EventKind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = append(e.handlers[kind], h)
}

// Emit finalizes the event's id, invokes all registered handlers for its kind, then persists it
// idempotently: the per-event key and the per-repository stream. Repeated delivery of the same
// upstream event MUST result in at most one normalized event being persisted.
func (e *Emitter) Emit(ctx context.Context, event domain.Event) error {
	event.Finalize()

	key := fmt.Sprintf("git_events:%s", event.ID)
	exists, err := e.store.Exists(ctx, key)
	if err != nil {
		e.log.WithContext(ctx).WithError(err).Warn("event existence check failed, proceeding best-effort")
	}
	if exists {
		return nil // idempotency: already persisted, nothing more to do
	}

	e.mu.RLock()
	handlers := append([]Handler(nil), e.handlers[event.Kind]...)
	e.mu.RUnlock()
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			e.log.WithContext(ctx).WithError(err).WithField("kind", event.Kind).Error("event handler failed")
		}
	}

	if err := e.store.Set(ctx, key, event, eventTTL); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	streamKey := fmt.Sprintf("git_events:stream:%s", event.Repository)
	_, err = e.store.XAdd(ctx, streamKey, eventStreamMax, map[string]string{
		"event_id": event.ID,
		"kind":     string(event.Kind),
		"payload":  string(payload),
	})
	return err
}
