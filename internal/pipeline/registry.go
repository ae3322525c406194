// Package pipeline implements the universal pipeline manager (component F): a platform-agnostic
// registry, cross-platform coordinator, and optimization advisor layered over the cicd.Connector
// contract. Grounded on
// kirolinter/devops/orchestration/universal_pipeline_manager.py.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kirolinter/devops-orchestrator/internal/domain"
	"github.com/kirolinter/devops-orchestrator/internal/kv"
)

// Registry tracks every discovered pipeline across platforms, mirroring entries into the KV
// store under pipeline:<id> and the pipeline_registry set.
type Registry struct {
	store kv.Store

	mu                sync.RWMutex
	pipelines         map[string]*domain.PipelineEntry
	platformMappings  map[domain.Platform][]string
}

// NewRegistry builds a Registry. store may be nil to run purely in-process (used in tests).
func NewRegistry(store kv.Store) *Registry {
	return &Registry{
		store:            store,
		pipelines:        make(map[string]*domain.PipelineEntry),
		platformMappings: make(map[domain.Platform][]string),
	}
}

// Register upserts a pipeline entry.
func (r *Registry) Register(ctx context.Context, entry domain.PipelineEntry) error {
	r.mu.Lock()
	r.pipelines[entry.PipelineID] = &entry
	ids := r.platformMappings[entry.Platform]
	found := false
	for _, id := range ids {
		if id == entry.PipelineID {
			found = true
			break
		}
	}
	if !found {
		r.platformMappings[entry.Platform] = append(ids, entry.PipelineID)
	}
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	fields := map[string]string{
		"pipeline_id":  entry.PipelineID,
		"platform":     string(entry.Platform),
		"repository":   entry.Repository,
		"workflow_id":  entry.WorkflowID,
		"name":         entry.Name,
		"status":       string(entry.LastStatus),
		"success_rate": fmt.Sprintf("%f", entry.SuccessRate),
		"avg_duration": fmt.Sprintf("%f", entry.AvgDuration),
		"metadata":     string(metadata),
	}
	if entry.LastRun != nil {
		fields["last_run"] = entry.LastRun.Format("2006-01-02T15:04:05Z07:00")
	}
	if err := r.store.HSet(ctx, fmt.Sprintf("pipeline:%s", entry.PipelineID), fields); err != nil {
		return err
	}
	return r.store.SAdd(ctx, "pipeline_registry", entry.PipelineID)
}

// Get returns a pipeline by id.
func (r *Registry) Get(pipelineID string) (domain.PipelineEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.pipelines[pipelineID]
	if !ok {
		return domain.PipelineEntry{}, false
	}
	return *e, true
}

// ByPlatform returns every pipeline registered for a platform.
func (r *Registry) ByPlatform(platform domain.Platform) []domain.PipelineEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.platformMappings[platform]
	out := make([]domain.PipelineEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.pipelines[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// ByRepository returns every pipeline registered for a repository, across platforms.
func (r *Registry) ByRepository(repository string) []domain.PipelineEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PipelineEntry, 0)
	for _, e := range r.pipelines {
		if e.Repository == repository {
			out = append(out, *e)
		}
	}
	return out
}

// UpdateStats folds a run outcome into a registered pipeline's rolling statistics (EMA, §9) and
// mirrors the new values to the KV store.
func (r *Registry) UpdateStats(ctx context.Context, pipelineID string, success bool, durationSeconds float64, at time.Time) error {
	r.mu.Lock()
	entry, ok := r.pipelines[pipelineID]
	if ok {
		entry.UpdateStats(success, durationSeconds, at)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("pipeline %s not registered", pipelineID)
	}

	if r.store == nil {
		return nil
	}
	return r.store.HSet(ctx, fmt.Sprintf("pipeline:%s", pipelineID), map[string]string{
		"success_rate": fmt.Sprintf("%f", entry.SuccessRate),
		"avg_duration": fmt.Sprintf("%f", entry.AvgDuration),
		"last_run":     at.Format("2006-01-02T15:04:05Z07:00"),
		"status":       string(entry.LastStatus),
	})
}
