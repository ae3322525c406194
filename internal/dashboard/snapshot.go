// Package dashboard implements the observability/dashboard surface (component K): an aggregated
// metrics snapshot, derived alerts, and a streaming push channel. Grounded on
// internal/platform/metrics for the figures already collected and on
// github.com/shirou/gopsutil/v3 for host resource figures, per §4.K's Go binding.
package dashboard

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/kirolinter/devops-orchestrator/internal/kv"
)

// SystemFigures is the host resource portion of a Snapshot.
type SystemFigures struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	DiskPercent float64 `json:"disk_percent"`
}

// GitFigures summarizes recent ingestion activity.
type GitFigures struct {
	EventsLastHour   int64     `json:"events_last_hour"`
	WebhooksLastHour int64     `json:"webhooks_last_hour"`
	LastEventAt      time.Time `json:"last_event_at"`
	MonitoringActive bool      `json:"monitoring_active"`
}

// WorkflowFigures summarizes recent workflow activity.
type WorkflowFigures struct {
	ActiveExecutions int     `json:"active_executions"`
	SuccessRate      float64 `json:"success_rate"`
}

// Snapshot is the aggregated document the dashboard surface serves and streams.
type Snapshot struct {
	TakenAt        time.Time       `json:"taken_at"`
	System         SystemFigures   `json:"system"`
	Git            GitFigures      `json:"git"`
	Webhooks       int64           `json:"webhooks_total"`
	Workflow       WorkflowFigures `json:"workflow"`
	CacheConnected bool            `json:"cache_connected"`
}

// Source supplies the figures a Snapshotter composes into one Snapshot. Implemented by
// cmd/orchestrator's composition root from its in-process counters (events and webhooks seen,
// commit-triggered workflow runs, whether any repository is registered for polling).
type Source interface {
	GitFigures(ctx context.Context) GitFigures
	WebhooksTotal(ctx context.Context) int64
	WorkflowFigures(ctx context.Context) WorkflowFigures
}

// Snapshotter composes a Snapshot from a Source plus live host/cache figures.
type Snapshotter struct {
	source Source
	cache  kv.Store
}

// NewSnapshotter builds a Snapshotter.
func NewSnapshotter(source Source, cache kv.Store) *Snapshotter {
	return &Snapshotter{source: source, cache: cache}
}

// Take composes one Snapshot, reading live CPU/mem/disk via gopsutil and cache-store health via
// component A. Any single figure's failure degrades to a zero value rather than failing the
// whole snapshot (§4.A's soft-failure rule).
func (s *Snapshotter) Take(ctx context.Context) Snapshot {
	snap := Snapshot{TakenAt: time.Now().UTC()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.System.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.System.MemPercent = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		snap.System.DiskPercent = du.UsedPercent
	}

	if s.cache != nil {
		snap.CacheConnected = s.cache.Health(ctx).Connected
	}

	if s.source != nil {
		snap.Git = s.source.GitFigures(ctx)
		snap.Webhooks = s.source.WebhooksTotal(ctx)
		snap.Workflow = s.source.WorkflowFigures(ctx)
	}

	return snap
}
