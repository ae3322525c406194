package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirolinter/devops-orchestrator/internal/cicd"
	"github.com/kirolinter/devops-orchestrator/internal/domain"
	"github.com/kirolinter/devops-orchestrator/internal/platform/logging"
	"github.com/kirolinter/devops-orchestrator/internal/platform/metrics"
)

// Manager is the universal pipeline manager (component F): it fans operations out across every
// registered cicd.Connector and keeps the Registry in sync. Grounded on UniversalPipelineManager.
type Manager struct {
	Registry    *Registry
	Coordinator *Coordinator

	log     *logging.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	connectors map[domain.Platform]cicd.Connector
	active     map[domain.Platform]bool
}

// NewManager builds a Manager over registry; log/metrics may be nil.
func NewManager(registry *Registry, log *logging.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		Registry:    registry,
		Coordinator: NewCoordinator(registry, log, m),
		log:         log,
		metrics:     m,
		connectors:  make(map[domain.Platform]cicd.Connector),
		active:      make(map[domain.Platform]bool),
	}
}

// RegisterConnector wires a platform connector into the manager.
func (m *Manager) RegisterConnector(connector cicd.Connector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectors[connector.Platform()] = connector
	m.active[connector.Platform()] = false
}

// TestConnections probes every registered connector's liveness and updates its active state.
func (m *Manager) TestConnections(ctx context.Context) map[domain.Platform]bool {
	m.mu.RLock()
	connectors := make(map[domain.Platform]cicd.Connector, len(m.connectors))
	for p, c := range m.connectors {
		connectors[p] = c
	}
	m.mu.RUnlock()

	results := make(map[domain.Platform]bool, len(connectors))
	for platform, connector := range connectors {
		status := connector.GetConnectorStatus(ctx)
		results[platform] = status.Connected
		m.mu.Lock()
		m.active[platform] = status.Connected
		m.mu.Unlock()
		if m.log != nil {
			entry := m.log.WithContext(ctx)
			if status.Connected {
				entry.Info(fmt.Sprintf("%s connection: OK", platform))
			} else {
				entry.Warn(fmt.Sprintf("%s connection: FAILED", platform))
			}
		}
	}
	return results
}

func (m *Manager) activePlatforms() []domain.Platform {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Platform, 0, len(m.active))
	for p, active := range m.active {
		if active {
			out = append(out, p)
		}
	}
	return out
}

// DiscoverAllWorkflows discovers and registers workflows from every active connector.
func (m *Manager) DiscoverAllWorkflows(ctx context.Context, repository string) (map[domain.Platform][]domain.UniversalWorkflow, error) {
	results := make(map[domain.Platform][]domain.UniversalWorkflow)
	for _, platform := range m.activePlatforms() {
		m.mu.RLock()
		connector := m.connectors[platform]
		m.mu.RUnlock()

		workflows, err := connector.DiscoverWorkflows(ctx, repository)
		if err != nil {
			if m.log != nil {
				m.log.WithContext(ctx).WithError(err).Warn(fmt.Sprintf("discover workflows failed on %s", platform))
			}
			results[platform] = nil
			continue
		}
		results[platform] = workflows

		for _, wf := range workflows {
			entry := domain.PipelineEntry{
				PipelineID: domain.PipelineID(platform, repository, wf.ID),
				Platform:   platform,
				Repository: repository,
				WorkflowID: wf.ID,
				Name:       wf.Name,
				LastStatus: wf.Status,
				Metadata:   wf.Metadata,
			}
			if err := m.Registry.Register(ctx, entry); err != nil && m.log != nil {
				m.log.WithContext(ctx).WithError(err).Warn("register pipeline failed")
			}
		}
	}
	return results, nil
}

// TriggerCrossPlatform triggers every pipeline registered for repository across platforms
// (defaulting to every active connector), coordinating the fan-out as one CrossPlatformOperation.
func (m *Manager) TriggerCrossPlatform(ctx context.Context, repository string, platforms []domain.Platform, branch string, inputs map[string]string) *domain.CrossPlatformOperation {
	if platforms == nil {
		platforms = m.activePlatforms()
	}
	op := m.Coordinator.Coordinate(ctx, "trigger_workflows", platforms, repository, time.Now().UTC())
	if op.Status == domain.OpFailed {
		return op
	}

	for _, platform := range platforms {
		m.mu.RLock()
		connector, ok := m.connectors[platform]
		m.mu.RUnlock()
		if !ok {
			continue
		}

		repoPipelines := filterByPlatformAndRepo(m.Registry.ByRepository(repository), platform)
		var platformResults []map[string]interface{}
		for _, pe := range repoPipelines {
			result, err := connector.TriggerWorkflow(ctx, repository, pe.WorkflowID, branch, inputs)
			if m.metrics != nil {
				status := "success"
				if err != nil || !result.Success {
					status = "failure"
				}
				m.metrics.ConnectorTriggerTotal.WithLabelValues(string(platform), status).Inc()
			}
			platformResults = append(platformResults, map[string]interface{}{
				"workflow_id": pe.WorkflowID,
				"result":      result.Success,
				"run_id":      result.RunID,
				"error":       result.Error,
			})
		}
		op.Results[platform] = platformResults
	}
	return op
}

// CancelCrossPlatform cancels every running pipeline registered for repository across platforms.
func (m *Manager) CancelCrossPlatform(ctx context.Context, repository string, platforms []domain.Platform) *domain.CrossPlatformOperation {
	if platforms == nil {
		platforms = m.activePlatforms()
	}
	op := m.Coordinator.Coordinate(ctx, "cancel_workflows", platforms, repository, time.Now().UTC())
	if op.Status == domain.OpFailed {
		return op
	}

	for _, platform := range platforms {
		m.mu.RLock()
		connector, ok := m.connectors[platform]
		m.mu.RUnlock()
		if !ok {
			continue
		}

		running := make([]domain.PipelineEntry, 0)
		for _, pe := range filterByPlatformAndRepo(m.Registry.ByRepository(repository), platform) {
			if pe.LastStatus == domain.StatusRunning {
				running = append(running, pe)
			}
		}

		var platformResults []map[string]interface{}
		for _, pe := range running {
			cancelled, err := connector.CancelWorkflow(ctx, repository, pe.WorkflowID)
			if err != nil {
				op.Errors[platform] = err.Error()
				continue
			}
			platformResults = append(platformResults, map[string]interface{}{
				"workflow_id": pe.WorkflowID,
				"cancelled":   cancelled,
			})
		}
		op.Results[platform] = platformResults
	}
	return op
}

func filterByPlatformAndRepo(entries []domain.PipelineEntry, platform domain.Platform) []domain.PipelineEntry {
	out := make([]domain.PipelineEntry, 0, len(entries))
	for _, e := range entries {
		if e.Platform == platform {
			out = append(out, e)
		}
	}
	return out
}

// UnifiedStatus summarizes pipeline status across every active platform for a repository,
// grounded on get_unified_status.
type UnifiedStatus struct {
	Repository string
	Platforms  map[domain.Platform]PlatformStatus
	Summary    StatusSummary
}

// PlatformStatus is the per-platform breakdown within UnifiedStatus.
type PlatformStatus struct {
	Connected bool
	Pipelines int
	Running   int
	Failed    int
	Success   int
}

// StatusSummary aggregates UnifiedStatus across platforms.
type StatusSummary struct {
	TotalPipelines   int
	RunningPipelines int
	FailedPipelines  int
	SuccessRate      float64 // percentage, 0-100
}

// GetUnifiedStatus aggregates pipeline status for repository across every active platform.
func (m *Manager) GetUnifiedStatus(repository string) UnifiedStatus {
	status := UnifiedStatus{Repository: repository, Platforms: make(map[domain.Platform]PlatformStatus)}
	var total, running, failed, success int

	for _, platform := range m.activePlatforms() {
		entries := filterByPlatformAndRepo(m.Registry.ByRepository(repository), platform)
		ps := PlatformStatus{Connected: true, Pipelines: len(entries)}
		for _, e := range entries {
			total++
			switch e.LastStatus {
			case domain.StatusRunning:
				running++
				ps.Running++
			case domain.StatusFailed:
				failed++
				ps.Failed++
			case domain.StatusSuccess:
				success++
				ps.Success++
			}
		}
		status.Platforms[platform] = ps
	}

	status.Summary.TotalPipelines = total
	status.Summary.RunningPipelines = running
	status.Summary.FailedPipelines = failed
	if total > 0 {
		status.Summary.SuccessRate = float64(success) / float64(total) * 100
	}
	return status
}

// CrossPlatformAnalytics summarizes rolling pipeline statistics across platforms, grounded on
// get_cross_platform_analytics.
type CrossPlatformAnalytics struct {
	Platforms map[domain.Platform]PlatformAnalytics
	Summary   AnalyticsSummary
}

// PlatformAnalytics is the per-platform breakdown within CrossPlatformAnalytics.
type PlatformAnalytics struct {
	Executions      int
	SuccessRate     float64
	AverageDuration float64
}

// AnalyticsSummary aggregates CrossPlatformAnalytics across platforms.
type AnalyticsSummary struct {
	TotalExecutions     int
	AverageSuccessRate  float64
	AverageDuration     float64
	MostActivePlatform  domain.Platform
}

// GetCrossPlatformAnalytics aggregates rolling EMA statistics from the registry, optionally
// scoped to one repository.
func (m *Manager) GetCrossPlatformAnalytics(repository string) CrossPlatformAnalytics {
	analytics := CrossPlatformAnalytics{Platforms: make(map[domain.Platform]PlatformAnalytics)}
	var totalExecutions int
	var totalSuccessRate, totalDuration float64
	var mostActive domain.Platform
	var mostActiveCount int

	for _, platform := range m.activePlatforms() {
		var entries []domain.PipelineEntry
		if repository != "" {
			entries = filterByPlatformAndRepo(m.Registry.ByRepository(repository), platform)
		} else {
			entries = m.Registry.ByPlatform(platform)
		}

		n := len(entries)
		var sumSuccess, sumDuration float64
		for _, e := range entries {
			sumSuccess += e.SuccessRate
			sumDuration += e.AvgDuration
		}
		denom := n
		if denom == 0 {
			denom = 1
		}
		pa := PlatformAnalytics{
			Executions:      n,
			SuccessRate:     sumSuccess / float64(denom),
			AverageDuration: sumDuration / float64(denom),
		}
		analytics.Platforms[platform] = pa

		totalExecutions += n
		totalSuccessRate += pa.SuccessRate
		totalDuration += pa.AverageDuration
		if n > mostActiveCount {
			mostActiveCount = n
			mostActive = platform
		}
	}

	activePlatforms := len(analytics.Platforms)
	if activePlatforms > 0 {
		analytics.Summary.TotalExecutions = totalExecutions
		analytics.Summary.AverageSuccessRate = totalSuccessRate / float64(activePlatforms)
		analytics.Summary.AverageDuration = totalDuration / float64(activePlatforms)
		analytics.Summary.MostActivePlatform = mostActive
	}
	return analytics
}

// OptimizationRecommendation is one actionable suggestion from OptimizePipelineExecution.
type OptimizationRecommendation struct {
	Type        string
	Priority    string
	Description string
	Action      string
}

// OptimizationReport is the result of OptimizePipelineExecution, grounded on
// optimize_pipeline_execution.
type OptimizationReport struct {
	Repository      string
	Recommendations []OptimizationRecommendation
}

// OptimizePipelineExecution analyzes unified status and cross-platform analytics for repository
// and produces actionable recommendations.
func (m *Manager) OptimizePipelineExecution(repository string) OptimizationReport {
	report := OptimizationReport{Repository: repository}
	status := m.GetUnifiedStatus(repository)
	analytics := m.GetCrossPlatformAnalytics(repository)

	successRate := status.Summary.SuccessRate
	avgDuration := analytics.Summary.AverageDuration

	if status.Summary.TotalPipelines > 0 && successRate < 90 {
		report.Recommendations = append(report.Recommendations, OptimizationRecommendation{
			Type:        "success_rate",
			Priority:    "high",
			Description: fmt.Sprintf("success rate is %.1f%%, consider reviewing failing pipelines", successRate),
			Action:      "review and fix failing workflows",
		})
	}

	if avgDuration > 600 {
		report.Recommendations = append(report.Recommendations, OptimizationRecommendation{
			Type:        "duration",
			Priority:    "medium",
			Description: fmt.Sprintf("average duration is %.1f minutes, consider parallelization", avgDuration/60),
			Action:      "optimize workflow parallelization and caching",
		})
	}

	var maxPipelines, minPipelines int
	first := true
	for _, pa := range analytics.Platforms {
		if first {
			maxPipelines, minPipelines = pa.Executions, pa.Executions
			first = false
			continue
		}
		if pa.Executions > maxPipelines {
			maxPipelines = pa.Executions
		}
		if pa.Executions < minPipelines {
			minPipelines = pa.Executions
		}
	}
	if maxPipelines-minPipelines > 3 {
		report.Recommendations = append(report.Recommendations, OptimizationRecommendation{
			Type:        "load_balancing",
			Priority:    "low",
			Description: "uneven distribution of pipelines across platforms",
			Action:      "consider redistributing workflows for better load balancing",
		})
	}

	return report
}
