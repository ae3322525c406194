package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/kirolinter/devops-orchestrator/internal/kv"
)

const cacheTTL = 300 * time.Second

// StageSample is one executed stage's duration, as fed into bottleneck/resource analysis.
type StageSample struct {
	Name     string
	Duration time.Duration
}

// ExecutionSample is one completed workflow execution's data, as fed into every analysis
// function in this package.
type ExecutionSample struct {
	PipelineID string
	Platform   string
	Success    bool
	Duration   time.Duration
	StartedAt  time.Time
	Stages     []StageSample
	CPUSeconds float64
	MemoryMB   float64
}

// PerformanceReport is the result of AnalyzePerformance.
type PerformanceReport struct {
	PipelineID       string  `json:"pipeline_id"`
	Platform         string  `json:"platform"`
	SampleCount      int     `json:"sample_count"`
	AvgDurationSec   float64 `json:"avg_duration_seconds"`
	MedianDurationSec float64 `json:"median_duration_seconds"`
	StdevDurationSec float64 `json:"stdev_duration_seconds"`
	MinDurationSec   float64 `json:"min_duration_seconds"`
	MaxDurationSec   float64 `json:"max_duration_seconds"`
	P95DurationSec   float64 `json:"p95_duration_seconds"`
	P99DurationSec   float64 `json:"p99_duration_seconds"`
	SuccessRate      float64 `json:"success_rate"`
	FailureRate      float64 `json:"failure_rate"`
	ThroughputPerDay float64 `json:"throughput_per_day"`
}

// AnalyzePerformance computes the historical-window performance figures over samples already
// scoped to (platform, pipelineID) and a days window.
func AnalyzePerformance(platform, pipelineID string, days int, samples []ExecutionSample) PerformanceReport {
	report := PerformanceReport{PipelineID: pipelineID, Platform: platform, SampleCount: len(samples)}
	if len(samples) == 0 {
		return report
	}

	durations := make([]float64, len(samples))
	successes := 0
	for i, s := range samples {
		durations[i] = s.Duration.Seconds()
		if s.Success {
			successes++
		}
	}

	report.AvgDurationSec = mean(durations)
	report.MedianDurationSec = median(durations)
	report.StdevDurationSec = stdev(durations)
	report.MinDurationSec = minOf(durations)
	report.MaxDurationSec = maxOf(durations)
	report.P95DurationSec = percentile(durations, 95)
	report.P99DurationSec = percentile(durations, 99)
	report.SuccessRate = float64(successes) / float64(len(samples))
	report.FailureRate = 1 - report.SuccessRate
	if days > 0 {
		report.ThroughputPerDay = float64(len(samples)) / float64(days)
	}
	return report
}

// Bottleneck is one stage ranked by how much it drags on overall pipeline duration.
type Bottleneck struct {
	StageName             string   `json:"stage_name"`
	AvgDurationSec        float64  `json:"avg_duration_seconds"`
	ImpactScore           float64  `json:"impact_score"`
	OptimizationPotential float64  `json:"optimization_potential"`
	Recommendations       []string `json:"recommendations"`
}

// IdentifyBottlenecks groups stage durations by name and ranks them by impact_score descending.
func IdentifyBottlenecks(samples []ExecutionSample) []Bottleneck {
	byStage := make(map[string][]float64)
	for _, s := range samples {
		for _, stage := range s.Stages {
			byStage[stage.Name] = append(byStage[stage.Name], stage.Duration.Seconds())
		}
	}

	bottlenecks := make([]Bottleneck, 0, len(byStage))
	for name, durations := range byStage {
		avg := mean(durations)
		v := variance(durations)
		impact := avg
		if avg > 0 {
			impact = avg * (1 + v/avg)
		}
		potential := 0.0
		if avg > 0 {
			potential = math.Min(0.5, v/avg)
		}

		var recs []string
		if avg > 120 {
			recs = append(recs, "cache dependencies", "optimize resources")
		}
		if avg > 0 && v/avg > 0.3 {
			recs = append(recs, "investigate flakiness", "add retries")
		}

		bottlenecks = append(bottlenecks, Bottleneck{
			StageName:             name,
			AvgDurationSec:        avg,
			ImpactScore:           impact,
			OptimizationPotential: potential,
			Recommendations:       recs,
		})
	}

	sortBottlenecksByImpact(bottlenecks)
	return bottlenecks
}

func sortBottlenecksByImpact(bs []Bottleneck) {
	for i := 1; i < len(bs); i++ {
		for j := i; j > 0 && bs[j].ImpactScore > bs[j-1].ImpactScore; j-- {
			bs[j], bs[j-1] = bs[j-1], bs[j]
		}
	}
}

// TrendStatus classifies a duration trend's direction.
type TrendStatus string

const (
	TrendInsufficientData TrendStatus = "insufficient_data"
	TrendStable           TrendStatus = "stable"
	TrendDegrading        TrendStatus = "degrading"
	TrendImproving        TrendStatus = "improving"
)

// TrendReport is the result of AnalyzeTrend.
type TrendReport struct {
	Status   TrendStatus `json:"status"`
	Slope    float64     `json:"slope"`
	RSquared float64     `json:"r_squared"`
}

// AnalyzeTrend fits duration against execution order (a proxy for time) and classifies the slope.
func AnalyzeTrend(samples []ExecutionSample) TrendReport {
	if len(samples) < 10 {
		return TrendReport{Status: TrendInsufficientData}
	}
	ordered := append([]ExecutionSample(nil), samples...)
	sortByStartedAt(ordered)

	xs := make([]float64, len(ordered))
	ys := make([]float64, len(ordered))
	for i, s := range ordered {
		xs[i] = float64(i)
		ys[i] = s.Duration.Seconds()
	}
	slope, _, rSquared := linearRegression(xs, ys)

	status := TrendStable
	switch {
	case math.Abs(slope) < 1:
		status = TrendStable
	case slope > 0:
		status = TrendDegrading
	default:
		status = TrendImproving
	}
	return TrendReport{Status: status, Slope: slope, RSquared: rSquared}
}

func sortByStartedAt(samples []ExecutionSample) {
	for i := 1; i < len(samples); i++ {
		for j := i; j > 0 && samples[j].StartedAt.Before(samples[j-1].StartedAt); j-- {
			samples[j], samples[j-1] = samples[j-1], samples[j]
		}
	}
}

// ReliabilityReport is the result of AnalyzeReliability. MTBFSeconds is +Inf when at most one
// failure was observed; encoding/json cannot represent that literally, so MarshalJSON/
// UnmarshalJSON map it to/from a null mtbf_seconds field.
type ReliabilityReport struct {
	MTTRSeconds            float64 `json:"mttr_seconds"`
	MTBFSeconds            float64 `json:"mtbf_seconds"`
	MaxConsecutiveFailures int     `json:"max_consecutive_failures"`
}

type reliabilityReportWire struct {
	MTTRSeconds            float64  `json:"mttr_seconds"`
	MTBFSeconds            *float64 `json:"mtbf_seconds"`
	MaxConsecutiveFailures int      `json:"max_consecutive_failures"`
}

func (r ReliabilityReport) MarshalJSON() ([]byte, error) {
	wire := reliabilityReportWire{MTTRSeconds: r.MTTRSeconds, MaxConsecutiveFailures: r.MaxConsecutiveFailures}
	if !math.IsInf(r.MTBFSeconds, 1) {
		mtbf := r.MTBFSeconds
		wire.MTBFSeconds = &mtbf
	}
	return json.Marshal(wire)
}

func (r *ReliabilityReport) UnmarshalJSON(data []byte) error {
	var wire reliabilityReportWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.MTTRSeconds = wire.MTTRSeconds
	r.MaxConsecutiveFailures = wire.MaxConsecutiveFailures
	if wire.MTBFSeconds == nil {
		r.MTBFSeconds = math.Inf(1)
	} else {
		r.MTBFSeconds = *wire.MTBFSeconds
	}
	return nil
}

// AnalyzeReliability computes mean-time-to-recovery, mean-time-between-failures, and the longest
// failure streak, ordered by start time.
func AnalyzeReliability(samples []ExecutionSample) ReliabilityReport {
	if len(samples) == 0 {
		return ReliabilityReport{MTBFSeconds: math.Inf(1)}
	}
	ordered := append([]ExecutionSample(nil), samples...)
	sortByStartedAt(ordered)

	var failureGaps []float64
	var lastFailureAt *time.Time
	var recoveryTimes []float64
	var failureStart *time.Time

	current, maxStreak := 0, 0
	failureCount := 0

	for _, s := range ordered {
		if !s.Success {
			failureCount++
			current++
			if current > maxStreak {
				maxStreak = current
			}
			if failureStart == nil {
				t := s.StartedAt
				failureStart = &t
			}
			if lastFailureAt != nil {
				failureGaps = append(failureGaps, s.StartedAt.Sub(*lastFailureAt).Seconds())
			}
			t := s.StartedAt
			lastFailureAt = &t
		} else {
			current = 0
			if failureStart != nil {
				recoveryTimes = append(recoveryTimes, s.StartedAt.Sub(*failureStart).Seconds())
				failureStart = nil
			}
		}
	}

	mttr := mean(recoveryTimes)
	mtbf := math.Inf(1)
	if failureCount > 1 {
		mtbf = mean(failureGaps)
	}
	return ReliabilityReport{MTTRSeconds: mttr, MTBFSeconds: mtbf, MaxConsecutiveFailures: maxStreak}
}

// ResourceReport is the result of AnalyzeResourceUsage.
type ResourceReport struct {
	CPUEfficiency       float64 `json:"cpu_efficiency"`
	AvgMemoryMB         float64 `json:"avg_memory_mb"`
	PeakMemoryMB        float64 `json:"peak_memory_mb"`
	ResourceConsistency float64 `json:"resource_consistency"`
}

// AnalyzeResourceUsage computes CPU efficiency (cpu-seconds consumed per wall-clock second) and
// memory figures across samples that carry resource data.
func AnalyzeResourceUsage(samples []ExecutionSample) ResourceReport {
	var efficiencies, memories []float64
	for _, s := range samples {
		if s.Duration <= 0 {
			continue
		}
		efficiencies = append(efficiencies, s.CPUSeconds/s.Duration.Seconds())
		memories = append(memories, s.MemoryMB)
	}
	if len(efficiencies) == 0 {
		return ResourceReport{}
	}
	return ResourceReport{
		CPUEfficiency:       mean(efficiencies),
		AvgMemoryMB:         mean(memories),
		PeakMemoryMB:        maxOf(memories),
		ResourceConsistency: 1 - stdev(efficiencies),
	}
}

// Analyzer caches every report function's output under component A with a 300s TTL, grounded on
// original_source/kirolinter/analytics/pipeline_analyzer.py's in-memory TTL cache.
type Analyzer struct {
	cache kv.Store
}

// NewAnalyzer builds an Analyzer over cache. cache may be nil to disable caching (tests).
func NewAnalyzer(cache kv.Store) *Analyzer {
	return &Analyzer{cache: cache}
}

func (a *Analyzer) cached(ctx context.Context, key string, compute func() interface{}, dest interface{}) {
	if a.cache != nil {
		if ok, _ := a.cache.GetJSON(ctx, key, dest); ok {
			return
		}
	}
	result := compute()
	if a.cache != nil {
		_ = a.cache.Set(ctx, key, result, cacheTTL)
	}
	// compute() and dest share the same concrete type at every call site below; a type assertion
	// failure here would be a programmer error, not a runtime condition to guard defensively.
	switch v := result.(type) {
	case PerformanceReport:
		*dest.(*PerformanceReport) = v
	case []Bottleneck:
		*dest.(*[]Bottleneck) = v
	case TrendReport:
		*dest.(*TrendReport) = v
	case ReliabilityReport:
		*dest.(*ReliabilityReport) = v
	case ResourceReport:
		*dest.(*ResourceReport) = v
	}
}

// PerformanceReport returns AnalyzePerformance's result, cached by (platform, pipelineID, days).
func (a *Analyzer) PerformanceReport(ctx context.Context, platform, pipelineID string, days int, samples []ExecutionSample) PerformanceReport {
	key := fmt.Sprintf("analytics:performance:%s:%s:%d", platform, pipelineID, days)
	var report PerformanceReport
	a.cached(ctx, key, func() interface{} { return AnalyzePerformance(platform, pipelineID, days, samples) }, &report)
	return report
}

// Bottlenecks returns IdentifyBottlenecks's result, cached by pipelineID.
func (a *Analyzer) Bottlenecks(ctx context.Context, pipelineID string, samples []ExecutionSample) []Bottleneck {
	key := fmt.Sprintf("analytics:bottlenecks:%s", pipelineID)
	var result []Bottleneck
	a.cached(ctx, key, func() interface{} { return IdentifyBottlenecks(samples) }, &result)
	return result
}

// Trend returns AnalyzeTrend's result, cached by pipelineID.
func (a *Analyzer) Trend(ctx context.Context, pipelineID string, samples []ExecutionSample) TrendReport {
	key := fmt.Sprintf("analytics:trend:%s", pipelineID)
	var result TrendReport
	a.cached(ctx, key, func() interface{} { return AnalyzeTrend(samples) }, &result)
	return result
}

// Reliability returns AnalyzeReliability's result, cached by pipelineID.
func (a *Analyzer) Reliability(ctx context.Context, pipelineID string, samples []ExecutionSample) ReliabilityReport {
	key := fmt.Sprintf("analytics:reliability:%s", pipelineID)
	var result ReliabilityReport
	a.cached(ctx, key, func() interface{} { return AnalyzeReliability(samples) }, &result)
	return result
}

// ResourceUsage returns AnalyzeResourceUsage's result, cached by pipelineID.
func (a *Analyzer) ResourceUsage(ctx context.Context, pipelineID string, samples []ExecutionSample) ResourceReport {
	key := fmt.Sprintf("analytics:resources:%s", pipelineID)
	var result ResourceReport
	a.cached(ctx, key, func() interface{} { return AnalyzeResourceUsage(samples) }, &result)
	return result
}
