package analytics

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kirolinter/devops-orchestrator/internal/kv"
)

func TestAnalyzePerformanceComputesDistribution(t *testing.T) {
	samples := []ExecutionSample{
		{Duration: 10 * time.Second, Success: true},
		{Duration: 20 * time.Second, Success: true},
		{Duration: 30 * time.Second, Success: false},
		{Duration: 40 * time.Second, Success: true},
	}
	report := AnalyzePerformance("github_actions", "p1", 10, samples)
	require.Equal(t, 4, report.SampleCount)
	require.InDelta(t, 25, report.AvgDurationSec, 0.001)
	require.InDelta(t, 0.75, report.SuccessRate, 0.001)
	require.InDelta(t, 0.25, report.FailureRate, 0.001)
	require.InDelta(t, 0.4, report.ThroughputPerDay, 0.001)
}

func TestIdentifyBottlenecksRanksFlakyStageFirst(t *testing.T) {
	samples := make([]ExecutionSample, 30)
	for i := range samples {
		jitter := 50.0
		if i%2 == 0 {
			jitter = -50.0
		}
		samples[i] = ExecutionSample{
			Stages: []StageSample{
				{Name: "build", Duration: 30 * time.Second},
				{Name: "test", Duration: time.Duration(120+jitter) * time.Second},
				{Name: "deploy", Duration: 30 * time.Second},
			},
		}
	}
	bottlenecks := IdentifyBottlenecks(samples)
	require.NotEmpty(t, bottlenecks)
	require.Equal(t, "test", bottlenecks[0].StageName)
	require.Greater(t, bottlenecks[0].OptimizationPotential, 0.0)

	found := false
	for _, r := range bottlenecks[0].Recommendations {
		if r == "investigate flakiness" || r == "add retries" {
			found = true
		}
	}
	require.True(t, found)
}

func TestAnalyzeTrendReportsInsufficientData(t *testing.T) {
	samples := []ExecutionSample{{Duration: time.Second}}
	trend := AnalyzeTrend(samples)
	require.Equal(t, TrendInsufficientData, trend.Status)
}

func TestAnalyzeTrendDetectsDegradation(t *testing.T) {
	base := time.Now()
	samples := make([]ExecutionSample, 12)
	for i := range samples {
		samples[i] = ExecutionSample{
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Duration:  time.Duration(10+i*5) * time.Second,
		}
	}
	trend := AnalyzeTrend(samples)
	require.Equal(t, TrendDegrading, trend.Status)
	require.Greater(t, trend.Slope, 0.0)
}

func TestAnalyzeReliabilityInfiniteMTBFWithOneFailure(t *testing.T) {
	base := time.Now()
	samples := []ExecutionSample{
		{StartedAt: base, Success: true},
		{StartedAt: base.Add(time.Hour), Success: false},
		{StartedAt: base.Add(2 * time.Hour), Success: true},
	}
	report := AnalyzeReliability(samples)
	require.True(t, math.IsInf(report.MTBFSeconds, 1))
	require.Equal(t, 1, report.MaxConsecutiveFailures)
}

func TestReliabilityReportJSONRoundTripsInfiniteMTBF(t *testing.T) {
	report := ReliabilityReport{MTTRSeconds: 12, MTBFSeconds: math.Inf(1), MaxConsecutiveFailures: 1}
	store := kv.NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "r", report, time.Minute))

	var decoded ReliabilityReport
	ok, err := store.GetJSON(ctx, "r", &decoded)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, math.IsInf(decoded.MTBFSeconds, 1))
	require.Equal(t, report.MTTRSeconds, decoded.MTTRSeconds)
}

func TestAnalyzerCachesPerformanceReport(t *testing.T) {
	store := kv.NewMemStore()
	analyzer := NewAnalyzer(store)
	ctx := context.Background()

	samples := []ExecutionSample{{Duration: 10 * time.Second, Success: true}}
	first := analyzer.PerformanceReport(ctx, "gh", "p1", 1, samples)
	require.Equal(t, 1, first.SampleCount)

	second := analyzer.PerformanceReport(ctx, "gh", "p1", 1, nil)
	require.Equal(t, first, second)
}

func TestPredictorUntrainedFallsBackToHistoricalMean(t *testing.T) {
	p := NewPredictor()
	pred := p.PredictDuration(FeatureVector{})
	require.Equal(t, 0.5, pred.Confidence)

	failure := p.PredictFailure(FeatureVector{})
	require.Equal(t, 0.0, failure.Probability)
	require.False(t, failure.Decision)
}

func TestPredictorRejectsTrainingBelowMinimumSamples(t *testing.T) {
	p := NewPredictor()
	err := p.Train(make([]TrainingSample, 3))
	require.Error(t, err)
}

func TestPredictorTrainsAndDiscriminatesFailures(t *testing.T) {
	p := NewPredictor()
	samples := make([]TrainingSample, 40)
	for i := range samples {
		failed := i%2 == 0
		var fv FeatureVector
		if failed {
			fv[0] = 50
		} else {
			fv[0] = 1
		}
		samples[i] = TrainingSample{Features: fv, Failed: failed, DurationSec: 100}
	}
	require.NoError(t, p.Train(samples))

	highRisk := p.PredictFailure(FeatureVector{50})
	lowRisk := p.PredictFailure(FeatureVector{1})
	require.Greater(t, highRisk.Probability, lowRisk.Probability)
}

func TestOptimizerAppliesOnlyLowEffortAboveThreshold(t *testing.T) {
	o := NewOptimizer()
	recs := []Recommendation{
		{Platform: "gh", PipelineID: "p1", Type: "cache_deps", Effort: EffortLow, ExpectedImprovement: 0.2},
		{Platform: "gh", PipelineID: "p1", Type: "rewrite", Effort: EffortHigh, ExpectedImprovement: 0.9},
		{Platform: "gh", PipelineID: "p1", Type: "tiny_tweak", Effort: EffortLow, ExpectedImprovement: 0.05},
	}
	applied := o.Apply(recs)
	require.Len(t, applied, 1)
	require.Equal(t, "cache_deps", applied[0].Type)

	require.True(t, o.RecordOutcome("gh", "p1", "cache_deps", 0.18))
	history := o.History("gh", "p1", "cache_deps")
	require.Len(t, history, 1)
	require.True(t, history[0].Recorded)
	require.InDelta(t, 0.18, history[0].ActualImprovement, 0.001)
}
