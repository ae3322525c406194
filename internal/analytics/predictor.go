package analytics

import (
	"math"
	"sort"
	"sync"

	"github.com/kirolinter/devops-orchestrator/internal/apierr"
)

// minTrainingSamples mirrors the 10-sample floor named in the distilled spec: below this count,
// predictions fall back to an untrained default rather than overfitting noise.
const minTrainingSamples = 10

// FeatureVector is the fixed 9-dimensional input to both predictors: files_changed, commit_size,
// hour_of_day, day_of_week, historical_failure_rate, avg_duration_seconds, stage_count,
// is_deploy (0/1), recent_failure_count.
type FeatureVector [9]float64

// TrainingSample pairs a feature vector with its observed outcome.
type TrainingSample struct {
	Features     FeatureVector
	Failed       bool
	DurationSec  float64
}

// stump is a single-split weak learner: predicts Left if the named feature is <= Threshold, Right
// otherwise. A trained Predictor holds an ensemble of these, each vote weighted by Weight, as a
// dependency-free stand-in for a random-forest classifier/regressor.
type stump struct {
	FeatureIdx int
	Threshold  float64
	Left       float64
	Right      float64
	Weight     float64
}

func (s stump) predict(f FeatureVector) float64 {
	if f[s.FeatureIdx] <= s.Threshold {
		return s.Left
	}
	return s.Right
}

// buildStumps grows one stump per feature dimension: for each feature, sorts samples by that
// feature's value, tries the midpoint between every adjacent pair as a split threshold, and keeps
// the split minimizing squared error against target. Weight is inversely proportional to the
// stump's own residual error, so more discriminating features dominate the ensemble vote.
func buildStumps(features [][]float64, targets []float64) []stump {
	if len(features) == 0 {
		return nil
	}
	dims := len(features[0])
	stumps := make([]stump, 0, dims)

	for dim := 0; dim < dims; dim++ {
		type pair struct {
			x, y float64
		}
		pairs := make([]pair, len(features))
		for i := range features {
			pairs[i] = pair{features[i][dim], targets[i]}
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].x < pairs[j].x })

		bestErr := math.Inf(1)
		var best stump
		for i := 0; i < len(pairs)-1; i++ {
			threshold := (pairs[i].x + pairs[i+1].x) / 2
			var leftSum, rightSum float64
			var leftN, rightN int
			for _, p := range pairs {
				if p.x <= threshold {
					leftSum += p.y
					leftN++
				} else {
					rightSum += p.y
					rightN++
				}
			}
			if leftN == 0 || rightN == 0 {
				continue
			}
			leftMean := leftSum / float64(leftN)
			rightMean := rightSum / float64(rightN)

			sqErr := 0.0
			for _, p := range pairs {
				pred := leftMean
				if p.x > threshold {
					pred = rightMean
				}
				d := p.y - pred
				sqErr += d * d
			}
			if sqErr < bestErr {
				bestErr = sqErr
				best = stump{FeatureIdx: dim, Threshold: threshold, Left: leftMean, Right: rightMean}
			}
		}
		if bestErr < math.Inf(1) {
			best.Weight = 1 / (1 + bestErr/float64(len(pairs)))
			stumps = append(stumps, best)
		}
	}
	return stumps
}

func ensemblePredict(stumps []stump, f FeatureVector) float64 {
	if len(stumps) == 0 {
		return 0
	}
	var weighted, totalWeight float64
	for _, s := range stumps {
		weighted += s.predict(f) * s.Weight
		totalWeight += s.Weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

// FailurePrediction is PredictFailure's result.
type FailurePrediction struct {
	Probability float64  `json:"probability"`
	Decision    bool     `json:"decision"`
	Confidence  float64  `json:"confidence"`
	TopFeatures []int    `json:"top_features"`
}

// DurationPrediction is PredictDuration's result.
type DurationPrediction struct {
	Seconds    float64 `json:"seconds"`
	Confidence float64 `json:"confidence"`
}

// Predictor implements the failure classifier and duration regressor as weighted ensembles of
// decision stumps, trained on demand from historical samples.
type Predictor struct {
	mu sync.RWMutex

	classifierStumps []stump
	regressorStumps  []stump
	historicalMean   float64
	trained          bool
}

// NewPredictor builds an untrained Predictor.
func NewPredictor() *Predictor {
	return &Predictor{}
}

// Train fits both the failure classifier and the duration regressor. Requires at least
// minTrainingSamples observations.
func (p *Predictor) Train(samples []TrainingSample) error {
	if len(samples) < minTrainingSamples {
		return apierr.Validation("at least 10 samples are required to train the predictor")
	}

	features := make([][]float64, len(samples))
	failureTargets := make([]float64, len(samples))
	durationTargets := make([]float64, len(samples))
	var durationSum float64
	for i, s := range samples {
		features[i] = s.Features[:]
		if s.Failed {
			failureTargets[i] = 1
		}
		durationTargets[i] = s.DurationSec
		durationSum += s.DurationSec
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.classifierStumps = buildStumps(features, failureTargets)
	p.regressorStumps = buildStumps(features, durationTargets)
	p.historicalMean = durationSum / float64(len(samples))
	p.trained = true
	return nil
}

// PredictFailure returns a zero-confidence prediction when untrained, per the fallback rule.
func (p *Predictor) PredictFailure(f FeatureVector) FailurePrediction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.trained {
		return FailurePrediction{}
	}
	prob := ensemblePredict(p.classifierStumps, f)
	if prob < 0 {
		prob = 0
	}
	if prob > 1 {
		prob = 1
	}
	return FailurePrediction{
		Probability: prob,
		Decision:    prob >= 0.5,
		Confidence:  confidenceFromStumps(p.classifierStumps),
		TopFeatures: topFeatures(p.classifierStumps, 3),
	}
}

// PredictDuration falls back to the historical mean at confidence 0.5 when untrained.
func (p *Predictor) PredictDuration(f FeatureVector) DurationPrediction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.trained {
		return DurationPrediction{Seconds: p.historicalMean, Confidence: 0.5}
	}
	return DurationPrediction{
		Seconds:    ensemblePredict(p.regressorStumps, f),
		Confidence: confidenceFromStumps(p.regressorStumps),
	}
}

func confidenceFromStumps(stumps []stump) float64 {
	if len(stumps) == 0 {
		return 0
	}
	var total float64
	for _, s := range stumps {
		total += s.Weight
	}
	avg := total / float64(len(stumps))
	if avg > 1 {
		avg = 1
	}
	return avg
}

// topFeatures returns the n highest-weighted feature indices, descending.
func topFeatures(stumps []stump, n int) []int {
	sorted := append([]stump(nil), stumps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Weight > sorted[j].Weight })
	if n > len(sorted) {
		n = len(sorted)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = sorted[i].FeatureIdx
	}
	return out
}
