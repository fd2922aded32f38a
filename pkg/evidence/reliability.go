package evidence

import (
	"fmt"
	"math"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/models"
)

// defaultWeights apply when the deployment does not configure its own.
var defaultWeights = models.ReliabilityWeights{
	Calibration: 0.35,
	Stability:   0.25,
	DataGap:     0.25,
	Drift:       0.15,
}

// boundedCalibrationPrior stands in for the calibration component when no
// completed calibration job exists for the project.
const boundedCalibrationPrior = 0.5

// maxProbabilityVariance is the variance of a Bernoulli at p=0.5, the
// largest possible for values in [0,1]. Cross-seed variance normalizes
// against it.
const maxProbabilityVariance = 0.25

// ReliabilityInputs carry everything the composite score is derived from.
type ReliabilityInputs struct {
	// ECE from the project's latest completed calibration job; nil when no
	// calibration has run yet.
	ECE *float64

	// PeerProbabilities are primary-outcome probabilities of this run and
	// its same-config different-seed peers. Fewer than two means the
	// stability component cannot be computed.
	PeerProbabilities []float64

	// GuardStats from the run's gateway activity.
	GuardStats *models.LeakageGuardStats

	// FeatureShifts are per-feature mean absolute shifts against the
	// reference window. Empty means no drift measurement exists.
	FeatureShifts []float64

	RunIDs []string
}

// Scorer computes reliability composites under a fixed weight profile.
type Scorer struct {
	weights models.ReliabilityWeights
}

// NewScorer builds a scorer from deployment defaults. A nil or zero weight
// profile falls back to the built-in weights.
func NewScorer(defaults *config.ReliabilityWeightsDefaults) *Scorer {
	w := defaultWeights
	if defaults != nil {
		sum := defaults.Calibration + defaults.Stability + defaults.DataGap + defaults.Drift
		if sum > 0 {
			w = models.ReliabilityWeights{
				Calibration: defaults.Calibration / sum,
				Stability:   defaults.Stability / sum,
				DataGap:     defaults.DataGap / sum,
				Drift:       defaults.Drift / sum,
			}
		}
	}
	return &Scorer{weights: w}
}

// Score computes the weighted composite. The returned value records the
// exact weights applied, including any redistribution, and a line-per-step
// computation trace.
func (s *Scorer) Score(in ReliabilityInputs) *models.Reliability {
	r := &models.Reliability{
		Weights: s.weights,
		RunIDs:  in.RunIDs,
	}

	// Calibration: 1 - ECE, or a bounded prior when nothing is calibrated.
	if in.ECE != nil {
		r.Calibration = clamp01(1 - *in.ECE)
		r.Trace = append(r.Trace, fmt.Sprintf("calibration = 1 - ECE(%.4f) = %.4f", *in.ECE, r.Calibration))
	} else {
		r.Calibration = boundedCalibrationPrior
		r.CalibrationBounded = true
		r.Trace = append(r.Trace, fmt.Sprintf("calibration = %.2f (no completed calibration, bounded prior)", boundedCalibrationPrior))
	}

	// Stability: 1 - normalized cross-seed variance, undefined below two seeds.
	if len(in.PeerProbabilities) >= 2 {
		variance := sampleVariance(in.PeerProbabilities)
		stability := clamp01(1 - variance/maxProbabilityVariance)
		r.Stability = &stability
		r.Trace = append(r.Trace, fmt.Sprintf("stability = 1 - var(%.6f)/%.2f = %.4f over %d seeds",
			variance, maxProbabilityVariance, stability, len(in.PeerProbabilities)))
	} else {
		r.Trace = append(r.Trace, fmt.Sprintf("stability = nil (%d seed(s), need 2); weight redistributed", len(in.PeerProbabilities)))
	}

	// Data gap: blocked sources dominate; a detected leak contributes.
	// Filtered records are the guard operating as designed, not a gap.
	severity := 0.0
	if gs := in.GuardStats; gs != nil {
		blockedShare := 0.0
		if gs.TotalRequests > 0 {
			blockedShare = math.Min(1, float64(gs.BlockedAccessAttempts)/float64(gs.TotalRequests))
		}
		leak := 0.0
		if gs.LeakageDetected {
			leak = 1.0
		}
		severity = clamp01(0.7*blockedShare + 0.3*leak)
	}
	r.DataGap = clamp01(1 - severity)
	r.Trace = append(r.Trace, fmt.Sprintf("data_gap = 1 - severity(%.4f) = %.4f", severity, r.DataGap))

	// Drift: 1 - min(1, mean absolute feature shift).
	shift := 0.0
	if len(in.FeatureShifts) > 0 {
		for _, v := range in.FeatureShifts {
			shift += math.Abs(v)
		}
		shift /= float64(len(in.FeatureShifts))
	}
	r.Drift = clamp01(1 - math.Min(1, shift))
	r.Trace = append(r.Trace, fmt.Sprintf("drift = 1 - min(1, avg_shift(%.4f)) = %.4f", shift, r.Drift))

	// Redistribute the stability weight proportionally when it is absent.
	w := s.weights
	if r.Stability == nil && w.Stability > 0 {
		remaining := w.Calibration + w.DataGap + w.Drift
		if remaining > 0 {
			scale := (remaining + w.Stability) / remaining
			w = models.ReliabilityWeights{
				Calibration: w.Calibration * scale,
				DataGap:     w.DataGap * scale,
				Drift:       w.Drift * scale,
			}
		}
		r.Weights = w
	}

	score := w.Calibration*r.Calibration + w.DataGap*r.DataGap + w.Drift*r.Drift
	if r.Stability != nil {
		score += w.Stability * *r.Stability
	}
	r.Score = clamp01(score)
	r.ConfidenceLevel = levelFor(r.Score)
	r.Trace = append(r.Trace, fmt.Sprintf("score = %.4f → %s", r.Score, r.ConfidenceLevel))
	return r
}

func levelFor(score float64) models.ReliabilityLevel {
	switch {
	case score >= 0.8:
		return models.ReliabilityHigh
	case score >= 0.6:
		return models.ReliabilityMedium
	case score >= 0.4:
		return models.ReliabilityLow
	default:
		return models.ReliabilityVeryLow
	}
}

func sampleVariance(values []float64) float64 {
	n := float64(len(values))
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= n
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return variance / n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
