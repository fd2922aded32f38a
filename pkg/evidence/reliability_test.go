package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/models"
)

func f(v float64) *float64 { return &v }

func TestScoreAllComponentsPresent(t *testing.T) {
	scorer := NewScorer(nil)
	r := scorer.Score(ReliabilityInputs{
		ECE:               f(0.05),
		PeerProbabilities: []float64{0.7, 0.72, 0.69},
		GuardStats:        &models.LeakageGuardStats{TotalRequests: 10},
	})

	assert.InDelta(t, 0.95, r.Calibration, 1e-9)
	assert.False(t, r.CalibrationBounded)
	require.NotNil(t, r.Stability)
	assert.Greater(t, *r.Stability, 0.99)
	assert.InDelta(t, 1.0, r.DataGap, 1e-9)
	assert.InDelta(t, 1.0, r.Drift, 1e-9)
	assert.Equal(t, models.ReliabilityHigh, r.ConfidenceLevel)
	assert.NotEmpty(t, r.Trace)
}

func TestScoreMissingCalibrationUsesBoundedPrior(t *testing.T) {
	r := NewScorer(nil).Score(ReliabilityInputs{
		PeerProbabilities: []float64{0.5, 0.5},
	})
	assert.True(t, r.CalibrationBounded)
	assert.InDelta(t, boundedCalibrationPrior, r.Calibration, 1e-9)
}

func TestScoreSingleSeedRedistributesStabilityWeight(t *testing.T) {
	r := NewScorer(nil).Score(ReliabilityInputs{
		ECE:               f(0.1),
		PeerProbabilities: []float64{0.7},
	})

	assert.Nil(t, r.Stability)
	assert.Zero(t, r.Weights.Stability)
	sum := r.Weights.Calibration + r.Weights.DataGap + r.Weights.Drift
	assert.InDelta(t, 1.0, sum, 1e-9)

	// The redistribution keeps the remaining components' relative sizes.
	assert.InDelta(t,
		defaultWeights.Calibration/defaultWeights.DataGap,
		r.Weights.Calibration/r.Weights.DataGap, 1e-9)
}

func TestScoreBlockedSourcesLowerDataGap(t *testing.T) {
	scorer := NewScorer(nil)
	clean := scorer.Score(ReliabilityInputs{
		GuardStats: &models.LeakageGuardStats{TotalRequests: 10},
	})
	blocked := scorer.Score(ReliabilityInputs{
		GuardStats: &models.LeakageGuardStats{TotalRequests: 10, BlockedAccessAttempts: 5},
	})
	leaked := scorer.Score(ReliabilityInputs{
		GuardStats: &models.LeakageGuardStats{TotalRequests: 10, BlockedAccessAttempts: 5, LeakageDetected: true},
	})

	assert.Greater(t, clean.DataGap, blocked.DataGap)
	assert.Greater(t, blocked.DataGap, leaked.DataGap)
	assert.Greater(t, clean.Score, blocked.Score)
}

func TestScoreDriftFromFeatureShifts(t *testing.T) {
	scorer := NewScorer(nil)
	steady := scorer.Score(ReliabilityInputs{FeatureShifts: []float64{0.0, 0.0}})
	drifted := scorer.Score(ReliabilityInputs{FeatureShifts: []float64{0.6, 0.8}})
	saturated := scorer.Score(ReliabilityInputs{FeatureShifts: []float64{3.0}})

	assert.InDelta(t, 1.0, steady.Drift, 1e-9)
	assert.InDelta(t, 0.3, drifted.Drift, 1e-9)
	assert.Zero(t, saturated.Drift)
}

func TestConfidenceLevelBands(t *testing.T) {
	cases := []struct {
		score float64
		level models.ReliabilityLevel
	}{
		{0.85, models.ReliabilityHigh},
		{0.8, models.ReliabilityHigh},
		{0.79, models.ReliabilityMedium},
		{0.6, models.ReliabilityMedium},
		{0.59, models.ReliabilityLow},
		{0.4, models.ReliabilityLow},
		{0.39, models.ReliabilityVeryLow},
		{0.0, models.ReliabilityVeryLow},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.level, levelFor(tc.score), "score %.2f", tc.score)
	}
}

func TestNewScorerNormalizesConfiguredWeights(t *testing.T) {
	scorer := NewScorer(&config.ReliabilityWeightsDefaults{
		Calibration: 2, Stability: 1, DataGap: 1, Drift: 0,
	})
	r := scorer.Score(ReliabilityInputs{
		ECE:               f(0),
		PeerProbabilities: []float64{0.5, 0.5},
	})
	assert.InDelta(t, 0.5, r.Weights.Calibration, 1e-9)
	assert.InDelta(t, 0.25, r.Weights.Stability, 1e-9)
	assert.Zero(t, r.Weights.Drift)
}
