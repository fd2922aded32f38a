package behavior

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueGainsAndLosses(t *testing.T) {
	assert.InDelta(t, 1.0, Value(1, 0.88, 2.25), 1e-12)
	assert.InDelta(t, 2.0, Value(4, 0.5, 2.25), 1e-12)
	assert.InDelta(t, -4.0, Value(-4, 0.5, 2.0), 1e-12)
	assert.Zero(t, Value(0, 0.88, 2.25))
}

func TestValueDefaults(t *testing.T) {
	// Zero parameters fall back to α=0.88, λ=2.25.
	assert.InDelta(t, math.Pow(2, 0.88), Value(2, 0, 0), 1e-12)
	assert.InDelta(t, -2.25, Value(-1, 0, 0), 1e-12)
}

func TestWeightBoundaries(t *testing.T) {
	assert.Zero(t, Weight(0, 0.5, 0.5))
	assert.Zero(t, Weight(-0.1, 0.5, 0.5))
	assert.Equal(t, 1.0, Weight(1, 0.5, 0.5))
	assert.Equal(t, 1.0, Weight(1.5, 0.5, 0.5))
}

func TestWeightIdentityAtUnitParams(t *testing.T) {
	// Prelec with α=β=1 reduces to w(p)=p.
	for _, p := range []float64{0.1, 0.3, 0.5, 0.9} {
		assert.InDelta(t, p, Weight(p, 1, 1), 1e-12, "p=%v", p)
	}
}

func TestWeightClampsParameters(t *testing.T) {
	// Out-of-range α and β clamp into [0.3, 1].
	assert.Equal(t, Weight(0.4, 0.3, 1), Weight(0.4, 0.05, 1))
	assert.Equal(t, Weight(0.4, 1, 0.3), Weight(0.4, 2.5, 0))
}

func TestWeightOverweightsSmallProbabilities(t *testing.T) {
	// The inverse-S shape overweights rare events at typical parameters.
	assert.Greater(t, Weight(0.01, 0.65, 1), 0.01)
}

func TestEvaluateProspect(t *testing.T) {
	params := Params{ValueCurvature: 1, LossAversion: 2, ProbWeightAlpha: 1, ProbWeightBeta: 1}

	// Certain unit gain.
	assert.InDelta(t, 1.0, EvaluateProspect([]float64{1}, []float64{1}, params), 1e-12)

	// 50/50 gain/loss with λ=2: 0.5·1 + 0.5·(-2) = -0.5.
	got := EvaluateProspect([]float64{1, -1}, []float64{0.5, 0.5}, params)
	assert.InDelta(t, -0.5, got, 1e-12)

	// Loss aversion makes the mixed prospect worse than its expected value.
	assert.Less(t, got, 0.0)
}
