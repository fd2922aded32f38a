package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/config"
)

func TestFoldReward(t *testing.T) {
	total := FoldReward(
		map[string]float64{"alignment": 1.0, "social_approval": 2.0},
		map[string]float64{"alignment": 0.5},
	)

	// 0.5·1 + 1·2: unweighted components default to weight 1.
	assert.InDelta(t, 2.5, total, 1e-12)
}

func TestFoldRewardEmpty(t *testing.T) {
	assert.Zero(t, FoldReward(nil, nil))
	assert.Zero(t, FoldReward(map[string]float64{}, map[string]float64{"x": 3}))
}

func TestFoldRewardNegativeComponents(t *testing.T) {
	total := FoldReward(
		map[string]float64{"penalty": -2.0, "gain": 1.0},
		map[string]float64{"penalty": 0.25},
	)
	assert.InDelta(t, 0.5, total, 1e-12)
}

func TestAccuracyRewardPerfectPrediction(t *testing.T) {
	truth := map[string]float64{"support_alpha": 0.6, "support_beta": 0.4}

	r := AccuracyReward(truth, truth, 0.8)

	assert.InDelta(t, 0.8, r, 1e-12, "zero divergence scores exactly the accuracy weight")
}

func TestAccuracyRewardDivergedPrediction(t *testing.T) {
	truth := map[string]float64{"yes": 1.0}
	pred := map[string]float64{"yes": 0.5, "no": 0.5}

	// KL = 1·ln(1/0.5) = ln 2, so the reward halves.
	r := AccuracyReward(truth, pred, 1.0)

	assert.InDelta(t, 0.5, r, 1e-12)
}

func TestKLDivergenceNormalizesInputs(t *testing.T) {
	kl := KLDivergence(
		map[string]float64{"a": 2, "b": 2},
		map[string]float64{"a": 50, "b": 50},
	)
	assert.InDelta(t, 0.0, kl, 1e-12)
}

func TestKLDivergenceHandComputed(t *testing.T) {
	kl := KLDivergence(
		map[string]float64{"a": 0.75, "b": 0.25},
		map[string]float64{"a": 0.5, "b": 0.5},
	)

	want := 0.75*math.Log(0.75/0.5) + 0.25*math.Log(0.25/0.5)
	assert.InDelta(t, want, kl, 1e-12)
	assert.Greater(t, kl, 0.0)
}

func TestKLDivergenceMissingPredictedMass(t *testing.T) {
	kl := KLDivergence(
		map[string]float64{"a": 0.5, "b": 0.5},
		map[string]float64{"a": 1.0},
	)

	assert.False(t, math.IsInf(kl, 1), "floored mass keeps the divergence finite")
	assert.Greater(t, kl, 5.0, "missing an outcome is heavily penalized")
}

func TestKLDivergenceEmptyTruth(t *testing.T) {
	assert.Zero(t, KLDivergence(nil, map[string]float64{"a": 1}))
	assert.Zero(t, KLDivergence(map[string]float64{"a": 0}, map[string]float64{"a": 1}))
}

func TestCompileRewardPlanOrdering(t *testing.T) {
	plan := compileRewardPlan(&config.ActionSpaceConfig{
		Actions: []config.ActionDefinitionConfig{
			{Name: "act", RewardComponents: map[string]float64{"zeta": 1, "alpha": 2}},
		},
		ComponentWeights: map[string]float64{"consistency": 0.3, "alignment": 0.5, "zeta": 2},
	})

	require.Len(t, plan.statics[0], 2)
	assert.Equal(t, "alpha", plan.statics[0][0].name, "statics fold in sorted order")
	assert.Equal(t, "zeta", plan.statics[0][1].name)

	assert.InDelta(t, 2.0, plan.weight("zeta"), 1e-12)
	assert.InDelta(t, 1.0, plan.weight("alpha"), 1e-12, "unnamed components default to 1")

	// Dynamic components are the weighted names no action pins statically.
	assert.Equal(t, []string{"alignment", "consistency"}, plan.dynamic)
}

func TestRewardPlanStaticValue(t *testing.T) {
	plan := compileRewardPlan(&config.ActionSpaceConfig{
		Actions: []config.ActionDefinitionConfig{
			{Name: "a", RewardComponents: map[string]float64{"expression": 0.4}},
			{Name: "b"},
		},
	})

	v, ok := plan.staticValue(0, "expression")
	require.True(t, ok)
	assert.InDelta(t, 0.4, v, 1e-12)

	_, ok = plan.staticValue(1, "expression")
	assert.False(t, ok)
}
