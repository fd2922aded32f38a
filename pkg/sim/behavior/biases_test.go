package behavior

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/sim/state"
)

const numActions = 3

func utilMatrix(rows int) *state.Matrix {
	return state.NewMatrix(rows, numActions)
}

func uniformParams(n int, p Params) []Params {
	out := make([]Params, n)
	for i := range out {
		out[i] = p
	}
	return out
}

func allAgents(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestApplyStatusQuo(t *testing.T) {
	u := utilMatrix(3)
	params := uniformParams(3, Params{StatusQuoStrength: 0.5})
	ctx := &Context{
		Committed:   []int{1, state.Uncommitted, 2},
		BoostFactor: 0.4,
	}

	ApplyStatusQuo(u, allAgents(3), params, ctx)

	assert.InDelta(t, 0.2, u.At(0, 1), 1e-12)
	assert.Zero(t, u.At(0, 0))
	assert.Zero(t, u.At(0, 2))
	assert.Equal(t, []float64{0, 0, 0}, u.Row(1), "uncommitted agents are untouched")
	assert.InDelta(t, 0.2, u.At(2, 2), 1e-12)
}

func TestApplyBandwagon(t *testing.T) {
	u := utilMatrix(2)
	params := []Params{
		{BandwagonSusceptibility: 1.0},
		{BandwagonSusceptibility: 0.0},
	}
	ctx := &Context{
		Distribution:    []float64{0.6, 0.3, 0.1},
		IntensityFactor: 2.0,
	}

	ApplyBandwagon(u, allAgents(2), params, ctx)

	assert.InDelta(t, 1.2, u.At(0, 0), 1e-12)
	assert.InDelta(t, 0.6, u.At(0, 1), 1e-12)
	assert.InDelta(t, 0.2, u.At(0, 2), 1e-12)
	assert.Equal(t, []float64{0, 0, 0}, u.Row(1), "zero susceptibility is a no-op")
}

func TestApplySocialProof(t *testing.T) {
	u := utilMatrix(2)
	params := uniformParams(2, Params{SocialProofWeight: 1.0})
	ctx := &Context{
		PeerChoices: [][]int{
			{0, 0, 1},
			nil,
		},
		PeerWeights: [][]float64{
			{0.5, 0.25, 0.25},
			nil,
		},
	}

	ApplySocialProof(u, allAgents(2), params, ctx)

	// Peer mass: action 0 gets 0.75, action 1 gets 0.25 of a total 1.0,
	// scaled by social_proof_weight · 0.5.
	assert.InDelta(t, 0.375, u.At(0, 0), 1e-12)
	assert.InDelta(t, 0.125, u.At(0, 1), 1e-12)
	assert.Zero(t, u.At(0, 2))
	assert.Equal(t, []float64{0, 0, 0}, u.Row(1), "agents without peers are untouched")
}

func TestApplyFraming(t *testing.T) {
	u := utilMatrix(1)
	params := uniformParams(1, Params{FramingSensitivity: 0.5})
	ctx := &Context{FramingValence: []float64{1.0, -1.0, 0.0}}

	ApplyFraming(u, allAgents(1), params, ctx)

	assert.InDelta(t, 0.1, u.At(0, 0), 1e-12)
	assert.InDelta(t, -0.1, u.At(0, 1), 1e-12)
	assert.Zero(t, u.At(0, 2))
}

func TestApplyRecency(t *testing.T) {
	u := utilMatrix(1)
	params := uniformParams(1, Params{AvailabilityWeight: 1.0})
	ctx := &Context{
		RecentActions: [][]int{{0, 1, 0}},
		RecentRewards: [][]float64{{1.0, 0.5, 0.0}},
		RecencyDecay:  0.5,
	}

	ApplyRecency(u, allAgents(1), params, ctx)

	// Action 0: weights 1 and 0.25 → (1·1.0 + 0.25·0.0) / 1.25 = 0.8.
	// Action 1: single weight 0.5 → 0.5.
	assert.InDelta(t, 0.8, u.At(0, 0), 1e-12)
	assert.InDelta(t, 0.5, u.At(0, 1), 1e-12)
	assert.Zero(t, u.At(0, 2), "never-taken actions get no recency boost")
}

func TestApplyBoundedRationalityDeterminism(t *testing.T) {
	params := uniformParams(2, Params{BoundedRationality: 1.0})

	u1 := utilMatrix(2)
	u2 := utilMatrix(2)
	ApplyBoundedRationality(u1, allAgents(2), params, 42, 7)
	ApplyBoundedRationality(u2, allAgents(2), params, 42, 7)

	assert.Equal(t, u1.Data, u2.Data, "same seed and tick produce identical noise")
	assert.NotEqual(t, u1.Row(0), u1.Row(1), "agents draw independent streams")

	u3 := utilMatrix(2)
	ApplyBoundedRationality(u3, allAgents(2), params, 42, 8)
	assert.NotEqual(t, u1.Data, u3.Data, "different ticks draw different noise")
}

func TestApplyBoundedRationalityZeroSigma(t *testing.T) {
	u := utilMatrix(1)
	ApplyBoundedRationality(u, allAgents(1), uniformParams(1, Params{}), 42, 0)
	assert.Equal(t, []float64{0, 0, 0}, u.Row(0))
}

func TestBiasesTouchOnlyGivenRows(t *testing.T) {
	u := utilMatrix(3)
	params := uniformParams(3, Params{
		BandwagonSusceptibility: 1,
		BoundedRationality:      1,
	})
	ctx := &Context{
		Distribution:    []float64{0.5, 0.5, 0},
		IntensityFactor: 1,
	}

	ApplyBandwagon(u, []int{0, 2}, params, ctx)
	ApplyBoundedRationality(u, []int{0, 2}, params, 1, 1)

	assert.Equal(t, []float64{0, 0, 0}, u.Row(1))
	assert.NotEqual(t, []float64{0, 0, 0}, u.Row(0))
}

func TestDecideIsDeterministic(t *testing.T) {
	const n = 20
	build := func() *state.Matrix {
		u := utilMatrix(n)
		for i := 0; i < n; i++ {
			u.Set(i, 0, 0.3)
			u.Set(i, 1, 0.5)
			u.Set(i, 2, 0.2)
		}
		return u
	}
	params := uniformParams(n, Params{
		StatusQuoStrength:       0.4,
		BandwagonSusceptibility: 0.6,
		BoundedRationality:      0.8,
	})
	ctx := &Context{
		Committed:       make([]int, n),
		BoostFactor:     0.2,
		Distribution:    []float64{0.2, 0.5, 0.3},
		IntensityFactor: 1,
	}
	for i := range ctx.Committed {
		ctx.Committed[i] = state.Uncommitted
	}

	policy := &Policy{Temperature: 0.5}
	first := policy.Decide(build(), allAgents(n), params, ctx, 42, 3)
	second := policy.Decide(build(), allAgents(n), params, ctx, 42, 3)

	require.Equal(t, first, second)
}
