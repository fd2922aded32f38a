package neural

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNetworkValidation(t *testing.T) {
	_, err := NewNetwork(0, nil, 2)
	assert.Error(t, err)
	_, err = NewNetwork(3, nil, 1)
	assert.Error(t, err)
	_, err = NewNetwork(3, []int{0}, 2)
	assert.Error(t, err)
}

func TestZeroInitIsUniform(t *testing.T) {
	net, err := NewNetwork(3, []int{8}, 4)
	require.NoError(t, err)

	probs, value, err := net.Probabilities([]float64{0.2, -0.4, 1.0})
	require.NoError(t, err)
	assert.Zero(t, value)
	for _, p := range probs {
		assert.InDelta(t, 0.25, p, 1e-12)
	}
}

func TestForwardIsDeterministic(t *testing.T) {
	build := func(seed int64) *Network {
		net, err := NewNetwork(4, []int{8, 8}, 3)
		require.NoError(t, err)
		net.InitXavier(seed)
		return net
	}
	obs := []float64{0.1, -0.2, 0.3, 0.9}

	a := build(7)
	b := build(7)
	la, va, err := a.Forward(obs)
	require.NoError(t, err)
	lb, vb, err := b.Forward(obs)
	require.NoError(t, err)
	assert.Equal(t, la, lb)
	assert.Equal(t, va, vb)

	c := build(8)
	lc, _, err := c.Forward(obs)
	require.NoError(t, err)
	assert.NotEqual(t, la, lc, "different seeds build different networks")
}

func TestForwardDimensionMismatch(t *testing.T) {
	net, err := NewNetwork(3, nil, 2)
	require.NoError(t, err)
	_, _, err = net.Forward([]float64{1, 2})
	assert.Error(t, err)
}

func TestParametersRoundTrip(t *testing.T) {
	src, err := NewNetwork(3, []int{5}, 2)
	require.NoError(t, err)
	src.InitXavier(11)

	dst, err := NewNetwork(3, []int{5}, 2)
	require.NoError(t, err)
	require.NoError(t, dst.LoadParameters(src.Parameters()))

	obs := []float64{0.5, -1.0, 0.25}
	srcLogits, srcValue, err := src.Forward(obs)
	require.NoError(t, err)
	dstLogits, dstValue, err := dst.Forward(obs)
	require.NoError(t, err)
	assert.Equal(t, srcLogits, dstLogits)
	assert.Equal(t, srcValue, dstValue)
}

func TestLoadParametersMissingKey(t *testing.T) {
	net, err := NewNetwork(2, nil, 2)
	require.NoError(t, err)
	err = net.LoadParameters(map[string]float64{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestActReturnsGreedyBatch(t *testing.T) {
	net, err := NewNetwork(2, nil, 3)
	require.NoError(t, err)
	// Linear heads over raw features: make action 2 dominant for positive
	// first features, action 0 otherwise.
	require.NoError(t, net.LoadParameters(map[string]float64{
		"actor.w.0": -1, "actor.w.1": 0,
		"actor.w.2": 0, "actor.w.3": 0,
		"actor.w.4": 1, "actor.w.5": 0,
		"actor.b.0": 0, "actor.b.1": 0, "actor.b.2": 0,
		"critic.w.0": 0.5, "critic.w.1": 0,
		"critic.b.0": 0.1,
	}))

	actions, values, err := net.Act([][]float64{
		{1, 0},
		{-1, 0},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, actions)
	assert.InDelta(t, 0.6, values[0], 1e-12)
	assert.InDelta(t, -0.4, values[1], 1e-12)
}
