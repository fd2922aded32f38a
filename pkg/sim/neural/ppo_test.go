package neural

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGAEHandComputed(t *testing.T) {
	// γ=λ=1 keeps the arithmetic readable.
	adv, ret := GAE(
		[]float64{1, 1},
		[]float64{0.5, 0.5},
		[]bool{false, true},
		99, // ignored behind the terminal step
		1, 1,
	)

	assert.InDelta(t, 1.5, adv[0], 1e-12)
	assert.InDelta(t, 0.5, adv[1], 1e-12)
	assert.InDelta(t, 2.0, ret[0], 1e-12)
	assert.InDelta(t, 1.0, ret[1], 1e-12)
}

func TestGAEResetsAcrossEpisodes(t *testing.T) {
	adv, _ := GAE(
		[]float64{0, 1},
		[]float64{0, 0},
		[]bool{true, false},
		10,
		0.5, 0.5,
	)

	// Step 1 bootstraps from lastValue; step 0 is terminal and must not
	// see any of it.
	assert.InDelta(t, 6.0, adv[1], 1e-12)
	assert.Zero(t, adv[0])
}

// banditTrajectory builds a one-state rollout where action 0 always pays
// 1 and action 1 pays 0, with values and log-probs taken from the
// network itself so the first PPO epoch starts at ratio 1.
func banditTrajectory(t *testing.T, net *Network, steps int) *Trajectory {
	t.Helper()
	obs := []float64{1}
	probs, value, err := net.Probabilities(obs)
	require.NoError(t, err)

	traj := &Trajectory{}
	for i := 0; i < steps; i++ {
		action := i % 2
		reward := 0.0
		if action == 0 {
			reward = 1
		}
		traj.Obs = append(traj.Obs, obs)
		traj.Actions = append(traj.Actions, action)
		traj.Rewards = append(traj.Rewards, reward)
		traj.Dones = append(traj.Dones, true)
		traj.Values = append(traj.Values, value)
		traj.LogProbs = append(traj.LogProbs, math.Log(math.Max(probs[action], 1e-12)))
	}
	return traj
}

func TestUpdateValidation(t *testing.T) {
	net, err := NewNetwork(1, nil, 2)
	require.NoError(t, err)
	tr := NewTrainer(net, DefaultConfig())

	_, err = tr.Update(&Trajectory{})
	assert.Error(t, err)

	_, err = tr.Update(&Trajectory{
		Obs:      [][]float64{{1}},
		Actions:  []int{0, 1},
		Rewards:  []float64{1},
		Dones:    []bool{true},
		Values:   []float64{0},
		LogProbs: []float64{0},
	})
	assert.Error(t, err)

	_, err = tr.Update(&Trajectory{
		Obs:      [][]float64{{1}},
		Actions:  []int{5},
		Rewards:  []float64{1},
		Dones:    []bool{true},
		Values:   []float64{0},
		LogProbs: []float64{0},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action")
}

func TestUpdateImprovesBanditPolicy(t *testing.T) {
	// Zero-initialized network: the policy starts exactly uniform, so the
	// whole update is deterministic arithmetic.
	net, err := NewNetwork(1, []int{4}, 2)
	require.NoError(t, err)

	obs := []float64{1}
	before, _, err := net.Probabilities(obs)
	require.NoError(t, err)

	tr := NewTrainer(net, Config{
		LearningRate: 0.5,
		Epochs:       30,
		TargetKL:     100, // effectively disabled for this test
	})
	stats, err := tr.Update(banditTrajectory(t, net, 20))
	require.NoError(t, err)

	after, _, err := net.Probabilities(obs)
	require.NoError(t, err)

	assert.Greater(t, after[0], before[0]+0.02,
		"the rewarded action must gain probability (before %v, after %v)", before[0], after[0])
	assert.Equal(t, 30, stats.EpochsRun)
	assert.False(t, stats.EarlyStopped)
	assert.Positive(t, stats.Entropy)
	assert.GreaterOrEqual(t, stats.ApproxKL, 0.0)
}

func TestUpdateTrainsValueTowardReturns(t *testing.T) {
	// Zero-initialized network: value starts at exactly 0. Every step
	// returns 1, so the critic should climb toward 1.
	net, err := NewNetwork(1, []int{4}, 2)
	require.NoError(t, err)

	obs := []float64{1}
	traj := &Trajectory{}
	for i := 0; i < 10; i++ {
		traj.Obs = append(traj.Obs, obs)
		traj.Actions = append(traj.Actions, i%2)
		traj.Rewards = append(traj.Rewards, 1)
		traj.Dones = append(traj.Dones, true)
		traj.Values = append(traj.Values, 0)
		traj.LogProbs = append(traj.LogProbs, math.Log(0.5))
	}

	tr := NewTrainer(net, Config{
		LearningRate: 0.5,
		Epochs:       30,
		TargetKL:     100,
	})
	_, err = tr.Update(traj)
	require.NoError(t, err)

	_, value, err := net.Probabilities(obs)
	require.NoError(t, err)
	assert.Greater(t, value, 0.9, "critic should approach the constant return")
}

func TestUpdateEarlyStopsOnKL(t *testing.T) {
	net, err := NewNetwork(1, []int{4}, 2)
	require.NoError(t, err)

	tr := NewTrainer(net, Config{
		LearningRate: 2.0,
		Epochs:       50,
		TargetKL:     1e-6,
	})
	stats, err := tr.Update(banditTrajectory(t, net, 20))
	require.NoError(t, err)

	assert.True(t, stats.EarlyStopped)
	assert.Less(t, stats.EpochsRun, 50)
	assert.Greater(t, stats.ApproxKL, 1e-6)
}

func TestValueLossClipping(t *testing.T) {
	// Unclipped: plain squared error and its gradient.
	loss, grad := valueLossAndGrad(2, 0, 1, 0)
	assert.InDelta(t, 0.5, loss, 1e-12)
	assert.InDelta(t, 1.0, grad, 1e-12)

	// Prediction moved further than Δv from the rollout value and the
	// clipped branch dominates: gradient is cut to zero.
	loss, grad = valueLossAndGrad(2, 0, 3, 0.5)
	assert.InDelta(t, 0.5*(0.5-3)*(0.5-3), loss, 1e-12)
	assert.Zero(t, grad)

	// Within the clip window both branches agree.
	loss, grad = valueLossAndGrad(0.1, 0, 1, 0.5)
	assert.InDelta(t, 0.5*0.81, loss, 1e-12)
	assert.InDelta(t, -0.9, grad, 1e-12)
}

func TestDefaultConfigFillsZeroFields(t *testing.T) {
	net, err := NewNetwork(1, nil, 2)
	require.NoError(t, err)
	tr := NewTrainer(net, Config{})

	assert.InDelta(t, 0.2, tr.cfg.ClipRatio, 1e-12)
	assert.InDelta(t, 0.99, tr.cfg.Gamma, 1e-12)
	assert.InDelta(t, 0.95, tr.cfg.Lambda, 1e-12)
	assert.Equal(t, 4, tr.cfg.Epochs)
	assert.Zero(t, tr.cfg.TargetKL, "explicit zero stays disabled")
	assert.Zero(t, tr.cfg.ValueClip, "explicit zero stays disabled")
}
