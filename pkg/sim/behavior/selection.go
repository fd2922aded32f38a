package behavior

import (
	"math"
	"math/rand/v2"

	"github.com/manyworlds/continuum/pkg/sim/simrng"
	"github.com/manyworlds/continuum/pkg/sim/state"
)

// SelectActions picks one action per agent from its utility row. With a
// positive temperature and deterministic=false, actions are sampled from
// a softmax using the agent's tick-local decide stream; otherwise the
// argmax is returned with a one-hot probability vector. Utilities of
// -Inf (masked actions) never win and carry zero probability.
func SelectActions(u *state.Matrix, agents []int, temperature float64, deterministic bool, seed int64, tick int) []Decision {
	decisions := make([]Decision, len(agents))
	for pos, i := range agents {
		row := u.Row(i)
		if deterministic || temperature <= 0 {
			decisions[pos] = argmaxDecision(row)
			continue
		}
		decisions[pos] = softmaxDecision(row, temperature, simrng.Stream(seed, tick, i, simrng.StageDecide))
	}
	return decisions
}

func argmaxDecision(row []float64) Decision {
	best, bestVal := 0, math.Inf(-1)
	for a, v := range row {
		if v > bestVal {
			best, bestVal = a, v
		}
	}
	probs := make([]float64, len(row))
	probs[best] = 1
	return Decision{Action: best, Probabilities: probs}
}

func softmaxDecision(row []float64, temperature float64, rng *rand.Rand) Decision {
	probs := Softmax(row, temperature)

	// Inverse-CDF sample. Ties and float residue fall through to the
	// last positive-probability action.
	r := rng.Float64()
	cum := 0.0
	action := -1
	for a, p := range probs {
		if p <= 0 {
			continue
		}
		action = a
		cum += p
		if r < cum {
			break
		}
	}
	if action < 0 {
		// Every action was masked; fall back to argmax semantics.
		return argmaxDecision(row)
	}
	return Decision{Action: action, Probabilities: probs}
}

// Softmax returns the temperature-scaled softmax of a utility row.
// -Inf entries get exactly zero probability. If no entry is finite, the
// result is all zeros.
func Softmax(row []float64, temperature float64) []float64 {
	if temperature <= 0 {
		temperature = 1
	}
	maxU := math.Inf(-1)
	for _, v := range row {
		if v > maxU {
			maxU = v
		}
	}
	probs := make([]float64, len(row))
	if math.IsInf(maxU, -1) {
		return probs
	}
	sum := 0.0
	for a, v := range row {
		if math.IsInf(v, -1) {
			continue
		}
		p := math.Exp((v - maxU) / temperature)
		probs[a] = p
		sum += p
	}
	for a := range probs {
		probs[a] /= sum
	}
	return probs
}
