package behavior

import (
	"github.com/manyworlds/continuum/pkg/sim/simrng"
	"github.com/manyworlds/continuum/pkg/sim/state"
)

// ApplyStatusQuo boosts each committed agent's standing choice by
// BoostFactor scaled with the agent's status-quo strength.
func ApplyStatusQuo(u *state.Matrix, agents []int, params []Params, ctx *Context) {
	if len(ctx.Committed) == 0 || ctx.BoostFactor == 0 {
		return
	}
	for _, i := range agents {
		choice := ctx.Committed[i]
		if choice == state.Uncommitted || choice >= u.Cols {
			continue
		}
		u.Add(i, choice, ctx.BoostFactor*params[i].StatusQuoStrength)
	}
}

// ApplyBandwagon pulls every agent toward the population's current action
// distribution, scaled by susceptibility and the intensity factor.
func ApplyBandwagon(u *state.Matrix, agents []int, params []Params, ctx *Context) {
	if len(ctx.Distribution) == 0 || ctx.IntensityFactor == 0 {
		return
	}
	for _, i := range agents {
		s := params[i].BandwagonSusceptibility * ctx.IntensityFactor
		if s == 0 {
			continue
		}
		row := u.Row(i)
		for a := range row {
			if a < len(ctx.Distribution) {
				row[a] += s * ctx.Distribution[a]
			}
		}
	}
}

// ApplySocialProof adds each agent's weighted peer-choice distribution,
// normalized per agent and scaled by social_proof_weight · 0.5.
func ApplySocialProof(u *state.Matrix, agents []int, params []Params, ctx *Context) {
	if len(ctx.PeerChoices) == 0 {
		return
	}
	counts := make([]float64, u.Cols)
	for _, i := range agents {
		w := params[i].SocialProofWeight * 0.5
		if w == 0 || len(ctx.PeerChoices[i]) == 0 {
			continue
		}
		for a := range counts {
			counts[a] = 0
		}
		total := 0.0
		for j, choice := range ctx.PeerChoices[i] {
			if choice < 0 || choice >= u.Cols {
				continue
			}
			pw := ctx.PeerWeights[i][j]
			counts[choice] += pw
			total += pw
		}
		if total <= 0 {
			continue
		}
		row := u.Row(i)
		for a := range row {
			row[a] += w * counts[a] / total
		}
	}
}

// ApplyFraming adds the per-action framing valence scaled by the agent's
// framing sensitivity and the 0.2 framing gain.
func ApplyFraming(u *state.Matrix, agents []int, params []Params, ctx *Context) {
	if len(ctx.FramingValence) == 0 {
		return
	}
	for _, i := range agents {
		s := params[i].FramingSensitivity * 0.2
		if s == 0 {
			continue
		}
		row := u.Row(i)
		for a := range row {
			if a < len(ctx.FramingValence) {
				row[a] += s * ctx.FramingValence[a]
			}
		}
	}
}

// ApplyRecency adds each agent's exponentially decayed average outcome
// per recently taken action, scaled by availability weight. Newest
// entries carry the highest weight.
func ApplyRecency(u *state.Matrix, agents []int, params []Params, ctx *Context) {
	if len(ctx.RecentActions) == 0 {
		return
	}
	decay := ctx.RecencyDecay
	if decay <= 0 || decay > 1 {
		decay = 0.9
	}
	acc := make([]float64, u.Cols)
	wsum := make([]float64, u.Cols)
	for _, i := range agents {
		aw := params[i].AvailabilityWeight
		recent := ctx.RecentActions[i]
		if aw == 0 || len(recent) == 0 {
			continue
		}
		for a := range acc {
			acc[a], wsum[a] = 0, 0
		}
		w := 1.0
		for k, action := range recent {
			if action >= 0 && action < u.Cols {
				acc[action] += w * ctx.RecentRewards[i][k]
				wsum[action] += w
			}
			w *= decay
		}
		row := u.Row(i)
		for a := range row {
			if wsum[a] > 0 {
				row[a] += aw * acc[a] / wsum[a]
			}
		}
	}
}

// ApplyBoundedRationality perturbs each utility with Gaussian noise,
// σ = bounded_rationality · 0.1, drawn from the agent's tick-local noise
// stream in column order.
func ApplyBoundedRationality(u *state.Matrix, agents []int, params []Params, seed int64, tick int) {
	for _, i := range agents {
		sigma := params[i].BoundedRationality * 0.1
		if sigma == 0 {
			continue
		}
		rng := simrng.Stream(seed, tick, i, simrng.StageNoise)
		row := u.Row(i)
		for a := range row {
			row[a] += rng.NormFloat64() * sigma
		}
	}
}
