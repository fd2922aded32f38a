// Package behavior implements the behavioral-economics decision policy:
// a pipeline of bias adjustments over a base utility matrix, prospect
// theory value and probability weighting, and softmax or argmax action
// selection. Every random draw comes from the tick-local stream keyed by
// (seed, tick, agent, stage), so identical runs make identical choices.
package behavior

import (
	"github.com/manyworlds/continuum/pkg/sim/state"
)

// Params is one agent's behavioral parameter block, derived from its
// persona at run start.
type Params struct {
	StatusQuoStrength       float64 `json:"status_quo_strength"`
	BandwagonSusceptibility float64 `json:"bandwagon_susceptibility"`
	SocialProofWeight       float64 `json:"social_proof_weight"`
	FramingSensitivity      float64 `json:"framing_sensitivity"`
	AvailabilityWeight      float64 `json:"availability_weight"`
	BoundedRationality      float64 `json:"bounded_rationality"`

	// Prospect-theory parameters. Zero values fall back to the defaults
	// in prospect.go.
	LossAversion    float64 `json:"loss_aversion"`
	ValueCurvature  float64 `json:"value_curvature"`
	ProbWeightAlpha float64 `json:"prob_weight_alpha"`
	ProbWeightBeta  float64 `json:"prob_weight_beta"`
}

// Context carries the population-level tensors the biases read. All
// per-agent slices are indexed by global agent index.
type Context struct {
	// Committed is the standing choice per agent, state.Uncommitted when
	// none. Status-quo bias boosts the committed column by BoostFactor
	// scaled with the agent's status-quo strength.
	Committed   []int
	BoostFactor float64

	// Distribution is the population's normalized action distribution;
	// IntensityFactor scales the bandwagon pull.
	Distribution    []float64
	IntensityFactor float64

	// PeerChoices and PeerWeights are aligned per-agent lists of peer
	// choices and effective social weights for social proof.
	PeerChoices [][]int
	PeerWeights [][]float64

	// FramingValence is the per-action valence of the current framing.
	FramingValence []float64

	// RecentActions and RecentRewards are aligned per-agent histories,
	// newest first, for the recency bias. RecencyDecay is the per-step
	// decay factor.
	RecentActions [][]int
	RecentRewards [][]float64
	RecencyDecay  float64
}

// Decision is one agent's selected action with its probability vector
// (one-hot in deterministic mode).
type Decision struct {
	Action        int
	Probabilities []float64
}

// Policy selects actions from biased utilities.
type Policy struct {
	// Temperature > 0 samples from a softmax; Deterministic (or a zero
	// temperature) returns the argmax with a one-hot vector.
	Temperature   float64
	Deterministic bool
}

// Decide applies the bias pipeline in order to the rows of u named by
// agents, then selects one action per agent. u is the full N×A utility
// matrix; only the given rows are touched, so disjoint agent sets can be
// decided concurrently. Decisions are returned in agents order.
func (p *Policy) Decide(u *state.Matrix, agents []int, params []Params, ctx *Context, seed int64, tick int) []Decision {
	ApplyStatusQuo(u, agents, params, ctx)
	ApplyBandwagon(u, agents, params, ctx)
	ApplySocialProof(u, agents, params, ctx)
	ApplyFraming(u, agents, params, ctx)
	ApplyRecency(u, agents, params, ctx)
	ApplyBoundedRationality(u, agents, params, seed, tick)
	return SelectActions(u, agents, p.Temperature, p.Deterministic, seed, tick)
}
