package sim

import (
	"fmt"
	"math/rand/v2"

	"github.com/manyworlds/continuum/pkg/sim/behavior"
	"github.com/manyworlds/continuum/pkg/sim/simrng"
	"github.com/manyworlds/continuum/pkg/sim/state"
)

// Profile is an agent's immutable trait block, derived at run start from
// the seeded persona stream. Persona generation itself is an external
// collaborator; the engine only requires that the derivation is
// deterministic under the run seed.
type Profile struct {
	Region   string          `json:"region"`
	AgeBand  string          `json:"age_band"`
	Behavior behavior.Params `json:"behavior"`
}

// PopulationSpec sizes the synthesized population.
type PopulationSpec struct {
	N           int
	ActionNames []string // preference keys, aligned with the action space
	IssueKeys   []string
	MeanDegree  int // outgoing social edges per agent
	Regions     int
	BufferSize  int // action/reward ring depth
}

const (
	defaultMeanDegree = 8
	defaultRegions    = 4

	// Share of agents that start with a standing choice, giving the
	// status-quo bias purchase from the first tick.
	initialCommitShare = 0.35
)

var ageBands = []string{"18_24", "25_34", "35_49", "50_64", "65_plus"}

var edgeTypes = []string{"family", "friend", "colleague", "media"}

var defaultIssueKeys = []string{"economy", "climate", "security", "healthcare", "education"}

// BuildPopulation synthesizes a population and its profiles from the run
// seed. Every draw comes from the per-agent init stream, so the same
// (seed, spec) always yields the same population regardless of scheduling.
func BuildPopulation(seed int64, spec PopulationSpec) (*state.Population, []Profile, error) {
	if spec.N <= 0 {
		return nil, nil, fmt.Errorf("population size must be positive, got %d", spec.N)
	}
	if len(spec.ActionNames) == 0 {
		return nil, nil, fmt.Errorf("at least one action name is required")
	}
	if spec.MeanDegree <= 0 {
		spec.MeanDegree = defaultMeanDegree
	}
	if spec.Regions <= 0 {
		spec.Regions = defaultRegions
	}
	issueKeys := spec.IssueKeys
	if len(issueKeys) == 0 {
		issueKeys = defaultIssueKeys
	}

	pop, err := state.NewPopulation(state.Layout{
		N:              spec.N,
		PreferenceKeys: spec.ActionNames,
		IssueKeys:      issueKeys,
		BufferSize:     spec.BufferSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to allocate population: %w", err)
	}

	profiles := make([]Profile, spec.N)
	for i := 0; i < spec.N; i++ {
		rng := simrng.Stream(seed, 0, i, simrng.StageInit)

		prefs := pop.Preferences.Row(i)
		sum := 0.0
		for a := range prefs {
			prefs[a] = 0.1 + rng.Float64()
			sum += prefs[a]
		}
		for a := range prefs {
			prefs[a] /= sum
		}

		issues := pop.IssuePriorities.Row(i)
		sum = 0.0
		for k := range issues {
			issues[k] = 0.1 + rng.Float64()
			sum += issues[k]
		}
		for k := range issues {
			issues[k] /= sum
		}

		pop.SetScalar(i, state.ColEngagement, 0.2+0.6*rng.Float64())
		pop.SetScalar(i, state.ColCertainty, 0.1+0.5*rng.Float64())
		pop.SetScalar(i, state.ColInfluenceSusceptibility, 0.2+0.6*rng.Float64())
		pop.SetScalar(i, state.ColInformationExposure, 0.1+0.6*rng.Float64())
		pop.SetScalar(i, state.ColCommitmentStrength, 0.3+0.5*rng.Float64())
		pop.SetScalar(i, state.ColEchoChamberScore, 0.2+0.5*rng.Float64())

		profiles[i] = Profile{
			Region:  fmt.Sprintf("region_%d", rng.IntN(spec.Regions)),
			AgeBand: ageBands[rng.IntN(len(ageBands))],
			Behavior: behavior.Params{
				StatusQuoStrength:       0.2 + 0.6*rng.Float64(),
				BandwagonSusceptibility: 0.1 + 0.6*rng.Float64(),
				SocialProofWeight:       0.2 + 0.6*rng.Float64(),
				FramingSensitivity:      0.1 + 0.6*rng.Float64(),
				AvailabilityWeight:      0.1 + 0.5*rng.Float64(),
				BoundedRationality:      0.2 + 0.6*rng.Float64(),
				LossAversion:            1.5 + 1.5*rng.Float64(),
				ValueCurvature:          0.7 + 0.25*rng.Float64(),
				ProbWeightAlpha:         0.4 + 0.5*rng.Float64(),
				ProbWeightBeta:          0.4 + 0.5*rng.Float64(),
			},
		}
		pop.AssignRegion(profiles[i].Region, i)
		pop.AssignDemographic(profiles[i].AgeBand, i)

		if rng.Float64() < initialCommitShare {
			pop.Commit(i, argmaxRow(prefs))
		}

		buildEdges(pop, i, spec, rng)
		pop.Phases[i] = state.PhaseIdle
	}

	// Centrality is the normalized in-run degree, fixed after the network
	// is built.
	for i := 0; i < spec.N; i++ {
		c := float64(len(pop.Neighbors(i))) / float64(2*spec.MeanDegree)
		if c > 1 {
			c = 1
		}
		pop.SetScalar(i, state.ColNetworkCentrality, c)
	}
	return pop, profiles, nil
}

// buildEdges wires agent i into a ring lattice of nearby indices plus two
// random long-range links, a small-world layout that gives social proof
// both local clustering and cross-population reach.
func buildEdges(pop *state.Population, i int, spec PopulationSpec, rng *rand.Rand) {
	if spec.N < 2 {
		return
	}
	half := spec.MeanDegree / 2
	if half < 1 {
		half = 1
	}
	for d := 1; d <= half; d++ {
		peer := (i + d) % spec.N
		if peer == i {
			continue
		}
		pop.AddEdge(i, state.SocialEdge{
			Peer:      peer,
			Type:      edgeTypes[rng.IntN(len(edgeTypes))],
			Weight:    0.3 + 0.7*rng.Float64(),
			Trust:     0.3 + 0.7*rng.Float64(),
			Frequency: 0.3 + 0.7*rng.Float64(),
		})
		peer = (i - d + spec.N) % spec.N
		if peer == i {
			continue
		}
		pop.AddEdge(i, state.SocialEdge{
			Peer:      peer,
			Type:      edgeTypes[rng.IntN(len(edgeTypes))],
			Weight:    0.3 + 0.7*rng.Float64(),
			Trust:     0.3 + 0.7*rng.Float64(),
			Frequency: 0.3 + 0.7*rng.Float64(),
		})
	}
	for k := 0; k < 2; k++ {
		peer := rng.IntN(spec.N)
		if peer == i {
			continue
		}
		pop.AddEdge(i, state.SocialEdge{
			Peer:      peer,
			Type:      "media",
			Weight:    0.2 + 0.5*rng.Float64(),
			Trust:     0.2 + 0.5*rng.Float64(),
			Frequency: 0.2 + 0.5*rng.Float64(),
		})
	}
}

func argmaxRow(row []float64) int {
	best := 0
	for a := 1; a < len(row); a++ {
		if row[a] > row[best] {
			best = a
		}
	}
	return best
}
