// Package state owns the physical layout of a simulated population: dense
// row-major matrices for preferences, issue priorities, and scalar state,
// committed choices, sparse social adjacency, circular action/reward
// buffers, per-agent memories, and group indices. It also provides bounded
// checkpointing with rollback for internal retries.
//
// The layout is column-stable: telemetry and the behavioral policies both
// address scalar state through the named columns below, so reordering them
// changes replay semantics.
package state

import (
	"fmt"
)

// Phase is an agent's position in the tick lifecycle.
type Phase uint8

const (
	PhaseInitializing Phase = iota
	PhaseIdle
	PhaseObserving
	PhaseEvaluating
	PhaseDeciding
	PhaseActing
	PhaseUpdating
	PhaseSuspended
	PhaseTerminated
)

var phaseNames = [...]string{
	"initializing",
	"idle",
	"observing",
	"evaluating",
	"deciding",
	"acting",
	"updating",
	"suspended",
	"terminated",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// ScalarCol names a column of the N×7 scalar state matrix.
type ScalarCol int

const (
	ColEngagement ScalarCol = iota
	ColCertainty
	ColInfluenceSusceptibility
	ColInformationExposure
	ColCommitmentStrength
	ColNetworkCentrality
	ColEchoChamberScore

	// NumScalarCols is the scalar matrix width.
	NumScalarCols
)

var scalarColNames = [NumScalarCols]string{
	"engagement",
	"certainty",
	"influence_susceptibility",
	"information_exposure",
	"commitment_strength",
	"network_centrality",
	"echo_chamber_score",
}

func (c ScalarCol) String() string {
	if c >= 0 && c < NumScalarCols {
		return scalarColNames[c]
	}
	return fmt.Sprintf("scalar(%d)", int(c))
}

// ScalarColNames returns the column names in matrix order.
func ScalarColNames() []string {
	out := make([]string, NumScalarCols)
	copy(out, scalarColNames[:])
	return out
}

// ScalarColByName resolves a column name to its index.
func ScalarColByName(name string) (ScalarCol, bool) {
	for i, n := range scalarColNames {
		if n == name {
			return ScalarCol(i), true
		}
	}
	return 0, false
}

// Uncommitted is the committed-choice sentinel for agents without a
// standing choice.
const Uncommitted = -1

// SocialEdge is one directed relation from an agent to a peer. Effective
// influence is the product of weight, trust, and contact frequency.
type SocialEdge struct {
	Peer      int
	Type      string
	Weight    float64
	Trust     float64
	Frequency float64
}

// Influence returns the edge's effective influence.
func (e SocialEdge) Influence() float64 {
	return e.Weight * e.Trust * e.Frequency
}

// Layout sizes a population before allocation. Zero values fall back to
// the defaults below.
type Layout struct {
	N              int
	PreferenceKeys []string
	IssueKeys      []string
	BufferSize     int     // circular action/reward buffer depth
	MemoryDepth    int     // recent-event queue capacity per agent
	EpisodeCap     int     // episodic store capacity per agent
	BeliefRate     float64 // EMA rate for belief updates
}

const (
	defaultBufferSize  = 16
	defaultMemoryDepth = 32
	defaultEpisodeCap  = 16
	defaultBeliefRate  = 0.2
)

// Population is the dense state of all agents in one run.
type Population struct {
	N int

	// IDs are the stable agent identifiers, index-aligned with every
	// matrix row. Telemetry keys agent states by ID.
	IDs []string

	PreferenceKeys []string
	IssueKeys      []string

	Preferences     *Matrix // N×len(PreferenceKeys)
	IssuePriorities *Matrix // N×len(IssueKeys)
	Scalars         *Matrix // N×NumScalarCols

	// CommittedChoices holds the standing action index per agent,
	// Uncommitted (-1) when none.
	CommittedChoices []int

	Phases []Phase

	// Edges is the sparse social adjacency: Edges[i] lists agent i's
	// outgoing relations.
	Edges [][]SocialEdge

	// Actions and Rewards are circular per-agent histories used by
	// recency computations. Actions holds chosen action indices, Rewards
	// the realized scalar rewards.
	Actions *Ring[int]
	Rewards *Ring[float64]

	Memories []*Memory

	regions      map[string][]int
	demographics map[string][]int
}

// NewPopulation allocates a population for the given layout. Agents start
// INITIALIZING and uncommitted; IDs default to "agent_<index>" until the
// builder assigns real ones.
func NewPopulation(l Layout) (*Population, error) {
	if l.N <= 0 {
		return nil, fmt.Errorf("population size must be positive, got %d", l.N)
	}
	if l.BufferSize <= 0 {
		l.BufferSize = defaultBufferSize
	}
	if l.MemoryDepth <= 0 {
		l.MemoryDepth = defaultMemoryDepth
	}
	if l.EpisodeCap <= 0 {
		l.EpisodeCap = defaultEpisodeCap
	}
	if l.BeliefRate <= 0 || l.BeliefRate > 1 {
		l.BeliefRate = defaultBeliefRate
	}

	p := &Population{
		N:                l.N,
		IDs:              make([]string, l.N),
		PreferenceKeys:   append([]string(nil), l.PreferenceKeys...),
		IssueKeys:        append([]string(nil), l.IssueKeys...),
		Preferences:      NewMatrix(l.N, len(l.PreferenceKeys)),
		IssuePriorities:  NewMatrix(l.N, len(l.IssueKeys)),
		Scalars:          NewMatrix(l.N, int(NumScalarCols)),
		CommittedChoices: make([]int, l.N),
		Phases:           make([]Phase, l.N),
		Edges:            make([][]SocialEdge, l.N),
		Actions:          NewRing[int](l.N, l.BufferSize),
		Rewards:          NewRing[float64](l.N, l.BufferSize),
		Memories:         make([]*Memory, l.N),
		regions:          make(map[string][]int),
		demographics:     make(map[string][]int),
	}
	for i := 0; i < l.N; i++ {
		p.IDs[i] = fmt.Sprintf("agent_%d", i)
		p.CommittedChoices[i] = Uncommitted
		p.Memories[i] = NewMemory(l.MemoryDepth, l.EpisodeCap, l.BeliefRate)
	}
	return p, nil
}

// Scalar reads one scalar state cell.
func (p *Population) Scalar(agent int, col ScalarCol) float64 {
	return p.Scalars.At(agent, int(col))
}

// SetScalar writes one scalar state cell.
func (p *Population) SetScalar(agent int, col ScalarCol, v float64) {
	p.Scalars.Set(agent, int(col), v)
}

// AddScalar adds to one scalar state cell.
func (p *Population) AddScalar(agent int, col ScalarCol, delta float64) {
	p.Scalars.Add(agent, int(col), delta)
}

// Commit records a standing choice for an agent.
func (p *Population) Commit(agent, action int) {
	p.CommittedChoices[agent] = action
}

// Uncommit clears an agent's standing choice.
func (p *Population) Uncommit(agent int) {
	p.CommittedChoices[agent] = Uncommitted
}

// IsCommitted reports whether an agent has a standing choice.
func (p *Population) IsCommitted(agent int) bool {
	return p.CommittedChoices[agent] != Uncommitted
}

// AddEdge appends a directed relation from an agent.
func (p *Population) AddEdge(from int, e SocialEdge) {
	p.Edges[from] = append(p.Edges[from], e)
}

// Neighbors returns an agent's outgoing relations. The slice is shared;
// callers must not mutate it.
func (p *Population) Neighbors(agent int) []SocialEdge {
	return p.Edges[agent]
}

// AssignRegion adds an agent to a region index set.
func (p *Population) AssignRegion(label string, agent int) {
	p.regions[label] = append(p.regions[label], agent)
}

// AssignDemographic adds an agent to a demographic index set.
func (p *Population) AssignDemographic(label string, agent int) {
	p.demographics[label] = append(p.demographics[label], agent)
}

// Region returns the agent index set for a region label.
func (p *Population) Region(label string) []int {
	return p.regions[label]
}

// Demographic returns the agent index set for a demographic label.
func (p *Population) Demographic(label string) []int {
	return p.demographics[label]
}

// RegionLabels returns the known region labels in unspecified order.
func (p *Population) RegionLabels() []string {
	out := make([]string, 0, len(p.regions))
	for l := range p.regions {
		out = append(out, l)
	}
	return out
}

// DemographicLabels returns the known demographic labels in unspecified
// order.
func (p *Population) DemographicLabels() []string {
	out := make([]string, 0, len(p.demographics))
	for l := range p.demographics {
		out = append(out, l)
	}
	return out
}

// MeanScalar averages one scalar column over an index set. An empty set
// yields 0.
func (p *Population) MeanScalar(col ScalarCol, members []int) float64 {
	if len(members) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range members {
		sum += p.Scalars.At(i, int(col))
	}
	return sum / float64(len(members))
}

// TerminatedCount returns how many agents are in the TERMINATED phase.
func (p *Population) TerminatedCount() int {
	n := 0
	for _, ph := range p.Phases {
		if ph == PhaseTerminated {
			n++
		}
	}
	return n
}

// ActiveCount returns how many agents still participate in the tick loop
// (not suspended, not terminated).
func (p *Population) ActiveCount() int {
	n := 0
	for _, ph := range p.Phases {
		if ph != PhaseTerminated && ph != PhaseSuspended {
			n++
		}
	}
	return n
}
