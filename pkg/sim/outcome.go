package sim

import (
	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/sim/state"
)

// UndecidedOutcome is the distribution bucket for agents with neither a
// standing choice nor any action history.
const UndecidedOutcome = "undecided"

// Outcome folds the population's final choices into the run outcome: the
// full outcome distribution (including the undecided bucket), the primary
// outcome with its probability, and the key population metrics. Ties
// break toward the lexicographically smallest action name so the fold is
// deterministic.
func (e *Engine) Outcome() *models.Outcome {
	counts := make([]int, len(e.plan.names))
	undecided := 0
	for i := 0; i < e.n; i++ {
		c := e.pop.CommittedChoices[i]
		if c == state.Uncommitted {
			if a, ok := e.pop.Actions.Latest(i); ok {
				c = a
			}
		}
		if c >= 0 && c < len(counts) {
			counts[c]++
		} else {
			undecided++
		}
	}

	dist := make(map[string]float64, len(counts)+1)
	total := float64(e.n)
	primary := UndecidedOutcome
	best := -1
	for a, name := range e.plan.names {
		dist[name] = float64(counts[a]) / total
		if counts[a] > best || (counts[a] == best && name < primary) {
			best = counts[a]
			primary = name
		}
	}
	if undecided > 0 {
		dist[UndecidedOutcome] = float64(undecided) / total
	}
	if best <= 0 {
		primary = UndecidedOutcome
	}

	committed := 0
	for i := 0; i < e.n; i++ {
		if e.pop.IsCommitted(i) {
			committed++
		}
	}
	return &models.Outcome{
		PrimaryOutcome:     primary,
		PrimaryProbability: dist[primary],
		Distribution:       dist,
		KeyMetrics: map[string]float64{
			"mean_engagement":          e.pop.MeanScalar(state.ColEngagement, e.allAgents),
			"mean_certainty":           e.pop.MeanScalar(state.ColCertainty, e.allAgents),
			"mean_commitment_strength": e.pop.MeanScalar(state.ColCommitmentStrength, e.allAgents),
			"committed_share":          float64(committed) / total,
			"terminated_share":         float64(e.pop.TerminatedCount()) / total,
		},
	}
}
