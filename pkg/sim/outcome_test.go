package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcomeTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng := newTestEngine(t, func(o *Options) { o.MaxAgents = 10 })
	// Clear the synthesized initial commitments so each test controls the
	// population's choices exactly.
	for i := 0; i < 10; i++ {
		eng.Population().Uncommit(i)
	}
	return eng
}

func TestOutcomeFoldsChoices(t *testing.T) {
	eng := outcomeTestEngine(t)
	pop := eng.Population()

	for i := 0; i < 4; i++ {
		pop.Commit(i, 0) // support_alpha
	}
	for i := 4; i < 7; i++ {
		pop.Commit(i, 1) // support_beta
	}
	// Uncommitted agents count by their latest action.
	pop.Actions.Push(7, 1)
	// Agents 8 and 9 never chose anything.

	out := eng.Outcome()

	assert.InDelta(t, 0.4, out.Distribution["support_alpha"], 1e-12)
	assert.InDelta(t, 0.4, out.Distribution["support_beta"], 1e-12)
	assert.Zero(t, out.Distribution["deliberate"])
	assert.InDelta(t, 0.2, out.Distribution[UndecidedOutcome], 1e-12)

	// 4-4 tie breaks toward the lexicographically smaller name.
	assert.Equal(t, "support_alpha", out.PrimaryOutcome)
	assert.InDelta(t, 0.4, out.PrimaryProbability, 1e-12)

	assert.InDelta(t, 0.7, out.KeyMetrics["committed_share"], 1e-12)
	assert.Zero(t, out.KeyMetrics["terminated_share"])
}

func TestOutcomeLatestActionFallback(t *testing.T) {
	eng := outcomeTestEngine(t)
	pop := eng.Population()

	pop.Actions.Push(0, 2)
	pop.Actions.Push(0, 3)

	out := eng.Outcome()

	assert.InDelta(t, 0.1, out.Distribution["seek_information"], 1e-12,
		"an uncommitted agent counts by its most recent action")
	assert.Zero(t, out.Distribution["deliberate"])
}

func TestOutcomeAllUndecided(t *testing.T) {
	eng := outcomeTestEngine(t)

	out := eng.Outcome()

	assert.Equal(t, UndecidedOutcome, out.PrimaryOutcome)
	assert.InDelta(t, 1.0, out.PrimaryProbability, 1e-12)
	assert.InDelta(t, 1.0, out.Distribution[UndecidedOutcome], 1e-12)
	assert.Zero(t, out.KeyMetrics["committed_share"])
}

func TestOutcomeDistributionSumsToOne(t *testing.T) {
	eng := newTestEngine(t, nil)
	require.NoError(t, eng.Run(context.Background()))

	out := eng.Outcome()

	sum := 0.0
	for _, share := range out.Distribution {
		sum += share
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.NotEmpty(t, out.PrimaryOutcome)
	assert.Greater(t, out.PrimaryProbability, 0.0)
}
