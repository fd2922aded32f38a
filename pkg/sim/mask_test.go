package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/sim/state"
)

func maskTestPopulation(t *testing.T) *state.Population {
	t.Helper()
	pop, err := state.NewPopulation(state.Layout{N: 2, PreferenceKeys: []string{"a", "b"}})
	require.NoError(t, err)
	return pop
}

func TestCompilePreconditionsRejectsUnknown(t *testing.T) {
	_, err := compilePreconditions([]config.ActionDefinitionConfig{
		{Name: "launch", Preconditions: []string{"has_rocket"}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), `action "launch"`)
	assert.Contains(t, err.Error(), `unknown precondition "has_rocket"`)
}

func TestCommitmentPreconditions(t *testing.T) {
	pop := maskTestPopulation(t)
	pop.Commit(0, 1)

	preconds, err := compilePreconditions([]config.ActionDefinitionConfig{
		{Name: "defend", Preconditions: []string{"is_committed"}},
		{Name: "explore", Preconditions: []string{"not_committed"}},
	})
	require.NoError(t, err)

	assert.True(t, eligible(pop, 0, preconds[0]))
	assert.False(t, eligible(pop, 0, preconds[1]))
	assert.False(t, eligible(pop, 1, preconds[0]))
	assert.True(t, eligible(pop, 1, preconds[1]))
}

func TestHasInformationPrecondition(t *testing.T) {
	pop := maskTestPopulation(t)
	pop.SetScalar(0, state.ColInformationExposure, 0.5)
	pop.SetScalar(1, state.ColInformationExposure, 0.49)

	preconds, err := compilePreconditions([]config.ActionDefinitionConfig{
		{Name: "argue", Preconditions: []string{"has_information"}},
	})
	require.NoError(t, err)

	assert.True(t, eligible(pop, 0, preconds[0]), "0.5 meets the threshold")
	assert.False(t, eligible(pop, 1, preconds[0]))
}

func TestThresholdPreconditions(t *testing.T) {
	pop := maskTestPopulation(t)
	pop.SetScalar(0, state.ColCertainty, 0.7)
	pop.SetScalar(1, state.ColCertainty, 0.3)

	preconds, err := compilePreconditions([]config.ActionDefinitionConfig{
		{Name: "declare", Preconditions: []string{"certainty_above_0.6"}},
		{Name: "waver", Preconditions: []string{"certainty_below_0.6"}},
	})
	require.NoError(t, err)

	assert.True(t, eligible(pop, 0, preconds[0]))
	assert.False(t, eligible(pop, 0, preconds[1]))
	assert.False(t, eligible(pop, 1, preconds[0]))
	assert.True(t, eligible(pop, 1, preconds[1]))
}

func TestParseThreshold(t *testing.T) {
	col, v, above, ok := parseThreshold("engagement_above_0.25")
	require.True(t, ok)
	assert.Equal(t, state.ColEngagement, col)
	assert.InDelta(t, 0.25, v, 1e-12)
	assert.True(t, above)

	col, v, above, ok = parseThreshold("echo_chamber_score_below_0.9")
	require.True(t, ok)
	assert.Equal(t, state.ColEchoChamberScore, col)
	assert.InDelta(t, 0.9, v, 1e-12)
	assert.False(t, above)

	_, _, _, ok = parseThreshold("charisma_above_0.5")
	assert.False(t, ok, "unknown scalar names fail")

	_, _, _, ok = parseThreshold("certainty_above_high")
	assert.False(t, ok, "non-numeric bounds fail")

	_, _, _, ok = parseThreshold("is_committed")
	assert.False(t, ok)
}

func TestEligibleRequiresEveryPrecondition(t *testing.T) {
	pop := maskTestPopulation(t)
	pop.Commit(0, 0)
	pop.SetScalar(0, state.ColCertainty, 0.9)

	preconds, err := compilePreconditions([]config.ActionDefinitionConfig{
		{Name: "rally", Preconditions: []string{"is_committed", "certainty_above_0.95"}},
	})
	require.NoError(t, err)

	assert.False(t, eligible(pop, 0, preconds[0]), "one failing predicate masks the action")

	assert.True(t, eligible(pop, 0, nil), "no preconditions means always eligible")
}
