package universe

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/models"
)

func runWithOutcome(dist map[string]float64) *models.Run {
	return &models.Run{
		ID:      uuid.New(),
		Status:  models.RunStatusSucceeded,
		Outcome: &models.Outcome{Distribution: dist},
	}
}

func TestFoldOutcomesEmpty(t *testing.T) {
	assert.Nil(t, foldOutcomes(nil))
	assert.Nil(t, foldOutcomes([]*models.Run{{ID: uuid.New()}}))
}

func TestFoldOutcomesStats(t *testing.T) {
	runs := []*models.Run{
		runWithOutcome(map[string]float64{"adoption": 0.6, "churn": 0.4}),
		runWithOutcome(map[string]float64{"adoption": 0.8, "churn": 0.2}),
		runWithOutcome(map[string]float64{"adoption": 0.7, "churn": 0.3}),
	}

	agg := foldOutcomes(runs)
	require.NotNil(t, agg)
	assert.Equal(t, 3, agg.SampleCount)
	assert.Equal(t, "adoption", agg.PrimaryOutcome)

	adoption := agg.Outcomes["adoption"]
	assert.InDelta(t, 0.7, adoption.Mean, 1e-9)
	assert.InDelta(t, 0.6, adoption.Min, 1e-9)
	assert.InDelta(t, 0.8, adoption.Max, 1e-9)
	assert.InDelta(t, 2.0/300.0, adoption.Variance, 1e-9)
	assert.Equal(t, 3, adoption.SampleCount)
}

func TestFoldOutcomesOrderIndependent(t *testing.T) {
	a := runWithOutcome(map[string]float64{"up": 0.9, "down": 0.1})
	b := runWithOutcome(map[string]float64{"up": 0.5, "down": 0.5})
	c := runWithOutcome(map[string]float64{"up": 0.7, "down": 0.3})

	forward := foldOutcomes([]*models.Run{a, b, c})
	reversed := foldOutcomes([]*models.Run{c, b, a})

	assert.Equal(t, forward, reversed)
}

func TestFoldOutcomesMissingKeysCountAsZero(t *testing.T) {
	runs := []*models.Run{
		runWithOutcome(map[string]float64{"adoption": 1.0}),
		runWithOutcome(map[string]float64{"churn": 1.0}),
	}

	agg := foldOutcomes(runs)
	require.NotNil(t, agg)
	assert.InDelta(t, 0.5, agg.Outcomes["adoption"].Mean, 1e-9)
	assert.InDelta(t, 0.5, agg.Outcomes["churn"].Mean, 1e-9)
	assert.Equal(t, 2, agg.Outcomes["adoption"].SampleCount)
}

func TestPrimaryOutcomeTieBreaksLexicographically(t *testing.T) {
	runs := []*models.Run{
		runWithOutcome(map[string]float64{"beta": 0.5, "alpha": 0.5}),
	}
	agg := foldOutcomes(runs)
	require.NotNil(t, agg)
	assert.Equal(t, "alpha", agg.PrimaryOutcome)
}

func relRun(prob, score float64) *models.Run {
	r := runWithOutcome(map[string]float64{"x": prob})
	r.Reliability = &models.Reliability{Score: score}
	return r
}

func TestConfidenceForAdjustsByReliability(t *testing.T) {
	// Raw 0.9 with strong reliability stays high.
	high := confidenceFor(0.9, []*models.Run{relRun(0.9, 0.95)})
	assert.Equal(t, models.ConfidenceHigh, high)

	// The same probability under weak reliability drops the band.
	low := confidenceFor(0.9, []*models.Run{relRun(0.9, 0.5)})
	assert.Equal(t, models.ConfidenceLow, low)

	// Unscored runs leave the probability unadjusted.
	raw := confidenceFor(0.65, []*models.Run{runWithOutcome(map[string]float64{"x": 0.65})})
	assert.Equal(t, models.ConfidenceMedium, raw)
}

func siblingNode(p float64) *models.Node {
	return &models.Node{ID: uuid.New(), Probability: p}
}

func TestCapToSiblingMassKeepsChildrenSubStochastic(t *testing.T) {
	self := siblingNode(0)
	siblings := []*models.Node{siblingNode(0.5), siblingNode(0.3), self}

	// Enough mass left: the ensemble mean passes through untouched.
	assert.InDelta(t, 0.2, capToSiblingMass(0.2, siblings, self.ID), 1e-9)

	// Overshooting means take only what the siblings left.
	assert.InDelta(t, 0.2, capToSiblingMass(0.7, siblings, self.ID), 1e-9)

	// Fully claimed parents floor the newcomer at zero.
	full := []*models.Node{siblingNode(0.6), siblingNode(0.4), self}
	assert.Zero(t, capToSiblingMass(0.9, full, self.ID))

	// The node's own stored probability never counts against itself.
	self2 := siblingNode(0.8)
	assert.InDelta(t, 0.9, capToSiblingMass(0.9, []*models.Node{self2}, self2.ID), 1e-9)

	// An only child is unconstrained.
	only := siblingNode(0)
	assert.InDelta(t, 1.0, capToSiblingMass(1.0, []*models.Node{only}, only.ID), 1e-9)
}
