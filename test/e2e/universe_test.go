package e2e

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/models"
)

// TestForkDoesNotMutateParent forks a child under a variable-delta
// intervention, runs it to completion, and verifies the parent node is
// untouched: forking branches, never edits.
func TestForkDoesNotMutateParent(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	project, root := app.createProject(t)

	parentBefore, err := app.store.Nodes.Get(ctx, root.ID)
	require.NoError(t, err)

	// Fork and run in one admission call.
	run, err := app.orch.CreateRun(ctx, &models.CreateRunRequest{
		ProjectID: project.ID,
		Fork: &models.ForkNodeRequest{
			ParentID: root.ID,
			Intervention: models.Intervention{
				Type: models.InterventionVariableDelta,
				VariableDeltas: []models.VariableDelta{
					{Variable: "interest_rate", Operation: models.DeltaOpAdd, Value: 0.02},
				},
			},
			Explanation: "rate hike scenario",
		},
		Config: baseRunConfig(30, 11),
	})
	require.NoError(t, err)
	require.NotEqual(t, root.ID, run.NodeID)

	child, err := app.store.Nodes.Get(ctx, run.NodeID)
	require.NoError(t, err)
	assert.Equal(t, 1, child.Depth)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, root.ID, *child.ParentID)
	assert.False(t, child.IsBaseline)
	require.NotNil(t, child.ScenarioPatch)
	require.Len(t, child.ScenarioPatch.Variables, 1)
	assert.Equal(t, "interest_rate", child.ScenarioPatch.Variables[0].Variable)

	edge, err := app.store.Nodes.GetEdgeToChild(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, edge.ParentID)
	require.NotNil(t, edge.Explanation)
	assert.Equal(t, "rate hike scenario", *edge.Explanation)

	app.waitForRunStatus(t, run.ID, models.RunStatusSucceeded, runWait)
	app.waitForAggregate(t, child.ID, 1, runWait)

	// The parent carries no trace of the child's activity.
	parentAfter, err := app.store.Nodes.Get(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, parentBefore.Version, parentAfter.Version)
	assert.Nil(t, parentAfter.AggregatedOutcome)
	assert.Equal(t, 1.0, parentAfter.Probability)
	assert.Equal(t, 1.0, parentAfter.CumulativeProbability)

	// The child's cumulative probability folds through the certain parent.
	childAfter, err := app.store.Nodes.Get(ctx, child.ID)
	require.NoError(t, err)
	assert.InDelta(t, childAfter.Probability, childAfter.CumulativeProbability, 1e-9)
}

// TestSiblingProbabilitiesSubStochastic forks two children from one
// parent, runs both, and verifies the branch distribution: each child
// probability is in [0, 1] and the siblings never sum past 1.
func TestSiblingProbabilitiesSubStochastic(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	project, root := app.createProject(t)

	forkRun := func(variable string, delta float64, seed int64) *models.Run {
		run, err := app.orch.CreateRun(ctx, &models.CreateRunRequest{
			ProjectID: project.ID,
			Fork: &models.ForkNodeRequest{
				ParentID: root.ID,
				Intervention: models.Intervention{
					Type: models.InterventionVariableDelta,
					VariableDeltas: []models.VariableDelta{
						{Variable: variable, Operation: models.DeltaOpAdd, Value: delta},
					},
				},
			},
			Config: baseRunConfig(30, seed),
		})
		require.NoError(t, err)
		return run
	}

	// Sequential so the second fold sees the first sibling's committed
	// probability.
	first := forkRun("engagement", 0.2, 13)
	app.waitForRunStatus(t, first.ID, models.RunStatusSucceeded, runWait)
	app.waitForAggregate(t, first.NodeID, 1, runWait)

	second := forkRun("engagement", -0.2, 14)
	app.waitForRunStatus(t, second.ID, models.RunStatusSucceeded, runWait)
	app.waitForAggregate(t, second.NodeID, 1, runWait)

	children, err := app.store.Nodes.Children(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)

	sum := 0.0
	for _, child := range children {
		assert.GreaterOrEqual(t, child.Probability, 0.0)
		assert.LessOrEqual(t, child.Probability, 1.0)
		sum += child.Probability
	}
	assert.LessOrEqual(t, sum, 1.0, "sibling probabilities must stay sub-stochastic")
}

// TestEnsembleAggregation queues a five-member ensemble with sequence
// seeds 1..5 and waits for the fold over all members.
func TestEnsembleAggregation(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	project, root := app.createProject(t)
	_ = project

	runs, err := app.universe.RunNodeEnsemble(ctx, root.ID, baseRunConfig(30, 1), 5)
	require.NoError(t, err)
	require.Len(t, runs, 5)

	seeds := make(map[int64]bool, 5)
	for _, run := range runs {
		assert.Equal(t, models.SeedStrategySequence, run.Config.SeedConfig.Strategy)
		seeds[run.SeedUsed] = true
	}
	for seed := int64(1); seed <= 5; seed++ {
		assert.True(t, seeds[seed], "missing ensemble seed %d", seed)
	}

	for _, run := range runs {
		app.waitForRunStatus(t, run.ID, models.RunStatusSucceeded, runWait)
	}

	node := app.waitForAggregate(t, root.ID, 5, runWait)
	assert.Equal(t, 5, node.AggregatedOutcome.SampleCount)
	assert.Len(t, node.AggregatedOutcome.RunIDs, 5)
	assert.GreaterOrEqual(t, node.MinEnsembleSize, 5)
	assert.False(t, node.IsStale)
	require.NotNil(t, node.Confidence)
	require.Contains(t, node.AggregatedOutcome.Outcomes, node.AggregatedOutcome.PrimaryOutcome)
	primary := node.AggregatedOutcome.Outcomes[node.AggregatedOutcome.PrimaryOutcome]
	assert.Equal(t, 5, primary.SampleCount)
	assert.GreaterOrEqual(t, primary.Max, primary.Min)
}

// TestStaleNodeRefresh queues one run against a stale node and clears the
// flag; refreshing a fresh node is a no-op.
func TestStaleNodeRefresh(t *testing.T) {
	app := newTestApp(t, withoutWorkers())
	ctx := context.Background()
	project, root := app.createProject(t)
	_ = project

	require.True(t, root.IsStale)

	run, err := app.universe.QueueNodeRefresh(ctx, root.ID, baseRunConfig(20, 5), 1)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.Equal(t, 1, run.Priority)

	node, err := app.store.Nodes.Get(ctx, root.ID)
	require.NoError(t, err)
	assert.False(t, node.IsStale)

	again, err := app.universe.QueueNodeRefresh(ctx, root.ID, baseRunConfig(20, 5), 1)
	require.NoError(t, err)
	assert.Nil(t, again)
}

// TestUniverseMapAndComparison checks the read paths over a small DAG.
func TestUniverseMapAndComparison(t *testing.T) {
	app := newTestApp(t, withoutWorkers())
	ctx := context.Background()
	project, root := app.createProject(t)

	forked, err := app.universe.ForkNode(ctx, &models.ForkNodeRequest{
		ParentID: root.ID,
		Intervention: models.Intervention{
			Type: models.InterventionEventScript,
			EventScripts: []models.EventScriptRef{
				{ScriptName: "supply_shock", AtTick: 5},
			},
		},
	})
	require.NoError(t, err)

	umap, err := app.universe.UniverseMap(ctx, project.ID, -1, false)
	require.NoError(t, err)
	assert.Len(t, umap.Nodes, 2)
	assert.Len(t, umap.Edges, 1)

	// Depth 0 drops the child and the dangling edge.
	shallow, err := app.universe.UniverseMap(ctx, project.ID, 0, false)
	require.NoError(t, err)
	assert.Len(t, shallow.Nodes, 1)
	assert.Empty(t, shallow.Edges)

	cmp, err := app.universe.CompareNodes(ctx, []uuid.UUID{root.ID, forked.Node.ID})
	require.NoError(t, err)
	require.Len(t, cmp.Nodes, 2)
	assert.Equal(t, 0, cmp.Nodes[0].Depth)
	assert.Equal(t, 1, cmp.Nodes[1].Depth)
	assert.True(t, cmp.Nodes[1].IsStale)
}
