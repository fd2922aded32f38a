package e2e

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/telemetry"
)

const runWait = 60 * time.Second

// TestBaselineRunLifecycle drives one run from admission to its evidence
// pack: horizon 50 with keyframes every 10 ticks yields exactly six
// keyframes (0, 10, 20, 30, 40, 50) in the sealed telemetry blob.
func TestBaselineRunLifecycle(t *testing.T) {
	app := newTestApp(t)
	project, root := app.createProject(t)

	queued := app.queueRun(t, project.ID, root.ID, baseRunConfig(50, 42))
	run := app.waitForRunStatus(t, queued.ID, models.RunStatusSucceeded, runWait)

	assert.Equal(t, int64(42), run.SeedUsed)
	assert.Equal(t, 50, run.TicksExecuted)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.CompletedAt)
	require.NotNil(t, run.Outcome)
	assert.NotEmpty(t, run.Outcome.PrimaryOutcome)
	assert.GreaterOrEqual(t, run.Outcome.PrimaryProbability, 0.0)
	assert.LessOrEqual(t, run.Outcome.PrimaryProbability, 1.0)
	require.NotNil(t, run.ResultHash)
	require.NotNil(t, run.TelemetryRef)
	require.NotNil(t, run.TelemetryHash)

	require.NotNil(t, run.ExecCounters)
	assert.Equal(t, 50, run.ExecCounters.TicksExecuted)
	assert.Zero(t, run.ExecCounters.LLMCallsInTickLoop)
	assert.Positive(t, run.ExecCounters.AgentStepsExecuted)

	// The blob is fetchable through the persisted ref and replays from
	// full keyframes.
	key, ok := telemetry.KeyFromRef(*run.TelemetryRef)
	require.True(t, ok)
	data, err := app.blobs.Get(context.Background(), key)
	require.NoError(t, err)

	var blob telemetry.Blob
	require.NoError(t, json.Unmarshal(data, &blob))
	assert.Equal(t, run.ID, blob.RunID)
	assert.Equal(t, int64(42), blob.SeedUsed)
	assert.Equal(t, 50, blob.TicksExecuted)
	assert.Equal(t, []int{0, 10, 20, 30, 40, 50}, blob.Index.KeyframeTicks)
	assert.Len(t, blob.Keyframes, 6)
	assert.Equal(t, 25, blob.AgentCount)

	// Evidence pack and aggregate land after the terminal status.
	pack := app.waitForEvidencePack(t, run.ID, runWait)
	assert.Equal(t, project.TenantID, pack.TenantID)
	assert.Equal(t, run.ConfigHash, pack.DeterminismSignature.RunConfigHash)
	assert.Equal(t, int64(42), pack.DeterminismSignature.SeedUsed)
	assert.Equal(t, *run.ResultHash, pack.DeterminismSignature.ResultHash)
	assert.False(t, pack.ExecutionProof.Partial)
	assert.Equal(t, 6, pack.TelemetryProof.KeyframeCount)
	require.NotNil(t, pack.ReliabilityProof)
	assert.GreaterOrEqual(t, pack.ReliabilityProof.Score, 0.0)
	assert.LessOrEqual(t, pack.ReliabilityProof.Score, 1.0)
	assert.NotEmpty(t, pack.ReliabilityProof.ConfidenceLevel)

	// One run is below the default minimum ensemble, so the aggregate
	// exists but the node stays stale.
	node := app.waitForAggregate(t, root.ID, 1, runWait)
	assert.Equal(t, 1, node.AggregatedOutcome.SampleCount)
	assert.True(t, node.IsStale)
	assert.Equal(t, 1.0, node.Probability)
}

// TestDeterministicReplay runs the same config and seed twice on one node
// and expects byte-identical result and telemetry hashes.
func TestDeterministicReplay(t *testing.T) {
	app := newTestApp(t)
	project, root := app.createProject(t)

	cfg := baseRunConfig(40, 7)
	// Single-partition scheduling is the determinism reference profile.
	cfg.SchedulerProfile = "single"

	first := app.queueRun(t, project.ID, root.ID, cfg)
	second := app.queueRun(t, project.ID, root.ID, cfg)

	runA := app.waitForRunStatus(t, first.ID, models.RunStatusSucceeded, runWait)
	runB := app.waitForRunStatus(t, second.ID, models.RunStatusSucceeded, runWait)

	assert.Equal(t, runA.ConfigHash, runB.ConfigHash)
	assert.Equal(t, runA.SeedUsed, runB.SeedUsed)

	cmp, err := app.evidence.CompareRuns(context.Background(), runA.ID, runB.ID)
	require.NoError(t, err)
	assert.True(t, cmp.IsDeterministic, "differences: %v", cmp.Differences)
	assert.Empty(t, cmp.Differences)
}

// TestCancelQueuedRun cancels a run before any worker claims it.
func TestCancelQueuedRun(t *testing.T) {
	app := newTestApp(t, withoutWorkers())
	project, root := app.createProject(t)

	queued := app.queueRun(t, project.ID, root.ID, baseRunConfig(50, 1))

	run, err := app.orch.CancelRun(context.Background(), queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCanceled, run.Status)

	// Cancellation of a terminal run is rejected.
	_, err = app.orch.CancelRun(context.Background(), queued.ID)
	require.ErrorIs(t, err, models.ErrStateTransition)
}

// TestCancelRunningRun interrupts a long run mid-flight; the run lands on
// canceled with partial progress and partial telemetry.
func TestCancelRunningRun(t *testing.T) {
	app := newTestApp(t)
	project, root := app.createProject(t)

	cfg := baseRunConfig(100000, 3)
	cfg.MaxAgents = 2000
	queued := app.queueRun(t, project.ID, root.ID, cfg)

	app.waitForRunStatus(t, queued.ID, models.RunStatusRunning, runWait)
	_, err := app.orch.CancelRun(context.Background(), queued.ID)
	require.NoError(t, err)

	run := app.waitForTerminal(t, queued.ID, runWait)
	assert.Equal(t, models.RunStatusCanceled, run.Status)
	assert.Less(t, run.TicksExecuted, 100000)
	assert.Nil(t, run.ErrorKind)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "canceled")

	// Partial telemetry is still sealed when at least one tick ran.
	if run.TicksExecuted > 0 {
		require.NotNil(t, run.TelemetryRef)
		key, ok := telemetry.KeyFromRef(*run.TelemetryRef)
		require.True(t, ok)
		_, err := app.blobs.Get(context.Background(), key)
		require.NoError(t, err)
	}
}
