package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaybeSnapshotCadence(t *testing.T) {
	pop := newTestPopulation(t, 2)
	cm := NewCheckpointManager(5, 10)
	env := map[string]float64{"temperature": 20}

	taken := 0
	for tick := 0; tick <= 12; tick++ {
		if cm.MaybeSnapshot(tick, pop, env) {
			taken++
		}
	}

	// Ticks 0, 5, 10.
	assert.Equal(t, 3, taken)
	assert.Equal(t, 3, cm.Len())
}

func TestSnapshotDisabledWithoutInterval(t *testing.T) {
	pop := newTestPopulation(t, 2)
	cm := NewCheckpointManager(0, 10)

	assert.False(t, cm.MaybeSnapshot(0, pop, nil))
	assert.Zero(t, cm.Len())
}

func TestSnapshotEvictsOldestFirst(t *testing.T) {
	pop := newTestPopulation(t, 2)
	cm := NewCheckpointManager(1, 3)

	for tick := 0; tick < 5; tick++ {
		cm.Snapshot(tick, pop, nil)
	}

	assert.Equal(t, 3, cm.Len())
	latest, ok := cm.Latest()
	require.True(t, ok)
	assert.Equal(t, 4, latest.Tick)

	_, ok = cm.Rollback(1)
	assert.False(t, ok, "ticks 0 and 1 were evicted")
}

func TestRollbackPicksNearestAtOrBefore(t *testing.T) {
	pop := newTestPopulation(t, 2)
	cm := NewCheckpointManager(5, 10)
	for tick := 0; tick <= 20; tick++ {
		cm.MaybeSnapshot(tick, pop, nil)
	}

	cp, ok := cm.Rollback(13)
	require.True(t, ok)
	assert.Equal(t, 10, cp.Tick)

	// Checkpoints after the rollback point are discarded.
	assert.Equal(t, 3, cm.Len())
	latest, _ := cm.Latest()
	assert.Equal(t, 10, latest.Tick)

	cp, ok = cm.Rollback(10)
	require.True(t, ok)
	assert.Equal(t, 10, cp.Tick)
}

func TestRestoreRoundTrip(t *testing.T) {
	pop := newTestPopulation(t, 2)
	pop.SetScalar(0, ColEngagement, 0.5)
	pop.Preferences.Set(1, 0, 0.9)
	env := map[string]float64{"turnout_forecast": 0.62}

	cm := NewCheckpointManager(1, 5)
	cm.Snapshot(3, pop, env)

	// Diverge, then roll back.
	pop.SetScalar(0, ColEngagement, 0.99)
	pop.Preferences.Set(1, 0, 0.1)
	env["turnout_forecast"] = 0.1

	cp, ok := cm.Rollback(7)
	require.True(t, ok)
	restoredEnv := pop.Restore(cp)

	assert.InDelta(t, 0.5, pop.Scalar(0, ColEngagement), 1e-12)
	assert.InDelta(t, 0.9, pop.Preferences.At(1, 0), 1e-12)
	assert.InDelta(t, 0.62, restoredEnv["turnout_forecast"], 1e-12)
}

func TestRestoreLeavesCheckpointIntact(t *testing.T) {
	pop := newTestPopulation(t, 2)
	pop.SetScalar(0, ColCertainty, 0.4)

	cm := NewCheckpointManager(1, 5)
	cm.Snapshot(0, pop, nil)
	cp, ok := cm.Rollback(0)
	require.True(t, ok)

	pop.Restore(cp)
	pop.SetScalar(0, ColCertainty, 0.8)

	// A second restore from the same checkpoint sees the original value.
	pop.Restore(cp)
	assert.InDelta(t, 0.4, pop.Scalar(0, ColCertainty), 1e-12)
}

func TestSnapshotCopiesEnv(t *testing.T) {
	pop := newTestPopulation(t, 2)
	env := map[string]float64{"media_tone": -0.2}

	cm := NewCheckpointManager(1, 5)
	cm.Snapshot(0, pop, env)
	env["media_tone"] = 0.9

	cp, ok := cm.Latest()
	require.True(t, ok)
	assert.InDelta(t, -0.2, cp.Env["media_tone"], 1e-12)
}
