package state

// Checkpoint is a compact snapshot of the rollback-relevant state at one
// tick: the global environment plus the three dense matrices. Memories,
// social edges, and circular buffers are not checkpointed; rollback
// serves internal retry only and replays re-derive those from telemetry.
type Checkpoint struct {
	Tick            int
	Env             map[string]float64
	Preferences     *Matrix
	IssuePriorities *Matrix
	Scalars         *Matrix
}

// CheckpointManager retains a bounded window of checkpoints, oldest
// evicted first. An interval < 1 disables snapshotting.
type CheckpointManager struct {
	interval int
	maxKeep  int
	snaps    []*Checkpoint
}

// NewCheckpointManager creates a manager snapshotting every interval
// ticks and keeping at most maxKeep checkpoints.
func NewCheckpointManager(interval, maxKeep int) *CheckpointManager {
	if maxKeep < 1 {
		maxKeep = 1
	}
	return &CheckpointManager{interval: interval, maxKeep: maxKeep}
}

// MaybeSnapshot takes a checkpoint when the tick falls on the interval.
// Returns whether one was taken.
func (cm *CheckpointManager) MaybeSnapshot(tick int, pop *Population, env map[string]float64) bool {
	if cm.interval < 1 || tick%cm.interval != 0 {
		return false
	}
	cm.Snapshot(tick, pop, env)
	return true
}

// Snapshot unconditionally records a checkpoint for the tick, evicting
// the oldest when over capacity.
func (cm *CheckpointManager) Snapshot(tick int, pop *Population, env map[string]float64) {
	envCopy := make(map[string]float64, len(env))
	for k, v := range env {
		envCopy[k] = v
	}
	cm.snaps = append(cm.snaps, &Checkpoint{
		Tick:            tick,
		Env:             envCopy,
		Preferences:     pop.Preferences.Clone(),
		IssuePriorities: pop.IssuePriorities.Clone(),
		Scalars:         pop.Scalars.Clone(),
	})
	if len(cm.snaps) > cm.maxKeep {
		cm.snaps = cm.snaps[1:]
	}
}

// Len returns how many checkpoints are retained.
func (cm *CheckpointManager) Len() int {
	return len(cm.snaps)
}

// Latest returns the newest checkpoint, if any.
func (cm *CheckpointManager) Latest() (*Checkpoint, bool) {
	if len(cm.snaps) == 0 {
		return nil, false
	}
	return cm.snaps[len(cm.snaps)-1], true
}

// Rollback returns the most recent checkpoint at or before the requested
// tick and discards every later one, which would describe a future the
// caller is abandoning. Returns false when no checkpoint qualifies.
func (cm *CheckpointManager) Rollback(tick int) (*Checkpoint, bool) {
	for i := len(cm.snaps) - 1; i >= 0; i-- {
		if cm.snaps[i].Tick <= tick {
			cm.snaps = cm.snaps[:i+1]
			return cm.snaps[i], true
		}
	}
	return nil, false
}

// Restore copies a checkpoint's matrices back into the population and
// returns a fresh copy of its environment. The checkpoint itself stays
// intact, so the same checkpoint can be restored repeatedly.
func (p *Population) Restore(cp *Checkpoint) map[string]float64 {
	p.Preferences.CopyFrom(cp.Preferences)
	p.IssuePriorities.CopyFrom(cp.IssuePriorities)
	p.Scalars.CopyFrom(cp.Scalars)

	env := make(map[string]float64, len(cp.Env))
	for k, v := range cp.Env {
		env[k] = v
	}
	return env
}
