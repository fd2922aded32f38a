// Package events delivers run lifecycle events over PostgreSQL
// LISTEN/NOTIFY so every pod observes progress regardless of which worker
// executes the run.
//
// Two delivery patterns:
//
// Pattern 1 — PERSISTENT (run.status, node.aggregate):
//
//	The event row is written to run_events and the NOTIFY fires in the
//	same transaction, so a notification is never observed without its
//	backing row. Subscribers that connect late replay missed events via
//	CatchupEvents using the db_event_id injected into each NOTIFY payload.
//
// Pattern 2 — TRANSIENT (run.progress):
//
//	NOTIFY only, no DB row. Progress ticks are high-frequency and
//	superseded within seconds; a dropped one costs nothing because the
//	next heartbeat carries the current tick count.
//
// Channels: each run gets its own channel ("run:{id}") and terminal
// status events are mirrored to the global "runs" channel for list views.
package events

import "github.com/google/uuid"

// Persistent event types (stored in run_events + NOTIFY).
const (
	// Run lifecycle transitions: queued, running, succeeded, failed, canceled.
	EventTypeRunStatus = "run.status"

	// Node aggregate recomputed after a run completes.
	EventTypeNodeAggregate = "node.aggregate"
)

// Transient event types (NOTIFY only, no DB persistence).
const (
	// Tick progress during execution — high-frequency, ephemeral.
	EventTypeRunProgress = "run.progress"
)

// GlobalRunsChannel carries run status and node aggregate events for all
// runs in the deployment. Dashboards subscribe here instead of opening a
// channel per run.
const GlobalRunsChannel = "runs"

// RunChannel returns the channel name for a specific run's events.
// Format: "run:{run_id}"
func RunChannel(runID uuid.UUID) string {
	return "run:" + runID.String()
}
