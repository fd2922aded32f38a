// Package queue provides run queue management and processing
// infrastructure: the worker pool that claims queued runs, the executor
// that drives the simulation engine, and orphan recovery.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/store"
	"github.com/manyworlds/continuum/pkg/telemetry"
)

// Sentinel errors for queue operations.
var (
	// ErrNoRunsAvailable indicates no queued runs are waiting.
	ErrNoRunsAvailable = errors.New("no runs available")

	// ErrAtCapacity indicates the global concurrent run limit is reached.
	ErrAtCapacity = errors.New("at capacity")
)

// RunExecutor executes one claimed run end to end.
//
// The executor owns the ENTIRE run lifecycle internally: world
// materialization, the tick loop, telemetry finalization (also for
// partial/canceled runs), and reliability scoring. The worker only
// handles claiming, heartbeat, the terminal status write, and
// post-completion publishing.
//
// Progress reports the ticks executed so far for a run this executor is
// currently driving; the worker feeds it into the heartbeat.
//
// PostComplete runs after the terminal status is committed: it folds the
// node aggregate and persists the evidence pack for succeeded runs. It is
// called with a background context so cancellation of the run context
// cannot corrupt post-processing.
type RunExecutor interface {
	Execute(ctx context.Context, run *models.Run) *ExecutionResult
	PostComplete(ctx context.Context, run *models.Run, result *ExecutionResult)
	Progress(runID uuid.UUID) int
}

// ExecutionResult is the terminal state of one run execution. All
// intermediate state (telemetry blob, manifest entries) was already
// written during processing.
type ExecutionResult struct {
	// Update carries the terminal status and result fields for the final
	// guarded write.
	Update store.TerminalUpdate

	// Summary and BlobHash describe the finalized telemetry; nil/empty
	// when finalization itself failed.
	Summary  *telemetry.Summary
	BlobHash string

	// Err is the underlying failure for logging. Nil on success and on
	// clean cancellation.
	Err error
}

// applyTo copies the terminal fields onto the run row so it can be
// published without a re-read.
func (r *ExecutionResult) applyTo(run *models.Run) {
	run.Status = r.Update.Status
	run.ErrorKind = r.Update.ErrorKind
	run.ErrorMessage = r.Update.ErrorMessage
	run.Outcome = r.Update.Outcome
	run.ExecCounters = r.Update.ExecCounters
	run.GuardStats = r.Update.GuardStats
	run.TelemetryRef = r.Update.TelemetryRef
	run.TelemetryHash = r.Update.TelemetryHash
	run.ResultHash = r.Update.ResultHash
	run.Reliability = r.Update.Reliability
	run.TicksExecuted = r.Update.TicksExecuted
}

// Publisher is the event delivery surface the queue needs.
// *events.Publisher satisfies it.
type Publisher interface {
	PublishRunStatus(ctx context.Context, run *models.Run) error
	PublishRunProgress(ctx context.Context, run *models.Run) error
	PublishNodeAggregate(ctx context.Context, runID uuid.UUID, node *models.Node) error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveRuns       int            `json:"active_runs"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentRunID  string    `json:"current_run_id,omitempty"`
	RunsProcessed int       `json:"runs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
