package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/metrics"
	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/store"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and executes runs.
type Worker struct {
	id        string
	podID     string
	store     *store.Store
	config    *config.QueueConfig
	executor  RunExecutor
	publisher Publisher
	pool      RunRegistry
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentRunID  string
	runsProcessed int
	lastActivity  time.Time
}

// RunRegistry is the subset of WorkerPool used by Worker for run
// registration.
type RunRegistry interface {
	RegisterRun(runID uuid.UUID, cancel context.CancelFunc)
	UnregisterRun(runID uuid.UUID)
}

// NewWorker creates a new queue worker.
// publisher may be nil (event delivery disabled).
func NewWorker(id, podID string, st *store.Store, cfg *config.QueueConfig, executor RunExecutor, pool RunRegistry, publisher Publisher) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		store:        st,
		config:       cfg,
		executor:     executor,
		publisher:    publisher,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentRunID:  w.currentRunID,
		RunsProcessed: w.runsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoRunsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing run", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a run, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// 1. Check global capacity (best-effort; racy with concurrent workers
	//    but bounded by WorkerCount and mitigated by poll jitter).
	activeCount, err := w.store.Runs.CountActive(ctx)
	if err != nil {
		return fmt.Errorf("checking active runs: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentRuns {
		return ErrAtCapacity
	}

	// 2. Claim next run (priority first, then FIFO, SKIP LOCKED).
	run, err := w.store.Runs.ClaimNext(ctx, w.podID)
	if errors.Is(err, models.ErrNotFound) {
		return ErrNoRunsAvailable
	}
	if err != nil {
		return err
	}
	metrics.RunsClaimed.Inc()

	log := slog.With("run_id", run.ID, "worker_id", w.id)
	log.Info("Run claimed", "node_id", run.NodeID, "seed", run.SeedUsed)

	w.publishStatus(ctx, run)

	w.setStatus(WorkerStatusWorking, run.ID.String())
	defer w.setStatus(WorkerStatusIdle, "")

	// 3. Create run context with the wall-clock budget.
	runCtx, cancelRun := context.WithTimeout(ctx, w.runBudget(run))
	defer cancelRun()

	// 4. Register cancel function for API-triggered cancellation.
	w.pool.RegisterRun(run.ID, cancelRun)
	defer w.pool.UnregisterRun(run.ID)

	// 5. Start heartbeat; it also polls cancel_requested.
	heartbeatCtx, cancelHeartbeat := context.WithCancel(runCtx)
	go w.runHeartbeat(heartbeatCtx, run.ID, cancelRun)

	// 6. Execute the run.
	started := time.Now()
	result := w.executor.Execute(runCtx, run)
	cancelHeartbeat()

	// Nil-guard: synthesize a safe result if the executor returned nil.
	if result == nil {
		result = w.synthesizeResult(runCtx, run)
	}

	// 7. Write terminal status with a background context — the run
	//    context may already be cancelled.
	if err := w.store.Runs.Complete(context.Background(), run.ID, result.Update); err != nil {
		if errors.Is(err, models.ErrStateTransition) {
			// Orphan detection or a concurrent cancel got there first.
			log.Warn("Run already terminal, skipping completion", "error", err)
			return nil
		}
		log.Error("Failed to write terminal run status", "error", err)
		return err
	}
	result.applyTo(run)

	metrics.RunsCompleted.WithLabelValues(string(run.Status)).Inc()
	metrics.RunDuration.WithLabelValues(string(run.Status)).Observe(time.Since(started).Seconds())

	// 8. Publish terminal status, then aggregate + evidence for
	//    succeeded runs.
	w.publishStatus(context.Background(), run)
	w.executor.PostComplete(context.Background(), run, result)

	w.mu.Lock()
	w.runsProcessed++
	w.mu.Unlock()

	log.Info("Run processing complete",
		"status", run.Status,
		"ticks", run.TicksExecuted,
		"duration", time.Since(started))
	return nil
}

// synthesizeResult builds a terminal result when the executor returned
// nil, classifying by what happened to the run context.
func (w *Worker) synthesizeResult(runCtx context.Context, run *models.Run) *ExecutionResult {
	kind := models.ErrorKindInternal
	status := models.RunStatusFailed
	var msg string

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		kind = models.ErrorKindTimeBudgetExceeded
		msg = fmt.Sprintf("run exceeded its %v wall-clock budget", w.runBudget(run))
	case errors.Is(runCtx.Err(), context.Canceled):
		status = models.RunStatusCanceled
		msg = "run canceled"
	default:
		msg = "executor returned nil result"
	}

	upd := store.TerminalUpdate{
		Status:        status,
		ErrorMessage:  &msg,
		TicksExecuted: w.executor.Progress(run.ID),
	}
	if status == models.RunStatusFailed {
		upd.ErrorKind = &kind
	}
	return &ExecutionResult{Update: upd, Err: runCtx.Err()}
}

// runBudget returns the wall-clock ceiling for a run: its configured
// max_execution_time_ms, or the queue-wide fallback.
func (w *Worker) runBudget(run *models.Run) time.Duration {
	if run.Config.MaxExecutionMS > 0 {
		return time.Duration(run.Config.MaxExecutionMS) * time.Millisecond
	}
	return w.config.RunTimeout
}

// runHeartbeat periodically refreshes last_heartbeat_at with the current
// tick count and cancels the run context when cancellation was requested
// through the API.
func (w *Worker) runHeartbeat(ctx context.Context, runID uuid.UUID, cancelRun context.CancelFunc) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelRequested, err := w.store.Runs.Heartbeat(ctx, runID, w.executor.Progress(runID))
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("Heartbeat update failed", "run_id", runID, "error", err)
				}
				continue
			}
			if cancelRequested {
				slog.Info("Cancel requested, stopping run at next tick boundary", "run_id", runID)
				cancelRun()
				return
			}
		}
	}
}

// publishStatus publishes a run status event. Non-blocking: errors are
// logged, never fail the run.
func (w *Worker) publishStatus(ctx context.Context, run *models.Run) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.PublishRunStatus(ctx, run); err != nil {
		slog.Warn("Failed to publish run status",
			"run_id", run.ID, "status", run.Status, "error", err)
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentRunID = runID
	w.lastActivity = time.Now()
}
