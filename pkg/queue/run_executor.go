package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/evidence"
	"github.com/manyworlds/continuum/pkg/gateway"
	"github.com/manyworlds/continuum/pkg/metrics"
	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/sim"
	"github.com/manyworlds/continuum/pkg/storage"
	"github.com/manyworlds/continuum/pkg/store"
	"github.com/manyworlds/continuum/pkg/telemetry"
	"github.com/manyworlds/continuum/pkg/universe"
)

// progressPublishEvery is the tick interval between transient progress
// events. Kept independent of the keyframe interval so short keyframe
// settings don't flood NOTIFY.
const progressPublishEvery = 10

// Executor drives claimed runs through the simulation engine. It
// materializes the world from the node's patch chain, runs the tick loop
// with cancellation at tick boundaries, finalizes telemetry (also for
// partial runs), and scores reliability.
type Executor struct {
	cfg       *config.Config
	universe  *universe.Service
	evidence  *evidence.Service
	gw        *gateway.Gateway
	blobs     storage.BlobStore
	publisher Publisher
	tracer    trace.Tracer
	log       *slog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*sim.Engine
}

// NewExecutor creates the run executor. gw and publisher may be nil
// (no external data access / event delivery disabled).
func NewExecutor(cfg *config.Config, uni *universe.Service, evid *evidence.Service, gw *gateway.Gateway, blobs storage.BlobStore, publisher Publisher, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:       cfg,
		universe:  uni,
		evidence:  evid,
		gw:        gw,
		blobs:     blobs,
		publisher: publisher,
		tracer:    otel.Tracer("continuum/queue"),
		log:       logger.With("component", "executor"),
	}
}

// Progress reports the ticks executed so far for an active run.
func (e *Executor) Progress(runID uuid.UUID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if engine, ok := e.active[runID]; ok {
		return engine.TicksExecuted()
	}
	return 0
}

// Execute runs one claimed run to a terminal state. It never returns nil.
func (e *Executor) Execute(ctx context.Context, run *models.Run) *ExecutionResult {
	ctx, span := e.tracer.Start(ctx, "run.execute",
		trace.WithAttributes(
			attribute.String("run.id", run.ID.String()),
			attribute.String("node.id", run.NodeID.String()),
			attribute.Int64("run.seed", run.SeedUsed),
		))
	defer span.End()

	log := e.log.With("run_id", run.ID)

	engine, writer, err := e.buildEngine(ctx, run)
	if err != nil {
		log.Error("Failed to build engine", "error", err)
		return e.failed(run, nil, err)
	}

	e.register(run.ID, engine)
	defer e.unregister(run.ID)

	tickErr := e.tickLoop(ctx, run, engine)

	// Telemetry is finalized even for partial and canceled runs; replays
	// of what did execute stay possible.
	telRes := e.finalizeTelemetry(run, writer)

	guardStats := e.releaseGuard(run.ID)

	if tickErr != nil {
		log.Warn("Run did not complete", "ticks", engine.TicksExecuted(), "error", tickErr)
		return e.terminal(run, engine, telRes, guardStats, tickErr)
	}

	return e.succeeded(ctx, run, engine, telRes, guardStats)
}

// PostComplete folds the node aggregate and persists the evidence pack
// after the terminal status is committed. Failures here never affect the
// run's terminal state; they are logged and the aggregate stays stale
// until the next completed run retries it.
func (e *Executor) PostComplete(ctx context.Context, run *models.Run, result *ExecutionResult) {
	if run.Status != models.RunStatusSucceeded {
		return
	}
	ctx, span := e.tracer.Start(ctx, "run.post_complete",
		trace.WithAttributes(attribute.String("run.id", run.ID.String())))
	defer span.End()

	log := e.log.With("run_id", run.ID, "node_id", run.NodeID)

	node, err := e.universe.AggregateRuns(ctx, run.NodeID)
	if err != nil {
		log.Error("Failed to aggregate node runs", "error", err)
	} else if e.publisher != nil {
		if err := e.publisher.PublishNodeAggregate(ctx, run.ID, node); err != nil {
			log.Warn("Failed to publish node aggregate", "error", err)
		}
	}

	if result.Summary != nil {
		if _, err := e.evidence.AssemblePack(ctx, run, result.Summary, result.BlobHash); err != nil {
			log.Error("Failed to assemble evidence pack", "error", err)
		}
	}
}

// buildEngine materializes the world from the node's patch chain plus the
// run's own scenario patch and constructs the engine and telemetry writer.
func (e *Executor) buildEngine(ctx context.Context, run *models.Run) (*sim.Engine, *telemetry.Writer, error) {
	profile, err := e.cfg.GetSchedulerProfile(run.Config.SchedulerProfile)
	if err != nil {
		return nil, nil, models.NewValidationError("scheduler_profile",
			fmt.Sprintf("unknown profile %q", run.Config.SchedulerProfile))
	}
	space, err := e.cfg.GetActionSpace(run.Config.ActionSpace)
	if err != nil {
		return nil, nil, models.NewValidationError("action_space",
			fmt.Sprintf("unknown action space %q", run.Config.ActionSpace))
	}

	patches, err := e.universe.PatchesForNode(ctx, run.NodeID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load node patches: %w", err)
	}
	if run.Config.ScenarioPatch != nil {
		patch, err := compileRunPatch(run.Config.ScenarioPatch)
		if err != nil {
			return nil, nil, err
		}
		patches = append(patches, *patch)
	}

	world, err := sim.MaterializeWorld(nil, patches)
	if err != nil {
		return nil, nil, err
	}

	writer := telemetry.NewWriter(run.ID, run.SeedUsed, run.Config.KeyframeInterval)

	opts := sim.Options{
		RunID:              run.ID,
		Seed:               run.SeedUsed,
		Horizon:            run.Config.Horizon,
		MaxAgents:          run.Config.MaxAgents,
		FaultTolerance:     run.Config.FaultTolerance,
		Profile:            profile,
		Space:              space,
		PolicyKind:         run.Config.PolicyKind,
		World:              world,
		Writer:             writer,
		CheckpointInterval: run.Config.KeyframeInterval,
		Logger:             e.log,
	}
	if run.Config.PolicyKind == sim.PolicyNeural {
		net, err := sim.DefaultNetwork(run.SeedUsed, space)
		if err != nil {
			return nil, nil, err
		}
		opts.Network = net
	}

	engine, err := sim.New(opts)
	if err != nil {
		return nil, nil, err
	}
	return engine, writer, nil
}

// compileRunPatch converts a run-level intervention into applicable
// deltas. NL queries are compiled at fork time and never reach execution.
func compileRunPatch(iv *models.Intervention) (*models.PatchDeltas, error) {
	switch iv.Type {
	case models.InterventionVariableDelta:
		return &models.PatchDeltas{Variables: iv.VariableDeltas}, nil
	case models.InterventionEventScript:
		return &models.PatchDeltas{EventScripts: iv.EventScripts}, nil
	default:
		return nil, models.NewValidationError("scenario_patch",
			fmt.Sprintf("intervention type %q cannot be executed directly", iv.Type))
	}
}

// tickLoop advances the engine to the horizon, honoring cancellation at
// tick boundaries and publishing transient progress along the way.
func (e *Executor) tickLoop(ctx context.Context, run *models.Run, engine *sim.Engine) error {
	if err := engine.Start(); err != nil {
		return err
	}
	for t := engine.TicksExecuted() + 1; t <= engine.Horizon(); t++ {
		if err := engine.Step(ctx, t); err != nil {
			return err
		}
		metrics.TicksExecuted.Inc()
		if t%progressPublishEvery == 0 {
			e.publishProgress(ctx, run, t)
		}
	}
	return nil
}

// publishProgress emits a transient progress event. Best-effort.
func (e *Executor) publishProgress(ctx context.Context, run *models.Run, tick int) {
	if e.publisher == nil {
		return
	}
	snapshot := *run
	snapshot.Status = models.RunStatusRunning
	snapshot.TicksExecuted = tick
	if err := e.publisher.PublishRunProgress(ctx, &snapshot); err != nil {
		e.log.Debug("Failed to publish run progress",
			"run_id", run.ID, "tick", tick, "error", err)
	}
}

// finalizeTelemetry seals and uploads the blob with a background context:
// a canceled run's partial telemetry is still worth keeping. Returns nil
// when nothing was captured or the upload failed.
func (e *Executor) finalizeTelemetry(run *models.Run, writer *telemetry.Writer) *telemetry.Result {
	if writer == nil {
		return nil
	}
	res, err := writer.Finalize(context.Background(), e.blobs)
	if err != nil {
		// A run that failed before its initial keyframe has nothing to seal.
		e.log.Warn("Failed to finalize telemetry", "run_id", run.ID, "error", err)
		return nil
	}
	return res
}

// releaseGuard collects and frees the run's leakage guard scope.
func (e *Executor) releaseGuard(runID uuid.UUID) *models.LeakageGuardStats {
	if e.gw == nil {
		return nil
	}
	stats := e.gw.ReleaseRun(runID)
	return &stats
}

// succeeded assembles the terminal update for a run that reached its
// horizon: outcome, counters, hashes, and the reliability score.
func (e *Executor) succeeded(ctx context.Context, run *models.Run, engine *sim.Engine, telRes *telemetry.Result, guardStats *models.LeakageGuardStats) *ExecutionResult {
	outcome := engine.Outcome()
	counters := engine.Counters()

	resultHash, err := evidence.ResultHash(outcome)
	if err != nil {
		return e.failed(run, guardStats, fmt.Errorf("failed to hash outcome: %w", err))
	}

	upd := store.TerminalUpdate{
		Status:        models.RunStatusSucceeded,
		Outcome:       outcome,
		ExecCounters:  &counters,
		GuardStats:    guardStats,
		ResultHash:    &resultHash,
		TicksExecuted: engine.TicksExecuted(),
	}

	result := &ExecutionResult{}
	if telRes != nil {
		ref := telRes.Ref.String()
		upd.TelemetryRef = &ref
		upd.TelemetryHash = &telRes.TelemetryHash
		result.Summary = &telRes.Summary
		result.BlobHash = telRes.BlobHash
	}

	// Reliability is scored against the run's terminal fields; stage them
	// on the row so the scorer sees outcome and guard activity.
	run.Outcome = outcome
	run.GuardStats = guardStats
	run.TicksExecuted = engine.TicksExecuted()
	reliability, err := e.evidence.ComputeReliability(ctx, run)
	if err != nil {
		e.log.Warn("Failed to compute reliability", "run_id", run.ID, "error", err)
	} else {
		upd.Reliability = reliability
	}

	result.Update = upd
	return result
}

// terminal classifies a tick-loop failure into the run's terminal state.
func (e *Executor) terminal(run *models.Run, engine *sim.Engine, telRes *telemetry.Result, guardStats *models.LeakageGuardStats, tickErr error) *ExecutionResult {
	counters := engine.Counters()
	ticks := engine.TicksExecuted()

	status := models.RunStatusFailed
	kind := errorKindFor(tickErr)
	msg := tickErr.Error()

	switch {
	case errors.Is(tickErr, context.DeadlineExceeded):
		kind = models.ErrorKindTimeBudgetExceeded
		msg = fmt.Sprintf("wall-clock budget exhausted at tick %d", ticks)
	case errors.Is(tickErr, context.Canceled):
		status = models.RunStatusCanceled
		msg = fmt.Sprintf("canceled at tick %d", ticks)
	}

	upd := store.TerminalUpdate{
		Status:        status,
		ErrorMessage:  &msg,
		ExecCounters:  &counters,
		GuardStats:    guardStats,
		TicksExecuted: ticks,
	}
	if status == models.RunStatusFailed {
		upd.ErrorKind = &kind
	}
	result := &ExecutionResult{Update: upd, Err: tickErr}
	if telRes != nil {
		ref := telRes.Ref.String()
		upd.TelemetryRef = &ref
		upd.TelemetryHash = &telRes.TelemetryHash
		result.Summary = &telRes.Summary
		result.BlobHash = telRes.BlobHash
		result.Update = upd
	}
	return result
}

// failed builds a terminal update for failures before or outside the tick
// loop (validation, world materialization, hashing).
func (e *Executor) failed(run *models.Run, guardStats *models.LeakageGuardStats, err error) *ExecutionResult {
	kind := errorKindFor(err)
	msg := err.Error()
	return &ExecutionResult{
		Update: store.TerminalUpdate{
			Status:       models.RunStatusFailed,
			ErrorKind:    &kind,
			ErrorMessage: &msg,
			GuardStats:   guardStats,
		},
		Err: err,
	}
}

// errorKindFor maps an error to its run error kind. Errors that carry
// their own kind win; validation errors and everything else fall back to
// stable defaults.
func errorKindFor(err error) models.ErrorKind {
	var kinder interface{ Kind() models.ErrorKind }
	if errors.As(err, &kinder) {
		return kinder.Kind()
	}
	if models.IsValidationError(err) {
		return models.ErrorKindValidation
	}
	return models.ErrorKindInternal
}

func (e *Executor) register(runID uuid.UUID, engine *sim.Engine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		e.active = make(map[uuid.UUID]*sim.Engine)
	}
	e.active[runID] = engine
}

func (e *Executor) unregister(runID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, runID)
}
