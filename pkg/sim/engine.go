// Package sim is the simulation engine: a deterministic tick loop that
// advances a population of agents through observe → evaluate → decide →
// act → update, partitioned for concurrency without sacrificing bitwise
// reproducibility. Given the same (config, world, seed) the engine
// produces identical telemetry and outcomes on every execution.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/sim/behavior"
	"github.com/manyworlds/continuum/pkg/sim/neural"
	"github.com/manyworlds/continuum/pkg/sim/simrng"
	"github.com/manyworlds/continuum/pkg/sim/state"
	"github.com/manyworlds/continuum/pkg/telemetry"
)

// Policy kinds accepted by Options.PolicyKind.
const (
	PolicyBehavioral = "behavioral"
	PolicyNeural     = "neural"
)

// defaultFaultTolerance is the terminated-agent share above which a run
// aborts when the config does not override it.
const defaultFaultTolerance = 0.05

// neuralObsWidth is the observation vector fed to a neural policy: the
// agent's seven scalars, seven influence-weighted peer means, and two
// environment features.
const neuralObsWidth = 2*int(state.NumScalarCols) + 2

// Options configures an engine for one run.
type Options struct {
	RunID     uuid.UUID
	Seed      int64
	Horizon   int
	MaxAgents int

	// FaultTolerance is the terminated-agent share that aborts the run;
	// ≤ 0 uses the default of 5%.
	FaultTolerance float64

	Profile *config.SchedulerProfileConfig
	Space   *config.ActionSpaceConfig

	// PolicyKind selects the decision policy; empty means behavioral.
	// Neural requires Network with matching dimensions.
	PolicyKind string
	Network    *neural.Network

	// World is the materialized initial environment; nil uses the
	// default baseline with no patches.
	World *World

	// Writer receives per-tick captures when set. The engine never
	// finalizes it; that stays with the caller so partial runs can still
	// be sealed.
	Writer *telemetry.Writer

	// Flusher enables write-behind persistence of scalar rows.
	Flusher *state.Flusher

	// CheckpointInterval > 0 snapshots compact state every that many
	// ticks, keeping at most MaxCheckpoints.
	CheckpointInterval int
	MaxCheckpoints     int

	Logger *slog.Logger
}

// FaultThresholdError aborts a run whose terminated-agent share exceeded
// the configured tolerance.
type FaultThresholdError struct {
	Terminated int
	Total      int
	Tolerance  float64
}

func (e *FaultThresholdError) Error() string {
	return fmt.Sprintf("%d of %d agents terminated, exceeding the %.1f%% fault tolerance",
		e.Terminated, e.Total, e.Tolerance*100)
}

// Kind maps the error to its run error kind.
func (e *FaultThresholdError) Kind() models.ErrorKind {
	return models.ErrorKindAgentFaultThreshold
}

// commit sentinel for agentResult.commit: anything ≥ 0 commits to that
// action, state.Uncommitted clears, commitUnchanged leaves it alone.
const commitUnchanged = -2

// agentResult is one agent's buffered writes for a tick. Partition
// workers fill these; the merge applies them single-threaded.
type agentResult struct {
	agent  int
	action int // -1 when the agent idled (all actions masked)
	reward float64
	deltas [state.NumScalarCols]float64
	commit int
	fault  string // non-empty marks the agent TERMINATED
}

type partStats struct {
	observe, evaluate, decide, act, update int64
}

// Engine drives one run's tick loop.
type Engine struct {
	runID   uuid.UUID
	seed    int64
	horizon int
	n       int
	log     *slog.Logger

	profile    config.SchedulerProfileConfig
	space      *config.ActionSpaceConfig
	plan       *actionPlan
	rewards    *rewardPlan
	beliefKeys []string

	policyKind string
	policy     behavior.Policy
	net        *neural.Network

	pop         *state.Population
	profiles    []Profile
	params      []behavior.Params
	peerWeights [][]float64 // per-edge effective influence, fixed at build
	env         map[string]float64
	scripts     map[int][]models.EventScriptRef

	writer  *telemetry.Writer
	flusher *state.Flusher
	checks  *state.CheckpointManager

	utilities *state.Matrix
	peerMeans *state.Matrix
	snap      tickSnapshot
	bctx      behavior.Context
	partBufs  [][]agentResult
	liveBufs  [][]int
	selBufs   [][]int
	partStats []partStats

	scalarNames []string
	allAgents   []int
	lastAction  []int
	lastReward  []float64

	counters  models.ExecutionCounters
	ticksDone int
	started   bool
	degraded  bool
	faultTol  float64

	softBudget time.Duration

	// faultInject is a test seam: a non-nil error terminates the agent
	// before it observes.
	faultInject func(tick, agent int) error
}

// New materializes the world and population and compiles the action space
// for one run. Configuration problems surface here as validation errors,
// never mid-tick.
func New(opts Options) (*Engine, error) {
	if opts.Horizon < 1 {
		return nil, models.NewValidationError("horizon", "must be at least 1")
	}
	if opts.MaxAgents < 1 {
		return nil, models.NewValidationError("max_agents", "must be at least 1")
	}
	if opts.Profile == nil {
		return nil, models.NewValidationError("scheduler_profile", "is required")
	}
	if opts.Space == nil {
		return nil, models.NewValidationError("action_space", "is required")
	}
	policyKind := opts.PolicyKind
	if policyKind == "" {
		policyKind = PolicyBehavioral
	}
	if policyKind != PolicyBehavioral && policyKind != PolicyNeural {
		return nil, models.NewValidationError("policy_kind", fmt.Sprintf("unknown policy kind %q", policyKind))
	}
	if policyKind == PolicyNeural {
		if opts.Network == nil {
			return nil, models.NewValidationError("network", "is required for the neural policy")
		}
		if opts.Network.InputDim != neuralObsWidth {
			return nil, models.NewValidationError("network",
				fmt.Sprintf("input dimension %d does not match the %d-wide observation", opts.Network.InputDim, neuralObsWidth))
		}
		if opts.Network.Actions != len(opts.Space.Actions) {
			return nil, models.NewValidationError("network",
				fmt.Sprintf("action head %d does not match the %d-action space", opts.Network.Actions, len(opts.Space.Actions)))
		}
	}

	plan, err := compileActions(opts.Space)
	if err != nil {
		return nil, err
	}

	world := opts.World
	if world == nil {
		world, err = MaterializeWorld(nil, nil)
		if err != nil {
			return nil, err
		}
	}

	pop, profiles, err := BuildPopulation(opts.Seed, PopulationSpec{
		N:           opts.MaxAgents,
		ActionNames: plan.names,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build population: %w", err)
	}

	n := opts.MaxAgents
	numActions := len(plan.names)

	faultTol := opts.FaultTolerance
	if faultTol <= 0 {
		faultTol = defaultFaultTolerance
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		runID:      opts.RunID,
		seed:       opts.Seed,
		horizon:    opts.Horizon,
		n:          n,
		log:        logger.With("run_id", opts.RunID),
		profile:    *opts.Profile,
		space:      opts.Space,
		plan:       plan,
		rewards:    compileRewardPlan(opts.Space),
		policyKind: policyKind,
		policy: behavior.Policy{
			Temperature:   opts.Space.SoftmaxTemperature,
			Deterministic: opts.Space.SoftmaxTemperature <= 0,
		},
		net:      opts.Network,
		pop:      pop,
		profiles: profiles,
		env:      world.Env,
		scripts:  world.Scripts,
		writer:   opts.Writer,
		flusher:  opts.Flusher,

		utilities:   state.NewMatrix(n, numActions),
		peerMeans:   state.NewMatrix(n, int(state.NumScalarCols)),
		scalarNames: state.ScalarColNames(),
		lastAction:  make([]int, n),
		lastReward:  make([]float64, n),
		faultTol:    faultTol,
		softBudget:  time.Duration(opts.Profile.TickSoftBudgetMS) * time.Millisecond,
	}

	e.beliefKeys = make([]string, numActions)
	for a, name := range plan.names {
		e.beliefKeys[a] = "outcome_" + name
	}

	e.params = make([]behavior.Params, n)
	e.peerWeights = make([][]float64, n)
	e.allAgents = make([]int, n)
	for i := 0; i < n; i++ {
		e.params[i] = profiles[i].Behavior
		edges := pop.Neighbors(i)
		ws := make([]float64, len(edges))
		for k, edge := range edges {
			ws[k] = edge.Influence()
		}
		e.peerWeights[i] = ws
		e.allAgents[i] = i
		e.lastAction[i] = -1
	}

	e.initSnapshot(numActions)
	e.initPartitionBuffers()

	e.counters.RuleApplicationCounts = make(map[string]int64)

	if opts.CheckpointInterval > 0 {
		maxKeep := opts.MaxCheckpoints
		if maxKeep <= 0 {
			maxKeep = 3
		}
		e.checks = state.NewCheckpointManager(opts.CheckpointInterval, maxKeep)
	}
	return e, nil
}

func (e *Engine) initPartitionBuffers() {
	parts := e.profile.Partitions
	if parts < 1 {
		parts = 1
	}
	if parts > e.n {
		parts = e.n
	}
	e.profile.Partitions = parts

	sizeHint := e.n/parts + 1
	e.partBufs = make([][]agentResult, parts)
	e.liveBufs = make([][]int, parts)
	e.selBufs = make([][]int, parts)
	e.partStats = make([]partStats, parts)
	for p := 0; p < parts; p++ {
		e.partBufs[p] = make([]agentResult, 0, sizeHint)
		e.liveBufs[p] = make([]int, 0, sizeHint)
		e.selBufs[p] = make([]int, 0, sizeHint)
	}
}

// Start injects tick-0 scripts and captures the initial keyframe. It is a
// no-op when already started.
func (e *Engine) Start() error {
	if e.started {
		return nil
	}
	var events []telemetry.Event
	events = e.injectScripts(0, events)
	e.started = true
	if e.writer == nil {
		return nil
	}
	if err := e.writer.Capture(0, e.agentStates(), e.envClone(), events, e.tickMetrics()); err != nil {
		return fmt.Errorf("failed to capture initial telemetry: %w", err)
	}
	return nil
}

// Run starts the engine and steps it to the horizon, honoring ctx at tick
// boundaries. On cancellation the completed ticks stay valid and the
// caller can still finalize partial telemetry.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}
	for t := e.ticksDone + 1; t <= e.horizon; t++ {
		if err := e.Step(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Step executes exactly one tick. Ticks are strictly sequential.
func (e *Engine) Step(ctx context.Context, t int) error {
	if !e.started {
		return fmt.Errorf("engine not started")
	}
	if t != e.ticksDone+1 {
		return fmt.Errorf("tick %d out of order, expected %d", t, e.ticksDone+1)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	began := time.Now()
	var events []telemetry.Event
	events = e.injectScripts(t, events)
	e.snapshotTick()

	parts := e.profile.Partitions
	if e.degraded {
		parts = 1
	}
	bounds := partitionBounds(e.n, parts)
	order := simrng.Perm(e.seed, t, e.n)

	g := new(errgroup.Group)
	limit := e.profile.MaxConcurrent
	if limit < 1 {
		limit = parts
	}
	g.SetLimit(limit)
	for p := 0; p < parts; p++ {
		lo, hi := bounds[p], bounds[p+1]
		g.Go(func() error {
			e.partBufs[p], e.partStats[p] = e.runPartition(t, order[lo:hi], p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Merge single-threaded in partition-index order. Per-agent writes
	// land here so no partition ever reads another's current-tick state.
	batch := e.profile.BatchSize
	for p := 0; p < parts; p++ {
		for k := range e.partBufs[p] {
			e.applyResult(t, &e.partBufs[p][k], &events)
		}
		st := e.partStats[p]
		e.counters.Stages.Observe += st.observe
		e.counters.Stages.Evaluate += st.evaluate
		e.counters.Stages.Decide += st.decide
		e.counters.Stages.Act += st.act
		e.counters.Stages.Update += st.update
		e.counters.AgentStepsExecuted += st.observe
		if size := bounds[p+1] - bounds[p]; batch > 0 {
			e.counters.BatchesCount += int64((size + batch - 1) / batch)
		} else if size > 0 {
			e.counters.BatchesCount++
		}
	}
	e.counters.PartitionsCount += parts
	e.counters.TicksExecuted = t

	if e.softBudget > 0 {
		if elapsed := time.Since(began); elapsed > e.softBudget {
			// Degradation is bookkept in counters and logs only. The blob is
			// canonically hashed, so timing-dependent events must never
			// reach it: two runs of the same config and seed produce the
			// same telemetry bytes regardless of host speed.
			e.counters.BackpressureEvents++
			if !e.degraded {
				e.degraded = true
				e.log.Warn("tick exceeded soft budget, degrading to single partition",
					"tick", t,
					"elapsed_ms", elapsed.Milliseconds(),
					"budget_ms", e.softBudget.Milliseconds())
			}
		}
	}

	if e.checks != nil {
		e.checks.MaybeSnapshot(t, e.pop, e.env)
	}
	if e.flusher != nil {
		e.flusher.Enqueue(t, e.pop)
	}
	if e.writer != nil {
		if err := e.writer.Capture(t, e.agentStates(), e.envClone(), events, e.tickMetrics()); err != nil {
			return fmt.Errorf("failed to capture telemetry at tick %d: %w", t, err)
		}
	}
	e.ticksDone = t

	if term := e.pop.TerminatedCount(); float64(term) > e.faultTol*float64(e.n) {
		return &FaultThresholdError{Terminated: term, Total: e.n, Tolerance: e.faultTol}
	}
	return nil
}

// injectScripts applies the scripts scheduled for tick t to the
// environment, before any agent observes.
func (e *Engine) injectScripts(t int, events []telemetry.Event) []telemetry.Event {
	for _, ref := range e.scripts[t] {
		ApplyScriptPayload(e.env, ref.Payload)
		e.counters.RuleApplicationCounts[ref.ScriptName]++
		events = append(events, telemetry.Event{
			Tick:    t,
			Type:    "event_script",
			Payload: map[string]any{"script_name": ref.ScriptName},
		})
	}
	return events
}

// applyResult commits one agent's buffered writes to the population.
func (e *Engine) applyResult(t int, res *agentResult, events *[]telemetry.Event) {
	i := res.agent
	if res.fault != "" {
		e.pop.Phases[i] = state.PhaseTerminated
		e.counters.AgentsTerminated++
		*events = append(*events, telemetry.Event{
			Tick:    t,
			Type:    "agent_terminated",
			AgentID: e.pop.IDs[i],
			Payload: map[string]any{"error": res.fault},
		})
		return
	}
	row := e.pop.Scalars.Row(i)
	for c := range res.deltas {
		if res.deltas[c] != 0 {
			row[c] = clamp01(row[c] + res.deltas[c])
		}
	}
	switch {
	case res.commit == commitUnchanged:
	case res.commit == state.Uncommitted:
		e.pop.Uncommit(i)
	default:
		e.pop.Commit(i, res.commit)
	}
	if res.action >= 0 {
		e.lastAction[i] = res.action
		e.lastReward[i] = res.reward
	}
	e.pop.Phases[i] = state.PhaseIdle
}

// partitionBounds splits n agents into parts near-equal contiguous spans,
// returned as parts+1 offsets.
func partitionBounds(n, parts int) []int {
	bounds := make([]int, parts+1)
	base, rem := n/parts, n%parts
	for p := 0; p < parts; p++ {
		size := base
		if p < rem {
			size++
		}
		bounds[p+1] = bounds[p] + size
	}
	return bounds
}

// TicksExecuted returns how many ticks have completed.
func (e *Engine) TicksExecuted() int {
	return e.ticksDone
}

// Horizon returns the configured tick horizon.
func (e *Engine) Horizon() int {
	return e.horizon
}

// Counters returns a copy of the execution counters.
func (e *Engine) Counters() models.ExecutionCounters {
	c := e.counters
	c.RuleApplicationCounts = make(map[string]int64, len(e.counters.RuleApplicationCounts))
	for k, v := range e.counters.RuleApplicationCounts {
		c.RuleApplicationCounts[k] = v
	}
	return c
}

// Population exposes the live population, primarily for outcome folding
// and tests. Callers must not mutate it while the engine is stepping.
func (e *Engine) Population() *state.Population {
	return e.pop
}

// Env returns a copy of the current environment.
func (e *Engine) Env() map[string]float64 {
	return e.envClone()
}

// Checkpoints returns the checkpoint manager, nil when disabled.
func (e *Engine) Checkpoints() *state.CheckpointManager {
	return e.checks
}

func (e *Engine) envClone() map[string]float64 {
	out := make(map[string]float64, len(e.env))
	for k, v := range e.env {
		out[k] = v
	}
	return out
}

// agentStates builds the full per-agent telemetry snapshot for a tick.
// Values are float64 or string per the blob contract.
func (e *Engine) agentStates() map[string]telemetry.AgentState {
	out := make(map[string]telemetry.AgentState, e.n)
	for i := 0; i < e.n; i++ {
		st := make(telemetry.AgentState, int(state.NumScalarCols)+4)
		row := e.pop.Scalars.Row(i)
		for c, name := range e.scalarNames {
			st[name] = row[c]
		}
		st["committed_choice"] = float64(e.pop.CommittedChoices[i])
		st["phase"] = e.pop.Phases[i].String()
		if e.lastAction[i] >= 0 {
			st["last_action"] = float64(e.lastAction[i])
			st["last_reward"] = e.lastReward[i]
		}
		out[e.pop.IDs[i]] = st
	}
	return out
}

func (e *Engine) tickMetrics() map[string]float64 {
	committed := 0
	for i := 0; i < e.n; i++ {
		if e.pop.IsCommitted(i) {
			committed++
		}
	}
	return map[string]float64{
		"mean_engagement":  e.pop.MeanScalar(state.ColEngagement, e.allAgents),
		"mean_certainty":   e.pop.MeanScalar(state.ColCertainty, e.allAgents),
		"committed_share":  float64(committed) / float64(e.n),
		"terminated_share": float64(e.pop.TerminatedCount()) / float64(e.n),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
