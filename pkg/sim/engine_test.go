package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/sim/neural"
	"github.com/manyworlds/continuum/pkg/sim/state"
	"github.com/manyworlds/continuum/pkg/storage"
	"github.com/manyworlds/continuum/pkg/telemetry"
)

var testRunID = uuid.MustParse("7b3e1c2a-9f04-4d7e-8a61-5c2b0d9e4f10")

func testProfile() *config.SchedulerProfileConfig {
	return &config.SchedulerProfileConfig{Partitions: 4, BatchSize: 16, MaxConcurrent: 2}
}

func testSpace() *config.ActionSpaceConfig {
	return &config.ActionSpaceConfig{
		Kind: config.ActionSpaceDiscrete,
		Actions: []config.ActionDefinitionConfig{
			{
				Type: "commit", Name: "support_alpha",
				Effects:          map[string]float64{"engagement": 0.02},
				RewardComponents: map[string]float64{"expression": 0.3},
			},
			{
				Type: "commit", Name: "support_beta",
				Effects:          map[string]float64{"engagement": 0.02},
				RewardComponents: map[string]float64{"expression": 0.3},
			},
			{
				Type: "engage", Name: "deliberate",
				Preconditions: []string{"not_committed"},
				Effects:       map[string]float64{"certainty": 0.03},
			},
			{
				Type: "observe", Name: "seek_information",
				Effects: map[string]float64{"information_exposure": 0.04},
			},
		},
		ComponentWeights: map[string]float64{
			"alignment":       0.5,
			"consistency":     0.3,
			"social_approval": 0.4,
		},
		SoftmaxTemperature: 0.7,
	}
}

func newTestEngine(t *testing.T, mutate func(*Options)) *Engine {
	t.Helper()
	opts := Options{
		RunID:     testRunID,
		Seed:      42,
		Horizon:   10,
		MaxAgents: 40,
		Profile:   testProfile(),
		Space:     testSpace(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	eng, err := New(opts)
	require.NoError(t, err)
	return eng
}

func finalizeTelemetry(t *testing.T, w *telemetry.Writer) *telemetry.Result {
	t.Helper()
	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)
	return res
}

func TestNewValidatesOptions(t *testing.T) {
	base := func() Options {
		return Options{
			RunID:     testRunID,
			Seed:      1,
			Horizon:   5,
			MaxAgents: 10,
			Profile:   testProfile(),
			Space:     testSpace(),
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Options)
		wantErr string
	}{
		{"zero horizon", func(o *Options) { o.Horizon = 0 }, "horizon"},
		{"zero agents", func(o *Options) { o.MaxAgents = 0 }, "max_agents"},
		{"missing profile", func(o *Options) { o.Profile = nil }, "scheduler_profile"},
		{"missing space", func(o *Options) { o.Space = nil }, "action_space"},
		{"unknown policy", func(o *Options) { o.PolicyKind = "quantum" }, "policy_kind"},
		{"neural without network", func(o *Options) { o.PolicyKind = PolicyNeural }, "network"},
		{
			"neural input mismatch",
			func(o *Options) {
				net, err := neural.NewNetwork(8, nil, 4)
				require.NoError(t, err)
				o.PolicyKind = PolicyNeural
				o.Network = net
			},
			"input dimension",
		},
		{
			"neural action mismatch",
			func(o *Options) {
				net, err := neural.NewNetwork(16, nil, 3)
				require.NoError(t, err)
				o.PolicyKind = PolicyNeural
				o.Network = net
			},
			"action head",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := base()
			tc.mutate(&opts)
			_, err := New(opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestEngineRunExecutesHorizon(t *testing.T) {
	eng := newTestEngine(t, nil)

	require.NoError(t, eng.Run(context.Background()))

	assert.Equal(t, 10, eng.TicksExecuted())

	c := eng.Counters()
	assert.Equal(t, 10, c.TicksExecuted)
	assert.Equal(t, int64(400), c.AgentStepsExecuted, "40 agents × 10 ticks")
	assert.Equal(t, int64(400), c.Stages.Observe)
	assert.Equal(t, int64(400), c.Stages.Evaluate)
	assert.Equal(t, int64(400), c.Stages.Decide, "every agent always has an unmasked action")
	assert.Equal(t, int64(400), c.Stages.Act)
	assert.Equal(t, int64(400), c.Stages.Update)
	assert.Equal(t, 40, c.PartitionsCount, "4 partitions × 10 ticks")
	assert.Equal(t, int64(40), c.BatchesCount, "each 10-agent partition fits one 16-agent batch")
	assert.Zero(t, c.BackpressureEvents)
	assert.Zero(t, c.AgentsTerminated)
	assert.Zero(t, c.LLMCallsInTickLoop)
	assert.Empty(t, c.RuleApplicationCounts)
}

func TestEngineStartIsIdempotent(t *testing.T) {
	w := telemetry.NewWriter(testRunID, 42, 5)
	eng := newTestEngine(t, func(o *Options) { o.Writer = w })

	require.NoError(t, eng.Start())
	// A second Start must not re-capture tick 0.
	require.NoError(t, eng.Start())
	require.NoError(t, eng.Step(context.Background(), 1))
}

func TestEngineStepOrdering(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	err := eng.Step(ctx, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")

	require.NoError(t, eng.Start())

	err = eng.Step(ctx, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of order")

	require.NoError(t, eng.Step(ctx, 1))

	err = eng.Step(ctx, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of order")

	require.NoError(t, eng.Step(ctx, 2))
	assert.Equal(t, 2, eng.TicksExecuted())
}

func TestEngineDeterminism(t *testing.T) {
	run := func() (*Engine, *telemetry.Result) {
		w := telemetry.NewWriter(testRunID, 42, 5)
		eng := newTestEngine(t, func(o *Options) { o.Writer = w })
		require.NoError(t, eng.Run(context.Background()))
		return eng, finalizeTelemetry(t, w)
	}

	eng1, res1 := run()
	eng2, res2 := run()

	assert.Equal(t, eng1.Population().Scalars.Data, eng2.Population().Scalars.Data)
	assert.Equal(t, eng1.Population().CommittedChoices, eng2.Population().CommittedChoices)
	assert.Equal(t, eng1.Outcome(), eng2.Outcome())
	assert.Equal(t, eng1.Counters(), eng2.Counters())
	assert.Equal(t, res1.BlobHash, res2.BlobHash, "identical inputs produce byte-identical telemetry")
	assert.Equal(t, res1.TelemetryHash, res2.TelemetryHash)
}

func TestEnginePartitioningDoesNotChangeResults(t *testing.T) {
	run := func(partitions, concurrent int) (*Engine, *telemetry.Result) {
		w := telemetry.NewWriter(testRunID, 42, 5)
		eng := newTestEngine(t, func(o *Options) {
			o.Profile = &config.SchedulerProfileConfig{
				Partitions:    partitions,
				BatchSize:     16,
				MaxConcurrent: concurrent,
			}
			o.Writer = w
		})
		require.NoError(t, eng.Run(context.Background()))
		return eng, finalizeTelemetry(t, w)
	}

	serial, serialRes := run(1, 1)
	parallel, parallelRes := run(4, 4)

	assert.Equal(t, serial.Population().Scalars.Data, parallel.Population().Scalars.Data)
	assert.Equal(t, serial.Population().CommittedChoices, parallel.Population().CommittedChoices)
	assert.Equal(t, serial.Outcome(), parallel.Outcome())
	assert.Equal(t, serialRes.BlobHash, parallelRes.BlobHash)

	sc, pc := serial.Counters(), parallel.Counters()
	assert.Equal(t, sc.Stages, pc.Stages)
	assert.Equal(t, sc.AgentStepsExecuted, pc.AgentStepsExecuted)
}

func TestEngineMasksExcludeIneligibleActions(t *testing.T) {
	space := testSpace()
	// Certainty is clamped to [0,1], so this precondition never holds.
	space.Actions = append(space.Actions, config.ActionDefinitionConfig{
		Type: "engage", Name: "locked",
		Preconditions: []string{"certainty_above_2"},
	})
	locked := len(space.Actions) - 1

	eng := newTestEngine(t, func(o *Options) { o.Space = space })
	require.NoError(t, eng.Run(context.Background()))

	pop := eng.Population()
	for i := 0; i < pop.N; i++ {
		for _, a := range pop.Actions.Recent(i) {
			assert.NotEqual(t, locked, a, "agent %d chose a masked action", i)
		}
	}
	assert.Zero(t, eng.Outcome().Distribution["locked"])
}

func TestEngineFullyMaskedAgentsIdle(t *testing.T) {
	eng := newTestEngine(t, func(o *Options) {
		o.Space = &config.ActionSpaceConfig{
			Kind: config.ActionSpaceDiscrete,
			Actions: []config.ActionDefinitionConfig{
				{Type: "engage", Name: "locked", Preconditions: []string{"certainty_above_2"}},
				{Type: "engage", Name: "sealed", Preconditions: []string{"engagement_above_2"}},
			},
		}
	})

	require.NoError(t, eng.Run(context.Background()))

	c := eng.Counters()
	assert.Equal(t, int64(400), c.Stages.Observe, "idle agents still observe and evaluate")
	assert.Zero(t, c.Stages.Decide)
	assert.Zero(t, c.Stages.Act)
	assert.Zero(t, c.Stages.Update)

	pop := eng.Population()
	for i := 0; i < pop.N; i++ {
		assert.Zero(t, pop.Actions.Len(i), "agent %d acted while fully masked", i)
	}
}

func TestEngineFaultTerminatesAgentAndRunContinues(t *testing.T) {
	w := telemetry.NewWriter(testRunID, 42, 4)
	eng := newTestEngine(t, func(o *Options) {
		o.Horizon = 8
		o.Writer = w
	})
	eng.faultInject = func(tick, agent int) error {
		if tick == 3 && agent == 5 {
			return errors.New("persona lookup timed out")
		}
		return nil
	}

	require.NoError(t, eng.Run(context.Background()))

	pop := eng.Population()
	assert.Equal(t, state.PhaseTerminated, pop.Phases[5])

	c := eng.Counters()
	assert.Equal(t, 1, c.AgentsTerminated)
	// Ticks 1-2 run all 40 agents, the fault tick and the rest run 39.
	assert.Equal(t, int64(2*40+6*39), c.AgentStepsExecuted)

	res := finalizeTelemetry(t, w)
	rd := telemetry.NewReader(res.Blob)

	events := rd.EventsAt(3)
	require.Len(t, events, 1)
	assert.Equal(t, "agent_terminated", events[0].Type)
	assert.Equal(t, "agent_5", events[0].AgentID)
	assert.Equal(t, "persona lookup timed out", events[0].Payload["error"])

	final, err := rd.StateAt(8)
	require.NoError(t, err)
	assert.Equal(t, "terminated", final.Agents["agent_5"]["phase"],
		"terminated agents keep their state through the end of the run")
}

func TestEngineFaultThresholdAbortsRun(t *testing.T) {
	eng := newTestEngine(t, nil)
	eng.faultInject = func(tick, agent int) error {
		if tick == 2 && agent < 3 {
			return errors.New("agent state corrupted")
		}
		return nil
	}

	err := eng.Run(context.Background())
	require.Error(t, err)

	var fte *FaultThresholdError
	require.ErrorAs(t, err, &fte)
	assert.Equal(t, 3, fte.Terminated)
	assert.Equal(t, 40, fte.Total)
	assert.Equal(t, models.ErrorKindAgentFaultThreshold, fte.Kind())
	assert.Contains(t, err.Error(), "3 of 40 agents terminated")

	// The aborting tick still completed and was recorded.
	assert.Equal(t, 2, eng.TicksExecuted())
	assert.Equal(t, 3, eng.Counters().AgentsTerminated)
}

func TestEngineCancellationStopsAtTickBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := newTestEngine(t, func(o *Options) { o.Horizon = 100 })
	eng.faultInject = func(tick, agent int) error {
		if tick == 5 && agent == 0 {
			cancel()
		}
		return nil
	}

	err := eng.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The tick where cancellation landed still ran to completion.
	assert.Equal(t, 5, eng.TicksExecuted())
	assert.Equal(t, 5, eng.Counters().TicksExecuted)
}

func TestEngineSoftBudgetDegradesToSinglePartition(t *testing.T) {
	eng := newTestEngine(t, func(o *Options) {
		o.Horizon = 3
		o.Profile = &config.SchedulerProfileConfig{
			Partitions:       4,
			BatchSize:        16,
			MaxConcurrent:    4,
			TickSoftBudgetMS: 1,
		}
	})
	eng.faultInject = func(tick, agent int) error {
		if agent == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	}

	require.NoError(t, eng.Run(context.Background()))

	c := eng.Counters()
	assert.Equal(t, 3, c.BackpressureEvents, "every tick blew the budget")
	// First tick runs all 4 partitions, later ticks degrade to 1.
	assert.Equal(t, 4+1+1, c.PartitionsCount)
	assert.Equal(t, int64(120), c.AgentStepsExecuted, "degrading never skips agents")
}

func TestEngineSoftBudgetDoesNotAlterTelemetry(t *testing.T) {
	run := func(budgetMS int64, slow bool) (*Engine, *telemetry.Result) {
		w := telemetry.NewWriter(testRunID, 42, 5)
		eng := newTestEngine(t, func(o *Options) {
			o.Profile = &config.SchedulerProfileConfig{
				Partitions:       4,
				BatchSize:        16,
				MaxConcurrent:    4,
				TickSoftBudgetMS: budgetMS,
			}
			o.Writer = w
		})
		if slow {
			eng.faultInject = func(tick, agent int) error {
				if agent == 0 {
					time.Sleep(5 * time.Millisecond)
				}
				return nil
			}
		}
		require.NoError(t, eng.Run(context.Background()))
		return eng, finalizeTelemetry(t, w)
	}

	fast, fastRes := run(0, false)
	degraded, degradedRes := run(1, true)

	// Wall-clock pressure is counters-and-logs only: the sealed blob is
	// byte-identical whether or not the run degraded.
	assert.Positive(t, degraded.Counters().BackpressureEvents)
	assert.Equal(t, fastRes.BlobHash, degradedRes.BlobHash)
	assert.Equal(t, fastRes.TelemetryHash, degradedRes.TelemetryHash)
	assert.Equal(t, fast.Outcome(), degraded.Outcome())
}

func TestEngineScriptInjection(t *testing.T) {
	world, err := MaterializeWorld(nil, []models.PatchDeltas{{
		Variables: []models.VariableDelta{
			{Variable: EnvInformationLevel, Operation: models.DeltaOpSet, Value: 0.4},
		},
		EventScripts: []models.EventScriptRef{
			{ScriptName: "morning_briefing", AtTick: 0, Payload: map[string]any{EnvInformationLevel: 0.2}},
			{ScriptName: "press_blitz", AtTick: 3, Payload: map[string]any{
				"set": map[string]any{EnvFramingValence: 0.8},
			}},
		},
	}})
	require.NoError(t, err)

	w := telemetry.NewWriter(testRunID, 42, 5)
	eng := newTestEngine(t, func(o *Options) {
		o.Horizon = 6
		o.World = world
		o.Writer = w
	})

	require.NoError(t, eng.Run(context.Background()))

	env := eng.Env()
	assert.InDelta(t, 0.6, env[EnvInformationLevel], 1e-12, "patch set 0.4, tick-0 script added 0.2")
	assert.InDelta(t, 0.8, env[EnvFramingValence], 1e-12)

	counts := eng.Counters().RuleApplicationCounts
	assert.Equal(t, int64(1), counts["morning_briefing"])
	assert.Equal(t, int64(1), counts["press_blitz"])

	rd := telemetry.NewReader(finalizeTelemetry(t, w).Blob)

	opening := rd.EventsAt(0)
	require.Len(t, opening, 1)
	assert.Equal(t, "event_script", opening[0].Type)
	assert.Equal(t, "morning_briefing", opening[0].Payload["script_name"])

	blitz := rd.EventsAt(3)
	require.Len(t, blitz, 1)
	assert.Equal(t, "press_blitz", blitz[0].Payload["script_name"])

	at3, err := rd.StateAt(3)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, at3.Env[EnvFramingValence], 1e-12, "the script lands before the tick's captures")
}

func TestEngineTelemetryReplay(t *testing.T) {
	w := telemetry.NewWriter(testRunID, 42, 5)
	eng := newTestEngine(t, func(o *Options) { o.Writer = w })

	require.NoError(t, eng.Run(context.Background()))

	res := finalizeTelemetry(t, w)
	blob := res.Blob

	assert.Equal(t, 40, blob.AgentCount)
	assert.Equal(t, 10, blob.TicksExecuted)
	assert.Equal(t, []int{0, 5, 10}, blob.Index.KeyframeTicks)
	assert.Len(t, blob.Deltas, 8, "ticks 1-4 and 6-9 are deltas")

	rd := telemetry.NewReader(blob)

	initial, err := rd.StateAt(0)
	require.NoError(t, err)
	require.Contains(t, initial.Agents, "agent_0")
	first := initial.Agents["agent_0"]
	assert.Equal(t, "idle", first["phase"])
	assert.Contains(t, first, "engagement")
	assert.Contains(t, first, "committed_choice")
	assert.NotContains(t, first, "last_action", "no decisions before the first tick")

	mid, err := rd.StateAt(7)
	require.NoError(t, err)
	assert.Len(t, mid.Agents, 40)
	assert.Contains(t, mid.Metrics, "mean_engagement")
	assert.Contains(t, mid.Metrics, "committed_share")
}

func TestEngineNeuralPolicy(t *testing.T) {
	run := func() *Engine {
		net, err := neural.NewNetwork(16, []int{8}, 4)
		require.NoError(t, err)
		net.InitXavier(7)
		eng := newTestEngine(t, func(o *Options) {
			o.PolicyKind = PolicyNeural
			o.Network = net
		})
		require.NoError(t, eng.Run(context.Background()))
		return eng
	}

	eng1 := run()
	eng2 := run()

	c := eng1.Counters()
	assert.Equal(t, int64(400), c.Stages.Decide)
	assert.Zero(t, c.LLMCallsInTickLoop)

	assert.Equal(t, eng1.Population().Scalars.Data, eng2.Population().Scalars.Data,
		"seeded weights and streams keep the neural path reproducible")
	assert.Equal(t, eng1.Outcome(), eng2.Outcome())
}

func TestEngineCheckpointRetention(t *testing.T) {
	eng := newTestEngine(t, func(o *Options) {
		o.Horizon = 12
		o.CheckpointInterval = 4
		o.MaxCheckpoints = 2
	})

	require.NoError(t, eng.Run(context.Background()))

	cm := eng.Checkpoints()
	require.NotNil(t, cm)
	assert.Equal(t, 2, cm.Len(), "only the newest two survive")

	latest, ok := cm.Latest()
	require.True(t, ok)
	assert.Equal(t, 12, latest.Tick)

	_, ok = cm.Rollback(7)
	assert.False(t, ok, "tick 4 was evicted")

	cp, ok := cm.Rollback(8)
	require.True(t, ok)
	assert.Equal(t, 8, cp.Tick)

	env := eng.Population().Restore(cp)
	assert.Equal(t, cp.Scalars.Data, eng.Population().Scalars.Data)
	assert.NotNil(t, env)
}

func TestEngineFlusherReceivesEveryTick(t *testing.T) {
	var mu sync.Mutex
	rows := 0
	ticks := map[int]int{}
	fl := state.NewFlusher(0, func(ctx context.Context, batch []state.ScalarRow) error {
		mu.Lock()
		defer mu.Unlock()
		rows += len(batch)
		for _, r := range batch {
			ticks[r.Tick]++
		}
		return nil
	})

	eng := newTestEngine(t, func(o *Options) {
		o.Horizon = 5
		o.Flusher = fl
	})
	require.NoError(t, eng.Run(context.Background()))
	fl.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 200, rows, "40 rows × 5 ticks")
	for tick := 1; tick <= 5; tick++ {
		assert.Equal(t, 40, ticks[tick])
	}
	assert.Zero(t, fl.Dropped())
}

func TestEngineEnvReturnsCopy(t *testing.T) {
	eng := newTestEngine(t, nil)

	env := eng.Env()
	env[EnvStatusQuoBoost] = 99

	assert.InDelta(t, 0.3, eng.Env()[EnvStatusQuoBoost], 1e-12)
}
