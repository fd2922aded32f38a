// Package e2e exercises the full stack against a real PostgreSQL instance:
// configuration loading, run admission, queue workers, the simulation
// engine, telemetry blobs, aggregation, and evidence packs.
package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/database"
	"github.com/manyworlds/continuum/pkg/events"
	"github.com/manyworlds/continuum/pkg/evidence"
	"github.com/manyworlds/continuum/pkg/gateway"
	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/orchestrator"
	"github.com/manyworlds/continuum/pkg/queue"
	"github.com/manyworlds/continuum/pkg/storage"
	"github.com/manyworlds/continuum/pkg/store"
	"github.com/manyworlds/continuum/pkg/universe"
	testdb "github.com/manyworlds/continuum/test/database"
)

// continuumYAML is the minimal config file written into every test's config
// directory. Durations are tightened programmatically after Initialize so
// tests never wait on production polling intervals.
const continuumYAML = `
queue:
  worker_count: 2
  max_concurrent_runs: 8
`

// testApp is one fully wired replica over a dedicated test schema.
type testApp struct {
	cfg       *config.Config
	db        *database.Client
	store     *store.Store
	blobs     *storage.MemoryStore
	publisher *events.Publisher
	broker    *events.Broker
	gw        *gateway.Gateway
	universe  *universe.Service
	evidence  *evidence.Service
	orch      *orchestrator.Service
	pool      *queue.WorkerPool

	poolStarted bool
}

type appOptions struct {
	dataSourcesYAML string
	startWorkers    bool
}

type appOption func(*appOptions)

// withDataSources writes a datasources.yaml into the config directory so
// the gateway has registered sources.
func withDataSources(yaml string) appOption {
	return func(o *appOptions) { o.dataSourcesYAML = yaml }
}

// withoutWorkers leaves the worker pool stopped; the test starts it
// explicitly via startWorkers once its setup is staged.
func withoutWorkers() appOption {
	return func(o *appOptions) { o.startWorkers = false }
}

// newTestApp wires the whole service the way cmd/continuum does, over a
// shared test schema and an in-memory blob store.
func newTestApp(t *testing.T, opts ...appOption) *testApp {
	t.Helper()
	options := appOptions{startWorkers: true}
	for _, opt := range opts {
		opt(&options)
	}

	ctx := context.Background()

	configDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "continuum.yaml"), []byte(continuumYAML), 0o644))
	if options.dataSourcesYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(configDir, "datasources.yaml"), []byte(options.dataSourcesYAML), 0o644))
	}

	cfg, err := config.Initialize(ctx, configDir)
	require.NoError(t, err)

	// Tight queue timings keep the end-to-end turnaround low.
	cfg.Queue.PollInterval = 25 * time.Millisecond
	cfg.Queue.PollIntervalJitter = 10 * time.Millisecond
	cfg.Queue.HeartbeatInterval = 25 * time.Millisecond
	cfg.Queue.RunTimeout = 60 * time.Second
	cfg.Queue.GracefulShutdownTimeout = 20 * time.Second
	cfg.Queue.OrphanDetectionInterval = time.Minute

	sdb := testdb.NewSharedTestDB(t)
	dbClient := sdb.NewClient(t)
	st := store.New(dbClient.DB())

	publisher := events.NewPublisher(dbClient.DB().DB)
	broker := events.NewBroker()
	listener := events.NewNotifyListener(sdb.ConnString(), broker)
	require.NoError(t, listener.Start(ctx))
	t.Cleanup(func() { listener.Stop(context.Background()) })
	broker.SetListener(listener)

	uni := universe.NewService(st, nil, nil)
	evid := evidence.NewService(st, cfg.Defaults.ReliabilityWeights, nil)
	orch := orchestrator.NewService(st, cfg, uni, publisher, nil)
	uni.SetRunLauncher(orch)

	gw := gateway.New(cfg.DataSourceRegistry, cfg.Gateway, st.Manifest, nil)
	blobs := storage.NewMemoryStore()

	executor := queue.NewExecutor(cfg, uni, evid, gw, blobs, publisher, nil)
	pool := queue.NewWorkerPool("e2e-pod", st, cfg.Queue, executor, publisher)
	orch.SetCancelSignaler(pool)

	app := &testApp{
		cfg:       cfg,
		db:        dbClient,
		store:     st,
		blobs:     blobs,
		publisher: publisher,
		broker:    broker,
		gw:        gw,
		universe:  uni,
		evidence:  evid,
		orch:      orch,
		pool:      pool,
	}

	if options.startWorkers {
		app.startWorkers(t)
	}
	t.Cleanup(func() {
		if app.poolStarted {
			app.pool.Stop()
		}
	})
	return app
}

// startWorkers starts the worker pool. Idempotent.
func (a *testApp) startWorkers(t *testing.T) {
	t.Helper()
	if a.poolStarted {
		return
	}
	require.NoError(t, a.pool.Start(context.Background()))
	a.poolStarted = true
}

// createProject inserts a project with pinned artifact versions and its
// baseline root node.
func (a *testApp) createProject(t *testing.T) (*models.Project, *models.Node) {
	t.Helper()
	ctx := context.Background()

	project := &models.Project{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		Name:           "e2e-" + t.Name(),
		EngineVersion:  "1.4.0",
		RulesetVersion: "2024.2",
		DatasetVersion: "ds-7",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, a.store.Projects.Create(ctx, project))

	root, err := a.universe.CreateRootNode(ctx, project.ID)
	require.NoError(t, err)
	return project, root
}

// baseRunConfig returns a small deterministic run config. The orchestrator
// fills scheduler profile, action space, and versions from defaults.
func baseRunConfig(horizon int, seed int64) models.RunConfig {
	return models.RunConfig{
		SeedConfig: models.SeedConfig{
			Strategy:    models.SeedStrategyFixed,
			PrimarySeed: seed,
		},
		Horizon:          horizon,
		KeyframeInterval: 10,
		MaxAgents:        25,
	}
}

// queueRun admits one run against an existing node.
func (a *testApp) queueRun(t *testing.T, projectID, nodeID uuid.UUID, cfg models.RunConfig) *models.Run {
	t.Helper()
	run, err := a.orch.CreateRun(context.Background(), &models.CreateRunRequest{
		ProjectID: projectID,
		NodeID:    &nodeID,
		Config:    cfg,
	})
	require.NoError(t, err)
	require.Equal(t, models.RunStatusQueued, run.Status)
	return run
}

// waitForRunStatus polls until the run reaches the wanted status. Reaching
// a different terminal status fails the test immediately.
func (a *testApp) waitForRunStatus(t *testing.T, runID uuid.UUID, want models.RunStatus, timeout time.Duration) *models.Run {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(timeout)
	for {
		run, err := a.store.Runs.Get(ctx, runID)
		require.NoError(t, err)
		if run.Status == want {
			return run
		}
		if run.Status.IsTerminal() {
			t.Fatalf("run %s reached %s (error=%v) while waiting for %s",
				runID, run.Status, run.ErrorMessage, want)
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s still %s after %v, wanted %s", runID, run.Status, timeout, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// waitForTerminal polls until the run reaches any terminal status.
func (a *testApp) waitForTerminal(t *testing.T, runID uuid.UUID, timeout time.Duration) *models.Run {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(timeout)
	for {
		run, err := a.store.Runs.Get(ctx, runID)
		require.NoError(t, err)
		if run.Status.IsTerminal() {
			return run
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s still %s after %v", runID, run.Status, timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// waitForAggregate polls until the node carries an aggregate folded over at
// least sampleCount runs. Aggregation runs post-completion, after the
// terminal status is already visible.
func (a *testApp) waitForAggregate(t *testing.T, nodeID uuid.UUID, sampleCount int, timeout time.Duration) *models.Node {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(timeout)
	for {
		node, err := a.store.Nodes.Get(ctx, nodeID)
		require.NoError(t, err)
		if node.AggregatedOutcome != nil && node.AggregatedOutcome.SampleCount >= sampleCount {
			return node
		}
		if time.Now().After(deadline) {
			t.Fatalf("node %s has no aggregate over %d runs after %v", nodeID, sampleCount, timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// waitForEvidencePack polls until the run's evidence pack is persisted.
func (a *testApp) waitForEvidencePack(t *testing.T, runID uuid.UUID, timeout time.Duration) *models.EvidencePack {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(timeout)
	for {
		pack, err := a.evidence.GetPack(ctx, runID)
		if err == nil {
			return pack
		}
		if time.Now().After(deadline) {
			t.Fatalf("no evidence pack for run %s after %v: %v", runID, timeout, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
