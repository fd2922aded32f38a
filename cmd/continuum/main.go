// Continuum simulation server — admits prediction runs over HTTP, executes
// them on queue workers, and streams progress over Postgres LISTEN/NOTIFY.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/manyworlds/continuum/pkg/api"
	"github.com/manyworlds/continuum/pkg/cleanup"
	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/database"
	"github.com/manyworlds/continuum/pkg/evidence"
	"github.com/manyworlds/continuum/pkg/events"
	"github.com/manyworlds/continuum/pkg/gateway"
	"github.com/manyworlds/continuum/pkg/orchestrator"
	"github.com/manyworlds/continuum/pkg/queue"
	"github.com/manyworlds/continuum/pkg/storage"
	"github.com/manyworlds/continuum/pkg/store"
	"github.com/manyworlds/continuum/pkg/universe"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

// buildBlobStore selects the telemetry backend from config.
func buildBlobStore(ctx context.Context, cfg *config.StorageConfig) (storage.BlobStore, error) {
	switch cfg.Backend {
	case config.StorageBackendS3:
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:       cfg.Bucket,
			Prefix:       cfg.KeyPrefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.Endpoint != "",
		})
	case config.StorageBackendMemory:
		return storage.NewMemoryStore(), nil
	default:
		return storage.NewFilesystemStore(cfg.FilesystemRoot)
	}
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	podID := resolvePodID()

	slog.Info("Starting Continuum",
		"http_port", httpPort,
		"pod_id", podID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database
	dbConfig := database.LoadConfigFromEnv()
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbClient.DB())

	// 3. One-time startup orphan cleanup
	if err := queue.CleanupStartupOrphans(ctx, st, podID); err != nil {
		slog.Error("Failed to cleanup startup orphans", "error", err)
		// Non-fatal — continue
	}

	// 4. Streaming infrastructure: publisher persists and notifies, the
	// broker fans notifications out to in-process subscribers.
	publisher := events.NewPublisher(dbClient.DB().DB)
	broker := events.NewBroker()

	notifyListener := events.NewNotifyListener(dbConfig.DSN(), broker)
	if err := notifyListener.Start(ctx); err != nil {
		slog.Error("Failed to start NotifyListener", "error", err)
		os.Exit(1)
	}
	defer notifyListener.Stop(ctx)
	broker.SetListener(notifyListener)
	slog.Info("Streaming infrastructure initialized")

	// 5. Domain services
	var translator universe.Translator
	if cfg.Translator != nil && cfg.Translator.Endpoint != "" {
		grpcTranslator, err := universe.NewGRPCTranslator(cfg.Translator)
		if err != nil {
			slog.Error("Failed to initialize translator client", "error", err)
			os.Exit(1)
		}
		defer grpcTranslator.Close()
		translator = grpcTranslator
		slog.Info("Translator client initialized", "endpoint", cfg.Translator.Endpoint)
	} else {
		slog.Info("Translator not configured, NL interventions disabled")
	}

	uni := universe.NewService(st, translator, nil)
	evid := evidence.NewService(st, cfg.Defaults.ReliabilityWeights, nil)
	orch := orchestrator.NewService(st, cfg, uni, publisher, nil)
	uni.SetRunLauncher(orch)

	gw := gateway.New(cfg.DataSourceRegistry, cfg.Gateway, st.Manifest, nil)

	blobs, err := buildBlobStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize blob store", "error", err)
		os.Exit(1)
	}
	slog.Info("Blob store initialized", "backend", cfg.Storage.Backend)

	// 6. Worker pool (before HTTP server)
	executor := queue.NewExecutor(cfg, uni, evid, gw, blobs, publisher, nil)
	workerPool := queue.NewWorkerPool(podID, st, cfg.Queue, executor, publisher)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}
	orch.SetCancelSignaler(workerPool)

	// 7. Retention sweeper
	retention := cleanup.NewService(cfg.Retention, st, blobs)
	retention.Start(ctx)

	// 8. HTTP server (non-blocking)
	httpServer := api.NewServer(dbClient, st, orch, uni, evid, blobs, workerPool)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(":" + httpPort); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Continuum started successfully",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: drain workers first so in-flight runs reach a
	// terminal state, then stop the HTTP server.
	retention.Stop()

	workerShutdownCtx, workerCancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer workerCancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-workerShutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — incomplete runs will be orphan-recovered")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
