// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/metrics"
	"github.com/manyworlds/continuum/pkg/storage"
	"github.com/manyworlds/continuum/pkg/store"
	"github.com/manyworlds/continuum/pkg/telemetry"
)

// Service periodically enforces retention policies:
//   - Soft-deletes terminal runs past the retention window
//   - Hard-deletes soft-deleted runs past the purge grace period,
//     removing their telemetry blobs first
//   - Removes run_events rows past their TTL
//
// Telemetry keys are namespaced per run, so the blob cascade never
// touches another run's data. All operations are idempotent and safe to
// run from multiple pods.
type Service struct {
	config *config.RetentionConfig
	store  *store.Store
	blobs  storage.BlobStore

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
// blobs may be nil (hard delete then skips the blob cascade).
func NewService(cfg *config.RetentionConfig, st *store.Store, blobs storage.BlobStore) *Service {
	return &Service{
		config: cfg,
		store:  st,
		blobs:  blobs,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"run_retention_days", s.config.RunRetentionDays,
		"purge_after", s.config.PurgeAfter,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.softDeleteExpiredRuns(ctx)
	s.purgeDeletedRuns(ctx)
	s.purgeOldEvents(ctx)
}

// softDeleteExpiredRuns marks terminal runs past the retention window as
// deleted. They remain queryable for PurgeAfter before hard deletion.
func (s *Service) softDeleteExpiredRuns(_ context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.RunRetentionDays)
	count, err := s.store.Runs.SoftDeleteExpired(context.Background(), cutoff)
	if err != nil {
		slog.Error("Retention: soft-delete runs failed", "error", err)
		return
	}
	if count > 0 {
		metrics.RetentionDeleted.WithLabelValues("runs_soft").Add(float64(count))
		slog.Info("Retention: soft-deleted expired runs", "count", count)
	}
}

// purgeDeletedRuns hard-deletes runs whose purge grace period has
// elapsed. The telemetry blob is removed before the row so a failed blob
// delete leaves the run visible for the next sweep.
func (s *Service) purgeDeletedRuns(_ context.Context) {
	ctx := context.Background()
	cutoff := time.Now().Add(-s.config.PurgeAfter)

	runs, err := s.store.Runs.FindPurgeable(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: purge query failed", "error", err)
		return
	}

	purged := 0
	for _, run := range runs {
		if err := s.deleteTelemetryBlob(ctx, run.TelemetryRef); err != nil {
			slog.Error("Retention: telemetry blob delete failed",
				"run_id", run.ID, "error", err)
			continue
		}
		if err := s.store.Runs.HardDelete(ctx, run.ID); err != nil {
			slog.Error("Retention: hard delete failed",
				"run_id", run.ID, "error", err)
			continue
		}
		purged++
	}

	if purged > 0 {
		metrics.RetentionDeleted.WithLabelValues("runs_purged").Add(float64(purged))
		slog.Info("Retention: purged soft-deleted runs", "count", purged)
	}
}

// deleteTelemetryBlob removes a run's telemetry blob. Missing refs and
// missing blobs are not errors.
func (s *Service) deleteTelemetryBlob(ctx context.Context, ref *string) error {
	if s.blobs == nil || ref == nil || *ref == "" {
		return nil
	}
	key, ok := telemetry.KeyFromRef(*ref)
	if !ok {
		slog.Warn("Retention: unrecognized telemetry ref, skipping blob", "ref", *ref)
		return nil
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		return err
	}
	metrics.RetentionDeleted.WithLabelValues("blobs").Inc()
	return nil
}

// purgeOldEvents removes run_events rows past the TTL. Events only back
// catchup for live subscribers, so old rows are dead weight.
func (s *Service) purgeOldEvents(_ context.Context) {
	cutoff := time.Now().Add(-s.config.EventTTL)
	count, err := s.store.Runs.PurgeEventsBefore(context.Background(), cutoff)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		metrics.RetentionDeleted.WithLabelValues("events").Add(float64(count))
		slog.Info("Retention: purged old run events", "count", count)
	}
}
