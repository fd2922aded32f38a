package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/manyworlds/continuum/pkg/metrics"
	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/store"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for orphaned runs.
// All pods run this independently: the terminal write is guarded, so two
// pods recovering the same run cannot double-complete it.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("Orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans finds running runs with stale heartbeats and
// fails them with internal_error (terminal — never resumed).
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	threshold := time.Now().Add(-p.config.OrphanThreshold)

	orphans, err := p.store.Runs.FindOrphaned(ctx, threshold, "")
	if err != nil {
		return fmt.Errorf("failed to query orphaned runs: %w", err)
	}

	if len(orphans) == 0 {
		p.orphans.mu.Lock()
		p.orphans.lastOrphanScan = time.Now()
		p.orphans.mu.Unlock()
		return nil
	}

	slog.Warn("Detected orphaned runs", "count", len(orphans))

	recovered := 0
	for _, run := range orphans {
		if err := p.recoverOrphanedRun(ctx, run); err != nil {
			slog.Error("Failed to recover orphaned run",
				"run_id", run.ID,
				"error", err)
			continue
		}
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()
	metrics.OrphansRecovered.Add(float64(recovered))

	return nil
}

// recoverOrphanedRun fails a single orphaned run.
func (p *WorkerPool) recoverOrphanedRun(ctx context.Context, run *models.Run) error {
	log := slog.With("run_id", run.ID, "old_pod_id", run.PodID)

	lastHeartbeat := "unknown"
	if run.LastHeartbeatAt != nil {
		lastHeartbeat = run.LastHeartbeatAt.Format(time.RFC3339)
	}
	podID := "unknown"
	if run.PodID != nil {
		podID = *run.PodID
	}

	kind := models.ErrorKindInternal
	msg := fmt.Sprintf("orphaned: no heartbeat from pod %s since %s", podID, lastHeartbeat)
	err := p.store.Runs.Complete(ctx, run.ID, store.TerminalUpdate{
		Status:        models.RunStatusFailed,
		ErrorKind:     &kind,
		ErrorMessage:  &msg,
		TicksExecuted: run.TicksExecuted,
	})
	if err != nil {
		return fmt.Errorf("failed to mark run as failed: %w", err)
	}

	if p.publisher != nil {
		run.Status = models.RunStatusFailed
		run.ErrorKind = &kind
		run.ErrorMessage = &msg
		if err := p.publisher.PublishRunStatus(ctx, run); err != nil {
			log.Warn("Failed to publish orphan recovery event", "error", err)
		}
	}

	log.Warn("Orphaned run marked as failed", "last_heartbeat", lastHeartbeat)
	return nil
}

// CleanupStartupOrphans performs a one-time cleanup of runs owned by this
// pod that were running when the pod previously crashed.
// Called once during startup, before the worker pool begins processing.
func CleanupStartupOrphans(ctx context.Context, st *store.Store, podID string) error {
	orphans, err := st.Runs.FindRunningOnPod(ctx, podID)
	if err != nil {
		return fmt.Errorf("failed to query startup orphans: %w", err)
	}

	if len(orphans) == 0 {
		return nil
	}

	slog.Warn("Found startup orphans from previous run",
		"pod_id", podID,
		"count", len(orphans))

	kind := models.ErrorKindInternal
	for _, run := range orphans {
		msg := fmt.Sprintf("orphaned: pod %s restarted while the run was executing", podID)
		err := st.Runs.Complete(ctx, run.ID, store.TerminalUpdate{
			Status:        models.RunStatusFailed,
			ErrorKind:     &kind,
			ErrorMessage:  &msg,
			TicksExecuted: run.TicksExecuted,
		})
		if err != nil {
			slog.Error("Failed to mark startup orphan",
				"run_id", run.ID,
				"error", err)
			continue
		}
		slog.Info("Startup orphan recovered", "run_id", run.ID)
	}

	return nil
}
