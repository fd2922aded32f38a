package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/manyworlds/continuum/pkg/models"
)

// runColumns is the full column list in Run field order.
const runColumns = `id, project_id, node_id, run_config, run_config_hash, status, priority,
	seed_used, pod_id, created_at, started_at, completed_at, last_heartbeat_at,
	cancel_requested, error_kind, error_message, outcome, exec_counters, guard_stats,
	telemetry_ref, telemetry_hash, result_hash, reliability, ticks_executed, deleted_at`

// RunStore persists runs and enforces the status state machine at the
// database level: every transition is a guarded UPDATE whose WHERE clause
// names the expected current status.
type RunStore struct {
	db *sqlx.DB
}

// Create persists a new run in its initial status.
func (s *RunStore) Create(ctx context.Context, run *models.Run) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, project_id, node_id, run_config, run_config_hash,
			status, priority, seed_used, created_at)
		VALUES (:id, :project_id, :node_id, :run_config, :run_config_hash,
			:status, :priority, :seed_used, :created_at)`, run)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Get returns a run by id.
func (s *RunStore) Get(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	var run models.Run
	err := s.db.GetContext(ctx, &run,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	if isNoRows(err) {
		return nil, fmt.Errorf("run %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return &run, nil
}

// List returns runs matching the filters plus the unpaginated total.
func (s *RunStore) List(ctx context.Context, filters models.RunFilters) (*models.RunListResponse, error) {
	where := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filters.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if filters.ProjectID != nil {
		where = append(where, "project_id = "+arg(*filters.ProjectID))
	}
	if filters.NodeID != nil {
		where = append(where, "node_id = "+arg(*filters.NodeID))
	}
	if filters.Status != "" {
		where = append(where, "status = "+arg(filters.Status))
	}
	if filters.CreatedAfter != nil {
		where = append(where, "created_at >= "+arg(*filters.CreatedAfter))
	}
	if filters.CreatedBefore != nil {
		where = append(where, "created_at <= "+arg(*filters.CreatedBefore))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM runs WHERE `+cond, args...); err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM runs WHERE %s
		ORDER BY created_at DESC LIMIT %s OFFSET %s`,
		runColumns, cond, arg(limit), arg(filters.Offset))

	runs := []*models.Run{}
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return &models.RunListResponse{
		Runs:       runs,
		TotalCount: total,
		Limit:      limit,
		Offset:     filters.Offset,
	}, nil
}

// Transition moves a run from one status to another, enforcing the state
// machine. Returns ErrStateTransition when the move is illegal or the run
// is no longer in the expected status.
func (s *RunStore) Transition(ctx context.Context, id uuid.UUID, from, to models.RunStatus) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("run %s: %s -> %s: %w", id, from, to, models.ErrStateTransition)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = $1 WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		// Either the run vanished or a concurrent writer moved it first.
		return fmt.Errorf("run %s: %s -> %s: %w", id, from, to, models.ErrStateTransition)
	}
	return nil
}

// ClaimNext atomically claims the next queued run for the given pod using
// FOR UPDATE SKIP LOCKED. Ordering is priority first, then FIFO. Returns
// ErrNotFound when no queued run exists.
func (s *RunStore) ClaimNext(ctx context.Context, podID string) (*models.Run, error) {
	var run models.Run
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var id uuid.UUID
		err := tx.GetContext(ctx, &id, `
			SELECT id FROM runs
			WHERE status = $1 AND deleted_at IS NULL
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`, models.RunStatusQueued)
		if isNoRows(err) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query queued run: %w", err)
		}

		err = tx.GetContext(ctx, &run, `
			UPDATE runs
			SET status = $1, pod_id = $2, started_at = $3, last_heartbeat_at = $3
			WHERE id = $4
			RETURNING `+runColumns, models.RunStatusRunning, podID, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to claim run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Heartbeat bumps last_heartbeat_at and the tick progress counter, and
// reports whether cancellation has been requested for the run.
func (s *RunStore) Heartbeat(ctx context.Context, id uuid.UUID, ticksExecuted int) (cancelRequested bool, err error) {
	err = s.db.GetContext(ctx, &cancelRequested, `
		UPDATE runs
		SET last_heartbeat_at = $1, ticks_executed = GREATEST(ticks_executed, $2)
		WHERE id = $3
		RETURNING cancel_requested`, time.Now().UTC(), ticksExecuted, id)
	if isNoRows(err) {
		return false, fmt.Errorf("run %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to heartbeat run: %w", err)
	}
	return cancelRequested, nil
}

// RequestCancel flags a queued or running run for cancellation. Queued runs
// are canceled immediately; running runs are flagged and the executor stops
// at the next tick boundary. Terminal runs return ErrStateTransition.
func (s *RunStore) RequestCancel(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	var run models.Run
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var status models.RunStatus
		err := tx.GetContext(ctx, &status,
			`SELECT status FROM runs WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
		if isNoRows(err) {
			return fmt.Errorf("run %s: %w", id, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query run status: %w", err)
		}

		switch status {
		case models.RunStatusQueued:
			err = tx.GetContext(ctx, &run, `
				UPDATE runs
				SET status = $1, cancel_requested = TRUE, completed_at = $2
				WHERE id = $3
				RETURNING `+runColumns, models.RunStatusCanceled, time.Now().UTC(), id)
		case models.RunStatusRunning:
			err = tx.GetContext(ctx, &run, `
				UPDATE runs
				SET cancel_requested = TRUE
				WHERE id = $1
				RETURNING `+runColumns, id)
		default:
			return fmt.Errorf("run %s is %s: %w", id, status, models.ErrStateTransition)
		}
		if err != nil {
			return fmt.Errorf("failed to request cancel: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// TerminalUpdate is the final write for a run.
type TerminalUpdate struct {
	Status        models.RunStatus
	ErrorKind     *models.ErrorKind
	ErrorMessage  *string
	Outcome       *models.Outcome
	ExecCounters  *models.ExecutionCounters
	GuardStats    *models.LeakageGuardStats
	TelemetryRef  *string
	TelemetryHash *string
	ResultHash    *string
	Reliability   *models.Reliability
	TicksExecuted int
}

// Complete writes the terminal status and result fields. The guarded WHERE
// keeps terminal statuses immutable: completing an already-terminal run
// returns ErrStateTransition.
func (s *RunStore) Complete(ctx context.Context, id uuid.UUID, upd TerminalUpdate) error {
	if !upd.Status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal: %w", upd.Status, models.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = $1, completed_at = $2, error_kind = $3, error_message = $4,
			outcome = $5, exec_counters = $6, guard_stats = $7,
			telemetry_ref = $8, telemetry_hash = $9, result_hash = $10,
			reliability = $11, ticks_executed = $12
		WHERE id = $13 AND status = $14`,
		upd.Status, time.Now().UTC(), upd.ErrorKind, upd.ErrorMessage,
		upd.Outcome, upd.ExecCounters, upd.GuardStats,
		upd.TelemetryRef, upd.TelemetryHash, upd.ResultHash,
		upd.Reliability, upd.TicksExecuted,
		id, models.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not running: %w", id, models.ErrStateTransition)
	}
	return nil
}

// CountActive returns the number of runs currently executing.
func (s *RunStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM runs WHERE status = $1`, models.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to count active runs: %w", err)
	}
	return n, nil
}

// SucceededForNode returns the succeeded runs of a node ordered by id, the
// stable order the aggregation fold relies on.
func (s *RunStore) SucceededForNode(ctx context.Context, nodeID uuid.UUID) ([]*models.Run, error) {
	runs := []*models.Run{}
	err := s.db.SelectContext(ctx, &runs,
		`SELECT `+runColumns+` FROM runs
		WHERE node_id = $1 AND status = $2 AND deleted_at IS NULL
		ORDER BY id ASC`, nodeID, models.RunStatusSucceeded)
	if err != nil {
		return nil, fmt.Errorf("failed to list succeeded runs: %w", err)
	}
	return runs, nil
}

// FindOrphaned returns running runs whose heartbeat is older than the
// threshold, either on any pod (podID empty) or a specific pod.
func (s *RunStore) FindOrphaned(ctx context.Context, olderThan time.Time, podID string) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs
		WHERE status = $1 AND (last_heartbeat_at IS NULL OR last_heartbeat_at < $2)`
	args := []any{models.RunStatusRunning, olderThan}
	if podID != "" {
		query += ` AND pod_id = $3`
		args = append(args, podID)
	}
	runs := []*models.Run{}
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to find orphaned runs: %w", err)
	}
	return runs, nil
}

// FindRunningOnPod returns all running runs claimed by the given pod,
// regardless of heartbeat age. Used for startup cleanup after a restart.
func (s *RunStore) FindRunningOnPod(ctx context.Context, podID string) ([]*models.Run, error) {
	runs := []*models.Run{}
	err := s.db.SelectContext(ctx, &runs,
		`SELECT `+runColumns+` FROM runs WHERE status = $1 AND pod_id = $2`,
		models.RunStatusRunning, podID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for pod: %w", err)
	}
	return runs, nil
}

// SoftDelete marks a run deleted without removing rows. Retention later
// hard-deletes it together with its telemetry blob.
func (s *RunStore) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, models.ErrNotFound)
	}
	return nil
}
