package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/manyworlds/continuum/pkg/models"
)

// SoftDeleteExpired marks terminal runs older than the cutoff as deleted.
// Returns the number of runs affected.
func (s *RunStore) SoftDeleteExpired(ctx context.Context, completedBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET deleted_at = $1
		WHERE deleted_at IS NULL
		  AND status IN ($2, $3, $4)
		  AND completed_at IS NOT NULL
		  AND completed_at < $5`,
		time.Now().UTC(),
		models.RunStatusSucceeded, models.RunStatusFailed, models.RunStatusCanceled,
		completedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to soft-delete expired runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// FindPurgeable returns soft-deleted runs whose grace period has elapsed.
// The caller removes the telemetry blob before hard-deleting the row.
func (s *RunStore) FindPurgeable(ctx context.Context, deletedBefore time.Time) ([]*models.Run, error) {
	runs := []*models.Run{}
	err := s.db.SelectContext(ctx, &runs,
		`SELECT `+runColumns+` FROM runs
		WHERE deleted_at IS NOT NULL AND deleted_at < $1`, deletedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list purgeable runs: %w", err)
	}
	return runs, nil
}

// HardDelete removes a run row together with its evidence pack and event
// rows. Manifest entries are audit records and survive the run.
func (s *RunStore) HardDelete(ctx context.Context, id uuid.UUID) error {
	return inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM evidence_packs WHERE run_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete evidence pack: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM run_events WHERE run_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete run events: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM runs WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete run: %w", err)
		}
		return nil
	})
}

// PurgeEventsBefore deletes run_events rows older than the cutoff. Live
// subscribers consume events immediately; rows only back catchup.
func (s *RunStore) PurgeEventsBefore(ctx context.Context, createdBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM run_events WHERE created_at < $1`, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to purge run events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}
