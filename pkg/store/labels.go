package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/manyworlds/continuum/pkg/models"
)

// LabelStore persists ground-truth labels for calibration.
type LabelStore struct {
	db *sqlx.DB
}

// Upsert records a label, idempotent on (dataset_id, run_id). Re-recording
// overwrites the label value and bumps updated_at.
func (s *LabelStore) Upsert(ctx context.Context, l *models.GroundTruthLabel) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO ground_truth_labels (dataset_id, run_id, node_id, label, notes, created_at, updated_at)
		VALUES (:dataset_id, :run_id, :node_id, :label, :notes, :created_at, :updated_at)
		ON CONFLICT (dataset_id, run_id) DO UPDATE
		SET label = EXCLUDED.label, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at`, l)
	if err != nil {
		return fmt.Errorf("failed to upsert label: %w", err)
	}
	return nil
}

// ListByDataset returns a dataset's labels ordered by run id for a stable
// pairing with predictions.
func (s *LabelStore) ListByDataset(ctx context.Context, datasetID string) ([]*models.GroundTruthLabel, error) {
	labels := []*models.GroundTruthLabel{}
	err := s.db.SelectContext(ctx, &labels, `
		SELECT dataset_id, run_id, node_id, label, notes, created_at, updated_at
		FROM ground_truth_labels WHERE dataset_id = $1 ORDER BY run_id ASC`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	return labels, nil
}

// CountByDataset returns the number of labels in a dataset.
func (s *LabelStore) CountByDataset(ctx context.Context, datasetID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM ground_truth_labels WHERE dataset_id = $1`, datasetID)
	if err != nil {
		return 0, fmt.Errorf("failed to count labels: %w", err)
	}
	return n, nil
}
