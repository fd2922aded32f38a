package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/manyworlds/continuum/pkg/models"
)

// EvidencePackStore persists assembled evidence packs, one per run.
type EvidencePackStore struct {
	db *sqlx.DB
}

// Put stores a pack for a run. Re-assembling for the same run replaces the
// stored pack; the pack itself is derived, the run row stays authoritative.
func (s *EvidencePackStore) Put(ctx context.Context, pack *models.EvidencePack, packHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence_packs (id, run_id, version, pack, pack_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE
		SET id = EXCLUDED.id, version = EXCLUDED.version, pack = EXCLUDED.pack,
			pack_hash = EXCLUDED.pack_hash, created_at = EXCLUDED.created_at`,
		pack.EvidencePackID, pack.RunID, pack.EvidencePackVersion, pack, packHash,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store evidence pack: %w", err)
	}
	return nil
}

// GetByRun returns the stored pack for a run.
func (s *EvidencePackStore) GetByRun(ctx context.Context, runID uuid.UUID) (*models.EvidencePack, error) {
	var pack models.EvidencePack
	err := s.db.GetContext(ctx, &pack,
		`SELECT pack FROM evidence_packs WHERE run_id = $1`, runID)
	if isNoRows(err) {
		return nil, fmt.Errorf("evidence pack for run %s: %w", runID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence pack: %w", err)
	}
	return &pack, nil
}

// HashByRun returns the stored pack hash for a run.
func (s *EvidencePackStore) HashByRun(ctx context.Context, runID uuid.UUID) (string, error) {
	var hash string
	err := s.db.GetContext(ctx, &hash,
		`SELECT pack_hash FROM evidence_packs WHERE run_id = $1`, runID)
	if isNoRows(err) {
		return "", fmt.Errorf("evidence pack for run %s: %w", runID, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query evidence pack hash: %w", err)
	}
	return hash, nil
}
