package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/manyworlds/continuum/pkg/models"
)

const manifestColumns = `id, tenant_id, run_id, source_name, endpoint, params, cutoff_time,
	payload_hash, record_count, blocked_count, captured_at`

// ManifestStore is the append-only data-access manifest. There is no update
// or delete path; the audit trail only ever grows.
type ManifestStore struct {
	db *sqlx.DB
}

// Append inserts a manifest entry and fills in its assigned id.
func (s *ManifestStore) Append(ctx context.Context, e *models.ManifestEntry) error {
	err := s.db.GetContext(ctx, &e.ID, `
		INSERT INTO manifest_entries (tenant_id, run_id, source_name, endpoint, params,
			cutoff_time, payload_hash, record_count, blocked_count, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		e.TenantID, e.RunID, e.SourceName, e.Endpoint, e.Params,
		e.CutoffTime, e.PayloadHash, e.RecordCount, e.BlockedCount, e.CapturedAt)
	if err != nil {
		return fmt.Errorf("failed to append manifest entry: %w", err)
	}
	return nil
}

// ListByRun returns all manifest entries of a run in insertion order.
func (s *ManifestStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.ManifestEntry, error) {
	entries := []*models.ManifestEntry{}
	err := s.db.SelectContext(ctx, &entries,
		`SELECT `+manifestColumns+` FROM manifest_entries WHERE run_id = $1 ORDER BY id ASC`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list manifest entries: %w", err)
	}
	return entries, nil
}

// CountByRun returns entry and blocked-record totals for a run.
func (s *ManifestStore) CountByRun(ctx context.Context, runID uuid.UUID) (entries int, blockedRecords int, err error) {
	row := struct {
		Entries int `db:"entries"`
		Blocked int `db:"blocked"`
	}{}
	err = s.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS entries, COALESCE(SUM(blocked_count), 0) AS blocked
		FROM manifest_entries WHERE run_id = $1`, runID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count manifest entries: %w", err)
	}
	return row.Entries, row.Blocked, nil
}
