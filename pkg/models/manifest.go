package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

// ManifestEntry is one row of the append-only data-access manifest. Every
// external read that reaches the gateway produces exactly one entry,
// blocked or not; entries are never updated.
type ManifestEntry struct {
	ID           int64          `db:"id" json:"id"`
	TenantID     uuid.UUID      `db:"tenant_id" json:"tenant_id"`
	RunID        *uuid.UUID     `db:"run_id" json:"run_id,omitempty"`
	SourceName   string         `db:"source_name" json:"source_name"`
	Endpoint     string         `db:"endpoint" json:"endpoint"`
	Params       ManifestParams `db:"params" json:"params_normalized"`
	CutoffTime   *time.Time     `db:"cutoff_time" json:"cutoff_time,omitempty"`
	PayloadHash  string         `db:"payload_hash" json:"payload_hash"`
	RecordCount  int            `db:"record_count" json:"record_count"`
	BlockedCount int            `db:"blocked_count" json:"blocked_count"`
	CapturedAt   time.Time      `db:"captured_at" json:"captured_at"`
}

// ManifestParams are normalized request parameters with secret-looking
// values redacted before persistence.
type ManifestParams map[string]any

func (p ManifestParams) Value() (driver.Value, error) { return jsonbValue(p) }
func (p *ManifestParams) Scan(src any) error          { return jsonbScan(p, src) }
