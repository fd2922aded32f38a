// Package store provides the PostgreSQL persistence layer. Repositories are
// thin typed wrappers over sqlx; invariants that span multiple rows (claim,
// fork, optimistic aggregation) run inside transactions here so callers
// never see partial writes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Store bundles all repositories over one database handle.
type Store struct {
	db *sqlx.DB

	Projects    *ProjectStore
	Nodes       *NodeStore
	Runs        *RunStore
	Manifest    *ManifestStore
	Labels      *LabelStore
	Calibration *CalibrationStore
	Params      *ParameterVersionStore
	Evidence    *EvidencePackStore
}

// New creates a Store over the given database handle.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:          db,
		Projects:    &ProjectStore{db: db},
		Nodes:       &NodeStore{db: db},
		Runs:        &RunStore{db: db},
		Manifest:    &ManifestStore{db: db},
		Labels:      &LabelStore{db: db},
		Calibration: &CalibrationStore{db: db},
		Params:      &ParameterVersionStore{db: db},
		Evidence:    &EvidencePackStore{db: db},
	}
}

// DB exposes the underlying handle for callers that need raw access
// (events publisher, cleanup sweeps).
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// inTx runs fn inside a transaction, rolling back on error.
func inTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isNoRows reports whether err is the driver's empty-result sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
