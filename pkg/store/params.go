package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/manyworlds/continuum/pkg/models"
)

const paramVersionColumns = `id, project_id, version_number, version_hash, parameters, status,
	previous_version_id, rolled_back_to_id, approved_by, approved_at, created_at`

// ParameterVersionStore is the append-only parameter history. Rows are
// inserted, never updated: activation and rollback both add rows, and the
// current version is resolved as the newest non-proposed row.
type ParameterVersionStore struct {
	db *sqlx.DB
}

// Insert appends a parameter version, assigning the next version_number
// for the project inside a transaction. The unique (project_id,
// version_number) constraint backs the read-then-insert against races.
func (s *ParameterVersionStore) Insert(ctx context.Context, pv *models.ParameterVersion) error {
	return inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var next int
		if err := tx.GetContext(ctx, &next, `
			SELECT COALESCE(MAX(version_number), 0) + 1
			FROM parameter_versions WHERE project_id = $1`, pv.ProjectID); err != nil {
			return fmt.Errorf("failed to compute next version number: %w", err)
		}
		pv.VersionNumber = next

		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO parameter_versions (id, project_id, version_number, version_hash,
				parameters, status, previous_version_id, rolled_back_to_id,
				approved_by, approved_at, created_at)
			VALUES (:id, :project_id, :version_number, :version_hash,
				:parameters, :status, :previous_version_id, :rolled_back_to_id,
				:approved_by, :approved_at, :created_at)`, pv)
		if err != nil {
			return fmt.Errorf("failed to insert parameter version: %w", err)
		}
		return nil
	})
}

// Get returns a parameter version by id.
func (s *ParameterVersionStore) Get(ctx context.Context, id uuid.UUID) (*models.ParameterVersion, error) {
	var pv models.ParameterVersion
	err := s.db.GetContext(ctx, &pv,
		`SELECT `+paramVersionColumns+` FROM parameter_versions WHERE id = $1`, id)
	if isNoRows(err) {
		return nil, fmt.Errorf("parameter version %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query parameter version: %w", err)
	}
	return &pv, nil
}

// Current returns the project's effective parameter version: the newest
// row that is not merely proposed. A rollback row's parameters are the
// restored ones, so the newest row always carries the live values.
func (s *ParameterVersionStore) Current(ctx context.Context, projectID uuid.UUID) (*models.ParameterVersion, error) {
	var pv models.ParameterVersion
	err := s.db.GetContext(ctx, &pv, `
		SELECT `+paramVersionColumns+` FROM parameter_versions
		WHERE project_id = $1 AND status <> $2
		ORDER BY version_number DESC LIMIT 1`, projectID, models.ParameterVersionProposed)
	if isNoRows(err) {
		return nil, fmt.Errorf("no active parameter version for project %s: %w",
			projectID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query current parameter version: %w", err)
	}
	return &pv, nil
}

// History returns all versions of a project in ascending version order.
func (s *ParameterVersionStore) History(ctx context.Context, projectID uuid.UUID) ([]*models.ParameterVersion, error) {
	versions := []*models.ParameterVersion{}
	err := s.db.SelectContext(ctx, &versions,
		`SELECT `+paramVersionColumns+` FROM parameter_versions
		WHERE project_id = $1 ORDER BY version_number ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameter versions: %w", err)
	}
	return versions, nil
}
