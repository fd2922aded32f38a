package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/manyworlds/continuum/pkg/models"
)

const projectColumns = `id, tenant_id, name, engine_version, ruleset_version, dataset_version,
	created_at, deleted_at`

// ProjectStore persists projects.
type ProjectStore struct {
	db *sqlx.DB
}

// Create inserts a new project.
func (s *ProjectStore) Create(ctx context.Context, p *models.Project) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO projects (id, tenant_id, name, engine_version, ruleset_version,
			dataset_version, created_at)
		VALUES (:id, :tenant_id, :name, :engine_version, :ruleset_version,
			:dataset_version, :created_at)`, p)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// Get returns a project by id.
func (s *ProjectStore) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := s.db.GetContext(ctx, &p,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1 AND deleted_at IS NULL`, id)
	if isNoRows(err) {
		return nil, fmt.Errorf("project %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	return &p, nil
}

// ListByTenant returns a tenant's projects, newest first.
func (s *ProjectStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Project, error) {
	projects := []*models.Project{}
	err := s.db.SelectContext(ctx, &projects,
		`SELECT `+projectColumns+` FROM projects
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// SoftDelete marks a project deleted.
func (s *ProjectStore) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", id, models.ErrNotFound)
	}
	return nil
}
