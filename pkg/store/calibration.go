package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/manyworlds/continuum/pkg/models"
)

const calibrationJobColumns = `id, project_id, dataset_id, config, status, best_bin_count,
	result, result_hash, created_at, completed_at`

// CalibrationStore persists calibration jobs and their immutable iteration
// history.
type CalibrationStore struct {
	db *sqlx.DB
}

// CreateJob inserts a pending calibration job.
func (s *CalibrationStore) CreateJob(ctx context.Context, job *models.CalibrationJob) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO calibration_jobs (id, project_id, dataset_id, config, status, created_at)
		VALUES (:id, :project_id, :dataset_id, :config, :status, :created_at)`, job)
	if err != nil {
		return fmt.Errorf("failed to insert calibration job: %w", err)
	}
	return nil
}

// GetJob returns a calibration job by id.
func (s *CalibrationStore) GetJob(ctx context.Context, id uuid.UUID) (*models.CalibrationJob, error) {
	var job models.CalibrationJob
	err := s.db.GetContext(ctx, &job,
		`SELECT `+calibrationJobColumns+` FROM calibration_jobs WHERE id = $1`, id)
	if isNoRows(err) {
		return nil, fmt.Errorf("calibration job %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration job: %w", err)
	}
	return &job, nil
}

// ListJobsByDataset returns a dataset's jobs, newest first.
func (s *CalibrationStore) ListJobsByDataset(ctx context.Context, datasetID string) ([]*models.CalibrationJob, error) {
	jobs := []*models.CalibrationJob{}
	err := s.db.SelectContext(ctx, &jobs,
		`SELECT `+calibrationJobColumns+` FROM calibration_jobs
		WHERE dataset_id = $1 ORDER BY created_at DESC`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list calibration jobs: %w", err)
	}
	return jobs, nil
}

// MarkRunning moves a pending job to running. Guarded: a job only starts once.
func (s *CalibrationStore) MarkRunning(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calibration_jobs SET status = $1 WHERE id = $2 AND status = $3`,
		models.CalibrationRunning, id, models.CalibrationPending)
	if err != nil {
		return fmt.Errorf("failed to start calibration job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("calibration job %s not pending: %w", id, models.ErrStateTransition)
	}
	return nil
}

// CompleteJob writes the terminal result of a running job.
func (s *CalibrationStore) CompleteJob(ctx context.Context, id uuid.UUID, result *models.CalibrationResult, resultHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calibration_jobs
		SET status = $1, best_bin_count = $2, result = $3, result_hash = $4, completed_at = $5
		WHERE id = $6 AND status = $7`,
		models.CalibrationCompleted, result.BestBinCount, result, resultHash,
		time.Now().UTC(), id, models.CalibrationRunning)
	if err != nil {
		return fmt.Errorf("failed to complete calibration job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("calibration job %s not running: %w", id, models.ErrStateTransition)
	}
	return nil
}

// FailJob marks a running job failed. Callers log the cause.
func (s *CalibrationStore) FailJob(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calibration_jobs SET status = $1, completed_at = $2
		WHERE id = $3 AND status = $4`,
		models.CalibrationFailed, time.Now().UTC(), id, models.CalibrationRunning)
	if err != nil {
		return fmt.Errorf("failed to fail calibration job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("calibration job %s not running: %w", id, models.ErrStateTransition)
	}
	return nil
}

// AppendIteration inserts one immutable iteration row.
func (s *CalibrationStore) AppendIteration(ctx context.Context, it *models.CalibrationIteration) error {
	err := s.db.GetContext(ctx, &it.ID, `
		INSERT INTO calibration_iterations (job_id, iteration_index, bin_count, mapping, metrics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		it.JobID, it.Index, it.BinCount, it.Mapping, it.Metrics, it.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append calibration iteration: %w", err)
	}
	return nil
}

// ListIterations returns a job's iterations in search order.
func (s *CalibrationStore) ListIterations(ctx context.Context, jobID uuid.UUID) ([]*models.CalibrationIteration, error) {
	iterations := []*models.CalibrationIteration{}
	err := s.db.SelectContext(ctx, &iterations, `
		SELECT id, job_id, iteration_index, bin_count, mapping, metrics, created_at
		FROM calibration_iterations WHERE job_id = $1 ORDER BY iteration_index ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list calibration iterations: %w", err)
	}
	return iterations, nil
}
