package evidence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/manyworlds/continuum/pkg/canonical"
	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/store"
	"github.com/manyworlds/continuum/pkg/telemetry"
)

// Service assembles evidence packs and owns calibration and parameter
// version lifecycles.
type Service struct {
	store  *store.Store
	scorer *Scorer
	log    *slog.Logger
}

// NewService builds the evidence service.
func NewService(st *store.Store, weights *config.ReliabilityWeightsDefaults, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		scorer: NewScorer(weights),
		log:    logger.With("component", "evidence"),
	}
}

// Scorer exposes the reliability scorer for callers that already hold the
// inputs.
func (s *Service) Scorer() *Scorer {
	return s.scorer
}

// ComputeReliability scores a run against its ensemble peers, the project's
// latest completed calibration, and its own guard stats.
func (s *Service) ComputeReliability(ctx context.Context, run *models.Run) (*models.Reliability, error) {
	in := ReliabilityInputs{GuardStats: run.GuardStats}

	peers, err := s.store.Runs.SucceededForNode(ctx, run.NodeID)
	if err != nil {
		return nil, err
	}
	seeds := map[int64]struct{}{}
	for _, peer := range peers {
		if peer.ConfigHash != run.ConfigHash || peer.Outcome == nil {
			continue
		}
		if _, seen := seeds[peer.SeedUsed]; seen {
			continue
		}
		seeds[peer.SeedUsed] = struct{}{}
		in.PeerProbabilities = append(in.PeerProbabilities, peer.Outcome.PrimaryProbability)
		in.RunIDs = append(in.RunIDs, peer.ID.String())
	}
	if run.Outcome != nil {
		if _, seen := seeds[run.SeedUsed]; !seen {
			in.PeerProbabilities = append(in.PeerProbabilities, run.Outcome.PrimaryProbability)
			in.RunIDs = append(in.RunIDs, run.ID.String())
		}
	}

	if ece, err := s.latestECE(ctx, run.ProjectID); err != nil {
		return nil, err
	} else if ece != nil {
		in.ECE = ece
	}

	return s.scorer.Score(in), nil
}

// latestECE returns the ECE of the project's newest completed calibration
// job, or nil when none exists.
func (s *Service) latestECE(ctx context.Context, projectID uuid.UUID) (*float64, error) {
	var ece float64
	err := s.store.DB().GetContext(ctx, &ece, `
		SELECT (result->'best_metrics'->>'ece')::float8
		FROM calibration_jobs
		WHERE project_id = $1 AND status = $2 AND result IS NOT NULL
		ORDER BY completed_at DESC LIMIT 1`,
		projectID, models.CalibrationCompleted)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest calibration: %w", err)
	}
	return &ece, nil
}

// AssemblePack builds, hashes, and persists the evidence pack for a run
// that reached a terminal status. The telemetry summary comes from the
// finalized blob; a nil summary leaves the telemetry proof with hashes only.
func (s *Service) AssemblePack(ctx context.Context, run *models.Run, summary *telemetry.Summary, blobHash string) (*models.EvidencePack, error) {
	project, err := s.store.Projects.Get(ctx, run.ProjectID)
	if err != nil {
		return nil, err
	}

	path, err := s.store.Nodes.PathToRoot(ctx, run.NodeID)
	if err != nil {
		return nil, err
	}
	nodePath := make([]uuid.UUID, len(path))
	for i, node := range path {
		nodePath[i] = node.ID
	}

	entries, err := s.store.Manifest.ListByRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	entryIDs := make([]int64, len(entries))
	for i, e := range entries {
		entryIDs[i] = e.ID
	}

	pack := &models.EvidencePack{
		EvidencePackID:      uuid.New(),
		EvidencePackVersion: models.EvidencePackVersion,
		GeneratedAt:         time.Now().UTC(),
		RunID:               run.ID,
		NodeID:              run.NodeID,
		TenantID:            project.TenantID,
		ProjectID:           run.ProjectID,
		ArtifactLineage: models.ArtifactLineage{
			RunConfigHash:    run.ConfigHash,
			TelemetryRef:     run.TelemetryRef,
			ManifestEntryIDs: entryIDs,
			ParameterVersion: run.Config.ParameterVersion,
			UpstreamNodePath: nodePath,
			EngineVersion:    project.EngineVersion,
			RulesetVersion:   project.RulesetVersion,
			DatasetVersion:   project.DatasetVersion,
		},
		ExecutionProof: models.ExecutionProof{
			SeedUsed:  run.SeedUsed,
			Partial:   run.Status != models.RunStatusSucceeded || run.TicksExecuted < run.Config.Horizon,
			Status:    run.Status,
			StartedAt: run.StartedAt,
			EndedAt:   run.CompletedAt,
		},
		DeterminismSignature: models.DeterminismSignature{
			RunConfigHash: run.ConfigHash,
			SeedUsed:      run.SeedUsed,
		},
		ResultsProof:     models.ResultsProof{Outcome: run.Outcome},
		ReliabilityProof: run.Reliability,
	}
	if run.ExecCounters != nil {
		pack.ExecutionProof.Counters = *run.ExecCounters
	}
	if run.ResultHash != nil {
		pack.DeterminismSignature.ResultHash = *run.ResultHash
		pack.ResultsProof.ResultHash = *run.ResultHash
	}
	if run.TelemetryHash != nil {
		pack.DeterminismSignature.TelemetryHash = *run.TelemetryHash
		pack.TelemetryProof.TelemetryHash = *run.TelemetryHash
	}
	pack.TelemetryProof.BlobHash = blobHash
	if summary != nil {
		pack.TelemetryProof.KeyframeCount = summary.KeyframeCount
		pack.TelemetryProof.DeltaCount = summary.DeltaCount
		pack.TelemetryProof.TotalEvents = summary.TotalEvents
		pack.TelemetryProof.TickCount = summary.TickCount
		pack.TelemetryProof.AgentCount = summary.AgentCount
	}

	pack.AuditProof.ManifestEntryCount = len(entries)
	if len(entries) > 0 {
		pack.AuditProof.FirstEntryID = &entries[0].ID
		pack.AuditProof.LastEntryID = &entries[len(entries)-1].ID
		manifestHash, err := canonical.Hash(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to hash manifest trail: %w", err)
		}
		pack.AuditProof.ManifestHash = &manifestHash
	}

	if gs := run.GuardStats; gs != nil {
		isolation := 0
		if run.Config.LeakageGuard != nil {
			isolation = run.Config.LeakageGuard.IsolationLevel
		}
		pack.AntiLeakageProof = &models.AntiLeakageProof{
			IsolationLevel:        isolation,
			BlockedAccessAttempts: gs.BlockedAccessAttempts,
			BlockedSources:        gs.BlockedSources,
			RecordsFiltered:       gs.RecordsFiltered,
			LeakageDetected:       gs.LeakageDetected,
		}
	}

	packHash, err := PackHash(pack)
	if err != nil {
		return nil, fmt.Errorf("failed to hash evidence pack: %w", err)
	}
	if err := s.store.Evidence.Put(ctx, pack, packHash); err != nil {
		return nil, err
	}
	s.log.Info("evidence pack assembled",
		"run_id", run.ID,
		"pack_id", pack.EvidencePackID,
		"manifest_entries", len(entries),
		"partial", pack.ExecutionProof.Partial)
	return pack, nil
}

// GetPack returns the stored pack for a run.
func (s *Service) GetPack(ctx context.Context, runID uuid.UUID) (*models.EvidencePack, error) {
	return s.store.Evidence.GetByRun(ctx, runID)
}

// CompareRuns loads two runs and compares their determinism signatures.
func (s *Service) CompareRuns(ctx context.Context, a, b uuid.UUID) (*models.DeterminismComparisonResult, error) {
	runA, err := s.store.Runs.Get(ctx, a)
	if err != nil {
		return nil, err
	}
	runB, err := s.store.Runs.Get(ctx, b)
	if err != nil {
		return nil, err
	}
	result := CompareDeterminism(runA, runB)
	return &result, nil
}

// CreateCalibrationJob validates and persists a pending job.
func (s *Service) CreateCalibrationJob(ctx context.Context, req *models.CreateCalibrationJobRequest) (*models.CalibrationJob, error) {
	if req.DatasetID == "" {
		return nil, models.NewValidationError("dataset_id", "is required")
	}
	if req.Config.MetricKey == "" {
		return nil, models.NewValidationError("metric_key", "is required")
	}
	count, err := s.store.Labels.CountByDataset(ctx, req.DatasetID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, models.NewValidationError("dataset_id",
			fmt.Sprintf("dataset %q has no ground-truth labels", req.DatasetID))
	}

	job := &models.CalibrationJob{
		ID:        uuid.New(),
		ProjectID: req.ProjectID,
		DatasetID: req.DatasetID,
		Config:    req.Config,
		Status:    models.CalibrationPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Calibration.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ExecuteCalibrationJob runs a pending job to completion. Identical config,
// labels, and seed always produce the same stored result and result hash.
func (s *Service) ExecuteCalibrationJob(ctx context.Context, jobID uuid.UUID) (*models.CalibrationJob, error) {
	job, err := s.store.Calibration.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Calibration.MarkRunning(ctx, jobID); err != nil {
		return nil, err
	}

	result, iterations, err := s.runCalibration(ctx, job)
	if err != nil {
		if failErr := s.store.Calibration.FailJob(ctx, jobID); failErr != nil {
			s.log.Error("failed to mark calibration job failed", "job_id", jobID, "error", failErr)
		}
		s.log.Error("calibration job failed", "job_id", jobID, "error", err)
		return nil, err
	}

	now := time.Now().UTC()
	for i := range iterations {
		iterations[i].JobID = jobID
		iterations[i].CreatedAt = now
		if err := s.store.Calibration.AppendIteration(ctx, &iterations[i]); err != nil {
			return nil, err
		}
	}

	resultHash, err := canonical.Hash(result)
	if err != nil {
		return nil, fmt.Errorf("failed to hash calibration result: %w", err)
	}
	if err := s.store.Calibration.CompleteJob(ctx, jobID, result, resultHash); err != nil {
		return nil, err
	}
	s.log.Info("calibration job completed",
		"job_id", jobID,
		"best_bin_count", result.BestBinCount,
		"accuracy", result.BestMetrics.Accuracy,
		"early_stopped", result.EarlyStopped)
	return s.store.Calibration.GetJob(ctx, jobID)
}

// runCalibration pairs the dataset's labels with run predictions and runs
// the deterministic search. Labels are walked in run-id order, so the
// sample sequence is stable across executions.
func (s *Service) runCalibration(ctx context.Context, job *models.CalibrationJob) (*models.CalibrationResult, []models.CalibrationIteration, error) {
	labels, err := s.store.Labels.ListByDataset(ctx, job.DatasetID)
	if err != nil {
		return nil, nil, err
	}

	samples := make([]Sample, 0, len(labels))
	for _, label := range labels {
		run, err := s.store.Runs.Get(ctx, label.RunID)
		if err != nil {
			return nil, nil, err
		}
		if run.Outcome == nil {
			continue
		}
		prediction, ok := predictionFor(run.Outcome, job.Config.MetricKey)
		if !ok {
			continue
		}
		weight := 1.0
		if job.Config.Weighting == "sample" && run.TicksExecuted > 0 {
			weight = float64(run.TicksExecuted)
		}
		samples = append(samples, Sample{Prediction: prediction, Label: label.Label, Weight: weight})
	}

	return Calibrate(job.Config, samples)
}

// predictionFor resolves the configured metric from a run outcome.
func predictionFor(outcome *models.Outcome, metricKey string) (float64, bool) {
	if metricKey == "primary_outcome_probability" {
		return outcome.PrimaryProbability, true
	}
	if v, ok := outcome.KeyMetrics[metricKey]; ok {
		return v, true
	}
	if v, ok := outcome.Distribution[metricKey]; ok {
		return v, true
	}
	return 0, false
}

// GetCalibrationJob returns a job with its iteration history attached to
// the response by the API layer.
func (s *Service) GetCalibrationJob(ctx context.Context, id uuid.UUID) (*models.CalibrationJob, error) {
	return s.store.Calibration.GetJob(ctx, id)
}

// ListCalibrationJobs returns a dataset's jobs, newest first.
func (s *Service) ListCalibrationJobs(ctx context.Context, datasetID string) ([]*models.CalibrationJob, error) {
	return s.store.Calibration.ListJobsByDataset(ctx, datasetID)
}

// ListCalibrationIterations returns a job's immutable iteration history.
func (s *Service) ListCalibrationIterations(ctx context.Context, jobID uuid.UUID) ([]*models.CalibrationIteration, error) {
	return s.store.Calibration.ListIterations(ctx, jobID)
}

// RecordLabel upserts one ground-truth label, idempotent on
// (dataset_id, run_id).
func (s *Service) RecordLabel(ctx context.Context, label *models.GroundTruthLabel) error {
	if label.DatasetID == "" {
		return models.NewValidationError("dataset_id", "is required")
	}
	run, err := s.store.Runs.Get(ctx, label.RunID)
	if err != nil {
		return err
	}
	label.NodeID = run.NodeID
	now := time.Now().UTC()
	label.CreatedAt = now
	label.UpdatedAt = now
	return s.store.Labels.Upsert(ctx, label)
}

// ProposeParameters appends a proposed parameter version with its content
// hash. The previous pointer records the version that was current at
// proposal time, when one exists.
func (s *Service) ProposeParameters(ctx context.Context, projectID uuid.UUID, params models.ParameterSet) (*models.ParameterVersion, error) {
	if len(params) == 0 {
		return nil, models.NewValidationError("parameters", "must not be empty")
	}
	hash, err := canonical.Hash(params)
	if err != nil {
		return nil, fmt.Errorf("failed to hash parameters: %w", err)
	}

	pv := &models.ParameterVersion{
		ID:          uuid.New(),
		ProjectID:   projectID,
		VersionHash: hash,
		Parameters:  params,
		Status:      models.ParameterVersionProposed,
		CreatedAt:   time.Now().UTC(),
	}
	if current, err := s.store.Params.Current(ctx, projectID); err == nil {
		pv.PreviousVersionID = &current.ID
	}
	if err := s.store.Params.Insert(ctx, pv); err != nil {
		return nil, err
	}
	return pv, nil
}

// ActivateParameters approves a proposed version by appending an active row
// carrying the same parameters. The proposed row stays in the history
// untouched.
func (s *Service) ActivateParameters(ctx context.Context, versionID uuid.UUID, approvedBy string) (*models.ParameterVersion, error) {
	proposed, err := s.store.Params.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if proposed.Status != models.ParameterVersionProposed {
		return nil, fmt.Errorf("parameter version %s is %s, not proposed: %w",
			versionID, proposed.Status, models.ErrStateTransition)
	}

	now := time.Now().UTC()
	active := &models.ParameterVersion{
		ID:                uuid.New(),
		ProjectID:         proposed.ProjectID,
		VersionHash:       proposed.VersionHash,
		Parameters:        proposed.Parameters,
		Status:            models.ParameterVersionActive,
		PreviousVersionID: &proposed.ID,
		ApprovedBy:        &approvedBy,
		ApprovedAt:        &now,
		CreatedAt:         now,
	}
	if err := s.store.Params.Insert(ctx, active); err != nil {
		return nil, err
	}
	return active, nil
}

// RollbackParameters appends a rollback row restoring a past version's
// parameters. History is never rewritten; the newest row simply carries the
// restored values.
func (s *Service) RollbackParameters(ctx context.Context, projectID, targetID uuid.UUID) (*models.ParameterVersion, error) {
	target, err := s.store.Params.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.ProjectID != projectID {
		return nil, models.NewValidationError("version_id",
			"target version belongs to a different project")
	}
	current, err := s.store.Params.Current(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if current.ID == targetID {
		return nil, fmt.Errorf("version %s is already current: %w", targetID, models.ErrStateTransition)
	}

	rollback := &models.ParameterVersion{
		ID:                uuid.New(),
		ProjectID:         projectID,
		VersionHash:       target.VersionHash,
		Parameters:        target.Parameters,
		Status:            models.ParameterVersionRolledBack,
		PreviousVersionID: &current.ID,
		RolledBackToID:    &target.ID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.Params.Insert(ctx, rollback); err != nil {
		return nil, err
	}
	return rollback, nil
}

// CurrentParameters resolves the project's live parameter version.
func (s *Service) CurrentParameters(ctx context.Context, projectID uuid.UUID) (*models.ParameterVersion, error) {
	return s.store.Params.Current(ctx, projectID)
}

// ParameterHistory lists a project's full version history.
func (s *Service) ParameterHistory(ctx context.Context, projectID uuid.UUID) ([]*models.ParameterVersion, error) {
	return s.store.Params.History(ctx, projectID)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
