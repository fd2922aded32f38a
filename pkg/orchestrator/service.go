// Package orchestrator validates and admits runs: it resolves run configs
// against system defaults, derives seeds, computes config hashes, and moves
// runs through created → queued. Execution belongs to the queue workers.
package orchestrator

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/evidence"
	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/store"
	"github.com/manyworlds/continuum/pkg/universe"
)

// Publisher delivers run status events. *events.Publisher satisfies it.
type Publisher interface {
	PublishRunStatus(ctx context.Context, run *models.Run) error
}

// CancelSignaler interrupts a run executing on this pod. The worker pool
// satisfies it; runs on other pods stop via the heartbeat flag instead.
type CancelSignaler interface {
	SignalCancel(runID uuid.UUID) bool
}

// Service admits, tracks, and cancels runs.
type Service struct {
	store     *store.Store
	cfg       *config.Config
	universe  *universe.Service
	publisher Publisher
	signaler  CancelSignaler
	validate  *validator.Validate
	log       *slog.Logger
}

// NewService builds the orchestrator.
func NewService(st *store.Store, cfg *config.Config, uni *universe.Service, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		cfg:       cfg,
		universe:  uni,
		publisher: publisher,
		validate:  validator.New(),
		log:       logger.With("component", "orchestrator"),
	}
}

// SetCancelSignaler wires the local worker pool once it exists.
func (s *Service) SetCancelSignaler(signaler CancelSignaler) {
	s.signaler = signaler
}

// CreateRun admits one run: resolve the target node (forking first when
// requested), fill config defaults, derive the seed, hash the config, and
// persist the run as created before transitioning it to queued.
func (s *Service) CreateRun(ctx context.Context, req *models.CreateRunRequest) (*models.Run, error) {
	if (req.NodeID == nil) == (req.Fork == nil) {
		return nil, models.NewValidationError("node_id", "exactly one of node_id or fork must be set")
	}

	project, err := s.store.Projects.Get(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	var nodeID uuid.UUID
	if req.Fork != nil {
		forked, err := s.universe.ForkNode(ctx, req.Fork)
		if err != nil {
			return nil, err
		}
		if forked.Node.ProjectID != req.ProjectID {
			return nil, models.NewValidationError("fork.parent_id", "parent node belongs to a different project")
		}
		nodeID = forked.Node.ID
	} else {
		node, err := s.store.Nodes.Get(ctx, *req.NodeID)
		if err != nil {
			return nil, err
		}
		if node.ProjectID != req.ProjectID {
			return nil, models.NewValidationError("node_id", "node belongs to a different project")
		}
		nodeID = node.ID
	}

	runConfig, err := s.resolveConfig(req.Config, project)
	if err != nil {
		return nil, err
	}

	seed, err := resolveSeed(&runConfig.SeedConfig)
	if err != nil {
		return nil, err
	}

	configHash, err := evidence.RunConfigHash(*runConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to hash run config: %w", err)
	}

	run := &models.Run{
		ID:         uuid.New(),
		ProjectID:  req.ProjectID,
		NodeID:     nodeID,
		Config:     *runConfig,
		ConfigHash: configHash,
		Status:     models.RunStatusCreated,
		Priority:   req.Priority,
		SeedUsed:   seed,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.Runs.Create(ctx, run); err != nil {
		return nil, err
	}
	if err := s.store.Runs.Transition(ctx, run.ID, models.RunStatusCreated, models.RunStatusQueued); err != nil {
		return nil, err
	}
	run.Status = models.RunStatusQueued

	if s.publisher != nil {
		if err := s.publisher.PublishRunStatus(ctx, run); err != nil {
			s.log.Warn("failed to publish run queued event", "run_id", run.ID, "error", err)
		}
	}
	s.log.Info("run queued",
		"run_id", run.ID,
		"node_id", nodeID,
		"seed", seed,
		"config_hash", configHash[:12])
	return run, nil
}

// LaunchRun implements universe.RunLauncher for node refresh and ensembles.
func (s *Service) LaunchRun(ctx context.Context, projectID, nodeID uuid.UUID, cfg models.RunConfig, priority int) (*models.Run, error) {
	return s.CreateRun(ctx, &models.CreateRunRequest{
		ProjectID: projectID,
		NodeID:    &nodeID,
		Config:    cfg,
		Priority:  priority,
	})
}

// resolveConfig fills unset fields from system defaults and the project's
// pinned versions, then validates the result.
func (s *Service) resolveConfig(cfg models.RunConfig, project *models.Project) (*models.RunConfig, error) {
	defaults := s.cfg.Defaults

	if cfg.KeyframeInterval == 0 && defaults.KeyframeInterval > 0 {
		cfg.KeyframeInterval = defaults.KeyframeInterval
	}
	if cfg.SchedulerProfile == "" {
		cfg.SchedulerProfile = defaults.SchedulerProfile
	}
	if cfg.ActionSpace == "" {
		cfg.ActionSpace = defaults.ActionSpace
	}
	if cfg.SeedConfig.Strategy == "" && defaults.SeedStrategy != "" {
		cfg.SeedConfig.Strategy = models.SeedStrategy(defaults.SeedStrategy)
	}
	if cfg.FaultTolerance == 0 && defaults.FaultTolerance > 0 {
		cfg.FaultTolerance = defaults.FaultTolerance
	}
	if cfg.Versions.Engine == "" {
		cfg.Versions = models.Versions{
			Engine:  project.EngineVersion,
			Ruleset: project.RulesetVersion,
			Dataset: project.DatasetVersion,
		}
	}
	if cfg.PolicyKind == "neural" && defaults.ProductMode != config.ProductModeFull {
		return nil, models.NewValidationError("policy_kind",
			"neural policies require full product mode")
	}
	if cfg.CutoffTime != nil {
		if cfg.TemporalMode == "" {
			cfg.TemporalMode = models.TemporalModeBacktest
		}
		if cfg.LeakageGuard == nil {
			level := defaults.IsolationLevel
			if level == 0 {
				level = 2
			}
			cfg.LeakageGuard = &models.LeakageGuardConfig{IsolationLevel: level}
		}
	}

	if err := s.validate.Struct(cfg); err != nil {
		return nil, models.NewValidationError("run_config", err.Error())
	}
	if _, err := s.cfg.GetSchedulerProfile(cfg.SchedulerProfile); err != nil {
		return nil, models.NewValidationError("scheduler_profile",
			fmt.Sprintf("unknown profile %q", cfg.SchedulerProfile))
	}
	if cfg.ActionSpace != "" {
		if _, err := s.cfg.GetActionSpace(cfg.ActionSpace); err != nil {
			return nil, models.NewValidationError("action_space",
				fmt.Sprintf("unknown action space %q", cfg.ActionSpace))
		}
	}
	if cfg.ScenarioPatch != nil {
		if err := cfg.ScenarioPatch.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// resolveSeed derives the run seed per strategy. A random seed is drawn
// from the OS entropy source and written back so the run stays replayable.
func resolveSeed(sc *models.SeedConfig) (int64, error) {
	switch sc.Strategy {
	case models.SeedStrategyFixed, models.SeedStrategySequence:
		return sc.PrimarySeed, nil
	case models.SeedStrategyRandom:
		var buf [8]byte
		if _, err := crand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("failed to draw random seed: %w", err)
		}
		seed := int64(binary.BigEndian.Uint64(buf[:]) &^ (1 << 63))
		sc.PrimarySeed = seed
		return seed, nil
	default:
		return 0, models.NewValidationError("seed_config.strategy",
			fmt.Sprintf("unknown strategy %q", sc.Strategy))
	}
}

// CancelRun cancels a queued run immediately or flags a running one. A run
// executing on this pod is additionally interrupted in place.
func (s *Service) CancelRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	run, err := s.store.Runs.RequestCancel(ctx, id)
	if err != nil {
		return nil, err
	}

	if run.Status == models.RunStatusRunning && s.signaler != nil {
		if s.signaler.SignalCancel(id) {
			s.log.Info("run canceled locally", "run_id", id)
		}
	}
	if run.Status == models.RunStatusCanceled && s.publisher != nil {
		if err := s.publisher.PublishRunStatus(ctx, run); err != nil {
			s.log.Warn("failed to publish run canceled event", "run_id", id, "error", err)
		}
	}
	return run, nil
}

// Progress returns the lightweight in-flight view of a run.
func (s *Service) Progress(ctx context.Context, id uuid.UUID) (*models.RunProgress, error) {
	run, err := s.store.Runs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := run.CreatedAt
	if run.LastHeartbeatAt != nil {
		updated = *run.LastHeartbeatAt
	}
	return &models.RunProgress{
		RunID:         run.ID,
		Status:        run.Status,
		TicksExecuted: run.TicksExecuted,
		Horizon:       run.Config.Horizon,
		StartedAt:     run.StartedAt,
		UpdatedAt:     updated,
	}, nil
}

// Result returns the full run row including outcome and hashes.
func (s *Service) Result(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	return s.store.Runs.Get(ctx, id)
}

// ListRuns returns a filtered, paginated run list.
func (s *Service) ListRuns(ctx context.Context, filters models.RunFilters) (*models.RunListResponse, error) {
	return s.store.Runs.List(ctx, filters)
}
