// Package universe owns the scenario DAG: root creation, fork-not-mutate
// branching with compiled patches, deterministic run aggregation under
// optimistic concurrency, and the map/comparison read paths.
package universe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/store"
)

// aggregateRetries bounds the CAS loop. The fold is associative, so losing
// a race just means re-reading and folding the superset.
const aggregateRetries = 5

const defaultMinEnsembleSize = 3

// RunLauncher queues a run against a node. The orchestrator implements it;
// the indirection keeps the dependency pointing one way.
type RunLauncher interface {
	LaunchRun(ctx context.Context, projectID, nodeID uuid.UUID, cfg models.RunConfig, priority int) (*models.Run, error)
}

// Service is the universe DAG service.
type Service struct {
	store      *store.Store
	translator Translator
	launcher   RunLauncher
	log        *slog.Logger
}

// NewService builds the universe service. The translator may be nil, which
// disables natural-language interventions.
func NewService(st *store.Store, translator Translator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      st,
		translator: translator,
		log:        logger.With("component", "universe"),
	}
}

// SetRunLauncher wires the launcher after construction; the orchestrator
// and universe reference each other only through this seam.
func (s *Service) SetRunLauncher(launcher RunLauncher) {
	s.launcher = launcher
}

// CreateRootNode inserts a project's baseline node at depth zero with
// certain probability.
func (s *Service) CreateRootNode(ctx context.Context, projectID uuid.UUID) (*models.Node, error) {
	node := &models.Node{
		ID:                    uuid.New(),
		ProjectID:             projectID,
		Depth:                 0,
		IsBaseline:            true,
		Probability:           1.0,
		CumulativeProbability: 1.0,
		IsStale:               true,
		MinEnsembleSize:       defaultMinEnsembleSize,
		CreatedAt:             time.Now().UTC(),
	}
	if err := s.store.Nodes.CreateRoot(ctx, node); err != nil {
		return nil, err
	}
	s.log.Info("root node created", "project_id", projectID, "node_id", node.ID)
	return node, nil
}

// ForkNode creates a child node from a parent under an intervention. The
// intervention compiles to patch deltas first (translating natural language
// through the external service when needed), then node, edge, and patch
// commit in one transaction. The parent is never modified.
func (s *Service) ForkNode(ctx context.Context, req *models.ForkNodeRequest) (*models.ForkNodeResponse, error) {
	if err := req.Intervention.Validate(); err != nil {
		return nil, err
	}
	parent, err := s.store.Nodes.Get(ctx, req.ParentID)
	if err != nil {
		return nil, err
	}

	deltas, explanation, err := s.compile(ctx, parent.ProjectID, &req.Intervention)
	if err != nil {
		return nil, err
	}
	if req.Explanation != "" {
		explanation = req.Explanation
	}

	now := time.Now().UTC()
	node := &models.Node{
		ID:              uuid.New(),
		ProjectID:       parent.ProjectID,
		ParentID:        &parent.ID,
		Depth:           parent.Depth + 1,
		ScenarioPatch:   deltas,
		IsStale:         true,
		MinEnsembleSize: parent.MinEnsembleSize,
		CreatedAt:       now,
	}
	edge := &models.Edge{
		ID:           uuid.New(),
		ProjectID:    parent.ProjectID,
		ParentID:     parent.ID,
		ChildID:      node.ID,
		Intervention: req.Intervention,
		CreatedAt:    now,
	}
	if explanation != "" {
		edge.Explanation = &explanation
	}
	patch := &models.NodePatch{
		ID:        uuid.New(),
		EdgeID:    edge.ID,
		Deltas:    *deltas,
		CreatedAt: now,
	}

	if err := s.store.Nodes.CreateFork(ctx, node, edge, patch); err != nil {
		return nil, err
	}
	s.log.Info("node forked",
		"project_id", parent.ProjectID,
		"parent_id", parent.ID,
		"node_id", node.ID,
		"intervention", req.Intervention.Type)
	return &models.ForkNodeResponse{Node: node, Edge: edge, Patch: patch}, nil
}

// compile turns an intervention into directly applicable deltas.
func (s *Service) compile(ctx context.Context, projectID uuid.UUID, iv *models.Intervention) (*models.PatchDeltas, string, error) {
	switch iv.Type {
	case models.InterventionVariableDelta:
		return &models.PatchDeltas{Variables: iv.VariableDeltas}, "", nil
	case models.InterventionEventScript:
		return &models.PatchDeltas{EventScripts: iv.EventScripts}, "", nil
	case models.InterventionNLQuery:
		if s.translator == nil {
			return nil, "", models.NewValidationError("nl_query",
				"natural-language interventions are not enabled")
		}
		translation, err := s.translator.Translate(ctx, projectID.String(), iv.NLQuery)
		if err != nil {
			return nil, "", fmt.Errorf("failed to translate intervention: %w", err)
		}
		return &translation.Deltas, translation.Explanation, nil
	default:
		return nil, "", models.NewValidationError("type",
			fmt.Sprintf("unknown intervention type %q", iv.Type))
	}
}

// PatchesForNode returns the compiled deltas along the root-to-node path in
// application order. The baseline contributes nothing; every other node
// contributes the patch attached to its incoming edge.
func (s *Service) PatchesForNode(ctx context.Context, nodeID uuid.UUID) ([]models.PatchDeltas, error) {
	path, err := s.store.Nodes.PathToRoot(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	// PathToRoot is child first; apply root down.
	patches := make([]models.PatchDeltas, 0, len(path))
	for i := len(path) - 1; i >= 0; i-- {
		node := path[i]
		if node.IsBaseline {
			continue
		}
		edge, err := s.store.Nodes.GetEdgeToChild(ctx, node.ID)
		if err != nil {
			return nil, err
		}
		patch, err := s.store.Nodes.GetPatchByEdge(ctx, edge.ID)
		if err != nil {
			return nil, err
		}
		patches = append(patches, patch.Deltas)
	}
	return patches, nil
}

// AggregateRuns re-folds a node's succeeded runs and writes the aggregate
// back under the node's version counter, retrying on concurrent updates.
// A run failure never reaches this path, so sibling aggregates are never
// invalidated by one.
func (s *Service) AggregateRuns(ctx context.Context, nodeID uuid.UUID) (*models.Node, error) {
	var lastErr error
	for attempt := 0; attempt < aggregateRetries; attempt++ {
		node, err := s.store.Nodes.Get(ctx, nodeID)
		if err != nil {
			return nil, err
		}
		runs, err := s.store.Runs.SucceededForNode(ctx, nodeID)
		if err != nil {
			return nil, err
		}

		agg := foldOutcomes(runs)
		upd := store.AggregateUpdate{
			Aggregate: agg,
			IsStale:   len(runs) < node.MinEnsembleSize,
		}
		if agg != nil {
			upd.Probability = agg.Outcomes[agg.PrimaryOutcome].Mean
			conf := confidenceFor(upd.Probability, runs)
			upd.Confidence = &conf
		}
		upd.CumulativeProbability = upd.Probability
		if node.ParentID != nil {
			parent, err := s.store.Nodes.Get(ctx, *node.ParentID)
			if err != nil {
				return nil, err
			}
			siblings, err := s.store.Nodes.Children(ctx, parent.ID)
			if err != nil {
				return nil, err
			}
			// Sibling branches form a sub-stochastic distribution: within
			// a parent, child probabilities never sum past 1.
			upd.Probability = capToSiblingMass(upd.Probability, siblings, node.ID)
			upd.CumulativeProbability = parent.CumulativeProbability * upd.Probability
		} else {
			// The baseline is the certain starting state.
			upd.Probability = 1.0
			upd.CumulativeProbability = 1.0
		}

		err = s.store.Nodes.UpdateAggregate(ctx, nodeID, node.Version, upd)
		if err == nil {
			s.log.Info("node aggregate updated",
				"node_id", nodeID,
				"sample_count", sampleCount(agg),
				"stale", upd.IsStale)
			return s.store.Nodes.Get(ctx, nodeID)
		}
		if !errors.Is(err, models.ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("node %s aggregate lost %d races: %w", nodeID, aggregateRetries, lastErr)
}

func sampleCount(agg *models.AggregatedOutcome) int {
	if agg == nil {
		return 0
	}
	return agg.SampleCount
}

// UniverseMap returns a project's DAG up to maxDepth (negative for all).
// With exploredOnly set, nodes without an aggregate and their edges are
// dropped.
func (s *Service) UniverseMap(ctx context.Context, projectID uuid.UUID, maxDepth int, exploredOnly bool) (*models.UniverseMap, error) {
	if _, err := s.store.Projects.Get(ctx, projectID); err != nil {
		return nil, err
	}
	nodes, err := s.store.Nodes.ListByProject(ctx, projectID, maxDepth)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.Nodes.ListEdgesByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if exploredOnly {
		kept := nodes[:0]
		for _, node := range nodes {
			if node.AggregatedOutcome != nil || node.IsBaseline {
				kept = append(kept, node)
			}
		}
		nodes = kept
	}

	present := make(map[uuid.UUID]struct{}, len(nodes))
	for _, node := range nodes {
		present[node.ID] = struct{}{}
	}
	keptEdges := make([]*models.Edge, 0, len(edges))
	for _, edge := range edges {
		if _, ok := present[edge.ParentID]; !ok {
			continue
		}
		if _, ok := present[edge.ChildID]; !ok {
			continue
		}
		keptEdges = append(keptEdges, edge)
	}

	return &models.UniverseMap{ProjectID: projectID, Nodes: nodes, Edges: keptEdges}, nil
}

// CompareNodes returns side-by-side statistics for the given nodes.
func (s *Service) CompareNodes(ctx context.Context, ids []uuid.UUID) (*models.NodeComparison, error) {
	if len(ids) < 2 {
		return nil, models.NewValidationError("node_ids", "at least two nodes are required")
	}
	comparison := &models.NodeComparison{Nodes: make([]models.NodeComparisonEntry, 0, len(ids))}
	for _, id := range ids {
		node, err := s.store.Nodes.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		comparison.Nodes = append(comparison.Nodes, models.NodeComparisonEntry{
			NodeID:      node.ID,
			Depth:       node.Depth,
			Probability: node.Probability,
			Confidence:  node.Confidence,
			IsStale:     node.IsStale,
			Aggregate:   node.AggregatedOutcome,
		})
	}
	return comparison, nil
}

// QueueNodeRefresh queues one new run against a stale node and clears the
// staleness flag. Refreshing a fresh node is a no-op.
func (s *Service) QueueNodeRefresh(ctx context.Context, nodeID uuid.UUID, cfg models.RunConfig, priority int) (*models.Run, error) {
	if s.launcher == nil {
		return nil, errors.New("run launcher not configured")
	}
	node, err := s.store.Nodes.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !node.IsStale {
		return nil, nil
	}
	run, err := s.launcher.LaunchRun(ctx, node.ProjectID, node.ID, cfg, priority)
	if err != nil {
		return nil, err
	}
	if err := s.store.Nodes.SetStale(ctx, nodeID, false); err != nil {
		return nil, err
	}
	s.log.Info("stale node refresh queued", "node_id", nodeID, "run_id", run.ID)
	return run, nil
}

// RunNodeEnsemble queues count runs with a sequence seed strategy and
// raises the node's minimum ensemble size so the aggregate stays marked
// incomplete until all of them land.
func (s *Service) RunNodeEnsemble(ctx context.Context, nodeID uuid.UUID, cfg models.RunConfig, count int) ([]*models.Run, error) {
	if s.launcher == nil {
		return nil, errors.New("run launcher not configured")
	}
	if count < 1 {
		return nil, models.NewValidationError("count", "must be at least 1")
	}
	node, err := s.store.Nodes.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	cfg.SeedConfig.Strategy = models.SeedStrategySequence
	cfg.SeedConfig.Count = count

	runs := make([]*models.Run, 0, count)
	for i := 0; i < count; i++ {
		member := cfg
		member.SeedConfig.PrimarySeed = cfg.SeedConfig.PrimarySeed + int64(i)
		run, err := s.launcher.LaunchRun(ctx, node.ProjectID, node.ID, member, 0)
		if err != nil {
			return runs, err
		}
		runs = append(runs, run)
	}
	if err := s.store.Nodes.RaiseMinEnsembleSize(ctx, nodeID, count); err != nil {
		return runs, err
	}
	s.log.Info("ensemble queued", "node_id", nodeID, "count", count)
	return runs, nil
}

// MarkUpstreamPatchChanged flags every descendant of a node stale after an
// upstream patch re-derivation.
func (s *Service) MarkUpstreamPatchChanged(ctx context.Context, nodeID uuid.UUID) (int64, error) {
	n, err := s.store.Nodes.MarkDescendantsStale(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("descendants marked stale", "node_id", nodeID, "count", n)
	}
	return n, nil
}
