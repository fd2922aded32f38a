package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/manyworlds/continuum/pkg/models"
)

const nodeColumns = `id, project_id, parent_id, depth, is_baseline, scenario_patch,
	aggregated_outcome, probability, cumulative_probability, confidence, is_stale,
	min_ensemble_size, version, created_at`

const edgeColumns = `id, project_id, parent_id, child_id, intervention, explanation, created_at`

// NodeStore persists the universe DAG: nodes, the edges that forked them,
// and the compiled patches attached to edges. Nodes are immutable after
// creation except the aggregate fields, which move under optimistic
// concurrency on the version column.
type NodeStore struct {
	db *sqlx.DB
}

// CreateRoot inserts the baseline node for a project.
func (s *NodeStore) CreateRoot(ctx context.Context, node *models.Node) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO nodes (id, project_id, parent_id, depth, is_baseline, scenario_patch,
			probability, cumulative_probability, is_stale, min_ensemble_size, version, created_at)
		VALUES (:id, :project_id, :parent_id, :depth, :is_baseline, :scenario_patch,
			:probability, :cumulative_probability, :is_stale, :min_ensemble_size, :version, :created_at)`,
		node)
	if err != nil {
		return fmt.Errorf("failed to insert root node: %w", err)
	}
	return nil
}

// Get returns a node by id.
func (s *NodeStore) Get(ctx context.Context, id uuid.UUID) (*models.Node, error) {
	var node models.Node
	err := s.db.GetContext(ctx, &node,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id)
	if isNoRows(err) {
		return nil, fmt.Errorf("node %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query node: %w", err)
	}
	return &node, nil
}

// CreateFork inserts the child node, its edge, and the compiled patch in
// one transaction. Either all three commit or none do.
func (s *NodeStore) CreateFork(ctx context.Context, node *models.Node, edge *models.Edge, patch *models.NodePatch) error {
	return inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO nodes (id, project_id, parent_id, depth, is_baseline, scenario_patch,
				probability, cumulative_probability, is_stale, min_ensemble_size, version, created_at)
			VALUES (:id, :project_id, :parent_id, :depth, :is_baseline, :scenario_patch,
				:probability, :cumulative_probability, :is_stale, :min_ensemble_size, :version, :created_at)`,
			node); err != nil {
			return fmt.Errorf("failed to insert forked node: %w", err)
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO edges (id, project_id, parent_id, child_id, intervention, explanation, created_at)
			VALUES (:id, :project_id, :parent_id, :child_id, :intervention, :explanation, :created_at)`,
			edge); err != nil {
			return fmt.Errorf("failed to insert edge: %w", err)
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO node_patches (id, edge_id, deltas, created_at)
			VALUES (:id, :edge_id, :deltas, :created_at)`,
			patch); err != nil {
			return fmt.Errorf("failed to insert node patch: %w", err)
		}
		return nil
	})
}

// AggregateUpdate is the recomputed aggregate state written back to a node.
type AggregateUpdate struct {
	Aggregate             *models.AggregatedOutcome
	Probability           float64
	CumulativeProbability float64
	Confidence            *models.Confidence
	IsStale               bool
}

// UpdateAggregate writes the aggregate fields guarded by the version
// counter. Returns ErrConcurrentModification when another writer won;
// callers re-read and re-fold.
func (s *NodeStore) UpdateAggregate(ctx context.Context, id uuid.UUID, expectedVersion int64, upd AggregateUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes
		SET aggregated_outcome = $1, probability = $2, cumulative_probability = $3,
			confidence = $4, is_stale = $5, version = version + 1
		WHERE id = $6 AND version = $7`,
		upd.Aggregate, upd.Probability, upd.CumulativeProbability, upd.Confidence,
		upd.IsStale, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update node aggregate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("node %s version %d: %w", id, expectedVersion, models.ErrConcurrentModification)
	}
	return nil
}

// SetStale flips the staleness flag without touching aggregates.
func (s *NodeStore) SetStale(ctx context.Context, id uuid.UUID, stale bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET is_stale = $1 WHERE id = $2`, stale, id)
	if err != nil {
		return fmt.Errorf("failed to set node staleness: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("node %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// RaiseMinEnsembleSize lifts min_ensemble_size to at least n. Never lowers.
func (s *NodeStore) RaiseMinEnsembleSize(ctx context.Context, id uuid.UUID, n int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET min_ensemble_size = GREATEST(min_ensemble_size, $1) WHERE id = $2`, n, id)
	if err != nil {
		return fmt.Errorf("failed to raise min ensemble size: %w", err)
	}
	return nil
}

// ListByProject returns a project's nodes up to maxDepth (negative = all),
// ordered by depth then creation time.
func (s *NodeStore) ListByProject(ctx context.Context, projectID uuid.UUID, maxDepth int) ([]*models.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE project_id = $1`
	args := []any{projectID}
	if maxDepth >= 0 {
		query += ` AND depth <= $2`
		args = append(args, maxDepth)
	}
	query += ` ORDER BY depth ASC, created_at ASC`

	nodes := []*models.Node{}
	if err := s.db.SelectContext(ctx, &nodes, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return nodes, nil
}

// ListEdgesByProject returns all edges of a project.
func (s *NodeStore) ListEdgesByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Edge, error) {
	edges := []*models.Edge{}
	err := s.db.SelectContext(ctx, &edges,
		`SELECT `+edgeColumns+` FROM edges WHERE project_id = $1 ORDER BY created_at ASC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	return edges, nil
}

// GetEdgeToChild returns the edge that created the given child node.
func (s *NodeStore) GetEdgeToChild(ctx context.Context, childID uuid.UUID) (*models.Edge, error) {
	var edge models.Edge
	err := s.db.GetContext(ctx, &edge,
		`SELECT `+edgeColumns+` FROM edges WHERE child_id = $1`, childID)
	if isNoRows(err) {
		return nil, fmt.Errorf("edge to node %s: %w", childID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query edge: %w", err)
	}
	return &edge, nil
}

// GetPatchByEdge returns the compiled patch attached to an edge.
func (s *NodeStore) GetPatchByEdge(ctx context.Context, edgeID uuid.UUID) (*models.NodePatch, error) {
	var patch models.NodePatch
	err := s.db.GetContext(ctx, &patch,
		`SELECT id, edge_id, deltas, created_at FROM node_patches WHERE edge_id = $1`, edgeID)
	if isNoRows(err) {
		return nil, fmt.Errorf("patch for edge %s: %w", edgeID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query node patch: %w", err)
	}
	return &patch, nil
}

// PathToRoot returns the nodes from the given node up to the baseline,
// child first. Used to materialize a node's world by replaying patches
// root-down.
func (s *NodeStore) PathToRoot(ctx context.Context, id uuid.UUID) ([]*models.Node, error) {
	nodes := []*models.Node{}
	err := s.db.SelectContext(ctx, &nodes, `
		WITH RECURSIVE path AS (
			SELECT `+nodeColumns+` FROM nodes WHERE id = $1
			UNION ALL
			SELECT n.id, n.project_id, n.parent_id, n.depth, n.is_baseline, n.scenario_patch,
				n.aggregated_outcome, n.probability, n.cumulative_probability, n.confidence,
				n.is_stale, n.min_ensemble_size, n.version, n.created_at
			FROM nodes n
			INNER JOIN path p ON n.id = p.parent_id
		)
		SELECT `+nodeColumns+` FROM path`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query node path: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("node %s: %w", id, models.ErrNotFound)
	}
	return nodes, nil
}

// Children returns the direct children of a node.
func (s *NodeStore) Children(ctx context.Context, id uuid.UUID) ([]*models.Node, error) {
	nodes := []*models.Node{}
	err := s.db.SelectContext(ctx, &nodes,
		`SELECT `+nodeColumns+` FROM nodes WHERE parent_id = $1 ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	return nodes, nil
}

// MarkDescendantsStale flags every node below the given node. Runs when an
// upstream patch is re-derived so downstream aggregates get refreshed.
func (s *NodeStore) MarkDescendantsStale(ctx context.Context, id uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		WITH RECURSIVE sub AS (
			SELECT id FROM nodes WHERE parent_id = $1
			UNION ALL
			SELECT n.id FROM nodes n INNER JOIN sub s ON n.parent_id = s.id
		)
		UPDATE nodes SET is_stale = TRUE WHERE id IN (SELECT id FROM sub)`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to mark descendants stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}
