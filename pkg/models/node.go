package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

// Project scopes a universe map and its runs to a tenant.
type Project struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	TenantID       uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	Name           string     `db:"name" json:"name"`
	EngineVersion  string     `db:"engine_version" json:"engine_version"`
	RulesetVersion string     `db:"ruleset_version" json:"ruleset_version"`
	DatasetVersion string     `db:"dataset_version" json:"dataset_version"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Confidence is the three-tier band derived from an aggregate's
// reliability-adjusted probability.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// OutcomeStats is the deterministic fold of one outcome key across a
// node's completed runs.
type OutcomeStats struct {
	Mean        float64 `json:"mean"`
	Variance    float64 `json:"variance"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	SampleCount int     `json:"sample_count"`
}

// AggregatedOutcome is the node-level fold over its succeeded runs.
type AggregatedOutcome struct {
	Outcomes       map[string]OutcomeStats `json:"outcomes"`
	PrimaryOutcome string                  `json:"primary_outcome"`
	SampleCount    int                     `json:"sample_count"`
	RunIDs         []uuid.UUID             `json:"run_ids"`
}

func (a AggregatedOutcome) Value() (driver.Value, error) { return jsonbValue(a) }
func (a *AggregatedOutcome) Scan(src any) error          { return jsonbScan(a, src) }

// Node is one scenario state in the universe map DAG. Immutable after
// creation except for the aggregated fields, which are recomputed under
// optimistic concurrency as runs complete.
type Node struct {
	ID                    uuid.UUID          `db:"id" json:"id"`
	ProjectID             uuid.UUID          `db:"project_id" json:"project_id"`
	ParentID              *uuid.UUID         `db:"parent_id" json:"parent_id,omitempty"`
	Depth                 int                `db:"depth" json:"depth"`
	IsBaseline            bool               `db:"is_baseline" json:"is_baseline"`
	ScenarioPatch         *PatchDeltas       `db:"scenario_patch" json:"scenario_patch,omitempty"`
	AggregatedOutcome     *AggregatedOutcome `db:"aggregated_outcome" json:"aggregated_outcome,omitempty"`
	Probability           float64            `db:"probability" json:"probability"`
	CumulativeProbability float64            `db:"cumulative_probability" json:"cumulative_probability"`
	Confidence            *Confidence        `db:"confidence" json:"confidence,omitempty"`
	IsStale               bool               `db:"is_stale" json:"is_stale"`
	MinEnsembleSize       int                `db:"min_ensemble_size" json:"min_ensemble_size"`
	Version               int64              `db:"version" json:"version"`
	CreatedAt             time.Time          `db:"created_at" json:"created_at"`
}

// Edge records the intervention that produced a child node. Immutable;
// never re-targeted.
type Edge struct {
	ID           uuid.UUID    `db:"id" json:"id"`
	ProjectID    uuid.UUID    `db:"project_id" json:"project_id"`
	ParentID     uuid.UUID    `db:"parent_id" json:"parent_id"`
	ChildID      uuid.UUID    `db:"child_id" json:"child_id"`
	Intervention Intervention `db:"intervention" json:"intervention"`
	Explanation  *string      `db:"explanation" json:"explanation,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}

// NodePatch is the compiled environment modification derived from an
// edge's intervention at fork time. Immutable.
type NodePatch struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	EdgeID    uuid.UUID   `db:"edge_id" json:"edge_id"`
	Deltas    PatchDeltas `db:"deltas" json:"deltas"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// ForkNodeRequest contains fields for forking a child node from a parent.
type ForkNodeRequest struct {
	ParentID     uuid.UUID    `json:"parent_id"`
	Intervention Intervention `json:"intervention"`
	Explanation  string       `json:"explanation,omitempty"`
}

// ForkNodeResponse is the triple produced by a successful fork.
type ForkNodeResponse struct {
	Node  *Node      `json:"node"`
	Edge  *Edge      `json:"edge"`
	Patch *NodePatch `json:"patch"`
}

// UniverseMap is the subgraph returned to callers: nodes with depth and
// probabilities plus the connecting edges.
type UniverseMap struct {
	ProjectID uuid.UUID `json:"project_id"`
	Nodes     []*Node   `json:"nodes"`
	Edges     []*Edge   `json:"edges"`
}

// NodeComparison holds side-by-side statistics for compared nodes.
type NodeComparison struct {
	Nodes []NodeComparisonEntry `json:"nodes"`
}

// NodeComparisonEntry is one node's contribution to a comparison.
type NodeComparisonEntry struct {
	NodeID      uuid.UUID          `json:"node_id"`
	Depth       int                `json:"depth"`
	Probability float64            `json:"probability"`
	Confidence  *Confidence        `json:"confidence,omitempty"`
	IsStale     bool               `json:"is_stale"`
	Aggregate   *AggregatedOutcome `json:"aggregate,omitempty"`
}
