package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/manyworlds/continuum/pkg/models"
)

// RunStatusPayload announces a run lifecycle transition. Persistent.
type RunStatusPayload struct {
	Type          string            `json:"type"` // EventTypeRunStatus
	RunID         uuid.UUID         `json:"run_id"`
	ProjectID     uuid.UUID         `json:"project_id"`
	NodeID        uuid.UUID         `json:"node_id"`
	Status        models.RunStatus  `json:"status"`
	ErrorKind     *models.ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage  *string           `json:"error_message,omitempty"`
	TicksExecuted int               `json:"ticks_executed"`
	Timestamp     time.Time         `json:"timestamp"`
}

// NewRunStatusPayload builds the status payload from the run row.
func NewRunStatusPayload(run *models.Run) RunStatusPayload {
	return RunStatusPayload{
		Type:          EventTypeRunStatus,
		RunID:         run.ID,
		ProjectID:     run.ProjectID,
		NodeID:        run.NodeID,
		Status:        run.Status,
		ErrorKind:     run.ErrorKind,
		ErrorMessage:  run.ErrorMessage,
		TicksExecuted: run.TicksExecuted,
		Timestamp:     time.Now().UTC(),
	}
}

// RunProgressPayload reports tick progress mid-execution. Transient.
type RunProgressPayload struct {
	Type          string           `json:"type"` // EventTypeRunProgress
	RunID         uuid.UUID        `json:"run_id"`
	Status        models.RunStatus `json:"status"`
	TicksExecuted int              `json:"ticks_executed"`
	Horizon       int              `json:"horizon"`
	Timestamp     time.Time        `json:"timestamp"`
}

// NewRunProgressPayload builds the progress payload from the run row.
func NewRunProgressPayload(run *models.Run) RunProgressPayload {
	return RunProgressPayload{
		Type:          EventTypeRunProgress,
		RunID:         run.ID,
		Status:        run.Status,
		TicksExecuted: run.TicksExecuted,
		Horizon:       run.Config.Horizon,
		Timestamp:     time.Now().UTC(),
	}
}

// NodeAggregatePayload announces a recomputed node aggregate. Persisted
// under the run whose completion triggered the recomputation.
type NodeAggregatePayload struct {
	Type                  string             `json:"type"` // EventTypeNodeAggregate
	RunID                 uuid.UUID          `json:"run_id"`
	NodeID                uuid.UUID          `json:"node_id"`
	ProjectID             uuid.UUID          `json:"project_id"`
	Probability           float64            `json:"probability"`
	CumulativeProbability float64            `json:"cumulative_probability"`
	Confidence            *models.Confidence `json:"confidence,omitempty"`
	IsStale               bool               `json:"is_stale"`
	SampleCount           int                `json:"sample_count"`
	Timestamp             time.Time          `json:"timestamp"`
}

// NewNodeAggregatePayload builds the aggregate payload from the node row.
func NewNodeAggregatePayload(runID uuid.UUID, node *models.Node) NodeAggregatePayload {
	p := NodeAggregatePayload{
		Type:                  EventTypeNodeAggregate,
		RunID:                 runID,
		NodeID:                node.ID,
		ProjectID:             node.ProjectID,
		Probability:           node.Probability,
		CumulativeProbability: node.CumulativeProbability,
		Confidence:            node.Confidence,
		IsStale:               node.IsStale,
		Timestamp:             time.Now().UTC(),
	}
	if node.AggregatedOutcome != nil {
		p.SampleCount = node.AggregatedOutcome.SampleCount
	}
	return p
}
