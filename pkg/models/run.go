package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "created"
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// allowedTransitions encodes the run state machine. Status only moves
// forward; a terminal status never changes again.
var allowedTransitions = map[RunStatus][]RunStatus{
	RunStatusCreated: {RunStatusQueued},
	RunStatusQueued:  {RunStatusRunning, RunStatusCanceled},
	RunStatusRunning: {RunStatusSucceeded, RunStatusFailed, RunStatusCanceled},
}

// CanTransition reports whether from → to is a legal status move.
func CanTransition(from, to RunStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is a final status.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCanceled
}

// ErrorKind classifies run failures. Values are stable and propagate to
// surface responses and evidence packs.
type ErrorKind string

const (
	ErrorKindValidation           ErrorKind = "validation_error"
	ErrorKindStateTransition      ErrorKind = "state_transition_violation"
	ErrorKindSourceBlocked        ErrorKind = "source_blocked"
	ErrorKindFutureDataAccess     ErrorKind = "future_data_access"
	ErrorKindAgentFaultThreshold  ErrorKind = "agent_fault_threshold"
	ErrorKindTimeBudgetExceeded   ErrorKind = "time_budget_exceeded"
	ErrorKindStorageUnavailable   ErrorKind = "storage_unavailable"
	ErrorKindDeterminismViolation ErrorKind = "determinism_violation"
	ErrorKindInternal             ErrorKind = "internal_error"
)

// Run is a single execution attempt against a node. A run is never
// re-executed; reproducing a result requires a new run with the same
// config and seed.
type Run struct {
	ID              uuid.UUID          `db:"id" json:"id"`
	ProjectID       uuid.UUID          `db:"project_id" json:"project_id"`
	NodeID          uuid.UUID          `db:"node_id" json:"node_id"`
	Config          RunConfig          `db:"run_config" json:"run_config"`
	ConfigHash      string             `db:"run_config_hash" json:"run_config_hash"`
	Status          RunStatus          `db:"status" json:"status"`
	Priority        int                `db:"priority" json:"priority"`
	SeedUsed        int64              `db:"seed_used" json:"seed_used"`
	PodID           *string            `db:"pod_id" json:"pod_id,omitempty"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	StartedAt       *time.Time         `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time         `db:"completed_at" json:"completed_at,omitempty"`
	LastHeartbeatAt *time.Time         `db:"last_heartbeat_at" json:"last_heartbeat_at,omitempty"`
	CancelRequested bool               `db:"cancel_requested" json:"cancel_requested"`
	ErrorKind       *ErrorKind         `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage    *string            `db:"error_message" json:"error_message,omitempty"`
	Outcome         *Outcome           `db:"outcome" json:"outcome,omitempty"`
	ExecCounters    *ExecutionCounters `db:"exec_counters" json:"execution_counters,omitempty"`
	GuardStats      *LeakageGuardStats `db:"guard_stats" json:"leakage_guard_stats,omitempty"`
	TelemetryRef    *string            `db:"telemetry_ref" json:"telemetry_ref,omitempty"`
	TelemetryHash   *string            `db:"telemetry_hash" json:"telemetry_hash,omitempty"`
	ResultHash      *string            `db:"result_hash" json:"result_hash,omitempty"`
	Reliability     *Reliability       `db:"reliability" json:"reliability,omitempty"`
	TicksExecuted   int                `db:"ticks_executed" json:"ticks_executed"`
	DeletedAt       *time.Time         `db:"deleted_at" json:"deleted_at,omitempty"`
}

// CreateRunRequest contains fields for creating a new run. Exactly one of
// NodeID or Fork must be set; Fork creates the target node first.
type CreateRunRequest struct {
	ProjectID uuid.UUID        `json:"project_id"`
	NodeID    *uuid.UUID       `json:"node_id,omitempty"`
	Fork      *ForkNodeRequest `json:"fork,omitempty"`
	Config    RunConfig        `json:"run_config"`
	Priority  int              `json:"priority,omitempty"`
}

// RunFilters contains filtering options for listing runs.
type RunFilters struct {
	ProjectID      *uuid.UUID `json:"project_id,omitempty"`
	NodeID         *uuid.UUID `json:"node_id,omitempty"`
	Status         RunStatus  `json:"status,omitempty"`
	CreatedAfter   *time.Time `json:"created_after,omitempty"`
	CreatedBefore  *time.Time `json:"created_before,omitempty"`
	Limit          int        `json:"limit,omitempty"`
	Offset         int        `json:"offset,omitempty"`
	IncludeDeleted bool       `json:"include_deleted,omitempty"`
}

// RunListResponse contains a paginated run list.
type RunListResponse struct {
	Runs       []*Run `json:"runs"`
	TotalCount int    `json:"total_count"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

// RunProgress is a lightweight view of a run in flight.
type RunProgress struct {
	RunID         uuid.UUID  `json:"run_id"`
	Status        RunStatus  `json:"status"`
	TicksExecuted int        `json:"ticks_executed"`
	Horizon       int        `json:"horizon"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
