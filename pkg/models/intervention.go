package models

import (
	"database/sql/driver"
	"fmt"
)

// InterventionType discriminates the intervention tagged union.
type InterventionType string

const (
	InterventionVariableDelta InterventionType = "variable_delta"
	InterventionEventScript   InterventionType = "event_script"
	InterventionNLQuery       InterventionType = "nl_query"
)

// DeltaOp is the element-wise operation a VariableDelta applies.
type DeltaOp string

const (
	DeltaOpAdd DeltaOp = "add"
	DeltaOpMul DeltaOp = "mul"
	DeltaOpSet DeltaOp = "set"
)

// VariableDelta is one element-wise modification of an environment
// variable.
type VariableDelta struct {
	Variable  string  `json:"variable" validate:"required"`
	Operation DeltaOp `json:"operation" validate:"required,oneof=add mul set"`
	Value     float64 `json:"value"`
}

// EventScriptRef schedules a named event script for injection at a tick.
type EventScriptRef struct {
	ScriptName string         `json:"script_name" validate:"required"`
	AtTick     int            `json:"at_tick" validate:"min=0"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Intervention describes how a child node diverges from its parent.
// Exactly one payload is populated according to Type; NL_QUERY
// interventions are translated into one of the other two forms before the
// fork commits.
type Intervention struct {
	Type           InterventionType `json:"type" validate:"required,oneof=variable_delta event_script nl_query"`
	VariableDeltas []VariableDelta  `json:"variable_deltas,omitempty" validate:"omitempty,dive"`
	EventScripts   []EventScriptRef `json:"event_scripts,omitempty" validate:"omitempty,dive"`
	NLQuery        string           `json:"nl_query,omitempty"`
}

// Validate checks that the populated payload matches the declared type.
func (iv *Intervention) Validate() error {
	switch iv.Type {
	case InterventionVariableDelta:
		if len(iv.VariableDeltas) == 0 {
			return NewValidationError("variable_deltas", "required for variable_delta interventions")
		}
	case InterventionEventScript:
		if len(iv.EventScripts) == 0 {
			return NewValidationError("event_scripts", "required for event_script interventions")
		}
	case InterventionNLQuery:
		if iv.NLQuery == "" {
			return NewValidationError("nl_query", "required for nl_query interventions")
		}
	default:
		return NewValidationError("type", fmt.Sprintf("unknown intervention type %q", iv.Type))
	}
	return nil
}

func (iv Intervention) Value() (driver.Value, error) { return jsonbValue(iv) }
func (iv *Intervention) Scan(src any) error          { return jsonbScan(iv, src) }

// PatchDeltas is the compiled, directly applicable form of an intervention:
// variable deltas against the parent environment plus event scripts to
// inject during the run.
type PatchDeltas struct {
	Variables    []VariableDelta  `json:"variables,omitempty"`
	EventScripts []EventScriptRef `json:"event_scripts,omitempty"`
}

func (p PatchDeltas) Value() (driver.Value, error) { return jsonbValue(p) }
func (p *PatchDeltas) Scan(src any) error          { return jsonbScan(p, src) }
