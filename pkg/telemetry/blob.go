// Package telemetry encodes per-tick simulation history into compact,
// indexable, content-addressed blobs, and replays them without ever
// re-running a simulation.
package telemetry

import (
	"github.com/google/uuid"
)

// Blob layout versions. SchemaVersion bumps when the on-disk shape of
// keyframes, deltas, or the index changes.
const (
	BlobVersion   = "1.0"
	SchemaVersion = 1
)

// AgentState is one agent's observable state at a tick. Numeric values are
// always float64 — integer-valued fields are stored as their float64
// representation so encode/decode round-trips preserve equality. String
// values are allowed for identifier-like fields (location_id).
type AgentState map[string]any

// Clone returns a shallow-value copy of the state.
func (s AgentState) Clone() AgentState {
	out := make(AgentState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Event is a discrete occurrence at a tick: a rule firing, an injected
// script effect, or an agent transition.
type Event struct {
	Tick    int            `json:"tick"`
	Type    string         `json:"type"`
	AgentID string         `json:"agent_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Keyframe is a full snapshot at one tick.
type Keyframe struct {
	Tick    int                   `json:"tick"`
	Agents  map[string]AgentState `json:"agent_states"`
	Env     map[string]float64    `json:"environment_state"`
	Metrics map[string]float64    `json:"metrics,omitempty"`
}

// Delta carries only what changed since the previous captured tick.
type Delta struct {
	Tick         int                   `json:"tick"`
	AgentUpdates map[string]AgentState `json:"agent_updates,omitempty"`
	EnvUpdates   map[string]float64    `json:"env_updates,omitempty"`
	Events       []Event               `json:"events,omitempty"`
	Metrics      map[string]float64    `json:"metrics,omitempty"`
}

// EventIndexEntry lists the events of one tick. Only ticks with events
// appear in the index.
type EventIndexEntry struct {
	Tick   int     `json:"tick"`
	Events []Event `json:"events"`
}

// Index accelerates replay lookups.
type Index struct {
	KeyframeTicks []int             `json:"keyframe_ticks"`
	EventIndex    []EventIndexEntry `json:"event_index"`
	MetricKeys    []string          `json:"metric_keys"`
	AgentIDs      []string          `json:"agent_ids"`
}

// Capabilities describe what the blob contains, auto-detected at finalize.
type Capabilities struct {
	HasSpatial bool `json:"has_spatial"`
	HasEvents  bool `json:"has_events"`
	HasMetrics bool `json:"has_metrics"`
}

// Blob is the complete telemetry record of one run.
type Blob struct {
	Version        string                `json:"version"`
	SchemaVersion  int                   `json:"schema_version"`
	RunID          uuid.UUID             `json:"run_id"`
	SeedUsed       int64                 `json:"seed_used"`
	AgentCount     int                   `json:"agent_count"`
	TicksExecuted  int                   `json:"ticks_executed"`
	Keyframes      []Keyframe            `json:"keyframes"`
	Deltas         []Delta               `json:"deltas"`
	FinalStates    map[string]AgentState `json:"final_states"`
	Index          Index                 `json:"index"`
	MetricsSummary map[string]float64    `json:"metrics_summary"`
	Capabilities   Capabilities          `json:"capabilities"`
}

// Summary is the compact shape covered by telemetry_hash.
type Summary struct {
	KeyframeCount int `json:"keyframe_count"`
	DeltaCount    int `json:"delta_count"`
	TotalEvents   int `json:"total_events"`
	TickCount     int `json:"tick_count"`
	AgentCount    int `json:"agent_count"`
}

// Summarize derives the hashable summary from a blob.
func (b *Blob) Summarize() Summary {
	total := 0
	for _, e := range b.Index.EventIndex {
		total += len(e.Events)
	}
	return Summary{
		KeyframeCount: len(b.Keyframes),
		DeltaCount:    len(b.Deltas),
		TotalEvents:   total,
		TickCount:     b.TicksExecuted,
		AgentCount:    b.AgentCount,
	}
}
