package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/models"
)

func TestRunChannelFormat(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	assert.Equal(t, "run:11111111-2222-3333-4444-555555555555", RunChannel(id))
}

func TestNewRunStatusPayload(t *testing.T) {
	kind := models.ErrorKindTimeBudgetExceeded
	msg := "wall clock budget exhausted at tick 412"
	run := &models.Run{
		ID:            uuid.New(),
		ProjectID:     uuid.New(),
		NodeID:        uuid.New(),
		Status:        models.RunStatusFailed,
		ErrorKind:     &kind,
		ErrorMessage:  &msg,
		TicksExecuted: 412,
	}

	p := NewRunStatusPayload(run)
	assert.Equal(t, EventTypeRunStatus, p.Type)
	assert.Equal(t, run.ID, p.RunID)
	assert.Equal(t, models.RunStatusFailed, p.Status)
	require.NotNil(t, p.ErrorKind)
	assert.Equal(t, models.ErrorKindTimeBudgetExceeded, *p.ErrorKind)
	assert.Equal(t, 412, p.TicksExecuted)
	assert.False(t, p.Timestamp.IsZero())
}

func TestNewRunProgressPayload(t *testing.T) {
	run := &models.Run{
		ID:            uuid.New(),
		Status:        models.RunStatusRunning,
		TicksExecuted: 37,
		Config:        models.RunConfig{Horizon: 100},
	}

	p := NewRunProgressPayload(run)
	assert.Equal(t, EventTypeRunProgress, p.Type)
	assert.Equal(t, 37, p.TicksExecuted)
	assert.Equal(t, 100, p.Horizon)
}

func TestNewNodeAggregatePayload(t *testing.T) {
	conf := models.ConfidenceHigh
	runID := uuid.New()
	node := &models.Node{
		ID:                    uuid.New(),
		ProjectID:             uuid.New(),
		Probability:           0.72,
		CumulativeProbability: 0.36,
		Confidence:            &conf,
		IsStale:               false,
		AggregatedOutcome:     &models.AggregatedOutcome{SampleCount: 5},
	}

	p := NewNodeAggregatePayload(runID, node)
	assert.Equal(t, EventTypeNodeAggregate, p.Type)
	assert.Equal(t, runID, p.RunID)
	assert.Equal(t, node.ID, p.NodeID)
	assert.InDelta(t, 0.72, p.Probability, 1e-9)
	assert.InDelta(t, 0.36, p.CumulativeProbability, 1e-9)
	assert.Equal(t, 5, p.SampleCount)
}

func TestTruncateIfNeededPassthrough(t *testing.T) {
	small := `{"type":"run.status","run_id":"abc"}`
	out, err := truncateIfNeeded(small)
	require.NoError(t, err)
	assert.Equal(t, small, out)
}

func TestTruncateIfNeededBuildsEnvelope(t *testing.T) {
	runID := uuid.New().String()
	big := map[string]any{
		"type":    EventTypeRunStatus,
		"run_id":  runID,
		"padding": strings.Repeat("x", 9000),
	}
	bigJSON, err := json.Marshal(big)
	require.NoError(t, err)

	out, err := truncateIfNeeded(string(bigJSON))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), 7900)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &envelope))
	assert.Equal(t, EventTypeRunStatus, envelope["type"])
	assert.Equal(t, runID, envelope["run_id"])
	assert.Equal(t, true, envelope["truncated"])
	assert.NotContains(t, envelope, "padding")
}

func TestInjectDBEventID(t *testing.T) {
	payload := []byte(`{"type":"run.status","run_id":"abc"}`)
	out, err := injectDBEventIDAndTruncate(payload, 99)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, float64(99), m["db_event_id"])
	assert.Equal(t, "run.status", m["type"])
}

func TestInjectDBEventIDKeepsIDAfterTruncation(t *testing.T) {
	big := map[string]any{
		"type":    EventTypeRunStatus,
		"run_id":  uuid.New().String(),
		"padding": strings.Repeat("y", 9000),
	}
	bigJSON, err := json.Marshal(big)
	require.NoError(t, err)

	out, err := injectDBEventIDAndTruncate(bigJSON, 1234)
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &envelope))
	assert.Equal(t, true, envelope["truncated"])
	// The envelope keeps db_event_id so clients can still catch up.
	assert.Equal(t, float64(1234), envelope["db_event_id"])
}
