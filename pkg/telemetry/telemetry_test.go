package telemetry

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/storage"
)

// captureLinear drives a writer through horizon ticks with a predictable
// state evolution: agent a0's engagement rises by 0.01 per tick, a1 stays
// constant after tick 0.
func captureLinear(t *testing.T, w *Writer, horizon int, events map[int][]Event) {
	t.Helper()
	for tick := 0; tick <= horizon; tick++ {
		agents := map[string]AgentState{
			"a0": {"engagement": 0.5 + 0.01*float64(tick), "certainty": 0.4},
			"a1": {"engagement": 0.3, "certainty": 0.6},
		}
		env := map[string]float64{"temperature": 20.0 + float64(tick%2)}
		metrics := map[string]float64{"mean_engagement": 0.4 + 0.005*float64(tick)}
		require.NoError(t, w.Capture(tick, agents, env, events[tick], metrics))
	}
}

func TestWriterKeyframeCadence(t *testing.T) {
	w := NewWriter(uuid.New(), 42, 10)
	captureLinear(t, w, 50, nil)

	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 10, 20, 30, 40, 50}, res.Blob.Index.KeyframeTicks)
	assert.Len(t, res.Blob.Keyframes, 6)
	assert.Len(t, res.Blob.Deltas, 45)
	assert.Equal(t, 50, res.Blob.TicksExecuted)
	assert.Equal(t, 2, res.Blob.AgentCount)
}

func TestWriterFinalKeyframeSynthesized(t *testing.T) {
	// Horizon 25 with interval 10: last capture (25) is not on the
	// cadence, so finalize must append a closing keyframe.
	w := NewWriter(uuid.New(), 7, 10)
	captureLinear(t, w, 25, nil)

	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 10, 20, 25}, res.Blob.Index.KeyframeTicks)
	last := res.Blob.Keyframes[len(res.Blob.Keyframes)-1]
	assert.Equal(t, 25, last.Tick)
	assert.Equal(t, res.Blob.FinalStates, last.Agents)
}

func TestWriterDeltasCarryOnlyChangedFields(t *testing.T) {
	w := NewWriter(uuid.New(), 1, 100)
	captureLinear(t, w, 3, nil)

	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)

	require.NotEmpty(t, res.Blob.Deltas)
	d := res.Blob.Deltas[0]
	require.Contains(t, d.AgentUpdates, "a0")
	assert.Contains(t, d.AgentUpdates["a0"], "engagement")
	assert.NotContains(t, d.AgentUpdates["a0"], "certainty", "unchanged field must not appear")
	assert.NotContains(t, d.AgentUpdates, "a1", "unchanged agent must not appear")
}

func TestWriterRejectsOutOfOrderTicks(t *testing.T) {
	w := NewWriter(uuid.New(), 1, 10)
	agents := map[string]AgentState{"a0": {"engagement": 0.5}}

	require.NoError(t, w.Capture(0, agents, nil, nil, nil))
	require.NoError(t, w.Capture(1, agents, nil, nil, nil))
	assert.Error(t, w.Capture(1, agents, nil, nil, nil))
	assert.Error(t, w.Capture(0, agents, nil, nil, nil))
}

func TestWriterRequiresTickZeroFirst(t *testing.T) {
	w := NewWriter(uuid.New(), 1, 10)
	err := w.Capture(5, map[string]AgentState{"a0": {"x": 1.0}}, nil, nil, nil)
	assert.Error(t, err)
}

func TestTickMonotonicity(t *testing.T) {
	w := NewWriter(uuid.New(), 42, 7)
	captureLinear(t, w, 33, nil)

	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)

	for i := 1; i < len(res.Blob.Keyframes); i++ {
		assert.Greater(t, res.Blob.Keyframes[i].Tick, res.Blob.Keyframes[i-1].Tick)
	}
	for i := 1; i < len(res.Blob.Deltas); i++ {
		assert.Greater(t, res.Blob.Deltas[i].Tick, res.Blob.Deltas[i-1].Tick)
	}
	require.NotEmpty(t, res.Blob.Keyframes)
	if len(res.Blob.Deltas) > 0 {
		assert.Greater(t, res.Blob.Deltas[0].Tick, res.Blob.Keyframes[0].Tick,
			"no delta may precede the initial keyframe")
	}
}

func TestFinalizeDeterministicHashes(t *testing.T) {
	build := func() *Result {
		w := NewWriter(uuid.MustParse("11111111-2222-3333-4444-555555555555"), 42, 10)
		captureLinear(t, w, 20, map[int][]Event{
			5: {{Tick: 5, Type: "price_shock", Payload: map[string]any{"magnitude": 0.3}}},
		})
		res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
		require.NoError(t, err)
		return res
	}

	a, b := build(), build()
	assert.Equal(t, a.BlobHash, b.BlobHash)
	assert.Equal(t, a.TelemetryHash, b.TelemetryHash)
	assert.Equal(t, a.Key, b.Key)
}

func TestReaderStateAtKeyframeEqualsStoredKeyframe(t *testing.T) {
	w := NewWriter(uuid.New(), 42, 10)
	captureLinear(t, w, 30, nil)
	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)

	r := NewReader(res.Blob)
	for _, kf := range res.Blob.Keyframes {
		state, err := r.StateAt(kf.Tick)
		require.NoError(t, err)
		assert.Equal(t, kf.Agents, state.Agents, "tick %d", kf.Tick)
		assert.Equal(t, kf.Env, state.Env, "tick %d", kf.Tick)
	}
}

func TestReaderStateAtIsIdempotent(t *testing.T) {
	w := NewWriter(uuid.New(), 42, 10)
	captureLinear(t, w, 30, nil)
	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)

	r := NewReader(res.Blob)
	for tick := 0; tick <= 30; tick++ {
		first, err := r.StateAt(tick)
		require.NoError(t, err)
		second, err := r.StateAt(tick)
		require.NoError(t, err)
		assert.Equal(t, first, second, "tick %d", tick)
	}
}

func TestReaderStateAtAppliesDeltas(t *testing.T) {
	w := NewWriter(uuid.New(), 42, 10)
	captureLinear(t, w, 30, nil)
	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)

	r := NewReader(res.Blob)
	state, err := r.StateAt(17)
	require.NoError(t, err)
	assert.Equal(t, 17, state.Tick)
	assert.InDelta(t, 0.5+0.01*17, state.Agents["a0"]["engagement"].(float64), 1e-12)
	assert.InDelta(t, 0.4, state.Agents["a0"]["certainty"].(float64), 1e-12)
}

func TestReaderStateAtOutOfRange(t *testing.T) {
	w := NewWriter(uuid.New(), 42, 10)
	captureLinear(t, w, 10, nil)
	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)

	r := NewReader(res.Blob)
	_, err = r.StateAt(-1)
	assert.Error(t, err)
	_, err = r.StateAt(11)
	assert.Error(t, err)
}

func TestReaderChunk(t *testing.T) {
	w := NewWriter(uuid.New(), 42, 10)
	captureLinear(t, w, 30, nil)
	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)

	r := NewReader(res.Blob)
	chunk, err := r.Chunk(8, 21)
	require.NoError(t, err)

	var kfTicks []int
	for _, kf := range chunk.Keyframes {
		kfTicks = append(kfTicks, kf.Tick)
	}
	assert.Equal(t, []int{10, 20}, kfTicks)
	for _, d := range chunk.Deltas {
		assert.GreaterOrEqual(t, d.Tick, 8)
		assert.LessOrEqual(t, d.Tick, 21)
	}
}

func TestReaderAgentHistory(t *testing.T) {
	w := NewWriter(uuid.New(), 42, 10)
	captureLinear(t, w, 20, nil)
	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)

	r := NewReader(res.Blob)
	history, err := r.AgentHistory("a0", 0, 20)
	require.NoError(t, err)

	// a0 changes every tick: 3 keyframes + 18 deltas.
	assert.Len(t, history, 21)
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].Tick, history[i-1].Tick)
	}

	// a1 never changes after tick 0, so only keyframes carry it.
	quiet, err := r.AgentHistory("a1", 0, 20)
	require.NoError(t, err)
	assert.Len(t, quiet, 3)
	for _, p := range quiet {
		assert.True(t, p.Keyframe)
	}
}

func TestReaderEventsAt(t *testing.T) {
	events := map[int][]Event{
		5:  {{Tick: 5, Type: "price_shock"}},
		12: {{Tick: 12, Type: "media_campaign"}, {Tick: 12, Type: "price_shock"}},
	}
	w := NewWriter(uuid.New(), 42, 10)
	captureLinear(t, w, 20, events)
	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)

	r := NewReader(res.Blob)
	assert.Len(t, r.EventsAt(5), 1)
	assert.Len(t, r.EventsAt(12), 2)
	assert.Empty(t, r.EventsAt(7))
	assert.Equal(t, "media_campaign", r.EventsAt(12)[0].Type)
}

func TestOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	w := NewWriter(uuid.New(), 42, 10)
	captureLinear(t, w, 20, nil)
	res, err := w.Finalize(ctx, store)
	require.NoError(t, err)

	r, err := Open(ctx, store, res.Key)
	require.NoError(t, err)
	assert.Equal(t, res.Blob.TicksExecuted, r.Blob().TicksExecuted)
	assert.Equal(t, res.Blob.Index.KeyframeTicks, r.Blob().Index.KeyframeTicks)

	state, err := r.StateAt(20)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, state.Agents["a0"]["engagement"].(float64), 1e-12)
}

func TestCapabilitiesDetection(t *testing.T) {
	tests := []struct {
		name    string
		state   AgentState
		spatial bool
	}{
		{"plain scalars", AgentState{"engagement": 0.5}, false},
		{"x and y", AgentState{"x": 1.0, "y": 2.0}, true},
		{"position aliases", AgentState{"position_x": 1.0, "position_y": 2.0}, true},
		{"pos aliases", AgentState{"pos_x": 1.0, "pos_y": 2.0}, true},
		{"coord aliases", AgentState{"coord_x": 1.0, "coord_y": 2.0}, true},
		{"loc aliases", AgentState{"loc_x": 1.0, "loc_y": 2.0}, true},
		{"x alone is not spatial", AgentState{"x": 1.0}, false},
		{"grid cell fallback", AgentState{"grid_cell": 17.0}, true},
		{"location id fallback", AgentState{"location_id": "berlin"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter(uuid.New(), 1, 10)
			require.NoError(t, w.Capture(0, map[string]AgentState{"a0": tt.state}, nil, nil, nil))
			res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
			require.NoError(t, err)
			assert.Equal(t, tt.spatial, res.Blob.Capabilities.HasSpatial)
		})
	}
}

func TestCapabilitiesEventsAndMetrics(t *testing.T) {
	w := NewWriter(uuid.New(), 1, 10)
	require.NoError(t, w.Capture(0, map[string]AgentState{"a0": {"engagement": 0.1}}, nil, nil, nil))
	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)
	assert.False(t, res.Blob.Capabilities.HasEvents)
	assert.False(t, res.Blob.Capabilities.HasMetrics)

	w2 := NewWriter(uuid.New(), 1, 10)
	require.NoError(t, w2.Capture(0, map[string]AgentState{"a0": {"engagement": 0.1}}, nil,
		[]Event{{Tick: 0, Type: "rule_fired"}}, map[string]float64{"m": 1}))
	res2, err := w2.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)
	assert.True(t, res2.Blob.Capabilities.HasEvents)
	assert.True(t, res2.Blob.Capabilities.HasMetrics)
}

func TestSpatialKeys(t *testing.T) {
	x, y, z := SpatialKeys(AgentState{"pos_x": 1.0, "pos_y": 2.0})
	assert.Equal(t, "pos_x", x)
	assert.Equal(t, "pos_y", y)
	assert.Equal(t, "", z)
}

func TestSummarize(t *testing.T) {
	w := NewWriter(uuid.New(), 42, 10)
	captureLinear(t, w, 20, map[int][]Event{
		3: {{Tick: 3, Type: "a"}},
		9: {{Tick: 9, Type: "b"}, {Tick: 9, Type: "c"}},
	})
	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)

	assert.Equal(t, Summary{
		KeyframeCount: 3,
		DeltaCount:    18,
		TotalEvents:   3,
		TickCount:     20,
		AgentCount:    2,
	}, res.Summary)
}

func TestContentAddressedKeyLayout(t *testing.T) {
	runID := uuid.New()
	w := NewWriter(runID, 42, 10)
	captureLinear(t, w, 10, nil)
	res, err := w.Finalize(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf("telemetry/%s/%s.json", runID, res.BlobHash), res.Key)
}

func TestKeyFromRef(t *testing.T) {
	key, ok := KeyFromRef("s3://bucket/telemetry/run-1/abc.json")
	require.True(t, ok)
	assert.Equal(t, "telemetry/run-1/abc.json", key)

	key, ok = KeyFromRef("filesystem:///var/lib/continuum/telemetry/run-1/abc.json")
	require.True(t, ok)
	assert.Equal(t, "telemetry/run-1/abc.json", key)

	_, ok = KeyFromRef("s3://bucket/other/abc.json")
	assert.False(t, ok)
}
