package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/manyworlds/continuum/pkg/canonical"
	"github.com/manyworlds/continuum/pkg/storage"
)

// KeyFromRef recovers the blob key from a persisted telemetry_ref string.
// Telemetry keys always live under the "telemetry/" namespace, so the key
// is the suffix starting at that marker.
func KeyFromRef(ref string) (string, bool) {
	idx := strings.Index(ref, "telemetry/")
	if idx < 0 {
		return "", false
	}
	return ref[idx:], true
}

// Writer accumulates one run's telemetry and decides per tick whether to
// emit a keyframe or a delta. Keyframes go out at tick 0, every
// keyframe_interval ticks, and at the final tick. A writer serves exactly
// one run and is not safe for concurrent use.
type Writer struct {
	runID    uuid.UUID
	seed     int64
	interval int

	blob        Blob
	prevAgents  map[string]AgentState
	prevEnv     map[string]float64
	metricsLast map[string]float64
	metricKeys  map[string]struct{}
	lastTick    int
	captured    bool
	finalized   bool
}

// NewWriter creates a writer for a run. keyframeInterval must be ≥ 1.
func NewWriter(runID uuid.UUID, seed int64, keyframeInterval int) *Writer {
	if keyframeInterval < 1 {
		keyframeInterval = 1
	}
	return &Writer{
		runID:    runID,
		seed:     seed,
		interval: keyframeInterval,
		blob: Blob{
			Version:       BlobVersion,
			SchemaVersion: SchemaVersion,
			RunID:         runID,
			SeedUsed:      seed,
		},
		metricsLast: make(map[string]float64),
		metricKeys:  make(map[string]struct{}),
	}
}

// Capture records the state of one tick. Ticks must arrive in strictly
// increasing order starting at 0.
func (w *Writer) Capture(tick int, agents map[string]AgentState, env map[string]float64, events []Event, metrics map[string]float64) error {
	if w.finalized {
		return fmt.Errorf("writer already finalized")
	}
	if w.captured && tick <= w.lastTick {
		return fmt.Errorf("tick %d out of order (last %d)", tick, w.lastTick)
	}
	if !w.captured && tick != 0 {
		return fmt.Errorf("first capture must be tick 0, got %d", tick)
	}

	for k, v := range metrics {
		w.metricsLast[k] = v
		w.metricKeys[k] = struct{}{}
	}
	if len(events) > 0 {
		w.blob.Index.EventIndex = append(w.blob.Index.EventIndex, EventIndexEntry{
			Tick:   tick,
			Events: append([]Event(nil), events...),
		})
	}

	if tick == 0 || tick%w.interval == 0 {
		w.appendKeyframe(tick, agents, env, metrics)
	} else {
		w.appendDelta(tick, agents, env, events, metrics)
	}

	w.prevAgents = cloneAgents(agents)
	w.prevEnv = cloneEnv(env)
	w.lastTick = tick
	if !w.captured {
		ids := make([]string, 0, len(agents))
		for id := range agents {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		w.blob.Index.AgentIDs = ids
		w.blob.AgentCount = len(ids)
	}
	w.captured = true
	return nil
}

func (w *Writer) appendKeyframe(tick int, agents map[string]AgentState, env map[string]float64, metrics map[string]float64) {
	w.blob.Keyframes = append(w.blob.Keyframes, Keyframe{
		Tick:    tick,
		Agents:  cloneAgents(agents),
		Env:     cloneEnv(env),
		Metrics: cloneEnv(metrics),
	})
	w.blob.Index.KeyframeTicks = append(w.blob.Index.KeyframeTicks, tick)
}

func (w *Writer) appendDelta(tick int, agents map[string]AgentState, env map[string]float64, events []Event, metrics map[string]float64) {
	delta := Delta{Tick: tick}

	for id, state := range agents {
		prev := w.prevAgents[id]
		changed := diffAgentState(prev, state)
		if len(changed) > 0 {
			if delta.AgentUpdates == nil {
				delta.AgentUpdates = make(map[string]AgentState)
			}
			delta.AgentUpdates[id] = changed
		}
	}
	for k, v := range env {
		if prev, ok := w.prevEnv[k]; !ok || prev != v {
			if delta.EnvUpdates == nil {
				delta.EnvUpdates = make(map[string]float64)
			}
			delta.EnvUpdates[k] = v
		}
	}
	if len(events) > 0 {
		delta.Events = append([]Event(nil), events...)
	}
	if len(metrics) > 0 {
		delta.Metrics = cloneEnv(metrics)
	}

	w.blob.Deltas = append(w.blob.Deltas, delta)
}

// diffAgentState returns the fields of cur that differ from prev.
func diffAgentState(prev, cur AgentState) AgentState {
	if prev == nil {
		return cur.Clone()
	}
	var changed AgentState
	for k, v := range cur {
		if pv, ok := prev[k]; !ok || pv != v {
			if changed == nil {
				changed = make(AgentState)
			}
			changed[k] = v
		}
	}
	return changed
}

// Result is the outcome of finalizing a run's telemetry.
type Result struct {
	Blob          *Blob
	Ref           storage.StorageRef
	Key           string
	BlobHash      string
	TelemetryHash string
	Summary       Summary
}

// Finalize seals the blob, serializes it canonically, uploads it under a
// content-addressed key, and returns the hashes. If the last captured tick
// was not a keyframe, a final keyframe is synthesized from the last
// snapshot so replays always end on a full frame.
func (w *Writer) Finalize(ctx context.Context, store storage.BlobStore) (*Result, error) {
	if w.finalized {
		return nil, fmt.Errorf("writer already finalized")
	}
	if !w.captured {
		return nil, fmt.Errorf("no ticks captured")
	}
	w.finalized = true

	lastKF := -1
	if n := len(w.blob.Index.KeyframeTicks); n > 0 {
		lastKF = w.blob.Index.KeyframeTicks[n-1]
	}
	if lastKF != w.lastTick {
		w.appendKeyframe(w.lastTick, w.prevAgents, w.prevEnv, nil)
	}

	w.blob.TicksExecuted = w.lastTick
	w.blob.FinalStates = cloneAgents(w.prevAgents)
	w.blob.MetricsSummary = cloneEnv(w.metricsLast)

	keys := make([]string, 0, len(w.metricKeys))
	for k := range w.metricKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.blob.Index.MetricKeys = keys
	w.blob.Capabilities = detectCapabilities(&w.blob)

	data, err := canonical.Marshal(w.blob)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize telemetry blob: %w", err)
	}
	blobHash := canonical.HashBytes(data)
	key := fmt.Sprintf("telemetry/%s/%s.json", w.runID, blobHash)

	ref, err := store.Put(ctx, key, data)
	if err != nil {
		return nil, fmt.Errorf("failed to upload telemetry blob: %w", err)
	}

	summary := w.blob.Summarize()
	telemetryHash, err := canonical.Hash(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to hash telemetry summary: %w", err)
	}

	return &Result{
		Blob:          &w.blob,
		Ref:           ref,
		Key:           key,
		BlobHash:      blobHash,
		TelemetryHash: telemetryHash,
		Summary:       summary,
	}, nil
}

func cloneAgents(agents map[string]AgentState) map[string]AgentState {
	out := make(map[string]AgentState, len(agents))
	for id, state := range agents {
		out[id] = state.Clone()
	}
	return out
}

func cloneEnv(env map[string]float64) map[string]float64 {
	if env == nil {
		return nil
	}
	out := make(map[string]float64, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
