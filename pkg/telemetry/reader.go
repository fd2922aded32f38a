package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/manyworlds/continuum/pkg/storage"
)

// TickState is a reconstructed full state at one tick.
type TickState struct {
	Tick    int                   `json:"tick"`
	Agents  map[string]AgentState `json:"agent_states"`
	Env     map[string]float64    `json:"environment_state"`
	Metrics map[string]float64    `json:"metrics,omitempty"`
}

// AgentHistoryPoint is one agent's state contribution at one tick. Delta
// ticks carry only the fields that changed.
type AgentHistoryPoint struct {
	Tick     int        `json:"tick"`
	State    AgentState `json:"state"`
	Keyframe bool       `json:"keyframe"`
}

// Chunk is the slice of raw telemetry overlapping a tick range.
type Chunk struct {
	Keyframes []Keyframe `json:"keyframes"`
	Deltas    []Delta    `json:"deltas"`
}

// Reader replays a finalized blob. All operations are read-only and never
// trigger a simulation. Reconstructed states are cached per tick; repeated
// calls return clones of the same reconstruction.
type Reader struct {
	blob  *Blob
	cache map[int]*TickState
}

// NewReader wraps an already-loaded blob.
func NewReader(blob *Blob) *Reader {
	return &Reader{blob: blob, cache: make(map[int]*TickState)}
}

// Open fetches a blob from storage by key and prepares it for replay.
func Open(ctx context.Context, store storage.BlobStore, key string) (*Reader, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch telemetry blob: %w", err)
	}
	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("failed to decode telemetry blob: %w", err)
	}
	return NewReader(&blob), nil
}

// Blob exposes the underlying blob.
func (r *Reader) Blob() *Blob {
	return r.blob
}

// StateAt reconstructs the full state at tick T: the nearest keyframe
// K ≤ T plus every delta in (K, T] in tick order.
func (r *Reader) StateAt(tick int) (*TickState, error) {
	if tick < 0 || tick > r.blob.TicksExecuted {
		return nil, fmt.Errorf("tick %d outside [0, %d]", tick, r.blob.TicksExecuted)
	}
	if cached, ok := r.cache[tick]; ok {
		return cloneTickState(cached), nil
	}

	kf, err := r.nearestKeyframeAtOrBefore(tick)
	if err != nil {
		return nil, err
	}

	state := &TickState{
		Tick:    tick,
		Agents:  cloneAgents(kf.Agents),
		Env:     cloneEnv(kf.Env),
		Metrics: cloneEnv(kf.Metrics),
	}
	for _, d := range r.blob.Deltas {
		if d.Tick <= kf.Tick {
			continue
		}
		if d.Tick > tick {
			break
		}
		applyDelta(state, d)
	}

	r.cache[tick] = state
	return cloneTickState(state), nil
}

// Chunk returns keyframes and deltas with ticks inside [start, end].
func (r *Reader) Chunk(start, end int) (*Chunk, error) {
	if start > end {
		return nil, fmt.Errorf("invalid chunk range [%d, %d]", start, end)
	}
	out := &Chunk{}
	for _, kf := range r.blob.Keyframes {
		if kf.Tick >= start && kf.Tick <= end {
			out.Keyframes = append(out.Keyframes, kf)
		}
	}
	for _, d := range r.blob.Deltas {
		if d.Tick >= start && d.Tick <= end {
			out.Deltas = append(out.Deltas, d)
		}
	}
	return out, nil
}

// AgentHistory collects an agent's states across [start, end]: full states
// at keyframes, changed fields at deltas where the agent appears.
func (r *Reader) AgentHistory(agentID string, start, end int) ([]AgentHistoryPoint, error) {
	if start > end {
		return nil, fmt.Errorf("invalid history range [%d, %d]", start, end)
	}
	var points []AgentHistoryPoint
	for _, kf := range r.blob.Keyframes {
		if kf.Tick < start || kf.Tick > end {
			continue
		}
		if state, ok := kf.Agents[agentID]; ok {
			points = append(points, AgentHistoryPoint{Tick: kf.Tick, State: state.Clone(), Keyframe: true})
		}
	}
	for _, d := range r.blob.Deltas {
		if d.Tick < start || d.Tick > end {
			continue
		}
		if state, ok := d.AgentUpdates[agentID]; ok {
			points = append(points, AgentHistoryPoint{Tick: d.Tick, State: state.Clone()})
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Tick < points[j].Tick })
	return points, nil
}

// EventsAt returns the events of one tick via binary search over the
// event index.
func (r *Reader) EventsAt(tick int) []Event {
	idx := r.blob.Index.EventIndex
	i := sort.Search(len(idx), func(i int) bool { return idx[i].Tick >= tick })
	if i < len(idx) && idx[i].Tick == tick {
		return append([]Event(nil), idx[i].Events...)
	}
	return nil
}

// nearestKeyframeAtOrBefore locates the newest keyframe with Tick ≤ tick.
func (r *Reader) nearestKeyframeAtOrBefore(tick int) (*Keyframe, error) {
	ticks := r.blob.Index.KeyframeTicks
	i := sort.Search(len(ticks), func(i int) bool { return ticks[i] > tick })
	if i == 0 {
		return nil, fmt.Errorf("no keyframe at or before tick %d", tick)
	}
	want := ticks[i-1]
	for j := range r.blob.Keyframes {
		if r.blob.Keyframes[j].Tick == want {
			return &r.blob.Keyframes[j], nil
		}
	}
	return nil, fmt.Errorf("keyframe index lists tick %d but frame is missing", want)
}

func applyDelta(state *TickState, d Delta) {
	for id, changed := range d.AgentUpdates {
		cur, ok := state.Agents[id]
		if !ok {
			cur = make(AgentState, len(changed))
			state.Agents[id] = cur
		}
		for k, v := range changed {
			cur[k] = v
		}
	}
	for k, v := range d.EnvUpdates {
		if state.Env == nil {
			state.Env = make(map[string]float64)
		}
		state.Env[k] = v
	}
	for k, v := range d.Metrics {
		if state.Metrics == nil {
			state.Metrics = make(map[string]float64)
		}
		state.Metrics[k] = v
	}
}

func cloneTickState(s *TickState) *TickState {
	return &TickState{
		Tick:    s.Tick,
		Agents:  cloneAgents(s.Agents),
		Env:     cloneEnv(s.Env),
		Metrics: cloneEnv(s.Metrics),
	}
}
