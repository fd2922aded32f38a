package state

// MemoryEvent is one observation an agent remembers.
type MemoryEvent struct {
	Tick    int
	Kind    string
	Subject string
	Value   float64
}

// Episode is a salient event kept in the episodic store. When the store
// is full the least salient episode is evicted first.
type Episode struct {
	Tick     int
	Kind     string
	Salience float64
	Detail   map[string]float64
}

// Memory is one agent's bounded recollection: a recent-event queue,
// beliefs updated by exponential moving average, an episodic store, and
// associative weights between concepts.
type Memory struct {
	recent     []MemoryEvent
	depth      int
	beliefs    map[string]float64
	beliefRate float64
	episodes   []Episode
	episodeCap int
	assoc      map[string]map[string]float64
}

// NewMemory allocates an empty memory.
func NewMemory(depth, episodeCap int, beliefRate float64) *Memory {
	return &Memory{
		depth:      depth,
		beliefRate: beliefRate,
		episodeCap: episodeCap,
		beliefs:    make(map[string]float64),
		assoc:      make(map[string]map[string]float64),
	}
}

// Observe appends an event to the recent queue, evicting the oldest when
// the queue is at depth.
func (m *Memory) Observe(ev MemoryEvent) {
	if len(m.recent) == m.depth {
		copy(m.recent, m.recent[1:])
		m.recent[len(m.recent)-1] = ev
		return
	}
	m.recent = append(m.recent, ev)
}

// Recent returns the recent queue oldest first. The slice is shared;
// callers must not mutate it.
func (m *Memory) Recent() []MemoryEvent {
	return m.recent
}

// UpdateBelief moves a belief toward value by the EMA rate. A belief seen
// for the first time is set to value directly.
func (m *Memory) UpdateBelief(key string, value float64) {
	prev, ok := m.beliefs[key]
	if !ok {
		m.beliefs[key] = value
		return
	}
	m.beliefs[key] = prev + m.beliefRate*(value-prev)
}

// Belief returns the current belief for a key, 0 when unknown.
func (m *Memory) Belief(key string) float64 {
	return m.beliefs[key]
}

// HasBelief reports whether a belief exists for the key.
func (m *Memory) HasBelief(key string) bool {
	_, ok := m.beliefs[key]
	return ok
}

// RecordEpisode stores a salient event. When the store is full, the
// episode replaces the least salient entry only if it is more salient.
func (m *Memory) RecordEpisode(e Episode) {
	if len(m.episodes) < m.episodeCap {
		m.episodes = append(m.episodes, e)
		return
	}
	low, lowIdx := e.Salience, -1
	for i, ep := range m.episodes {
		if ep.Salience < low {
			low, lowIdx = ep.Salience, i
		}
	}
	if lowIdx >= 0 {
		m.episodes[lowIdx] = e
	}
}

// Episodes returns the episodic store in insertion order. The slice is
// shared; callers must not mutate it.
func (m *Memory) Episodes() []Episode {
	return m.episodes
}

// Associate strengthens (or weakens) the directed association a→b,
// clamped to [0, 1].
func (m *Memory) Associate(a, b string, delta float64) {
	row, ok := m.assoc[a]
	if !ok {
		row = make(map[string]float64)
		m.assoc[a] = row
	}
	w := row[b] + delta
	if w < 0 {
		w = 0
	} else if w > 1 {
		w = 1
	}
	row[b] = w
}

// Association returns the directed association weight a→b, 0 when absent.
func (m *Memory) Association(a, b string) float64 {
	return m.assoc[a][b]
}
