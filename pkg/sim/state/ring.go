package state

// Ring holds one fixed-depth circular buffer per agent, packed into a
// single backing array. Push overwrites the oldest entry once an agent's
// buffer is full.
type Ring[T any] struct {
	n     int
	depth int
	data  []T
	head  []int // next write slot per agent
	count []int // filled entries per agent, capped at depth
}

// NewRing allocates n circular buffers of the given depth.
func NewRing[T any](n, depth int) *Ring[T] {
	if depth < 1 {
		depth = 1
	}
	return &Ring[T]{
		n:     n,
		depth: depth,
		data:  make([]T, n*depth),
		head:  make([]int, n),
		count: make([]int, n),
	}
}

// Depth returns the per-agent capacity.
func (r *Ring[T]) Depth() int { return r.depth }

// Len returns how many entries agent currently holds.
func (r *Ring[T]) Len(agent int) int { return r.count[agent] }

// Push appends a value to an agent's buffer, evicting the oldest entry
// when full.
func (r *Ring[T]) Push(agent int, v T) {
	base := agent * r.depth
	r.data[base+r.head[agent]] = v
	r.head[agent] = (r.head[agent] + 1) % r.depth
	if r.count[agent] < r.depth {
		r.count[agent]++
	}
}

// Recent returns an agent's entries newest first. The slice is freshly
// allocated.
func (r *Ring[T]) Recent(agent int) []T {
	cnt := r.count[agent]
	out := make([]T, cnt)
	base := agent * r.depth
	idx := r.head[agent]
	for i := 0; i < cnt; i++ {
		idx--
		if idx < 0 {
			idx = r.depth - 1
		}
		out[i] = r.data[base+idx]
	}
	return out
}

// Latest returns an agent's newest entry, if any.
func (r *Ring[T]) Latest(agent int) (T, bool) {
	var zero T
	if r.count[agent] == 0 {
		return zero, false
	}
	idx := r.head[agent] - 1
	if idx < 0 {
		idx = r.depth - 1
	}
	return r.data[agent*r.depth+idx], true
}
