// Package neural implements the optional neural decision policy: a small
// actor-critic MLP with a deterministic float64 forward pass, plus an
// offline PPO trainer. Training never runs inside a serving tick loop;
// serving runs load frozen weights from a parameter version and keep
// llm_calls_in_tick_loop at zero.
package neural

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Layer is one dense layer, weights stored row-major (out × in).
type Layer struct {
	In, Out int
	W       []float64
	B       []float64
}

func newLayer(in, out int) *Layer {
	return &Layer{In: in, Out: out, W: make([]float64, in*out), B: make([]float64, out)}
}

// forward computes out = W·in + B, applying tanh when activate is set.
func (l *Layer) forward(in []float64, activate bool) []float64 {
	out := make([]float64, l.Out)
	for o := 0; o < l.Out; o++ {
		sum := l.B[o]
		base := o * l.In
		for i := 0; i < l.In; i++ {
			sum += l.W[base+i] * in[i]
		}
		if activate {
			sum = math.Tanh(sum)
		}
		out[o] = sum
	}
	return out
}

// Network is an actor-critic MLP: a shared tanh backbone feeding a linear
// actor head (one logit per action) and a linear critic head (state
// value). With no hidden layers the heads read raw features directly,
// which is the split-linear configuration.
type Network struct {
	InputDim int
	Hidden   []int
	Actions  int

	backbone []*Layer
	actor    *Layer
	critic   *Layer
}

// NewNetwork allocates a zero-initialized network. Zero weights yield a
// uniform policy and zero values until weights are loaded or trained.
func NewNetwork(inputDim int, hidden []int, actions int) (*Network, error) {
	if inputDim < 1 {
		return nil, fmt.Errorf("input dimension must be positive, got %d", inputDim)
	}
	if actions < 2 {
		return nil, fmt.Errorf("need at least 2 actions, got %d", actions)
	}
	n := &Network{
		InputDim: inputDim,
		Hidden:   append([]int(nil), hidden...),
		Actions:  actions,
	}
	prev := inputDim
	for _, h := range hidden {
		if h < 1 {
			return nil, fmt.Errorf("hidden layer size must be positive, got %d", h)
		}
		n.backbone = append(n.backbone, newLayer(prev, h))
		prev = h
	}
	n.actor = newLayer(prev, actions)
	n.critic = newLayer(prev, 1)
	return n, nil
}

// InitXavier fills all weights with Xavier-scaled uniform noise drawn
// from a ChaCha8 stream, so identical seeds build identical networks.
func (n *Network) InitXavier(seed int64) {
	var key [32]byte
	for i := 0; i < 4; i++ {
		v := uint64(seed) + uint64(i)*0x9e3779b97f4a7c15
		for b := 0; b < 8; b++ {
			key[i*8+b] = byte(v >> (8 * b))
		}
	}
	rng := rand.New(rand.NewChaCha8(key))
	for _, l := range n.layers() {
		scale := math.Sqrt(6.0 / float64(l.In+l.Out))
		for i := range l.W {
			l.W[i] = (rng.Float64()*2 - 1) * scale
		}
		for i := range l.B {
			l.B[i] = 0
		}
	}
}

func (n *Network) layers() []*Layer {
	out := append([]*Layer(nil), n.backbone...)
	return append(out, n.actor, n.critic)
}

func (n *Network) layerNames() []string {
	names := make([]string, 0, len(n.backbone)+2)
	for i := range n.backbone {
		names = append(names, fmt.Sprintf("backbone.%d", i))
	}
	return append(names, "actor", "critic")
}

// Forward runs one observation through the network, returning action
// logits and the state value. The pass is pure float64 arithmetic in a
// fixed order, so identical weights and inputs give identical outputs.
func (n *Network) Forward(obs []float64) (logits []float64, value float64, err error) {
	if len(obs) != n.InputDim {
		return nil, 0, fmt.Errorf("observation dimension %d does not match input dimension %d", len(obs), n.InputDim)
	}
	h := obs
	for _, l := range n.backbone {
		h = l.forward(h, true)
	}
	logits = n.actor.forward(h, false)
	value = n.critic.forward(h, false)[0]
	return logits, value, nil
}

// Probabilities returns the softmax policy and state value for one
// observation.
func (n *Network) Probabilities(obs []float64) (probs []float64, value float64, err error) {
	logits, value, err := n.Forward(obs)
	if err != nil {
		return nil, 0, err
	}
	return softmax(logits), value, nil
}

// Act evaluates a batch of observations, returning greedy actions and
// state values. Serving engines use the logits with their own seeded
// selection instead; Act is the convenience batch surface.
func (n *Network) Act(states [][]float64) (actions []int, values []float64, err error) {
	actions = make([]int, len(states))
	values = make([]float64, len(states))
	for i, obs := range states {
		logits, v, err := n.Forward(obs)
		if err != nil {
			return nil, nil, fmt.Errorf("state %d: %w", i, err)
		}
		values[i] = v
		best := 0
		for a, l := range logits {
			if l > logits[best] {
				best = a
			}
		}
		actions[i] = best
	}
	return actions, values, nil
}

// Parameters flattens all weights into a named map, the shape stored by
// parameter versions.
func (n *Network) Parameters() map[string]float64 {
	out := make(map[string]float64)
	names := n.layerNames()
	for li, l := range n.layers() {
		for i, w := range l.W {
			out[fmt.Sprintf("%s.w.%d", names[li], i)] = w
		}
		for i, b := range l.B {
			out[fmt.Sprintf("%s.b.%d", names[li], i)] = b
		}
	}
	return out
}

// LoadParameters restores weights produced by Parameters on a network of
// the same architecture. Missing keys are an error; extra keys are
// ignored.
func (n *Network) LoadParameters(params map[string]float64) error {
	names := n.layerNames()
	for li, l := range n.layers() {
		for i := range l.W {
			key := fmt.Sprintf("%s.w.%d", names[li], i)
			v, ok := params[key]
			if !ok {
				return fmt.Errorf("parameter set is missing %q", key)
			}
			l.W[i] = v
		}
		for i := range l.B {
			key := fmt.Sprintf("%s.b.%d", names[li], i)
			v, ok := params[key]
			if !ok {
				return fmt.Errorf("parameter set is missing %q", key)
			}
			l.B[i] = v
		}
	}
	return nil
}

func softmax(logits []float64) []float64 {
	maxL := math.Inf(-1)
	for _, l := range logits {
		if l > maxL {
			maxL = l
		}
	}
	probs := make([]float64, len(logits))
	sum := 0.0
	for i, l := range logits {
		p := math.Exp(l - maxL)
		probs[i] = p
		sum += p
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
