package neural

import (
	"fmt"
	"math"
)

// Config holds the PPO hyperparameters. Zero values for ClipRatio, Gamma,
// Lambda, ValueCoef, LearningRate, and Epochs fall back to the defaults;
// ValueClip, EntropyCoef, and TargetKL are honored as explicit zeros
// (disabled).
type Config struct {
	ClipRatio    float64 // surrogate clip ratio ρ
	ValueClip    float64 // value-loss clip Δv, 0 disables
	EntropyCoef  float64 // entropy bonus weight
	ValueCoef    float64 // value-loss weight
	Gamma        float64 // discount γ
	Lambda       float64 // GAE λ
	LearningRate float64
	Epochs       int
	TargetKL     float64 // approximate-KL early stop, 0 disables
}

// DefaultConfig returns the standard PPO hyperparameters.
func DefaultConfig() Config {
	return Config{
		ClipRatio:    0.2,
		ValueClip:    0.2,
		EntropyCoef:  0.01,
		ValueCoef:    0.5,
		Gamma:        0.99,
		Lambda:       0.95,
		LearningRate: 3e-4,
		Epochs:       4,
		TargetKL:     0.02,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ClipRatio <= 0 {
		c.ClipRatio = d.ClipRatio
	}
	if c.Gamma <= 0 {
		c.Gamma = d.Gamma
	}
	if c.Lambda <= 0 {
		c.Lambda = d.Lambda
	}
	if c.ValueCoef <= 0 {
		c.ValueCoef = d.ValueCoef
	}
	if c.LearningRate <= 0 {
		c.LearningRate = d.LearningRate
	}
	if c.Epochs <= 0 {
		c.Epochs = d.Epochs
	}
	return c
}

// Trajectory is one offline rollout: per-step observations, the actions
// taken, realized rewards, terminal flags, and the values and log
// probabilities the rollout policy produced. LastValue bootstraps the
// final step when the rollout was truncated mid-episode.
type Trajectory struct {
	Obs       [][]float64
	Actions   []int
	Rewards   []float64
	Dones     []bool
	Values    []float64
	LogProbs  []float64
	LastValue float64
}

func (tr *Trajectory) validate() error {
	n := len(tr.Obs)
	if n == 0 {
		return fmt.Errorf("trajectory is empty")
	}
	if len(tr.Actions) != n || len(tr.Rewards) != n || len(tr.Dones) != n ||
		len(tr.Values) != n || len(tr.LogProbs) != n {
		return fmt.Errorf("trajectory slices have mismatched lengths")
	}
	return nil
}

// GAE computes generalized advantage estimates and the matching returns
// for a rollout. lastValue bootstraps the step after the rollout end.
func GAE(rewards, values []float64, dones []bool, lastValue, gamma, lambda float64) (advantages, returns []float64) {
	n := len(rewards)
	advantages = make([]float64, n)
	returns = make([]float64, n)
	nextValue := lastValue
	nextAdv := 0.0
	for t := n - 1; t >= 0; t-- {
		nonTerminal := 1.0
		if dones[t] {
			nonTerminal = 0
		}
		delta := rewards[t] + gamma*nextValue*nonTerminal - values[t]
		nextAdv = delta + gamma*lambda*nonTerminal*nextAdv
		advantages[t] = nextAdv
		returns[t] = nextAdv + values[t]
		nextValue = values[t]
	}
	return advantages, returns
}

// Stats reports one Update call.
type Stats struct {
	PolicyLoss   float64
	ValueLoss    float64
	Entropy      float64
	ApproxKL     float64
	EpochsRun    int
	EarlyStopped bool
}

// Trainer runs offline PPO updates against a network. It is not safe for
// concurrent use and must never share a network with a serving engine.
type Trainer struct {
	net *Network
	cfg Config
}

// NewTrainer wraps a network with PPO hyperparameters.
func NewTrainer(net *Network, cfg Config) *Trainer {
	return &Trainer{net: net, cfg: cfg.withDefaults()}
}

// Update performs one PPO update over a rollout: full-batch gradient
// steps for up to Epochs passes, stopping early once the approximate KL
// between the rollout policy and the updated policy exceeds TargetKL.
// The whole procedure is deterministic for a given network and rollout.
func (t *Trainer) Update(traj *Trajectory) (*Stats, error) {
	if err := traj.validate(); err != nil {
		return nil, err
	}
	cfg := t.cfg
	advantages, returns := GAE(traj.Rewards, traj.Values, traj.Dones, traj.LastValue, cfg.Gamma, cfg.Lambda)
	normalizeAdvantages(advantages)

	n := len(traj.Obs)
	stats := &Stats{}
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		g := newGradBuffers(t.net)
		sumPolicy, sumValue, sumEntropy, sumKL := 0.0, 0.0, 0.0, 0.0

		for s := 0; s < n; s++ {
			logits, value, c, err := t.net.forwardCached(traj.Obs[s])
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate rollout step %d: %w", s, err)
			}
			probs := softmax(logits)
			action := traj.Actions[s]
			if action < 0 || action >= len(probs) {
				return nil, fmt.Errorf("rollout step %d has action %d outside the %d-action space", s, action, len(probs))
			}

			logProb := math.Log(math.Max(probs[action], 1e-12))
			ratio := math.Exp(logProb - traj.LogProbs[s])
			adv := advantages[s]

			unclipped := ratio * adv
			clipped := clamp(ratio, 1-cfg.ClipRatio, 1+cfg.ClipRatio) * adv
			sumPolicy += -math.Min(unclipped, clipped)
			sumKL += (ratio - 1) - math.Log(ratio)

			entropy := 0.0
			for _, p := range probs {
				if p > 0 {
					entropy -= p * math.Log(p)
				}
			}
			sumEntropy += entropy

			valueLoss, dValue := valueLossAndGrad(value, traj.Values[s], returns[s], cfg.ValueClip)
			sumValue += valueLoss

			// Gradient of the per-sample loss with respect to the logits.
			dLogits := make([]float64, len(probs))
			clippedOut := (ratio > 1+cfg.ClipRatio && adv > 0) || (ratio < 1-cfg.ClipRatio && adv < 0)
			if !clippedOut {
				coef := -adv * ratio
				for j, p := range probs {
					ind := 0.0
					if j == action {
						ind = 1
					}
					dLogits[j] += coef * (ind - p)
				}
			}
			if cfg.EntropyCoef > 0 {
				for j, p := range probs {
					if p > 0 {
						dLogits[j] += cfg.EntropyCoef * p * (math.Log(p) + entropy)
					}
				}
			}

			t.net.backward(c, dLogits, cfg.ValueCoef*dValue, g)
		}

		fn := float64(n)
		stats.PolicyLoss = sumPolicy / fn
		stats.ValueLoss = sumValue / fn
		stats.Entropy = sumEntropy / fn
		stats.ApproxKL = sumKL / fn

		if cfg.TargetKL > 0 && stats.ApproxKL > cfg.TargetKL {
			stats.EarlyStopped = true
			break
		}
		applyGradients(t.net, g, cfg.LearningRate/fn)
		stats.EpochsRun++
	}
	return stats, nil
}

func valueLossAndGrad(value, oldValue, ret, valueClip float64) (loss, grad float64) {
	if valueClip <= 0 {
		diff := value - ret
		return 0.5 * diff * diff, diff
	}
	clippedValue := oldValue + clamp(value-oldValue, -valueClip, valueClip)
	l1 := (value - ret) * (value - ret)
	l2 := (clippedValue - ret) * (clippedValue - ret)
	if l1 >= l2 {
		return 0.5 * l1, value - ret
	}
	// Clipped branch: the gradient is zero once the prediction moved
	// further than Δv from the rollout value.
	if math.Abs(value-oldValue) < valueClip {
		return 0.5 * l2, clippedValue - ret
	}
	return 0.5 * l2, 0
}

func normalizeAdvantages(adv []float64) {
	n := float64(len(adv))
	if n < 2 {
		return
	}
	mean := 0.0
	for _, a := range adv {
		mean += a
	}
	mean /= n
	variance := 0.0
	for _, a := range adv {
		variance += (a - mean) * (a - mean)
	}
	std := math.Sqrt(variance / n)
	if std < 1e-8 {
		return
	}
	for i := range adv {
		adv[i] = (adv[i] - mean) / std
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type layerGrad struct {
	w, b []float64
}

type gradBuffers struct {
	layers []layerGrad
}

func newGradBuffers(n *Network) *gradBuffers {
	all := n.layers()
	g := &gradBuffers{layers: make([]layerGrad, len(all))}
	for i, l := range all {
		g.layers[i] = layerGrad{w: make([]float64, len(l.W)), b: make([]float64, len(l.B))}
	}
	return g
}

func applyGradients(n *Network, g *gradBuffers, step float64) {
	for i, l := range n.layers() {
		for j := range l.W {
			l.W[j] -= step * g.layers[i].w[j]
		}
		for j := range l.B {
			l.B[j] -= step * g.layers[i].b[j]
		}
	}
}

// forwardCache keeps the activations needed for backpropagation.
type forwardCache struct {
	obs       []float64
	hiddenIn  [][]float64
	hiddenOut [][]float64
}

func (c *forwardCache) backboneOutput() []float64 {
	if len(c.hiddenOut) == 0 {
		return c.obs
	}
	return c.hiddenOut[len(c.hiddenOut)-1]
}

func (n *Network) forwardCached(obs []float64) (logits []float64, value float64, c *forwardCache, err error) {
	if len(obs) != n.InputDim {
		return nil, 0, nil, fmt.Errorf("observation dimension %d does not match input dimension %d", len(obs), n.InputDim)
	}
	c = &forwardCache{obs: obs}
	h := obs
	for _, l := range n.backbone {
		c.hiddenIn = append(c.hiddenIn, h)
		h = l.forward(h, true)
		c.hiddenOut = append(c.hiddenOut, h)
	}
	logits = n.actor.forward(h, false)
	value = n.critic.forward(h, false)[0]
	return logits, value, c, nil
}

// backward accumulates gradients for one sample given the loss gradients
// at the actor logits and the critic value.
func (n *Network) backward(c *forwardCache, dLogits []float64, dValue float64, g *gradBuffers) {
	h := c.backboneOutput()
	nb := len(n.backbone)
	actorGrad := &g.layers[nb]
	criticGrad := &g.layers[nb+1]

	dh := make([]float64, len(h))
	for o := 0; o < n.actor.Out; o++ {
		d := dLogits[o]
		if d == 0 {
			continue
		}
		base := o * n.actor.In
		for i := range h {
			actorGrad.w[base+i] += d * h[i]
			dh[i] += n.actor.W[base+i] * d
		}
		actorGrad.b[o] += d
	}
	if dValue != 0 {
		for i := range h {
			criticGrad.w[i] += dValue * h[i]
			dh[i] += n.critic.W[i] * dValue
		}
		criticGrad.b[0] += dValue
	}

	for li := nb - 1; li >= 0; li-- {
		l := n.backbone[li]
		in := c.hiddenIn[li]
		act := c.hiddenOut[li]
		dIn := make([]float64, l.In)
		for o := 0; o < l.Out; o++ {
			dPre := dh[o] * (1 - act[o]*act[o])
			if dPre == 0 {
				continue
			}
			base := o * l.In
			for i := 0; i < l.In; i++ {
				g.layers[li].w[base+i] += dPre * in[i]
				dIn[i] += l.W[base+i] * dPre
			}
			g.layers[li].b[o] += dPre
		}
		dh = dIn
	}
}
