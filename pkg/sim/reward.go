package sim

import (
	"math"
	"sort"

	"github.com/manyworlds/continuum/pkg/config"
)

// Dynamic reward components the engine computes per decision when the
// component weights name them and the action definition does not pin a
// static value: alignment (preference affinity for the chosen action),
// consistency (1 when the choice matches the standing commitment),
// social_approval (influence-weighted share of peers on the same choice),
// information_gain (headroom left in information exposure).
const (
	componentAlignment   = "alignment"
	componentConsistency = "consistency"
	componentSocial      = "social_approval"
	componentInfoGain    = "information_gain"
)

// namedComponent is one (component, value-or-weight) pair in a fixed
// order. Reward folding iterates sorted slices, never maps, so the float
// accumulation order is identical on every run.
type namedComponent struct {
	name  string
	value float64
}

// rewardPlan is the compiled reward computation for one action space:
// sorted component weights, per-action sorted static components, and the
// dynamic components the weights request.
type rewardPlan struct {
	weights  []namedComponent
	weightOf map[string]float64
	statics  [][]namedComponent // per action, sorted by name
	dynamic  []string           // sorted dynamic components the weights request
}

func compileRewardPlan(space *config.ActionSpaceConfig) *rewardPlan {
	plan := &rewardPlan{
		weightOf: make(map[string]float64, len(space.ComponentWeights)),
		statics:  make([][]namedComponent, len(space.Actions)),
	}
	for name, w := range space.ComponentWeights {
		plan.weights = append(plan.weights, namedComponent{name: name, value: w})
		plan.weightOf[name] = w
	}
	sort.Slice(plan.weights, func(i, j int) bool { return plan.weights[i].name < plan.weights[j].name })

	for ai, def := range space.Actions {
		for name, v := range def.RewardComponents {
			plan.statics[ai] = append(plan.statics[ai], namedComponent{name: name, value: v})
		}
		sort.Slice(plan.statics[ai], func(i, j int) bool {
			return plan.statics[ai][i].name < plan.statics[ai][j].name
		})
	}

	for _, wc := range plan.weights {
		switch wc.name {
		case componentAlignment, componentConsistency, componentSocial, componentInfoGain:
			plan.dynamic = append(plan.dynamic, wc.name)
		}
	}
	return plan
}

// weight returns the configured weight for a component, defaulting to 1
// for components named only in an action's reward map.
func (p *rewardPlan) weight(name string) float64 {
	if w, ok := p.weightOf[name]; ok {
		return w
	}
	return 1
}

// staticValue reports an action's pinned value for a component, if any.
func (p *rewardPlan) staticValue(action int, name string) (float64, bool) {
	for _, c := range p.statics[action] {
		if c.name == name {
			return c.value, true
		}
	}
	return 0, false
}

// FoldReward folds named components through a weight map: Σ wᵢ·cᵢ, with a
// default weight of 1 for unweighted components. Accumulation runs in
// sorted component order for bitwise reproducibility.
func FoldReward(components, weights map[string]float64) float64 {
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)
	total := 0.0
	for _, name := range names {
		w, ok := weights[name]
		if !ok {
			w = 1
		}
		total += w * components[name]
	}
	return total
}

// AccuracyReward scores a predicted outcome distribution against ground
// truth: exp(-KL(truth ‖ pred)) · accuracyWeight. Identical distributions
// score exactly accuracyWeight; the score decays toward zero as the
// prediction diverges.
func AccuracyReward(truth, pred map[string]float64, accuracyWeight float64) float64 {
	return math.Exp(-KLDivergence(truth, pred)) * accuracyWeight
}

// KLDivergence computes KL(truth ‖ pred) over truth's support after
// normalizing both inputs. Missing or zero predicted mass is floored so
// the divergence stays finite.
func KLDivergence(truth, pred map[string]float64) float64 {
	const floor = 1e-9

	keys := make([]string, 0, len(truth))
	truthSum := 0.0
	for k, v := range truth {
		if v > 0 {
			keys = append(keys, k)
			truthSum += v
		}
	}
	if truthSum <= 0 {
		return 0
	}
	sort.Strings(keys)

	predSum := 0.0
	for _, v := range pred {
		if v > 0 {
			predSum += v
		}
	}

	kl := 0.0
	for _, k := range keys {
		t := truth[k] / truthSum
		p := floor
		if predSum > 0 && pred[k] > 0 {
			p = pred[k] / predSum
		}
		kl += t * math.Log(t/p)
	}
	if kl < 0 {
		// Float residue on identical distributions.
		return 0
	}
	return kl
}
