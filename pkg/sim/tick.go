package sim

import (
	"fmt"
	"math"

	"github.com/manyworlds/continuum/pkg/sim/behavior"
	"github.com/manyworlds/continuum/pkg/sim/state"
)

// Per-tick state dynamics. Rewards move certainty through a bounded tanh;
// acting on (or against) a standing choice reinforces (or erodes)
// commitment; information exposure tracks the environment's information
// level; echo-chamber scores drift toward peer agreement.
const (
	beliefGain          = 0.2
	certaintyFromReward = 0.05
	commitmentReinforce = 0.05
	commitmentErosion   = 0.02
	infoExposureGain    = 0.05
	echoDriftGain       = 0.05
	salientEpisodeMin   = 0.8
)

// tickSnapshot freezes the cross-agent state the biases and rewards read,
// taken once per tick before any partition runs. Workers read only the
// snapshot and pre-tick population state, so partition scheduling can
// never change results.
type tickSnapshot struct {
	committed    []int
	choices      []int // committed choice, else latest action, else -1
	distribution []float64
	peerChoices  [][]int
	framing      []float64
	recentA      [][]int
	recentR      [][]float64
}

func (e *Engine) initSnapshot(numActions int) {
	s := &e.snap
	s.committed = make([]int, e.n)
	s.choices = make([]int, e.n)
	s.distribution = make([]float64, numActions)
	s.framing = make([]float64, numActions)
	s.peerChoices = make([][]int, e.n)
	s.recentA = make([][]int, e.n)
	s.recentR = make([][]float64, e.n)
	for i := 0; i < e.n; i++ {
		s.peerChoices[i] = make([]int, len(e.pop.Neighbors(i)))
	}
}

func (e *Engine) snapshotTick() {
	s := &e.snap
	copy(s.committed, e.pop.CommittedChoices)

	for a := range s.distribution {
		s.distribution[a] = 0
	}
	choosing := 0
	for i := 0; i < e.n; i++ {
		c := s.committed[i]
		if c == state.Uncommitted {
			if a, ok := e.pop.Actions.Latest(i); ok {
				c = a
			}
		}
		s.choices[i] = c
		if c >= 0 && c < len(s.distribution) {
			s.distribution[c]++
			choosing++
		}
	}
	if choosing > 0 {
		for a := range s.distribution {
			s.distribution[a] /= float64(choosing)
		}
	}

	for i := 0; i < e.n; i++ {
		edges := e.pop.Neighbors(i)
		for k, edge := range edges {
			s.peerChoices[i][k] = s.choices[edge.Peer]
		}
		s.recentA[i] = e.pop.Actions.Recent(i)
		s.recentR[i] = e.pop.Rewards.Recent(i)
	}

	base := envOr(e.env, EnvFramingValence, 0)
	for a, name := range e.plan.names {
		s.framing[a] = base + envOr(e.env, "framing_"+name, 0)
	}

	e.bctx = behavior.Context{
		Committed:       s.committed,
		BoostFactor:     envOr(e.env, EnvStatusQuoBoost, defaultStatusQuoBoost),
		Distribution:    s.distribution,
		IntensityFactor: envOr(e.env, EnvBandwagonIntensity, defaultBandwagonIntensity),
		PeerChoices:     s.peerChoices,
		PeerWeights:     e.peerWeights,
		FramingValence:  s.framing,
		RecentActions:   s.recentA,
		RecentRewards:   s.recentR,
		RecencyDecay:    envOr(e.env, EnvRecencyDecay, defaultRecencyDecay),
	}
}

// runPartition advances one partition's agents through the five loop
// stages, buffering every cross-agent write for the merge.
func (e *Engine) runPartition(t int, agents []int, p int) ([]agentResult, partStats) {
	var st partStats
	buf := e.partBufs[p][:0]
	live := e.liveBufs[p][:0]
	selectable := e.selBufs[p][:0]

	for _, i := range agents {
		ph := e.pop.Phases[i]
		if ph == state.PhaseTerminated || ph == state.PhaseSuspended {
			continue
		}
		if fault := e.observeEvaluate(t, i); fault != "" {
			buf = append(buf, agentResult{agent: i, action: -1, commit: commitUnchanged, fault: fault})
			continue
		}
		st.observe++
		st.evaluate++
		live = append(live, i)
	}

	for _, i := range live {
		if e.applyMask(i) {
			selectable = append(selectable, i)
			st.decide++
		} else {
			// Every action masked: the agent idles this tick.
			buf = append(buf, agentResult{agent: i, action: -1, commit: commitUnchanged})
		}
	}

	decisions := e.decide(t, selectable)

	for k, i := range selectable {
		res := e.actUpdate(t, i, decisions[k])
		if res.fault == "" {
			st.act++
			st.update++
		}
		buf = append(buf, res)
	}

	e.liveBufs[p] = live
	e.selBufs[p] = selectable
	return buf, st
}

// observeEvaluate runs the OBSERVE and EVALUATE stages for one agent. A
// panic or injected fault terminates the agent without touching the rest
// of the partition.
func (e *Engine) observeEvaluate(t, i int) (fault string) {
	defer func() {
		if r := recover(); r != nil {
			fault = fmt.Sprintf("agent step panicked: %v", r)
		}
	}()
	if e.faultInject != nil {
		if err := e.faultInject(t, i); err != nil {
			return err.Error()
		}
	}

	e.pop.Phases[i] = state.PhaseObserving
	e.observePeers(i, e.peerMeans.Row(i))

	e.pop.Phases[i] = state.PhaseEvaluating
	if e.policyKind == PolicyNeural {
		return e.neuralEvaluate(i)
	}
	e.evaluate(i)
	return ""
}

// observePeers fills out with the influence-weighted mean of each scalar
// over the agent's peers. Reads only pre-tick scalar state.
func (e *Engine) observePeers(i int, out []float64) {
	for c := range out {
		out[c] = 0
	}
	edges := e.pop.Neighbors(i)
	wsum := 0.0
	for k, edge := range edges {
		w := e.peerWeights[i][k]
		if w <= 0 {
			continue
		}
		row := e.pop.Scalars.Row(edge.Peer)
		for c := range out {
			out[c] += w * row[c]
		}
		wsum += w
	}
	if wsum > 0 {
		for c := range out {
			out[c] /= wsum
		}
	}
}

// evaluate composes preferences, learned outcome beliefs, and any risky
// prospect into the agent's base utility row, scaled by conviction (a
// certainty-dependent sharpening of the whole row).
func (e *Engine) evaluate(i int) {
	mem := e.pop.Memories[i]
	conviction := 0.5 + 0.5*e.pop.Scalar(i, state.ColCertainty)
	row := e.utilities.Row(i)
	for a := range row {
		u := e.pop.Preferences.At(i, a)
		u += beliefGain * mem.Belief(e.beliefKeys[a])
		if ps := e.plan.prospects[a]; ps != nil {
			u += behavior.EvaluateProspect(ps.outcomes, ps.probs, e.params[i])
		}
		row[a] = u * conviction
	}
}

// neuralEvaluate writes the network's logits into the agent's utility row.
func (e *Engine) neuralEvaluate(i int) string {
	obs := make([]float64, neuralObsWidth)
	own := e.pop.Scalars.Row(i)
	peer := e.peerMeans.Row(i)
	copy(obs, own)
	copy(obs[len(own):], peer)
	obs[neuralObsWidth-2] = envOr(e.env, EnvInformationLevel, defaultInformationLevel)
	obs[neuralObsWidth-1] = envOr(e.env, EnvVolatility, defaultVolatility)

	logits, _, err := e.net.Forward(obs)
	if err != nil {
		return fmt.Sprintf("neural forward failed: %v", err)
	}
	copy(e.utilities.Row(i), logits)
	return ""
}

// applyMask sets masked actions to -Inf and reports whether anything
// remains selectable. Masked cells survive the bias pipeline untouched.
func (e *Engine) applyMask(i int) bool {
	row := e.utilities.Row(i)
	selectable := false
	for a := range row {
		if eligible(e.pop, i, e.plan.preconds[a]) {
			selectable = true
		} else {
			row[a] = math.Inf(-1)
		}
	}
	return selectable
}

// decide selects one action per agent. The behavioral policy applies its
// bias pipeline first; the neural policy's logits go straight to
// selection. Both draw from the same per-agent decide stream.
func (e *Engine) decide(t int, agents []int) []behavior.Decision {
	for _, i := range agents {
		e.pop.Phases[i] = state.PhaseDeciding
	}
	if e.policyKind == PolicyNeural {
		return behavior.SelectActions(e.utilities, agents, e.policy.Temperature, e.policy.Deterministic, e.seed, t)
	}
	return e.policy.Decide(e.utilities, agents, e.params, &e.bctx, e.seed, t)
}

// actUpdate runs the ACT and UPDATE stages for one agent: the action
// record, the folded reward, the action's effects, the built-in dynamics,
// and the memory writes. Cross-agent state lands in the result buffer;
// per-agent history (rings, memory) applies immediately since nothing
// else reads it this tick.
func (e *Engine) actUpdate(t, i int, dec behavior.Decision) (res agentResult) {
	res = agentResult{agent: i, action: dec.Action, commit: commitUnchanged}
	defer func() {
		if r := recover(); r != nil {
			res.fault = fmt.Sprintf("agent update panicked: %v", r)
		}
	}()

	e.pop.Phases[i] = state.PhaseActing
	e.pop.Actions.Push(i, dec.Action)
	reward := e.rewardFor(i, dec.Action)
	res.reward = reward
	e.pop.Rewards.Push(i, reward)

	e.pop.Phases[i] = state.PhaseUpdating
	for _, eff := range e.plan.effects[dec.Action] {
		res.deltas[eff.col] += eff.delta
	}
	switch e.plan.commit[dec.Action] {
	case commitSelf:
		res.commit = dec.Action
	case commitClear:
		res.commit = state.Uncommitted
	}

	res.deltas[state.ColCertainty] += certaintyFromReward * math.Tanh(reward)
	if c := e.snap.committed[i]; c != state.Uncommitted {
		if c == dec.Action {
			res.deltas[state.ColCommitmentStrength] += commitmentReinforce
		} else {
			res.deltas[state.ColCommitmentStrength] -= commitmentErosion
		}
	}
	res.deltas[state.ColInformationExposure] += infoExposureGain * envOr(e.env, EnvInformationLevel, defaultInformationLevel)
	res.deltas[state.ColEchoChamberScore] += echoDriftGain * (e.peerAgreement(i, dec.Action) - 0.5)

	mem := e.pop.Memories[i]
	mem.Observe(state.MemoryEvent{Tick: t, Kind: "action", Subject: e.plan.names[dec.Action], Value: reward})
	mem.UpdateBelief(e.beliefKeys[dec.Action], reward)
	if math.Abs(reward) >= salientEpisodeMin {
		mem.RecordEpisode(state.Episode{
			Tick:     t,
			Kind:     "outcome",
			Salience: math.Abs(reward),
			Detail:   map[string]float64{"action": float64(dec.Action), "reward": reward},
		})
	}
	return res
}

// rewardFor folds the action's reward components: statics from the
// definition at their configured weight, then the dynamic components the
// weights request. Iteration order is fixed at compile time.
func (e *Engine) rewardFor(i, action int) float64 {
	total := 0.0
	for _, c := range e.rewards.statics[action] {
		total += e.rewards.weight(c.name) * c.value
	}
	for _, name := range e.rewards.dynamic {
		if _, pinned := e.rewards.staticValue(action, name); pinned {
			continue
		}
		total += e.rewards.weightOf[name] * e.dynamicComponent(name, i, action)
	}
	return total
}

func (e *Engine) dynamicComponent(name string, i, action int) float64 {
	switch name {
	case componentAlignment:
		return e.pop.Preferences.At(i, action)
	case componentConsistency:
		if e.snap.committed[i] == action {
			return 1
		}
		return 0
	case componentSocial:
		return e.peerAgreement(i, action)
	case componentInfoGain:
		return 1 - e.pop.Scalar(i, state.ColInformationExposure)
	}
	return 0
}

// peerAgreement is the influence-weighted share of the agent's peers
// whose snapshot choice matches the action.
func (e *Engine) peerAgreement(i, action int) float64 {
	choices := e.snap.peerChoices[i]
	weights := e.peerWeights[i]
	total, same := 0.0, 0.0
	for k, c := range choices {
		w := weights[k]
		if w <= 0 {
			continue
		}
		total += w
		if c == action {
			same += w
		}
	}
	if total <= 0 {
		return 0
	}
	return same / total
}
