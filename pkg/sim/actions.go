package sim

import (
	"fmt"
	"sort"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/sim/state"
)

// Action definition types and effect keys with commitment semantics.
// A "commit"-typed action (or a "commit" effect key) records the chosen
// action as the agent's standing choice; "uncommit" clears it.
const (
	actionTypeCommit   = "commit"
	actionTypeUncommit = "uncommit"
	effectKeyCommit    = "commit"
	effectKeyUncommit  = "uncommit"
)

// Risk parameters on an action definition. When both are present the
// action's base utility includes its prospect-theory evaluation against a
// safe outcome of zero (or parameters["safe_outcome"] when given).
const (
	paramRiskOutcome     = "risk_outcome"
	paramRiskProbability = "risk_probability"
	paramSafeOutcome     = "safe_outcome"
)

type commitKind uint8

const (
	commitNone commitKind = iota
	commitSelf
	commitClear
)

// effectOp is one compiled scalar-state effect of an action.
type effectOp struct {
	col   state.ScalarCol
	delta float64
}

// prospectSpec is an action's compiled risky prospect.
type prospectSpec struct {
	outcomes []float64
	probs    []float64
}

// actionPlan is the compiled action space: names, preconditions, effects,
// commitment semantics, and prospects, all resolved and validated before
// the first tick.
type actionPlan struct {
	names     []string
	preconds  [][]precondition
	effects   [][]effectOp
	commit    []commitKind
	prospects []*prospectSpec
}

func compileActions(space *config.ActionSpaceConfig) (*actionPlan, error) {
	if len(space.Actions) == 0 {
		return nil, models.NewValidationError("action_space", "must define at least one action")
	}

	plan := &actionPlan{
		names:     make([]string, len(space.Actions)),
		effects:   make([][]effectOp, len(space.Actions)),
		commit:    make([]commitKind, len(space.Actions)),
		prospects: make([]*prospectSpec, len(space.Actions)),
	}

	seen := make(map[string]struct{}, len(space.Actions))
	for ai, def := range space.Actions {
		if def.Name == "" {
			return nil, models.NewValidationError("action_space", fmt.Sprintf("action %d has no name", ai))
		}
		if _, dup := seen[def.Name]; dup {
			return nil, models.NewValidationError("action_space", fmt.Sprintf("duplicate action name %q", def.Name))
		}
		seen[def.Name] = struct{}{}
		plan.names[ai] = def.Name

		switch def.Type {
		case actionTypeCommit:
			plan.commit[ai] = commitSelf
		case actionTypeUncommit, "decommit":
			plan.commit[ai] = commitClear
		}

		effects, kind, err := compileEffects(def)
		if err != nil {
			return nil, err
		}
		plan.effects[ai] = effects
		if kind != commitNone {
			plan.commit[ai] = kind
		}

		ps, err := compileProspect(def)
		if err != nil {
			return nil, err
		}
		plan.prospects[ai] = ps
	}

	preconds, err := compilePreconditions(space.Actions)
	if err != nil {
		return nil, models.NewValidationError("action_space", err.Error())
	}
	plan.preconds = preconds
	return plan, nil
}

func compileEffects(def config.ActionDefinitionConfig) ([]effectOp, commitKind, error) {
	kind := commitNone
	var ops []effectOp
	for key, delta := range def.Effects {
		switch key {
		case effectKeyCommit:
			kind = commitSelf
			continue
		case effectKeyUncommit:
			kind = commitClear
			continue
		}
		col, ok := state.ScalarColByName(key)
		if !ok {
			return nil, commitNone, models.NewValidationError("action_space",
				fmt.Sprintf("action %q: unknown effect target %q", def.Name, key))
		}
		ops = append(ops, effectOp{col: col, delta: delta})
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].col < ops[j].col })
	return ops, kind, nil
}

func compileProspect(def config.ActionDefinitionConfig) (*prospectSpec, error) {
	risk, hasRisk := def.Parameters[paramRiskOutcome]
	p, hasProb := def.Parameters[paramRiskProbability]
	if !hasRisk && !hasProb {
		return nil, nil
	}
	if hasRisk != hasProb {
		return nil, models.NewValidationError("action_space",
			fmt.Sprintf("action %q: risk_outcome and risk_probability must be set together", def.Name))
	}
	if p < 0 || p > 1 {
		return nil, models.NewValidationError("action_space",
			fmt.Sprintf("action %q: risk_probability %v outside [0,1]", def.Name, p))
	}
	safe := def.Parameters[paramSafeOutcome]
	return &prospectSpec{
		outcomes: []float64{risk, safe},
		probs:    []float64{p, 1 - p},
	}, nil
}
