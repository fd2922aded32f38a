package sim

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/sim/state"
)

// hasInformationMin is the information_exposure level at which the
// has_information precondition holds.
const hasInformationMin = 0.5

// precondition reports whether an agent may take an action this tick.
type precondition func(pop *state.Population, agent int) bool

// compilePreconditions parses every action's precondition strings up
// front so unknown predicates surface as validation errors at engine
// construction instead of silently masking actions at runtime.
//
// Supported forms: is_committed, not_committed, has_information,
// <scalar>_above_<x>, <scalar>_below_<x>.
func compilePreconditions(actions []config.ActionDefinitionConfig) ([][]precondition, error) {
	out := make([][]precondition, len(actions))
	for ai, def := range actions {
		for _, raw := range def.Preconditions {
			p, err := compilePrecondition(raw)
			if err != nil {
				return nil, fmt.Errorf("action %q: %w", def.Name, err)
			}
			out[ai] = append(out[ai], p)
		}
	}
	return out, nil
}

func compilePrecondition(raw string) (precondition, error) {
	switch raw {
	case "is_committed":
		return func(pop *state.Population, agent int) bool {
			return pop.IsCommitted(agent)
		}, nil
	case "not_committed":
		return func(pop *state.Population, agent int) bool {
			return !pop.IsCommitted(agent)
		}, nil
	case "has_information":
		return func(pop *state.Population, agent int) bool {
			return pop.Scalar(agent, state.ColInformationExposure) >= hasInformationMin
		}, nil
	}

	if col, threshold, above, ok := parseThreshold(raw); ok {
		if above {
			return func(pop *state.Population, agent int) bool {
				return pop.Scalar(agent, col) > threshold
			}, nil
		}
		return func(pop *state.Population, agent int) bool {
			return pop.Scalar(agent, col) < threshold
		}, nil
	}
	return nil, fmt.Errorf("unknown precondition %q", raw)
}

// parseThreshold splits "<scalar>_above_<x>" / "<scalar>_below_<x>" into a
// scalar column and its bound.
func parseThreshold(raw string) (col state.ScalarCol, threshold float64, above, ok bool) {
	sep := "_above_"
	above = true
	idx := strings.LastIndex(raw, sep)
	if idx < 0 {
		sep = "_below_"
		above = false
		idx = strings.LastIndex(raw, sep)
	}
	if idx <= 0 {
		return 0, 0, false, false
	}
	col, found := state.ScalarColByName(raw[:idx])
	if !found {
		return 0, 0, false, false
	}
	v, err := strconv.ParseFloat(raw[idx+len(sep):], 64)
	if err != nil {
		return 0, 0, false, false
	}
	return col, v, above, true
}

// eligible reports whether every precondition of one action holds.
func eligible(pop *state.Population, agent int, preconds []precondition) bool {
	for _, p := range preconds {
		if !p(pop, agent) {
			return false
		}
	}
	return true
}
