package sim

import (
	"fmt"
	"sort"

	"github.com/manyworlds/continuum/pkg/models"
)

// Environment variable names the engine reads, with their fallbacks when a
// world was materialized from a custom baseline that omits them.
const (
	EnvStatusQuoBoost     = "status_quo_boost"
	EnvBandwagonIntensity = "bandwagon_intensity"
	EnvRecencyDecay       = "recency_decay"
	EnvFramingValence     = "framing_valence"
	EnvInformationLevel   = "information_level"
	EnvVolatility         = "volatility"

	defaultStatusQuoBoost     = 0.3
	defaultBandwagonIntensity = 1.0
	defaultRecencyDecay       = 0.9
	defaultInformationLevel   = 0.5
	defaultVolatility         = 0.2
)

// World is the materialized initial state of a run: the environment after
// every patch along the root→node path has been applied, plus the event
// scripts scheduled for injection during the run.
type World struct {
	Env map[string]float64

	// Scripts maps tick → the scripts injected at that tick, in patch
	// order. Scripts scheduled at or before tick 0 run during Start,
	// before the initial keyframe.
	Scripts map[int][]models.EventScriptRef
}

// DefaultEnvironment returns the baseline environment used when a node
// supplies none.
func DefaultEnvironment() map[string]float64 {
	return map[string]float64{
		EnvStatusQuoBoost:     defaultStatusQuoBoost,
		EnvBandwagonIntensity: defaultBandwagonIntensity,
		EnvRecencyDecay:       defaultRecencyDecay,
		EnvFramingValence:     0,
		EnvInformationLevel:   defaultInformationLevel,
		EnvVolatility:         defaultVolatility,
	}
}

// MaterializeWorld applies patches in order to a copy of the baseline
// environment and collects their event scripts by tick. Patches are the
// compiled deltas along the root→node path, oldest first, with the run's
// scenario patch last. A nil baseline starts from DefaultEnvironment.
func MaterializeWorld(baseline map[string]float64, patches []models.PatchDeltas) (*World, error) {
	env := make(map[string]float64, len(baseline))
	if baseline == nil {
		env = DefaultEnvironment()
	} else {
		for k, v := range baseline {
			env[k] = v
		}
	}

	w := &World{Env: env, Scripts: make(map[int][]models.EventScriptRef)}
	for pi, patch := range patches {
		for _, d := range patch.Variables {
			if err := ApplyVariableDelta(env, d); err != nil {
				return nil, fmt.Errorf("failed to apply patch %d: %w", pi, err)
			}
		}
		for _, ref := range patch.EventScripts {
			tick := ref.AtTick
			if tick < 0 {
				tick = 0
			}
			w.Scripts[tick] = append(w.Scripts[tick], ref)
		}
	}
	return w, nil
}

// ApplyVariableDelta applies one element-wise modification to env. Unknown
// variables are created by add and set; mul of an absent variable stays
// absent-as-zero.
func ApplyVariableDelta(env map[string]float64, d models.VariableDelta) error {
	switch d.Operation {
	case models.DeltaOpAdd:
		env[d.Variable] += d.Value
	case models.DeltaOpMul:
		env[d.Variable] *= d.Value
	case models.DeltaOpSet:
		env[d.Variable] = d.Value
	default:
		return models.NewValidationError("operation", fmt.Sprintf("unknown delta operation %q", d.Operation))
	}
	return nil
}

// ApplyScriptPayload mutates env according to a script payload. The payload
// may carry "set", "add", and "mul" groups mapping variable names to
// numbers, applied in that order; bare numeric top-level entries are
// treated as add. Non-numeric entries are ignored.
func ApplyScriptPayload(env map[string]float64, payload map[string]any) {
	applyGroup(env, payload, "set")
	applyGroup(env, payload, "add")
	applyGroup(env, payload, "mul")

	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k == "set" || k == "add" || k == "mul" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := coerceFloat(payload[k]); ok {
			env[k] += v
		}
	}
}

func applyGroup(env map[string]float64, payload map[string]any, op string) {
	group, ok := payload[op].(map[string]any)
	if !ok {
		return
	}
	keys := make([]string, 0, len(group))
	for k := range group {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := coerceFloat(group[k])
		if !ok {
			continue
		}
		switch op {
		case "set":
			env[k] = v
		case "add":
			env[k] += v
		case "mul":
			env[k] *= v
		}
	}
}

func coerceFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func envOr(env map[string]float64, key string, fallback float64) float64 {
	if v, ok := env[key]; ok {
		return v
	}
	return fallback
}
