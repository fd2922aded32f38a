package config

import (
	"sync"
	"time"
)

// BuiltinConfig holds all built-in configuration data: default scheduler
// profiles, action spaces, and system defaults. User YAML overrides any
// entry by name.
type BuiltinConfig struct {
	SchedulerProfiles       map[string]*SchedulerProfileConfig
	ActionSpaces            map[string]*ActionSpaceConfig
	DefaultProductMode      ProductMode
	DefaultIsolationLevel   int
	DefaultKeyframeInterval int
	DefaultSeedStrategy     string
	DefaultProfileName      string
	DefaultActionSpaceName  string
	DefaultFaultTolerance   float64
	DefaultWeights          ReliabilityWeightsDefaults
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		SchedulerProfiles:       initBuiltinSchedulerProfiles(),
		ActionSpaces:            initBuiltinActionSpaces(),
		DefaultProductMode:      ProductModeMVP,
		DefaultIsolationLevel:   2,
		DefaultKeyframeInterval: 10,
		DefaultSeedStrategy:     "fixed",
		DefaultProfileName:      "default",
		DefaultActionSpaceName:  "consumer_choice",
		DefaultFaultTolerance:   0.05,
		DefaultWeights: ReliabilityWeightsDefaults{
			Calibration: 0.35,
			Stability:   0.30,
			DataGap:     0.20,
			Drift:       0.15,
		},
	}
}

func initBuiltinSchedulerProfiles() map[string]*SchedulerProfileConfig {
	return map[string]*SchedulerProfileConfig{
		"default": {
			Description:      "Balanced profile for populations up to ~10k agents",
			Partitions:       4,
			BatchSize:        256,
			MaxConcurrent:    4,
			TickSoftBudgetMS: int64(2 * time.Second / time.Millisecond),
		},
		"single": {
			Description:   "Single partition, strictly sequential; the reference for determinism checks",
			Partitions:    1,
			BatchSize:     256,
			MaxConcurrent: 1,
		},
		"wide": {
			Description:      "Many small partitions for large populations on big hosts",
			Partitions:       16,
			BatchSize:        512,
			MaxConcurrent:    8,
			TickSoftBudgetMS: int64(5 * time.Second / time.Millisecond),
		},
	}
}

func initBuiltinActionSpaces() map[string]*ActionSpaceConfig {
	return map[string]*ActionSpaceConfig{
		"consumer_choice": {
			Kind:        ActionSpaceDiscrete,
			Description: "Adopt / defer / reject over a product or proposition",
			Actions: []ActionDefinitionConfig{
				{
					Type: "adopt", Name: "adopt",
					Preconditions:    []string{"not_committed", "has_information"},
					Effects:          map[string]float64{"commitment_strength": 0.4, "certainty": 0.2},
					RewardComponents: map[string]float64{"alignment": 1.0, "social_approval": 0.5},
				},
				{
					Type: "defer", Name: "defer",
					Effects:          map[string]float64{"information_exposure": 0.1},
					RewardComponents: map[string]float64{"information_gain": 0.6, "time_cost": -0.2},
				},
				{
					Type: "reject", Name: "reject",
					Preconditions:    []string{"certainty_above_0.6"},
					Effects:          map[string]float64{"commitment_strength": 0.3, "certainty": 0.1},
					RewardComponents: map[string]float64{"consistency": 0.8},
				},
			},
			ComponentWeights: map[string]float64{
				"alignment":        1.0,
				"social_approval":  0.6,
				"consistency":      0.5,
				"information_gain": 0.4,
				"accuracy":         1.0,
				"time_cost":        0.3,
			},
			SoftmaxTemperature: 1.0,
		},
		"binary_choice": {
			Kind:        ActionSpaceDiscrete,
			Description: "Two-option space used by calibration fixtures",
			Actions: []ActionDefinitionConfig{
				{Type: "choose_a", Name: "choose_a", RewardComponents: map[string]float64{"alignment": 1.0}},
				{Type: "choose_b", Name: "choose_b", RewardComponents: map[string]float64{"alignment": 1.0}},
			},
			ComponentWeights:   map[string]float64{"alignment": 1.0},
			SoftmaxTemperature: 1.0,
		},
	}
}
