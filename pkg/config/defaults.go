package config

// ProductMode gates feature surface: MVP serves behavioral runs only,
// full additionally enables the neural policy and calibration endpoints.
type ProductMode string

const (
	ProductModeMVP  ProductMode = "mvp"
	ProductModeFull ProductMode = "full"
)

// Defaults contains system-wide default configurations.
// These values fill RunConfig fields the caller leaves unset.
type Defaults struct {
	// Product mode feature flag
	ProductMode ProductMode `yaml:"product_mode,omitempty"`

	// Default temporal isolation level for gateway requests
	IsolationLevel int `yaml:"isolation_level,omitempty" validate:"omitempty,min=1,max=3"`

	// Default keyframe interval for telemetry encoding
	KeyframeInterval int `yaml:"keyframe_interval,omitempty" validate:"omitempty,min=1"`

	// Default seed strategy for new runs
	SeedStrategy string `yaml:"seed_strategy,omitempty" validate:"omitempty,oneof=fixed random sequence"`

	// Default scheduler profile name
	SchedulerProfile string `yaml:"scheduler_profile,omitempty"`

	// Default action space name
	ActionSpace string `yaml:"action_space,omitempty"`

	// Fraction of terminated agents tolerated before a run aborts
	FaultTolerance float64 `yaml:"fault_tolerance,omitempty" validate:"omitempty,min=0,max=1"`

	// Reliability component weights recorded with every score
	ReliabilityWeights *ReliabilityWeightsDefaults `yaml:"reliability_weights,omitempty"`
}

// ReliabilityWeightsDefaults holds the composite score weights. They must
// sum to 1; validation enforces this.
type ReliabilityWeightsDefaults struct {
	Calibration float64 `yaml:"calibration"`
	Stability   float64 `yaml:"stability"`
	DataGap     float64 `yaml:"data_gap"`
	Drift       float64 `yaml:"drift"`
}
