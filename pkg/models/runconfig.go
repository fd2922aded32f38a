package models

import (
	"database/sql/driver"
	"time"
)

// SeedStrategy selects how the run seed is derived.
type SeedStrategy string

const (
	SeedStrategyFixed    SeedStrategy = "fixed"
	SeedStrategyRandom   SeedStrategy = "random"
	SeedStrategySequence SeedStrategy = "sequence"
)

// TemporalMode distinguishes live simulations from backtests against
// historical data.
type TemporalMode string

const (
	TemporalModeLive     TemporalMode = "live"
	TemporalModeBacktest TemporalMode = "backtest"
)

// SeedConfig controls seed derivation for a run or ensemble.
type SeedConfig struct {
	Strategy    SeedStrategy `json:"strategy" yaml:"strategy" validate:"required,oneof=fixed random sequence"`
	PrimarySeed int64        `json:"primary_seed" yaml:"primary_seed"`
	Count       int          `json:"count,omitempty" yaml:"count,omitempty" validate:"omitempty,min=1,max=1000"`
}

// LeakageGuardConfig carries the temporal-isolation settings a run executes
// under. BlockPolicy decides what happens when a source is denied: "empty"
// substitutes an empty payload, "fail" aborts the run.
type LeakageGuardConfig struct {
	IsolationLevel int    `json:"isolation_level" yaml:"isolation_level" validate:"min=1,max=3"`
	BlockPolicy    string `json:"block_policy,omitempty" yaml:"block_policy,omitempty" validate:"omitempty,oneof=empty fail"`
}

// Versions pins the artifact versions a run was produced with.
type Versions struct {
	Engine  string `json:"engine" yaml:"engine"`
	Ruleset string `json:"ruleset" yaml:"ruleset"`
	Dataset string `json:"dataset" yaml:"dataset"`
}

// RunConfig is the fully resolved, content-hashable specification of a run.
// It is immutable once referenced by a run; reproducing a result means
// creating a new run with an equal config and seed.
type RunConfig struct {
	SeedConfig       SeedConfig          `json:"seed_config" validate:"required"`
	Horizon          int                 `json:"horizon" validate:"required,min=1,max=100000"`
	TickRate         float64             `json:"tick_rate,omitempty" validate:"omitempty,gt=0"`
	KeyframeInterval int                 `json:"keyframe_interval" validate:"required,min=1"`
	SchedulerProfile string              `json:"scheduler_profile" validate:"required"`
	ActionSpace      string              `json:"action_space,omitempty"`
	PolicyKind       string              `json:"policy_kind,omitempty" validate:"omitempty,oneof=behavioral neural"`
	ScenarioPatch    *Intervention       `json:"scenario_patch,omitempty"`
	Versions         Versions            `json:"versions"`
	MaxAgents        int                 `json:"max_agents" validate:"required,min=1,max=100000"`
	MaxExecutionMS   int64               `json:"max_execution_time_ms,omitempty" validate:"omitempty,min=0"`
	CutoffTime       *time.Time          `json:"cutoff_time,omitempty"`
	TemporalMode     TemporalMode        `json:"temporal_mode,omitempty" validate:"omitempty,oneof=live backtest"`
	LeakageGuard     *LeakageGuardConfig `json:"leakage_guard,omitempty"`
	FaultTolerance   float64             `json:"fault_tolerance,omitempty" validate:"omitempty,min=0,max=1"`
	ParameterVersion *string             `json:"parameter_version,omitempty"`
}

// HashableView returns the subset of the config covered by run_config_hash.
// Volatile fields (ids, timestamps) are excluded so that two configs that
// describe the same computation hash identically.
func (c RunConfig) HashableView() map[string]any {
	view := map[string]any{
		"seed_config":       c.SeedConfig,
		"horizon":           c.Horizon,
		"tick_rate":         c.TickRate,
		"keyframe_interval": c.KeyframeInterval,
		"scheduler_profile": c.SchedulerProfile,
		"max_agents":        c.MaxAgents,
		"versions":          c.Versions,
	}
	if c.ScenarioPatch != nil {
		view["scenario_patch"] = c.ScenarioPatch
	}
	if c.ActionSpace != "" {
		view["action_space"] = c.ActionSpace
	}
	if c.PolicyKind != "" {
		view["policy_kind"] = c.PolicyKind
	}
	return view
}

func (c RunConfig) Value() (driver.Value, error) { return jsonbValue(c) }
func (c *RunConfig) Scan(src any) error          { return jsonbScan(c, src) }
