package config

import (
	"fmt"
	"math"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: profiles → action spaces → data sources → defaults
	// so cross-references are checked after their targets

	if err := v.validateSchedulerProfiles(); err != nil {
		return fmt.Errorf("scheduler profile validation failed: %w", err)
	}

	if err := v.validateActionSpaces(); err != nil {
		return fmt.Errorf("action space validation failed: %w", err)
	}

	if err := v.validateDataSources(); err != nil {
		return fmt.Errorf("data source validation failed: %w", err)
	}

	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	if err := v.validateStorage(); err != nil {
		return fmt.Errorf("storage validation failed: %w", err)
	}

	if err := v.validateGateway(); err != nil {
		return fmt.Errorf("gateway validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateSchedulerProfiles() error {
	for name, profile := range v.cfg.SchedulerProfileRegistry.GetAll() {
		if profile.Partitions < 1 {
			return NewValidationError("scheduler_profile", name, "partitions", fmt.Errorf("must be at least 1"))
		}
		if profile.BatchSize < 1 {
			return NewValidationError("scheduler_profile", name, "batch_size", fmt.Errorf("must be at least 1"))
		}
		if profile.MaxConcurrent < 1 {
			return NewValidationError("scheduler_profile", name, "max_concurrent", fmt.Errorf("must be at least 1"))
		}
		if profile.MaxConcurrent > profile.Partitions {
			return NewValidationError("scheduler_profile", name, "max_concurrent",
				fmt.Errorf("cannot exceed partitions (%d > %d)", profile.MaxConcurrent, profile.Partitions))
		}
	}
	return nil
}

func (v *ConfigValidator) validateActionSpaces() error {
	for name, space := range v.cfg.ActionSpaceRegistry.GetAll() {
		switch space.Kind {
		case ActionSpaceDiscrete, ActionSpaceHybrid:
			if len(space.Actions) == 0 {
				return NewValidationError("action_space", name, "actions", fmt.Errorf("at least one action required"))
			}
		case ActionSpaceContinuous:
			if len(space.ContinuousRanges) == 0 {
				return NewValidationError("action_space", name, "continuous_ranges", fmt.Errorf("at least one range required"))
			}
		default:
			return NewValidationError("action_space", name, "kind", fmt.Errorf("invalid kind: %s", space.Kind))
		}

		seen := make(map[string]bool, len(space.Actions))
		for _, action := range space.Actions {
			if action.Name == "" {
				return NewValidationError("action_space", name, "actions", fmt.Errorf("action name required"))
			}
			if seen[action.Name] {
				return NewValidationError("action_space", name, "actions", fmt.Errorf("duplicate action '%s'", action.Name))
			}
			seen[action.Name] = true
		}

		for _, r := range space.ContinuousRanges {
			if r.Min >= r.Max {
				return NewValidationError("action_space", name, "continuous_ranges",
					fmt.Errorf("range '%s': min %v must be below max %v", r.Name, r.Min, r.Max))
			}
		}

		if space.SoftmaxTemperature < 0 {
			return NewValidationError("action_space", name, "softmax_temperature", fmt.Errorf("must be >= 0"))
		}
	}
	return nil
}

func (v *ConfigValidator) validateDataSources() error {
	for name, source := range v.cfg.DataSourceRegistry.GetAll() {
		switch source.Kind {
		case DataSourceKindHTTP:
			if source.BaseURL == "" {
				return NewValidationError("data_source", name, "base_url", ErrMissingRequiredField)
			}
		case DataSourceKindDataset:
			if source.DatasetPath == "" {
				return NewValidationError("data_source", name, "dataset_path", ErrMissingRequiredField)
			}
		case DataSourceKindStatic:
			// no extra fields
		default:
			return NewValidationError("data_source", name, "kind", fmt.Errorf("invalid kind: %s", source.Kind))
		}
	}
	return nil
}

func (v *ConfigValidator) validateDefaults() error {
	d := v.cfg.Defaults

	if d.IsolationLevel < 1 || d.IsolationLevel > 3 {
		return NewValidationError("defaults", "system", "isolation_level", fmt.Errorf("must be 1, 2, or 3"))
	}
	if d.KeyframeInterval < 1 {
		return NewValidationError("defaults", "system", "keyframe_interval", fmt.Errorf("must be at least 1"))
	}
	if d.ProductMode != ProductModeMVP && d.ProductMode != ProductModeFull {
		return NewValidationError("defaults", "system", "product_mode", fmt.Errorf("invalid mode: %s", d.ProductMode))
	}
	if !v.cfg.SchedulerProfileRegistry.Has(d.SchedulerProfile) {
		return NewValidationError("defaults", "system", "scheduler_profile",
			fmt.Errorf("%w: scheduler profile '%s'", ErrInvalidReference, d.SchedulerProfile))
	}
	if !v.cfg.ActionSpaceRegistry.Has(d.ActionSpace) {
		return NewValidationError("defaults", "system", "action_space",
			fmt.Errorf("%w: action space '%s'", ErrInvalidReference, d.ActionSpace))
	}
	if d.FaultTolerance < 0 || d.FaultTolerance > 1 {
		return NewValidationError("defaults", "system", "fault_tolerance", fmt.Errorf("must be within [0,1]"))
	}

	w := d.ReliabilityWeights
	sum := w.Calibration + w.Stability + w.DataGap + w.Drift
	if math.Abs(sum-1.0) > 1e-9 {
		return NewValidationError("defaults", "system", "reliability_weights",
			fmt.Errorf("weights must sum to 1, got %v", sum))
	}

	return nil
}

func (v *ConfigValidator) validateStorage() error {
	s := v.cfg.Storage

	switch s.Backend {
	case StorageBackendS3:
		if s.Bucket == "" {
			return NewValidationError("storage", "system", "bucket", ErrMissingRequiredField)
		}
	case StorageBackendFilesystem:
		if s.FilesystemRoot == "" {
			return NewValidationError("storage", "system", "filesystem_root", ErrMissingRequiredField)
		}
	case StorageBackendMemory:
		// test-only backend, nothing to check
	default:
		return NewValidationError("storage", "system", "backend", fmt.Errorf("invalid backend: %s", s.Backend))
	}

	if s.SignedURLTTL <= 0 {
		return NewValidationError("storage", "system", "signed_url_ttl", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateGateway() error {
	g := v.cfg.Gateway

	if g.CacheEnabled && g.RedisAddr == "" {
		return NewValidationError("gateway", "system", "redis_addr", fmt.Errorf("required when cache_enabled is true"))
	}
	if g.BreakerMaxFailures == 0 {
		return NewValidationError("gateway", "system", "breaker_max_failures", fmt.Errorf("must be at least 1"))
	}

	return nil
}
