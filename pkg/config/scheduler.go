package config

import (
	"fmt"
	"sync"
)

// SchedulerProfileConfig controls how the engine partitions and batches
// agent work within a tick. Changing any of these values changes the
// run_config_hash; results reproduce only under the same profile.
type SchedulerProfileConfig struct {
	Description string `yaml:"description,omitempty"`

	// Partitions is the number of agent partitions per tick.
	Partitions int `yaml:"partitions"`

	// BatchSize is the number of agents processed per vectorized batch
	// inside a partition.
	BatchSize int `yaml:"batch_size"`

	// MaxConcurrent bounds how many partitions execute at once.
	MaxConcurrent int `yaml:"max_concurrent"`

	// TickSoftBudget is the per-tick wall-clock budget; ticks exceeding it
	// degrade subsequent ticks to a single partition.
	TickSoftBudgetMS int64 `yaml:"tick_soft_budget_ms,omitempty"`
}

// SchedulerProfileRegistry stores scheduler profiles with thread-safe access
type SchedulerProfileRegistry struct {
	profiles map[string]*SchedulerProfileConfig
	mu       sync.RWMutex
}

// NewSchedulerProfileRegistry creates a new scheduler profile registry
func NewSchedulerProfileRegistry(profiles map[string]*SchedulerProfileConfig) *SchedulerProfileRegistry {
	copied := make(map[string]*SchedulerProfileConfig, len(profiles))
	for k, v := range profiles {
		copied[k] = v
	}
	return &SchedulerProfileRegistry{
		profiles: copied,
	}
}

// Get retrieves a scheduler profile by name (thread-safe)
func (r *SchedulerProfileRegistry) Get(name string) (*SchedulerProfileConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSchedulerProfileNotFound, name)
	}
	return profile, nil
}

// GetAll returns all scheduler profiles (thread-safe, returns copy)
func (r *SchedulerProfileRegistry) GetAll() map[string]*SchedulerProfileConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*SchedulerProfileConfig, len(r.profiles))
	for k, v := range r.profiles {
		result[k] = v
	}
	return result
}

// Has reports whether a profile with the given name is registered
func (r *SchedulerProfileRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.profiles[name]
	return ok
}

// Len returns the number of registered profiles
func (r *SchedulerProfileRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.profiles)
}
