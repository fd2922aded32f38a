package config

import (
	"fmt"
	"sync"
)

// ActionSpaceKind classifies how agents choose actions.
type ActionSpaceKind string

const (
	ActionSpaceDiscrete   ActionSpaceKind = "discrete"
	ActionSpaceContinuous ActionSpaceKind = "continuous"
	ActionSpaceHybrid     ActionSpaceKind = "hybrid"
)

// ActionDefinitionConfig enumerates one discrete action: its
// preconditions gate the action mask, its effects are applied on ACT, and
// its reward components feed the weighted reward.
type ActionDefinitionConfig struct {
	Type             string             `yaml:"type"`
	Name             string             `yaml:"name"`
	Parameters       map[string]float64 `yaml:"parameters,omitempty"`
	Preconditions    []string           `yaml:"preconditions,omitempty"`
	Effects          map[string]float64 `yaml:"effects,omitempty"`
	RewardComponents map[string]float64 `yaml:"reward_components,omitempty"`
}

// ContinuousRangeConfig bounds one dimension of a continuous or hybrid
// action vector.
type ContinuousRangeConfig struct {
	Name string  `yaml:"name"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
}

// ActionSpaceConfig describes the actions available to agents in a run.
type ActionSpaceConfig struct {
	Kind             ActionSpaceKind          `yaml:"kind"`
	Description      string                   `yaml:"description,omitempty"`
	Actions          []ActionDefinitionConfig `yaml:"actions,omitempty"`
	ContinuousRanges []ContinuousRangeConfig  `yaml:"continuous_ranges,omitempty"`

	// ComponentWeights weight the named reward components when folding
	// per-action rewards into a scalar.
	ComponentWeights map[string]float64 `yaml:"component_weights,omitempty"`

	// SoftmaxTemperature > 0 samples decisions; 0 selects argmax.
	SoftmaxTemperature float64 `yaml:"softmax_temperature,omitempty"`
}

// ActionSpaceRegistry stores action space configurations with thread-safe access
type ActionSpaceRegistry struct {
	spaces map[string]*ActionSpaceConfig
	mu     sync.RWMutex
}

// NewActionSpaceRegistry creates a new action space registry
func NewActionSpaceRegistry(spaces map[string]*ActionSpaceConfig) *ActionSpaceRegistry {
	copied := make(map[string]*ActionSpaceConfig, len(spaces))
	for k, v := range spaces {
		copied[k] = v
	}
	return &ActionSpaceRegistry{
		spaces: copied,
	}
}

// Get retrieves an action space by name (thread-safe)
func (r *ActionSpaceRegistry) Get(name string) (*ActionSpaceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	space, ok := r.spaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionSpaceNotFound, name)
	}
	return space, nil
}

// GetAll returns all action spaces (thread-safe, returns copy)
func (r *ActionSpaceRegistry) GetAll() map[string]*ActionSpaceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ActionSpaceConfig, len(r.spaces))
	for k, v := range r.spaces {
		result[k] = v
	}
	return result
}

// Has reports whether a space with the given name is registered
func (r *ActionSpaceRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.spaces[name]
	return ok
}

// Len returns the number of registered action spaces
func (r *ActionSpaceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.spaces)
}
