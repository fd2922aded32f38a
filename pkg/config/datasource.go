// Package config provides configuration management for the Continuum
// core: data sources, scheduler profiles, action spaces, queue and
// retention settings, and system-wide defaults.
package config

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DataSourceKind selects how a source's records are fetched.
type DataSourceKind string

const (
	DataSourceKindHTTP    DataSourceKind = "http"
	DataSourceKindDataset DataSourceKind = "dataset"
	DataSourceKindStatic  DataSourceKind = "static"
)

// DataSourceConfig describes one external data source the gateway may
// serve. A source with an empty TimestampField carries no temporal
// metadata; isolation levels 2 and 3 refuse such sources.
type DataSourceConfig struct {
	Kind                DataSourceKind `yaml:"kind"`
	Description         string         `yaml:"description,omitempty"`
	Enabled             bool           `yaml:"enabled"`
	BaseURL             string         `yaml:"base_url,omitempty"`
	DatasetPath         string         `yaml:"dataset_path,omitempty"`
	TimestampField      string         `yaml:"timestamp_field,omitempty"`
	EarliestAvailableAt *time.Time     `yaml:"earliest_available_at,omitempty"`
	RequestTimeout      time.Duration  `yaml:"request_timeout,omitempty"`
	CacheTTL            time.Duration  `yaml:"cache_ttl,omitempty"`
}

// HasTemporalMetadata reports whether records from this source can be
// filtered against a cutoff time.
func (c *DataSourceConfig) HasTemporalMetadata() bool {
	return c.TimestampField != ""
}

// DataSourceRegistry stores data source configurations with thread-safe
// access. Replace swaps the whole set atomically, which backs hot reload.
type DataSourceRegistry struct {
	sources map[string]*DataSourceConfig
	mu      sync.RWMutex
}

// NewDataSourceRegistry creates a new data source registry
func NewDataSourceRegistry(sources map[string]*DataSourceConfig) *DataSourceRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*DataSourceConfig, len(sources))
	for k, v := range sources {
		copied[k] = v
	}
	return &DataSourceRegistry{
		sources: copied,
	}
}

// Get retrieves a data source configuration by name (thread-safe)
func (r *DataSourceRegistry) Get(name string) (*DataSourceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	source, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDataSourceNotFound, name)
	}
	return source, nil
}

// GetAll returns all data source configurations (thread-safe, returns copy)
func (r *DataSourceRegistry) GetAll() map[string]*DataSourceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*DataSourceConfig, len(r.sources))
	for k, v := range r.sources {
		result[k] = v
	}
	return result
}

// Has reports whether a source with the given name is registered
func (r *DataSourceRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sources[name]
	return ok
}

// Names returns a sorted list of registered source names
func (r *DataSourceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered sources
func (r *DataSourceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sources)
}

// Replace atomically swaps the registered sources. In-flight requests keep
// the configs they already resolved.
func (r *DataSourceRegistry) Replace(sources map[string]*DataSourceConfig) {
	copied := make(map[string]*DataSourceConfig, len(sources))
	for k, v := range sources {
		copied[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = copied
}
