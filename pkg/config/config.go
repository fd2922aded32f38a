package config

// Config is the umbrella configuration object that encapsulates
// all registries, defaults, and configuration state.
// This is the primary object returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// System-wide defaults and feature flags
	Defaults *Defaults

	// Queue and worker pool configuration
	Queue *QueueConfig

	// Retention and cleanup configuration
	Retention *RetentionConfig

	// Telemetry object store configuration
	Storage *StorageConfig

	// Data gateway configuration
	Gateway *GatewayConfig

	// NL-to-patch translator client configuration
	Translator *TranslatorConfig

	// Component registries
	DataSourceRegistry       *DataSourceRegistry
	SchedulerProfileRegistry *SchedulerProfileRegistry
	ActionSpaceRegistry      *ActionSpaceRegistry
}

// Stats contains statistics about loaded configuration
type Stats struct {
	DataSources       int
	SchedulerProfiles int
	ActionSpaces      int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.DataSourceRegistry != nil {
		s.DataSources = c.DataSourceRegistry.Len()
	}
	if c.SchedulerProfileRegistry != nil {
		s.SchedulerProfiles = c.SchedulerProfileRegistry.Len()
	}
	if c.ActionSpaceRegistry != nil {
		s.ActionSpaces = c.ActionSpaceRegistry.Len()
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetDataSource retrieves a data source configuration by name.
// This is a convenience method that wraps DataSourceRegistry.Get().
func (c *Config) GetDataSource(name string) (*DataSourceConfig, error) {
	return c.DataSourceRegistry.Get(name)
}

// GetSchedulerProfile retrieves a scheduler profile by name.
// This is a convenience method that wraps SchedulerProfileRegistry.Get().
func (c *Config) GetSchedulerProfile(name string) (*SchedulerProfileConfig, error) {
	return c.SchedulerProfileRegistry.Get(name)
}

// GetActionSpace retrieves an action space by name.
// This is a convenience method that wraps ActionSpaceRegistry.Get().
func (c *Config) GetActionSpace(name string) (*ActionSpaceConfig, error) {
	return c.ActionSpaceRegistry.Get(name)
}

// AllDataSourceNames returns a sorted list of configured data source names.
func (c *Config) AllDataSourceNames() []string {
	return c.DataSourceRegistry.Names()
}
