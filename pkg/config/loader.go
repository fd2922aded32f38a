package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ContinuumYAMLConfig represents the complete continuum.yaml file structure
type ContinuumYAMLConfig struct {
	System            *SystemYAMLConfig                  `yaml:"system"`
	SchedulerProfiles map[string]*SchedulerProfileConfig `yaml:"scheduler_profiles"`
	ActionSpaces      map[string]*ActionSpaceConfig      `yaml:"action_spaces"`
	Defaults          *Defaults                          `yaml:"defaults"`
	Queue             *QueueConfig                       `yaml:"queue"`
}

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	Retention  *RetentionConfig  `yaml:"retention"`
	Storage    *StorageConfig    `yaml:"storage"`
	Gateway    *GatewayConfig    `yaml:"gateway"`
	Translator *TranslatorConfig `yaml:"translator"`
}

// DataSourcesYAMLConfig represents the complete datasources.yaml file structure
type DataSourcesYAMLConfig struct {
	DataSources map[string]*DataSourceConfig `yaml:"data_sources"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations
//  5. Build in-memory registries
//  6. Apply default values
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"data_sources", stats.DataSources,
		"scheduler_profiles", stats.SchedulerProfiles,
		"action_spaces", stats.ActionSpaces)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load continuum.yaml (scheduler profiles, action spaces, defaults, queue, system)
	mainConfig, err := loader.loadContinuumYAML()
	if err != nil {
		return nil, NewLoadError("continuum.yaml", err)
	}

	// 2. Load datasources.yaml (optional; a missing file means no external sources)
	dataSources, err := loader.loadDataSourcesYAML()
	if err != nil {
		return nil, NewLoadError("datasources.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge built-in + user-defined components (user overrides built-in)
	profiles := mergeSchedulerProfiles(builtin.SchedulerProfiles, mainConfig.SchedulerProfiles)
	spaces := mergeActionSpaces(builtin.ActionSpaces, mainConfig.ActionSpaces)

	// 5. Build registries
	dataSourceRegistry := NewDataSourceRegistry(dataSources)
	profileRegistry := NewSchedulerProfileRegistry(profiles)
	actionSpaceRegistry := NewActionSpaceRegistry(spaces)

	// 6. Resolve defaults (YAML overrides built-in)
	defaults := resolveDefaults(mainConfig.Defaults, builtin)

	// Resolve queue config (merge user YAML with built-in defaults)
	queueConfig := DefaultQueueConfig()
	if mainConfig.Queue != nil {
		if err := mergo.Merge(queueConfig, mainConfig.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	// Resolve system config (retention, storage, gateway, translator)
	retentionCfg := resolveRetentionConfig(mainConfig.System)
	storageCfg, err := resolveStorageConfig(mainConfig.System)
	if err != nil {
		return nil, err
	}
	gatewayCfg, err := resolveGatewayConfig(mainConfig.System)
	if err != nil {
		return nil, err
	}
	translatorCfg, err := resolveTranslatorConfig(mainConfig.System)
	if err != nil {
		return nil, err
	}

	return &Config{
		configDir:                configDir,
		Defaults:                 defaults,
		Queue:                    queueConfig,
		Retention:                retentionCfg,
		Storage:                  storageCfg,
		Gateway:                  gatewayCfg,
		Translator:               translatorCfg,
		DataSourceRegistry:       dataSourceRegistry,
		SchedulerProfileRegistry: profileRegistry,
		ActionSpaceRegistry:      actionSpaceRegistry,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadContinuumYAML() (*ContinuumYAMLConfig, error) {
	var config ContinuumYAMLConfig

	// Initialize maps to avoid nil maps
	config.SchedulerProfiles = make(map[string]*SchedulerProfileConfig)
	config.ActionSpaces = make(map[string]*ActionSpaceConfig)

	if err := l.loadYAML("continuum.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadDataSourcesYAML() (map[string]*DataSourceConfig, error) {
	sources, err := LoadDataSourcesFile(filepath.Join(l.configDir, "datasources.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*DataSourceConfig{}, nil
		}
		return nil, err
	}
	return sources, nil
}

// LoadDataSourcesFile parses a datasources.yaml file. Shared with the hot
// reload watcher so both paths agree on env expansion and structure.
func LoadDataSourcesFile(path string) (map[string]*DataSourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = ExpandEnv(data)

	var config DataSourcesYAMLConfig
	config.DataSources = make(map[string]*DataSourceConfig)
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return config.DataSources, nil
}

func mergeSchedulerProfiles(builtin, user map[string]*SchedulerProfileConfig) map[string]*SchedulerProfileConfig {
	merged := make(map[string]*SchedulerProfileConfig, len(builtin)+len(user))
	for name, profile := range builtin {
		merged[name] = profile
	}
	for name, profile := range user {
		merged[name] = profile
	}
	return merged
}

func mergeActionSpaces(builtin, user map[string]*ActionSpaceConfig) map[string]*ActionSpaceConfig {
	merged := make(map[string]*ActionSpaceConfig, len(builtin)+len(user))
	for name, space := range builtin {
		merged[name] = space
	}
	for name, space := range user {
		merged[name] = space
	}
	return merged
}

// resolveDefaults resolves system defaults from YAML, applying built-in
// values for anything unset.
func resolveDefaults(user *Defaults, builtin *BuiltinConfig) *Defaults {
	defaults := user
	if defaults == nil {
		defaults = &Defaults{}
	}

	if defaults.ProductMode == "" {
		defaults.ProductMode = builtin.DefaultProductMode
	}
	if defaults.IsolationLevel == 0 {
		defaults.IsolationLevel = builtin.DefaultIsolationLevel
	}
	if defaults.KeyframeInterval == 0 {
		defaults.KeyframeInterval = builtin.DefaultKeyframeInterval
	}
	if defaults.SeedStrategy == "" {
		defaults.SeedStrategy = builtin.DefaultSeedStrategy
	}
	if defaults.SchedulerProfile == "" {
		defaults.SchedulerProfile = builtin.DefaultProfileName
	}
	if defaults.ActionSpace == "" {
		defaults.ActionSpace = builtin.DefaultActionSpaceName
	}
	if defaults.FaultTolerance == 0 {
		defaults.FaultTolerance = builtin.DefaultFaultTolerance
	}
	if defaults.ReliabilityWeights == nil {
		weights := builtin.DefaultWeights
		defaults.ReliabilityWeights = &weights
	}

	return defaults
}

// resolveRetentionConfig resolves retention configuration from system YAML, applying defaults.
func resolveRetentionConfig(sys *SystemYAMLConfig) *RetentionConfig {
	cfg := DefaultRetentionConfig()

	if sys == nil || sys.Retention == nil {
		return cfg
	}

	r := sys.Retention
	if r.RunRetentionDays > 0 {
		cfg.RunRetentionDays = r.RunRetentionDays
	}
	if r.PurgeAfter > 0 {
		cfg.PurgeAfter = r.PurgeAfter
	}
	if r.EventTTL > 0 {
		cfg.EventTTL = r.EventTTL
	}
	if r.CleanupInterval > 0 {
		cfg.CleanupInterval = r.CleanupInterval
	}

	return cfg
}

// resolveStorageConfig resolves storage configuration from system YAML, applying defaults.
func resolveStorageConfig(sys *SystemYAMLConfig) (*StorageConfig, error) {
	cfg := DefaultStorageConfig()

	if sys == nil || sys.Storage == nil {
		return cfg, nil
	}

	if err := mergo.Merge(cfg, sys.Storage, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge storage config: %w", err)
	}
	return cfg, nil
}

// resolveGatewayConfig resolves gateway configuration from system YAML, applying defaults.
func resolveGatewayConfig(sys *SystemYAMLConfig) (*GatewayConfig, error) {
	cfg := DefaultGatewayConfig()

	if sys == nil || sys.Gateway == nil {
		return cfg, nil
	}

	if err := mergo.Merge(cfg, sys.Gateway, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge gateway config: %w", err)
	}
	return cfg, nil
}

// resolveTranslatorConfig resolves translator configuration from system YAML, applying defaults.
func resolveTranslatorConfig(sys *SystemYAMLConfig) (*TranslatorConfig, error) {
	cfg := DefaultTranslatorConfig()

	if sys == nil || sys.Translator == nil {
		return cfg, nil
	}

	if err := mergo.Merge(cfg, sys.Translator, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge translator config: %w", err)
	}
	return cfg, nil
}
