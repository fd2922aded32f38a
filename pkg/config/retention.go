package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// RunRetentionDays is how many days to keep terminal runs before
	// soft-deleting them (setting deleted_at).
	RunRetentionDays int `yaml:"run_retention_days"`

	// PurgeAfter is how long a soft-deleted run is kept before it is
	// hard-deleted together with its telemetry blob.
	PurgeAfter time.Duration `yaml:"purge_after"`

	// EventTTL is the maximum age of run_events rows before deletion.
	// Live subscribers consume events immediately; this is a safety net.
	EventTTL time.Duration `yaml:"event_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RunRetentionDays: 365,
		PurgeAfter:       7 * 24 * time.Hour,
		EventTTL:         1 * time.Hour,
		CleanupInterval:  12 * time.Hour,
	}
}
