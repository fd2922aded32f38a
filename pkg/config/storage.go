package config

import "time"

// StorageBackend selects the telemetry blob store implementation.
type StorageBackend string

const (
	StorageBackendS3         StorageBackend = "s3"
	StorageBackendFilesystem StorageBackend = "filesystem"
	StorageBackendMemory     StorageBackend = "memory"
)

// StorageConfig configures the telemetry object store.
type StorageConfig struct {
	Backend StorageBackend `yaml:"backend"`

	// S3 settings; Endpoint overrides the AWS endpoint for S3-compatible
	// stores (minio and friends).
	Bucket    string `yaml:"bucket,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	KeyPrefix string `yaml:"key_prefix,omitempty"`

	// SignedURLTTL bounds the lifetime of presigned read URLs.
	SignedURLTTL time.Duration `yaml:"signed_url_ttl"`

	// Root directory for the filesystem backend.
	FilesystemRoot string `yaml:"filesystem_root,omitempty"`
}

// DefaultStorageConfig returns the built-in storage defaults.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Backend:        StorageBackendFilesystem,
		KeyPrefix:      "telemetry",
		SignedURLTTL:   15 * time.Minute,
		FilesystemRoot: "./data/telemetry",
	}
}
