// Package storage provides the pluggable blob store behind telemetry
// persistence. Keys are content-addressed by the caller, so writing the
// same bytes twice converges on a single blob in every backend.
package storage

import (
	"context"
	"errors"
	"time"
)

// Backend names a blob store implementation.
type Backend string

const (
	BackendS3         Backend = "s3"
	BackendFilesystem Backend = "filesystem"
	BackendMemory     Backend = "memory"
)

// ErrBlobNotFound is returned when a key has no stored blob.
var ErrBlobNotFound = errors.New("blob not found")

// ErrSignedURLUnsupported is returned by backends that cannot mint
// time-limited URLs; callers fall back to serving bytes directly.
var ErrSignedURLUnsupported = errors.New("signed URLs not supported by this backend")

// StorageRef locates a stored blob. It is persisted on the run row as
// telemetry_ref in "backend://container/key" form.
type StorageRef struct {
	Backend   Backend `json:"backend"`
	Container string  `json:"container"`
	Key       string  `json:"key"`
	Size      int64   `json:"size"`
}

// String renders the ref in its persisted form.
func (r StorageRef) String() string {
	return string(r.Backend) + "://" + r.Container + "/" + r.Key
}

// BlobStore stores and retrieves immutable blobs.
type BlobStore interface {
	// Put stores data under key. Idempotent for identical content keys.
	Put(ctx context.Context, key string, data []byte) (StorageRef, error)
	// Get returns the blob stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// SignedURL mints a read-only URL valid for ttl.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
