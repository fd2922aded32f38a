package cleanup

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/storage"
)

func TestDeleteTelemetryBlobRemovesBlob(t *testing.T) {
	ctx := context.Background()
	blobs := storage.NewMemoryStore()

	key := "telemetry/" + uuid.NewString() + "/abc123.json"
	ref, err := blobs.Put(ctx, key, []byte(`{"ticks":[]}`))
	require.NoError(t, err)

	svc := NewService(config.DefaultRetentionConfig(), nil, blobs)
	refStr := ref.String()
	require.NoError(t, svc.deleteTelemetryBlob(ctx, &refStr))

	_, err = blobs.Get(ctx, key)
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
}

func TestDeleteTelemetryBlobSkipsMissingRef(t *testing.T) {
	svc := NewService(config.DefaultRetentionConfig(), nil, storage.NewMemoryStore())

	assert.NoError(t, svc.deleteTelemetryBlob(context.Background(), nil))

	empty := ""
	assert.NoError(t, svc.deleteTelemetryBlob(context.Background(), &empty))
}

func TestDeleteTelemetryBlobSkipsUnrecognizedRef(t *testing.T) {
	svc := NewService(config.DefaultRetentionConfig(), nil, storage.NewMemoryStore())

	ref := "s3://bucket/not-a-known-namespace/abc.json"
	assert.NoError(t, svc.deleteTelemetryBlob(context.Background(), &ref))
}

func TestDeleteTelemetryBlobNilStoreIsNoop(t *testing.T) {
	svc := NewService(config.DefaultRetentionConfig(), nil, nil)

	ref := "memory://memory/telemetry/run/abc.json"
	assert.NoError(t, svc.deleteTelemetryBlob(context.Background(), &ref))
}
