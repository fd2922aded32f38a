package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchDataSourcesReload(t *testing.T) {
	configDir := setupTestConfigDir(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := Initialize(ctx, configDir)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.DataSourceRegistry.Len())

	require.NoError(t, cfg.WatchDataSources(ctx))

	// Give the watcher time to start.
	time.Sleep(100 * time.Millisecond)

	updated := `
data_sources:
  market_feed:
    kind: http
    enabled: true
    base_url: https://feeds.example.com/v1
    timestamp_field: observed_at
  weather_archive:
    kind: dataset
    enabled: true
    dataset_path: /data/weather.json
    timestamp_field: recorded_at
`
	err = os.WriteFile(filepath.Join(configDir, "datasources.yaml"), []byte(updated), 0644)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return cfg.DataSourceRegistry.Has("weather_archive")
	}, 5*time.Second, 50*time.Millisecond, "expected reloaded registry to contain the new source")
}

func TestWatchDataSourcesKeepsRegistryOnBrokenFile(t *testing.T) {
	configDir := setupTestConfigDir(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := Initialize(ctx, configDir)
	require.NoError(t, err)
	require.NoError(t, cfg.WatchDataSources(ctx))

	time.Sleep(100 * time.Millisecond)

	err = os.WriteFile(filepath.Join(configDir, "datasources.yaml"), []byte("data_sources: ["), 0644)
	require.NoError(t, err)

	// Broken YAML must not clear the previous registry.
	time.Sleep(500 * time.Millisecond)
	assert.True(t, cfg.DataSourceRegistry.Has("market_feed"))
}
