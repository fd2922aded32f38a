package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchDataSources watches datasources.yaml for changes and hot-reloads the
// data source registry. New and changed sources apply to subsequent gateway
// requests; in-flight runs keep the configs they already resolved.
//
// The parent directory is watched rather than the file itself so that
// editors and mounted-volume updates that replace the file atomically are
// still observed. The watcher runs until ctx is canceled.
func (c *Config) WatchDataSources(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	path := filepath.Join(c.configDir, "datasources.yaml")
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	log := slog.With("path", path)
	go func() {
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Warn("Error closing fsnotify watcher", "error", err)
			}
		}()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != "datasources.yaml" {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				sources, err := LoadDataSourcesFile(path)
				if err != nil {
					log.Warn("Ignoring data source reload, file unreadable", "error", err)
					continue
				}
				c.DataSourceRegistry.Replace(sources)
				log.Info("Data sources reloaded", "count", len(sources))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify watcher error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}
