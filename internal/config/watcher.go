package config

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration whenever a YAML file under the config
// directory changes on disk, so external edits take effect without a restart.
// Events are debounced: editors tend to emit several writes per save.
func Watch(ctx context.Context, logger *slog.Logger, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(BaseDir()); err != nil {
		return err
	}
	for name := range GetProfiles() {
		if err := watcher.Add(BaseDir() + "/" + name); err != nil {
			logger.Warn("Could not watch profile directory", slog.String("profile", name), slog.Any("error", err))
		}
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".yaml") || !ev.Op.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				if err := Load(); err != nil {
					logger.Warn("Config reload failed, keeping previous config", slog.Any("error", err))
					return
				}
				logger.Info("Configuration reloaded", slog.String("file", ev.Name))
				if onReload != nil {
					onReload()
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", slog.Any("error", err))
		}
	}
}
