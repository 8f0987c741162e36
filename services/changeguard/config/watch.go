// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadDebounce is how long Watch waits after the last write before
// reloading.
const ReloadDebounce = 100 * time.Millisecond

// ReloadFunc receives each successfully reloaded configuration.
type ReloadFunc func(cfg *Config)

// Watch reloads path whenever it changes and passes valid results to fn.
//
// # Description
//
// The parent directory is watched rather than the file, so editors that
// save by rename are followed. Bursts of events are debounced. A file that
// fails to load is logged and skipped; fn keeps the last good config.
// Only hot-reloadable sections should be acted on by fn (the conflict
// thresholds); server and storage settings need a restart.
//
// # Inputs
//
//   - ctx: Watching stops when ctx is done.
//   - path: Config file to watch.
//   - fn: Called from the watcher goroutine.
//   - logger: Nil uses slog.Default().
//
// # Outputs
//
//   - error: Non-nil only when the watcher could not be started.
func Watch(ctx context.Context, path string, fn ReloadFunc, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config.Watch")

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer w.Close()

		var (
			timer   *time.Timer
			pending <-chan time.Time
		)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(ReloadDebounce)
				} else {
					timer.Reset(ReloadDebounce)
				}
				pending = timer.C

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", slog.String("error", err.Error()))

			case <-pending:
				pending = nil
				cfg, err := Load(abs)
				if err != nil {
					logger.Warn("config reload rejected",
						slog.String("path", abs),
						slog.String("error", err.Error()))
					continue
				}
				logger.Info("config reloaded", slog.String("path", abs))
				fn(cfg)
			}
		}
	}()
	return nil
}
