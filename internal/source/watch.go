// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package source

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"sqlgate/cli/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay debounces bursts of editor writes into one reload.
const reloadDelay = 250 * time.Millisecond

// Watch reloads the cache whenever a .sql file in the directory changes,
// until ctx is cancelled. It only applies to cached mode on the OS filesystem.
// The returned channel is closed when the watcher stops.
func (r *Resolver) Watch(ctx context.Context) (<-chan struct{}, error) {
	if !r.cached {
		return nil, errors.New("watch requires cached mode")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	absDir, err := filepath.Abs(r.dir)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := watcher.Add(absDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer watcher.Close()

		timer := time.NewTimer(reloadDelay)
		timer.Stop()
		var reload <-chan time.Time

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isSQLFile(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					timer.Reset(reloadDelay)
					reload = timer.C
				}

			case <-reload:
				reload = nil
				if err := r.Load(); err != nil {
					r.logger.Warn("sql reload failed", r.logger.Args("dir", r.dir, "error", logging.Err(err)))
					continue
				}
				r.logger.Info("sql sources reloaded", r.logger.Args("dir", r.dir))

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("sql watch error", r.logger.Args("error", err.Error()))

			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()

	return done, nil
}
