// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package settings

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is how long to wait after the last write event before
// reloading. Editors save with multiple write/rename events; one reload
// covers the batch.
const defaultDebounce = 200 * time.Millisecond

// Watcher reloads a Manager when its settings file changes on disk.
//
// # Description
//
// Watches the file's parent directory rather than the file itself: most
// editors replace the file atomically (write temp, rename over), which
// invalidates a direct file watch. Events for the settings file are debounced
// and trigger Manager.Reload; a failed reload keeps the previous state.
type Watcher struct {
	manager  *Manager
	watcher  *fsnotify.Watcher
	debounce time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for the manager's settings file.
func NewWatcher(manager *Manager) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		manager:  manager,
		watcher:  fsw,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The watch loop exits when Stop is called or the
// context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.manager.Path())
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go w.loop(ctx)
	return nil
}

// Stop stops the watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	target := filepath.Clean(w.manager.Path())

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.manager.Reload(); err != nil {
				w.manager.logger.Warn("Settings reload failed, keeping previous state",
					"path", target,
					"error", err,
				)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.manager.logger.Warn("Settings watcher error", "error", err)
		}
	}
}
