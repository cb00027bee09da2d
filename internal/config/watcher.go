// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG FILE WATCHER
// =============================================================================

// ReloadFunc is invoked after a config file change has been reloaded.
// cfg is the freshly loaded configuration; err is non-nil when the changed
// file failed to load (the previous config stays in effect).
type ReloadFunc func(cfg *Config, err error)

// Watcher watches the config directory and reloads the global configuration
// when config.toml or config.json changes.
//
// The directory is watched rather than the files: saves are atomic
// rename-into-place, which replaces the inode a file watch would be bound to.
type Watcher struct {
	watcher  *fsnotify.Watcher
	onReload ReloadFunc
	debounce time.Duration
	mu       sync.Mutex
	pending  map[string]time.Time // config path -> last change time
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewWatcher creates a config watcher. onReload may be nil.
func NewWatcher(debounce time.Duration, onReload ReloadFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		watcher:  fsw,
		onReload: onReload,
		debounce: debounce,
		pending:  make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Watch starts watching the config directory for changes.
func (w *Watcher) Watch() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go w.processEvents()
	go w.processPending()

	return nil
}

// processEvents filters filesystem events down to config file changes.
func (w *Watcher) processEvents() {
	defer func() {
		// A panicking watcher should not take the process down
		if r := recover(); r != nil {
			_ = r
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if !isConfigFile(event.Name) {
				continue
			}

			// Write covers in-place edits; Create/Rename cover atomic saves
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending[event.Name] = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			_ = err // Non-fatal
		}
	}
}

// processPending reloads once the debounce window has passed with no
// further changes. Editors often emit several events per save.
func (w *Watcher) processPending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()

			w.mu.Lock()
			ready := false
			for path, changeTime := range w.pending {
				if now.Sub(changeTime) >= w.debounce {
					delete(w.pending, path)
					ready = true
				}
			}
			w.mu.Unlock()

			if ready {
				w.reload()
			}
		}
	}
}

// reload refreshes the global config and notifies the callback.
func (w *Watcher) reload() {
	err := ReloadGlobal()
	if w.onReload != nil {
		w.onReload(Global(), err)
	}
}

// isConfigFile reports whether path names one of the config files.
func isConfigFile(path string) bool {
	base := filepath.Base(path)
	return base == "config.toml" || base == "config.json"
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
