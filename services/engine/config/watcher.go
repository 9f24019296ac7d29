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
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Manager serves the live configuration and reloads it when the file
// changes on disk. A reload that fails validation is discarded; the last
// good configuration stays in effect.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg Config

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewManager loads the initial configuration and starts watching path.
// An empty path yields a static manager serving the defaults.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path, cfg: cfg, done: make(chan struct{})}
	if path == "" {
		return m, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	// Watch the directory, not the file: editors and configmap mounts
	// replace the file by rename, which drops a direct file watch.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}
	m.watcher = w
	go m.watch()
	return m, nil
}

// Get returns a snapshot of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Close stops the watcher.
func (m *Manager) Close() error {
	close(m.done)
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) watch() {
	target := filepath.Clean(m.path)
	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			m.reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		slog.Error("config reload rejected, keeping previous", "path", m.path, "error", err)
		return
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	slog.Info("config reloaded", "path", m.path)
}
