// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store owns the on-disk session layout and provides atomic,
// serialized access to state, metadata, and turn history.
//
// # Directory Layout
//
// Every session id S owns the subtree:
//
//	sessions/S/
//	  meta.json
//	  state.json
//	  history.json
//	  images/
//	  tapes/
//	  films/segments/
//	  films/final/
//
// # Atomicity
//
// state.json, history.json, and meta.json are always written via the
// temp-rename protocol: marshal to a sibling *.tmp file, fsync, then
// rename over the target. A reader observes either the old file or the
// new file, never a partial write.
//
// # Concurrency
//
// The store keeps one mutex per session id. Multi-step read-modify-write
// sequences (the turn pipeline's commit section) acquire it explicitly via
// Lock; the single-shot lifecycle operations (CreateSession, Reset,
// DeleteSession) lock internally. Operations on distinct sessions never
// contend.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianTale/pkg/validation"
	"github.com/AleutianAI/AleutianTale/services/engine/clock"
	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
	"github.com/google/uuid"
)

// metadataVersion is stamped into meta.json so future layout migrations
// can detect old sessions.
const metadataVersion = "1"

// Store implements the session store over a data-root directory.
type Store struct {
	root  string
	intro string
	wall  clock.Wall

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Store rooted at dataDir. introPrompt seeds the
// world_prompt of fresh sessions.
func New(dataDir, introPrompt string, wall clock.Wall) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "sessions"), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data root: %w", err)
	}
	return &Store{
		root:  dataDir,
		intro: introPrompt,
		wall:  wall,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// =============================================================================
// Locking
// =============================================================================

// Lock acquires the per-session mutex and returns the matching unlock
// function. The turn pipeline holds this lock across its whole
// read-modify-rename sequence, including the world-evolver call.
func (s *Store) Lock(id string) (unlock func()) {
	m := s.mutexFor(id)
	m.Lock()
	return m.Unlock
}

func (s *Store) mutexFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

// =============================================================================
// Paths
// =============================================================================

func (s *Store) sessionDir(id string) string {
	return filepath.Join(s.root, "sessions", id)
}

// ImagesDir returns the directory holding a session's generated frames.
func (s *Store) ImagesDir(id string) string { return filepath.Join(s.sessionDir(id), "images") }

// TapesDir returns the directory holding a session's replay artifacts.
func (s *Store) TapesDir(id string) string { return filepath.Join(s.sessionDir(id), "tapes") }

// FilmsSegmentsDir returns the directory for optional video clips.
func (s *Store) FilmsSegmentsDir(id string) string {
	return filepath.Join(s.sessionDir(id), "films", "segments")
}

// FilmsFinalDir returns the directory for stitched video outputs.
func (s *Store) FilmsFinalDir(id string) string {
	return filepath.Join(s.sessionDir(id), "films", "final")
}

func (s *Store) statePath(id string) string   { return filepath.Join(s.sessionDir(id), "state.json") }
func (s *Store) historyPath(id string) string { return filepath.Join(s.sessionDir(id), "history.json") }
func (s *Store) metaPath(id string) string    { return filepath.Join(s.sessionDir(id), "meta.json") }

func (s *Store) ensureLayout(id string) error {
	for _, dir := range []string{
		s.ImagesDir(id),
		s.TapesDir(id),
		s.FilmsSegmentsDir(id),
		s.FilmsFinalDir(id),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create session layout for %s: %w", id, err)
		}
	}
	return nil
}

// Exists reports whether a session directory with metadata is present.
func (s *Store) Exists(id string) bool {
	if err := validation.ValidateSessionID(id); err != nil {
		return false
	}
	_, err := os.Stat(s.metaPath(id))
	return err == nil
}

// =============================================================================
// State
// =============================================================================

// LoadState returns the current world state for a session, creating the
// session implicitly on first access. A missing or unparseable state file
// yields a fresh default state which is immediately written out; the
// caller never sees a partial state.
//
// The caller must hold the session lock (Lock) when LoadState is part of a
// read-modify-write sequence.
func (s *Store) LoadState(id string) (*datatypes.WorldState, error) {
	if err := validation.ValidateSessionID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", datatypes.ErrInvalidInput, err)
	}
	if err := s.ensureLayout(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.statePath(id))
	if err == nil {
		var st datatypes.WorldState
		if jerr := json.Unmarshal(data, &st); jerr == nil {
			return &st, nil
		}
		slog.Warn("state file unparseable, resetting to defaults",
			"session_id", id, "path", s.statePath(id))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read state for %s: %w", id, err)
	}

	st := datatypes.NewWorldState(s.intro)
	if err := s.SaveState(id, st); err != nil {
		return nil, err
	}
	return st, nil
}

// SaveState serializes the state to state.json.tmp, fsyncs, and renames
// over state.json. It stamps last_saved, touches meta.last_accessed, and
// mirrors turn_count and player_alive into the metadata.
//
// The caller must hold the session lock.
func (s *Store) SaveState(id string, st *datatypes.WorldState) error {
	if err := validation.ValidateSessionID(id); err != nil {
		return fmt.Errorf("%w: %v", datatypes.ErrInvalidInput, err)
	}
	if err := s.ensureLayout(id); err != nil {
		return err
	}

	st.LastSaved = s.wall.Now()
	if err := writeJSONAtomic(s.statePath(id), st); err != nil {
		return fmt.Errorf("failed to save state for %s: %w", id, err)
	}
	s.touchMetadata(id, st)
	return nil
}

// touchMetadata refreshes the mirrored fields in meta.json, creating the
// record on implicit first access. Metadata is advisory; failures are
// logged, not propagated.
func (s *Store) touchMetadata(id string, st *datatypes.WorldState) {
	meta, err := s.GetMetadata(id)
	if err != nil {
		meta = &datatypes.SessionMetadata{
			SessionID: id,
			Name:      id,
			CreatedAt: s.wall.Now(),
			Version:   metadataVersion,
		}
	}
	meta.LastAccessed = s.wall.Now()
	meta.TurnCount = st.TurnCount
	meta.PlayerAlive = st.PlayerState.Alive
	if err := writeJSONAtomic(s.metaPath(id), meta); err != nil {
		slog.Error("failed to update session metadata", "session_id", id, "error", err)
	}
}

// =============================================================================
// History
// =============================================================================

// LoadHistory returns all history entries for a session, oldest first.
// A missing file is an empty history; an unparseable file is a disk-level
// failure surfaced to the caller.
func (s *Store) LoadHistory(id string) ([]datatypes.HistoryEntry, error) {
	if err := validation.ValidateSessionID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", datatypes.ErrInvalidInput, err)
	}

	data, err := os.ReadFile(s.historyPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return []datatypes.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", id, err)
	}
	var entries []datatypes.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse history for %s: %w", id, err)
	}
	return entries, nil
}

// AppendHistory appends one completed-turn record. The write is atomic;
// on any error nothing is appended and the caller must abort the turn.
//
// The caller must hold the session lock.
func (s *Store) AppendHistory(id string, entry datatypes.HistoryEntry) error {
	entries, err := s.LoadHistory(id)
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	if err := writeJSONAtomic(s.historyPath(id), entries); err != nil {
		return fmt.Errorf("failed to append history for %s: %w", id, err)
	}
	return nil
}

// GetHistory returns the last n entries (all entries when n <= 0).
func (s *Store) GetHistory(id string, n int) ([]datatypes.HistoryEntry, error) {
	entries, err := s.LoadHistory(id)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// =============================================================================
// Session Lifecycle
// =============================================================================

// CreateSession creates a session explicitly. When id is empty a v4 UUID
// is generated; an explicit id that already exists fails with
// ErrAlreadyExists.
func (s *Store) CreateSession(name, description, id string) (*datatypes.SessionMetadata, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := validation.ValidateSessionID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", datatypes.ErrInvalidInput, err)
	}

	unlock := s.Lock(id)
	defer unlock()

	if _, err := os.Stat(s.metaPath(id)); err == nil {
		return nil, fmt.Errorf("%w: session %s", datatypes.ErrAlreadyExists, id)
	}
	if err := s.ensureLayout(id); err != nil {
		return nil, err
	}

	now := s.wall.Now()
	meta := &datatypes.SessionMetadata{
		SessionID:    id,
		Name:         name,
		Description:  description,
		CreatedAt:    now,
		LastAccessed: now,
		PlayerAlive:  true,
		Version:      metadataVersion,
	}
	if err := writeJSONAtomic(s.metaPath(id), meta); err != nil {
		return nil, fmt.Errorf("failed to write metadata for %s: %w", id, err)
	}

	st := datatypes.NewWorldState(s.intro)
	st.LastSaved = now
	if err := writeJSONAtomic(s.statePath(id), st); err != nil {
		return nil, fmt.Errorf("failed to write state for %s: %w", id, err)
	}
	if err := writeJSONAtomic(s.historyPath(id), []datatypes.HistoryEntry{}); err != nil {
		return nil, fmt.Errorf("failed to write history for %s: %w", id, err)
	}

	slog.Info("session created", "session_id", id, "name", name)
	return meta, nil
}

// GetMetadata returns the stored metadata for a session.
func (s *Store) GetMetadata(id string) (*datatypes.SessionMetadata, error) {
	if err := validation.ValidateSessionID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", datatypes.ErrInvalidInput, err)
	}
	data, err := os.ReadFile(s.metaPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: session %s", datatypes.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata for %s: %w", id, err)
	}
	var meta datatypes.SessionMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata for %s: %w", id, err)
	}
	return &meta, nil
}

// ListSessions returns metadata for all sessions, sorted by sortKey
// ("name", "created_at", or the default "last_accessed"; time keys sort
// newest first) and truncated to limit when limit > 0.
func (s *Store) ListSessions(sortKey string, limit int) ([]datatypes.SessionMetadata, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var out []datatypes.SessionMetadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.GetMetadata(e.Name())
		if err != nil {
			slog.Warn("skipping session with unreadable metadata",
				"session_id", e.Name(), "error", err)
			continue
		}
		out = append(out, *meta)
	}

	switch sortKey {
	case "name":
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	case "created_at":
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	default:
		sort.Slice(out, func(i, j int) bool { return out[i].LastAccessed.After(out[j].LastAccessed) })
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteSession removes the entire session directory, including images,
// tapes, and films. The reserved id "default" is refused.
func (s *Store) DeleteSession(id string) error {
	if err := validation.ValidateSessionID(id); err != nil {
		return fmt.Errorf("%w: %v", datatypes.ErrInvalidInput, err)
	}
	if id == datatypes.DefaultSessionID {
		return fmt.Errorf("%w: the default session cannot be deleted", datatypes.ErrInvalidInput)
	}

	unlock := s.Lock(id)
	defer unlock()

	if _, err := os.Stat(s.sessionDir(id)); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: session %s", datatypes.ErrNotFound, id)
	}
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()

	slog.Info("session deleted", "session_id", id)
	return nil
}

// Reset rewrites a session to its defaults: fresh state, empty history,
// turn count zero, player alive. Metadata survives. Used by the restart
// orchestrator.
func (s *Store) Reset(id string) error {
	if err := validation.ValidateSessionID(id); err != nil {
		return fmt.Errorf("%w: %v", datatypes.ErrInvalidInput, err)
	}

	unlock := s.Lock(id)
	defer unlock()

	if err := s.ensureLayout(id); err != nil {
		return err
	}
	st := datatypes.NewWorldState(s.intro)
	st.LastSaved = s.wall.Now()
	if err := writeJSONAtomic(s.statePath(id), st); err != nil {
		return fmt.Errorf("failed to reset state for %s: %w", id, err)
	}
	if err := writeJSONAtomic(s.historyPath(id), []datatypes.HistoryEntry{}); err != nil {
		return fmt.Errorf("failed to reset history for %s: %w", id, err)
	}
	s.touchMetadata(id, st)

	slog.Info("session reset", "session_id", id)
	return nil
}

// =============================================================================
// Atomic Write Helper
// =============================================================================

// writeJSONAtomic marshals v and writes it through the temp-rename
// protocol: sibling *.tmp, fsync, rename. Readers never observe a partial
// file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
