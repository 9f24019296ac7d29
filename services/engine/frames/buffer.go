// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package frames keeps the per-session record of generated images: an
// in-memory, process-lifetime buffer feeding the end-of-run replay and the
// reference selector for image-to-image continuity.
//
// The buffer is deliberately not persisted. A process restart starts the
// visual record over; the session's world state and history survive on
// disk independently.
package frames

import (
	"sync"

	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
)

// Frame is one recorded image with the turn context the reference
// selector needs.
type Frame struct {
	Ref            datatypes.FrameRef
	Turn           int
	HardTransition bool
}

// Buffer records frames per session in append order.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Snapshot returns a copy, so
// callers can walk it without holding any lock.
type Buffer struct {
	mu       sync.RWMutex
	sessions map[string][]Frame
}

// NewBuffer returns an empty frame buffer.
func NewBuffer() *Buffer {
	return &Buffer{sessions: make(map[string][]Frame)}
}

// Append records a frame for a session.
func (b *Buffer) Append(sessionID string, f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[sessionID] = append(b.sessions[sessionID], f)
}

// Snapshot returns a copy of the session's frames, oldest first.
func (b *Buffer) Snapshot(sessionID string) []Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.sessions[sessionID]
	out := make([]Frame, len(src))
	copy(out, src)
	return out
}

// Len returns the number of frames recorded for a session.
func (b *Buffer) Len(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[sessionID])
}

// Clear drops all frames for a session. Called on restart and on session
// delete.
func (b *Buffer) Clear(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}
