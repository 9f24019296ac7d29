// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTale/services/engine/clock"
	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIntro = "You wake in a fog-drowned harbor town."

func newTestStore(t *testing.T) (*Store, *clock.FakeWall) {
	t.Helper()
	wall := clock.NewFakeWall(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s, err := New(t.TempDir(), testIntro, wall)
	require.NoError(t, err)
	return s, wall
}

func TestLoadStateCreatesDefaults(t *testing.T) {
	s, _ := newTestStore(t)

	st, err := s.LoadState("fresh")
	require.NoError(t, err)

	assert.Equal(t, testIntro, st.WorldPrompt)
	assert.Equal(t, 0, st.TurnCount)
	assert.True(t, st.PlayerState.Alive)
	assert.Equal(t, 100, st.PlayerState.Health)
	assert.Empty(t, st.RecentEvents)

	// The default was written out, so the file exists afterwards.
	_, err = os.Stat(s.statePath("fresh"))
	assert.NoError(t, err)

	// Layout directories are created on first access.
	for _, dir := range []string{
		s.ImagesDir("fresh"), s.TapesDir("fresh"),
		s.FilmsSegmentsDir("fresh"), s.FilmsFinalDir("fresh"),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestSaveStateRoundTrip(t *testing.T) {
	s, wall := newTestStore(t)

	st, err := s.LoadState("rt")
	require.NoError(t, err)

	st.TurnCount = 7
	st.LastChoice = "open the hatch"
	st.RecentEvents = append(st.RecentEvents, "Turn 7: opened the hatch")
	require.NoError(t, s.SaveState("rt", st))

	got, err := s.LoadState("rt")
	require.NoError(t, err)
	assert.Equal(t, 7, got.TurnCount)
	assert.Equal(t, "open the hatch", got.LastChoice)
	assert.Equal(t, wall.Now(), got.LastSaved)

	// No temp file left behind.
	_, err = os.Stat(s.statePath("rt") + ".tmp")
	assert.True(t, os.IsNotExist(err))

	// Metadata mirrors the state.
	meta, err := s.GetMetadata("rt")
	require.NoError(t, err)
	assert.Equal(t, 7, meta.TurnCount)
	assert.True(t, meta.PlayerAlive)
}

func TestLoadStateCorruptFileResets(t *testing.T) {
	s, _ := newTestStore(t)

	st, err := s.LoadState("corrupt")
	require.NoError(t, err)
	st.TurnCount = 5
	require.NoError(t, s.SaveState("corrupt", st))

	require.NoError(t, os.WriteFile(s.statePath("corrupt"), []byte("{not json"), 0o640))

	got, err := s.LoadState("corrupt")
	require.NoError(t, err)
	assert.Equal(t, 0, got.TurnCount)
	assert.Equal(t, testIntro, got.WorldPrompt)
}

func TestInvalidSessionIDRejected(t *testing.T) {
	s, _ := newTestStore(t)

	for _, id := range []string{"", "..", "a/b", "a b"} {
		_, err := s.LoadState(id)
		assert.ErrorIs(t, err, datatypes.ErrInvalidInput, "id=%q", id)
	}
}

func TestHistoryAppendAndTail(t *testing.T) {
	s, wall := newTestStore(t)

	got, err := s.LoadHistory("h")
	require.NoError(t, err)
	assert.Empty(t, got)

	for i := 1; i <= 5; i++ {
		err := s.AppendHistory("h", datatypes.HistoryEntry{
			Turn:      i,
			Choice:    "step",
			Fate:      datatypes.FateNormal,
			CreatedAt: wall.Now(),
		})
		require.NoError(t, err)
	}

	all, err := s.LoadHistory("h")
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, 1, all[0].Turn)
	assert.Equal(t, 5, all[4].Turn)

	tail, err := s.GetHistory("h", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, 4, tail[0].Turn)
	assert.Equal(t, 5, tail[1].Turn)

	full, err := s.GetHistory("h", 0)
	require.NoError(t, err)
	assert.Len(t, full, 5)
}

func TestCreateSessionExplicit(t *testing.T) {
	s, _ := newTestStore(t)

	meta, err := s.CreateSession("Harbor Run", "a short run", "harbor-1")
	require.NoError(t, err)
	assert.Equal(t, "harbor-1", meta.SessionID)
	assert.Equal(t, "Harbor Run", meta.Name)
	assert.True(t, meta.PlayerAlive)

	// Same explicit id again collides.
	_, err = s.CreateSession("Other", "", "harbor-1")
	assert.ErrorIs(t, err, datatypes.ErrAlreadyExists)

	// Generated ids are valid and unique.
	a, err := s.CreateSession("A", "", "")
	require.NoError(t, err)
	b, err := s.CreateSession("B", "", "")
	require.NoError(t, err)
	assert.NotEqual(t, a.SessionID, b.SessionID)
}

func TestListSessionsSorting(t *testing.T) {
	s, wall := newTestStore(t)

	_, err := s.CreateSession("bravo", "", "s-bravo")
	require.NoError(t, err)
	wall.Advance(time.Minute)
	_, err = s.CreateSession("alpha", "", "s-alpha")
	require.NoError(t, err)

	byName, err := s.ListSessions("name", 0)
	require.NoError(t, err)
	require.Len(t, byName, 2)
	assert.Equal(t, "alpha", byName[0].Name)

	byAccess, err := s.ListSessions("", 0)
	require.NoError(t, err)
	assert.Equal(t, "s-alpha", byAccess[0].SessionID)

	limited, err := s.ListSessions("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteSession(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.CreateSession("doomed", "", "doomed")
	require.NoError(t, err)
	require.NoError(t, s.DeleteSession("doomed"))

	_, err = os.Stat(filepath.Join(s.root, "sessions", "doomed"))
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, s.DeleteSession("doomed"), datatypes.ErrNotFound)
	assert.ErrorIs(t, s.DeleteSession(datatypes.DefaultSessionID), datatypes.ErrInvalidInput)
}

func TestResetKeepsMetadataClearsProgress(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.CreateSession("Run", "", "r1")
	require.NoError(t, err)

	st, err := s.LoadState("r1")
	require.NoError(t, err)
	st.TurnCount = 12
	st.PlayerState.Alive = false
	require.NoError(t, s.SaveState("r1", st))
	require.NoError(t, s.AppendHistory("r1", datatypes.HistoryEntry{Turn: 12}))

	require.NoError(t, s.Reset("r1"))

	got, err := s.LoadState("r1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.TurnCount)
	assert.True(t, got.PlayerState.Alive)
	assert.Equal(t, testIntro, got.WorldPrompt)

	hist, err := s.LoadHistory("r1")
	require.NoError(t, err)
	assert.Empty(t, hist)

	meta, err := s.GetMetadata("r1")
	require.NoError(t, err)
	assert.Equal(t, "Run", meta.Name)
	assert.Equal(t, 0, meta.TurnCount)
}

func TestLockSerializesSameSession(t *testing.T) {
	s, _ := newTestStore(t)

	unlock := s.Lock("serial")
	acquired := make(chan struct{})
	go func() {
		u := s.Lock("serial")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after release")
	}
}
