// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTale/services/engine/clock"
	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
	"github.com/AleutianAI/AleutianTale/services/engine/frames"
	"github.com/AleutianAI/AleutianTale/services/engine/generators"
	"github.com/AleutianAI/AleutianTale/services/engine/lore"
	"github.com/AleutianAI/AleutianTale/services/engine/routes"
	"github.com/AleutianAI/AleutianTale/services/engine/scheduler"
	"github.com/AleutianAI/AleutianTale/services/engine/store"
	"github.com/AleutianAI/AleutianTale/services/engine/turn"
	"github.com/AleutianAI/AleutianTale/services/engine/world"
)

type apiRig struct {
	router    *gin.Engine
	store     *store.Store
	narrative *generators.StubNarrative
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	wall := clock.NewFakeWall(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	st, err := store.New(t.TempDir(), "A drowned city at dusk.", wall)
	require.NoError(t, err)

	fb := frames.NewBuffer()
	narrative := &generators.StubNarrative{}
	pipeline := turn.New(
		st, fb,
		world.NewEvolver(&generators.StubEvolver{}, &generators.StubExtractor{}),
		narrative, &generators.StubImage{}, &generators.StubChoices{},
		wall,
		func() datatypes.Fate { return datatypes.FateNormal },
		turn.Config{},
	)
	sched := scheduler.New(st, pipeline, fb, clock.NewFakeMonotonic(), wall, scheduler.Config{})

	loreCache, err := lore.Open("", func(ctx context.Context, element string) (string, error) {
		return "Lore of " + element + ".", nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { loreCache.Close() })

	router := gin.New()
	routes.SetupRoutes(router, st, sched, fb, loreCache)
	return &apiRig{router: router, store: st, narrative: narrative}
}

func (r *apiRig) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateSessionLifecycle(t *testing.T) {
	rig := newAPIRig(t)

	w := rig.do(t, http.MethodPost, "/api/sessions", gin.H{
		"name": "Harbor Run", "session_id": "harbor-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var meta datatypes.SessionMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))
	assert.Equal(t, "harbor-1", meta.SessionID)

	// Duplicate explicit id conflicts.
	w = rig.do(t, http.MethodPost, "/api/sessions", gin.H{
		"name": "Again", "session_id": "harbor-1",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Missing name fails binding.
	w = rig.do(t, http.MethodPost, "/api/sessions", gin.H{"session_id": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Invalid explicit id.
	w = rig.do(t, http.MethodPost, "/api/sessions", gin.H{
		"name": "Bad", "session_id": "../etc",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = rig.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = rig.do(t, http.MethodGet, "/api/sessions/harbor-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail datatypes.SessionDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "Harbor Run", detail.Metadata.Name)
	assert.Equal(t, 0, detail.State.TurnCount)

	w = rig.do(t, http.MethodDelete, "/api/sessions/harbor-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = rig.do(t, http.MethodGet, "/api/sessions/harbor-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDefaultSessionCannotBeDeleted(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, http.MethodDelete, "/api/sessions/default", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetUnknownSession(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, http.MethodGet, "/api/sessions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTurnFlowOverHTTP(t *testing.T) {
	rig := newAPIRig(t)

	// Intro on an implicitly created session.
	w := rig.do(t, http.MethodPost, "/api/game/intro", gin.H{"session_id": "run-1"})
	require.Equal(t, http.StatusOK, w.Code)
	var intro datatypes.PhaseAResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &intro))
	assert.Equal(t, 0, intro.TurnCount)

	// Phase A.
	w = rig.do(t, http.MethodPost, "/api/game/action/image", gin.H{
		"session_id": "run-1", "choice": "follow the harbor wall",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var phaseA datatypes.PhaseAResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &phaseA))
	assert.Equal(t, 1, phaseA.TurnCount)
	assert.True(t, phaseA.PlayerAlive)

	// Phase B.
	w = rig.do(t, http.MethodPost, "/api/game/action/choices", gin.H{"session_id": "run-1"})
	require.Equal(t, http.StatusOK, w.Code)
	var phaseB datatypes.PhaseBResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &phaseB))
	assert.Len(t, phaseB.Choices, 3)

	// History tail endpoint returns the committed turn.
	w = rig.do(t, http.MethodGet, "/api/sessions/run-1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Count   int                      `json:"count"`
		History []datatypes.HistoryEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Equal(t, 1, hist.Count)
	assert.Equal(t, "follow the harbor wall", hist.History[0].Choice)

	// Status reflects the committed turn.
	w = rig.do(t, http.MethodGet, "/api/sessions/run-1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status datatypes.SessionStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 1, status.TurnCount)
	assert.True(t, status.PlayerAlive)
	assert.False(t, status.TurnInFlight)
}

func TestActionValidation(t *testing.T) {
	rig := newAPIRig(t)

	// Missing choice.
	w := rig.do(t, http.MethodPost, "/api/game/action/image", gin.H{"session_id": "s"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Bad fate value.
	w = rig.do(t, http.MethodPost, "/api/game/action/image", gin.H{
		"session_id": "s", "choice": "go", "fate": "BLESSED",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeadPlayerConflictAndRestart(t *testing.T) {
	rig := newAPIRig(t)

	rig.narrative.GenerateFunc = func(ctx context.Context, b generators.PromptBundle) (*generators.NarrativeResult, error) {
		return &generators.NarrativeResult{Dispatch: "It ends.", Vision: "v", PlayerAlive: false}, nil
	}
	w := rig.do(t, http.MethodPost, "/api/game/action/image", gin.H{
		"session_id": "run-1", "choice": "charge",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Dead player: next action conflicts.
	w = rig.do(t, http.MethodPost, "/api/game/action/image", gin.H{
		"session_id": "run-1", "choice": "stand",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Restart revives.
	w = rig.do(t, http.MethodPost, "/api/game/restart", gin.H{"session_id": "run-1"})
	require.Equal(t, http.StatusOK, w.Code)

	rig.narrative.GenerateFunc = nil
	w = rig.do(t, http.MethodPost, "/api/game/action/image", gin.H{
		"session_id": "run-1", "choice": "breathe",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFileServingRejectsTraversal(t *testing.T) {
	rig := newAPIRig(t)

	// Create a real frame on disk.
	_, err := rig.store.CreateSession("S", "", "files-1")
	require.NoError(t, err)
	framePath := filepath.Join(rig.store.ImagesDir("files-1"), "frame.png")
	require.NoError(t, os.WriteFile(framePath, []byte("png"), 0o640))

	w := rig.do(t, http.MethodGet, "/api/sessions/files-1/images/frame.png", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodGet, "/api/sessions/files-1/images/missing.png", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = rig.do(t, http.MethodGet, "/api/sessions/files-1/images/..%2Fstate.json", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = rig.do(t, http.MethodGet, "/api/sessions/bad..id/images/frame.png", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoreEndpoint(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, http.MethodGet, "/api/lore/the-warden", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Lore string `json:"lore"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Lore, "the-warden")
}
