// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package turn implements the two-phase turn pipeline.
//
// Phase A resolves an action into its consequence: fate roll, narrative
// generation, frame render, then an atomic commit of history and state.
// Phase B derives the next decision point and never mutates state.
//
// # Commit Discipline
//
// The session lock is held for the initial state read and again for the
// commit; generator calls run unlocked so a slow model never blocks
// status reads on other sessions. Within the commit, the history append
// lands first: a history failure aborts the whole turn with no partial
// write, while a state-save failure after a committed history entry is
// logged and the turn still counts (the state file self-heals from
// defaults on the next load in the worst case).
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianTale/services/engine/clock"
	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
	"github.com/AleutianAI/AleutianTale/services/engine/frames"
	"github.com/AleutianAI/AleutianTale/services/engine/generators"
	"github.com/AleutianAI/AleutianTale/services/engine/observability"
	"github.com/AleutianAI/AleutianTale/services/engine/store"
	"github.com/AleutianAI/AleutianTale/services/engine/world"
)

// FallbackDispatch is committed when narrative generation fails. The turn
// degrades instead of aborting: the player keeps playing, the record stays
// consistent, and nothing lethal happens off-model.
const FallbackDispatch = "You make a tense move in the chaos."

// introFallbackDispatch covers a failed opening generation.
const introFallbackDispatch = "You take a slow breath and let the place come into focus around you."

// Config carries the pipeline's tunables.
type Config struct {
	// NarrativeTimeout bounds each narrative and choice generation.
	NarrativeTimeout time.Duration

	// ReferenceCount is how many prior frames condition each render.
	ReferenceCount int

	// BrandingFrame is the path of the title card appended as frame zero
	// of every run. Empty disables it.
	BrandingFrame string

	// AllowFateOverride honors client-supplied fates. Test deployments
	// only; production rolls server-side.
	AllowFateOverride bool
}

// ActionInput is one Phase A request.
type ActionInput struct {
	SessionID string
	Choice    string
	IsCustom  bool

	// FateOverride is honored only when Config.AllowFateOverride is set.
	FateOverride datatypes.Fate

	// TimeoutPenalty marks a turn triggered by the countdown lapsing.
	// Penalty turns always run at NORMAL fate; severity comes from the
	// penalty phrase itself.
	TimeoutPenalty bool
}

// Pipeline executes turns against the store, frame buffer, and generator
// seams. Admission control (one turn in flight per session) lives in the
// scheduler; the pipeline assumes it.
type Pipeline struct {
	store     *store.Store
	frames    *frames.Buffer
	world     *world.Evolver
	narrative generators.Narrative
	image     generators.Image
	choices   generators.Choices
	wall      clock.Wall
	roll      FateRoller
	cfg       Config
}

// New wires a Pipeline. A nil roll defaults to the production crypto
// roller.
func New(
	st *store.Store,
	fb *frames.Buffer,
	wrld *world.Evolver,
	narrative generators.Narrative,
	image generators.Image,
	choices generators.Choices,
	wall clock.Wall,
	roll FateRoller,
	cfg Config,
) *Pipeline {
	if roll == nil {
		roll = RollFate
	}
	if cfg.NarrativeTimeout <= 0 {
		cfg.NarrativeTimeout = 60 * time.Second
	}
	if cfg.ReferenceCount <= 0 {
		cfg.ReferenceCount = frames.DefaultReferenceCount
	}
	return &Pipeline{
		store:     st,
		frames:    fb,
		world:     wrld,
		narrative: narrative,
		image:     image,
		choices:   choices,
		wall:      wall,
		roll:      roll,
		cfg:       cfg,
	}
}

// =============================================================================
// Phase A
// =============================================================================

// PhaseA runs one action to its committed consequence.
//
// Failure semantics: narrative failure degrades to FallbackDispatch, image
// failure commits the turn without a frame, history-append failure aborts
// the whole turn with ErrTurnFailed, and a cancelled context drops the
// result without committing (ErrCancelled).
func (p *Pipeline) PhaseA(ctx context.Context, in ActionInput) (*datatypes.PhaseAResult, error) {
	trigger := "player"
	if in.TimeoutPenalty {
		trigger = "timeout"
	}

	// Read the pre-turn state under the session lock, then release it for
	// the slow generator calls.
	unlock := p.store.Lock(in.SessionID)
	st, err := p.store.LoadState(in.SessionID)
	if err != nil {
		unlock()
		return nil, err
	}
	if !st.PlayerState.Alive {
		unlock()
		return nil, fmt.Errorf("%w: player is dead, restart required", datatypes.ErrInvalidState)
	}
	bundle := generators.PromptBundle{
		WorldPrompt:    st.WorldPrompt,
		RecentEvents:   append([]string(nil), st.RecentEvents...),
		SeenElements:   append([]string(nil), st.SeenElements...),
		Choice:         in.Choice,
		IsCustom:       in.IsCustom,
		TimeoutPenalty: in.TimeoutPenalty,
		TurnCount:      st.TurnCount,
	}
	unlock()

	bundle.Fate = p.resolveFate(in)

	res, degraded := p.generateNarrative(ctx, bundle)
	imagePath := p.generateImage(ctx, in.SessionID, st.TurnCount+1, res)

	if ctx.Err() != nil {
		observability.CountTurn(trigger, "cancelled")
		return nil, fmt.Errorf("%w: %v", datatypes.ErrCancelled, ctx.Err())
	}

	result, err := p.commit(ctx, in, bundle.Fate, res, imagePath)
	if err != nil {
		observability.CountTurn(trigger, "failed")
		return nil, err
	}

	status := "success"
	if degraded || (res.Vision != "" && imagePath == "") {
		status = "degraded"
	}
	observability.CountTurn(trigger, status)
	return result, nil
}

func (p *Pipeline) resolveFate(in ActionInput) datatypes.Fate {
	if in.TimeoutPenalty {
		return datatypes.FateNormal
	}
	if p.cfg.AllowFateOverride && in.FateOverride.Valid() {
		return in.FateOverride
	}
	return p.roll()
}

// generateNarrative runs the narrative seam under its timeout. A first
// failure gets one retry with a reduced prompt; a second failure returns
// the degraded fallback result and the turn proceeds.
func (p *Pipeline) generateNarrative(ctx context.Context, bundle generators.PromptBundle) (*generators.NarrativeResult, bool) {
	nctx, cancel := context.WithTimeout(ctx, p.cfg.NarrativeTimeout)
	defer cancel()

	start := time.Now()
	res, err := p.narrative.Generate(nctx, bundle)
	observability.ObservePhase("narrative", time.Since(start).Seconds())
	if err == nil {
		return res, false
	}
	observability.CountGeneratorFailure("narrative")

	if ctx.Err() == nil {
		reduced := bundle
		reduced.SeenElements = nil
		if len(reduced.RecentEvents) > 3 {
			reduced.RecentEvents = reduced.RecentEvents[len(reduced.RecentEvents)-3:]
		}
		slog.Warn("narrative generation failed, retrying with reduced prompt",
			"choice", bundle.Choice, "error", err)

		rctx, rcancel := context.WithTimeout(ctx, p.cfg.NarrativeTimeout)
		defer rcancel()
		if res, err = p.narrative.Generate(rctx, reduced); err == nil {
			return res, false
		}
		observability.CountGeneratorFailure("narrative")
	}

	slog.Warn("narrative generation failed, degrading turn",
		"choice", bundle.Choice, "error", err)
	return &generators.NarrativeResult{
		Dispatch:    FallbackDispatch,
		PlayerAlive: true,
	}, true
}

// generateImage renders the frame for a turn. An empty vision (degraded
// narrative) skips the render; a render failure commits the turn without
// a frame.
func (p *Pipeline) generateImage(ctx context.Context, sessionID string, turn int, res *generators.NarrativeResult) string {
	if res.Vision == "" {
		return ""
	}

	// The very first action passes every recorded frame (typically just
	// the intro frame); later turns use the bounded selection walk.
	snapshot := p.frames.Snapshot(sessionID)
	var refs []datatypes.FrameRef
	if turn == 1 {
		for _, f := range snapshot {
			refs = append(refs, f.Ref)
		}
	} else {
		refs = frames.SelectReferences(snapshot, p.cfg.ReferenceCount)
	}

	start := time.Now()
	path, err := p.image.Generate(ctx, generators.ImageRequest{
		SessionID:  sessionID,
		Vision:     res.Vision,
		References: refs,
		OutputDir:  p.store.ImagesDir(sessionID),
		Turn:       turn,
	})
	observability.ObservePhase("image", time.Since(start).Seconds())
	if err != nil {
		observability.CountGeneratorFailure("image")
		slog.Warn("image generation failed, committing turn without frame",
			"session_id", sessionID, "turn", turn, "error", err)
		return ""
	}
	return path
}

// commit re-acquires the session lock and lands the turn: history entry
// first, then evolved state. The frame-buffer append happens after the
// lock drops; the buffer is process-local and loses nothing on contention.
func (p *Pipeline) commit(ctx context.Context, in ActionInput, fate datatypes.Fate, res *generators.NarrativeResult, imagePath string) (*datatypes.PhaseAResult, error) {
	unlock := p.store.Lock(in.SessionID)
	defer unlock()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", datatypes.ErrCancelled, ctx.Err())
	}

	st, err := p.store.LoadState(in.SessionID)
	if err != nil {
		return nil, err
	}
	turnNumber := st.TurnCount + 1

	entry := datatypes.HistoryEntry{
		Turn:                turnNumber,
		Choice:              in.Choice,
		IsCustomAction:      in.IsCustom,
		Fate:                fate,
		Dispatch:            res.Dispatch,
		Vision:              res.Vision,
		ImagePath:           imagePath,
		WorldPromptSnapshot: st.WorldPrompt,
		HardTransition:      res.HardTransition,
		CreatedAt:           p.wall.Now(),
	}
	if err := p.store.AppendHistory(in.SessionID, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", datatypes.ErrTurnFailed, err)
	}

	st.TurnCount = turnNumber
	st.LastChoice = in.Choice
	st.LastDispatch = res.Dispatch
	st.LastVision = res.Vision
	st.LastImagePath = imagePath
	st.LastMovementKind = res.MovementKind
	st.LastHardTransition = res.HardTransition
	if !res.PlayerAlive {
		st.PlayerState.Alive = false
		st.PlayerState.Health = 0
	}

	start := time.Now()
	p.world.Apply(ctx, st, in.Choice, res.Dispatch)
	observability.ObservePhase("evolve", time.Since(start).Seconds())

	if err := p.store.SaveState(in.SessionID, st); err != nil {
		// History already holds the turn; the turn stands. The state file
		// reconciles from history on operator intervention or resets to
		// defaults on next load.
		slog.Error("state save failed after committed history entry",
			"session_id", in.SessionID, "turn", turnNumber, "error", err)
	}

	if imagePath != "" {
		p.frames.Append(in.SessionID, frames.Frame{
			Ref:            datatypes.FrameRef(imagePath),
			Turn:           turnNumber,
			HardTransition: res.HardTransition,
		})
	}

	return &datatypes.PhaseAResult{
		Dispatch:       res.Dispatch,
		Vision:         res.Vision,
		ImagePath:      imagePath,
		Fate:           fate,
		PlayerAlive:    res.PlayerAlive,
		HardTransition: res.HardTransition,
		TurnCount:      turnNumber,
	}, nil
}

// =============================================================================
// Intro
// =============================================================================

// Intro opens a run: it renders the title card and the opening scene
// without consuming a turn. Only valid while the session is at turn zero.
func (p *Pipeline) Intro(ctx context.Context, sessionID string) (*datatypes.PhaseAResult, error) {
	unlock := p.store.Lock(sessionID)
	st, err := p.store.LoadState(sessionID)
	if err != nil {
		unlock()
		return nil, err
	}
	if st.TurnCount > 0 {
		unlock()
		return nil, fmt.Errorf("%w: intro is only valid before the first turn", datatypes.ErrInvalidState)
	}
	bundle := generators.PromptBundle{
		WorldPrompt: st.WorldPrompt,
		Choice:      "take in your surroundings",
		Fate:        datatypes.FateNormal,
		TurnCount:   0,
	}
	unlock()

	if p.cfg.BrandingFrame != "" && p.frames.Len(sessionID) == 0 {
		p.frames.Append(sessionID, frames.Frame{Ref: datatypes.FrameRef(p.cfg.BrandingFrame), Turn: 0})
	}

	res, _ := p.generateNarrative(ctx, bundle)
	if res.Dispatch == FallbackDispatch {
		res.Dispatch = introFallbackDispatch
	}
	imagePath := p.generateImage(ctx, sessionID, 0, res)

	if ctx.Err() != nil {
		observability.CountTurn("intro", "cancelled")
		return nil, fmt.Errorf("%w: %v", datatypes.ErrCancelled, ctx.Err())
	}

	unlock = p.store.Lock(sessionID)
	st, err = p.store.LoadState(sessionID)
	if err != nil {
		unlock()
		return nil, err
	}
	st.LastDispatch = res.Dispatch
	st.LastVision = res.Vision
	st.LastImagePath = imagePath
	if err := p.store.SaveState(sessionID, st); err != nil {
		slog.Error("intro state save failed", "session_id", sessionID, "error", err)
	}
	unlock()

	if imagePath != "" {
		p.frames.Append(sessionID, frames.Frame{Ref: datatypes.FrameRef(imagePath), Turn: 0})
	}

	observability.CountTurn("intro", "success")
	return &datatypes.PhaseAResult{
		Dispatch:    res.Dispatch,
		Vision:      res.Vision,
		ImagePath:   imagePath,
		Fate:        datatypes.FateNormal,
		PlayerAlive: true,
		TurnCount:   0,
	}, nil
}

// =============================================================================
// Phase B
// =============================================================================

// PhaseB derives the next decision point from post-Phase-A state. It is
// pure with respect to world state: a crash between phases loses only the
// unpresented choices.
func (p *Pipeline) PhaseB(ctx context.Context, sessionID string) (*datatypes.PhaseBResult, error) {
	unlock := p.store.Lock(sessionID)
	st, err := p.store.LoadState(sessionID)
	unlock()
	if err != nil {
		return nil, err
	}
	if !st.PlayerState.Alive {
		return nil, fmt.Errorf("%w: player is dead, restart required", datatypes.ErrInvalidState)
	}
	if st.LastDispatch == "" {
		return nil, fmt.Errorf("%w: no completed scene to branch from", datatypes.ErrInvalidState)
	}

	cctx, cancel := context.WithTimeout(ctx, p.cfg.NarrativeTimeout)
	defer cancel()

	start := time.Now()
	set, err := p.choices.Generate(cctx, generators.ChoiceBundle{
		WorldPrompt:  st.WorldPrompt,
		LastDispatch: st.LastDispatch,
		RecentEvents: st.RecentEvents,
		TurnCount:    st.TurnCount,
	})
	observability.ObservePhase("choices", time.Since(start).Seconds())
	if err != nil {
		observability.CountGeneratorFailure("choices")
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", datatypes.ErrCancelled, err)
		}
		return nil, fmt.Errorf("choice generation failed: %w", err)
	}
	return &datatypes.PhaseBResult{Choices: set.Choices, TimeoutPenalty: set.TimeoutPenalty}, nil
}
