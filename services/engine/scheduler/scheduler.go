// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler serializes turn execution per session and owns the
// between-turn machinery: the decision countdown, timeout penalty turns,
// and the death/restart sequence.
//
// # Admission
//
// At most one turn runs per session at any moment. Admission is a single
// compare-and-swap on an in-flight flag: a second submission while a turn
// runs is rejected immediately, never queued. Distinct sessions proceed
// independently.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianTale/services/engine/clock"
	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
	"github.com/AleutianAI/AleutianTale/services/engine/frames"
	"github.com/AleutianAI/AleutianTale/services/engine/observability"
	"github.com/AleutianAI/AleutianTale/services/engine/store"
	"github.com/AleutianAI/AleutianTale/services/engine/turn"
)

// Event types pushed to session subscribers (the websocket surface).
const (
	EventPhaseA        = "phase_a"
	EventPhaseB        = "phase_b"
	EventCountdownTick = "countdown_tick"
	EventTimeoutTurn   = "timeout_turn"
	EventDeath         = "death"
	EventReplayReady   = "replay_ready"
	EventReplayFailed  = "replay_failed"
	EventRestart       = "restart"
	EventWindowClosed  = "play_again_closed"
)

// Event is one push notification for a session.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Payload   any    `json:"payload,omitempty"`
}

// Config carries the scheduler's tunables.
type Config struct {
	// CountdownDuration is the decision window armed after Phase B.
	CountdownDuration time.Duration

	// PlayAgainWindow is how long the restart affordance stays open after
	// death.
	PlayAgainWindow time.Duration

	// ReplayBudgetBytes bounds the death replay size.
	ReplayBudgetBytes int64

	// AutoAdvance runs Phase B automatically after every committed
	// Phase A, feeding the countdown loop without client round-trips.
	AutoAdvance bool
}

// session is the scheduler's per-session container. Created on first use,
// dropped on delete.
type session struct {
	id       string
	inFlight atomic.Bool

	mu         sync.Mutex
	countdown  *Countdown
	penalty    string
	cancelTurn context.CancelFunc

	// dying and restartClaimed gate the death sequence: dying flips once
	// per death, restartClaimed makes the answering restart at-most-once.
	// The claim stays held after the winning restart until the next death,
	// so a PlayAgain click landing just after the reset is a no-op.
	dying          atomic.Bool
	restartClaimed atomic.Bool
	windowTimer    clock.Timer
	windowStop     chan struct{}
}

// Scheduler coordinates turn execution across sessions.
type Scheduler struct {
	store    *store.Store
	pipeline *turn.Pipeline
	frames   *frames.Buffer
	mono     clock.Monotonic
	wall     clock.Wall
	cfg      Config

	mu       sync.Mutex
	sessions map[string]*session

	subMu  sync.Mutex
	subs   map[string]map[int]chan Event
	nextID int
}

// New wires a Scheduler.
func New(st *store.Store, p *turn.Pipeline, fb *frames.Buffer, mono clock.Monotonic, wall clock.Wall, cfg Config) *Scheduler {
	if cfg.CountdownDuration <= 0 {
		cfg.CountdownDuration = 15 * time.Second
	}
	if cfg.PlayAgainWindow <= 0 {
		cfg.PlayAgainWindow = 30 * time.Second
	}
	return &Scheduler{
		store:    st,
		pipeline: p,
		frames:   fb,
		mono:     mono,
		wall:     wall,
		cfg:      cfg,
		sessions: make(map[string]*session),
		subs:     make(map[string]map[int]chan Event),
	}
}

func (s *Scheduler) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{id: id}
		s.sessions[id] = sess
		if m := observability.DefaultMetrics; m != nil {
			m.ActiveSessions.Set(float64(len(s.sessions)))
		}
	}
	return sess
}

// =============================================================================
// Admission
// =============================================================================

// admit claims the session's in-flight slot. The returned release must be
// called exactly once.
func (s *Scheduler) admit(sess *session) (release func(), err error) {
	if !sess.inFlight.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: a turn is already in flight for session %s", datatypes.ErrInvalidState, sess.id)
	}
	if m := observability.DefaultMetrics; m != nil {
		m.InFlightTurns.Inc()
	}
	return func() {
		sess.inFlight.Store(false)
		if m := observability.DefaultMetrics; m != nil {
			m.InFlightTurns.Dec()
		}
	}, nil
}

// beginTurn derives the cancellable context an admitted turn runs under
// and parks its cancel on the session, where Restart and CancelSession can
// reach it. The returned done must run before the admission release.
func (s *Scheduler) beginTurn(ctx context.Context, sess *session) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	sess.mu.Lock()
	sess.cancelTurn = cancel
	sess.mu.Unlock()
	return ctx, func() {
		sess.mu.Lock()
		sess.cancelTurn = nil
		sess.mu.Unlock()
		cancel()
	}
}

// =============================================================================
// Operations
// =============================================================================

// Intro runs the opening sequence for a session.
func (s *Scheduler) Intro(ctx context.Context, sessionID string) (*datatypes.PhaseAResult, error) {
	sess := s.session(sessionID)
	release, err := s.admit(sess)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx, done := s.beginTurn(ctx, sess)
	defer done()

	res, err := s.pipeline.Intro(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.publish(Event{Type: EventPhaseA, SessionID: sessionID, Payload: res})
	if s.cfg.AutoAdvance {
		go s.autoPhaseB(sessionID)
	}
	return res, nil
}

// SubmitChoice runs Phase A for a player action. If a countdown is armed
// the choice must win it; losing means the timeout turn already owns this
// round and the submission is rejected.
func (s *Scheduler) SubmitChoice(ctx context.Context, in turn.ActionInput) (*datatypes.PhaseAResult, error) {
	sess := s.session(in.SessionID)

	sess.mu.Lock()
	cd := sess.countdown
	sess.mu.Unlock()
	if cd != nil {
		if !cd.ResolveChoice() {
			return nil, fmt.Errorf("%w: the decision window already closed", datatypes.ErrInvalidState)
		}
		sess.mu.Lock()
		if sess.countdown == cd {
			sess.countdown = nil
		}
		sess.mu.Unlock()
	}

	release, err := s.admit(sess)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx, done := s.beginTurn(ctx, sess)
	defer done()

	res, err := s.pipeline.PhaseA(ctx, in)
	if err != nil {
		return nil, err
	}
	s.publish(Event{Type: EventPhaseA, SessionID: in.SessionID, Payload: res})

	if !res.PlayerAlive {
		s.startDeathSequence(sess)
	} else if s.cfg.AutoAdvance {
		go s.autoPhaseB(in.SessionID)
	}
	return res, nil
}

// PhaseB derives the next choices and arms the decision countdown.
func (s *Scheduler) PhaseB(ctx context.Context, sessionID string) (*datatypes.PhaseBResult, error) {
	sess := s.session(sessionID)

	res, err := s.pipeline.PhaseB(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	sess.penalty = res.TimeoutPenalty
	sess.countdown = newCountdown(s.mono, s.cfg.CountdownDuration)
	cd := sess.countdown
	sess.mu.Unlock()

	go cd.run(
		func(remaining time.Duration) {
			s.publish(Event{Type: EventCountdownTick, SessionID: sessionID,
				Payload: map[string]any{"remaining_seconds": int(remaining.Seconds())}})
		},
		func() { s.runTimeoutTurn(sessionID) },
	)

	s.publish(Event{Type: EventPhaseB, SessionID: sessionID, Payload: res})
	return res, nil
}

// autoPhaseB is the fire-and-forget Phase B used by auto-advance mode.
func (s *Scheduler) autoPhaseB(sessionID string) {
	if _, err := s.PhaseB(context.Background(), sessionID); err != nil {
		slog.Warn("auto phase B failed", "session_id", sessionID, "error", err)
	}
}

// runTimeoutTurn executes the penalty turn after a lapsed countdown. It
// runs on the countdown goroutine.
func (s *Scheduler) runTimeoutTurn(sessionID string) {
	sess := s.session(sessionID)

	sess.mu.Lock()
	penalty := sess.penalty
	sess.countdown = nil
	sess.mu.Unlock()
	if penalty == "" {
		penalty = "You freeze, and the world does not wait for you."
	}

	release, err := s.admit(sess)
	if err != nil {
		// A turn is somehow still in flight; the penalty round is skipped
		// rather than queued behind it.
		slog.Warn("timeout turn skipped, session busy", "session_id", sessionID)
		return
	}
	defer release()
	ctx, done := s.beginTurn(context.Background(), sess)
	defer done()

	res, err := s.pipeline.PhaseA(ctx, turn.ActionInput{
		SessionID:      sessionID,
		Choice:         penalty,
		TimeoutPenalty: true,
	})
	if err != nil {
		slog.Error("timeout turn failed", "session_id", sessionID, "error", err)
		return
	}
	s.publish(Event{Type: EventTimeoutTurn, SessionID: sessionID, Payload: res})

	if !res.PlayerAlive {
		s.startDeathSequence(sess)
		return
	}
	// The loop continues: derive the next choices and re-arm.
	go s.autoPhaseB(sessionID)
}

// ForceTimeout triggers the penalty turn immediately, as if the countdown
// had lapsed. With a countdown armed it must win the resolution race;
// without one the penalty turn runs directly. The turn executes
// asynchronously.
func (s *Scheduler) ForceTimeout(sessionID string) error {
	sess := s.session(sessionID)

	sess.mu.Lock()
	cd := sess.countdown
	sess.mu.Unlock()
	if cd != nil && !cd.ResolveTimeout() {
		return fmt.Errorf("%w: the decision window already closed", datatypes.ErrInvalidState)
	}

	go s.runTimeoutTurn(sessionID)
	return nil
}

// CancelSession tears down the scheduler's runtime for a session: any
// in-flight turn is cancelled, the countdown resolves with no outcome,
// and subscribers are dropped. Disk state is untouched; the store handles
// deletion separately.
func (s *Scheduler) CancelSession(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
		if m := observability.DefaultMetrics; m != nil {
			m.ActiveSessions.Set(float64(len(s.sessions)))
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	if sess.cancelTurn != nil {
		sess.cancelTurn()
	}
	if sess.countdown != nil {
		sess.countdown.Cancel()
	}
	if sess.windowTimer != nil {
		sess.windowTimer.Stop()
		sess.windowTimer = nil
	}
	if sess.windowStop != nil {
		close(sess.windowStop)
		sess.windowStop = nil
	}
	sess.mu.Unlock()

	s.dropSubscribers(sessionID)
}

// Status returns the compact live view of a session.
func (s *Scheduler) Status(sessionID string) (*datatypes.SessionStatus, error) {
	unlock := s.store.Lock(sessionID)
	st, err := s.store.LoadState(sessionID)
	unlock()
	if err != nil {
		return nil, err
	}
	sess := s.session(sessionID)
	return &datatypes.SessionStatus{
		SessionID:    sessionID,
		TurnCount:    st.TurnCount,
		PlayerAlive:  st.PlayerState.Alive,
		TurnInFlight: sess.inFlight.Load(),
		FrameCount:   s.frames.Len(sessionID),
	}, nil
}

// =============================================================================
// Subscriptions
// =============================================================================

// Subscribe registers for a session's event stream. The returned cancel
// must be called when the consumer goes away.
func (s *Scheduler) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 32)

	s.subMu.Lock()
	if s.subs[sessionID] == nil {
		s.subs[sessionID] = make(map[int]chan Event)
	}
	id := s.nextID
	s.nextID++
	s.subs[sessionID][id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		if m := s.subs[sessionID]; m != nil {
			if _, ok := m[id]; ok {
				delete(m, id)
				close(ch)
			}
		}
		s.subMu.Unlock()
	}
}

// publish fans an event out to the session's subscribers. Slow consumers
// drop events rather than block the turn machinery.
func (s *Scheduler) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Scheduler) dropSubscribers(sessionID string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs[sessionID] {
		delete(s.subs[sessionID], id)
		close(ch)
	}
	delete(s.subs, sessionID)
}
