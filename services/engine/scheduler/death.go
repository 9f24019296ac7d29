// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
	"github.com/AleutianAI/AleutianTale/services/engine/replay"
)

// startDeathSequence runs once per death: any armed countdown is
// cancelled, the run replay is assembled in the background, and the
// PlayAgain window opens. Called with the turn that killed the player
// already committed.
func (s *Scheduler) startDeathSequence(sess *session) {
	if !sess.dying.CompareAndSwap(false, true) {
		return
	}
	sess.restartClaimed.Store(false)

	sess.mu.Lock()
	if sess.countdown != nil {
		sess.countdown.Cancel()
		sess.countdown = nil
	}
	sess.mu.Unlock()

	s.publish(Event{Type: EventDeath, SessionID: sess.id,
		Payload: map[string]any{"play_again_seconds": int(s.cfg.PlayAgainWindow.Seconds())}})

	go s.assembleReplay(sess.id)
	s.openPlayAgainWindow(sess)
}

// assembleReplay builds the run recap into the session's tapes directory.
func (s *Scheduler) assembleReplay(sessionID string) {
	snap := s.frames.Snapshot(sessionID)
	refs := make([]datatypes.FrameRef, 0, len(snap))
	for _, f := range snap {
		refs = append(refs, f.Ref)
	}

	outPath := filepath.Join(s.store.TapesDir(sessionID),
		fmt.Sprintf("replay_%d.gif", s.wall.Now().Unix()))
	if err := replay.Assemble(refs, outPath, s.cfg.ReplayBudgetBytes); err != nil {
		slog.Warn("replay assembly failed", "session_id", sessionID, "error", err)
		s.publish(Event{Type: EventReplayFailed, SessionID: sessionID,
			Payload: map[string]any{"reason": err.Error()}})
		return
	}
	s.publish(Event{Type: EventReplayReady, SessionID: sessionID,
		Payload: map[string]any{"path": outPath}})
}

// openPlayAgainWindow arms the restart deadline. A PlayAgain click inside
// the window claims the restart; if the deadline fires first it claims the
// restart itself, so every death resolves into exactly one new run. A
// manual restart closes the stop channel and the watcher exits without
// waiting out the timer.
func (s *Scheduler) openPlayAgainWindow(sess *session) {
	timer := s.mono.NewTimer(s.cfg.PlayAgainWindow)
	stop := make(chan struct{})
	sess.mu.Lock()
	sess.windowTimer = timer
	sess.windowStop = stop
	sess.mu.Unlock()

	go func() {
		select {
		case <-timer.C():
		case <-stop:
			return
		}
		s.publish(Event{Type: EventWindowClosed, SessionID: sess.id})
		if err := s.Restart(context.Background(), sess.id); err != nil {
			slog.Debug("play-again deadline lost the restart race",
				"session_id", sess.id, "error", err)
		}
	}()
}

// Restart resets a session for a fresh run. Restarts answering a death
// are at-most-once: the first caller, whether a PlayAgain click or the
// lapsed window deadline, wins the claim and the losers get
// ErrInvalidState. The claim stays held until the next death, so a click
// arriving moments after the reset is a no-op rather than a second
// restart. A restart of a live session that never died skips the claim
// and simply cancels the countdown and any in-flight turn.
func (s *Scheduler) Restart(ctx context.Context, sessionID string) error {
	sess := s.session(sessionID)

	claimed := false
	if sess.dying.Load() || sess.restartClaimed.Load() {
		if !sess.restartClaimed.CompareAndSwap(false, true) {
			return fmt.Errorf("%w: restart already claimed for this death", datatypes.ErrInvalidState)
		}
		claimed = true
	}

	sess.mu.Lock()
	if sess.cancelTurn != nil {
		sess.cancelTurn()
	}
	if sess.countdown != nil {
		sess.countdown.Cancel()
		sess.countdown = nil
	}
	if sess.windowTimer != nil {
		sess.windowTimer.Stop()
		sess.windowTimer = nil
	}
	if sess.windowStop != nil {
		close(sess.windowStop)
		sess.windowStop = nil
	}
	sess.penalty = ""
	sess.mu.Unlock()

	if err := s.store.Reset(sessionID); err != nil {
		if claimed {
			// Reset failed; allow another restart attempt.
			sess.restartClaimed.Store(false)
		}
		return err
	}
	s.frames.Clear(sessionID)
	sess.dying.Store(false)

	s.publish(Event{Type: EventRestart, SessionID: sessionID})
	slog.Info("session restarted", "session_id", sessionID)
	return nil
}
