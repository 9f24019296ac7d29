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
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTale/services/engine/clock"
	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
	"github.com/AleutianAI/AleutianTale/services/engine/frames"
	"github.com/AleutianAI/AleutianTale/services/engine/generators"
	"github.com/AleutianAI/AleutianTale/services/engine/store"
	"github.com/AleutianAI/AleutianTale/services/engine/turn"
	"github.com/AleutianAI/AleutianTale/services/engine/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedRig struct {
	sched     *Scheduler
	store     *store.Store
	frames    *frames.Buffer
	mono      *clock.FakeMonotonic
	narrative *generators.StubNarrative
	image     *generators.StubImage
	choices   *generators.StubChoices
}

func newSchedRig(t *testing.T, cfg Config) *schedRig {
	t.Helper()
	wall := clock.NewFakeWall(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	st, err := store.New(t.TempDir(), "A drowned city at dusk.", wall)
	require.NoError(t, err)

	rig := &schedRig{
		store:     st,
		frames:    frames.NewBuffer(),
		mono:      clock.NewFakeMonotonic(),
		narrative: &generators.StubNarrative{},
		image:     &generators.StubImage{},
		choices:   &generators.StubChoices{},
	}
	pipeline := turn.New(
		st, rig.frames,
		world.NewEvolver(&generators.StubEvolver{}, &generators.StubExtractor{}),
		rig.narrative, rig.image, rig.choices,
		wall,
		func() datatypes.Fate { return datatypes.FateNormal },
		turn.Config{},
	)
	rig.sched = New(st, pipeline, rig.frames, rig.mono, wall, cfg)
	return rig
}

func TestSubmitChoiceCommitsAndPublishes(t *testing.T) {
	rig := newSchedRig(t, Config{})
	events, cancel := rig.sched.Subscribe("s1")
	defer cancel()

	res, err := rig.sched.SubmitChoice(context.Background(), turn.ActionInput{
		SessionID: "s1", Choice: "climb the sea wall",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TurnCount)

	ev := <-events
	assert.Equal(t, EventPhaseA, ev.Type)
	assert.Equal(t, "s1", ev.SessionID)
}

func TestConcurrentSubmissionsOneWins(t *testing.T) {
	rig := newSchedRig(t, Config{})

	// Hold the first turn open until the second submission has been
	// rejected.
	started := make(chan struct{})
	proceed := make(chan struct{})
	rig.narrative.GenerateFunc = func(ctx context.Context, b generators.PromptBundle) (*generators.NarrativeResult, error) {
		close(started)
		<-proceed
		return &generators.NarrativeResult{Dispatch: "d", Vision: "v", PlayerAlive: true}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := rig.sched.SubmitChoice(context.Background(), turn.ActionInput{SessionID: "s1", Choice: "first"})
		assert.NoError(t, err)
	}()

	<-started
	_, err := rig.sched.SubmitChoice(context.Background(), turn.ActionInput{SessionID: "s1", Choice: "second"})
	assert.ErrorIs(t, err, datatypes.ErrInvalidState, "second submission rejected, not queued")

	close(proceed)
	wg.Wait()

	hist, err := rig.store.LoadHistory("s1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "first", hist[0].Choice)
}

func TestSessionsAreIsolated(t *testing.T) {
	rig := newSchedRig(t, Config{})

	started := make(chan struct{})
	proceed := make(chan struct{})
	rig.narrative.GenerateFunc = func(ctx context.Context, b generators.PromptBundle) (*generators.NarrativeResult, error) {
		if b.Choice == "slow" {
			close(started)
			<-proceed
		}
		return &generators.NarrativeResult{Dispatch: "d", Vision: "v", PlayerAlive: true}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := rig.sched.SubmitChoice(context.Background(), turn.ActionInput{SessionID: "a", Choice: "slow"})
		assert.NoError(t, err)
	}()
	<-started

	// Session b proceeds while a's turn is still in flight.
	res, err := rig.sched.SubmitChoice(context.Background(), turn.ActionInput{SessionID: "b", Choice: "quick"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TurnCount)

	close(proceed)
	wg.Wait()
}

func TestCountdownTimeoutRunsPenaltyTurn(t *testing.T) {
	rig := newSchedRig(t, Config{CountdownDuration: 15 * time.Second})
	ctx := context.Background()

	_, err := rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "move"})
	require.NoError(t, err)

	var gotBundle generators.PromptBundle
	bundleCh := make(chan struct{})
	rig.narrative.GenerateFunc = func(ctx context.Context, b generators.PromptBundle) (*generators.NarrativeResult, error) {
		gotBundle = b
		close(bundleCh)
		return &generators.NarrativeResult{Dispatch: "The hesitation costs you.", Vision: "v", PlayerAlive: true}, nil
	}

	res, err := rig.sched.PhaseB(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "You freeze in the open.", res.TimeoutPenalty)

	rig.mono.Advance(15 * time.Second)

	select {
	case <-bundleCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout turn never ran")
	}
	assert.True(t, gotBundle.TimeoutPenalty)
	assert.Equal(t, "You freeze in the open.", gotBundle.Choice)
	assert.Equal(t, datatypes.FateNormal, gotBundle.Fate, "penalty turns never roll fate")

	require.Eventually(t, func() bool {
		hist, err := rig.store.LoadHistory("s1")
		return err == nil && len(hist) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChoiceAfterExpiryRejected(t *testing.T) {
	rig := newSchedRig(t, Config{CountdownDuration: 10 * time.Second})
	ctx := context.Background()

	_, err := rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "move"})
	require.NoError(t, err)
	_, err = rig.sched.PhaseB(ctx, "s1")
	require.NoError(t, err)

	rig.mono.Advance(10 * time.Second)

	// The expired countdown owns this round; a late choice loses the race
	// even while the penalty turn is still running.
	_, err = rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "late"})
	assert.ErrorIs(t, err, datatypes.ErrInvalidState)
}

func TestChoiceBeforeExpiryWinsCountdown(t *testing.T) {
	rig := newSchedRig(t, Config{CountdownDuration: 10 * time.Second})
	ctx := context.Background()

	_, err := rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "move"})
	require.NoError(t, err)
	_, err = rig.sched.PhaseB(ctx, "s1")
	require.NoError(t, err)

	rig.mono.Advance(5 * time.Second)
	_, err = rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "duck"})
	require.NoError(t, err)

	// The timer firing later must not start a penalty turn.
	rig.mono.Advance(10 * time.Second)
	time.Sleep(50 * time.Millisecond)

	hist, err := rig.store.LoadHistory("s1")
	require.NoError(t, err)
	assert.Len(t, hist, 2, "only the two player turns committed")
}

func TestCountdownTicksReachSubscribers(t *testing.T) {
	rig := newSchedRig(t, Config{CountdownDuration: 5 * time.Second})
	ctx := context.Background()

	_, err := rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "move"})
	require.NoError(t, err)

	events, cancel := rig.sched.Subscribe("s1")
	defer cancel()

	_, err = rig.sched.PhaseB(ctx, "s1")
	require.NoError(t, err)
	// Drain the phase_b event.
	ev := <-events
	require.Equal(t, EventPhaseB, ev.Type)

	rig.mono.Advance(time.Second)
	select {
	case ev := <-events:
		assert.Equal(t, EventCountdownTick, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no countdown tick published")
	}
}

func TestDeathOpensWindowAndAssemblesReplay(t *testing.T) {
	rig := newSchedRig(t, Config{PlayAgainWindow: 30 * time.Second})
	ctx := context.Background()

	events, cancel := rig.sched.Subscribe("s1")
	defer cancel()

	// Two survivable turns record two frames, then the third kills.
	for _, c := range []string{"one", "two"} {
		_, err := rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: c})
		require.NoError(t, err)
	}
	rig.narrative.GenerateFunc = func(ctx context.Context, b generators.PromptBundle) (*generators.NarrativeResult, error) {
		return &generators.NarrativeResult{Dispatch: "It ends.", Vision: "", PlayerAlive: false}, nil
	}
	res, err := rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "three"})
	require.NoError(t, err)
	assert.False(t, res.PlayerAlive)

	var sawDeath, sawReplayEvent bool
	deadline := time.After(2 * time.Second)
	for !(sawDeath && sawReplayEvent) {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventDeath:
				sawDeath = true
			case EventReplayReady, EventReplayFailed:
				// Stub frames are not decodable images, so assembly may
				// fail; either way the event must arrive.
				sawReplayEvent = true
			}
		case <-deadline:
			t.Fatalf("missing events: death=%v replay=%v", sawDeath, sawReplayEvent)
		}
	}
}

func TestRestartAtMostOnceDuringDeath(t *testing.T) {
	rig := newSchedRig(t, Config{PlayAgainWindow: 30 * time.Second})
	ctx := context.Background()

	rig.narrative.GenerateFunc = func(ctx context.Context, b generators.PromptBundle) (*generators.NarrativeResult, error) {
		return &generators.NarrativeResult{Dispatch: "It ends.", Vision: "v", PlayerAlive: false}, nil
	}
	_, err := rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "go"})
	require.NoError(t, err)

	var okCount, rejectCount int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := rig.sched.Restart(ctx, "s1")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejectCount++
			} else {
				okCount++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, okCount, "exactly one PlayAgain wins")
	assert.Equal(t, 3, rejectCount)

	// The winning restart produced a fresh, playable session.
	st, err := rig.store.LoadState("s1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.TurnCount)
	assert.True(t, st.PlayerState.Alive)
	assert.Equal(t, 0, rig.frames.Len("s1"))

	rig.narrative.GenerateFunc = nil
	res, err := rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "fresh start"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TurnCount)
}

func TestPlayAgainLapseRestartsAutomatically(t *testing.T) {
	rig := newSchedRig(t, Config{PlayAgainWindow: 30 * time.Second})
	ctx := context.Background()

	rig.narrative.GenerateFunc = func(ctx context.Context, b generators.PromptBundle) (*generators.NarrativeResult, error) {
		return &generators.NarrativeResult{Dispatch: "It ends.", Vision: "v", PlayerAlive: false}, nil
	}
	_, err := rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "go"})
	require.NoError(t, err)

	events, cancel := rig.sched.Subscribe("s1")
	defer cancel()

	// Nobody clicks PlayAgain; the lapsed deadline restarts the run.
	rig.mono.Advance(30 * time.Second)

	var sawClosed, sawRestart bool
	deadline := time.After(2 * time.Second)
	for !(sawClosed && sawRestart) {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventWindowClosed:
				sawClosed = true
			case EventRestart:
				sawRestart = true
			}
		case <-deadline:
			t.Fatalf("missing events: closed=%v restart=%v", sawClosed, sawRestart)
		}
	}

	st, err := rig.store.LoadState("s1")
	require.NoError(t, err)
	assert.True(t, st.PlayerState.Alive, "lapsed window leaves a playable session")
	assert.Equal(t, 0, st.TurnCount)
	assert.Equal(t, 0, rig.frames.Len("s1"))
}

func TestRestartCancelsInFlightTurn(t *testing.T) {
	rig := newSchedRig(t, Config{})
	ctx := context.Background()

	started := make(chan struct{})
	proceed := make(chan struct{})
	rig.narrative.GenerateFunc = func(ctx context.Context, b generators.PromptBundle) (*generators.NarrativeResult, error) {
		close(started)
		<-proceed
		return &generators.NarrativeResult{Dispatch: "stale", Vision: "v", PlayerAlive: true}, nil
	}

	turnErr := make(chan error, 1)
	go func() {
		_, err := rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "go"})
		turnErr <- err
	}()
	<-started

	// Restart lands while the narrative call is still out.
	require.NoError(t, rig.sched.Restart(ctx, "s1"))
	close(proceed)

	err := <-turnErr
	require.ErrorIs(t, err, datatypes.ErrCancelled)

	// Nothing from the abandoned turn reaches disk after the reset.
	st, err := rig.store.LoadState("s1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.TurnCount)
	assert.NotEqual(t, "stale", st.LastDispatch)
	hist, err := rig.store.LoadHistory("s1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestLatePlayAgainAfterRestartIsNoOp(t *testing.T) {
	rig := newSchedRig(t, Config{PlayAgainWindow: 30 * time.Second})
	ctx := context.Background()

	die := func(ctx context.Context, b generators.PromptBundle) (*generators.NarrativeResult, error) {
		return &generators.NarrativeResult{Dispatch: "It ends.", Vision: "v", PlayerAlive: false}, nil
	}
	rig.narrative.GenerateFunc = die
	_, err := rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "go"})
	require.NoError(t, err)

	events, cancel := rig.sched.Subscribe("s1")
	defer cancel()

	require.NoError(t, rig.sched.Restart(ctx, "s1"))

	// A second click moments after the winning restart neither resets the
	// session again nor delivers a second restart event.
	err = rig.sched.Restart(ctx, "s1")
	assert.ErrorIs(t, err, datatypes.ErrInvalidState)

	var restarts int
drain:
	for {
		select {
		case ev := <-events:
			if ev.Type == EventRestart {
				restarts++
			}
		case <-time.After(100 * time.Millisecond):
			break drain
		}
	}
	assert.Equal(t, 1, restarts)

	// The next death re-arms the claim for a fresh PlayAgain.
	_, err = rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "again"})
	require.NoError(t, err)
	require.NoError(t, rig.sched.Restart(ctx, "s1"))
}

func TestExplicitRestartCancelsCountdown(t *testing.T) {
	rig := newSchedRig(t, Config{CountdownDuration: 10 * time.Second})
	ctx := context.Background()

	_, err := rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "move"})
	require.NoError(t, err)
	_, err = rig.sched.PhaseB(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, rig.sched.Restart(ctx, "s1"))

	// The cancelled countdown never fires a penalty turn.
	rig.mono.Advance(10 * time.Second)
	time.Sleep(50 * time.Millisecond)
	hist, err := rig.store.LoadHistory("s1")
	require.NoError(t, err)
	assert.Empty(t, hist, "reset history stays empty")
}

func TestStatusReflectsInFlight(t *testing.T) {
	rig := newSchedRig(t, Config{})
	ctx := context.Background()

	started := make(chan struct{})
	proceed := make(chan struct{})
	rig.narrative.GenerateFunc = func(ctx context.Context, b generators.PromptBundle) (*generators.NarrativeResult, error) {
		close(started)
		<-proceed
		return &generators.NarrativeResult{Dispatch: "d", Vision: "v", PlayerAlive: true}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = rig.sched.SubmitChoice(ctx, turn.ActionInput{SessionID: "s1", Choice: "go"})
	}()
	<-started

	status, err := rig.sched.Status("s1")
	require.NoError(t, err)
	assert.True(t, status.TurnInFlight)

	close(proceed)
	wg.Wait()

	status, err = rig.sched.Status("s1")
	require.NoError(t, err)
	assert.False(t, status.TurnInFlight)
	assert.Equal(t, 1, status.TurnCount)
}
