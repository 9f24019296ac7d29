// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clock separates the two time sources the engine depends on:
// a wall clock (UTC) for persisted timestamps and a monotonic clock for
// countdowns and deadlines. Keeping them behind distinct interfaces lets
// tests drive deadline races deterministically without sleeping, and keeps
// wall-clock adjustments from ever firing or starving a countdown.
package clock

import (
	"sync"
	"time"
)

// =============================================================================
// Interfaces
// =============================================================================

// Wall supplies timestamps for persisted records. Implementations must
// return UTC.
type Wall interface {
	Now() time.Time
}

// Timer is a one-shot monotonic timer. C fires at most once; Stop prevents
// a fire that has not happened yet.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Ticker delivers coarse periodic ticks, used only for UI progress
// signals. Ticks carry no semantic weight.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Monotonic creates timers and tickers backed by the runtime's monotonic
// clock.
type Monotonic interface {
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
}

// =============================================================================
// Real Implementations
// =============================================================================

type systemWall struct{}

// NewWall returns the system wall clock, normalized to UTC.
func NewWall() Wall { return systemWall{} }

func (systemWall) Now() time.Time { return time.Now().UTC() }

type systemTimer struct{ t *time.Timer }

func (s systemTimer) C() <-chan time.Time { return s.t.C }
func (s systemTimer) Stop() bool          { return s.t.Stop() }

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

type systemMonotonic struct{}

// NewMonotonic returns the system monotonic clock.
func NewMonotonic() Monotonic { return systemMonotonic{} }

func (systemMonotonic) NewTimer(d time.Duration) Timer   { return systemTimer{time.NewTimer(d)} }
func (systemMonotonic) NewTicker(d time.Duration) Ticker { return systemTicker{time.NewTicker(d)} }

// =============================================================================
// Fakes (for tests)
// =============================================================================

// FakeWall is a settable wall clock for tests.
type FakeWall struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeWall returns a FakeWall pinned at t.
func NewFakeWall(t time.Time) *FakeWall { return &FakeWall{now: t.UTC()} }

func (f *FakeWall) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake wall clock forward.
func (f *FakeWall) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// FakeMonotonic hands out timers and tickers that fire only when the test
// calls Advance. There is no background goroutine; firing happens inline.
type FakeMonotonic struct {
	mu      sync.Mutex
	elapsed time.Duration
	timers  []*fakeTimer
	tickers []*fakeTicker
}

// NewFakeMonotonic returns a fake monotonic clock at elapsed zero.
func NewFakeMonotonic() *FakeMonotonic { return &FakeMonotonic{} }

type fakeTimer struct {
	ch      chan time.Time
	fireAt  time.Duration
	stopped bool
	fired   bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeTicker struct {
	ch      chan time.Time
	period  time.Duration
	nextAt  time.Duration
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped = true }

func (f *FakeMonotonic) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{ch: make(chan time.Time, 1), fireAt: f.elapsed + d}
	f.timers = append(f.timers, t)
	return t
}

func (f *FakeMonotonic) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 16), period: d, nextAt: f.elapsed + d}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves fake time forward, firing any due timers and tickers.
func (f *FakeMonotonic) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elapsed += d
	now := time.Unix(0, int64(f.elapsed))

	for _, t := range f.timers {
		if !t.stopped && !t.fired && t.fireAt <= f.elapsed {
			t.fired = true
			t.ch <- now
		}
	}
	for _, t := range f.tickers {
		for !t.stopped && t.nextAt <= f.elapsed {
			select {
			case t.ch <- now:
			default:
			}
			t.nextAt += t.period
		}
	}
}
