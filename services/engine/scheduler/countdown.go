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
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianTale/services/engine/clock"
	"github.com/AleutianAI/AleutianTale/services/engine/observability"
)

// Countdown is the one-shot decision timer armed after every Phase B.
// Exactly one of three outcomes wins: the player submits a choice, the
// timer expires into a penalty turn, or the countdown is cancelled
// (restart, delete, shutdown). The race is settled by a single
// compare-and-swap; the losers observe resolved and do nothing.
type Countdown struct {
	duration time.Duration
	mono     clock.Monotonic

	resolved atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

func newCountdown(mono clock.Monotonic, d time.Duration) *Countdown {
	return &Countdown{
		duration: d,
		mono:     mono,
		stop:     make(chan struct{}),
	}
}

// run drives the countdown: progress ticks once per second, then either
// the expiry callback or an external resolution. Runs on its own
// goroutine.
func (c *Countdown) run(tick func(remaining time.Duration), expire func()) {
	timer := c.mono.NewTimer(c.duration)
	ticker := c.mono.NewTicker(time.Second)
	defer timer.Stop()
	defer ticker.Stop()

	remaining := c.duration
	for {
		select {
		case <-timer.C():
			if c.resolved.CompareAndSwap(false, true) {
				countResolution("timeout")
				expire()
			}
			return
		case <-ticker.C():
			remaining -= time.Second
			if remaining > 0 && tick != nil {
				tick(remaining)
			}
		case <-c.stop:
			return
		}
	}
}

// ResolveChoice claims the countdown for a player choice. Returns false
// when the timer already expired (the penalty turn owns this round) or
// the countdown was cancelled.
func (c *Countdown) ResolveChoice() bool {
	if !c.resolved.CompareAndSwap(false, true) {
		return false
	}
	c.stopOnce.Do(func() { close(c.stop) })
	countResolution("choice")
	return true
}

// ResolveTimeout claims the countdown for a forced timeout, used by the
// ops surface to trigger the penalty turn without waiting.
func (c *Countdown) ResolveTimeout() bool {
	if !c.resolved.CompareAndSwap(false, true) {
		return false
	}
	c.stopOnce.Do(func() { close(c.stop) })
	countResolution("timeout")
	return true
}

// Cancel resolves the countdown with neither a choice nor a penalty.
func (c *Countdown) Cancel() {
	if !c.resolved.CompareAndSwap(false, true) {
		return
	}
	c.stopOnce.Do(func() { close(c.stop) })
	countResolution("cancelled")
}

// Resolved reports whether any outcome has claimed the countdown.
func (c *Countdown) Resolved() bool {
	return c.resolved.Load()
}

func countResolution(outcome string) {
	if m := observability.DefaultMetrics; m != nil {
		m.CountdownResolutions.WithLabelValues(outcome).Inc()
	}
}
