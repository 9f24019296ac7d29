// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the turn engine.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics holds all Prometheus metrics for the engine.
type EngineMetrics struct {
	// TurnsTotal counts committed and failed turns by trigger
	// (player|timeout|intro) and status (success|degraded|failed|rejected).
	TurnsTotal *prometheus.CounterVec

	// PhaseDuration observes wall time per phase (narrative|image|evolve|choices).
	PhaseDuration *prometheus.HistogramVec

	// GeneratorFailures counts generator errors by seam.
	GeneratorFailures *prometheus.CounterVec

	// ActiveSessions gauges sessions with at least one frame or committed turn.
	ActiveSessions prometheus.Gauge

	// InFlightTurns gauges turns currently between admission and commit.
	InFlightTurns prometheus.Gauge

	// CountdownResolutions counts countdown outcomes (choice|timeout|cancelled).
	CountdownResolutions *prometheus.CounterVec

	// ReplayAssemblies counts end-of-run replay builds by status.
	ReplayAssemblies *prometheus.CounterVec
}

var (
	// DefaultMetrics is the singleton metrics instance, nil until
	// InitMetrics runs. Callers guard with a nil check so unit tests can
	// run without a registry.
	DefaultMetrics *EngineMetrics

	initOnce sync.Once
)

// InitMetrics initializes the default metrics singleton. Safe to call
// multiple times; registration happens once.
func InitMetrics() {
	initOnce.Do(func() {
		DefaultMetrics = newEngineMetrics()
	})
}

func newEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aleutiantale",
				Subsystem: "engine",
				Name:      "turns_total",
				Help:      "Turns processed, by trigger and outcome status.",
			},
			[]string{"trigger", "status"},
		),
		PhaseDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aleutiantale",
				Subsystem: "engine",
				Name:      "phase_duration_seconds",
				Help:      "Wall time spent per turn phase.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 90, 120},
			},
			[]string{"phase"},
		),
		GeneratorFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aleutiantale",
				Subsystem: "engine",
				Name:      "generator_failures_total",
				Help:      "Generator errors by seam (narrative, image, choices, evolve, extract).",
			},
			[]string{"generator"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aleutiantale",
				Subsystem: "engine",
				Name:      "active_sessions",
				Help:      "Sessions currently tracked by the scheduler.",
			},
		),
		InFlightTurns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aleutiantale",
				Subsystem: "engine",
				Name:      "in_flight_turns",
				Help:      "Turns currently between admission and commit.",
			},
		),
		CountdownResolutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aleutiantale",
				Subsystem: "engine",
				Name:      "countdown_resolutions_total",
				Help:      "Countdown outcomes (choice, timeout, cancelled).",
			},
			[]string{"outcome"},
		),
		ReplayAssemblies: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aleutiantale",
				Subsystem: "engine",
				Name:      "replay_assemblies_total",
				Help:      "End-of-run replay assembly attempts by status.",
			},
			[]string{"status"},
		),
	}
}

// ObservePhase records a phase duration if metrics are initialized.
func ObservePhase(phase string, seconds float64) {
	if DefaultMetrics != nil {
		DefaultMetrics.PhaseDuration.WithLabelValues(phase).Observe(seconds)
	}
}

// CountTurn records a turn outcome if metrics are initialized.
func CountTurn(trigger, status string) {
	if DefaultMetrics != nil {
		DefaultMetrics.TurnsTotal.WithLabelValues(trigger, status).Inc()
	}
}

// CountGeneratorFailure records a generator error if metrics are
// initialized.
func CountGeneratorFailure(generator string) {
	if DefaultMetrics != nil {
		DefaultMetrics.GeneratorFailures.WithLabelValues(generator).Inc()
	}
}
