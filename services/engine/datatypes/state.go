// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data model for the AleutianTale
// turn-orchestration engine: world state, turn history, session metadata,
// and the request/response bodies of the HTTP surface.
package datatypes

import "time"

// =============================================================================
// Bounded Buffer Caps
// =============================================================================

const (
	// MaxRecentEvents caps the rolling action/consequence record.
	MaxRecentEvents = 10

	// MaxSeenElements caps the discovered-entity list.
	MaxSeenElements = 50

	// CondenseEveryTurns is the period of the deep-prune cycle.
	CondenseEveryTurns = 30

	// CondensedRecentEvents is the recent_events watermark after a deep prune.
	CondensedRecentEvents = 8

	// CondensedSeenElements is the seen_elements watermark after a deep prune.
	CondensedSeenElements = 40
)

// FrameRef is a file path to a generated image (or the branding frame).
// Every FrameRef appended for a session points inside that session's
// images directory or at a process-wide branding asset.
type FrameRef string

// =============================================================================
// Fate
// =============================================================================

// Fate is the weighted random outcome modifier applied to narrative
// generation. It never applies to timeout-penalty turns, which are severe
// by construction.
type Fate string

const (
	FateLucky   Fate = "LUCKY"
	FateNormal  Fate = "NORMAL"
	FateUnlucky Fate = "UNLUCKY"
)

// Valid reports whether f is one of the three known fates.
func (f Fate) Valid() bool {
	switch f {
	case FateLucky, FateNormal, FateUnlucky:
		return true
	}
	return false
}

// =============================================================================
// World State
// =============================================================================

// PlayerState tracks whether the player can keep taking turns.
type PlayerState struct {
	Alive  bool `json:"alive"`
	Health int  `json:"health"`
}

// WorldState is the evolving per-session game state persisted at
// <session>/state.json. Writes are totally ordered per session and always
// go through the atomic temp-rename protocol.
type WorldState struct {
	// WorldPrompt is the accumulated narrative context, bounded by the
	// world evolver (target 1200-1500 words).
	WorldPrompt string `json:"world_prompt"`

	// EvolutionSummary is the 15-25 word second-person atmospheric delta
	// for the last turn, shown to the player during slow phases.
	EvolutionSummary string `json:"evolution_summary"`

	// RecentEvents holds at most MaxRecentEvents short action/consequence
	// records, oldest first.
	RecentEvents []string `json:"recent_events"`

	// SeenElements holds at most MaxSeenElements discovered entity names.
	// Characters and threats float to the front; generic environment words
	// are excluded at insertion time.
	SeenElements []string `json:"seen_elements"`

	// TurnCount is monotonically increasing and equals the history length
	// after every committed turn.
	TurnCount int `json:"turn_count"`

	PlayerState PlayerState `json:"player_state"`

	// Bookkeeping consumed by the next turn.
	LastChoice         string `json:"last_choice"`
	LastDispatch       string `json:"last_dispatch"`
	LastVision         string `json:"last_vision"`
	LastImagePath      string `json:"last_image_path"`
	LastMovementKind   string `json:"last_movement_kind"`
	LastHardTransition bool   `json:"last_hard_transition"`

	// LastSaved is the UTC timestamp of the most recent atomic write.
	LastSaved time.Time `json:"last_saved"`
}

// NewWorldState returns the fresh default state for a session, seeded with
// the configured intro setting text.
func NewWorldState(introPrompt string) *WorldState {
	return &WorldState{
		WorldPrompt:  introPrompt,
		RecentEvents: []string{},
		SeenElements: []string{},
		PlayerState:  PlayerState{Alive: true, Health: 100},
	}
}

// =============================================================================
// History
// =============================================================================

// HistoryEntry is the append-only record of one completed turn, persisted
// as a sequence in <session>/history.json. Entries are never mutated.
type HistoryEntry struct {
	Turn                int       `json:"turn"`
	Choice              string    `json:"choice"`
	IsCustomAction      bool      `json:"is_custom_action"`
	Fate                Fate      `json:"fate"`
	Dispatch            string    `json:"dispatch"`
	Vision              string    `json:"vision"`
	ImagePath           string    `json:"image_path"`
	WorldPromptSnapshot string    `json:"world_prompt_snapshot"`
	HardTransition      bool      `json:"hard_transition"`
	CreatedAt           time.Time `json:"created_at"`
}

// =============================================================================
// Phase Results
// =============================================================================

// PhaseAResult is the consequence-and-image half of a turn, returned to the
// UI as soon as the turn commits.
type PhaseAResult struct {
	Dispatch       string `json:"dispatch"`
	Vision         string `json:"vision"`
	ImagePath      string `json:"image_path"`
	Fate           Fate   `json:"fate"`
	PlayerAlive    bool   `json:"player_alive"`
	HardTransition bool   `json:"hard_transition"`
	TurnCount      int    `json:"turn_count"`
}

// PhaseBResult carries the next three choices plus the timeout-penalty
// phrase the countdown coordinator falls back to. Phase B never mutates
// state; it is a pure derivation from post-Phase-A state.
type PhaseBResult struct {
	Choices        []string `json:"choices"`
	TimeoutPenalty string   `json:"timeout_penalty"`
}
