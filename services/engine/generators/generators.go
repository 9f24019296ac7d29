// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generators defines the model-facing seams of the turn pipeline:
// narrative, image, choice, world-evolution, and entity-extraction
// generation. The pipeline and scheduler depend only on the interfaces
// here; production wires the LLM- and OpenAI-backed implementations,
// tests wire the stubs.
package generators

import (
	"context"

	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
)

// =============================================================================
// Narrative
// =============================================================================

// PromptBundle is everything the narrative generator sees for one turn.
type PromptBundle struct {
	WorldPrompt  string
	RecentEvents []string
	SeenElements []string

	// Choice is the player's action, or the timeout-penalty phrase when
	// TimeoutPenalty is set.
	Choice         string
	IsCustom       bool
	Fate           datatypes.Fate
	TimeoutPenalty bool
	TurnCount      int
}

// NarrativeResult is the parsed consequence of one action.
type NarrativeResult struct {
	// Dispatch is the second-person consequence text shown to the player.
	Dispatch string
	// Vision is the visual scene description handed to the image generator.
	Vision string
	// PlayerAlive is false when the consequence kills the player.
	PlayerAlive bool
	// HardTransition marks an abrupt scene change that resets visual
	// continuity.
	HardTransition bool
	// MovementKind is the model's coarse classification of the action
	// ("local", "travel", "none").
	MovementKind string
}

// Narrative turns a player action into its consequence and scene.
type Narrative interface {
	Generate(ctx context.Context, bundle PromptBundle) (*NarrativeResult, error)
}

// =============================================================================
// Image
// =============================================================================

// ImageRequest asks for one rendered frame.
type ImageRequest struct {
	SessionID string
	// Vision is the scene description from the narrative step.
	Vision string
	// References are prior frames for visual continuity, oldest first.
	// Empty means a from-scratch render.
	References []datatypes.FrameRef
	// OutputDir is the session's images directory.
	OutputDir string
	Turn      int
}

// Image renders a frame and returns the path it was written to.
type Image interface {
	Generate(ctx context.Context, req ImageRequest) (string, error)
}

// =============================================================================
// Choices
// =============================================================================

// ChoiceBundle is the post-Phase-A context the choice generator sees.
type ChoiceBundle struct {
	WorldPrompt  string
	LastDispatch string
	RecentEvents []string
	TurnCount    int
}

// ChoiceSet is three forward actions plus the penalty phrase the countdown
// falls back to when the player lets the timer lapse.
type ChoiceSet struct {
	Choices        []string
	TimeoutPenalty string
}

// Choices derives the next decision point. It must be pure with respect to
// world state.
type Choices interface {
	Generate(ctx context.Context, bundle ChoiceBundle) (*ChoiceSet, error)
}

// =============================================================================
// World Evolution
// =============================================================================

// EvolveInput is the post-turn context the evolver folds into the world.
type EvolveInput struct {
	WorldPrompt string
	Choice      string
	Dispatch    string
	TurnCount   int
}

// EvolveResult is the rewritten world plus the short player-facing delta.
type EvolveResult struct {
	// WorldPrompt is the updated accumulated narrative context.
	WorldPrompt string
	// Summary is the 15-25 word second-person atmospheric delta.
	Summary string
}

// Evolver rewrites the world prompt after each turn and condenses
// oversized text during the deep-prune cycle.
type Evolver interface {
	Evolve(ctx context.Context, in EvolveInput) (*EvolveResult, error)
	// Condense rewrites text down to roughly targetWords words while
	// preserving plot-critical facts.
	Condense(ctx context.Context, text string, targetWords int) (string, error)
}

// =============================================================================
// Entity Extraction
// =============================================================================

// Entity is one discovered world element.
type Entity struct {
	Name string
	// Kind is "person", "threat", or "thing". People and threats float to
	// the front of seen_elements.
	Kind string
}

// Extractor pulls notable entities out of a dispatch for the
// seen-elements buffer.
type Extractor interface {
	Extract(ctx context.Context, dispatch string) ([]Entity, error)
}
