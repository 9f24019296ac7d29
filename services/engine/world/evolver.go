// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package world maintains the evolving narrative context of a session:
// the world prompt, the rolling event record, and the discovered-entity
// list, all kept inside hard size bounds so prompt growth stays flat over
// arbitrarily long runs.
package world

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
	"github.com/AleutianAI/AleutianTale/services/engine/generators"
)

const (
	// MaxWorldPromptWords is the hard ceiling on the accumulated world
	// prompt. The evolve prompt targets 1200-1500; anything over the
	// ceiling gets condensed or truncated.
	MaxWorldPromptWords = 1500

	// condenseTargetWords is what an oversized world prompt is condensed
	// down to.
	condenseTargetWords = 1300

	// summaryCondenseThreshold triggers condensation of a runaway
	// evolution summary.
	summaryCondenseThreshold = 100
	summaryCondenseTarget    = 60

	// FallbackSummary is shown when world evolution fails. The turn still
	// succeeds; only the atmospheric delta is generic.
	FallbackSummary = "The world shifts around you."
)

// genericElements are scenery words that carry no cross-turn memory value
// and are excluded from seen_elements at insertion time.
var genericElements = map[string]struct{}{
	"ground": {}, "sky": {}, "air": {}, "wall": {}, "walls": {},
	"door": {}, "doors": {}, "room": {}, "floor": {}, "ceiling": {},
	"light": {}, "darkness": {}, "dark": {}, "shadow": {}, "shadows": {},
	"wind": {}, "rain": {}, "water": {}, "street": {}, "road": {},
	"building": {}, "buildings": {}, "noise": {}, "sound": {}, "silence": {},
}

// secondPersonDrift flags a world prompt that has slipped into addressing
// the player directly. The world prompt must stay third person; drift
// compounds across evolve cycles.
var secondPersonDrift = regexp.MustCompile(`(?i)\b(you|your|yours)\b`)

// Player-facing text runs the opposite way: it must stay second person.
// A stray he/she pronoun or a proper name mid-sentence marks drift.
var (
	thirdPersonPronoun = regexp.MustCompile(`(?i)\b(he|him|his|she|her|hers)\b`)
	midSentenceName    = regexp.MustCompile(`[a-z,;] ([A-Z][a-z]+)`)
)

// DriftsFromSecondPerson reports whether player-facing text has slipped
// out of the second person. A match is a content defect of the prompt
// layer: callers log it and keep the text.
func DriftsFromSecondPerson(text string) bool {
	return thirdPersonPronoun.MatchString(text) || midSentenceName.MatchString(text)
}

// Evolver folds each committed turn into the session's world state.
//
// # Thread Safety
//
// Evolver itself is stateless; callers serialize per session by holding
// the store's session lock across Apply.
type Evolver struct {
	gen generators.Evolver
	ext generators.Extractor
}

// NewEvolver returns an Evolver over the given generator seams.
func NewEvolver(gen generators.Evolver, ext generators.Extractor) *Evolver {
	return &Evolver{gen: gen, ext: ext}
}

// Apply mutates st with the outcome of one turn: records the event, merges
// extracted entities, evolves the world prompt, and runs the deep-prune
// cycle on schedule. st.TurnCount must already be the committed turn
// number.
//
// Apply never fails the turn. Generator errors degrade: the world prompt
// stays as it was and the summary falls back to a generic phrase.
func (e *Evolver) Apply(ctx context.Context, st *datatypes.WorldState, choice, dispatch string) {
	e.recordEvent(st, choice)
	e.mergeEntities(ctx, st, dispatch)
	e.evolvePrompt(ctx, st, choice, dispatch)

	if st.TurnCount > 0 && st.TurnCount%datatypes.CondenseEveryTurns == 0 {
		e.deepPrune(st)
	}

	if secondPersonDrift.MatchString(st.WorldPrompt) {
		slog.Warn("world prompt drifting into second person", "turn", st.TurnCount)
	}
	if DriftsFromSecondPerson(dispatch) {
		slog.Warn("dispatch drifting out of second person", "turn", st.TurnCount)
	}
	if DriftsFromSecondPerson(st.EvolutionSummary) {
		slog.Warn("evolution summary drifting out of second person", "turn", st.TurnCount)
	}
}

// recordEvent appends the turn's action to recent_events and trims to the
// cap. The record is just "Turn N: <choice>"; the dispatch reaches later
// prompts through the evolved world prompt instead.
func (e *Evolver) recordEvent(st *datatypes.WorldState, choice string) {
	event := fmt.Sprintf("Turn %d: %s", st.TurnCount, strings.TrimSpace(choice))
	st.RecentEvents = append(st.RecentEvents, event)
	if len(st.RecentEvents) > datatypes.MaxRecentEvents {
		st.RecentEvents = st.RecentEvents[len(st.RecentEvents)-datatypes.MaxRecentEvents:]
	}
}

// mergeEntities extracts entities from the dispatch and merges them into
// seen_elements. People and threats go to the front so they survive
// trimming longest; duplicates and generic scenery are dropped.
func (e *Evolver) mergeEntities(ctx context.Context, st *datatypes.WorldState, dispatch string) {
	entities, err := e.ext.Extract(ctx, dispatch)
	if err != nil {
		slog.Warn("entity extraction failed, keeping prior elements", "error", err)
		return
	}

	known := make(map[string]struct{}, len(st.SeenElements))
	for _, s := range st.SeenElements {
		known[strings.ToLower(s)] = struct{}{}
	}

	for _, ent := range entities {
		key := strings.ToLower(ent.Name)
		if _, generic := genericElements[key]; generic {
			continue
		}
		if _, dup := known[key]; dup {
			continue
		}
		known[key] = struct{}{}
		if ent.Kind == "person" || ent.Kind == "threat" {
			st.SeenElements = append([]string{ent.Name}, st.SeenElements...)
		} else {
			st.SeenElements = append(st.SeenElements, ent.Name)
		}
	}

	// Trim from the back: the front holds people and threats.
	if len(st.SeenElements) > datatypes.MaxSeenElements {
		st.SeenElements = st.SeenElements[:datatypes.MaxSeenElements]
	}
}

// evolvePrompt runs the evolve generator and bounds the result.
func (e *Evolver) evolvePrompt(ctx context.Context, st *datatypes.WorldState, choice, dispatch string) {
	res, err := e.gen.Evolve(ctx, generators.EvolveInput{
		WorldPrompt: st.WorldPrompt,
		Choice:      choice,
		Dispatch:    dispatch,
		TurnCount:   st.TurnCount,
	})
	if err != nil {
		slog.Warn("world evolution failed, keeping prior prompt",
			"turn", st.TurnCount, "error", err)
		st.EvolutionSummary = FallbackSummary
		return
	}

	st.WorldPrompt = e.boundPrompt(ctx, res.WorldPrompt)
	st.EvolutionSummary = e.boundSummary(ctx, res.Summary)
}

// boundPrompt enforces the world-prompt word ceiling, preferring a model
// condense over a blunt truncation.
func (e *Evolver) boundPrompt(ctx context.Context, prompt string) string {
	if wordCount(prompt) <= MaxWorldPromptWords {
		return prompt
	}
	condensed, err := e.gen.Condense(ctx, prompt, condenseTargetWords)
	if err != nil || wordCount(condensed) > MaxWorldPromptWords {
		slog.Warn("prompt condensation failed, truncating", "error", err)
		return truncateWords(prompt, MaxWorldPromptWords)
	}
	return condensed
}

// boundSummary keeps the atmospheric delta short. A summary past the
// threshold is condensed; if that also fails it is truncated outright.
func (e *Evolver) boundSummary(ctx context.Context, summary string) string {
	if summary == "" {
		return FallbackSummary
	}
	if wordCount(summary) <= summaryCondenseThreshold {
		return summary
	}
	condensed, err := e.gen.Condense(ctx, summary, summaryCondenseTarget)
	if err != nil || condensed == "" {
		return truncateWords(summary, summaryCondenseThreshold)
	}
	return condensed
}

// deepPrune is the periodic cycle that drops buffers below their steady
// caps, leaving headroom so the next turns append without immediate
// trimming.
func (e *Evolver) deepPrune(st *datatypes.WorldState) {
	if len(st.RecentEvents) > datatypes.CondensedRecentEvents {
		st.RecentEvents = st.RecentEvents[len(st.RecentEvents)-datatypes.CondensedRecentEvents:]
	}
	if len(st.SeenElements) > datatypes.CondensedSeenElements {
		st.SeenElements = st.SeenElements[:datatypes.CondensedSeenElements]
	}
	slog.Info("deep prune applied",
		"turn", st.TurnCount,
		"recent_events", len(st.RecentEvents),
		"seen_elements", len(st.SeenElements))
}

// =============================================================================
// Text Helpers
// =============================================================================

func wordCount(s string) int { return len(strings.Fields(s)) }

func truncateWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) <= n {
		return s
	}
	return strings.Join(fields[:n], " ")
}
