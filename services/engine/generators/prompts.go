// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generators

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
)

// Prompt construction for the LLM-backed generators. Every prompt asks for
// a single JSON object so the lenient extractor in parse.go can recover
// the payload even when the model wraps it in prose or code fences.

func fateDirective(f datatypes.Fate) string {
	switch f {
	case datatypes.FateLucky:
		return "Fortune favors the player this turn: the action succeeds better than expected, or an unexpected advantage appears."
	case datatypes.FateUnlucky:
		return "Fortune turns against the player this turn: the action backfires, costs something, or draws danger."
	default:
		return "Resolve the action plainly, with proportionate consequences."
	}
}

func buildNarrativePrompt(b PromptBundle) string {
	var sb strings.Builder
	sb.WriteString("You are the narrator of a survival story told in second person, present tense.\n\n")
	sb.WriteString("WORLD:\n")
	sb.WriteString(b.WorldPrompt)
	sb.WriteString("\n\n")

	if len(b.RecentEvents) > 0 {
		sb.WriteString("RECENT EVENTS:\n")
		for _, e := range b.RecentEvents {
			sb.WriteString("- " + e + "\n")
		}
		sb.WriteString("\n")
	}
	if len(b.SeenElements) > 0 {
		sb.WriteString("KNOWN ELEMENTS: " + strings.Join(b.SeenElements, ", ") + "\n\n")
	}

	if b.TimeoutPenalty {
		sb.WriteString("The player froze and did nothing. The world acts on them instead:\n")
	} else {
		sb.WriteString("PLAYER ACTION: " + b.Choice + "\n")
	}
	sb.WriteString(fateDirective(b.Fate) + "\n")
	if b.TimeoutPenalty {
		sb.WriteString("Hesitation is punished. The consequence must be severe, though not necessarily fatal.\n")
	}

	sb.WriteString(fmt.Sprintf(`
Respond with ONLY a JSON object:
{
  "dispatch": "<2-4 sentence second-person consequence of the action>",
  "vision": "<one-paragraph visual description of the resulting scene, concrete and filmable>",
  "player_alive": <true unless the consequence is unavoidably fatal>,
  "hard_transition": <true only if the scene changes abruptly to a different location or time>,
  "movement_kind": "<none|local|travel>"
}
This is turn %d.`, b.TurnCount+1))
	return sb.String()
}

func buildChoicesPrompt(b ChoiceBundle) string {
	var sb strings.Builder
	sb.WriteString("You are the narrator of a survival story. Offer the player their next decision.\n\n")
	sb.WriteString("WORLD:\n" + b.WorldPrompt + "\n\n")
	if b.LastDispatch != "" {
		sb.WriteString("WHAT JUST HAPPENED:\n" + b.LastDispatch + "\n\n")
	}
	if len(b.RecentEvents) > 0 {
		sb.WriteString("RECENT EVENTS:\n")
		for _, e := range b.RecentEvents {
			sb.WriteString("- " + e + "\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(`Respond with ONLY a JSON object:
{
  "choices": ["<action 1>", "<action 2>", "<action 3>"],
  "timeout_penalty": "<one short phrase describing what happens if the player freezes and does nothing>"
}
Each choice is a short imperative sentence. The three choices must be
meaningfully different: one cautious, one bold, one lateral.`)
	return sb.String()
}

func buildEvolvePrompt(in EvolveInput) string {
	return fmt.Sprintf(`You maintain the living world of a survival story.

CURRENT WORLD:
%s

TURN %d JUST HAPPENED:
The player chose: %s
Consequence: %s

Rewrite the world description so it absorbs this turn's consequences.
Keep every plot-critical fact, drop stale detail, and stay in third person
(describe the world, never address the player as "you").
Target 1200-1500 words; never exceed 1500.

Respond with ONLY a JSON object:
{
  "world_prompt": "<the full rewritten world description>",
  "summary": "<15-25 words, second person, the atmospheric change the player feels>"
}`, in.WorldPrompt, in.TurnCount, in.Choice, in.Dispatch)
}

func buildCondensePrompt(text string, targetWords int) string {
	return fmt.Sprintf(`Condense the following text to roughly %d words. Preserve names,
threats, injuries, possessions, and unresolved goals. Drop atmosphere that
carries no plot weight. Respond with ONLY the condensed text, no preamble.

%s`, targetWords, text)
}

func buildExtractPrompt(dispatch string) string {
	return fmt.Sprintf(`List the notable entities in this passage.

%s

Respond with ONLY a JSON object:
{
  "entities": [{"name": "<short name>", "kind": "<person|threat|thing>"}]
}
Skip generic scenery words (ground, sky, air, wall, door, room, light,
darkness). Only include things worth remembering across turns.`, dispatch)
}
