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
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianTale/services/llm"
)

// LLM-backed implementations of the text generators. All four share one
// llm.LLMClient; backend selection (OpenAI, Ollama, local llama.cpp)
// happens behind that interface.

func floatPtr(f float32) *float32 { return &f }
func intPtr(i int) *int           { return &i }

// =============================================================================
// Narrative
// =============================================================================

// LLMNarrative generates turn consequences through an LLM backend.
type LLMNarrative struct {
	client llm.LLMClient
}

// NewLLMNarrative returns a Narrative backed by client.
func NewLLMNarrative(client llm.LLMClient) *LLMNarrative {
	return &LLMNarrative{client: client}
}

func (g *LLMNarrative) Generate(ctx context.Context, bundle PromptBundle) (*NarrativeResult, error) {
	raw, err := g.client.Generate(ctx, buildNarrativePrompt(bundle), llm.GenerationParams{
		Temperature: floatPtr(0.9),
		MaxTokens:   intPtr(1024),
	})
	if err != nil {
		return nil, fmt.Errorf("narrative generation: %w", err)
	}

	var parsed struct {
		Dispatch       string `json:"dispatch"`
		Vision         string `json:"vision"`
		PlayerAlive    *bool  `json:"player_alive"`
		HardTransition bool   `json:"hard_transition"`
		MovementKind   string `json:"movement_kind"`
	}
	if err := extractJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("narrative generation: %w", err)
	}
	if strings.TrimSpace(parsed.Dispatch) == "" {
		return nil, fmt.Errorf("narrative generation: empty dispatch")
	}

	// Missing player_alive defaults to alive; death must be explicit.
	alive := true
	if parsed.PlayerAlive != nil {
		alive = *parsed.PlayerAlive
	}
	return &NarrativeResult{
		Dispatch:       strings.TrimSpace(parsed.Dispatch),
		Vision:         strings.TrimSpace(parsed.Vision),
		PlayerAlive:    alive,
		HardTransition: parsed.HardTransition,
		MovementKind:   parsed.MovementKind,
	}, nil
}

// =============================================================================
// Choices
// =============================================================================

// LLMChoices derives decision points through an LLM backend.
type LLMChoices struct {
	client llm.LLMClient
}

// NewLLMChoices returns a Choices backed by client.
func NewLLMChoices(client llm.LLMClient) *LLMChoices {
	return &LLMChoices{client: client}
}

func (g *LLMChoices) Generate(ctx context.Context, bundle ChoiceBundle) (*ChoiceSet, error) {
	raw, err := g.client.Generate(ctx, buildChoicesPrompt(bundle), llm.GenerationParams{
		Temperature: floatPtr(1.0),
		MaxTokens:   intPtr(512),
	})
	if err != nil {
		return nil, fmt.Errorf("choice generation: %w", err)
	}

	var parsed struct {
		Choices        []string `json:"choices"`
		TimeoutPenalty string   `json:"timeout_penalty"`
	}
	if err := extractJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("choice generation: %w", err)
	}

	var choices []string
	for _, c := range parsed.Choices {
		if c = strings.TrimSpace(c); c != "" {
			choices = append(choices, c)
		}
	}
	if len(choices) < 3 {
		return nil, fmt.Errorf("choice generation: got %d choices, need 3", len(choices))
	}
	choices = choices[:3]

	penalty := strings.TrimSpace(parsed.TimeoutPenalty)
	if penalty == "" {
		penalty = "You freeze, and the world does not wait for you."
	}
	return &ChoiceSet{Choices: choices, TimeoutPenalty: penalty}, nil
}

// =============================================================================
// Evolver
// =============================================================================

// LLMEvolver rewrites the world prompt through an LLM backend.
type LLMEvolver struct {
	client llm.LLMClient
}

// NewLLMEvolver returns an Evolver backed by client.
func NewLLMEvolver(client llm.LLMClient) *LLMEvolver {
	return &LLMEvolver{client: client}
}

func (g *LLMEvolver) Evolve(ctx context.Context, in EvolveInput) (*EvolveResult, error) {
	raw, err := g.client.Generate(ctx, buildEvolvePrompt(in), llm.GenerationParams{
		Temperature: floatPtr(0.7),
		MaxTokens:   intPtr(2048),
	})
	if err != nil {
		return nil, fmt.Errorf("world evolution: %w", err)
	}

	var parsed struct {
		WorldPrompt string `json:"world_prompt"`
		Summary     string `json:"summary"`
	}
	if err := extractJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("world evolution: %w", err)
	}
	if strings.TrimSpace(parsed.WorldPrompt) == "" {
		return nil, fmt.Errorf("world evolution: empty world prompt")
	}
	return &EvolveResult{
		WorldPrompt: strings.TrimSpace(parsed.WorldPrompt),
		Summary:     strings.TrimSpace(parsed.Summary),
	}, nil
}

func (g *LLMEvolver) Condense(ctx context.Context, text string, targetWords int) (string, error) {
	raw, err := g.client.Generate(ctx, buildCondensePrompt(text, targetWords), llm.GenerationParams{
		Temperature: floatPtr(0.3),
		MaxTokens:   intPtr(1024),
	})
	if err != nil {
		return "", fmt.Errorf("condensation: %w", err)
	}
	out := strings.TrimSpace(raw)
	if out == "" {
		return "", fmt.Errorf("condensation: empty result")
	}
	return out, nil
}

// =============================================================================
// Extractor
// =============================================================================

// LLMExtractor pulls entities out of dispatch text through an LLM backend.
type LLMExtractor struct {
	client llm.LLMClient
}

// NewLLMExtractor returns an Extractor backed by client.
func NewLLMExtractor(client llm.LLMClient) *LLMExtractor {
	return &LLMExtractor{client: client}
}

func (g *LLMExtractor) Extract(ctx context.Context, dispatch string) ([]Entity, error) {
	raw, err := g.client.Generate(ctx, buildExtractPrompt(dispatch), llm.GenerationParams{
		Temperature: floatPtr(0.2),
		MaxTokens:   intPtr(256),
	})
	if err != nil {
		return nil, fmt.Errorf("entity extraction: %w", err)
	}

	var parsed struct {
		Entities []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"entities"`
	}
	if err := extractJSON(raw, &parsed); err != nil {
		// Extraction is best-effort enrichment; a garbled response is not
		// worth failing the turn over.
		slog.Debug("entity extraction unparseable, skipping", "error", err)
		return nil, nil
	}

	var out []Entity
	for _, e := range parsed.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		kind := e.Kind
		switch kind {
		case "person", "threat", "thing":
		default:
			kind = "thing"
		}
		out = append(out, Entity{Name: name, Kind: kind})
	}
	return out, nil
}
