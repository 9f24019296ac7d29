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
	"os"
	"path/filepath"
	"sync/atomic"
)

// Deterministic stub generators. Production never wires these; they exist
// so the pipeline, scheduler, and handler tests can script generator
// behavior without a model. Each stub delegates to its function field when
// set and falls back to a fixed canned result otherwise.

// StubNarrative is a scriptable Narrative.
type StubNarrative struct {
	GenerateFunc func(ctx context.Context, bundle PromptBundle) (*NarrativeResult, error)
	Calls        atomic.Int64
}

func (s *StubNarrative) Generate(ctx context.Context, bundle PromptBundle) (*NarrativeResult, error) {
	s.Calls.Add(1)
	if s.GenerateFunc != nil {
		return s.GenerateFunc(ctx, bundle)
	}
	return &NarrativeResult{
		Dispatch:    fmt.Sprintf("You %s, and the world answers.", bundle.Choice),
		Vision:      "A narrow street under a bruised sky.",
		PlayerAlive: true,
	}, nil
}

// StubImage is a scriptable Image. The default implementation writes a
// tiny placeholder file so path-based assertions hold.
type StubImage struct {
	GenerateFunc func(ctx context.Context, req ImageRequest) (string, error)
	Calls        atomic.Int64
}

func (s *StubImage) Generate(ctx context.Context, req ImageRequest) (string, error) {
	s.Calls.Add(1)
	if s.GenerateFunc != nil {
		return s.GenerateFunc(ctx, req)
	}
	path := filepath.Join(req.OutputDir, fmt.Sprintf("frame_t%04d.png", req.Turn))
	if err := os.WriteFile(path, []byte("stub"), 0o640); err != nil {
		return "", err
	}
	return path, nil
}

// StubChoices is a scriptable Choices.
type StubChoices struct {
	GenerateFunc func(ctx context.Context, bundle ChoiceBundle) (*ChoiceSet, error)
	Calls        atomic.Int64
}

func (s *StubChoices) Generate(ctx context.Context, bundle ChoiceBundle) (*ChoiceSet, error) {
	s.Calls.Add(1)
	if s.GenerateFunc != nil {
		return s.GenerateFunc(ctx, bundle)
	}
	return &ChoiceSet{
		Choices:        []string{"Hide", "Run", "Call out"},
		TimeoutPenalty: "You freeze in the open.",
	}, nil
}

// StubEvolver is a scriptable Evolver.
type StubEvolver struct {
	EvolveFunc   func(ctx context.Context, in EvolveInput) (*EvolveResult, error)
	CondenseFunc func(ctx context.Context, text string, targetWords int) (string, error)
	EvolveCalls  atomic.Int64
}

func (s *StubEvolver) Evolve(ctx context.Context, in EvolveInput) (*EvolveResult, error) {
	s.EvolveCalls.Add(1)
	if s.EvolveFunc != nil {
		return s.EvolveFunc(ctx, in)
	}
	return &EvolveResult{
		WorldPrompt: in.WorldPrompt + " The consequences linger.",
		Summary:     "You feel the street grow quieter around you, as if something noticed.",
	}, nil
}

func (s *StubEvolver) Condense(ctx context.Context, text string, targetWords int) (string, error) {
	if s.CondenseFunc != nil {
		return s.CondenseFunc(ctx, text, targetWords)
	}
	return text, nil
}

// StubExtractor is a scriptable Extractor.
type StubExtractor struct {
	ExtractFunc func(ctx context.Context, dispatch string) ([]Entity, error)
}

func (s *StubExtractor) Extract(ctx context.Context, dispatch string) ([]Entity, error) {
	if s.ExtractFunc != nil {
		return s.ExtractFunc(ctx, dispatch)
	}
	return nil, nil
}
