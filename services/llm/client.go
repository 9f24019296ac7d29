// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides clients for the text-generation backends the
// engine can run against: OpenAI, Anthropic, Ollama, and a local
// llama.cpp server. All backends satisfy the LLMClient interface; the
// engine picks one at startup from configuration.
package llm

import "context"

// GenerationParams carries per-request sampling knobs. Nil fields fall
// back to backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Message is a single chat turn for backends that expose a chat API.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}
