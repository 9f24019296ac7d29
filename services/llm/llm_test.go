// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaGenerate(t *testing.T) {
	var gotPath string
	var gotReq ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:    gotReq.Model,
			Response: "a quiet street",
			Done:     true,
		})
	}))
	defer srv.Close()

	t.Setenv("OLLAMA_BASE_URL", srv.URL)
	t.Setenv("OLLAMA_MODEL", "llama3.1")
	client, err := NewOllamaClient()
	require.NoError(t, err)

	temp := float32(0.4)
	out, err := client.Generate(context.Background(), "describe the street",
		GenerationParams{Temperature: &temp})
	require.NoError(t, err)
	assert.Equal(t, "a quiet street", out)
	assert.Equal(t, "/api/generate", gotPath)
	assert.Equal(t, "llama3.1", gotReq.Model)
	assert.False(t, gotReq.Stream)
	assert.InDelta(t, 0.4, gotReq.Options["temperature"], 0.001)
}

func TestOllamaGenerateModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "model 'ghost' not found"})
	}))
	defer srv.Close()

	t.Setenv("OLLAMA_BASE_URL", srv.URL)
	t.Setenv("OLLAMA_MODEL", "ghost")
	client, err := NewOllamaClient()
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "x", GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull ghost")
}

func TestOllamaChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: Message{Role: "assistant", Content: "noted"},
			Done:    true,
		})
	}))
	defer srv.Close()

	t.Setenv("OLLAMA_BASE_URL", srv.URL)
	t.Setenv("OLLAMA_MODEL", "llama3.1")
	client, err := NewOllamaClient()
	require.NoError(t, err)

	out, err := client.Chat(context.Background(), []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hello"},
	}, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "noted", out)
}

func TestOllamaClientRequiresBaseURL(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	_, err := NewOllamaClient()
	require.Error(t, err)
}

func TestLocalLlamaCppGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/completion", r.URL.Path)
		var payload localCompletionPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, 2048, payload.NPredict)
		json.NewEncoder(w).Encode(localCompletionResponse{Content: "fog rolls in"})
	}))
	defer srv.Close()

	t.Setenv("LLM_SERVICE_URL_BASE", srv.URL)
	client, err := NewLocalLlamaCppClient()
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "weather", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "fog rolls in", out)
}

func TestLocalLlamaCppErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	t.Setenv("LLM_SERVICE_URL_BASE", srv.URL)
	client, err := NewLocalLlamaCppClient()
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "x", GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestAnthropicChatSystemPromptHandling(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		assert.NotEmpty(t, r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: "done"}},
		})
	}))
	defer srv.Close()

	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("CLAUDE_MODEL", "claude-3-5-sonnet-20240620")
	client, err := NewAnthropicClient()
	require.NoError(t, err)
	client.httpClient = srv.Client()

	// Point the client at the test server through a request rewriter.
	client.httpClient.Transport = rewriteHost(srv)

	out, err := client.Chat(context.Background(), []Message{
		{Role: "system", Content: "stay in character"},
		{Role: "user", Content: "go"},
	}, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	require.Len(t, gotReq.System, 1)
	assert.Equal(t, "stay in character", gotReq.System[0].Text)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
}

type hostRewriter struct {
	target *httptest.Server
}

func rewriteHost(srv *httptest.Server) http.RoundTripper {
	return hostRewriter{target: srv}
}

func (h hostRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = "http"
	clone.URL.Host = h.target.Listener.Addr().String()
	return http.DefaultTransport.RoundTrip(clone)
}
