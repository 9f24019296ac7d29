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
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Image-generation timeout scaling. Reference-conditioned renders are
// slower, so the deadline grows with the reference count up to a hard cap.
const (
	imageBaseTimeout   = 30 * time.Second
	imagePerRefTimeout = 10 * time.Second
	imageMaxTimeout    = 120 * time.Second
)

// ImageTimeout returns the per-request deadline for a render with the
// given number of reference frames.
func ImageTimeout(refs int) time.Duration {
	d := imageBaseTimeout + time.Duration(refs)*imagePerRefTimeout
	if d > imageMaxTimeout {
		return imageMaxTimeout
	}
	return d
}

// OpenAIImage renders frames through the OpenAI images API and writes
// them as PNG files into the session's images directory.
//
// # Limitations
//
// The generations endpoint does not accept conditioning images, so
// reference frames contribute continuity instructions to the prompt and
// scale the deadline rather than being uploaded.
type OpenAIImage struct {
	client  *openai.Client
	model   string
	size    string
	limiter *rate.Limiter
}

// NewOpenAIImage returns an OpenAI-backed image generator. requestsPerMin
// bounds the outbound rate across all sessions; zero disables limiting.
func NewOpenAIImage(client *openai.Client, model, size string, requestsPerMin int) *OpenAIImage {
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMin)/60.0), 1)
	}
	return &OpenAIImage{client: client, model: model, size: size, limiter: limiter}
}

func (g *OpenAIImage) Generate(ctx context.Context, req ImageRequest) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, ImageTimeout(len(req.References)))
	defer cancel()

	prompt := req.Vision
	if len(req.References) > 0 {
		prompt += "\n\nThis frame continues an ongoing visual sequence: keep the established art style, palette, and character appearance consistent with the previous shot."
	}

	start := time.Now()
	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          g.model,
		N:              1,
		Size:           g.size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("image generation: empty response")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return "", fmt.Errorf("image generation: decode payload: %w", err)
	}

	// Timestamp keeps filenames unique across restarts, which reset the
	// turn counter but keep the images directory.
	name := fmt.Sprintf("frame_t%04d_%d.png", req.Turn, time.Now().UnixNano())
	path := filepath.Join(req.OutputDir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("image generation: write frame: %w", err)
	}

	slog.Info("frame rendered",
		"session_id", req.SessionID,
		"turn", req.Turn,
		"references", len(req.References),
		"duration_ms", time.Since(start).Milliseconds(),
		"path", path)
	return path, nil
}
