// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package replay assembles the end-of-run animated recap from a session's
// recorded frames.
//
// The assembler never drops a frame. When the encoded result exceeds the
// size budget it walks a quality ladder (fewer palette colors, smaller
// dimensions) and re-encodes; only when the lowest rung still busts the
// budget does it fail.
package replay

import (
	"bytes"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"log/slog"
	"os"
	"time"

	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"

	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
	"github.com/AleutianAI/AleutianTale/services/engine/observability"
)

// DefaultBudgetBytes bounds the encoded replay size when the config does
// not override it.
const DefaultBudgetBytes = 15 << 20

// frameDelay is the per-frame display time in 1/100ths of a second. The
// final frame lingers.
const (
	frameDelay      = 90
	finalFrameDelay = 250
)

// qualityLadder is walked top to bottom until the encoded GIF fits the
// budget. Every rung keeps all frames.
var qualityLadder = []struct {
	scale  float64
	colors int
}{
	{1.0, 256},
	{0.75, 128},
	{0.5, 64},
	{0.25, 16},
}

// Assemble encodes the frames at refs into an animated GIF at outPath,
// within budgetBytes (DefaultBudgetBytes when <= 0).
//
// Fewer than two readable frames fails with ErrNotEnoughFrames: a single
// image is not an animation. A budget no rung of the quality ladder can
// meet fails without writing anything.
func Assemble(refs []datatypes.FrameRef, outPath string, budgetBytes int64) error {
	if budgetBytes <= 0 {
		budgetBytes = DefaultBudgetBytes
	}

	var imgs []image.Image
	for _, ref := range refs {
		img, err := loadImage(string(ref))
		if err != nil {
			// A missing or corrupt frame shrinks the recap; it does not
			// block it.
			slog.Warn("skipping unreadable frame", "path", string(ref), "error", err)
			continue
		}
		imgs = append(imgs, img)
	}
	if len(imgs) < 2 {
		countAssembly("not_enough_frames")
		return fmt.Errorf("%w: have %d readable frames, need 2", datatypes.ErrNotEnoughFrames, len(imgs))
	}

	start := time.Now()
	for _, rung := range qualityLadder {
		encoded, err := encode(imgs, rung.scale, rung.colors)
		if err != nil {
			countAssembly("error")
			return fmt.Errorf("replay encode failed: %w", err)
		}
		if int64(encoded.Len()) > budgetBytes {
			continue
		}
		if err := os.WriteFile(outPath, encoded.Bytes(), 0o640); err != nil {
			countAssembly("error")
			return fmt.Errorf("replay write failed: %w", err)
		}
		slog.Info("replay assembled",
			"frames", len(imgs),
			"scale", rung.scale,
			"colors", rung.colors,
			"bytes", encoded.Len(),
			"duration_ms", time.Since(start).Milliseconds(),
			"path", outPath)
		countAssembly("success")
		return nil
	}

	countAssembly("over_budget")
	return fmt.Errorf("replay exceeds %d byte budget at minimum quality with %d frames", budgetBytes, len(imgs))
}

func countAssembly(status string) {
	if m := observability.DefaultMetrics; m != nil {
		m.ReplayAssemblies.WithLabelValues(status).Inc()
	}
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// encode renders all frames at the given quality rung. Frames are scaled
// to a common canvas sized from the first frame so mixed dimensions (the
// branding card next to rendered frames) align.
func encode(imgs []image.Image, scale float64, colors int) (*bytes.Buffer, error) {
	base := imgs[0].Bounds()
	w := int(float64(base.Dx()) * scale)
	h := int(float64(base.Dy()) * scale)
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("degenerate canvas %dx%d", w, h)
	}
	canvas := image.Rect(0, 0, w, h)
	pal := palette.Plan9[:colors]

	out := &gif.GIF{LoopCount: 0}
	for i, img := range imgs {
		scaled := image.NewRGBA(canvas)
		xdraw.ApproxBiLinear.Scale(scaled, canvas, img, img.Bounds(), xdraw.Over, nil)

		framed := image.NewPaletted(canvas, pal)
		draw.FloydSteinberg.Draw(framed, canvas, scaled, image.Point{})

		delay := frameDelay
		if i == len(imgs)-1 {
			delay = finalFrameDelay
		}
		out.Image = append(out.Image, framed)
		out.Delay = append(out.Delay, delay)
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, out); err != nil {
		return nil, err
	}
	return &buf, nil
}
