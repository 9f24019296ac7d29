// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package replay

import (
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPNG(t *testing.T, dir, name string, w, h int, c color.Color) datatypes.FrameRef {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return datatypes.FrameRef(path)
}

func TestAssembleProducesAnimatedGIF(t *testing.T) {
	dir := t.TempDir()
	refs := []datatypes.FrameRef{
		writeTestPNG(t, dir, "a.png", 64, 48, color.RGBA{R: 200, A: 255}),
		writeTestPNG(t, dir, "b.png", 64, 48, color.RGBA{G: 200, A: 255}),
		writeTestPNG(t, dir, "c.png", 64, 48, color.RGBA{B: 200, A: 255}),
	}
	out := filepath.Join(dir, "replay.gif")

	require.NoError(t, Assemble(refs, out, 0))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	g, err := gif.DecodeAll(f)
	require.NoError(t, err)

	assert.Len(t, g.Image, 3, "every frame survives")
	assert.Equal(t, finalFrameDelay, g.Delay[2], "last frame lingers")
	assert.Equal(t, 64, g.Image[0].Bounds().Dx())
}

func TestAssembleMixedDimensionsAlign(t *testing.T) {
	dir := t.TempDir()
	refs := []datatypes.FrameRef{
		writeTestPNG(t, dir, "title.png", 120, 90, color.Black),
		writeTestPNG(t, dir, "frame.png", 64, 48, color.White),
	}
	out := filepath.Join(dir, "replay.gif")
	require.NoError(t, Assemble(refs, out, 0))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	g, err := gif.DecodeAll(f)
	require.NoError(t, err)
	assert.Equal(t, g.Image[0].Bounds(), g.Image[1].Bounds())
}

func TestAssembleRequiresTwoFrames(t *testing.T) {
	dir := t.TempDir()
	one := []datatypes.FrameRef{writeTestPNG(t, dir, "a.png", 8, 8, color.White)}

	err := Assemble(one, filepath.Join(dir, "out.gif"), 0)
	assert.ErrorIs(t, err, datatypes.ErrNotEnoughFrames)

	err = Assemble(nil, filepath.Join(dir, "out.gif"), 0)
	assert.ErrorIs(t, err, datatypes.ErrNotEnoughFrames)
}

func TestAssembleSkipsUnreadableFrames(t *testing.T) {
	dir := t.TempDir()
	refs := []datatypes.FrameRef{
		writeTestPNG(t, dir, "a.png", 16, 16, color.White),
		datatypes.FrameRef(filepath.Join(dir, "missing.png")),
		writeTestPNG(t, dir, "b.png", 16, 16, color.Black),
	}
	out := filepath.Join(dir, "replay.gif")
	require.NoError(t, Assemble(refs, out, 0))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	g, err := gif.DecodeAll(f)
	require.NoError(t, err)
	assert.Len(t, g.Image, 2)
}

func TestAssembleImpossibleBudgetFails(t *testing.T) {
	dir := t.TempDir()
	refs := []datatypes.FrameRef{
		writeTestPNG(t, dir, "a.png", 256, 256, color.RGBA{R: 10, G: 200, B: 90, A: 255}),
		writeTestPNG(t, dir, "b.png", 256, 256, color.RGBA{R: 200, G: 10, B: 90, A: 255}),
	}
	out := filepath.Join(dir, "replay.gif")

	err := Assemble(refs, out, 64) // nothing fits in 64 bytes
	require.Error(t, err)
	assert.NotErrorIs(t, err, datatypes.ErrNotEnoughFrames)

	// Nothing was written.
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}
