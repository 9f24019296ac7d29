// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTale/pkg/validation"
	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
	"github.com/AleutianAI/AleutianTale/services/engine/store"
)

// Asset serving for a session's generated files. Both path parameters are
// validated before any filesystem access; the session id and filename
// each resolve to exactly one path inside the session's own subtree.

func serveSessionFile(c *gin.Context, dir func(string) string) {
	id := c.Param("id")
	name := c.Param("filename")
	if err := validation.ValidateSessionID(id); err != nil {
		respondError(c, fmt.Errorf("%w: %v", datatypes.ErrInvalidInput, err))
		return
	}
	if err := validation.ValidateFilename(name); err != nil {
		respondError(c, fmt.Errorf("%w: %v", datatypes.ErrInvalidInput, err))
		return
	}

	path := filepath.Join(dir(id), name)
	if _, err := os.Stat(path); err != nil {
		respondError(c, fmt.Errorf("%w: %s", datatypes.ErrNotFound, name))
		return
	}
	c.File(path)
}

// SessionImage handles GET /api/sessions/:id/images/:filename.
func SessionImage(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) { serveSessionFile(c, st.ImagesDir) }
}

// SessionTape handles GET /api/sessions/:id/tapes/:filename, the death
// replay artifacts.
func SessionTape(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) { serveSessionFile(c, st.TapesDir) }
}

// SessionVideo handles GET /api/sessions/:id/videos/:filename, serving
// stitched films from the final directory.
func SessionVideo(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) { serveSessionFile(c, st.FilmsFinalDir) }
}
