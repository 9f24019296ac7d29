// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the engine's HTTP surface on gin.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTale/services/engine/datatypes"
)

var errInvalidLimit = errors.New("limit must be a non-negative integer")

// respondError maps the behavioral error kinds onto HTTP statuses with a
// stable machine code.
func respondError(c *gin.Context, err error) {
	var status int
	var code string
	switch {
	case errors.Is(err, datatypes.ErrInvalidInput):
		status, code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, datatypes.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, datatypes.ErrAlreadyExists):
		status, code = http.StatusConflict, "already_exists"
	case errors.Is(err, datatypes.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, datatypes.ErrCancelled):
		// Client went away mid-turn; 499 in the nginx convention.
		status, code = 499, "cancelled"
	case errors.Is(err, datatypes.ErrTurnFailed):
		status, code = http.StatusInternalServerError, "turn_failed"
	default:
		status, code = http.StatusInternalServerError, "internal"
	}
	c.JSON(status, datatypes.ErrorResponse{Code: code, Message: err.Error()})
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Code: "invalid_input", Message: err.Error()})
}
