// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "errors"

// Behavioral error kinds for the engine. Handlers map these to HTTP status
// codes with errors.Is; internal callers wrap them with fmt.Errorf and %w
// to keep the chain intact.
var (
	// ErrInvalidInput marks a malformed session id, filename, or request
	// body. No state change occurred.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a missing session or file.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists marks an explicit session-id collision on create.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState marks a turn submitted while the player is dead,
	// while another turn is in flight, or a Phase B request without a
	// completed Phase A.
	ErrInvalidState = errors.New("invalid state")

	// ErrTurnFailed marks a persistent-disk failure mid-turn. The turn
	// aborted with no partial commit.
	ErrTurnFailed = errors.New("turn failed")

	// ErrCancelled marks a caller-initiated cancellation. State is
	// untouched.
	ErrCancelled = errors.New("cancelled")

	// ErrNotEnoughFrames marks a death with fewer than two recorded
	// frames, which cannot produce an animated replay.
	ErrNotEnoughFrames = errors.New("not enough frames recorded")
)
