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

// Request bodies for the engine's HTTP surface. Binding tags are enforced
// by gin's validator integration; session ids additionally pass through
// pkg/validation before touching the filesystem.

// CreateSessionRequest creates a session explicitly. SessionID is optional;
// when absent a v4 UUID is generated.
type CreateSessionRequest struct {
	Name        string `json:"name" binding:"required,max=200"`
	Description string `json:"description" binding:"max=2000"`
	SessionID   string `json:"session_id" binding:"omitempty,max=100"`
}

// IntroRequest starts the intro path for a session, creating it implicitly
// when it does not exist yet.
type IntroRequest struct {
	SessionID string `json:"session_id" binding:"required,max=100"`
}

// ActionImageRequest triggers Phase A for one player action.
type ActionImageRequest struct {
	SessionID string `json:"session_id" binding:"required,max=100"`
	Choice    string `json:"choice" binding:"required,max=500"`
	IsCustom  bool   `json:"is_custom"`

	// Fate is optional and only honored in test deployments; production
	// rolls server-side.
	Fate Fate `json:"fate" binding:"omitempty,oneof=LUCKY NORMAL UNLUCKY"`
}

// ActionChoicesRequest triggers Phase B after a completed Phase A.
type ActionChoicesRequest struct {
	SessionID string `json:"session_id" binding:"required,max=100"`
}

// RestartRequest asks for a restart, either from the PlayAgain affordance
// during a death sequence or as an explicit reset.
type RestartRequest struct {
	SessionID string `json:"session_id" binding:"required,max=100"`
}

// SessionDetailResponse is the full per-session view: metadata, state, and
// the history tail.
type SessionDetailResponse struct {
	Metadata SessionMetadata `json:"metadata"`
	State    *WorldState     `json:"state"`
	History  []HistoryEntry  `json:"history"`
}

// ErrorResponse carries a short machine code plus a human message.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
