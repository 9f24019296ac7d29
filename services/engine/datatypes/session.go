package datatypes

import "time"

// DefaultSessionID is the reserved session id. It is created implicitly on
// first access and may be reset, but never deleted.
const DefaultSessionID = "default"

// SessionMetadata is the small record stored at <session>/meta.json.
// TurnCount and PlayerAlive mirror the state file and are refreshed on
// every state write.
type SessionMetadata struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	TurnCount    int       `json:"turn_count"`
	PlayerAlive  bool      `json:"player_alive"`
	Version      string    `json:"version"`
}

// SessionStatus is the compact per-session view served by the status
// endpoint and broadcast alongside phase events.
type SessionStatus struct {
	SessionID    string `json:"session_id"`
	TurnCount    int    `json:"turn_count"`
	PlayerAlive  bool   `json:"player_alive"`
	TurnInFlight bool   `json:"turn_in_flight"`
	FrameCount   int    `json:"frame_count"`
}
