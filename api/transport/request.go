package transport

import "encoding/json"

type AuthLoginRequest struct {
	UserID string `json:"user_id"`
	TTL    int    `json:"ttl_seconds"`
}

type RefreshRequest struct {
	SessionID string `json:"session_id"`
	TTL       int    `json:"ttl_seconds"`
}

// RecordActionRequest is the body of POST /api/maturity/action.
type RecordActionRequest struct {
	ActionType string          `json:"action_type"`
	Metadata   json.RawMessage `json:"metadata"`
	Surface    string          `json:"surface"`
}

// OverrideRequest is the body of PUT /api/maturity/override.
type OverrideRequest struct {
	Level *int `json:"level"`
}
