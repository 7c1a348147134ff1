package transport

import (
	"encoding/json"
	"time"

	"github.com/promorang/maturity/pkg/maturity"
)

// Envelope is the standard API response wrapper used for both success and error payloads.
type Envelope struct {
	Status string      `json:"status"`
	Code   string      `json:"code,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  interface{} `json:"error,omitempty"`
	Meta   interface{} `json:"meta,omitempty"`
}

// NewSuccess returns a success envelope.
func NewSuccess(data interface{}, meta interface{}) Envelope {
	return Envelope{
		Status: "success",
		Data:   data,
		Meta:   meta,
	}
}

// NewError returns an error envelope with optional metadata.
func NewError(code string, err interface{}, meta interface{}) Envelope {
	return Envelope{
		Status: "error",
		Code:   code,
		Error:  err,
		Meta:   meta,
	}
}

// String returns the JSON representation (best-effort) for logging purposes.
func (e Envelope) String() string {
	out, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(out)
}

// MaturityStateResponse is returned by both maturity endpoints.
type MaturityStateResponse struct {
	MaturityState        int                               `json:"maturity_state"`
	VerifiedActionsCount int                               `json:"verified_actions_count"`
	Visibility           map[maturity.Feature]maturity.Mode `json:"visibility"`
	Source               maturity.Source                   `json:"source"`
	LevelLabel           string                            `json:"level_label"`
	ActionsRemaining     int                               `json:"actions_remaining"`
	Pending              bool                              `json:"pending,omitempty"`
	UpdatedAt            *time.Time                        `json:"updated_at,omitempty"`
}

// PendingActionResponse acknowledges a buffered action when no confirmed
// state was available to project the result from.
type PendingActionResponse struct {
	Pending  bool   `json:"pending"`
	ActionID string `json:"action_id"`
}

// SessionResponse is returned by login and refresh.
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
