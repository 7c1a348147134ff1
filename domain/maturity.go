package domain

import (
	"encoding/json"
	"time"

	"github.com/promorang/maturity/pkg/maturity"
)

// MaturityState is the server-side progression record of one user.
type MaturityState struct {
	UserID       string          `json:"user_id"`
	Level        maturity.Level  `json:"level"`
	ActionsCount int             `json:"actions_count"`
	Source       maturity.Source `json:"source"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewMaturityState returns the state of a user who has done nothing yet.
func NewMaturityState(userID string) *MaturityState {
	return &MaturityState{
		UserID: userID,
		Level:  maturity.FirstTime,
		Source: maturity.SourceServer,
	}
}

// Clone returns a copy safe to mutate.
func (s *MaturityState) Clone() *MaturityState {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// Supersedes reports whether s may replace other in a cache. A state with
// more verified actions wins; on equal counts the later write wins.
func (s *MaturityState) Supersedes(other *MaturityState) bool {
	if other == nil {
		return true
	}
	if s.ActionsCount != other.ActionsCount {
		return s.ActionsCount > other.ActionsCount
	}
	return !s.UpdatedAt.Before(other.UpdatedAt)
}

// ActionRecord is one verified action reported by a client.
type ActionRecord struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Action     maturity.Action  `json:"action_type"`
	Surface    maturity.Surface `json:"surface"`
	Metadata   json.RawMessage  `json:"metadata,omitempty"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// Validate checks the closed action set and the surface tag.
func (r *ActionRecord) Validate() error {
	if r == nil || r.UserID == "" {
		return ErrInvalidPayload
	}
	if !r.Action.Valid() {
		return ErrInvalidAction
	}
	if !r.Surface.Valid() {
		return ErrInvalidSurface
	}
	return nil
}
