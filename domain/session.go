package domain

import "time"

// Session is a login session stored in Redis. Its ID travels inside the
// issued token so logout can invalidate the token before it expires.
type Session struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Role      string            `json:"role,omitempty"`
	Token     string            `json:"token,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (s *Session) IsExpired(reference time.Time) bool {
	if s == nil {
		return true
	}
	if reference.IsZero() {
		reference = time.Now()
	}
	return !s.ExpiresAt.After(reference)
}
