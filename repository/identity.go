package repository

import (
	"context"
	"time"

	"github.com/promorang/maturity/domain"
)

// UserRepository resolves accounts for login and override checks.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// SessionRepository keeps login sessions until logout or expiry.
type SessionRepository interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	Save(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, id string) error
	Extend(ctx context.Context, id string, ttl time.Duration) error
}
