package repository

import (
	"context"

	"github.com/promorang/maturity/domain"
	"github.com/promorang/maturity/pkg/maturity"
)

// ApplyFunc mutates a locked state inside the RecordAction transaction.
type ApplyFunc func(state *domain.MaturityState)

type MaturityRepository interface {
	GetState(ctx context.Context, userID string) (*domain.MaturityState, error)
	// RecordAction stores the action and applies fn to the user's state
	// atomically. Replaying an already stored action ID leaves the state
	// untouched and returns it as is.
	RecordAction(ctx context.Context, record *domain.ActionRecord, fn ApplyFunc) (*domain.MaturityState, error)
	SetLevel(ctx context.Context, userID string, level maturity.Level, source maturity.Source) (*domain.MaturityState, error)
	ListActions(ctx context.Context, userID string, limit int) ([]domain.ActionRecord, error)
}

// StateCache is a read-through cache in front of MaturityRepository.
type StateCache interface {
	Get(ctx context.Context, userID string) (*domain.MaturityState, error)
	// Set stores state unless the cached entry supersedes it, in which case
	// the write is dropped without error.
	Set(ctx context.Context, state *domain.MaturityState) error
	Invalidate(ctx context.Context, userID string) error
}
