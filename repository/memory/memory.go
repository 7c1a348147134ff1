// Package memory holds map-backed repositories for tests. They follow the
// contracts of the Postgres and Redis implementations, including the
// cache refusing to replace a newer state.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promorang/maturity/domain"
	"github.com/promorang/maturity/pkg/maturity"
	"github.com/promorang/maturity/repository"
)

// MaturityRepository is an in-memory repository.MaturityRepository.
// Set Err to make every call fail, simulating an unreachable database.
type MaturityRepository struct {
	mu      sync.Mutex
	states  map[string]domain.MaturityState
	actions map[string]domain.ActionRecord
	Err     error
}

func NewMaturityRepository() *MaturityRepository {
	return &MaturityRepository{
		states:  make(map[string]domain.MaturityState),
		actions: make(map[string]domain.ActionRecord),
	}
}

func (r *MaturityRepository) GetState(_ context.Context, userID string) (*domain.MaturityState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	state, ok := r.states[userID]
	if !ok {
		return nil, domain.ErrStateNotFound
	}
	return &state, nil
}

func (r *MaturityRepository) RecordAction(_ context.Context, record *domain.ActionRecord, fn repository.ApplyFunc) (*domain.MaturityState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	if record == nil || record.UserID == "" {
		return nil, domain.ErrInvalidPayload
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	state, ok := r.states[record.UserID]
	if !ok {
		state = *domain.NewMaturityState(record.UserID)
	}
	if _, dup := r.actions[record.ID]; dup {
		return &state, nil
	}
	r.actions[record.ID] = *record

	if fn != nil {
		fn(&state)
	}
	state.UpdatedAt = time.Now().UTC()
	r.states[record.UserID] = state
	return &state, nil
}

func (r *MaturityRepository) SetLevel(_ context.Context, userID string, level maturity.Level, source maturity.Source) (*domain.MaturityState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	state, ok := r.states[userID]
	if !ok {
		state = *domain.NewMaturityState(userID)
	}
	state.Level = level
	state.Source = source
	state.UpdatedAt = time.Now().UTC()
	r.states[userID] = state
	return &state, nil
}

func (r *MaturityRepository) ListActions(_ context.Context, userID string, limit int) ([]domain.ActionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	var out []domain.ActionRecord
	for _, rec := range r.actions {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Put seeds a state directly.
func (r *MaturityRepository) Put(state domain.MaturityState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[state.UserID] = state
}

// UserRepository is an in-memory repository.UserRepository.
type UserRepository struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func NewUserRepository(users ...domain.User) *UserRepository {
	r := &UserRepository{users: make(map[string]domain.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

// SessionRepository is an in-memory repository.SessionRepository.
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]domain.Session)}
}

func (r *SessionRepository) Get(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &s, nil
}

func (r *SessionRepository) Save(_ context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" {
		return domain.ErrInvalidPayload
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *session
	stored.Token = ""
	r.sessions[session.ID] = stored
	return nil
}

func (r *SessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *SessionRepository) Extend(_ context.Context, id string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.ExpiresAt = time.Now().Add(ttl)
	r.sessions[id] = s
	return nil
}

// StateCache is an in-memory repository.StateCache without expiry.
// SetErr makes Set fail while leaving existing entries in place. BeforeSet,
// when set, runs ahead of every write outside the lock.
type StateCache struct {
	mu        sync.Mutex
	states    map[string]domain.MaturityState
	SetErr    error
	BeforeSet func(state domain.MaturityState)
}

func NewStateCache() *StateCache {
	return &StateCache{states: make(map[string]domain.MaturityState)}
}

func (c *StateCache) Get(_ context.Context, userID string) (*domain.MaturityState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[userID]
	if !ok {
		return nil, domain.ErrStateNotFound
	}
	return &s, nil
}

func (c *StateCache) Set(_ context.Context, state *domain.MaturityState) error {
	if state == nil || state.UserID == "" {
		return domain.ErrInvalidPayload
	}
	if c.BeforeSet != nil {
		c.BeforeSet(*state)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SetErr != nil {
		return c.SetErr
	}
	if cached, ok := c.states[state.UserID]; ok && !state.Supersedes(&cached) {
		return nil
	}
	c.states[state.UserID] = *state
	return nil
}

func (c *StateCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, userID)
	return nil
}

var (
	_ repository.MaturityRepository = (*MaturityRepository)(nil)
	_ repository.UserRepository     = (*UserRepository)(nil)
	_ repository.SessionRepository  = (*SessionRepository)(nil)
	_ repository.StateCache         = (*StateCache)(nil)
)
