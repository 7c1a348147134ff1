package maturityclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/promorang/maturity/pkg/maturity"
)

var (
	ErrDemoOverrideNotAllowed = errors.New("maturityclient: demo override is only available to demo and admin accounts")
	ErrInvalidAction          = errors.New("maturityclient: unknown verified action")
	ErrSessionClosed          = errors.New("maturityclient: session closed")
)

// Roles returned by login that may override levels.
const (
	RoleDemo  = "demo"
	RoleAdmin = "admin"
)

const defaultHydrateTimeout = 15 * time.Second

// Account identifies the logged-in user a Session belongs to.
type Account struct {
	UserID string
	Token  string
	// Role is the role reported by login.
	Role string
	// Demo forces override paths on regardless of Role. Never set it for
	// real accounts.
	Demo bool
}

// CanOverride mirrors the server rule: demo and admin accounts may set
// levels outside promotion and see the results.
func (a Account) CanOverride() bool {
	return a.Demo || a.Role == RoleDemo || a.Role == RoleAdmin
}

type Option func(*Session)

func WithPolicy(p *maturity.Policy) Option {
	return func(s *Session) {
		if p != nil {
			s.policy = p
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSurface tags recorded actions with the client surface. Defaults to web.
func WithSurface(surface maturity.Surface) Option {
	return func(s *Session) {
		s.surface = surface
	}
}

// WithHydrateTimeout bounds the shared state fetch. It runs detached from
// any single caller's context, so this is its only deadline.
func WithHydrateTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.hydrateTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session owns the maturity state of one user between login and logout.
// It is safe for concurrent use.
type Session struct {
	account Account
	api     API
	storage Storage
	policy  *maturity.Policy
	surface maturity.Surface
	logger  *zap.Logger
	now     func() time.Time

	hydrate        singleflight.Group
	hydrateTimeout time.Duration

	mu      sync.Mutex
	state   State
	issued  uint64
	applied uint64
	closed  bool
}

// Open starts a session on login and restores the persisted snapshot, if any.
func Open(account Account, api API, storage Storage, opts ...Option) (*Session, error) {
	if account.UserID == "" {
		return nil, errors.New("maturityclient: account user id is required")
	}
	if api == nil {
		return nil, errors.New("maturityclient: api is required")
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}
	s := &Session{
		account: account,
		api:     api,
		storage: storage,
		policy:  maturity.DefaultPolicy(),
		surface: maturity.SurfaceWeb,
		logger:  zap.NewNop(),
		now:     time.Now,

		hydrateTimeout: defaultHydrateTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("user_id", account.UserID))
	s.state = s.restore()
	return s, nil
}

func (s *Session) defaults() State {
	return State{
		Level:      maturity.FirstTime,
		Visibility: s.policy.Visibility(maturity.FirstTime),
		Source:     maturity.SourceServer,
	}
}

func (s *Session) restore() State {
	raw, err := s.storage.Get(StorageKey)
	if err != nil {
		return s.defaults()
	}
	state, err := UnmarshalState(raw)
	if err != nil {
		s.logger.Warn("discarding unreadable maturity snapshot", zap.Error(err))
		return s.defaults()
	}
	if state.Source == maturity.SourceDemoOverride && !s.account.CanOverride() {
		s.logger.Warn("dropping demo override snapshot on a real account",
			zap.Stringer("level", state.Level))
		fresh := s.defaults()
		fresh.ActionsCount = state.ActionsCount
		return fresh
	}
	state.Visibility = s.policy.Visibility(state.Level)
	return state
}

// Hydrate fetches the server state. Concurrent calls share one request. On
// failure the cached state is kept and returned together with the error.
// A caller whose ctx ends stops waiting; the shared request keeps running
// for the others until the hydrate timeout.
func (s *Session) Hydrate(ctx context.Context) (State, error) {
	fetch := context.WithoutCancel(ctx)
	ch := s.hydrate.DoChan("state", func() (interface{}, error) {
		seq, err := s.begin()
		if err != nil {
			return nil, err
		}
		fetchCtx, cancel := context.WithTimeout(fetch, s.hydrateTimeout)
		defer cancel()
		remote, err := s.api.FetchState(fetchCtx, s.account.Token)
		if err != nil {
			return nil, err
		}
		s.apply(seq, remote)
		return nil, nil
	})

	var err error
	select {
	case res := <-ch:
		err = res.Err
	case <-ctx.Done():
		err = fmt.Errorf("%w: %w", ErrNetworkFailure, ctx.Err())
	}
	if err != nil {
		s.logFailure("maturity hydrate failed, keeping cached state", err)
	}
	return s.Snapshot(), err
}

// RecordAction reports a verified action and applies the server's answer.
func (s *Session) RecordAction(ctx context.Context, action maturity.Action, metadata json.RawMessage) (State, error) {
	if !action.Valid() {
		return s.Snapshot(), ErrInvalidAction
	}
	seq, err := s.begin()
	if err != nil {
		return s.Snapshot(), err
	}
	remote, err := s.api.PostAction(ctx, s.account.Token, ActionRequest{
		ActionType: action,
		Metadata:   metadata,
		Surface:    s.surface,
	})
	if err != nil {
		s.logFailure("recording verified action failed", err, zap.String("action", string(action)))
		return s.Snapshot(), err
	}
	if remote.Pending {
		s.logger.Debug("server buffered verified action", zap.String("action", string(action)))
	}
	s.apply(seq, remote)
	return s.Snapshot(), nil
}

// ApplyDemoOverride sets the level directly, bypassing promotion. It is
// refused for accounts that cannot override.
func (s *Session) ApplyDemoOverride(level maturity.Level) (State, error) {
	if !s.account.CanOverride() {
		s.logger.Warn("demo override refused for real account", zap.Stringer("level", level))
		return s.Snapshot(), ErrDemoOverrideNotAllowed
	}
	if _, err := maturity.ParseLevel(int(level)); err != nil {
		return s.Snapshot(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.state.clone(), ErrSessionClosed
	}
	// responses to requests issued before the override must not undo it
	s.issued++
	s.applied = s.issued

	next := s.state.clone()
	next.Level = level
	next.Source = maturity.SourceDemoOverride
	next.Visibility = s.policy.Visibility(level)
	s.state = next
	s.persistLocked()
	s.logger.Warn("demo override applied", zap.Stringer("level", level))
	return next.clone(), nil
}

// Close ends the session on logout, clearing memory and device storage.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.state = s.defaults()
	return s.storage.Delete(StorageKey)
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Session) Level() maturity.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Level
}

// Resolve evaluates feature against the local policy at the current level.
func (s *Session) Resolve(feature maturity.Feature) maturity.Mode {
	return s.policy.Resolve(feature, s.Level())
}

func (s *Session) Access(feature maturity.Feature) maturity.Access {
	return s.policy.CheckAccess(feature, s.Level())
}

func (s *Session) Explain(feature maturity.Feature) maturity.Explanation {
	state := s.Snapshot()
	return s.policy.Explain(feature, state.Level, state.ActionsCount)
}

func (s *Session) RequiredActionsRemaining() int {
	state := s.Snapshot()
	return maturity.RequiredActionsRemaining(state.Level, state.ActionsCount)
}

func (s *Session) begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionClosed
	}
	s.issued++
	return s.issued, nil
}

// apply merges a server answer issued as request seq. Answers older than the
// last applied one are dropped. Level and count only move forward, except for
// a server-side demo override on a demo account.
func (s *Session) apply(seq uint64, remote *RemoteState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if seq < s.applied {
		s.logger.Debug("discarding stale maturity response",
			zap.Uint64("seq", seq), zap.Uint64("applied", s.applied))
		return false
	}
	s.applied = seq

	if remote.Pending && remote.MaturityState == nil && remote.VerifiedActionsCount == nil {
		s.logger.Debug("server buffered action without a confirmed state, keeping local state")
		return false
	}

	next := s.state.clone()
	remoteLevel, levelOK := s.mergeLevel(&next, remote)
	if remote.VerifiedActionsCount != nil && *remote.VerifiedActionsCount >= 0 {
		next.ActionsCount = max(next.ActionsCount, *remote.VerifiedActionsCount)
	} else {
		s.logger.Warn("maturity payload missing verified_actions_count, keeping local count")
	}
	next.Visibility = s.policy.Visibility(next.Level)
	if levelOK {
		s.checkDrift(remote.Visibility, remoteLevel)
	}
	fetched := s.now().UTC().Truncate(time.Millisecond)
	next.LastFetched = &fetched

	s.state = next
	s.persistLocked()
	return true
}

func (s *Session) mergeLevel(next *State, remote *RemoteState) (maturity.Level, bool) {
	if remote.MaturityState == nil {
		s.logger.Warn("maturity payload missing maturity_state, keeping local level")
		return next.Level, false
	}
	level, err := maturity.ParseLevel(*remote.MaturityState)
	if err != nil {
		s.logger.Warn("maturity payload has invalid level, keeping local level", zap.Error(err))
		return next.Level, false
	}

	if remote.Source == maturity.SourceDemoOverride {
		if !s.account.CanOverride() {
			s.logger.Warn("ignoring demo override level sent for a real account",
				zap.Stringer("level", level))
			return level, false
		}
		next.Level = level
		next.Source = maturity.SourceDemoOverride
		return level, true
	}

	if level < next.Level {
		s.logger.Debug("server level behind local level",
			zap.Stringer("server", level), zap.Stringer("local", next.Level))
	} else {
		next.Level = level
		next.Source = maturity.SourceServer
	}
	return level, true
}

func (s *Session) checkDrift(remote map[maturity.Feature]maturity.Mode, level maturity.Level) {
	if len(remote) == 0 {
		return
	}
	var drift []string
	for feature, mode := range remote {
		if s.policy.Resolve(feature, level) != mode {
			drift = append(drift, string(feature))
		}
	}
	if len(drift) == 0 {
		return
	}
	sort.Strings(drift)
	s.logger.Warn("server visibility differs from local policy",
		zap.Stringer("level", level), zap.Strings("features", drift))
}

func (s *Session) persistLocked() {
	raw, err := MarshalState(s.state)
	if err != nil {
		s.logger.Error("encode maturity snapshot", zap.Error(err))
		return
	}
	if err := s.storage.Put(StorageKey, raw); err != nil {
		s.logger.Warn("persist maturity snapshot", zap.Error(err))
	}
}

func (s *Session) logFailure(msg string, err error, fields ...zap.Field) {
	if errors.Is(err, ErrSessionClosed) {
		return
	}
	fields = append(fields, zap.Error(err))
	if errors.Is(err, ErrInvalidPayload) {
		s.logger.Warn(msg+": invalid payload", fields...)
		return
	}
	s.logger.Warn(msg, fields...)
}
