package maturity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/promorang/maturity/domain"
	"github.com/promorang/maturity/pkg/logger"
	policy "github.com/promorang/maturity/pkg/maturity"
	"github.com/promorang/maturity/repository"
	"github.com/promorang/maturity/usecase"
)

// StateView is a user's state together with the visibility it implies.
type StateView struct {
	State      *domain.MaturityState
	Visibility map[policy.Feature]policy.Mode
	// Pending is set when the action was buffered and the state is a
	// projection that storage has not confirmed yet. State is nil when no
	// confirmed state was at hand to project from.
	Pending bool
}

// FeatureView is the access decision for one feature.
type FeatureView struct {
	Feature     policy.Feature     `json:"feature"`
	Mode        policy.Mode        `json:"mode"`
	Access      policy.Access      `json:"access"`
	Explanation policy.Explanation `json:"explanation"`
}

type Config struct {
	Policy *policy.Policy
	Rules  domain.PromotionRules
}

type UseCase struct {
	states repository.MaturityRepository
	cache  repository.StateCache
	users  repository.UserRepository
	buffer usecase.OperationBuffer
	policy *policy.Policy
	rules  domain.PromotionRules
	logger *zap.Logger
	now    func() time.Time
}

func New(
	states repository.MaturityRepository,
	cache repository.StateCache,
	users repository.UserRepository,
	buffer usecase.OperationBuffer,
	cfg Config,
	logger *zap.Logger,
) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Policy == nil {
		cfg.Policy = policy.DefaultPolicy()
	}
	return &UseCase{
		states: states,
		cache:  cache,
		users:  users,
		buffer: buffer,
		policy: cfg.Policy,
		rules:  cfg.Rules,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Policy exposes the feature table the use case evaluates against.
func (uc *UseCase) Policy() *policy.Policy {
	return uc.policy
}

func (uc *UseCase) GetState(ctx context.Context, userID string) (*StateView, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	state, err := uc.loadState(ctx, userID)
	if err != nil {
		return nil, err
	}
	return uc.view(state, false), nil
}

func (uc *UseCase) RecordAction(ctx context.Context, record *domain.ActionRecord) (*StateView, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = uc.now()
	}
	log := logger.WithRequestID(ctx, uc.logger).With(
		zap.String("user_id", record.UserID),
		zap.String("action", string(record.Action)),
	)

	var (
		before   policy.Level
		promoted bool
	)
	state, err := uc.states.RecordAction(ctx, record, func(s *domain.MaturityState) {
		before = s.Level
		promoted = uc.rules.Apply(s, uc.now())
	})
	if err != nil {
		return uc.bufferAction(ctx, record, err, log)
	}

	if promoted {
		log.Info("user promoted",
			zap.Stringer("from", before),
			zap.Stringer("to", state.Level),
			zap.Int("actions_count", state.ActionsCount))
	}
	uc.storeCache(ctx, state)
	return uc.view(state, false), nil
}

// OverrideLevel sets a level outside normal promotion. It is the only path
// that may lower a level and is refused for member accounts.
func (uc *UseCase) OverrideLevel(ctx context.Context, userID string, level policy.Level) (*StateView, error) {
	if !level.Valid() {
		return nil, domain.ErrInvalidLevel
	}
	user, err := uc.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.CanOverrideLevel() {
		return nil, domain.ErrOverrideForbidden
	}

	state, err := uc.states.SetLevel(ctx, userID, level, policy.SourceDemoOverride)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeUnavailable, "override level", err)
	}
	logger.WithRequestID(ctx, uc.logger).Warn("maturity level overridden",
		zap.String("user_id", userID),
		zap.String("role", user.Role),
		zap.Stringer("level", level))

	uc.storeCache(ctx, state)
	return uc.view(state, false), nil
}

func (uc *UseCase) FeatureAccess(ctx context.Context, userID string, feature policy.Feature) (*FeatureView, error) {
	if feature == "" {
		return nil, domain.ErrInvalidPayload
	}
	view, err := uc.GetState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !uc.policy.Known(feature) {
		uc.logger.Debug("unknown feature key", zap.String("feature", string(feature)))
	}
	level := view.State.Level
	return &FeatureView{
		Feature:     feature,
		Mode:        uc.policy.Resolve(feature, level),
		Access:      uc.policy.CheckAccess(feature, level),
		Explanation: uc.policy.Explain(feature, level, view.State.ActionsCount),
	}, nil
}

// RecentActions lists the caller's verified actions, newest first.
func (uc *UseCase) RecentActions(ctx context.Context, userID string, limit int) ([]domain.ActionRecord, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	records, err := uc.states.ListActions(ctx, userID, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeUnavailable, "list actions", err)
	}
	if records == nil {
		records = []domain.ActionRecord{}
	}
	return records, nil
}

func (uc *UseCase) loadState(ctx context.Context, userID string) (*domain.MaturityState, error) {
	if uc.cache != nil {
		if cached, err := uc.cache.Get(ctx, userID); err == nil {
			return cached, nil
		} else if !errors.Is(err, domain.ErrStateNotFound) {
			uc.logger.Warn("state cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	state, err := uc.states.GetState(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrStateNotFound):
		return domain.NewMaturityState(userID), nil
	case err != nil:
		return nil, domain.WrapError(domain.ErrCodeUnavailable, "load maturity state", err)
	}
	uc.storeCache(ctx, state)
	return state, nil
}

func (uc *UseCase) bufferAction(ctx context.Context, record *domain.ActionRecord, cause error, log *zap.Logger) (*StateView, error) {
	if uc.buffer == nil {
		return nil, domain.WrapError(domain.ErrCodeUnavailable, "record action", cause)
	}
	if err := uc.buffer.BufferAction(ctx, record); err != nil {
		log.Error("failed to buffer action", zap.Error(err))
		return nil, domain.WrapError(domain.ErrCodeUnavailable, "record action", cause)
	}
	log.Warn("action buffered due to repository error", zap.Error(cause))

	if uc.cache == nil {
		return &StateView{Pending: true}, nil
	}
	cached, err := uc.cache.Get(ctx, record.UserID)
	if err != nil {
		// the count is unknown, so any projection would be a guess
		return &StateView{Pending: true}, nil
	}
	projected := cached.Clone()
	uc.rules.Apply(projected, uc.now())
	return uc.view(projected, true), nil
}

func (uc *UseCase) storeCache(ctx context.Context, state *domain.MaturityState) {
	if uc.cache == nil || state == nil {
		return
	}
	if err := uc.cache.Set(ctx, state); err != nil {
		uc.logger.Warn("state cache write failed", zap.String("user_id", state.UserID), zap.Error(err))
		// an older entry would otherwise be served until it expires
		if err := uc.cache.Invalidate(ctx, state.UserID); err != nil {
			uc.logger.Warn("state cache invalidate failed", zap.String("user_id", state.UserID), zap.Error(err))
		}
	}
}

func (uc *UseCase) view(state *domain.MaturityState, pending bool) *StateView {
	return &StateView{
		State:      state,
		Visibility: uc.policy.Visibility(state.Level),
		Pending:    pending,
	}
}
