package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promorang/maturity/pkg/maturity"
)

func TestPromotionTarget(t *testing.T) {
	rules := DefaultPromotionRules()

	assert.Equal(t, maturity.FirstTime, rules.Target(0))
	assert.Equal(t, maturity.FirstTime, rules.Target(2))
	assert.Equal(t, maturity.Active, rules.Target(3))
	assert.Equal(t, maturity.Rewarded, rules.Target(10))
	assert.Equal(t, maturity.PowerUser, rules.Target(1000))

	disabled := PromotionRules{}
	assert.Equal(t, maturity.Active, disabled.Target(1000))
}

func TestPromotionApplyCrossesActiveThreshold(t *testing.T) {
	state := NewMaturityState("u1")
	state.ActionsCount = 2
	now := time.Now()

	promoted := DefaultPromotionRules().Apply(state, now)

	require.True(t, promoted)
	assert.Equal(t, 3, state.ActionsCount)
	assert.Equal(t, maturity.Active, state.Level)
	assert.Equal(t, now, state.UpdatedAt)
}

func TestPromotionApplyNeverDemotes(t *testing.T) {
	state := NewMaturityState("u1")
	state.Level = maturity.OperatorPro
	state.Source = maturity.SourceDemoOverride

	promoted := DefaultPromotionRules().Apply(state, time.Now())

	assert.False(t, promoted)
	assert.Equal(t, maturity.OperatorPro, state.Level)
	assert.Equal(t, 1, state.ActionsCount)
}

func TestActionRecordValidate(t *testing.T) {
	rec := &ActionRecord{UserID: "u1", Action: maturity.ActionEventRSVP, Surface: maturity.SurfaceMobile}
	require.NoError(t, rec.Validate())

	rec.Action = "made_up"
	assert.True(t, IsDomainError(rec.Validate(), ErrCodeInvalid))

	rec.Action = maturity.ActionEventRSVP
	rec.Surface = "watch"
	assert.ErrorIs(t, rec.Validate(), ErrInvalidSurface)

	assert.ErrorIs(t, (&ActionRecord{}).Validate(), ErrInvalidPayload)
}

func TestUserCanOverrideLevel(t *testing.T) {
	assert.True(t, (&User{Role: RoleDemo}).CanOverrideLevel())
	assert.True(t, (&User{Role: RoleAdmin}).CanOverrideLevel())
	assert.False(t, (&User{Role: RoleMember}).CanOverrideLevel())
	assert.False(t, (*User)(nil).CanOverrideLevel())
}

func TestStateSupersedes(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cached := &MaturityState{UserID: "u1", Level: maturity.Active, ActionsCount: 3, UpdatedAt: t0}

	older := &MaturityState{UserID: "u1", ActionsCount: 2, UpdatedAt: t0.Add(time.Second)}
	assert.False(t, older.Supersedes(cached), "fewer actions never replace more")

	newer := &MaturityState{UserID: "u1", Level: maturity.Active, ActionsCount: 4, UpdatedAt: t0.Add(-time.Second)}
	assert.True(t, newer.Supersedes(cached))

	override := &MaturityState{UserID: "u1", Level: maturity.FirstTime, ActionsCount: 3, UpdatedAt: t0.Add(time.Second)}
	assert.True(t, override.Supersedes(cached), "a later override on the same count wins")
	assert.False(t, cached.Supersedes(override))

	assert.True(t, cached.Supersedes(cached))
	assert.True(t, cached.Supersedes(nil))
}
