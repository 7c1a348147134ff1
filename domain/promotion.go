package domain

import (
	"time"

	"github.com/promorang/maturity/pkg/maturity"
)

// PromotionRules decides level transitions after a verified action.
// Active is always reached at maturity.ActiveThreshold actions. A zero
// threshold disables count-based promotion to that level.
type PromotionRules struct {
	RewardedThreshold  int
	PowerUserThreshold int
}

// DefaultPromotionRules mirrors the thresholds used in production.
func DefaultPromotionRules() PromotionRules {
	return PromotionRules{
		RewardedThreshold:  10,
		PowerUserThreshold: 25,
	}
}

// Target returns the level earned by actionsCount verified actions.
// OperatorPro is never earned by counting.
func (r PromotionRules) Target(actionsCount int) maturity.Level {
	switch {
	case r.PowerUserThreshold > 0 && actionsCount >= r.PowerUserThreshold:
		return maturity.PowerUser
	case r.RewardedThreshold > 0 && actionsCount >= r.RewardedThreshold:
		return maturity.Rewarded
	case actionsCount >= maturity.ActiveThreshold:
		return maturity.Active
	}
	return maturity.FirstTime
}

// Apply counts one more action and promotes the state when a threshold is
// crossed. Levels never go down here. It reports whether the level changed.
func (r PromotionRules) Apply(state *MaturityState, now time.Time) bool {
	if state == nil {
		return false
	}
	state.ActionsCount++
	state.UpdatedAt = now

	target := r.Target(state.ActionsCount)
	if target <= state.Level {
		return false
	}
	state.Level = target
	return true
}
