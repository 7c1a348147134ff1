package maturity

import (
	"errors"
	"fmt"
	"sort"
)

// Feature identifies a gated UI surface.
type Feature string

const (
	FeatureDeals             Feature = "deals"
	FeatureEvents            Feature = "events"
	FeaturePostProof         Feature = "post_proof"
	FeatureHistory           Feature = "history"
	FeatureReferrals         Feature = "referrals"
	FeatureLeaderboard       Feature = "leaderboard"
	FeatureBalance           Feature = "balance"
	FeatureWallet            Feature = "wallet"
	FeatureDrops             Feature = "drops"
	FeatureForecasts         Feature = "forecasts"
	FeatureGrowthHub         Feature = "growth_hub"
	FeatureCampaigns         Feature = "campaigns"
	FeatureMatrix            Feature = "matrix"
	FeatureOperatorDashboard Feature = "operator_dashboard"
)

const (
	// DefaultRedirectTarget is where a hidden feature sends the user.
	DefaultRedirectTarget = "/home"
	// DefaultActionsRoute lists the verified actions a user can perform.
	DefaultActionsRoute = "/earn"
)

// Row holds one feature's mode for each level, indexed by rank.
type Row [OperatorPro + 1]Mode

// FullFrom grants Full access from level upwards and hides it below.
func FullFrom(level Level) Row {
	return ReadOnlyFrom(level, level)
}

// ReadOnlyFrom grants ReadOnly access from readOnly and Full from full.
func ReadOnlyFrom(readOnly, full Level) Row {
	var row Row
	for _, l := range Levels() {
		switch {
		case l >= full:
			row[l] = Full
		case l >= readOnly:
			row[l] = ReadOnly
		}
	}
	return row
}

// Policy is an immutable (Feature, Level) -> Mode table.
type Policy struct {
	rows         map[Feature]Row
	unknown      Mode
	redirect     string
	actionsRoute string
}

type Option func(*Policy)

// WithUnknownFeatureMode sets the mode returned for features missing from the
// table. Passing Hidden makes the policy fail closed.
func WithUnknownFeatureMode(mode Mode) Option {
	return func(p *Policy) {
		p.unknown = mode
	}
}

func WithRedirectTarget(route string) Option {
	return func(p *Policy) {
		if route != "" {
			p.redirect = route
		}
	}
}

func WithActionsRoute(route string) Option {
	return func(p *Policy) {
		if route != "" {
			p.actionsRoute = route
		}
	}
}

// NewPolicy copies rules into a new immutable policy.
func NewPolicy(rules map[Feature]Row, opts ...Option) *Policy {
	p := &Policy{
		rows:         make(map[Feature]Row, len(rules)),
		unknown:      Full,
		redirect:     DefaultRedirectTarget,
		actionsRoute: DefaultActionsRoute,
	}
	for feature, row := range rules {
		p.rows[feature] = row
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultRules is the Promorang feature table shared by mobile and web.
func DefaultRules() map[Feature]Row {
	return map[Feature]Row{
		FeatureDeals:             FullFrom(FirstTime),
		FeatureEvents:            FullFrom(FirstTime),
		FeaturePostProof:         FullFrom(FirstTime),
		FeatureHistory:           FullFrom(Active),
		FeatureReferrals:         FullFrom(Active),
		FeatureLeaderboard:       ReadOnlyFrom(Active, Rewarded),
		FeatureBalance:           ReadOnlyFrom(Rewarded, PowerUser),
		FeatureWallet:            FullFrom(PowerUser),
		FeatureDrops:             ReadOnlyFrom(Active, Rewarded),
		FeatureForecasts:         ReadOnlyFrom(Rewarded, PowerUser),
		FeatureGrowthHub:         ReadOnlyFrom(Rewarded, PowerUser),
		FeatureCampaigns:         ReadOnlyFrom(PowerUser, OperatorPro),
		FeatureMatrix:            FullFrom(OperatorPro),
		FeatureOperatorDashboard: FullFrom(OperatorPro),
	}
}

// DefaultPolicy builds the default table with the given options applied.
func DefaultPolicy(opts ...Option) *Policy {
	return NewPolicy(DefaultRules(), opts...)
}

// Resolve looks up the mode of feature at level. Unknown features resolve to
// the policy's unknown-feature mode; out-of-range levels are clamped.
func (p *Policy) Resolve(feature Feature, level Level) Mode {
	row, ok := p.rows[feature]
	if !ok {
		return p.unknown
	}
	return row[clamp(level)]
}

// Known reports whether feature has an entry in the table.
func (p *Policy) Known(feature Feature) bool {
	_, ok := p.rows[feature]
	return ok
}

// Features returns the configured features in lexical order.
func (p *Policy) Features() []Feature {
	out := make([]Feature, 0, len(p.rows))
	for f := range p.rows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MinimumLevel returns the lowest level with Full access to feature.
// Unknown features report FirstTime when the policy fails open.
func (p *Policy) MinimumLevel(feature Feature) (Level, bool) {
	row, ok := p.rows[feature]
	if !ok {
		return FirstTime, p.unknown == Full
	}
	for _, l := range Levels() {
		if row[l] == Full {
			return l, true
		}
	}
	return OperatorPro, false
}

// Visibility evaluates every configured feature for level.
func (p *Policy) Visibility(level Level) map[Feature]Mode {
	out := make(map[Feature]Mode, len(p.rows))
	for f, row := range p.rows {
		out[f] = row[clamp(level)]
	}
	return out
}

// Validate reports every feature whose access shrinks as level grows.
func (p *Policy) Validate() error {
	var errs []error
	for _, f := range p.Features() {
		row := p.rows[f]
		for l := FirstTime + 1; l <= OperatorPro; l++ {
			if row[l] < row[l-1] {
				errs = append(errs, fmt.Errorf("feature %q: %s at %s is more restrictive than %s at %s",
					f, row[l], l, row[l-1], l-1))
			}
		}
	}
	return errors.Join(errs...)
}

func clamp(level Level) Level {
	switch {
	case level < FirstTime:
		return FirstTime
	case level > OperatorPro:
		return OperatorPro
	}
	return level
}
