package maturity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyIsMonotonic(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())

	for _, f := range p.Features() {
		for _, lo := range Levels() {
			for _, hi := range Levels() {
				if lo > hi {
					continue
				}
				assert.LessOrEqual(t, p.Resolve(f, lo), p.Resolve(f, hi), "feature %s: %s vs %s", f, lo, hi)
			}
		}
	}
}

func TestValidateFlagsNonMonotonicFeature(t *testing.T) {
	p := NewPolicy(map[Feature]Row{
		"ok":     FullFrom(Active),
		"broken": {Full, Full, Hidden, Full, Full},
	})

	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `feature "broken"`)
	assert.NotContains(t, err.Error(), `feature "ok"`)
}

func TestResolveUnknownFeature(t *testing.T) {
	open := DefaultPolicy()
	assert.Equal(t, Full, open.Resolve("typo_feature", FirstTime))
	assert.False(t, open.Known("typo_feature"))

	closed := DefaultPolicy(WithUnknownFeatureMode(Hidden))
	assert.Equal(t, Hidden, closed.Resolve("typo_feature", OperatorPro))
	assert.Equal(t, Full, closed.Resolve(FeatureDeals, FirstTime))
}

func TestResolveIsIdempotent(t *testing.T) {
	p := DefaultPolicy()
	first := p.Resolve(FeatureBalance, Rewarded)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, p.Resolve(FeatureBalance, Rewarded))
	}
}

func TestResolveScenarios(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, ReadOnly, p.Resolve(FeatureBalance, Rewarded))
	assert.Equal(t, Full, p.Resolve(FeatureBalance, PowerUser))
	assert.Equal(t, Hidden, p.Resolve(FeatureWallet, Rewarded))
	assert.Equal(t, Full, p.Resolve(FeatureWallet, PowerUser))
	assert.Equal(t, Hidden, p.Resolve(FeatureHistory, FirstTime))
	assert.Equal(t, Full, p.Resolve(FeatureHistory, Active))
}

func TestResolveClampsOutOfRangeLevels(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, Hidden, p.Resolve(FeatureHistory, Level(-2)))
	assert.Equal(t, Full, p.Resolve(FeatureMatrix, Level(42)))
}

func TestCheckAccessMatchesResolve(t *testing.T) {
	p := DefaultPolicy()
	features := append(p.Features(), "unknown")

	for _, f := range features {
		for _, l := range Levels() {
			mode := p.Resolve(f, l)
			access := p.CheckAccess(f, l)
			assert.Equal(t, mode != Hidden, access.Allowed, "%s@%s", f, l)
			assert.Equal(t, mode == ReadOnly, access.ReadOnly, "%s@%s", f, l)
			assert.Equal(t, !access.Allowed, access.HasRedirect(), "%s@%s", f, l)
		}
	}
}

func TestCheckAccessFirstTimeWallet(t *testing.T) {
	access := DefaultPolicy().CheckAccess(FeatureWallet, FirstTime)
	assert.Equal(t, Access{Allowed: false, ReadOnly: false, RedirectTarget: "/home"}, access)

	custom := DefaultPolicy(WithRedirectTarget("/start")).CheckAccess(FeatureWallet, FirstTime)
	assert.Equal(t, "/start", custom.RedirectTarget)
}

func TestMinimumLevel(t *testing.T) {
	p := DefaultPolicy()

	lvl, ok := p.MinimumLevel(FeatureWallet)
	assert.True(t, ok)
	assert.Equal(t, PowerUser, lvl)

	lvl, ok = p.MinimumLevel(FeatureHistory)
	assert.True(t, ok)
	assert.Equal(t, Active, lvl)

	lvl, ok = p.MinimumLevel("nope")
	assert.True(t, ok)
	assert.Equal(t, FirstTime, lvl)

	_, ok = DefaultPolicy(WithUnknownFeatureMode(Hidden)).MinimumLevel("nope")
	assert.False(t, ok)

	_, ok = NewPolicy(map[Feature]Row{"never": {}}).MinimumLevel("never")
	assert.False(t, ok)
}

func TestVisibilityJSON(t *testing.T) {
	vis := DefaultPolicy().Visibility(Rewarded)
	assert.Equal(t, ReadOnly, vis[FeatureBalance])
	assert.Equal(t, Full, vis[FeatureHistory])

	raw, err := json.Marshal(vis)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"balance":"read_only"`)

	var back map[Feature]Mode
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, vis, back)
}

func TestModeUnmarshalRejectsGarbage(t *testing.T) {
	var m Mode
	assert.Error(t, m.UnmarshalText([]byte("sometimes")))
	require.NoError(t, m.UnmarshalText([]byte("readonly")))
	assert.Equal(t, ReadOnly, m)
}

func TestRequiredActionsRemaining(t *testing.T) {
	cases := []struct {
		level   Level
		actions int
		want    int
	}{
		{FirstTime, 0, 3},
		{FirstTime, 2, 1},
		{FirstTime, 3, 0},
		{FirstTime, 5, 0},
		// the level argument is the user's current level: an Active user
		// has crossed the threshold whatever count is reported alongside
		{Active, 0, 0},
		{Active, 3, 0},
		{Active, 5, 0},
		{PowerUser, 0, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RequiredActionsRemaining(tc.level, tc.actions), "%s/%d", tc.level, tc.actions)
	}
}

func TestRequiredActionsRemainingTowardActive(t *testing.T) {
	// a user below Active with no actions needs the whole threshold
	assert.Equal(t, ActiveThreshold, RequiredActionsRemaining(FirstTime, 0))
	assert.Equal(t, 3, RequiredActionsRemaining(FirstTime, 0))
}

func TestExplain(t *testing.T) {
	p := DefaultPolicy()

	e := p.Explain(FeatureHistory, FirstTime, 1)
	assert.True(t, e.Locked())
	assert.Equal(t, Active, e.RequiredLevel)
	assert.Equal(t, 2, e.ActionsRemaining)
	assert.Equal(t, "Complete 2 more verified actions to unlock", e.Message)
	assert.Equal(t, DefaultActionsRoute, e.ActionsRoute)

	e = p.Explain(FeatureBalance, Rewarded, 10)
	assert.True(t, e.Locked())
	assert.Equal(t, "View only until you reach Power User", e.Message)

	e = p.Explain(FeatureWallet, PowerUser, 0)
	assert.False(t, e.Locked())
}

func TestLevelHelpers(t *testing.T) {
	next, ok := FirstTime.Next()
	assert.True(t, ok)
	assert.Equal(t, Active, next)

	_, ok = OperatorPro.Next()
	assert.False(t, ok)

	_, err := ParseLevel(7)
	assert.Error(t, err)

	lvl, err := ParseLevel(3)
	require.NoError(t, err)
	assert.Equal(t, PowerUser, lvl)
	assert.Equal(t, "Power User", lvl.Label())
	assert.Equal(t, "power_user", lvl.String())
	assert.Equal(t, Rewarded, MaxLevel(Rewarded, Active))
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("deal_claimed")
	require.NoError(t, err)
	assert.Equal(t, ActionDealClaimed, a)

	_, err = ParseAction("deal_claimd")
	assert.Error(t, err)

	assert.True(t, SurfaceWeb.Valid())
	assert.False(t, Surface("desktop").Valid())
}
