package maturity

import "fmt"

// Access is the gating decision for one feature.
type Access struct {
	Allowed        bool   `json:"allowed"`
	ReadOnly       bool   `json:"read_only"`
	RedirectTarget string `json:"redirect_target,omitempty"`
}

// HasRedirect reports whether the caller should navigate away.
func (a Access) HasRedirect() bool {
	return a.RedirectTarget != ""
}

// CheckAccess derives the gating decision from Resolve.
func (p *Policy) CheckAccess(feature Feature, level Level) Access {
	mode := p.Resolve(feature, level)
	access := Access{
		Allowed:  mode != Hidden,
		ReadOnly: mode == ReadOnly,
	}
	if !access.Allowed {
		access.RedirectTarget = p.redirect
	}
	return access
}

// Explanation describes a locked feature for the explainer modal.
type Explanation struct {
	Feature          Feature `json:"feature"`
	Mode             Mode    `json:"mode"`
	CurrentLevel     Level   `json:"current_level"`
	RequiredLevel    Level   `json:"required_level"`
	RequiredLabel    string  `json:"required_label"`
	ActionsRemaining int     `json:"actions_remaining"`
	Message          string  `json:"message"`
	ActionsRoute     string  `json:"actions_route"`
}

// Locked reports whether the user lacks Full access.
func (e Explanation) Locked() bool {
	return e.Mode != Full
}

// Explain builds the locked-feature explainer. actionsCount is only used for
// the Active threshold hint.
func (p *Policy) Explain(feature Feature, level Level, actionsCount int) Explanation {
	required, reachable := p.MinimumLevel(feature)
	e := Explanation{
		Feature:       feature,
		Mode:          p.Resolve(feature, level),
		CurrentLevel:  level,
		RequiredLevel: required,
		RequiredLabel: required.Label(),
		ActionsRoute:  p.actionsRoute,
	}
	if required == Active {
		e.ActionsRemaining = RequiredActionsRemaining(level, actionsCount)
	}

	switch {
	case e.Mode == Full:
		e.Message = "Unlocked"
	case !reachable:
		e.Message = "Not available for your account"
	case e.ActionsRemaining == 1:
		e.Message = "Complete 1 more verified action to unlock"
	case e.ActionsRemaining > 1:
		e.Message = fmt.Sprintf("Complete %d more verified actions to unlock", e.ActionsRemaining)
	case e.Mode == ReadOnly:
		e.Message = fmt.Sprintf("View only until you reach %s", required.Label())
	default:
		e.Message = fmt.Sprintf("Unlocks at %s", required.Label())
	}
	return e
}
