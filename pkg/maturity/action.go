package maturity

import "fmt"

// Action is a verified action tag recorded when a user performs a qualifying
// real-world or in-app action.
type Action string

const (
	ActionDealClaimed     Action = "deal_claimed"
	ActionDealRedeemed    Action = "deal_redeemed"
	ActionEventRSVP       Action = "event_rsvp"
	ActionEventCheckin    Action = "event_checkin"
	ActionPostSubmitted   Action = "post_submitted"
	ActionPostShared      Action = "post_shared"
	ActionReferralSent    Action = "referral_sent"
	ActionReferralJoined  Action = "referral_joined"
	ActionReceiptUploaded Action = "receipt_uploaded"
	ActionDropCompleted   Action = "drop_completed"
	ActionProofSubmitted  Action = "proof_submitted"
)

var knownActions = map[Action]struct{}{
	ActionDealClaimed:     {},
	ActionDealRedeemed:    {},
	ActionEventRSVP:       {},
	ActionEventCheckin:    {},
	ActionPostSubmitted:   {},
	ActionPostShared:      {},
	ActionReferralSent:    {},
	ActionReferralJoined:  {},
	ActionReceiptUploaded: {},
	ActionDropCompleted:   {},
	ActionProofSubmitted:  {},
}

// Valid reports whether a belongs to the closed set of verified actions.
func (a Action) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

// ParseAction rejects tags outside the closed set.
func ParseAction(raw string) (Action, error) {
	a := Action(raw)
	if !a.Valid() {
		return "", fmt.Errorf("maturity: unknown verified action %q", raw)
	}
	return a, nil
}

// Surface identifies the client that recorded an action.
type Surface string

const (
	SurfaceMobile Surface = "mobile"
	SurfaceWeb    Surface = "web"
)

func (s Surface) Valid() bool {
	return s == SurfaceMobile || s == SurfaceWeb
}

// RequiredActionsRemaining counts the verified actions a user at level still
// needs to reach Active. Users already at Active or above report zero
// whatever actionsCount says; higher ranks are promoted by the backend.
func RequiredActionsRemaining(level Level, actionsCount int) int {
	if level >= Active {
		return 0
	}
	if remaining := ActiveThreshold - actionsCount; remaining > 0 {
		return remaining
	}
	return 0
}
