// Package maturity holds the progressive feature-disclosure policy shared by
// every Promorang surface: maturity levels, verified actions, the feature
// policy table and the gate that renders according to it.
package maturity

import "fmt"

// Level is a user's progression rank. Levels are totally ordered by rank.
type Level int

const (
	FirstTime Level = iota
	Active
	Rewarded
	PowerUser
	OperatorPro
)

// ActiveThreshold is the number of verified actions that promotes a
// first-time user to Active.
const ActiveThreshold = 3

var levelNames = [...]string{
	FirstTime:   "first_time",
	Active:      "active",
	Rewarded:    "rewarded",
	PowerUser:   "power_user",
	OperatorPro: "operator_pro",
}

var levelLabels = [...]string{
	FirstTime:   "First Timer",
	Active:      "Active",
	Rewarded:    "Rewarded",
	PowerUser:   "Power User",
	OperatorPro: "Operator Pro",
}

// Levels returns every level in ascending rank.
func Levels() []Level {
	return []Level{FirstTime, Active, Rewarded, PowerUser, OperatorPro}
}

// Valid reports whether l is one of the five known ranks.
func (l Level) Valid() bool {
	return l >= FirstTime && l <= OperatorPro
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Label is the display name shown next to a user's avatar.
func (l Level) Label() string {
	if !l.Valid() {
		return "Unknown"
	}
	return levelLabels[l]
}

// Next returns the following rank; OperatorPro is terminal.
func (l Level) Next() (Level, bool) {
	if !l.Valid() || l == OperatorPro {
		return l, false
	}
	return l + 1, true
}

// ParseLevel validates a rank received over the wire.
func ParseLevel(rank int) (Level, error) {
	l := Level(rank)
	if !l.Valid() {
		return FirstTime, fmt.Errorf("maturity: unknown level rank %d", rank)
	}
	return l, nil
}

// MaxLevel returns the higher of two ranks.
func MaxLevel(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}
