package maturity

import "fmt"

// Mode is the visibility of a feature for a given level.
// Modes are ordered from most to least restrictive.
type Mode int

const (
	Hidden Mode = iota
	ReadOnly
	Full
)

func (m Mode) String() string {
	switch m {
	case Hidden:
		return "hidden"
	case ReadOnly:
		return "read_only"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	if m < Hidden || m > Full {
		return nil, fmt.Errorf("maturity: invalid mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "hidden":
		*m = Hidden
	case "read_only", "readonly", "read-only":
		*m = ReadOnly
	case "full":
		*m = Full
	default:
		return fmt.Errorf("maturity: unknown visibility mode %q", string(text))
	}
	return nil
}

// Source tags where a state's level came from. DemoOverride is only ever set
// through the explicit override path for demo or admin accounts.
type Source string

const (
	SourceServer       Source = "server"
	SourceDemoOverride Source = "demo_override"
)
