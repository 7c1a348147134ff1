package maturity

// Gate wraps a rendered value and picks what to show for a user's level.
// The read-only fallback is mandatory so every call site decides explicitly
// what a view-only user sees.
type Gate[T any] struct {
	Feature             Feature
	Children            T
	FallbackForHidden   T
	FallbackForReadOnly T
}

// NewGate builds a gate. Pass the zero value of T as fallbackForHidden to
// render nothing for hidden features.
func NewGate[T any](feature Feature, children, fallbackForHidden, fallbackForReadOnly T) Gate[T] {
	return Gate[T]{
		Feature:             feature,
		Children:            children,
		FallbackForHidden:   fallbackForHidden,
		FallbackForReadOnly: fallbackForReadOnly,
	}
}

// Render returns the value to display for level.
func (g Gate[T]) Render(p *Policy, level Level) T {
	switch p.Resolve(g.Feature, level) {
	case Hidden:
		return g.FallbackForHidden
	case ReadOnly:
		return g.FallbackForReadOnly
	default:
		return g.Children
	}
}

// OnLockedInteraction returns the explainer to open when a user taps a gated
// feature they cannot fully use. It reports false for unlocked features.
func (g Gate[T]) OnLockedInteraction(p *Policy, level Level, actionsCount int) (Explanation, bool) {
	e := p.Explain(g.Feature, level, actionsCount)
	if !e.Locked() {
		return Explanation{}, false
	}
	return e, true
}
