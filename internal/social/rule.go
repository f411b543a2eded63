package social

import "fmt"

// Direction selects which of an entity's relationships a [Rule] governs.
type Direction int

const (
	// Outgoing rules apply to relationships the entity owns.
	Outgoing Direction = iota

	// Incoming rules apply to relationships that target the entity.
	Incoming
)

// String returns "outgoing" or "incoming".
func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// ParseDirection parses "outgoing" or "incoming". An empty string yields
// [Outgoing].
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "outgoing", "out":
		return Outgoing, nil
	case "incoming", "in":
		return Incoming, nil
	}
	return 0, fmt.Errorf("social: direction %q is invalid; valid values: outgoing, incoming", s)
}

// Rule is a reactive constraint an entity enforces on its relationships.
// While every precondition holds for a relationship the rule is active on
// it and its effects are in place.
type Rule struct {
	// ID identifies the rule within the library.
	ID string

	// Description is free-text documentation for content authors.
	Description string

	// Direction selects outgoing or incoming relationships of the entity the
	// rule is registered on.
	Direction Direction

	// Source is the provenance tag used by
	// [Engine.RemoveAllRulesFromSource]. Empty for rules registered directly.
	Source string

	// Preconditions must all hold for the rule to be active.
	Preconditions []Precondition

	// Effects are applied, in order, on activation.
	Effects []Effect

	// DeactivateEffects are applied on deactivation. When nil, Effects are
	// reverted in reverse order instead.
	DeactivateEffects []Effect
}

// Holds reports whether every precondition holds for m.
func (r *Rule) Holds(m Match) bool {
	for _, p := range r.Preconditions {
		if !p.Holds(m) {
			return false
		}
	}
	return true
}

// Key identifies a registered rule. Two rules with the same key are the same
// registration.
func (r *Rule) Key() string {
	return fmt.Sprintf("%s:%s#%s", r.Direction, r.Source, r.ID)
}

// WithSource returns a copy of r carrying the given provenance tag. The
// preconditions and effects are shared.
func (r *Rule) WithSource(source string) *Rule {
	cp := *r
	cp.Source = source
	return &cp
}
