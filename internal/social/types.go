// Package social implements the reactive social graph: entities, directed
// relationships, traits and social rules.
//
// The [Engine] is the single owner of every entity and relationship. A
// relationship refers to its endpoints by identifier only, and entities keep
// their adjacency as identifier lists, so there are no ownership cycles.
//
// The engine maintains one invariant above all others: for every
// relationship, the set of active rules equals exactly the rules reachable
// through its owner's outgoing rules and its target's incoming rules whose
// preconditions currently hold. Every trait mutation, rule registration and
// rule removal re-establishes it synchronously before returning.
//
// Nothing in this package is safe for concurrent use. Hosts that drive the
// engine from several goroutines must serialise the calls.
package social

import "github.com/MrWong99/rapport/pkg/stat"

// Subject is the read-only view of a trait holder that preconditions
// evaluate.
type Subject interface {
	// ID returns the entity identifier, or "owner->target" for a relationship.
	ID() string

	// HasTrait reports whether the trait is currently held.
	HasTrait(id string) bool

	// TraitIDs returns the held trait identifiers in attach order.
	TraitIDs() []string
}

// Holder is anything that carries stats and traits: an [*Entity] or a
// [*Relationship].
type Holder interface {
	Subject

	// Stats returns the holder's stat table.
	Stats() *stat.Table

	traitSet() *TraitSet
}

// Match is the evaluation context of a rule against one relationship.
type Match struct {
	Owner        Subject
	Target       Subject
	Relationship Subject
}

// Precondition is a pure boolean test gating rule activation. Implementations
// must not mutate anything reachable from m.
type Precondition interface {
	Holds(m Match) bool
}

// Effect is a mutation applied when a trait attaches or a rule activates,
// and undone by Revert when the trait detaches or the rule deactivates
// without explicit detach effects.
type Effect interface {
	Apply(c *Context) error
	Revert(c *Context) error
}
