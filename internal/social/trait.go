package social

import "slices"

// Trait is an immutable, library-defined symbolic tag.
type Trait struct {
	// ID is the unique trait identifier (e.g. "Friendly").
	ID string

	// DisplayName is an optional human-readable name.
	DisplayName string

	// Description is free-text documentation for content authors.
	Description string

	// Effects are applied, in order, when the trait attaches to a holder.
	Effects []Effect

	// DetachEffects are applied when the trait is removed. When nil, Effects
	// are reverted in reverse order instead.
	DetachEffects []Effect

	// Duration is the number of ticks an attached instance lives. Zero means
	// the trait stays until removed.
	Duration int
}

// TraitInstance is one attachment of a [Trait] to a holder.
type TraitInstance struct {
	Trait *Trait

	// Remaining is the number of ticks left, or -1 for traits without a
	// duration.
	Remaining int

	owners   owners
	removing bool
}

// owners records who attached a trait instance: the host directly, or the
// provenance keys of the effects that did. An instance attached by effects
// only is detached once the last of them is reverted.
type owners struct {
	host   bool
	claims []string
}

func (o *owners) merge(other owners) {
	o.host = o.host || other.host
	for _, c := range other.claims {
		if !slices.Contains(o.claims, c) {
			o.claims = append(o.claims, c)
		}
	}
}

// release drops claim and reports whether anyone still holds the instance.
func (o *owners) release(claim string) bool {
	o.claims = slices.DeleteFunc(o.claims, func(c string) bool { return c == claim })
	return o.host || len(o.claims) > 0
}

func (o owners) clone() owners {
	return owners{host: o.host, claims: slices.Clone(o.claims)}
}

// TraitSet is the ordered set of traits attached to a holder.
type TraitSet struct {
	items []*TraitInstance
}

// Has reports whether a trait with the given ID is attached.
func (s *TraitSet) Has(id string) bool {
	return s.get(id) != nil
}

// IDs returns the attached trait IDs in attach order.
func (s *TraitSet) IDs() []string {
	out := make([]string, len(s.items))
	for i, it := range s.items {
		out[i] = it.Trait.ID
	}
	return out
}

// Instances returns copies of the attached instances in attach order.
func (s *TraitSet) Instances() []TraitInstance {
	out := make([]TraitInstance, len(s.items))
	for i, it := range s.items {
		out[i] = TraitInstance{Trait: it.Trait, Remaining: it.Remaining}
	}
	return out
}

// Len returns the number of attached traits.
func (s *TraitSet) Len() int { return len(s.items) }

func (s *TraitSet) get(id string) *TraitInstance {
	for _, it := range s.items {
		if it.Trait.ID == id {
			return it
		}
	}
	return nil
}

func (s *TraitSet) insert(inst *TraitInstance) {
	s.items = append(s.items, inst)
}

func (s *TraitSet) delete(inst *TraitInstance) {
	s.items = slices.DeleteFunc(s.items, func(it *TraitInstance) bool { return it == inst })
}

// snapshot returns the live instances so callers can iterate while the set
// changes underneath them.
func (s *TraitSet) snapshot() []*TraitInstance {
	return slices.Clone(s.items)
}

func newInstance(t *Trait) *TraitInstance {
	remaining := -1
	if t.Duration > 0 {
		remaining = t.Duration
	}
	return &TraitInstance{Trait: t, Remaining: remaining}
}
