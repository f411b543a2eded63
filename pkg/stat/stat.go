// Package stat implements bounded numeric values with stacked, optionally
// time-limited modifiers.
//
// A [Stat] caches its effective value, which is always
//
//	clamp((base + Σ flat) × Π multiplicative, min, max)
//
// rounded to the nearest integer when the stat is discrete. Flat modifiers
// are summed in insertion order, multiplicative modifiers are applied in
// insertion order afterwards, then the result is clamped and finally
// discretised.
//
// A [Table] groups the stats of one holder (an entity or a relationship) and
// reports value changes through a callback. Nothing in this package is safe
// for concurrent use; callers serialise access.
package stat

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrNotFound is returned when a stat name is not registered in a [Table].
var ErrNotFound = errors.New("stat not found")

// Permanent is the Duration of a modifier that never expires.
const Permanent = -1

// Kind selects how a [Modifier] contributes to a stat.
type Kind int

const (
	// Flat modifiers are added to the base value.
	Flat Kind = iota

	// Multiplicative modifiers scale the sum of base and flat modifiers.
	Multiplicative
)

// String returns the lower-case name of k.
func (k Kind) String() string {
	switch k {
	case Flat:
		return "flat"
	case Multiplicative:
		return "multiplicative"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Modifier is a timed or permanent contribution to a stat's effective value.
type Modifier struct {
	// Stat is the name of the stat this modifier targets.
	Stat string

	// Reason is a human-readable explanation (e.g. "rule kind_affection").
	Reason string

	// Source is the provenance key used to remove every modifier contributed
	// by one originator (a rule activation, a trait instance, ...).
	Source string

	// Magnitude is added to the stat for [Flat] modifiers and multiplied in
	// for [Multiplicative] modifiers.
	Magnitude float64

	// Kind selects flat or multiplicative application.
	Kind Kind

	// Duration is the number of remaining ticks. [Permanent] (-1) never
	// expires; any positive value is decremented once per tick and the
	// modifier is dropped when it reaches zero.
	Duration int
}

// Definition declares a stat and its bounds.
type Definition struct {
	Name     string  `yaml:"name"`
	Base     float64 `yaml:"base"`
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	Discrete bool    `yaml:"discrete"`
}

// Validate reports whether d describes a usable stat.
func (d Definition) Validate() error {
	if d.Name == "" {
		return errors.New("stat: name must not be empty")
	}
	if d.Min > d.Max {
		return fmt.Errorf("stat %q: min %g is greater than max %g", d.Name, d.Min, d.Max)
	}
	return nil
}

// Stat is a bounded numeric value with an ordered list of modifiers.
type Stat struct {
	def   Definition
	mods  []*Modifier
	value float64
}

// New returns a Stat seeded from def with no modifiers.
func New(def Definition) *Stat {
	s := &Stat{def: def}
	s.value = s.compute()
	return s
}

// Name returns the stat's name.
func (s *Stat) Name() string { return s.def.Name }

// Base returns the unmodified base value.
func (s *Stat) Base() float64 { return s.def.Base }

// Value returns the cached effective value.
func (s *Stat) Value() float64 { return s.value }

// Modifiers returns a copy of the active modifiers in insertion order.
func (s *Stat) Modifiers() []Modifier {
	out := make([]Modifier, len(s.mods))
	for i, m := range s.mods {
		out[i] = *m
	}
	return out
}

// add appends m and reports whether the effective value changed.
func (s *Stat) add(m Modifier) bool {
	s.mods = append(s.mods, &m)
	return s.refresh()
}

// removeSource drops every modifier whose Source equals source and reports
// how many were removed and whether the effective value changed.
func (s *Stat) removeSource(source string) (int, bool) {
	before := len(s.mods)
	s.mods = slices.DeleteFunc(s.mods, func(m *Modifier) bool { return m.Source == source })
	removed := before - len(s.mods)
	if removed == 0 {
		return 0, false
	}
	return removed, s.refresh()
}

// tick decrements every modifier with a positive duration, drops those that
// reach zero and reports how many expired and whether the value changed.
func (s *Stat) tick() (int, bool) {
	expired := 0
	for _, m := range s.mods {
		if m.Duration > 0 {
			m.Duration--
			if m.Duration == 0 {
				expired++
			}
		}
	}
	if expired == 0 {
		return 0, false
	}
	s.mods = slices.DeleteFunc(s.mods, func(m *Modifier) bool { return m.Duration == 0 })
	return expired, s.refresh()
}

func (s *Stat) refresh() bool {
	v := s.compute()
	if v == s.value {
		return false
	}
	s.value = v
	return true
}

func (s *Stat) compute() float64 {
	v := s.def.Base
	for _, m := range s.mods {
		if m.Kind == Flat {
			v += m.Magnitude
		}
	}
	for _, m := range s.mods {
		if m.Kind == Multiplicative {
			v *= m.Magnitude
		}
	}
	v = math.Min(math.Max(v, s.def.Min), s.def.Max)
	if s.def.Discrete {
		v = math.Round(v)
	}
	return v
}
