package social

import (
	"errors"
	"fmt"

	"github.com/MrWong99/rapport/internal/suggest"
	"github.com/MrWong99/rapport/pkg/stat"
)

// ErrDuplicateID is returned when a library already holds a definition with
// the same identifier.
var ErrDuplicateID = errors.New("duplicate definition id")

// Library holds the immutable content the engine runs on: default stats,
// traits, rules and social events. It is filled once by a loader and must
// not be modified after it has been handed to [NewEngine].
type Library struct {
	// EntityStats seeds the stat table of every new entity.
	EntityStats []stat.Definition

	// RelationshipStats seeds the stat table of every new relationship.
	RelationshipStats []stat.Definition

	traits     map[string]*Trait
	traitOrder []string
	rules      map[string]*Rule
	ruleOrder  []string
	events     []*SocialEvent
}

// NewLibrary returns an empty, ready-to-use [Library].
func NewLibrary() *Library {
	return &Library{
		traits: make(map[string]*Trait),
		rules:  make(map[string]*Rule),
	}
}

// AddTrait registers t. Returns [ErrDuplicateID] if the ID is taken.
func (l *Library) AddTrait(t *Trait) error {
	if t.ID == "" {
		return errors.New("social: trait id must not be empty")
	}
	if _, ok := l.traits[t.ID]; ok {
		return fmt.Errorf("%w: trait %q", ErrDuplicateID, t.ID)
	}
	l.traits[t.ID] = t
	l.traitOrder = append(l.traitOrder, t.ID)
	return nil
}

// AddRule registers r. Returns [ErrDuplicateID] if the ID is taken.
func (l *Library) AddRule(r *Rule) error {
	if r.ID == "" {
		return errors.New("social: rule id must not be empty")
	}
	if _, ok := l.rules[r.ID]; ok {
		return fmt.Errorf("%w: rule %q", ErrDuplicateID, r.ID)
	}
	l.rules[r.ID] = r
	l.ruleOrder = append(l.ruleOrder, r.ID)
	return nil
}

// AddEvent registers ev. Events are matched in registration order.
func (l *Library) AddEvent(ev *SocialEvent) error {
	for _, have := range l.events {
		if have.ID == ev.ID {
			return fmt.Errorf("%w: event %q", ErrDuplicateID, ev.ID)
		}
	}
	l.events = append(l.events, ev)
	return nil
}

// Trait returns the trait with the given ID.
// Returns [ErrNotFound] if the library holds no such trait.
func (l *Library) Trait(id string) (*Trait, error) {
	t, ok := l.traits[id]
	if !ok {
		return nil, fmt.Errorf("%w: trait %q%s", ErrNotFound, id, suggest.Hint(id, l.traitOrder))
	}
	return t, nil
}

// Rule returns the rule with the given ID.
// Returns [ErrNotFound] if the library holds no such rule.
func (l *Library) Rule(id string) (*Rule, error) {
	r, ok := l.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: rule %q%s", ErrNotFound, id, suggest.Hint(id, l.ruleOrder))
	}
	return r, nil
}

// TraitIDs returns all trait IDs in registration order.
func (l *Library) TraitIDs() []string { return append([]string(nil), l.traitOrder...) }

// RuleIDs returns all rule IDs in registration order.
func (l *Library) RuleIDs() []string { return append([]string(nil), l.ruleOrder...) }

// Events returns the social events in registration order.
func (l *Library) Events() []*SocialEvent { return append([]*SocialEvent(nil), l.events...) }
