package social

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/rapport/pkg/stat"
)

// DefaultCascadeLimit is the default maximum nesting of trait and rule
// changes triggered by one host call.
const DefaultCascadeLimit = 32

// Option is a functional option for [NewEngine].
type Option func(*Engine)

// WithCascadeLimit sets the maximum nesting depth of cascading trait and rule
// changes. Values below 1 are ignored.
func WithCascadeLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.cascadeLimit = n
		}
	}
}

// WithListener subscribes l before any entity exists.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// Engine owns the social graph and keeps every relationship's active rule
// set consistent with its preconditions.
//
// All methods run to completion synchronously: when a call returns, every
// effect it triggered has been applied and every notification delivered.
type Engine struct {
	lib          *Library
	graph        *graph
	listeners    []Listener
	cascadeLimit int
	depth        int
	ticks        uint64
	dispatches   uint64

	// displaced remembers the owners of traits detached by a remove_trait
	// effect, keyed by source, holder and trait.
	displaced map[string]owners
}

// NewEngine returns an empty engine running on lib.
func NewEngine(lib *Library, opts ...Option) *Engine {
	if lib == nil {
		lib = NewLibrary()
	}
	e := &Engine{
		lib:          lib,
		graph:        newGraph(),
		cascadeLimit: DefaultCascadeLimit,
		displaced:    make(map[string]owners),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Library returns the content library the engine runs on.
func (e *Engine) Library() *Library { return e.lib }

// Subscribe registers l for every future notification.
func (e *Engine) Subscribe(l Listener) {
	e.listeners = append(e.listeners, l)
}

// Ticks returns the number of completed ticks.
func (e *Engine) Ticks() uint64 { return e.ticks }

// Entities returns every entity in creation order.
func (e *Engine) Entities() []*Entity { return e.graph.allEntities() }

// Relationships returns every relationship in creation order.
func (e *Engine) Relationships() []*Relationship { return e.graph.allRelationships() }

// ─────────────────────────────────────────────────────────────────────────────
// Graph store
// ─────────────────────────────────────────────────────────────────────────────

// GetOrCreateEntity returns the entity with the given ID, creating it with
// the library's default entity stats on first use.
func (e *Engine) GetOrCreateEntity(id string) (*Entity, error) {
	if err := ValidateID(id); err != nil {
		return nil, fmt.Errorf("social: entity: %w", err)
	}
	return e.getOrCreateEntity(id)
}

// GetOrCreateRelationship returns the relationship owner→target, creating
// both endpoints and the edge on first use. A new edge is seeded with the
// library's default relationship stats and immediately evaluated against the
// owner's outgoing and the target's incoming rules.
func (e *Engine) GetOrCreateRelationship(owner, target string) (*Relationship, error) {
	if err := validateEdge(owner, target); err != nil {
		return nil, err
	}
	return e.getOrCreateRelationship(owner, target)
}

// Entity returns an existing entity.
// Returns [ErrNotFound] if no entity with that ID has been created.
func (e *Engine) Entity(id string) (*Entity, error) {
	ent, ok := e.graph.entity(id)
	if !ok {
		return nil, fmt.Errorf("social: %w: entity %q", ErrNotFound, id)
	}
	return ent, nil
}

// Relationship returns an existing relationship.
// Returns [ErrNotFound] if the edge owner→target has not been created.
func (e *Engine) Relationship(owner, target string) (*Relationship, error) {
	rel, ok := e.graph.relationship(owner, target)
	if !ok {
		return nil, fmt.Errorf("social: %w: relationship %q", ErrNotFound, RelationshipID(owner, target))
	}
	return rel, nil
}

func validateEdge(owner, target string) error {
	if err := ValidateID(owner); err != nil {
		return fmt.Errorf("social: relationship owner: %w", err)
	}
	if err := ValidateID(target); err != nil {
		return fmt.Errorf("social: relationship target: %w", err)
	}
	if owner == target {
		return fmt.Errorf("social: relationship: %w: %q cannot relate to itself", ErrInvalidID, owner)
	}
	return nil
}

func (e *Engine) getOrCreateEntity(id string) (*Entity, error) {
	if ent, ok := e.graph.entity(id); ok {
		return ent, nil
	}
	ent := &Entity{id: id}
	ent.stats = stat.NewTable(e.lib.EntityStats, e.statListener(id))
	e.graph.addEntity(ent)
	slog.Debug("social: entity created", "entity", id)
	return ent, nil
}

func (e *Engine) getOrCreateRelationship(owner, target string) (*Relationship, error) {
	if rel, ok := e.graph.relationship(owner, target); ok {
		return rel, nil
	}
	if _, err := e.getOrCreateEntity(owner); err != nil {
		return nil, err
	}
	if _, err := e.getOrCreateEntity(target); err != nil {
		return nil, err
	}
	rel := &Relationship{owner: owner, target: target}
	rel.stats = stat.NewTable(e.lib.RelationshipStats, e.statListener(rel.ID()))
	e.graph.addRelationship(rel)
	slog.Debug("social: relationship created", "relationship", rel.ID())

	if err := e.reconcile(rel); err != nil {
		return rel, fmt.Errorf("social: evaluate rules for new relationship %q: %w", rel.ID(), err)
	}
	return rel, nil
}

func (e *Engine) statListener(subject string) stat.ChangeFunc {
	return func(name string, value float64) {
		e.emit(Notification{Kind: StatChanged, Subject: subject, Stat: name, Value: value})
	}
}

func (e *Engine) emit(n Notification) {
	for _, l := range e.listeners {
		l(n)
	}
}

// enter guards one level of cascading mutation.
func (e *Engine) enter() error {
	if e.depth >= e.cascadeLimit {
		return fmt.Errorf("social: %w (limit %d)", ErrCascadeLimit, e.cascadeLimit)
	}
	e.depth++
	return nil
}

func (e *Engine) leave() { e.depth-- }
