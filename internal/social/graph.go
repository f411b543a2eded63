package social

import (
	"slices"

	"github.com/MrWong99/rapport/pkg/stat"
)

// Compile-time assertions that both node kinds are trait holders.
var (
	_ Holder = (*Entity)(nil)
	_ Holder = (*Relationship)(nil)
)

// Entity is a node in the social graph: a character, faction or concept.
type Entity struct {
	id     string
	stats  *stat.Table
	traits TraitSet
	rules  []*Rule

	// Adjacency by identifier, in creation order.
	outgoing []string
	incoming []string
}

// ID returns the entity's identifier.
func (e *Entity) ID() string { return e.id }

// Stats returns the entity's stat table.
func (e *Entity) Stats() *stat.Table { return e.stats }

// Traits returns the entity's trait set.
func (e *Entity) Traits() *TraitSet { return &e.traits }

// HasTrait implements [Subject].
func (e *Entity) HasTrait(id string) bool { return e.traits.Has(id) }

// TraitIDs implements [Subject].
func (e *Entity) TraitIDs() []string { return e.traits.IDs() }

// Rules returns the social rules this entity enforces, in registration order.
func (e *Entity) Rules() []*Rule { return slices.Clone(e.rules) }

// Outgoing returns the identifiers of the entities this entity has a
// relationship towards.
func (e *Entity) Outgoing() []string { return slices.Clone(e.outgoing) }

// Incoming returns the identifiers of the entities that have a relationship
// towards this entity.
func (e *Entity) Incoming() []string { return slices.Clone(e.incoming) }

func (e *Entity) traitSet() *TraitSet { return &e.traits }

func (e *Entity) rule(key string) *Rule {
	for _, r := range e.rules {
		if r.Key() == key {
			return r
		}
	}
	return nil
}

func (e *Entity) enforces(r *Rule) bool {
	return e.rule(r.Key()) != nil
}

// Relationship is the directed edge owner→target.
type Relationship struct {
	owner  string
	target string
	stats  *stat.Table
	traits TraitSet

	// active holds the rules whose effects are currently in place, in
	// activation order.
	active []*Rule
}

// ID returns "owner->target".
func (r *Relationship) ID() string { return RelationshipID(r.owner, r.target) }

// Owner returns the owner entity's identifier.
func (r *Relationship) Owner() string { return r.owner }

// Target returns the target entity's identifier.
func (r *Relationship) Target() string { return r.target }

// Stats returns the relationship's stat table.
func (r *Relationship) Stats() *stat.Table { return r.stats }

// Traits returns the relationship's trait set.
func (r *Relationship) Traits() *TraitSet { return &r.traits }

// HasTrait implements [Subject].
func (r *Relationship) HasTrait(id string) bool { return r.traits.Has(id) }

// TraitIDs implements [Subject].
func (r *Relationship) TraitIDs() []string { return r.traits.IDs() }

// ActiveRules returns the rules currently active on this relationship.
func (r *Relationship) ActiveRules() []*Rule { return slices.Clone(r.active) }

// IsActive reports whether rule is active on this relationship.
func (r *Relationship) IsActive(rule *Rule) bool {
	key := rule.Key()
	for _, a := range r.active {
		if a.Key() == key {
			return true
		}
	}
	return false
}

func (r *Relationship) traitSet() *TraitSet { return &r.traits }

func (r *Relationship) markActive(rule *Rule) {
	r.active = append(r.active, rule)
}

func (r *Relationship) markInactive(rule *Rule) {
	key := rule.Key()
	r.active = slices.DeleteFunc(r.active, func(a *Rule) bool { return a.Key() == key })
}

type edgeKey struct {
	owner, target string
}

// graph is the single identifier → node table. It only stores; the engine
// decides when nodes are created.
type graph struct {
	entities      map[string]*Entity
	entityOrder   []string
	relationships map[edgeKey]*Relationship
	edgeOrder     []edgeKey
}

func newGraph() *graph {
	return &graph{
		entities:      make(map[string]*Entity),
		relationships: make(map[edgeKey]*Relationship),
	}
}

func (g *graph) entity(id string) (*Entity, bool) {
	e, ok := g.entities[id]
	return e, ok
}

func (g *graph) relationship(owner, target string) (*Relationship, bool) {
	r, ok := g.relationships[edgeKey{owner, target}]
	return r, ok
}

func (g *graph) addEntity(e *Entity) {
	g.entities[e.id] = e
	g.entityOrder = append(g.entityOrder, e.id)
}

// addRelationship stores r and links it into both endpoints' adjacency.
// Both endpoints must already exist.
func (g *graph) addRelationship(r *Relationship) {
	k := edgeKey{r.owner, r.target}
	g.relationships[k] = r
	g.edgeOrder = append(g.edgeOrder, k)
	g.entities[r.owner].outgoing = append(g.entities[r.owner].outgoing, r.target)
	g.entities[r.target].incoming = append(g.entities[r.target].incoming, r.owner)
}

// adjacent returns the relationships of e in the given direction.
func (g *graph) adjacent(e *Entity, dir Direction) []*Relationship {
	var out []*Relationship
	if dir == Outgoing {
		for _, t := range e.outgoing {
			out = append(out, g.relationships[edgeKey{e.id, t}])
		}
		return out
	}
	for _, o := range e.incoming {
		out = append(out, g.relationships[edgeKey{o, e.id}])
	}
	return out
}

func (g *graph) allEntities() []*Entity {
	out := make([]*Entity, len(g.entityOrder))
	for i, id := range g.entityOrder {
		out[i] = g.entities[id]
	}
	return out
}

func (g *graph) allRelationships() []*Relationship {
	out := make([]*Relationship, len(g.edgeOrder))
	for i, k := range g.edgeOrder {
		out[i] = g.relationships[k]
	}
	return out
}
