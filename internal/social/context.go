package social

import (
	"errors"
	"fmt"
	"maps"
)

// Self is the reference that always resolves to the holder an effect runs on.
const Self = "self"

// Context is the binding context an [Effect] runs in. It carries the holder
// the effect is attached to, the variable bindings (variable name → entity
// ID) and the provenance key used to tag and later remove stat modifiers.
type Context struct {
	engine   *Engine
	subject  Holder
	bindings map[string]string
	source   string
}

// Subject returns the holder the effect is attached to, or nil during
// social-event dispatch.
func (c *Context) Subject() Holder { return c.subject }

// Source returns the provenance key of this application.
func (c *Context) Source() string { return c.source }

// Binding returns the entity ID bound to a variable.
func (c *Context) Binding(name string) (string, bool) {
	id, ok := c.bindings[name]
	return id, ok
}

// Bindings returns a copy of all variable bindings.
func (c *Context) Bindings() map[string]string { return maps.Clone(c.bindings) }

// Resolve turns a reference into a holder:
//
//   - "self" is the holder the effect is attached to.
//   - "a->b" is the relationship between the entities bound to a and b,
//     created on demand.
//   - any other name is the entity bound to that variable.
//
// Returns [ErrUnbound] for names that are not bound and [ErrInvalidID] when
// both sides of a relationship reference bind the same entity.
func (c *Context) Resolve(ref string) (Holder, error) {
	if ref == Self {
		if c.subject == nil {
			return nil, fmt.Errorf("%w: %q has no subject here", ErrUnbound, Self)
		}
		return c.subject, nil
	}
	if a, b, ok := SplitRelationshipRef(ref); ok {
		owner, err := c.bound(a)
		if err != nil {
			return nil, err
		}
		target, err := c.bound(b)
		if err != nil {
			return nil, err
		}
		if owner == target {
			return nil, fmt.Errorf("%w: reference %q resolves to %q relating to itself", ErrInvalidID, ref, owner)
		}
		return c.engine.getOrCreateRelationship(owner, target)
	}
	id, err := c.bound(ref)
	if err != nil {
		return nil, err
	}
	return c.engine.getOrCreateEntity(id)
}

// ResolveEntity is like [Context.Resolve] but requires the reference to name
// an entity.
func (c *Context) ResolveEntity(ref string) (*Entity, error) {
	h, err := c.Resolve(ref)
	if err != nil {
		return nil, err
	}
	e, ok := h.(*Entity)
	if !ok {
		return nil, fmt.Errorf("social: reference %q is a relationship, not an entity", ref)
	}
	return e, nil
}

// AddTrait attaches a library trait to h on behalf of this context's source,
// re-evaluating affected rules. Attaching a trait that is already held only
// refreshes its duration and records the source as a further owner.
func (c *Context) AddTrait(h Holder, traitID string) error {
	t, err := c.engine.lib.Trait(traitID)
	if err != nil {
		return err
	}
	return c.engine.addTrait(h, t, owners{claims: []string{c.source}})
}

// ReleaseTrait undoes [Context.AddTrait]: it drops this source's claim and
// detaches the trait only when neither the host nor another source still
// holds it.
func (c *Context) ReleaseTrait(h Holder, traitID string) error {
	inst := h.traitSet().get(traitID)
	if inst == nil || inst.removing {
		return nil
	}
	if inst.owners.release(c.source) {
		return nil
	}
	_, err := c.engine.removeTrait(h, traitID)
	return err
}

// RemoveTrait detaches a trait from h. Removing a trait that is not held is
// a no-op. The owners of a removed trait are remembered so that
// [Context.RestoreTrait] can put it back.
func (c *Context) RemoveTrait(h Holder, traitID string) error {
	inst := h.traitSet().get(traitID)
	if inst == nil || inst.removing {
		return nil
	}
	by := inst.owners.clone()
	removed, err := c.engine.removeTrait(h, traitID)
	if removed {
		c.engine.displaced[c.displacementKey(h, traitID)] = by
	}
	return err
}

// RestoreTrait undoes [Context.RemoveTrait]. It re-attaches the trait only if
// this source's removal actually detached it.
func (c *Context) RestoreTrait(h Holder, traitID string) error {
	key := c.displacementKey(h, traitID)
	by, ok := c.engine.displaced[key]
	if !ok {
		return nil
	}
	delete(c.engine.displaced, key)
	t, err := c.engine.lib.Trait(traitID)
	if err != nil {
		return err
	}
	return c.engine.addTrait(h, t, by)
}

func (c *Context) displacementKey(h Holder, traitID string) string {
	return c.source + "|" + h.ID() + "|" + traitID
}

// GrantRule registers the library rule ruleID on e, tagged with this
// context's source so it can be revoked or bulk-removed later.
func (c *Context) GrantRule(e *Entity, ruleID string) error {
	r, err := c.engine.lib.Rule(ruleID)
	if err != nil {
		return err
	}
	_, err = c.engine.addRule(e, r.WithSource(c.source))
	return err
}

// RevokeRule removes the registration made by [Context.GrantRule].
func (c *Context) RevokeRule(e *Entity, ruleID string) error {
	r, err := c.engine.lib.Rule(ruleID)
	if err != nil {
		return err
	}
	_, err = c.engine.removeRule(e, r.WithSource(c.source))
	return err
}

func (c *Context) bound(name string) (string, error) {
	id, ok := c.bindings[name]
	if !ok {
		return "", fmt.Errorf("%w: variable %q", ErrUnbound, name)
	}
	return id, nil
}

// applyAll applies effects in order, stopping at the first error. keepGoing
// is consulted before each effect.
func (c *Context) applyAll(effects []Effect, keepGoing func() bool) error {
	for _, eff := range effects {
		if keepGoing != nil && !keepGoing() {
			return nil
		}
		if err := eff.Apply(c); err != nil {
			return err
		}
	}
	return nil
}

// applyOrUndo applies effects in order. If one fails, the effects applied
// before it are reverted in reverse order and the joined errors returned.
func (c *Context) applyOrUndo(effects []Effect) error {
	for i, eff := range effects {
		if err := eff.Apply(c); err != nil {
			if undoErr := c.revertAll(effects[:i]); undoErr != nil {
				return errors.Join(err, fmt.Errorf("undo: %w", undoErr))
			}
			return err
		}
	}
	return nil
}

// revertAll reverts effects in reverse order. Every effect is attempted; the
// errors are joined.
func (c *Context) revertAll(effects []Effect) error {
	var errs []error
	for i := len(effects) - 1; i >= 0; i-- {
		if err := effects[i].Revert(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
