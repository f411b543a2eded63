package social

import (
	"errors"
	"fmt"
	"log/slog"
)

// AddTraitToEntity attaches the library trait traitID to the entity id,
// creating the entity if needed.
//
// The trait's attach effects run first, then the trait is inserted and
// [TraitAdded] fires, then every relationship touching the entity is
// re-evaluated. Attaching a trait that is already held only refreshes its
// remaining duration. Returns [ErrNotFound] for unknown traits.
func (e *Engine) AddTraitToEntity(id, traitID string) error {
	ent, err := e.GetOrCreateEntity(id)
	if err != nil {
		return err
	}
	return e.addLibraryTrait(ent, traitID)
}

// RemoveTraitFromEntity detaches traitID from the entity id.
//
// [TraitRemoved] fires first, then the detach effects run, then the trait
// leaves the set and every relationship touching the entity is re-evaluated.
// Returns [ErrNotFound] if the entity does not exist or does not hold the
// trait.
func (e *Engine) RemoveTraitFromEntity(id, traitID string) error {
	ent, err := e.Entity(id)
	if err != nil {
		return err
	}
	return e.removeHeldTrait(ent, traitID)
}

// AddTraitToRelationship attaches traitID to the relationship owner→target,
// creating it if needed, and re-evaluates that relationship's rules.
func (e *Engine) AddTraitToRelationship(owner, target, traitID string) error {
	rel, err := e.GetOrCreateRelationship(owner, target)
	if err != nil {
		return err
	}
	return e.addLibraryTrait(rel, traitID)
}

// RemoveTraitFromRelationship detaches traitID from the relationship
// owner→target. Returns [ErrNotFound] if the relationship does not exist or
// does not hold the trait.
func (e *Engine) RemoveTraitFromRelationship(owner, target, traitID string) error {
	rel, err := e.Relationship(owner, target)
	if err != nil {
		return err
	}
	return e.removeHeldTrait(rel, traitID)
}

func (e *Engine) addLibraryTrait(h Holder, traitID string) error {
	t, err := e.lib.Trait(traitID)
	if err != nil {
		return fmt.Errorf("social: add trait to %s: %w", h.ID(), err)
	}
	if err := e.addTrait(h, t, owners{host: true}); err != nil {
		return fmt.Errorf("social: add trait %q to %s: %w", traitID, h.ID(), err)
	}
	return nil
}

func (e *Engine) removeHeldTrait(h Holder, traitID string) error {
	removed, err := e.removeTrait(h, traitID)
	if err != nil {
		return fmt.Errorf("social: remove trait %q from %s: %w", traitID, h.ID(), err)
	}
	if !removed {
		return fmt.Errorf("social: %w: %s does not hold trait %q", ErrNotFound, h.ID(), traitID)
	}
	return nil
}

// addTrait attaches t on behalf of by. If h already holds t, by is added to
// the instance's owners and the duration is refreshed. When an attach effect
// fails, the effects applied before it are reverted and t is not inserted.
func (e *Engine) addTrait(h Holder, t *Trait, by owners) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()

	set := h.traitSet()
	if inst := set.get(t.ID); inst != nil {
		if t.Duration > 0 {
			inst.Remaining = t.Duration
		}
		inst.owners.merge(by)
		return nil
	}

	inst := newInstance(t)
	inst.owners.merge(by)
	c := e.traitContext(h, t)
	if err := c.applyOrUndo(t.Effects); err != nil {
		return err
	}
	set.insert(inst)
	e.emit(Notification{Kind: TraitAdded, Subject: h.ID(), Trait: t.ID})
	slog.Debug("social: trait added", "holder", h.ID(), "trait", t.ID)

	return e.reconcileHolder(h)
}

// removeTrait reports whether the trait was held.
func (e *Engine) removeTrait(h Holder, traitID string) (bool, error) {
	set := h.traitSet()
	inst := set.get(traitID)
	if inst == nil || inst.removing {
		return false, nil
	}
	if err := e.enter(); err != nil {
		return false, err
	}
	defer e.leave()

	inst.removing = true
	e.emit(Notification{Kind: TraitRemoved, Subject: h.ID(), Trait: traitID})

	t := inst.Trait
	c := e.traitContext(h, t)
	var errs []error
	if t.DetachEffects != nil {
		errs = append(errs, c.applyAll(t.DetachEffects, nil))
	} else {
		errs = append(errs, c.revertAll(t.Effects))
	}
	set.delete(inst)
	slog.Debug("social: trait removed", "holder", h.ID(), "trait", traitID)

	errs = append(errs, e.reconcileHolder(h))
	return true, errors.Join(errs...)
}

// traitContext binds "self" to h and, for relationships, "owner" and
// "target" to its endpoints.
func (e *Engine) traitContext(h Holder, t *Trait) *Context {
	return &Context{
		engine:   e,
		subject:  h,
		bindings: holderBindings(h),
		source:   "trait:" + t.ID + "@" + h.ID(),
	}
}

func holderBindings(h Holder) map[string]string {
	switch v := h.(type) {
	case *Relationship:
		return map[string]string{"owner": v.owner, "target": v.target}
	case *Entity:
		return map[string]string{Self: v.id}
	}
	return map[string]string{}
}
