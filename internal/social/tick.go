package social

import (
	"errors"
	"fmt"
	"log/slog"
)

type expiry struct {
	holder Holder
	inst   *TraitInstance
}

// Tick advances the simulation by one time step:
//
//  1. every stat modifier with a positive duration is decremented and those
//     reaching zero are removed, with [StatChanged] delivered per stat;
//  2. every timed trait instance is decremented and those reaching zero are
//     detached exactly as [Engine.RemoveTraitFromEntity] would;
//  3. [TickCompleted] fires.
//
// Holders are visited in creation order, entities before relationships.
// Calling Tick when nothing expires is harmless.
func (e *Engine) Tick() error {
	holders := e.holders()

	expired := 0
	for _, h := range holders {
		expired += h.Stats().Tick()
	}

	var due []expiry
	for _, h := range holders {
		for _, inst := range h.traitSet().snapshot() {
			if inst.Remaining <= 0 {
				continue
			}
			inst.Remaining--
			if inst.Remaining == 0 {
				due = append(due, expiry{h, inst})
			}
		}
	}

	var errs []error
	for _, d := range due {
		id := d.inst.Trait.ID
		// A cascade may already have detached or re-attached the trait.
		if d.holder.traitSet().get(id) != d.inst {
			continue
		}
		removed, err := e.removeTrait(d.holder, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire trait %q on %s: %w", id, d.holder.ID(), err))
		}
		if removed {
			expired++
			slog.Debug("social: trait expired", "holder", d.holder.ID(), "trait", id)
		}
	}

	e.ticks++
	e.emit(Notification{Kind: TickCompleted, Tick: e.ticks, Expired: expired})

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("social: tick %d: %w", e.ticks, err)
	}
	return nil
}

func (e *Engine) holders() []Holder {
	ents := e.graph.allEntities()
	rels := e.graph.allRelationships()
	out := make([]Holder, 0, len(ents)+len(rels))
	for _, ent := range ents {
		out = append(out, ent)
	}
	for _, rel := range rels {
		out = append(out, rel)
	}
	return out
}
