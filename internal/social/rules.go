package social

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// AddSocialRule registers rule on the entity id, creating the entity if
// needed, and activates it on every relationship in the rule's direction
// whose preconditions already hold. Registering a rule with the same
// [Rule.Key] twice is a no-op.
func (e *Engine) AddSocialRule(id string, rule *Rule) error {
	ent, err := e.GetOrCreateEntity(id)
	if err != nil {
		return err
	}
	if _, err := e.addRule(ent, rule); err != nil {
		return fmt.Errorf("social: add rule %q to %s: %w", rule.ID, id, err)
	}
	return nil
}

// AddSocialRuleByID is [Engine.AddSocialRule] for a library rule.
func (e *Engine) AddSocialRuleByID(id, ruleID string) error {
	r, err := e.lib.Rule(ruleID)
	if err != nil {
		return fmt.Errorf("social: add rule to %s: %w", id, err)
	}
	return e.AddSocialRule(id, r)
}

// RemoveSocialRule unregisters rule from the entity id and deactivates it on
// every relationship where it was active.
// Returns [ErrNotFound] if the entity does not exist or does not enforce the
// rule.
func (e *Engine) RemoveSocialRule(id string, rule *Rule) error {
	ent, err := e.Entity(id)
	if err != nil {
		return err
	}
	removed, err := e.removeRule(ent, rule)
	if err != nil {
		return fmt.Errorf("social: remove rule %q from %s: %w", rule.ID, id, err)
	}
	if !removed {
		return fmt.Errorf("social: %w: %s does not enforce rule %q", ErrNotFound, id, rule.ID)
	}
	return nil
}

// RemoveAllRulesFromSource unregisters every rule on the entity id whose
// provenance tag equals source and returns how many were removed.
// Returns [ErrNotFound] if the entity does not exist.
func (e *Engine) RemoveAllRulesFromSource(id, source string) (int, error) {
	ent, err := e.Entity(id)
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, r := range ent.Rules() {
		if r.Source != source {
			continue
		}
		removed, err := e.removeRule(ent, r)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", r.ID, err))
		}
		if removed {
			n++
		}
	}
	if err := errors.Join(errs...); err != nil {
		return n, fmt.Errorf("social: remove rules from source %q on %s: %w", source, id, err)
	}
	return n, nil
}

// addRule reports whether the rule was newly registered.
func (e *Engine) addRule(ent *Entity, rule *Rule) (bool, error) {
	if ent.enforces(rule) {
		return false, nil
	}
	ent.rules = append(ent.rules, rule)
	slog.Debug("social: rule registered", "entity", ent.id, "rule", rule.ID, "source", rule.Source)

	var errs []error
	for _, rel := range e.graph.adjacent(ent, rule.Direction) {
		errs = append(errs, e.reconcile(rel))
	}
	return true, errors.Join(errs...)
}

// removeRule reports whether the rule was registered. The rule leaves the
// entity's set before it is deactivated so that cascades triggered by its
// deactivation can never re-activate it.
func (e *Engine) removeRule(ent *Entity, rule *Rule) (bool, error) {
	key := rule.Key()
	if ent.rule(key) == nil {
		return false, nil
	}
	ent.rules = slices.DeleteFunc(ent.rules, func(r *Rule) bool { return r.Key() == key })
	slog.Debug("social: rule unregistered", "entity", ent.id, "rule", rule.ID, "source", rule.Source)

	var errs []error
	for _, rel := range e.graph.adjacent(ent, rule.Direction) {
		errs = append(errs, e.reconcile(rel))
	}
	return true, errors.Join(errs...)
}

// reconcileHolder re-evaluates every relationship whose preconditions can
// observe h: for an entity, all of its outgoing and incoming relationships.
func (e *Engine) reconcileHolder(h Holder) error {
	switch v := h.(type) {
	case *Relationship:
		return e.reconcile(v)
	case *Entity:
		var errs []error
		for _, rel := range e.graph.adjacent(v, Outgoing) {
			errs = append(errs, e.reconcile(rel))
		}
		for _, rel := range e.graph.adjacent(v, Incoming) {
			errs = append(errs, e.reconcile(rel))
		}
		return errors.Join(errs...)
	}
	return nil
}

// reconcile makes rel's active rule set equal to the applicable rules whose
// preconditions hold. Effects may cascade into nested reconciles, so every
// decision re-reads the live state instead of trusting an earlier pass.
func (e *Engine) reconcile(rel *Relationship) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()

	owner, _ := e.graph.entity(rel.owner)
	target, _ := e.graph.entity(rel.target)
	m := Match{Owner: owner, Target: target, Relationship: rel}

	for _, r := range rel.ActiveRules() {
		if !rel.IsActive(r) {
			continue
		}
		if applicable(owner, target, r) && r.Holds(m) {
			continue
		}
		if err := e.deactivate(rel, r); err != nil {
			return err
		}
	}

	for _, r := range applicableRules(owner, target) {
		if rel.IsActive(r) || !applicable(owner, target, r) || !r.Holds(m) {
			continue
		}
		if err := e.activate(rel, r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) activate(rel *Relationship, r *Rule) error {
	rel.markActive(r)
	e.emit(Notification{Kind: RuleActivated, Subject: rel.ID(), Rule: r.ID})
	slog.Debug("social: rule activated", "relationship", rel.ID(), "rule", r.ID, "source", r.Source)

	c := e.ruleContext(rel, r)
	return c.applyAll(r.Effects, func() bool { return rel.IsActive(r) })
}

func (e *Engine) deactivate(rel *Relationship, r *Rule) error {
	rel.markInactive(r)
	e.emit(Notification{Kind: RuleDeactivated, Subject: rel.ID(), Rule: r.ID})
	slog.Debug("social: rule deactivated", "relationship", rel.ID(), "rule", r.ID, "source", r.Source)

	c := e.ruleContext(rel, r)
	if r.DeactivateEffects != nil {
		return c.applyAll(r.DeactivateEffects, nil)
	}
	return c.revertAll(r.Effects)
}

func (e *Engine) ruleContext(rel *Relationship, r *Rule) *Context {
	return &Context{
		engine:   e,
		subject:  rel,
		bindings: map[string]string{"owner": rel.owner, "target": rel.target},
		source:   "rule:" + r.Key() + "@" + rel.ID(),
	}
}

// applicable reports whether r reaches the edge owner→target: through the
// owner's outgoing rules or the target's incoming rules.
func applicable(owner, target *Entity, r *Rule) bool {
	if r.Direction == Outgoing {
		return owner.enforces(r)
	}
	return target.enforces(r)
}

func applicableRules(owner, target *Entity) []*Rule {
	var out []*Rule
	for _, r := range owner.rules {
		if r.Direction == Outgoing {
			out = append(out, r)
		}
	}
	for _, r := range target.rules {
		if r.Direction == Incoming {
			out = append(out, r)
		}
	}
	return out
}
