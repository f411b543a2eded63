package binding

import (
	"errors"

	"github.com/MrWong99/rapport/internal/social"
	"github.com/MrWong99/rapport/pkg/stat"
)

// RegisterBuiltins registers the built-in factories:
//
// Preconditions: has_trait, lacks_trait, is_entity, all_of, any_of, not, expr.
//
// Effects: raise_stat, lower_stat, scale_stat, add_trait, remove_trait,
// grant_rule.
func RegisterBuiltins(r *Registry) error {
	return errors.Join(
		r.RegisterPrecondition("has_trait", traitFactory(false)),
		r.RegisterPrecondition("lacks_trait", traitFactory(true)),
		r.RegisterPrecondition("is_entity", isEntityFactory),
		r.RegisterPrecondition("all_of", listFactory(r, func(c []social.Precondition) social.Precondition { return AllOf(c) })),
		r.RegisterPrecondition("any_of", listFactory(r, func(c []social.Precondition) social.Precondition { return AnyOf(c) })),
		r.RegisterPrecondition("not", notFactory(r)),
		r.RegisterPrecondition("expr", exprFactory),

		r.RegisterEffect("raise_stat", statFactory(stat.Flat, 1)),
		r.RegisterEffect("lower_stat", statFactory(stat.Flat, -1)),
		r.RegisterEffect("scale_stat", statFactory(stat.Multiplicative, 1)),
		r.RegisterEffect("add_trait", traitEffectFactory(false)),
		r.RegisterEffect("remove_trait", traitEffectFactory(true)),
		r.RegisterEffect("grant_rule", grantRuleFactory),
	)
}

// TraitReferencer is implemented by preconditions and effects that name
// library traits, so loaders can reject dangling references up front.
type TraitReferencer interface {
	Traits() []string
}

// RuleReferencer is implemented by effects that name library rules.
type RuleReferencer interface {
	Rules() []string
}

// StatReferencer is implemented by effects that name stats.
type StatReferencer interface {
	Stats() []string
}

// Traits implements [TraitReferencer].
func (p AllOf) Traits() []string { return childTraits(p) }

// Traits implements [TraitReferencer].
func (p AnyOf) Traits() []string { return childTraits(p) }

// Traits implements [TraitReferencer].
func (p Not) Traits() []string { return childTraits([]social.Precondition{p.Condition}) }

func childTraits(children []social.Precondition) []string {
	var out []string
	for _, c := range children {
		if tr, ok := c.(TraitReferencer); ok {
			out = append(out, tr.Traits()...)
		}
	}
	return out
}

// References returns the trait and rule IDs v refers to, if any.
func References(v any) (traits, rules []string) {
	if tr, ok := v.(TraitReferencer); ok {
		traits = tr.Traits()
	}
	if rr, ok := v.(RuleReferencer); ok {
		rules = rr.Rules()
	}
	return traits, rules
}
