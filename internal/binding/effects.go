package binding

import (
	"fmt"
	"strconv"

	"github.com/MrWong99/rapport/internal/social"
	"github.com/MrWong99/rapport/pkg/stat"
)

// StatEffect adds a modifier to a stat of the referenced holder. Reverting it
// removes every modifier this application contributed to that stat.
type StatEffect struct {
	// Target is a reference resolved through [social.Context.Resolve].
	Target    string
	Stat      string
	Magnitude float64
	Kind      stat.Kind

	// Duration in ticks; [stat.Permanent] when omitted.
	Duration int
}

// Apply implements [social.Effect].
func (e StatEffect) Apply(c *social.Context) error {
	h, err := c.Resolve(e.Target)
	if err != nil {
		return err
	}
	return h.Stats().AddModifier(stat.Modifier{
		Stat:      e.Stat,
		Reason:    c.Source(),
		Source:    c.Source(),
		Magnitude: e.Magnitude,
		Kind:      e.Kind,
		Duration:  e.Duration,
	})
}

// Revert implements [social.Effect].
func (e StatEffect) Revert(c *social.Context) error {
	h, err := c.Resolve(e.Target)
	if err != nil {
		return err
	}
	_, err = h.Stats().RemoveSource(e.Stat, c.Source())
	return err
}

// Stats implements [StatReferencer].
func (e StatEffect) Stats() []string { return []string{e.Stat} }

// TraitEffect attaches (or, with Remove set, detaches) a trait. Reverting it
// undoes only what the application did: an attached trait is detached once
// no other owner holds it, a detached trait is restored only if this
// application was the one that detached it.
type TraitEffect struct {
	Target string
	Trait  string
	Remove bool
}

// Apply implements [social.Effect].
func (e TraitEffect) Apply(c *social.Context) error {
	h, err := c.Resolve(e.Target)
	if err != nil {
		return err
	}
	if e.Remove {
		return c.RemoveTrait(h, e.Trait)
	}
	return c.AddTrait(h, e.Trait)
}

// Revert implements [social.Effect].
func (e TraitEffect) Revert(c *social.Context) error {
	h, err := c.Resolve(e.Target)
	if err != nil {
		return err
	}
	if e.Remove {
		return c.RestoreTrait(h, e.Trait)
	}
	return c.ReleaseTrait(h, e.Trait)
}

// Traits implements [TraitReferencer].
func (e TraitEffect) Traits() []string { return []string{e.Trait} }

// GrantRuleEffect registers a library rule on the referenced entity with the
// application's source as provenance. Reverting it removes that registration.
type GrantRuleEffect struct {
	Target string
	Rule   string
}

// Apply implements [social.Effect].
func (e GrantRuleEffect) Apply(c *social.Context) error {
	ent, err := c.ResolveEntity(e.Target)
	if err != nil {
		return err
	}
	return c.GrantRule(ent, e.Rule)
}

// Revert implements [social.Effect].
func (e GrantRuleEffect) Revert(c *social.Context) error {
	ent, err := c.ResolveEntity(e.Target)
	if err != nil {
		return err
	}
	return c.RevokeRule(ent, e.Rule)
}

// Rules implements [RuleReferencer].
func (e GrantRuleEffect) Rules() []string { return []string{e.Rule} }

// statFactory parses "<target> <stat> <magnitude> [duration]".
func statFactory(kind stat.Kind, sign float64) EffectFactory {
	return func(args []string) (social.Effect, error) {
		if len(args) < 3 || len(args) > 4 {
			return nil, fmt.Errorf("%w: expected <target> <stat> <magnitude> [duration], got %d arguments", ErrInvalidArgument, len(args))
		}
		mag, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: magnitude %q is not a number", ErrInvalidArgument, args[2])
		}
		dur := stat.Permanent
		if len(args) == 4 {
			dur, err = strconv.Atoi(args[3])
			if err != nil {
				return nil, fmt.Errorf("%w: duration %q is not an integer", ErrInvalidArgument, args[3])
			}
			if dur < 1 && dur != stat.Permanent {
				return nil, fmt.Errorf("%w: duration %d must be positive or %d", ErrInvalidArgument, dur, stat.Permanent)
			}
		}
		if kind == stat.Flat {
			mag *= sign
		}
		return StatEffect{Target: args[0], Stat: args[1], Magnitude: mag, Kind: kind, Duration: dur}, nil
	}
}

func traitEffectFactory(remove bool) EffectFactory {
	return func(args []string) (social.Effect, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("%w: expected <target> <trait>, got %d arguments", ErrInvalidArgument, len(args))
		}
		return TraitEffect{Target: args[0], Trait: args[1], Remove: remove}, nil
	}
}

func grantRuleFactory(args []string) (social.Effect, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: expected <target> <rule>, got %d arguments", ErrInvalidArgument, len(args))
	}
	return GrantRuleEffect{Target: args[0], Rule: args[1]}, nil
}
