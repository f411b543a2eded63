package scenario

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/rapport/internal/observe"
	"github.com/MrWong99/rapport/internal/social"
)

// valueTolerance is the absolute difference accepted by expect_stat.
const valueTolerance = 1e-9

// Report summarises a completed run.
type Report struct {
	// Steps is the number of steps executed.
	Steps int

	// Expectations is the number of expect_* steps that passed.
	Expectations int
}

// Run executes every step of sc against e in order and stops at the first
// failure. ctx is checked between steps.
//
// A failed expectation is reported as an error wrapping [ErrExpectation];
// an action that fails unexpectedly returns the engine's error.
func Run(ctx context.Context, e *social.Engine, sc *Scenario) (Report, error) {
	ctx, span := observe.StartSpan(ctx, "scenario.run",
		trace.WithAttributes(attribute.String("scenario", sc.Name), attribute.Int("steps", len(sc.Steps))),
	)
	defer span.End()
	log := observe.Logger(ctx)

	var rep Report
	for i, s := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return rep, fmt.Errorf("scenario %q: step %d: %w", sc.Name, i, err)
		}
		kind := s.Kind()
		expectation, err := runStep(e, s)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "step failed")
			return rep, fmt.Errorf("scenario %q: step %d (%s): %w", sc.Name, i, kind, err)
		}
		rep.Steps++
		if expectation {
			rep.Expectations++
		}
		log.Debug("scenario: step done", "scenario", sc.Name, "step", i, "kind", kind)
	}
	log.Info("scenario: completed", "scenario", sc.Name, "steps", rep.Steps, "expectations", rep.Expectations)
	return rep, nil
}

// runStep runs one step and reports whether it was an expectation.
func runStep(e *social.Engine, s Step) (bool, error) {
	expectation, err := dispatchStep(e, s)
	if s.ExpectError == "" {
		return expectation, err
	}
	if err == nil {
		return expectation, fmt.Errorf("%w: expected an error containing %q", ErrExpectation, s.ExpectError)
	}
	if !strings.Contains(err.Error(), s.ExpectError) {
		return expectation, fmt.Errorf("%w: expected an error containing %q, got: %v", ErrExpectation, s.ExpectError, err)
	}
	return true, nil
}

func dispatchStep(e *social.Engine, s Step) (bool, error) {
	switch {
	case s.CreateEntity != "":
		_, err := e.GetOrCreateEntity(s.CreateEntity)
		return false, err
	case s.CreateRelationship != nil:
		_, err := e.GetOrCreateRelationship(s.CreateRelationship.Owner, s.CreateRelationship.Target)
		return false, err
	case s.AddTrait != nil:
		if s.AddTrait.IsRelationship() {
			return false, e.AddTraitToRelationship(s.AddTrait.Owner, s.AddTrait.Target, s.AddTrait.Trait)
		}
		return false, e.AddTraitToEntity(s.AddTrait.Entity, s.AddTrait.Trait)
	case s.RemoveTrait != nil:
		if s.RemoveTrait.IsRelationship() {
			return false, e.RemoveTraitFromRelationship(s.RemoveTrait.Owner, s.RemoveTrait.Target, s.RemoveTrait.Trait)
		}
		return false, e.RemoveTraitFromEntity(s.RemoveTrait.Entity, s.RemoveTrait.Trait)
	case s.AddRule != nil:
		r, err := libraryRule(e, s.AddRule)
		if err != nil {
			return false, err
		}
		return false, e.AddSocialRule(s.AddRule.Entity, r)
	case s.RemoveRule != nil:
		r, err := libraryRule(e, s.RemoveRule)
		if err != nil {
			return false, err
		}
		return false, e.RemoveSocialRule(s.RemoveRule.Entity, r)
	case s.RemoveRulesFromSource != nil:
		return removeFromSource(e, s.RemoveRulesFromSource)
	case s.Dispatch != "":
		return false, e.Dispatch(s.Dispatch)
	case s.Tick > 0:
		for range s.Tick {
			if err := e.Tick(); err != nil {
				return false, err
			}
		}
		return false, nil
	case s.ExpectStat != nil:
		return true, expectStat(e, s.ExpectStat)
	case s.ExpectTrait != nil:
		return true, expectTrait(e, s.ExpectTrait)
	case s.ExpectRule != nil:
		return true, expectRule(e, s.ExpectRule)
	}
	return false, fmt.Errorf("%w: step has no action", ErrInvalidScenario)
}

func libraryRule(e *social.Engine, rs *RuleStep) (*social.Rule, error) {
	r, err := e.Library().Rule(rs.Rule)
	if err != nil {
		return nil, err
	}
	if rs.Source != "" {
		r = r.WithSource(rs.Source)
	}
	return r, nil
}

func removeFromSource(e *social.Engine, ss *SourceStep) (bool, error) {
	n, err := e.RemoveAllRulesFromSource(ss.Entity, ss.Source)
	if err != nil {
		return false, err
	}
	if ss.Removed == nil {
		return false, nil
	}
	if n != *ss.Removed {
		return true, fmt.Errorf("%w: removed %d rules from source %q on %s, want %d", ErrExpectation, n, ss.Source, ss.Entity, *ss.Removed)
	}
	return true, nil
}

func holder(e *social.Engine, ref Ref) (social.Holder, error) {
	if ref.IsRelationship() {
		return e.Relationship(ref.Owner, ref.Target)
	}
	return e.Entity(ref.Entity)
}

func expectStat(e *social.Engine, x *StatExpectation) error {
	h, err := holder(e, x.Ref)
	if err != nil {
		return err
	}
	got, err := h.Stats().Value(x.Stat)
	if err != nil {
		return fmt.Errorf("%s: %w", x.Ref, err)
	}
	if math.Abs(got-x.Value) > valueTolerance {
		return fmt.Errorf("%w: %s %s = %g, want %g", ErrExpectation, x.Ref, x.Stat, got, x.Value)
	}
	return nil
}

func expectTrait(e *social.Engine, x *TraitExpectation) error {
	h, err := holder(e, x.Ref)
	if err != nil {
		return err
	}
	if held := h.HasTrait(x.Trait); held == x.Absent {
		state := "held"
		if !held {
			state = "not held"
		}
		return fmt.Errorf("%w: trait %q is %s by %s (traits: %v)", ErrExpectation, x.Trait, state, x.Ref, h.TraitIDs())
	}
	return nil
}

func expectRule(e *social.Engine, x *RuleExpectation) error {
	rel, err := e.Relationship(x.Owner, x.Target)
	if err != nil {
		return err
	}
	active := false
	for _, r := range rel.ActiveRules() {
		if r.ID == x.Rule {
			active = true
			break
		}
	}
	if active == x.Inactive {
		state := "active"
		if !active {
			state = "inactive"
		}
		return fmt.Errorf("%w: rule %q is %s on %s", ErrExpectation, x.Rule, state, rel.ID())
	}
	return nil
}
