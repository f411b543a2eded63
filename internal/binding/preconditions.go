package binding

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/rapport/internal/social"
)

// Subject names the side of a [social.Match] a precondition inspects.
type Subject string

const (
	SubjectOwner        Subject = "owner"
	SubjectTarget       Subject = "target"
	SubjectRelationship Subject = "relationship"
)

func parseSubject(s string) (Subject, error) {
	switch Subject(s) {
	case "":
		return SubjectOwner, nil
	case SubjectOwner, SubjectTarget, SubjectRelationship:
		return Subject(s), nil
	}
	return "", fmt.Errorf("%w: subject %q; valid values: owner, target, relationship", ErrInvalidArgument, s)
}

func (s Subject) pick(m social.Match) social.Subject {
	switch s {
	case SubjectTarget:
		return m.Target
	case SubjectRelationship:
		return m.Relationship
	}
	return m.Owner
}

// HasTrait holds when the subject carries Trait. With Negate set it holds
// when the subject does not.
type HasTrait struct {
	Subject Subject
	Trait   string
	Negate  bool
}

// Holds implements [social.Precondition].
func (p HasTrait) Holds(m social.Match) bool {
	s := p.Subject.pick(m)
	if s == nil {
		return p.Negate
	}
	return s.HasTrait(p.Trait) != p.Negate
}

// Traits implements [TraitReferencer].
func (p HasTrait) Traits() []string { return []string{p.Trait} }

// IsEntity holds when the subject's identifier equals ID.
type IsEntity struct {
	Subject Subject
	ID      string
}

// Holds implements [social.Precondition].
func (p IsEntity) Holds(m social.Match) bool {
	s := p.Subject.pick(m)
	return s != nil && s.ID() == p.ID
}

// AllOf holds when every condition holds. An empty AllOf always holds.
type AllOf []social.Precondition

// Holds implements [social.Precondition].
func (p AllOf) Holds(m social.Match) bool {
	for _, c := range p {
		if !c.Holds(m) {
			return false
		}
	}
	return true
}

// AnyOf holds when at least one condition holds.
type AnyOf []social.Precondition

// Holds implements [social.Precondition].
func (p AnyOf) Holds(m social.Match) bool {
	for _, c := range p {
		if c.Holds(m) {
			return true
		}
	}
	return false
}

// Not inverts a condition.
type Not struct {
	Condition social.Precondition
}

// Holds implements [social.Precondition].
func (p Not) Holds(m social.Match) bool { return !p.Condition.Holds(m) }

func traitFactory(negate bool) PreconditionFactory {
	return func(node *yaml.Node) (social.Precondition, error) {
		if err := CheckFields(node, "subject", "trait"); err != nil {
			return nil, err
		}
		var args struct {
			Subject string `yaml:"subject"`
			Trait   string `yaml:"trait"`
		}
		if err := node.Decode(&args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		if args.Trait == "" {
			return nil, fmt.Errorf("%w: trait is required", ErrInvalidArgument)
		}
		subj, err := parseSubject(args.Subject)
		if err != nil {
			return nil, err
		}
		return HasTrait{Subject: subj, Trait: args.Trait, Negate: negate}, nil
	}
}

func isEntityFactory(node *yaml.Node) (social.Precondition, error) {
	if err := CheckFields(node, "subject", "id"); err != nil {
		return nil, err
	}
	var args struct {
		Subject string `yaml:"subject"`
		ID      string `yaml:"id"`
	}
	if err := node.Decode(&args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if args.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}
	subj, err := parseSubject(args.Subject)
	if err != nil {
		return nil, err
	}
	if subj == SubjectRelationship {
		return nil, fmt.Errorf("%w: is_entity subject must be owner or target", ErrInvalidArgument)
	}
	return IsEntity{Subject: subj, ID: args.ID}, nil
}

// listFactory builds AllOf / AnyOf from a "conditions" sequence, resolving
// each child through r.
func listFactory(r *Registry, build func([]social.Precondition) social.Precondition) PreconditionFactory {
	return func(node *yaml.Node) (social.Precondition, error) {
		if err := CheckFields(node, "conditions"); err != nil {
			return nil, err
		}
		var args struct {
			Conditions []yaml.Node `yaml:"conditions"`
		}
		if err := node.Decode(&args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		if len(args.Conditions) == 0 {
			return nil, fmt.Errorf("%w: conditions must not be empty", ErrInvalidArgument)
		}
		children := make([]social.Precondition, 0, len(args.Conditions))
		for i := range args.Conditions {
			c, err := r.NewPrecondition(&args.Conditions[i])
			if err != nil {
				return nil, fmt.Errorf("conditions[%d]: %w", i, err)
			}
			children = append(children, c)
		}
		return build(children), nil
	}
}

func notFactory(r *Registry) PreconditionFactory {
	return func(node *yaml.Node) (social.Precondition, error) {
		if err := CheckFields(node, "condition"); err != nil {
			return nil, err
		}
		var args struct {
			Condition yaml.Node `yaml:"condition"`
		}
		if err := node.Decode(&args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		if args.Condition.Kind == 0 {
			return nil, fmt.Errorf("%w: condition is required", ErrInvalidArgument)
		}
		c, err := r.NewPrecondition(&args.Condition)
		if err != nil {
			return nil, fmt.Errorf("condition: %w", err)
		}
		return Not{Condition: c}, nil
	}
}
