// Package scenario drives a [social.Engine] through a scripted sequence of
// host calls and checks expectations along the way.
//
// A scenario document lists steps; each step holds exactly one action:
//
//	name: friendly implies kind
//	steps:
//	  - add_trait: {entity: A, trait: Friendly}
//	  - add_rule: {entity: A, rule: kind_affection}
//	  - create_relationship: {owner: A, target: B}
//	  - expect_stat: {owner: A, target: B, stat: affection, value: 10}
//	  - dispatch: "B insults A"
//	  - tick: 3
//	  - expect_trait: {entity: A, trait: Kind}
//	  - expect_rule: {owner: A, target: B, rule: kind_affection}
//
// A step may carry expect_error to assert that its action fails with an
// error containing the given text.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidScenario is wrapped by errors caused by a malformed document.
var ErrInvalidScenario = errors.New("scenario: invalid scenario")

// ErrExpectation is wrapped by errors reporting a failed expectation.
var ErrExpectation = errors.New("scenario: expectation failed")

// Scenario is the top-level structure of a scenario document.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Ref addresses a trait holder: either Entity, or the relationship
// Owner→Target.
type Ref struct {
	Entity string `yaml:"entity"`
	Owner  string `yaml:"owner"`
	Target string `yaml:"target"`
}

// IsRelationship reports whether r addresses a relationship.
func (r Ref) IsRelationship() bool { return r.Owner != "" || r.Target != "" }

// String returns the entity ID or "owner->target".
func (r Ref) String() string {
	if r.IsRelationship() {
		return r.Owner + "->" + r.Target
	}
	return r.Entity
}

func (r Ref) validate() error {
	switch {
	case r.IsRelationship() && r.Entity != "":
		return errors.New("set either entity or owner/target, not both")
	case r.IsRelationship() && (r.Owner == "" || r.Target == ""):
		return errors.New("a relationship needs both owner and target")
	case !r.IsRelationship() && r.Entity == "":
		return errors.New("entity or owner/target is required")
	}
	return nil
}

// Edge names a relationship to create.
type Edge struct {
	Owner  string `yaml:"owner"`
	Target string `yaml:"target"`
}

// TraitStep attaches or detaches a library trait.
type TraitStep struct {
	Ref   `yaml:",inline"`
	Trait string `yaml:"trait"`
}

// RuleStep registers or unregisters a library rule on an entity. Source,
// when set, overrides the rule's provenance tag.
type RuleStep struct {
	Entity string `yaml:"entity"`
	Rule   string `yaml:"rule"`
	Source string `yaml:"source"`
}

// SourceStep bulk-removes rules by provenance tag. When Removed is set, the
// number of removed rules must match it.
type SourceStep struct {
	Entity  string `yaml:"entity"`
	Source  string `yaml:"source"`
	Removed *int   `yaml:"removed"`
}

// StatExpectation asserts the effective value of a stat.
type StatExpectation struct {
	Ref   `yaml:",inline"`
	Stat  string  `yaml:"stat"`
	Value float64 `yaml:"value"`
}

// TraitExpectation asserts that a trait is held, or with Absent set, that
// it is not.
type TraitExpectation struct {
	Ref    `yaml:",inline"`
	Trait  string `yaml:"trait"`
	Absent bool   `yaml:"absent"`
}

// RuleExpectation asserts that a rule is active on a relationship, or with
// Inactive set, that it is not.
type RuleExpectation struct {
	Owner    string `yaml:"owner"`
	Target   string `yaml:"target"`
	Rule     string `yaml:"rule"`
	Inactive bool   `yaml:"inactive"`
}

// Step is one scripted action or expectation. Exactly one field other than
// ExpectError must be set.
type Step struct {
	CreateEntity          string            `yaml:"create_entity"`
	CreateRelationship    *Edge             `yaml:"create_relationship"`
	AddTrait              *TraitStep        `yaml:"add_trait"`
	RemoveTrait           *TraitStep        `yaml:"remove_trait"`
	AddRule               *RuleStep         `yaml:"add_rule"`
	RemoveRule            *RuleStep         `yaml:"remove_rule"`
	RemoveRulesFromSource *SourceStep       `yaml:"remove_rules_from_source"`
	Dispatch              string            `yaml:"dispatch"`
	Tick                  int               `yaml:"tick"`
	ExpectStat            *StatExpectation  `yaml:"expect_stat"`
	ExpectTrait           *TraitExpectation `yaml:"expect_trait"`
	ExpectRule            *RuleExpectation  `yaml:"expect_rule"`

	// ExpectError, when set, requires the action to fail with an error
	// whose message contains this text.
	ExpectError string `yaml:"expect_error"`
}

// Kind returns the name of the action the step holds.
func (s Step) Kind() string {
	kinds := s.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (s Step) kinds() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(s.CreateEntity != "", "create_entity")
	add(s.CreateRelationship != nil, "create_relationship")
	add(s.AddTrait != nil, "add_trait")
	add(s.RemoveTrait != nil, "remove_trait")
	add(s.AddRule != nil, "add_rule")
	add(s.RemoveRule != nil, "remove_rule")
	add(s.RemoveRulesFromSource != nil, "remove_rules_from_source")
	add(s.Dispatch != "", "dispatch")
	add(s.Tick != 0, "tick")
	add(s.ExpectStat != nil, "expect_stat")
	add(s.ExpectTrait != nil, "expect_trait")
	add(s.ExpectRule != nil, "expect_rule")
	return out
}

// Validate checks every step for a single well-formed action.
// It returns a joined error listing all problems found.
func (sc *Scenario) Validate() error {
	var errs []error
	for i, s := range sc.Steps {
		if err := s.validate(); err != nil {
			errs = append(errs, fmt.Errorf("steps[%d]: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	return nil
}

func (s Step) validate() error {
	kinds := s.kinds()
	switch len(kinds) {
	case 0:
		return errors.New("step has no action")
	case 1:
	default:
		return fmt.Errorf("step has several actions %v", kinds)
	}

	switch {
	case s.Tick < 0:
		return fmt.Errorf("tick count %d must be positive", s.Tick)
	case s.CreateRelationship != nil && (s.CreateRelationship.Owner == "" || s.CreateRelationship.Target == ""):
		return errors.New("create_relationship needs owner and target")
	case s.AddTrait != nil:
		return traitStep(s.AddTrait)
	case s.RemoveTrait != nil:
		return traitStep(s.RemoveTrait)
	case s.AddRule != nil && (s.AddRule.Entity == "" || s.AddRule.Rule == ""):
		return errors.New("add_rule needs entity and rule")
	case s.RemoveRule != nil && (s.RemoveRule.Entity == "" || s.RemoveRule.Rule == ""):
		return errors.New("remove_rule needs entity and rule")
	case s.RemoveRulesFromSource != nil && s.RemoveRulesFromSource.Entity == "":
		return errors.New("remove_rules_from_source needs entity")
	case s.ExpectStat != nil:
		if s.ExpectStat.Stat == "" {
			return errors.New("expect_stat needs stat")
		}
		return s.ExpectStat.Ref.validate()
	case s.ExpectTrait != nil:
		if s.ExpectTrait.Trait == "" {
			return errors.New("expect_trait needs trait")
		}
		return s.ExpectTrait.Ref.validate()
	case s.ExpectRule != nil && (s.ExpectRule.Owner == "" || s.ExpectRule.Target == "" || s.ExpectRule.Rule == ""):
		return errors.New("expect_rule needs owner, target and rule")
	}
	return nil
}

func traitStep(t *TraitStep) error {
	if t.Trait == "" {
		return errors.New("trait is required")
	}
	return t.Ref.validate()
}

// Load reads and validates a scenario document from disk.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: open %q: %w", path, err)
	}
	defer f.Close()

	sc, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("scenario: parse %q: %w", path, err)
	}
	return sc, nil
}

// LoadFromReader decodes and validates a scenario document from r.
func LoadFromReader(r io.Reader) (*Scenario, error) {
	sc := &Scenario{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(sc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidScenario, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}
