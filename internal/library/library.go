// Package library loads declarative definition documents (stats, traits,
// social rules and social events) into a [social.Library].
//
// Example:
//
//	stats:
//	  entity:
//	    - {name: mood, base: 5, min: 0, max: 10, discrete: true}
//	  relationship:
//	    - {name: affection, base: 0, min: -100, max: 100}
//	traits:
//	  - id: Friendly
//	    effects: [add_trait self Kind]
//	  - id: Kind
//	  - id: Flustered
//	    duration: 3
//	    stats_effects: [lower_stat self mood 2]
//	rules:
//	  - id: kind_affection
//	    direction: outgoing
//	    preconditions:
//	      - {type: has_trait, subject: owner, trait: Kind}
//	    effects: [raise_stat owner->target affection 10]
//	events:
//	  - id: insult
//	    pattern: "?actor insults ?victim"
//	    effects: [lower_stat victim->actor affection 20]
//
// Loading is all-or-nothing: any malformed field, unknown factory, bad
// argument or dangling trait, rule or stat reference fails the whole load with an
// error wrapping [ErrInvalidDefinition], and every problem found is reported.
package library

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/rapport/internal/binding"
	"github.com/MrWong99/rapport/internal/social"
	"github.com/MrWong99/rapport/internal/suggest"
	"github.com/MrWong99/rapport/pkg/stat"
)

// ErrInvalidDefinition is wrapped by every load failure caused by document
// content (as opposed to I/O).
var ErrInvalidDefinition = errors.New("library: invalid definition")

// File is the top-level structure of a definition document.
type File struct {
	Stats  StatsSection `yaml:"stats"`
	Traits []TraitDef   `yaml:"traits"`
	Rules  []RuleDef    `yaml:"rules"`
	Events []EventDef   `yaml:"events"`
}

// StatsSection declares the default stats of new entities and relationships.
type StatsSection struct {
	Entity       []StatDef `yaml:"entity"`
	Relationship []StatDef `yaml:"relationship"`
}

// StatDef declares one stat. Omitted bounds mean unbounded on that side.
type StatDef struct {
	Name     string   `yaml:"name"`
	Base     float64  `yaml:"base"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Discrete bool     `yaml:"discrete"`
}

// Definition converts d into a [stat.Definition].
func (d StatDef) Definition() stat.Definition {
	def := stat.Definition{Name: d.Name, Base: d.Base, Min: -math.MaxFloat64, Max: math.MaxFloat64, Discrete: d.Discrete}
	if d.Min != nil {
		def.Min = *d.Min
	}
	if d.Max != nil {
		def.Max = *d.Max
	}
	return def
}

// TraitDef declares a trait. Effects and detach effects are invocation
// strings resolved through a [binding.Registry].
type TraitDef struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"display_name"`
	Description string   `yaml:"description"`
	Effects     []string `yaml:"effects"`

	// StatsEffects is accepted in place of Effects. A trait may use one
	// key or the other, not both.
	StatsEffects []string `yaml:"stats_effects"`

	// DetachEffects replace the automatic revert of Effects when present,
	// even if empty.
	DetachEffects *[]string `yaml:"detach_effects"`

	// Duration in ticks; zero keeps the trait until it is removed.
	Duration int `yaml:"duration"`
}

// RuleDef declares a social rule. Preconditions are kept as raw nodes and
// handed to the registry's precondition factories.
type RuleDef struct {
	ID            string      `yaml:"id"`
	Description   string      `yaml:"description"`
	Direction     string      `yaml:"direction"`
	Source        string      `yaml:"source"`
	Preconditions []yaml.Node `yaml:"preconditions"`
	Effects       []string    `yaml:"effects"`

	// DeactivateEffects replace the automatic revert of Effects when
	// present, even if empty.
	DeactivateEffects *[]string `yaml:"deactivate_effects"`
}

// EventDef declares a social event.
type EventDef struct {
	ID      string   `yaml:"id"`
	Pattern string   `yaml:"pattern"`
	Effects []string `yaml:"effects"`
}

// LoadFile reads and parses a definition document from disk.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("library: open definitions %q: %w", path, err)
	}
	defer f.Close()

	df, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("library: parse definitions %q: %w", path, err)
	}
	return df, nil
}

// LoadFromReader parses a definition document from an [io.Reader].
// Unknown keys are rejected. An empty document yields an empty [File].
func LoadFromReader(r io.Reader) (*File, error) {
	var df File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&df); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidDefinition, err)
	}
	return &df, nil
}

// Load reads every path in order and builds one library from all of them.
// Later files may reference traits and rules declared in earlier ones and
// vice versa.
func Load(reg *binding.Registry, paths ...string) (*social.Library, error) {
	files := make([]*File, 0, len(paths))
	for _, p := range paths {
		df, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, df)
	}
	return Build(reg, files...)
}

// Build constructs a library from parsed documents. All problems are
// collected and returned joined; on error the returned library is nil.
func Build(reg *binding.Registry, files ...*File) (*social.Library, error) {
	b := &builder{reg: reg, lib: social.NewLibrary()}
	for _, df := range files {
		b.stats(df.Stats)
		for i, td := range df.Traits {
			b.trait(i, td)
		}
		for i, rd := range df.Rules {
			b.rule(i, rd)
		}
		for i, ed := range df.Events {
			b.event(i, ed)
		}
	}
	b.checkReferences()

	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("%w:\n%w", ErrInvalidDefinition, err)
	}
	return b.lib, nil
}

// ─── builder ────────────────────────────────────────────────────────────────

type builder struct {
	reg  *binding.Registry
	lib  *social.Library
	errs []error

	// refs records every trait, rule and stat reference for the final check.
	refs []reference
}

type reference struct {
	where string
	kind  string
	id    string
}

func (b *builder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

func (b *builder) stats(s StatsSection) {
	for i, d := range s.Entity {
		if def, ok := b.stat(fmt.Sprintf("stats.entity[%d]", i), d); ok {
			b.lib.EntityStats = append(b.lib.EntityStats, def)
		}
	}
	for i, d := range s.Relationship {
		if def, ok := b.stat(fmt.Sprintf("stats.relationship[%d]", i), d); ok {
			b.lib.RelationshipStats = append(b.lib.RelationshipStats, def)
		}
	}
}

func (b *builder) stat(where string, d StatDef) (stat.Definition, bool) {
	def := d.Definition()
	if err := def.Validate(); err != nil {
		b.fail("%s: %w", where, err)
		return def, false
	}
	return def, true
}

func (b *builder) trait(i int, td TraitDef) {
	where := fmt.Sprintf("traits[%d] %q", i, td.ID)
	ok := true
	if td.ID == "" || strings.ContainsFunc(td.ID, unicode.IsSpace) {
		b.fail("%s: id must be non-empty and contain no whitespace", where)
		ok = false
	}
	if td.Duration < 0 {
		b.fail("%s: duration %d must not be negative", where, td.Duration)
		ok = false
	}
	attach, key := td.Effects, "effects"
	if td.StatsEffects != nil {
		if td.Effects != nil {
			b.fail("%s: effects and stats_effects are mutually exclusive", where)
			ok = false
		}
		attach, key = td.StatsEffects, "stats_effects"
	}
	effects, eok := b.effects(where+" "+key, attach)
	detach, dok := b.optionalEffects(where+" detach_effects", td.DetachEffects)
	if !ok || !eok || !dok {
		return
	}
	t := &social.Trait{
		ID:            td.ID,
		DisplayName:   td.DisplayName,
		Description:   td.Description,
		Effects:       effects,
		DetachEffects: detach,
		Duration:      td.Duration,
	}
	if err := b.lib.AddTrait(t); err != nil {
		b.fail("%s: %w", where, err)
	}
}

func (b *builder) rule(i int, rd RuleDef) {
	where := fmt.Sprintf("rules[%d] %q", i, rd.ID)
	ok := true
	if rd.ID == "" || strings.ContainsFunc(rd.ID, unicode.IsSpace) {
		b.fail("%s: id must be non-empty and contain no whitespace", where)
		ok = false
	}
	dir, err := social.ParseDirection(rd.Direction)
	if err != nil {
		b.fail("%s: %w", where, err)
		ok = false
	}
	pres := make([]social.Precondition, 0, len(rd.Preconditions))
	for j := range rd.Preconditions {
		p, err := b.reg.NewPrecondition(&rd.Preconditions[j])
		if err != nil {
			b.fail("%s preconditions[%d]: %w", where, j, err)
			ok = false
			continue
		}
		b.note(fmt.Sprintf("%s preconditions[%d]", where, j), p)
		pres = append(pres, p)
	}
	effects, eok := b.effects(where+" effects", rd.Effects)
	deact, dok := b.optionalEffects(where+" deactivate_effects", rd.DeactivateEffects)
	if !ok || !eok || !dok {
		return
	}
	r := &social.Rule{
		ID:                rd.ID,
		Description:       rd.Description,
		Direction:         dir,
		Source:            rd.Source,
		Preconditions:     pres,
		Effects:           effects,
		DeactivateEffects: deact,
	}
	if err := b.lib.AddRule(r); err != nil {
		b.fail("%s: %w", where, err)
	}
}

func (b *builder) event(i int, ed EventDef) {
	where := fmt.Sprintf("events[%d] %q", i, ed.ID)
	if ed.ID == "" {
		b.fail("%s: id must not be empty", where)
		return
	}
	tokens, vars, err := social.ParsePattern(ed.Pattern)
	if err != nil {
		b.fail("%s: %w", where, err)
		return
	}
	effects, ok := b.effects(where+" effects", ed.Effects)
	if !ok {
		return
	}
	for j, inv := range ed.Effects {
		if err := checkEventRefs(inv, vars); err != nil {
			b.fail("%s effects[%d]: %w", where, j, err)
			ok = false
		}
	}
	if !ok {
		return
	}
	if err := b.lib.AddEvent(&social.SocialEvent{ID: ed.ID, Pattern: tokens, Effects: effects}); err != nil {
		b.fail("%s: %w", where, err)
	}
}

func (b *builder) effects(where string, invocations []string) ([]social.Effect, bool) {
	out := make([]social.Effect, 0, len(invocations))
	ok := true
	for j, inv := range invocations {
		eff, err := b.reg.NewEffect(inv)
		if err != nil {
			b.fail("%s[%d]: %w", where, j, err)
			ok = false
			continue
		}
		b.note(fmt.Sprintf("%s[%d]", where, j), eff)
		out = append(out, eff)
	}
	return out, ok
}

// optionalEffects keeps the nil / empty distinction of an optional list.
func (b *builder) optionalEffects(where string, invocations *[]string) ([]social.Effect, bool) {
	if invocations == nil {
		return nil, true
	}
	return b.effects(where, *invocations)
}

func (b *builder) note(where string, v any) {
	traits, rules := binding.References(v)
	for _, id := range traits {
		b.refs = append(b.refs, reference{where: where, kind: "trait", id: id})
	}
	for _, id := range rules {
		b.refs = append(b.refs, reference{where: where, kind: "rule", id: id})
	}
	if sr, ok := v.(binding.StatReferencer); ok {
		for _, name := range sr.Stats() {
			b.refs = append(b.refs, reference{where: where, kind: "stat", id: name})
		}
	}
}

// statNames lists every declared stat, entity stats first.
func (b *builder) statNames() []string {
	var names []string
	for _, d := range slices.Concat(b.lib.EntityStats, b.lib.RelationshipStats) {
		if !slices.Contains(names, d.Name) {
			names = append(names, d.Name)
		}
	}
	return names
}

// checkReferences runs once every document has been read so that
// definitions may refer to each other regardless of order.
func (b *builder) checkReferences() {
	stats := b.statNames()
	for _, ref := range b.refs {
		var err error
		switch ref.kind {
		case "trait":
			_, err = b.lib.Trait(ref.id)
		case "rule":
			_, err = b.lib.Rule(ref.id)
		case "stat":
			if !slices.Contains(stats, ref.id) {
				err = fmt.Errorf("%w: stat %q is declared for neither entities nor relationships%s",
					social.ErrNotFound, ref.id, suggest.Hint(ref.id, stats))
			}
		}
		if err != nil {
			b.fail("%s: %w", ref.where, err)
		}
	}
}

// checkEventRefs rejects effect targets (the first argument of every
// built-in effect) that name a variable the pattern never binds. Events have
// no subject, so "self" is rejected too.
func checkEventRefs(invocation string, vars []string) error {
	fields := strings.Fields(invocation)
	if len(fields) < 2 {
		return nil
	}
	target := fields[1]
	names := []string{target}
	if a, c, ok := social.SplitRelationshipRef(target); ok {
		names = []string{a, c}
	}
	for _, n := range names {
		if !slices.Contains(vars, n) {
			return fmt.Errorf("target %q: pattern binds no variable %q", target, n)
		}
	}
	return nil
}
