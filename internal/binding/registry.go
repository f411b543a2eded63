// Package binding maps declarative names to constructors for preconditions
// and effects.
//
// Precondition nodes arrive as YAML mapping nodes of the form
//
//	{type: has_trait, subject: owner, trait: Kind}
//
// and effect invocations as whitespace-separated strings of the form
//
//	raise_stat self affection 10 [duration]
//
// Every argument is validated when the precondition or effect is
// constructed; a constructed value never fails because of its arguments.
package binding

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/rapport/internal/social"
	"github.com/MrWong99/rapport/internal/suggest"
)

// ErrUnknownFactory is returned when a node or invocation names a factory
// that has not been registered.
var ErrUnknownFactory = errors.New("binding: factory not registered")

// ErrDuplicateFactory is returned when a factory name is registered twice.
var ErrDuplicateFactory = errors.New("binding: factory already registered")

// ErrInvalidArgument is returned for wrong argument counts, unparsable
// numbers and malformed nodes.
var ErrInvalidArgument = errors.New("binding: invalid argument")

// PreconditionFactory builds a precondition from its mapping node.
type PreconditionFactory func(node *yaml.Node) (social.Precondition, error)

// EffectFactory builds an effect from its positional arguments (the
// invocation without the factory name).
type EffectFactory func(args []string) (social.Effect, error)

// Registry maps factory names to constructors. It is safe for concurrent
// use. Factories must be registered before any definition referencing them
// is loaded.
type Registry struct {
	mu            sync.RWMutex
	preconditions map[string]PreconditionFactory
	effects       map[string]EffectFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		preconditions: make(map[string]PreconditionFactory),
		effects:       make(map[string]EffectFactory),
	}
}

// NewDefaultRegistry returns a [Registry] holding every built-in
// precondition and effect.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		panic("binding: register builtins: " + err.Error())
	}
	return r
}

// RegisterPrecondition registers a precondition factory under name.
// Returns [ErrDuplicateFactory] if the name is taken.
func (r *Registry) RegisterPrecondition(name string, f PreconditionFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.preconditions[name]; ok {
		return fmt.Errorf("%w: precondition %q", ErrDuplicateFactory, name)
	}
	r.preconditions[name] = f
	return nil
}

// RegisterEffect registers an effect factory under name.
// Returns [ErrDuplicateFactory] if the name is taken.
func (r *Registry) RegisterEffect(name string, f EffectFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.effects[name]; ok {
		return fmt.Errorf("%w: effect %q", ErrDuplicateFactory, name)
	}
	r.effects[name] = f
	return nil
}

// PreconditionNames returns the registered precondition names, sorted.
func (r *Registry) PreconditionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.preconditions)
}

// EffectNames returns the registered effect names, sorted.
func (r *Registry) EffectNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.effects)
}

// NewPrecondition builds a precondition from a mapping node whose "type"
// field names the factory.
func (r *Registry) NewPrecondition(node *yaml.Node) (social.Precondition, error) {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: precondition must be a mapping%s", ErrInvalidArgument, position(node))
	}
	var head struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return nil, fmt.Errorf("%w: precondition%s: %v", ErrInvalidArgument, position(node), err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("%w: precondition%s has no type", ErrInvalidArgument, position(node))
	}

	r.mu.RLock()
	f, ok := r.preconditions[head.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: precondition %q%s%s", ErrUnknownFactory, head.Type, position(node),
			suggest.Hint(head.Type, r.PreconditionNames()))
	}
	p, err := f(node)
	if err != nil {
		return nil, fmt.Errorf("precondition %q%s: %w", head.Type, position(node), err)
	}
	return p, nil
}

// NewEffect builds an effect from an invocation such as
// "raise_stat self affection 10".
func (r *Registry) NewEffect(invocation string) (social.Effect, error) {
	fields := strings.Fields(invocation)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty effect invocation", ErrInvalidArgument)
	}
	name := fields[0]

	r.mu.RLock()
	f, ok := r.effects[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: effect %q%s", ErrUnknownFactory, name, suggest.Hint(name, r.EffectNames()))
	}
	eff, err := f(fields[1:])
	if err != nil {
		return nil, fmt.Errorf("effect %q: %w", invocation, err)
	}
	return eff, nil
}

// CheckFields returns [ErrInvalidArgument] if the mapping node has a key not
// listed in allowed. "type" is always allowed.
func CheckFields(node *yaml.Node, allowed ...string) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if key == "type" || slices.Contains(allowed, key) {
			continue
		}
		return fmt.Errorf("%w: unknown field %q (line %d)", ErrInvalidArgument, key, node.Content[i].Line)
	}
	return nil
}

func position(node *yaml.Node) string {
	if node == nil || node.Line == 0 {
		return ""
	}
	return fmt.Sprintf(" (line %d)", node.Line)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
