package social

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// varPrefix marks a variable token in a social event pattern.
const varPrefix = "?"

// SocialEvent is a library-defined reaction to something that happened
// between entities, e.g. "?actor insults ?victim". Dispatching text that
// matches the pattern binds each variable to an entity ID and applies the
// effects in that binding context.
type SocialEvent struct {
	// ID identifies the event within the library.
	ID string

	// Pattern is the tokenised pattern. Tokens starting with "?" are
	// variables; all others must match literally (case-insensitive).
	Pattern []string

	// Effects are applied in order on every matching dispatch. They are
	// never reverted.
	Effects []Effect
}

// ParsePattern tokenises a pattern such as "?actor insults ?victim" and
// returns the variable names in order of first appearance.
func ParsePattern(pattern string) (tokens, vars []string, err error) {
	tokens = strings.Fields(pattern)
	if len(tokens) == 0 {
		return nil, nil, errors.New("social: event pattern must not be empty")
	}
	seen := make(map[string]bool)
	for _, tok := range tokens {
		name, ok := strings.CutPrefix(tok, varPrefix)
		if !ok {
			continue
		}
		if name == "" || name == Self || strings.Contains(name, edgeSep) {
			return nil, nil, fmt.Errorf("social: event pattern %q: invalid variable %q", pattern, tok)
		}
		if !seen[name] {
			seen[name] = true
			vars = append(vars, name)
		}
	}
	return tokens, vars, nil
}

// Match binds the pattern's variables against text. A variable that occurs
// twice must bind the same token both times.
func (ev *SocialEvent) Match(text string) (map[string]string, bool) {
	fields := strings.Fields(text)
	if len(fields) != len(ev.Pattern) {
		return nil, false
	}
	bindings := make(map[string]string)
	for i, tok := range ev.Pattern {
		name, isVar := strings.CutPrefix(tok, varPrefix)
		if !isVar {
			if !strings.EqualFold(tok, fields[i]) {
				return nil, false
			}
			continue
		}
		if prev, ok := bindings[name]; ok && prev != fields[i] {
			return nil, false
		}
		bindings[name] = fields[i]
	}
	return bindings, true
}

// Dispatch matches text against the library's social events in order and
// applies the effects of the first match. Bound entities are created on
// demand. Returns [ErrNotFound] if no event matches and [ErrInvalidID] if a
// bound token is not a valid entity identifier. If an effect fails, the
// effects applied before it are reverted.
func (e *Engine) Dispatch(text string) error {
	for _, ev := range e.lib.events {
		bindings, ok := ev.Match(text)
		if !ok {
			continue
		}
		for _, tok := range ev.Pattern {
			name, isVar := strings.CutPrefix(tok, varPrefix)
			if !isVar {
				continue
			}
			id := bindings[name]
			if err := ValidateID(id); err != nil {
				return fmt.Errorf("social: dispatch %q: variable %q: %w", ev.ID, name, err)
			}
			if _, err := e.getOrCreateEntity(id); err != nil {
				return err
			}
		}
		e.dispatches++
		c := &Context{
			engine:   e,
			bindings: bindings,
			source:   "event:" + ev.ID + "#" + strconv.FormatUint(e.dispatches, 10),
		}
		slog.Debug("social: dispatching event", "event", ev.ID, "bindings", bindings)
		if err := c.applyOrUndo(ev.Effects); err != nil {
			return fmt.Errorf("social: dispatch %q: %w", ev.ID, err)
		}
		return nil
	}
	return fmt.Errorf("social: %w: no social event matches %q", ErrNotFound, text)
}
