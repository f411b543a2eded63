package social

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrNotFound is returned when an entity, relationship, trait, rule or social
// event does not exist where lookup without creation was requested.
var ErrNotFound = errors.New("not found")

// ErrInvalidID is returned by the host surface for malformed identifiers.
// Invalid identifiers never reach the graph store.
var ErrInvalidID = errors.New("invalid identifier")

// ErrCascadeLimit is returned when effects triggered by a trait or rule change
// nest deeper than the engine's cascade limit. It usually means two
// definitions keep undoing each other.
var ErrCascadeLimit = errors.New("cascade limit exceeded")

// ErrUnbound is returned by [Context.Resolve] for a reference that names no
// bound variable.
var ErrUnbound = errors.New("unbound reference")

// edgeSep separates owner and target in a relationship identifier.
const edgeSep = "->"

// ValidateID reports whether id may be used as an entity identifier.
//
// Rules:
//   - id must not be empty.
//   - id must not contain whitespace.
//   - id must not contain "->", which is reserved for relationship references.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidID, id)
	}
	if strings.Contains(id, edgeSep) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidID, id, edgeSep)
	}
	return nil
}

// RelationshipID returns the identifier of the directed edge owner→target.
func RelationshipID(owner, target string) string {
	return owner + edgeSep + target
}

// SplitRelationshipRef splits a reference of the form "a->b". ok is false if
// ref does not contain exactly one separator with non-empty sides.
func SplitRelationshipRef(ref string) (owner, target string, ok bool) {
	owner, target, found := strings.Cut(ref, edgeSep)
	if !found || owner == "" || target == "" || strings.Contains(target, edgeSep) {
		return "", "", false
	}
	return owner, target, true
}
