// Package suggest finds the closest known identifier for a misspelt one so
// that Not-Found errors can say "did you mean ...".
//
// Identifiers are split into words on underscores, hyphens, dots and
// lower→upper case boundaries ("kind_affection", "HighBorn"). Two passes
// rank the candidates:
//
//  1. Phonetic pass: candidates whose Double Metaphone codes share a code
//     with the input are ranked by Jaro-Winkler similarity and accepted
//     above the phonetic threshold.
//  2. Fuzzy pass: when no phonetic candidate qualifies, pure Jaro-Winkler
//     similarity is used with a stricter threshold.
package suggest

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	phoneticThreshold = 0.75
	fuzzyThreshold    = 0.88
)

// Closest returns the candidate most similar to name. ok is false when no
// candidate is similar enough or name is itself a candidate.
func Closest(name string, candidates []string) (best string, score float64, ok bool) {
	if name == "" || len(candidates) == 0 {
		return "", 0, false
	}
	nameWords := words(name)
	nameFull := strings.Join(nameWords, "")
	nameCodes := codes(nameWords)

	phonetic := false
	for _, c := range candidates {
		if c == name {
			return "", 0, false
		}
		cWords := words(c)
		s := matchr.JaroWinkler(nameFull, strings.Join(cWords, ""), false)
		if overlap(nameCodes, codes(cWords)) {
			if s >= phoneticThreshold && (!phonetic || s > score) {
				best, score, phonetic = c, s, true
			}
			continue
		}
		if !phonetic && s >= fuzzyThreshold && s > score {
			best, score = c, s
		}
	}
	return best, score, best != ""
}

// Hint returns ` (did you mean "X"?)` for the closest candidate, or an empty
// string. It is meant to be appended to error messages.
func Hint(name string, candidates []string) string {
	best, _, ok := Closest(name, candidates)
	if !ok {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}

// words splits an identifier into lower-case words.
func words(id string) []string {
	var (
		out  []string
		cur  strings.Builder
		prev rune
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range id {
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
		prev = r
	}
	flush()
	return out
}

// codes returns the union of the Double Metaphone codes of ws.
func codes(ws []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ws)*2)
	for _, w := range ws {
		p, s := matchr.DoubleMetaphone(w)
		if p != "" {
			set[p] = struct{}{}
		}
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
