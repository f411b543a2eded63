package suggest_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/rapport/internal/suggest"
)

func TestClosest(t *testing.T) {
	t.Parallel()

	known := []string{"Friendly", "Hostile", "Kind", "kind_affection"}

	tests := []struct {
		name    string
		input   string
		want    string
		matched bool
	}{
		{"transposed letters", "Freindly", "Friendly", true},
		{"case and separator differences", "KindAffection", "kind_affection", true},
		{"unrelated input", "zzzz", "", false},
		{"exact match needs no suggestion", "Hostile", "", false},
		{"empty input", "", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, _, ok := suggest.Closest(tc.input, known)
			if ok != tc.matched {
				t.Fatalf("Closest(%q): matched=%v, want %v (got %q)", tc.input, ok, tc.matched, got)
			}
			if got != tc.want {
				t.Fatalf("Closest(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestHint(t *testing.T) {
	t.Parallel()

	if h := suggest.Hint("Freindly", []string{"Friendly"}); !strings.Contains(h, `"Friendly"`) {
		t.Fatalf("Hint: expected suggestion for Friendly, got %q", h)
	}
	if h := suggest.Hint("zzzz", []string{"Friendly"}); h != "" {
		t.Fatalf("Hint: expected empty hint, got %q", h)
	}
}
