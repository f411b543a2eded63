package stat_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/rapport/pkg/stat"
)

type change struct {
	name  string
	value float64
}

func newTable(t *testing.T, defs ...stat.Definition) (*stat.Table, *[]change) {
	t.Helper()
	var got []change
	tbl := stat.NewTable(defs, func(name string, value float64) {
		got = append(got, change{name, value})
	})
	return tbl, &got
}

func mustValue(t *testing.T, tbl *stat.Table, name string) float64 {
	t.Helper()
	v, err := tbl.Value(name)
	if err != nil {
		t.Fatalf("Value(%q): unexpected error: %v", name, err)
	}
	return v
}

func TestModifierDecay(t *testing.T) {
	t.Parallel()

	tbl, _ := newTable(t, stat.Definition{Name: "affection", Base: 2, Min: -100, Max: 100})
	if err := tbl.AddModifier(stat.Modifier{Stat: "affection", Magnitude: 5, Duration: 3}); err != nil {
		t.Fatalf("AddModifier: %v", err)
	}
	if got := mustValue(t, tbl, "affection"); got != 7 {
		t.Fatalf("after add: expected 7, got %v", got)
	}
	for i := 1; i <= 2; i++ {
		tbl.Tick()
		if got := mustValue(t, tbl, "affection"); got != 7 {
			t.Fatalf("after tick %d: expected 7, got %v", i, got)
		}
	}
	if n := tbl.Tick(); n != 1 {
		t.Fatalf("third tick: expected 1 expiry, got %d", n)
	}
	if got := mustValue(t, tbl, "affection"); got != 2 {
		t.Fatalf("after third tick: expected base 2, got %v", got)
	}
}

func TestPermanentModifierNeverExpires(t *testing.T) {
	t.Parallel()

	tbl, _ := newTable(t, stat.Definition{Name: "trust", Min: 0, Max: 100})
	if err := tbl.AddModifier(stat.Modifier{Stat: "trust", Magnitude: 4, Duration: stat.Permanent}); err != nil {
		t.Fatalf("AddModifier: %v", err)
	}
	for range 50 {
		if n := tbl.Tick(); n != 0 {
			t.Fatalf("Tick: expected no expiries, got %d", n)
		}
	}
	s, _ := tbl.Get("trust")
	mods := s.Modifiers()
	if len(mods) != 1 || mods[0].Duration != stat.Permanent {
		t.Fatalf("expected one permanent modifier, got %+v", mods)
	}
	if got := s.Value(); got != 4 {
		t.Fatalf("expected 4, got %v", got)
	}
}

func TestClamping(t *testing.T) {
	t.Parallel()

	tbl, _ := newTable(t, stat.Definition{Name: "mood", Base: 8, Min: 0, Max: 10})
	if err := tbl.AddModifier(stat.Modifier{Stat: "mood", Magnitude: 5}); err != nil {
		t.Fatalf("AddModifier: %v", err)
	}
	if got := mustValue(t, tbl, "mood"); got != 10 {
		t.Fatalf("expected clamp to 10, got %v", got)
	}
}

func TestOrderingAndDiscretisation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		def      stat.Definition
		mods     []stat.Modifier
		expected float64
	}{
		{
			name: "flat before multiplicative regardless of insertion order",
			def:  stat.Definition{Name: "s", Base: 10, Min: -1000, Max: 1000},
			mods: []stat.Modifier{
				{Stat: "s", Kind: stat.Multiplicative, Magnitude: 2},
				{Stat: "s", Kind: stat.Flat, Magnitude: 5},
			},
			expected: 30,
		},
		{
			name: "multiplicative stack in order",
			def:  stat.Definition{Name: "s", Base: 4, Min: -1000, Max: 1000},
			mods: []stat.Modifier{
				{Stat: "s", Kind: stat.Multiplicative, Magnitude: 1.5},
				{Stat: "s", Kind: stat.Multiplicative, Magnitude: 0.5},
			},
			expected: 3,
		},
		{
			name: "discrete rounds after clamping",
			def:  stat.Definition{Name: "s", Base: 1, Min: 0, Max: 9.6, Discrete: true},
			mods: []stat.Modifier{
				{Stat: "s", Magnitude: 20},
			},
			expected: 10,
		},
		{
			name: "discrete rounds fractional value",
			def:  stat.Definition{Name: "s", Base: 1, Min: 0, Max: 10, Discrete: true},
			mods: []stat.Modifier{
				{Stat: "s", Magnitude: 0.4},
			},
			expected: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tbl, _ := newTable(t, tc.def)
			for _, m := range tc.mods {
				if err := tbl.AddModifier(m); err != nil {
					t.Fatalf("AddModifier: %v", err)
				}
			}
			if got := mustValue(t, tbl, "s"); got != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestChangeNotifications(t *testing.T) {
	t.Parallel()

	tbl, got := newTable(t, stat.Definition{Name: "mood", Base: 9, Min: 0, Max: 10})

	_ = tbl.AddModifier(stat.Modifier{Stat: "mood", Magnitude: 5, Duration: 1})
	// Already clamped at 10: no change, no notification.
	_ = tbl.AddModifier(stat.Modifier{Stat: "mood", Magnitude: 1, Duration: 2})
	tbl.Tick() // first expires, 9+1 = 10 still: no notification
	tbl.Tick() // second expires: back to 9

	want := []change{{"mood", 10}, {"mood", 9}}
	if len(*got) != len(want) {
		t.Fatalf("expected %d notifications, got %v", len(want), *got)
	}
	for i := range want {
		if (*got)[i] != want[i] {
			t.Fatalf("notification %d: expected %+v, got %+v", i, want[i], (*got)[i])
		}
	}
}

func TestRemoveSource(t *testing.T) {
	t.Parallel()

	tbl, _ := newTable(t, stat.Definition{Name: "trust", Min: -100, Max: 100})
	_ = tbl.AddModifier(stat.Modifier{Stat: "trust", Magnitude: 3, Source: "rule:a"})
	_ = tbl.AddModifier(stat.Modifier{Stat: "trust", Magnitude: 4, Source: "rule:b"})
	_ = tbl.AddModifier(stat.Modifier{Stat: "trust", Magnitude: 5, Source: "rule:a"})

	n, err := tbl.RemoveSource("trust", "rule:a")
	if err != nil {
		t.Fatalf("RemoveSource: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if got := mustValue(t, tbl, "trust"); got != 4 {
		t.Fatalf("expected 4, got %v", got)
	}
}

func TestUnknownStat(t *testing.T) {
	t.Parallel()

	tbl, _ := newTable(t, stat.Definition{Name: "mood", Max: 10})
	if _, err := tbl.Value("charisma"); !errors.Is(err, stat.ErrNotFound) {
		t.Fatalf("Value: expected ErrNotFound, got %v", err)
	}
	if err := tbl.AddModifier(stat.Modifier{Stat: "charisma", Magnitude: 1}); !errors.Is(err, stat.ErrNotFound) {
		t.Fatalf("AddModifier: expected ErrNotFound, got %v", err)
	}
}

func TestDefinitionValidate(t *testing.T) {
	t.Parallel()

	if err := (stat.Definition{Name: "x", Min: 5, Max: 1}).Validate(); err == nil {
		t.Fatal("expected error for min > max")
	}
	if err := (stat.Definition{Min: 0, Max: 1}).Validate(); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := (stat.Definition{Name: "x", Max: 1}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
