package stat

import "fmt"

// ChangeFunc is called with the stat name and its new effective value every
// time a stat's cached value actually changes.
type ChangeFunc func(name string, value float64)

// Table holds the stats of a single holder keyed by name. Stats keep the
// order of the definitions they were created from.
type Table struct {
	stats    map[string]*Stat
	order    []string
	onChange ChangeFunc
}

// NewTable creates a Table with one [Stat] per definition. Later definitions
// with a duplicate name replace earlier ones but keep the original position.
// onChange may be nil.
func NewTable(defs []Definition, onChange ChangeFunc) *Table {
	t := &Table{
		stats:    make(map[string]*Stat, len(defs)),
		order:    make([]string, 0, len(defs)),
		onChange: onChange,
	}
	for _, d := range defs {
		if _, dup := t.stats[d.Name]; !dup {
			t.order = append(t.order, d.Name)
		}
		t.stats[d.Name] = New(d)
	}
	return t
}

// Names returns the registered stat names in definition order.
func (t *Table) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Get returns the named stat.
// Returns [ErrNotFound] if no stat with that name was registered.
func (t *Table) Get(name string) (*Stat, error) {
	s, ok := t.stats[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return s, nil
}

// Value returns the effective value of the named stat.
// Returns [ErrNotFound] if no stat with that name was registered.
func (t *Table) Value(name string) (float64, error) {
	s, err := t.Get(name)
	if err != nil {
		return 0, err
	}
	return s.Value(), nil
}

// AddModifier appends m to the stat named m.Stat and recomputes its value.
// A zero Duration is treated as [Permanent].
func (t *Table) AddModifier(m Modifier) error {
	s, err := t.Get(m.Stat)
	if err != nil {
		return err
	}
	if m.Duration == 0 {
		m.Duration = Permanent
	}
	if s.add(m) {
		t.notify(s)
	}
	return nil
}

// RemoveSource removes every modifier contributed by source from the named
// stat and returns how many were removed.
func (t *Table) RemoveSource(name, source string) (int, error) {
	s, err := t.Get(name)
	if err != nil {
		return 0, err
	}
	n, changed := s.removeSource(source)
	if changed {
		t.notify(s)
	}
	return n, nil
}

// Tick advances every stat by one time step and returns the number of
// modifiers that expired. Change notifications are delivered before Tick
// returns, in definition order.
func (t *Table) Tick() int {
	total := 0
	for _, name := range t.order {
		s := t.stats[name]
		n, changed := s.tick()
		total += n
		if changed {
			t.notify(s)
		}
	}
	return total
}

// Snapshot returns the current effective values keyed by stat name.
func (t *Table) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(t.stats))
	for name, s := range t.stats {
		out[name] = s.Value()
	}
	return out
}

func (t *Table) notify(s *Stat) {
	if t.onChange != nil {
		t.onChange(s.Name(), s.Value())
	}
}
