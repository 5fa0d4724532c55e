package location

// Table holds one Entry per configured location in configuration order.
// Entries are created once and never removed, so Table needs no lock.
type Table struct {
	order   []*Entry
	entries map[string]*Entry
}

// NewTable creates an unresolved entry for every name. Duplicate names share one entry.
func NewTable(names []string) *Table {
	t := &Table{entries: make(map[string]*Entry, len(names))}
	for _, name := range names {
		if _, ok := t.entries[name]; ok {
			continue
		}
		e := NewEntry(name)
		t.entries[name] = e
		t.order = append(t.order, e)
	}
	return t
}

// Get returns the entry for name.
func (t *Table) Get(name string) (*Entry, bool) {
	e, ok := t.entries[name]
	return e, ok
}

// Entries returns all entries in configuration order.
func (t *Table) Entries() []*Entry {
	return append([]*Entry(nil), t.order...)
}

// Len returns the number of locations.
func (t *Table) Len() int { return len(t.order) }

// Snapshots copies every entry in configuration order.
func (t *Table) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(t.order))
	for _, e := range t.order {
		out = append(out, e.Snapshot())
	}
	return out
}
