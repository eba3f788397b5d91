// Package labels maps label names to the integer keymap values stored in
// matcher keywords, so a match can be turned back into a label without any
// string comparison on the hot path.
package labels

import (
	"errors"
	"sort"
	"sync"
)

// ErrEmptyName is returned when registering a label with no name.
var ErrEmptyName = errors.New("labels: empty label name")

// Table is a shared, append-only label registry. Values start at 1 and never
// change once assigned. Safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	byName map[string]int
	names  []string // names[v-1] is the label for value v
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{byName: make(map[string]int)}
}

// Register returns the value for name, assigning the next one if new.
func (t *Table) Register(name string) (int, error) {
	if name == "" {
		return 0, ErrEmptyName
	}

	t.mu.RLock()
	v, ok := t.byName[name]
	t.mu.RUnlock()
	if ok {
		return v, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.byName[name]; ok {
		return v, nil
	}
	t.names = append(t.names, name)
	v = len(t.names)
	t.byName[name] = v
	return v, nil
}

// Lookup returns the value registered for name.
func (t *Table) Lookup(name string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.byName[name]
	return v, ok
}

// Name returns the label for value, or "" if none is registered.
func (t *Table) Name(value int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if value < 1 || value > len(t.names) {
		return ""
	}
	return t.names[value-1]
}

// Names returns every registered label, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	out := make([]string, len(t.names))
	copy(out, t.names)
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of registered labels.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names)
}
