// Package ports defines the interfaces (contracts) that adapters must implement.
// These are the boundaries of the hexagonal architecture. Domain logic depends
// only on these interfaces, never on concrete implementations.
package ports

import "time"

// DictionaryStore persists dictionary sources and per-label hit counters.
// It stores the dictionary text a user imported, never a built automaton:
// automata are rebuilt from source on every start or reload.
// Concurrent reads are safe; writes are serialized by the adapter.
type DictionaryStore interface {
	// SaveDictionary stores d under d.Name, overwriting any prior version.
	SaveDictionary(d *Dictionary) error

	// LoadDictionary retrieves a dictionary by name.
	// Returns nil, nil if no dictionary by that name exists.
	LoadDictionary(name string) (*Dictionary, error)

	// ListDictionaries returns every stored dictionary, sorted by name.
	ListDictionaries() ([]*Dictionary, error)

	// DeleteDictionary removes a dictionary.
	// Idempotent: deleting a nonexistent dictionary is not an error.
	DeleteDictionary(name string) error

	// AddHits adds deltas to the lifetime per-label match counters.
	AddHits(deltas map[string]uint64) error

	// Hits returns the lifetime per-label match counters.
	Hits() (map[string]uint64, error)

	// Close releases the underlying database.
	Close() error
}

// Dictionary is a stored dictionary source.
type Dictionary struct {
	Name            string    `json:"name"`
	Format          string    `json:"format"` // "text" or "yaml"
	Source          []byte    `json:"source"`
	CaseInsensitive bool      `json:"case_insensitive"`
	UpdatedAt       time.Time `json:"updated_at"`
}
