// Package bbolt implements the ports.DictionaryStore interface using bbolt
// (embedded B+ tree). Dictionary sources live in the "dicts" bucket as JSON,
// keyed by name; lifetime per-label hit counters live in the "hits" bucket.
// Writes are transactional: a crash mid-write cannot corrupt previously
// committed data.
package bbolt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/corey/kwtag/internal/ports"
)

// Bucket keys
var (
	bucketDicts = []byte("dicts")
	bucketHits  = []byte("hits")
)

// ErrNoName is returned when saving a dictionary without a name.
var ErrNoName = errors.New("bbolt: dictionary name is required")

// Store implements ports.DictionaryStore backed by bbolt.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

var _ ports.DictionaryStore = (*Store)(nil)

// NewStore opens (or creates) a bbolt database at the given path.
func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDicts, bucketHits} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bbolt init: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDictionary stores d under its name. UpdatedAt is stamped when unset.
func (s *Store) SaveDictionary(d *ports.Dictionary) error {
	if d == nil {
		return fmt.Errorf("nil dictionary")
	}
	if d.Name == "" {
		return ErrNoName
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = s.now().UTC()
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dictionary: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDicts).Put([]byte(d.Name), data)
	})
}

// LoadDictionary retrieves a dictionary by name.
// Returns nil, nil if no dictionary by that name exists.
func (s *Store) LoadDictionary(name string) (*ports.Dictionary, error) {
	var data []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		// Copy bytes out of the transaction (bbolt slices are only valid within tx)
		if v := tx.Bucket(bucketDicts).Get([]byte(name)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var d ports.Dictionary
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal dictionary %q: %w", name, err)
	}
	return &d, nil
}

// ListDictionaries returns every stored dictionary, sorted by name (bbolt
// keeps keys in byte order).
func (s *Store) ListDictionaries() ([]*ports.Dictionary, error) {
	var out []*ports.Dictionary

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDicts).ForEach(func(k, v []byte) error {
			var d ports.Dictionary
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("unmarshal dictionary %q: %w", k, err)
			}
			out = append(out, &d)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDictionary removes a dictionary.
// Idempotent: deleting a nonexistent dictionary is not an error.
func (s *Store) DeleteDictionary(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDicts).Delete([]byte(name))
	})
}

// AddHits adds deltas to the stored per-label counters in one transaction.
func (s *Store) AddHits(deltas map[string]uint64) error {
	if len(deltas) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHits)
		for label, n := range deltas {
			key := []byte(label)
			cur, err := decodeCounter(b.Get(key))
			if err != nil {
				return fmt.Errorf("hits %q: %w", label, err)
			}
			if err := b.Put(key, encodeCounter(cur+n)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Hits returns the stored per-label counters.
func (s *Store) Hits() (map[string]uint64, error) {
	out := make(map[string]uint64)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHits).ForEach(func(k, v []byte) error {
			n, err := decodeCounter(v)
			if err != nil {
				return fmt.Errorf("hits %q: %w", k, err)
			}
			out[string(k)] = n
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResetHits clears every counter.
func (s *Store) ResetHits() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketHits); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketHits)
		return err
	})
}
