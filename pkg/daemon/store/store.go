// Package store persists dropguard's state record in Badger.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/dropguard/pkg/dropguard/state"
)

// Key prefixes
const (
	prefixState = "s:" // State records
	prefixMeta  = "m:" // Metadata (schema, etc.)
)

const stateKey = prefixState + "current"

var (
	// ErrNotFound means no state has been saved yet.
	ErrNotFound = errors.New("no persisted state")
	// ErrCorrupt means the saved state could not be decoded.
	ErrCorrupt = errors.New("persisted state is corrupt")
)

// Store is a Badger-backed state.Persister. Every Save is a synchronous,
// fsynced write.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(nil)
	return open(opts)
}

// OpenInMemory opens a store with no backing files, for tests.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes rec as the current state.
func (s *Store) Save(rec state.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	return s.put(stateKey, data)
}

// Load reads the current state. When nothing is stored, or the stored value
// cannot be decoded, it returns the default record along with ErrNotFound or
// ErrCorrupt so the caller can decide how loudly to complain.
func (s *Store) Load() (state.Record, error) {
	data, err := s.get(stateKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return state.DefaultRecord(), ErrNotFound
	}
	if err != nil {
		return state.DefaultRecord(), err
	}

	rec := state.DefaultRecord()
	if err := json.Unmarshal(data, &rec); err != nil {
		return state.DefaultRecord(), fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return rec, nil
}

func (s *Store) put(key string, val []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
}

func (s *Store) get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

func (s *Store) has(key string) bool {
	_, err := s.get(key)
	return err == nil
}
