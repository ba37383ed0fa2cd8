package store

import (
	"errors"
	"fmt"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"
)

// ResumeStore persists clipID -> playback position across restarts. It is
// local to the device and independent of the remote clip store.
type ResumeStore struct {
	db *badger.DB
}

// OpenResumeStore opens (or creates) the badger directory. An empty dir
// opens an in-memory store, used by tests.
func OpenResumeStore(dir string) (*ResumeStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open resume store: %w", err)
	}
	return &ResumeStore{db: db}, nil
}

func (r *ResumeStore) Close() error { return r.db.Close() }

func (r *ResumeStore) Set(clipID string, position float64) error {
	val := strconv.FormatFloat(position, 'f', 3, 64)
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(resumeKey(clipID), []byte(val))
	})
}

// Get returns the stored position and whether one exists.
func (r *ResumeStore) Get(clipID string) (float64, bool, error) {
	var pos float64
	found := false
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(resumeKey(clipID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			p, err := strconv.ParseFloat(string(val), 64)
			if err != nil {
				return err
			}
			pos, found = p, true
			return nil
		})
	})
	if err != nil {
		return 0, false, fmt.Errorf("read resume position: %w", err)
	}
	return pos, found, nil
}

// Clear drops the entry; clearing a missing key is not an error.
func (r *ResumeStore) Clear(clipID string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(resumeKey(clipID))
	})
}

func resumeKey(clipID string) []byte {
	return []byte("resume/" + clipID)
}
