package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/storeops/bulkops/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the bbolt backend.
var (
	bucketEntries = []byte("history_entries")
	bucketKV      = []byte("kv")
)

// BoltStore is the default bbolt-backed history backend. Entries are keyed
// by the bucket's monotonic sequence so cursor order is insertion order.
type BoltStore struct {
	db *bolt.DB
}

// NewBolt opens or creates a bbolt database at the given path.
func NewBolt(dbPath string) (*BoltStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Initialize creates all required buckets.
func (s *BoltStore) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketKV} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// View implements Backend.
func (s *BoltStore) View(fn func(entries []*models.HistoryEntry) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		entries, _, err := readEntries(tx.Bucket(bucketEntries))
		if err != nil {
			return err
		}
		return fn(entries)
	})
}

// Update implements Backend.
func (s *BoltStore) Update(fn func(entries []*models.HistoryEntry) ([]*models.HistoryEntry, error)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		entries, keys, err := readEntries(b)
		if err != nil {
			return err
		}

		next, err := fn(entries)
		if err != nil {
			return err
		}

		added, removed := diff(entries, next)

		for _, id := range removed {
			if err := b.Delete(keys[id]); err != nil {
				return err
			}
		}
		for _, e := range added {
			seq, err := b.NextSequence()
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal entry %s: %w", e.ID, err)
			}
			if err := b.Put(seqKey(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetValue gets a value from the key-value bucket.
func (s *BoltStore) GetValue(key string) (string, error) {
	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			val = string(v)
		}
		return nil
	})
	return val, err
}

// SetValue sets a value in the key-value bucket.
func (s *BoltStore) SetValue(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return fmt.Errorf("kv bucket not found")
		}
		return b.Put([]byte(key), []byte(value))
	})
}

// readEntries returns the bucket's entries newest-first along with a copy
// of each entry's key.
func readEntries(b *bolt.Bucket) ([]*models.HistoryEntry, map[string][]byte, error) {
	var entries []*models.HistoryEntry
	keys := make(map[string][]byte)

	c := b.Cursor()
	for k, v := c.Last(); k != nil; k, v = c.Prev() {
		var e models.HistoryEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return nil, nil, fmt.Errorf("unmarshal entry: %w", err)
		}
		keyCopy := make([]byte, len(k))
		copy(keyCopy, k)
		keys[e.ID] = keyCopy
		entries = append(entries, &e)
	}
	return entries, keys, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
