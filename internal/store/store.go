// Package store persists the history log. Every backend stores one ordered
// collection of history entries and exposes it through whole-collection
// read and read-modify-write transactions.
package store

import (
	"fmt"
	"slices"

	"github.com/storeops/bulkops/internal/models"
)

// Backend names accepted by Open.
const (
	BackendBolt   = "bbolt"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Backend is the persistence contract used by the history log. Entries are
// passed most-recent-first. Entries are immutable once written; an Update
// may only add new entries or drop existing ones.
type Backend interface {
	// View calls fn with the current collection.
	View(fn func(entries []*models.HistoryEntry) error) error
	// Update calls fn with the current collection and persists the
	// collection it returns. If fn returns an error nothing is written.
	Update(fn func(entries []*models.HistoryEntry) ([]*models.HistoryEntry, error)) error
	// Close releases resources.
	Close() error
}

// Open opens and initializes the named backend at path.
func Open(kind, path string) (Backend, error) {
	switch kind {
	case "", BackendBolt:
		st, err := NewBolt(path)
		if err != nil {
			return nil, err
		}
		if err := st.Initialize(); err != nil {
			st.Close()
			return nil, err
		}
		if err := checkFormat(st); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case BackendSQLite:
		st, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		if err := st.Initialize(); err != nil {
			st.Close()
			return nil, err
		}
		if err := st.RunMigrations(); err != nil {
			st.Close()
			return nil, err
		}
		if err := checkFormat(st); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case BackendMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown history backend %q", kind)
}

// FormatVersion is the entry encoding written by this build. It is stored
// under the format_version key of a backend's key-value table.
const FormatVersion = "1"

const formatKey = "format_version"

type kvStore interface {
	GetValue(key string) (string, error)
	SetValue(key, value string) error
}

// checkFormat stamps a new database with FormatVersion and rejects one
// written with a different entry encoding.
func checkFormat(kv kvStore) error {
	v, err := kv.GetValue(formatKey)
	if err != nil {
		return fmt.Errorf("read format version: %w", err)
	}
	switch v {
	case FormatVersion:
		return nil
	case "":
		return kv.SetValue(formatKey, FormatVersion)
	}
	return fmt.Errorf("history database has format version %s, this build reads %s", v, FormatVersion)
}

// diff compares the persisted collection with the next one. added holds
// entries to insert oldest-first and removed the persisted IDs to drop.
// When next is not simply current with entries added at the head and
// others dropped, the whole collection is replaced: every persisted ID is
// removed and every entry of next is re-added.
func diff(current, next []*models.HistoryEntry) (added []*models.HistoryEntry, removed []string) {
	existing := make(map[string]int, len(current))
	for i, e := range current {
		existing[e.ID] = i
	}

	var ordered []*models.HistoryEntry
	keep := make(map[string]bool, len(next))
	rewrite := false
	last := -1
	for _, e := range next {
		if keep[e.ID] {
			continue
		}
		keep[e.ID] = true
		ordered = append(ordered, e)

		pos, ok := existing[e.ID]
		if !ok {
			if last >= 0 {
				rewrite = true
			}
			added = append(added, e)
			continue
		}
		if pos < last {
			rewrite = true
		}
		last = pos
	}

	if rewrite {
		added = ordered
		removed = removed[:0]
		for _, e := range current {
			removed = append(removed, e.ID)
		}
	} else {
		for _, e := range current {
			if !keep[e.ID] {
				removed = append(removed, e.ID)
			}
		}
	}
	slices.Reverse(added)
	return added, removed
}
