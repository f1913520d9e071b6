package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/storeops/bulkops/internal/models"
)

// MemoryStore keeps the collection as one serialized JSON document, so
// callers never share entry pointers with the store. Used for tests and
// dry runs.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

// View implements Backend.
func (m *MemoryStore) View(fn func(entries []*models.HistoryEntry) error) error {
	m.mu.Lock()
	entries, err := m.decode()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(entries)
}

// Update implements Backend.
func (m *MemoryStore) Update(fn func(entries []*models.HistoryEntry) ([]*models.HistoryEntry, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.decode()
	if err != nil {
		return err
	}
	next, err := fn(entries)
	if err != nil {
		return err
	}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	m.data = data
	return nil
}

// Close implements Backend.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) decode() ([]*models.HistoryEntry, error) {
	if len(m.data) == 0 {
		return nil, nil
	}
	var entries []*models.HistoryEntry
	if err := json.Unmarshal(m.data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal entries: %w", err)
	}
	return entries, nil
}
