// Package history implements the append-only operation log: entry creation,
// bulk operation recording, filtered queries, statistics, import/export and
// change subscriptions. Persistence is delegated to a store.Backend.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/storeops/bulkops/internal/models"
	"github.com/storeops/bulkops/internal/store"
)

// DefaultMaxEntries is the capacity used when Options.MaxEntries is unset.
const DefaultMaxEntries = 5000

var (
	// ErrNotFound is returned when no entry matches an ID or batch ID.
	ErrNotFound = errors.New("history entry not found")
	// ErrAmbiguousID is returned when a short ID matches more than one entry.
	ErrAmbiguousID = errors.New("ambiguous entry id")
	// ErrInvalidSnapshot is returned by Import for undecodable input.
	ErrInvalidSnapshot = errors.New("invalid history snapshot")
)

// StorageError wraps a failure of the persistence backend.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("history storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Options configures a Store.
type Options struct {
	MaxEntries int
	Logger     *slog.Logger
	// Now overrides the clock used for timestamps and statistics.
	Now func() time.Time
}

// Listener receives the entries written by one append, in store order.
type Listener func(entries []*models.HistoryEntry)

// Store is the history log. It is safe for concurrent use within a single
// process; writers in other processes are not synchronized.
type Store struct {
	backend    store.Backend
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// New creates a Store over the given backend.
func New(backend store.Backend, opts Options) *Store {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		backend:    backend,
		maxEntries: opts.MaxEntries,
		logger:     opts.Logger,
		now:        opts.Now,
		listeners:  make(map[int]Listener),
	}
}

// MaxEntries returns the configured capacity.
func (s *Store) MaxEntries() int {
	return s.maxEntries
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Subscribe registers fn to be called after every successful append.
// The returned function removes the subscription.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(entries []*models.HistoryEntry) {
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(entries)
	}
}

// newEntryID returns a time-ordered unique ID.
func newEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Append assigns an ID and timestamp to e, prepends it to the log and trims
// the log to capacity. It returns the new ID.
func (s *Store) Append(e *models.HistoryEntry) (string, error) {
	e.ID = newEntryID()
	e.Timestamp = s.now().UTC()
	if e.Category == "" {
		e.Category = models.CategoryFor(e.OperationType)
	}
	if e.Status == "" {
		e.Status = models.StatusSuccess
	}

	if err := s.prepend([]*models.HistoryEntry{e}); err != nil {
		return "", err
	}
	return e.ID, nil
}

// prepend writes fresh entries at the head of the log, trims and notifies.
func (s *Store) prepend(fresh []*models.HistoryEntry) error {
	protect := make(map[string]bool, len(fresh))
	for _, e := range fresh {
		protect[e.ID] = true
	}

	var evicted int
	err := s.backend.Update(func(current []*models.HistoryEntry) ([]*models.HistoryEntry, error) {
		next := make([]*models.HistoryEntry, 0, len(fresh)+len(current))
		next = append(next, fresh...)
		next = append(next, current...)
		trimmed := trim(next, s.maxEntries, protect)
		evicted = len(next) - len(trimmed)
		return trimmed, nil
	})
	if err != nil {
		return &StorageError{Op: "append", Err: err}
	}
	if evicted > 0 {
		s.logger.Debug("history trimmed", "evicted", evicted, "max_entries", s.maxEntries)
	}

	s.notify(fresh)
	return nil
}

// trim drops entries beyond max, oldest first. Eviction is batch-atomic:
// when any entry of a batch falls off the end, every entry sharing its batch
// ID goes with it, so the log may end up slightly below max. Batches that
// contain a protected (just written) entry are never evicted, so a single
// batch larger than max is kept whole.
func trim(entries []*models.HistoryEntry, max int, protect map[string]bool) []*models.HistoryEntry {
	if len(entries) <= max {
		return entries
	}

	protectedBatches := make(map[string]bool)
	for _, e := range entries {
		if protect[e.ID] && e.OperationData.BatchID != "" {
			protectedBatches[e.OperationData.BatchID] = true
		}
	}

	evictBatches := make(map[string]bool)
	evictIDs := make(map[string]bool)
	for _, e := range entries[max:] {
		batch := e.OperationData.BatchID
		if protect[e.ID] || protectedBatches[batch] {
			continue
		}
		evictIDs[e.ID] = true
		if batch != "" {
			evictBatches[batch] = true
		}
	}

	out := make([]*models.HistoryEntry, 0, max)
	for _, e := range entries {
		if evictIDs[e.ID] || evictBatches[e.OperationData.BatchID] && e.OperationData.BatchID != "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Get returns the entry with the given ID. A unique ID suffix of at least
// four characters, such as the one printed by ShortID, is also accepted.
func (s *Store) Get(id string) (*models.HistoryEntry, error) {
	var found *models.HistoryEntry
	err := s.view(func(entries []*models.HistoryEntry) error {
		var matches []*models.HistoryEntry
		for _, e := range entries {
			if e.ID == id {
				found = e
				return nil
			}
			if len(id) >= 4 && strings.HasSuffix(e.ID, id) {
				matches = append(matches, e)
			}
		}
		switch len(matches) {
		case 0:
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		case 1:
			found = matches[0]
			return nil
		}
		return fmt.Errorf("%w: %s matches %d entries", ErrAmbiguousID, id, len(matches))
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Query returns the entries matching every set field of f, most recent first.
func (s *Store) Query(f Filter) ([]*models.HistoryEntry, error) {
	var out []*models.HistoryEntry
	err := s.view(func(entries []*models.HistoryEntry) error {
		for _, e := range entries {
			if !f.Match(e) {
				continue
			}
			out = append(out, e)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// GetBatchHistory returns the aggregate entry and all child entries of a batch.
func (s *Store) GetBatchHistory(batchID string) ([]*models.HistoryEntry, error) {
	return s.Query(Filter{BatchID: batchID})
}

// GetBulkOperationItems returns only the child entries of a batch.
func (s *Store) GetBulkOperationItems(batchID string) ([]*models.HistoryEntry, error) {
	entries, err := s.GetBatchHistory(batchID)
	if err != nil {
		return nil, err
	}
	var children []*models.HistoryEntry
	for _, e := range entries {
		if e.IsChild() {
			children = append(children, e)
		}
	}
	return children, nil
}

// Aggregate returns the aggregate entry of a batch. The argument may be the
// batch ID or the aggregate entry's own ID.
func (s *Store) Aggregate(batchID string) (*models.HistoryEntry, error) {
	entries, err := s.GetBatchHistory(batchID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsAggregate() {
			return e, nil
		}
	}
	if e, err := s.Get(batchID); err == nil && e.IsAggregate() {
		return e, nil
	}
	return nil, fmt.Errorf("%w: batch %s", ErrNotFound, batchID)
}

// RolledBack returns the IDs of entries that a successful rollback entry
// has already reversed.
func (s *Store) RolledBack() (map[string]bool, error) {
	done := make(map[string]bool)
	err := s.view(func(entries []*models.HistoryEntry) error {
		for _, e := range entries {
			if e.OperationData.Action == models.ActionRollback &&
				e.OperationData.RollbackOf != "" &&
				e.Status == models.StatusSuccess {
				done[e.OperationData.RollbackOf] = true
			}
		}
		return nil
	})
	return done, err
}

// RollbackAttempts returns the IDs of entries that any rollback entry
// refers to, whatever its status.
func (s *Store) RollbackAttempts() (map[string]bool, error) {
	tried := make(map[string]bool)
	err := s.view(func(entries []*models.HistoryEntry) error {
		for _, e := range entries {
			if e.OperationData.Action == models.ActionRollback && e.OperationData.RollbackOf != "" {
				tried[e.OperationData.RollbackOf] = true
			}
		}
		return nil
	})
	return tried, err
}

// Clear removes every entry.
func (s *Store) Clear() error {
	err := s.backend.Update(func([]*models.HistoryEntry) ([]*models.HistoryEntry, error) {
		return nil, nil
	})
	if err != nil {
		return &StorageError{Op: "clear", Err: err}
	}
	s.logger.Info("history cleared")
	return nil
}

// Count returns the number of stored entries.
func (s *Store) Count() (int, error) {
	var n int
	err := s.view(func(entries []*models.HistoryEntry) error {
		n = len(entries)
		return nil
	})
	return n, err
}

func (s *Store) view(fn func(entries []*models.HistoryEntry) error) error {
	var inner error
	err := s.backend.View(func(entries []*models.HistoryEntry) error {
		inner = fn(entries)
		return nil
	})
	if err != nil {
		return &StorageError{Op: "read", Err: err}
	}
	return inner
}
