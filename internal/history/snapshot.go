package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/storeops/bulkops/internal/models"
)

// snapshotVersion is bumped when the export layout changes incompatibly.
const snapshotVersion = 1

// Snapshot is the serialized form produced by Export.
type Snapshot struct {
	Version    int                    `json:"version"`
	ExportedAt time.Time              `json:"exported_at"`
	Entries    []*models.HistoryEntry `json:"entries"`
}

// Export serializes the whole log as indented JSON.
func (s *Store) Export() ([]byte, error) {
	snap := Snapshot{Version: snapshotVersion, ExportedAt: s.now().UTC()}
	err := s.view(func(entries []*models.HistoryEntry) error {
		snap.Entries = entries
		return nil
	})
	if err != nil {
		return nil, err
	}
	if snap.Entries == nil {
		snap.Entries = []*models.HistoryEntry{}
	}
	return json.MarshalIndent(snap, "", "  ")
}

// Import merges a snapshot (or a bare JSON array of entries) into the log.
// Entries whose ID already exists are skipped; the merged log is re-sorted
// most recent first and trimmed. It returns the number of entries added.
func (s *Store) Import(data []byte) (int, error) {
	entries, err := decodeSnapshot(data)
	if err != nil {
		return 0, err
	}

	var added []*models.HistoryEntry
	err = s.backend.Update(func(current []*models.HistoryEntry) ([]*models.HistoryEntry, error) {
		known := make(map[string]bool, len(current))
		for _, e := range current {
			known[e.ID] = true
		}
		merged := append([]*models.HistoryEntry{}, current...)
		for _, e := range entries {
			if known[e.ID] {
				continue
			}
			known[e.ID] = true
			merged = append(merged, e)
			added = append(added, e)
		}
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Timestamp.After(merged[j].Timestamp)
		})
		return trim(merged, s.maxEntries, nil), nil
	})
	if err != nil {
		return 0, &StorageError{Op: "import", Err: err}
	}

	s.logger.Info("history imported", "entries", len(added), "skipped", len(entries)-len(added))
	if len(added) > 0 {
		s.notify(added)
	}
	return len(added), nil
}

func decodeSnapshot(data []byte) ([]*models.HistoryEntry, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidSnapshot)
	}

	var entries []*models.HistoryEntry
	if data[0] == '[' {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
	} else {
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		if snap.Version > snapshotVersion {
			return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, snap.Version)
		}
		entries = snap.Entries
	}

	for i, e := range entries {
		if e == nil || e.ID == "" {
			return nil, fmt.Errorf("%w: entry %d has no id", ErrInvalidSnapshot, i)
		}
	}
	return entries, nil
}
