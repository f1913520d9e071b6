package history

import (
	"time"

	"github.com/storeops/bulkops/internal/models"
)

// Statistics summarizes the log. It is recomputed on every call.
type Statistics struct {
	Total               int                     `json:"total"`
	Today               int                     `json:"today"`
	ThisWeek            int                     `json:"this_week"`
	ByCategory          map[models.Category]int `json:"by_category"`
	ByStatus            map[models.Status]int   `json:"by_status"`
	BulkOperationsCount int                     `json:"bulk_operations_count"`
}

// Statistics counts entries by category and status. Today is the local
// calendar day of the store clock; ThisWeek is the trailing seven days.
func (s *Store) Statistics() (*Statistics, error) {
	now := s.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekAgo := now.Add(-7 * 24 * time.Hour)

	st := &Statistics{
		ByCategory: make(map[models.Category]int),
		ByStatus:   make(map[models.Status]int),
	}
	err := s.view(func(entries []*models.HistoryEntry) error {
		for _, e := range entries {
			st.Total++
			if !e.Timestamp.Before(startOfDay) {
				st.Today++
			}
			if !e.Timestamp.Before(weekAgo) {
				st.ThisWeek++
			}
			st.ByCategory[e.Category]++
			st.ByStatus[e.Status]++
			if e.IsAggregate() {
				st.BulkOperationsCount++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
