package history

import (
	"slices"
	"strings"
	"time"

	"github.com/storeops/bulkops/internal/models"
)

// Filter selects history entries. Zero-valued fields are ignored and all
// set fields must match.
type Filter struct {
	Category      models.Category      `json:"category,omitempty"`
	OperationType models.OperationType `json:"operation_type,omitempty"`
	Status        models.Status        `json:"status,omitempty"`
	// ProductID matches the entry's own product or any affected product.
	ProductID string `json:"product_id,omitempty"`
	// BatchID matches the aggregate entry and every child of the batch.
	BatchID string `json:"batch_id,omitempty"`
	// Search is a case-insensitive substring match over description,
	// title and SKU.
	Search string `json:"search,omitempty"`
	// From and To bound the entry timestamp, both inclusive.
	From  time.Time `json:"from,omitempty"`
	To    time.Time `json:"to,omitempty"`
	Limit int       `json:"limit,omitempty"`
}

// Match reports whether e satisfies the filter.
func (f Filter) Match(e *models.HistoryEntry) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.OperationType != "" && e.OperationType != f.OperationType {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.ProductID != "" && e.ProductID != f.ProductID && !slices.Contains(e.AffectedProductIDs, f.ProductID) {
		return false
	}
	if f.BatchID != "" && !matchBatch(e, f.BatchID) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(e.Description), q) &&
			!strings.Contains(strings.ToLower(e.Title), q) &&
			!strings.Contains(strings.ToLower(e.SKU), q) {
			return false
		}
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

func matchBatch(e *models.HistoryEntry, batchID string) bool {
	switch {
	case e.OperationData.BatchID == batchID:
		return true
	case e.OperationData.ParentBatchID == batchID:
		return true
	case e.ID == batchID && e.IsAggregate():
		return true
	}
	return false
}
