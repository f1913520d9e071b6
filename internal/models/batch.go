package models

import "time"

// ItemStatus is the outcome of a single item within a batch.
type ItemStatus string

const (
	ItemSucceeded ItemStatus = "success"
	ItemFailed    ItemStatus = "error"
)

// ItemResult records what happened to one item of a batch.
type ItemResult struct {
	Item      *Item      `json:"item"`
	Status    ItemStatus `json:"status"`
	OldValues Values     `json:"old_values,omitempty"`
	NewValues Values     `json:"new_values,omitempty"`
	Error     string     `json:"error,omitempty"`
	// Dispatched is false when the item was never sent to the remote store
	// because the batch was cancelled first.
	Dispatched bool          `json:"dispatched"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
}

// Succeeded reports whether the item's mutation was applied.
func (r *ItemResult) Succeeded() bool {
	return r.Status == ItemSucceeded
}

// BatchResult aggregates the per-item outcomes of one orchestrator run.
type BatchResult struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Groups     int           `json:"groups"`
	Cancelled  bool          `json:"cancelled,omitempty"`
	Items      []*ItemResult `json:"per_item_results"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// FailedItems returns the items that did not succeed, in submission order.
func (b *BatchResult) FailedItems() []*Item {
	var items []*Item
	for _, r := range b.Items {
		if !r.Succeeded() {
			items = append(items, r.Item)
		}
	}
	return items
}
