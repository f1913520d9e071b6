package models

import "time"

// OperationType identifies the kind of mutation an entry records.
type OperationType string

const (
	OpProductUpdate   OperationType = "product_update"
	OpBulkPriceUpdate OperationType = "bulk_price_update"
	OpBulkDiscount    OperationType = "bulk_discount"
	OpImageUpload     OperationType = "image_upload"
	OpRollback        OperationType = "rollback"
)

// Category groups operation types for filtering and statistics.
type Category string

const (
	CategoryProducts  Category = "products"
	CategoryPricing   Category = "pricing"
	CategoryDiscounts Category = "discounts"
	CategoryMedia     Category = "media"
	CategorySystem    Category = "system"
)

// CategoryFor returns the default category of an operation type.
func CategoryFor(op OperationType) Category {
	switch op {
	case OpProductUpdate:
		return CategoryProducts
	case OpBulkPriceUpdate:
		return CategoryPricing
	case OpBulkDiscount:
		return CategoryDiscounts
	case OpImageUpload:
		return CategoryMedia
	}
	return CategorySystem
}

// Status is the outcome recorded on an entry.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusWarning Status = "warning"
	StatusPending Status = "pending"
)

// Action distinguishes aggregate, child and rollback entries.
type Action string

const (
	ActionBulkOperation   Action = "bulk_operation"
	ActionItemInBulk      Action = "individual_item_in_bulk"
	ActionRollback        Action = "rollback"
	ActionSingleOperation Action = "single_operation"
)

// OperationData carries what changed. Aggregate entries carry only BatchID;
// child entries carry both BatchID and ParentBatchID (the aggregate entry's ID).
type OperationData struct {
	Action        Action `json:"action"`
	ItemID        string `json:"item_id,omitempty"`
	OldValues     Values `json:"old_values,omitempty"`
	NewValues     Values `json:"new_values,omitempty"`
	BatchID       string `json:"batch_id,omitempty"`
	ParentBatchID string `json:"parent_batch_id,omitempty"`

	// RollbackOf is the ID of the entry a rollback entry reverses.
	RollbackOf string `json:"rollback_of,omitempty"`
	// RetryOf is the batch ID whose failed subset this batch re-ran.
	RetryOf string `json:"retry_of,omitempty"`

	Rule            *PriceRule `json:"rule,omitempty"`
	Direction       Direction  `json:"direction,omitempty"`
	DiscountPercent string     `json:"discount_percent,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// BulkSummary is attached to aggregate entries.
// SuccessfulItems + FailedItems always equals TotalItems.
type BulkSummary struct {
	TotalItems      int      `json:"total_items"`
	SuccessfulItems int      `json:"successful_items"`
	FailedItems     int      `json:"failed_items"`
	FailedItemIDs   []string `json:"failed_item_ids,omitempty"`
	Cancelled       bool     `json:"cancelled,omitempty"`
	DurationMS      int64    `json:"duration_ms"`
}

// HistoryEntry is the atomic, append-only audit record.
type HistoryEntry struct {
	ID                 string        `json:"id"`
	Timestamp          time.Time     `json:"timestamp"`
	OperationType      OperationType `json:"operation_type"`
	Category           Category      `json:"category"`
	Status             Status        `json:"status"`
	Description        string        `json:"description"`
	Title              string        `json:"title,omitempty"`
	SKU                string        `json:"sku,omitempty"`
	ProductID          string        `json:"product_id,omitempty"`
	AffectedProductIDs []string      `json:"affected_product_ids,omitempty"`
	OperationData      OperationData `json:"operation_data"`
	RollbackData       RollbackData  `json:"rollback_data"`
	BulkSummary        *BulkSummary  `json:"bulk_operation_summary,omitempty"`
	Error              string        `json:"error,omitempty"`
}

// IsAggregate reports whether the entry summarizes a whole batch.
func (e *HistoryEntry) IsAggregate() bool {
	return e.BulkSummary != nil && e.OperationData.ParentBatchID == ""
}

// IsChild reports whether the entry describes one item within a batch.
func (e *HistoryEntry) IsChild() bool {
	return e.OperationData.ParentBatchID != ""
}

// ShortID returns the last 8 characters of the entry ID. Entry IDs are
// time-ordered, so the tail is the part that differs between entries.
func (e *HistoryEntry) ShortID() string {
	if len(e.ID) > 8 {
		return e.ID[len(e.ID)-8:]
	}
	return e.ID
}
