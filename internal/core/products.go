package core

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/storeops/bulkops/internal/models"
	"github.com/storeops/bulkops/internal/remote"
)

// ProductOutcome is the result of a single product update.
type ProductOutcome struct {
	Product      *remote.Product      `json:"product"`
	Entry        *models.HistoryEntry `json:"entry,omitempty"`
	StorageError string               `json:"storage_error,omitempty"`
}

// UpdateProduct changes product-level fields and records a rollbackable
// product_update entry holding the previous values. A failed remote call is
// recorded as an error entry and returned.
func (s *Service) UpdateProduct(ctx context.Context, productID string, fields models.Values) (*ProductOutcome, error) {
	if productID == "" {
		return nil, invalid("product_id", "required")
	}
	if len(fields) == 0 {
		return nil, invalid("fields", "nothing to update")
	}
	for _, k := range fields.Keys() {
		if !slices.Contains(remote.ProductFields, k) {
			return nil, invalid("fields", "%q is not an editable product field (allowed: %s)", k, strings.Join(remote.ProductFields, ", "))
		}
	}

	before, err := s.client.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("read product %s: %w", productID, err)
	}
	old := before.Fields(fields.Keys()...)

	entry := &models.HistoryEntry{
		OperationType: models.OpProductUpdate,
		Description:   fmt.Sprintf("Updated %s on %q", strings.Join(fields.Keys(), ", "), before.Title),
		Title:         before.Title,
		ProductID:     productID,
		OperationData: models.OperationData{
			Action:    models.ActionSingleOperation,
			ItemID:    productID,
			OldValues: old,
			NewValues: fields.Clone(),
		},
	}

	after, err := s.client.UpdateProduct(ctx, productID, fields)
	if err != nil {
		entry.Status = models.StatusError
		entry.Error = err.Error()
		entry.RollbackData = models.NotRollbackable()
		s.record(entry)
		return nil, fmt.Errorf("update product %s: %w", productID, err)
	}

	entry.Status = models.StatusSuccess
	entry.RollbackData = models.RollbackData{
		CanRollback: true,
		Type:        models.RollbackAPICall,
		Payload:     models.ProductFieldsPayload{ProductID: productID, Fields: old},
	}
	out := &ProductOutcome{Product: after, Entry: entry}
	out.StorageError = s.record(entry)
	return out, nil
}
