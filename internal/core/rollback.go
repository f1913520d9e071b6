package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/storeops/bulkops/internal/batch"
	"github.com/storeops/bulkops/internal/history"
	"github.com/storeops/bulkops/internal/models"
)

// ItemError is a per-item rollback failure.
type ItemError struct {
	EntryID string `json:"entry_id"`
	ItemID  string `json:"item_id"`
	Error   string `json:"error"`
}

// RollbackResult reports a rollback. A batch rollback can partially succeed;
// AffectedEntryIDs lists the source entries that were reversed and Errors
// the ones that were not.
type RollbackResult struct {
	Success          bool        `json:"success"`
	Message          string      `json:"message"`
	AffectedEntryIDs []string    `json:"affected_entry_ids"`
	Errors           []ItemError `json:"errors,omitempty"`
	// Skipped lists children already reversed by an earlier rollback.
	Skipped []string `json:"skipped,omitempty"`
	// RollbackEntryID is the entry recording this rollback.
	RollbackEntryID string `json:"rollback_entry_id,omitempty"`
	StorageError    string `json:"storage_error,omitempty"`
}

// Rollback reverses a history entry. Ineligible entries (missing, not
// rollbackable, already reversed, unsupported type) return an error that
// wraps ErrRollbackIneligible and change nothing. Remote failures are
// reported on the result. The source entry is never modified; a new
// rollback entry with swapped values is appended instead. Rollbacks run
// one at a time.
func (s *Service) Rollback(ctx context.Context, entryID string, obs *batch.Observer) (*RollbackResult, error) {
	s.rollbackMu.Lock()
	defer s.rollbackMu.Unlock()

	e, err := s.history.Get(entryID)
	if errors.Is(err, history.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	if err != nil {
		return nil, err
	}
	if !e.RollbackData.CanRollback || e.OperationData.Action == models.ActionRollback {
		return nil, fmt.Errorf("%w: %s", ErrNotRollbackable, e.ShortID())
	}

	done, err := s.history.RolledBack()
	if err != nil {
		return nil, err
	}
	if done[e.ID] {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRolledBack, e.ShortID())
	}

	switch e.RollbackData.Type {
	case models.RollbackAPICall:
		return s.rollbackEntry(ctx, e)
	case models.RollbackBatch:
		return s.rollbackBatch(ctx, e, done, obs)
	case models.RollbackFileRestore:
		return nil, fmt.Errorf("%w: restoring media is not supported (%s)", ErrNotImplemented, e.ShortID())
	}
	return nil, fmt.Errorf("%w: %q", ErrNotImplemented, e.RollbackData.Type)
}

// rollbackEntry reverses one item-level or single-operation entry.
func (s *Service) rollbackEntry(ctx context.Context, e *models.HistoryEntry) (*RollbackResult, error) {
	applied, err := s.reverse(ctx, e)
	if err != nil {
		s.logger.Warn("rollback failed", "entry", e.ID, "error", err)
		return &RollbackResult{
			Message: fmt.Sprintf("Rollback of %s failed: %v", e.ShortID(), err),
			Errors:  []ItemError{{EntryID: e.ID, ItemID: e.OperationData.ItemID, Error: err.Error()}},
		}, nil
	}

	rb := &models.HistoryEntry{
		OperationType:      e.OperationType,
		Category:           e.Category,
		Status:             models.StatusSuccess,
		Description:        "Rollback: " + e.Description,
		Title:              e.Title,
		SKU:                e.SKU,
		ProductID:          e.ProductID,
		AffectedProductIDs: e.AffectedProductIDs,
		OperationData: models.OperationData{
			Action:     models.ActionRollback,
			ItemID:     e.OperationData.ItemID,
			OldValues:  e.OperationData.NewValues.Clone(),
			NewValues:  applied,
			RollbackOf: e.ID,
		},
		RollbackData: models.NotRollbackable(),
	}
	out := &RollbackResult{
		Success:          true,
		Message:          fmt.Sprintf("Rolled back %s", e.ShortID()),
		AffectedEntryIDs: []string{e.ID},
	}
	if out.StorageError = s.record(rb); out.StorageError == "" {
		out.RollbackEntryID = rb.ID
	}
	return out, nil
}

// rollbackBatch reverses every eligible child of a batch with the same
// group and delay discipline as the original run.
func (s *Service) rollbackBatch(ctx context.Context, agg *models.HistoryEntry, done map[string]bool, obs *batch.Observer) (*RollbackResult, error) {
	children, err := s.history.GetBulkOperationItems(agg.OperationData.BatchID)
	if err != nil {
		return nil, err
	}

	out := &RollbackResult{}
	byEntry := make(map[string]*models.HistoryEntry)
	var items []*models.Item
	// Children are stored newest-first; reverse in submission order.
	for i := len(children) - 1; i >= 0; i-- {
		c := children[i]
		if !c.RollbackData.CanRollback || c.RollbackData.Type != models.RollbackAPICall {
			continue
		}
		if done[c.ID] {
			out.Skipped = append(out.Skipped, c.ID)
			continue
		}
		byEntry[c.ID] = c
		items = append(items, &models.Item{
			ID:       c.OperationData.ItemID,
			ParentID: c.ProductID,
			SKU:      c.SKU,
			Title:    c.Title,
			Current:  c.OperationData.NewValues.Clone(),
			Target:   c.OperationData.OldValues.Clone(),
			Ref:      c.ID,
		})
	}
	if len(items) == 0 {
		if len(out.Skipped) > 0 {
			return nil, fmt.Errorf("%w: every item of batch %s", ErrAlreadyRolledBack, agg.OperationData.BatchID)
		}
		return nil, fmt.Errorf("%w: batch %s has no rollbackable items", ErrNotRollbackable, agg.OperationData.BatchID)
	}

	fn := func(ctx context.Context, item *models.Item) (models.Values, error) {
		return s.reverse(ctx, byEntry[item.Ref])
	}

	outcome, err := s.run(ctx, items, fn, history.BulkRequest{
		OperationType: agg.OperationType,
		Category:      agg.Category,
		Description:   "Rollback: " + agg.Description,
		Data:          models.OperationData{RollbackOf: agg.ID},
		Rollback:      true,
	}, obs)
	if err != nil {
		return nil, err
	}

	res := outcome.Result
	for _, r := range res.Items {
		if r.Succeeded() {
			out.AffectedEntryIDs = append(out.AffectedEntryIDs, r.Item.Ref)
			continue
		}
		out.Errors = append(out.Errors, ItemError{EntryID: r.Item.Ref, ItemID: r.Item.ID, Error: r.Error})
	}
	out.Success = res.Failed == 0
	out.Message = fmt.Sprintf("Rolled back %d of %d items", res.Successful, res.Total)
	if len(out.Skipped) > 0 {
		out.Message += fmt.Sprintf(" (%d already rolled back)", len(out.Skipped))
	}
	out.StorageError = outcome.StorageError
	if outcome.Aggregate != nil {
		out.RollbackEntryID = outcome.Aggregate.ID
	}
	return out, nil
}

// reverse performs the inverse mutation recorded on e and returns the values
// written.
func (s *Service) reverse(ctx context.Context, e *models.HistoryEntry) (models.Values, error) {
	switch p := e.RollbackData.Payload.(type) {
	case models.VariantPricePayload:
		if len(p.Values) == 0 {
			return nil, errors.New("no recorded price values")
		}
		if _, err := s.client.UpdateVariant(ctx, p.VariantID, p.Values); err != nil {
			return nil, err
		}
		return p.Values.Clone(), nil

	case models.DiscountPayload:
		values, err := s.discountRestore(ctx, p)
		if err != nil {
			return nil, err
		}
		if _, err := s.client.UpdateVariant(ctx, p.VariantID, values); err != nil {
			return nil, err
		}
		return values, nil

	case models.ProductFieldsPayload:
		if _, err := s.client.UpdateProduct(ctx, p.ProductID, p.Fields); err != nil {
			return nil, err
		}
		return p.Fields.Clone(), nil

	case models.MediaPayload:
		return nil, ErrNotImplemented
	case nil:
		return nil, errors.New("entry has no rollback payload")
	}
	return nil, fmt.Errorf("unsupported rollback payload %s", e.RollbackData.Payload.Kind())
}

// discountRestore returns the values that undo a discount. Without a
// recorded original price the variant's live compare-at price becomes the
// price again and the compare-at price is cleared.
func (s *Service) discountRestore(ctx context.Context, p models.DiscountPayload) (models.Values, error) {
	if p.OriginalPrice != "" {
		return models.Values{
			models.FieldPrice:          p.OriginalPrice,
			models.FieldCompareAtPrice: p.OriginalCompareAtPrice,
		}, nil
	}

	v, err := s.client.GetVariant(ctx, p.VariantID)
	if err != nil {
		return nil, err
	}
	if v.CompareAtPrice == "" {
		return nil, fmt.Errorf("no original price recorded and variant %s has no compare-at price", p.VariantID)
	}
	s.logger.Warn("discount rollback using compare-at price", "variant", p.VariantID, "price", v.CompareAtPrice)
	return models.Values{
		models.FieldPrice:          v.CompareAtPrice,
		models.FieldCompareAtPrice: "",
	}, nil
}
