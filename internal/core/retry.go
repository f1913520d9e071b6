package core

import (
	"context"
	"fmt"

	"github.com/storeops/bulkops/internal/batch"
	"github.com/storeops/bulkops/internal/models"
	"github.com/storeops/bulkops/internal/remote"
)

// RetryOutcome holds the new batch, or the rollback result when the retried
// batch was itself a rollback.
type RetryOutcome struct {
	Batch    *BatchOutcome   `json:"batch,omitempty"`
	Rollback *RollbackResult `json:"rollback,omitempty"`
}

// Retry re-runs the failed items of a batch as a new batch linked to the
// original through retry_of. The original batch's entries are untouched.
// Price and discount retries re-read live prices and re-apply the recorded
// rule; a partially failed rollback is retried by rolling back its source
// again, which skips items already reversed.
func (s *Service) Retry(ctx context.Context, batchID string, obs *batch.Observer) (*RetryOutcome, error) {
	agg, err := s.history.Aggregate(batchID)
	if err != nil {
		return nil, err
	}
	data := agg.OperationData

	if data.Action == models.ActionRollback {
		if data.RollbackOf == "" {
			return nil, invalid("batch", "rollback batch %s has no source", data.BatchID)
		}
		rb, err := s.Rollback(ctx, data.RollbackOf, obs)
		if err != nil {
			return nil, err
		}
		return &RetryOutcome{Rollback: rb}, nil
	}

	children, err := s.history.GetBulkOperationItems(data.BatchID)
	if err != nil {
		return nil, err
	}
	var failed []*models.HistoryEntry
	for i := len(children) - 1; i >= 0; i-- {
		if children[i].Status == models.StatusError {
			failed = append(failed, children[i])
		}
	}
	if len(failed) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingToRetry, data.BatchID)
	}

	s.logger.Info("retrying failed items", "batch_id", data.BatchID, "items", len(failed))

	var out *BatchOutcome
	switch agg.OperationType {
	case models.OpBulkPriceUpdate:
		if data.Rule == nil {
			return nil, invalid("batch", "batch %s has no recorded rule", data.BatchID)
		}
		out, err = s.ApplyRule(ctx, ApplyRuleRequest{
			Items:       retryItems(failed),
			Rule:        *data.Rule,
			Direction:   data.Direction,
			Description: "Retry: " + agg.Description,
			RetryOf:     data.BatchID,
		}, obs)

	case models.OpBulkDiscount:
		out, err = s.ApplyDiscount(ctx, DiscountRequest{
			Items:       retryItems(failed),
			Percent:     data.DiscountPercent,
			ExpiresAt:   data.ExpiresAt,
			Description: "Retry: " + agg.Description,
			RetryOf:     data.BatchID,
		}, obs)

	case models.OpImageUpload:
		uploads := make([]*ImageUpload, 0, len(failed))
		for _, c := range failed {
			src, err := retryImageSource(c)
			if err != nil {
				return nil, err
			}
			uploads = append(uploads, &ImageUpload{
				SKU:       c.SKU,
				ProductID: c.ProductID,
				Title:     c.Title,
				Sources:   []*remote.ImageSource{src},
			})
		}
		out, err = s.uploadImages(ctx, uploads, data.BatchID, obs)

	default:
		return nil, invalid("batch", "%s batches cannot be retried", agg.OperationType)
	}
	if err != nil {
		return nil, err
	}
	return &RetryOutcome{Batch: out}, nil
}

// retryItems rebuilds items from failed child entries. Current values are
// left empty so the live values are read again.
func retryItems(failed []*models.HistoryEntry) []*models.Item {
	items := make([]*models.Item, 0, len(failed))
	for _, c := range failed {
		items = append(items, &models.Item{
			ID:       c.OperationData.ItemID,
			ParentID: c.ProductID,
			SKU:      c.SKU,
			Title:    c.Title,
			Ref:      c.ID,
		})
	}
	return items
}
