package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storeops/bulkops/internal/batch"
	"github.com/storeops/bulkops/internal/history"
	"github.com/storeops/bulkops/internal/models"
	"github.com/storeops/bulkops/internal/pricing"
)

// DiscountRequest describes a bulk percentage discount.
type DiscountRequest struct {
	Items []*models.Item `json:"items"`
	// Percent is a decimal string strictly between 0 and 100.
	Percent     string     `json:"percent"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Description string     `json:"description,omitempty"`

	RetryOf string `json:"-"`
}

func (r *DiscountRequest) validate(now time.Time) (decimal.Decimal, error) {
	if err := validateItems(r.Items); err != nil {
		return decimal.Zero, err
	}
	p, err := decimal.NewFromString(r.Percent)
	if err != nil {
		return decimal.Zero, invalid("percent", "%q is not a number", r.Percent)
	}
	if !p.IsPositive() || p.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return decimal.Zero, invalid("percent", "must be greater than 0 and less than 100")
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return decimal.Zero, invalid("expires_at", "must be in the future")
	}
	return p, nil
}

// ApplyDiscount lowers each item's price by the percentage. The original
// price becomes the compare-at price unless the variant already carries a
// higher one.
func (s *Service) ApplyDiscount(ctx context.Context, req DiscountRequest, obs *batch.Observer) (*BatchOutcome, error) {
	percent, err := req.validate(s.now())
	if err != nil {
		return nil, err
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Bulk discount: %s%% off", percent.String())
		if req.ExpiresAt != nil {
			description += " until " + req.ExpiresAt.UTC().Format(time.RFC3339)
		}
	}

	fn := func(ctx context.Context, item *models.Item) (models.Values, error) {
		if err := s.loadVariant(ctx, item, models.FieldPrice, models.FieldCompareAtPrice); err != nil {
			return nil, err
		}
		target, err := discountTarget(item.Current, percent)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", item.Label(), err)
		}
		item.Current = pick(item.Current, []string{models.FieldPrice, models.FieldCompareAtPrice})
		item.Target = target
		if _, err := s.client.UpdateVariant(ctx, item.ID, target); err != nil {
			return nil, err
		}
		return target, nil
	}

	var expires *time.Time
	if req.ExpiresAt != nil {
		t := req.ExpiresAt.UTC()
		expires = &t
	}

	return s.run(ctx, req.Items, fn, history.BulkRequest{
		OperationType: models.OpBulkDiscount,
		Description:   description,
		RollbackType:  models.RollbackAPICall,
		Payload:       discountPayload,
		Data: models.OperationData{
			DiscountPercent: percent.String(),
			ExpiresAt:       expires,
			RetryOf:         req.RetryOf,
		},
	}, obs)
}

// discountTarget computes the discounted price fields from current values.
func discountTarget(current models.Values, percent decimal.Decimal) (models.Values, error) {
	price, err := decimal.NewFromString(current[models.FieldPrice])
	if err != nil {
		return nil, fmt.Errorf("invalid current price %q", current[models.FieldPrice])
	}

	compare := price
	if raw := current[models.FieldCompareAtPrice]; raw != "" {
		if c, err := decimal.NewFromString(raw); err == nil && c.GreaterThan(price) {
			compare = c
		}
	}

	return models.Values{
		models.FieldPrice:          pricing.Format(pricing.Discounted(price, percent)),
		models.FieldCompareAtPrice: pricing.Format(compare),
	}, nil
}

func discountPayload(r *models.ItemResult) models.RollbackPayload {
	return models.DiscountPayload{
		VariantID:              r.Item.ID,
		ProductID:              r.Item.ParentID,
		OriginalPrice:          r.OldValues[models.FieldPrice],
		OriginalCompareAtPrice: r.OldValues[models.FieldCompareAtPrice],
	}
}

// ExpireResult reports a discount expiry sweep.
type ExpireResult struct {
	Checked    int               `json:"checked"`
	RolledBack []*RollbackResult `json:"rolled_back"`
	Errors     []string          `json:"errors,omitempty"`
}

// ExpireDiscounts rolls back every discount batch whose expiry is at or
// before now and that no rollback has been attempted for. A sweep rollback
// that only partly succeeds is not repeated; the remaining items are left
// to a manual retry of the rollback batch.
func (s *Service) ExpireDiscounts(ctx context.Context, now time.Time) (*ExpireResult, error) {
	entries, err := s.history.Query(history.Filter{OperationType: models.OpBulkDiscount})
	if err != nil {
		return nil, err
	}
	tried, err := s.history.RollbackAttempts()
	if err != nil {
		return nil, err
	}

	out := &ExpireResult{}
	for _, e := range entries {
		if !e.IsAggregate() || e.OperationData.Action != models.ActionBulkOperation {
			continue
		}
		exp := e.OperationData.ExpiresAt
		if exp == nil || exp.After(now) || !e.RollbackData.CanRollback || tried[e.ID] {
			continue
		}
		out.Checked++

		s.logger.Info("discount expired", "entry", e.ID, "expires_at", exp)
		res, err := s.Rollback(ctx, e.ID, nil)
		if errors.Is(err, ErrAlreadyRolledBack) {
			continue
		}
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", e.ShortID(), err))
			continue
		}
		if !res.Success {
			s.logger.Warn("expired discount only partly rolled back",
				"entry", e.ID,
				"failed", len(res.Errors),
				"rollback_entry", res.RollbackEntryID)
		}
		out.RolledBack = append(out.RolledBack, res)
	}
	return out, nil
}
