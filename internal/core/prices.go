package core

import (
	"context"
	"fmt"

	"github.com/storeops/bulkops/internal/batch"
	"github.com/storeops/bulkops/internal/history"
	"github.com/storeops/bulkops/internal/models"
	"github.com/storeops/bulkops/internal/pricing"
)

// ApplyRuleRequest describes a bulk price change.
type ApplyRuleRequest struct {
	Items       []*models.Item   `json:"items"`
	Rule        models.PriceRule `json:"rule"`
	Direction   models.Direction `json:"direction"`
	Description string           `json:"description,omitempty"`

	// RetryOf links the new batch to the batch whose failures it re-runs.
	RetryOf string `json:"-"`
}

func (r *ApplyRuleRequest) validate() error {
	if err := validateItems(r.Items); err != nil {
		return err
	}
	if err := pricing.Validate(r.Rule); err != nil {
		return invalid("rule", "%v", err)
	}
	switch r.Direction {
	case models.Increase, models.Decrease:
	case "":
		if r.Rule.Type != models.RuleAbsolute {
			return invalid("direction", "required for %s rules", r.Rule.Type)
		}
	default:
		return invalid("direction", "unknown direction %q", r.Direction)
	}
	return nil
}

// ApplyRule evaluates the rule for every item and writes the new prices in
// rate-limited groups. Items without current values are read from the store
// first.
func (s *Service) ApplyRule(ctx context.Context, req ApplyRuleRequest, obs *batch.Observer) (*BatchOutcome, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	rule := req.Rule
	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Bulk price update: %s %s", req.Direction, rule)
	}

	fn := func(ctx context.Context, item *models.Item) (models.Values, error) {
		target, err := s.priceTarget(ctx, item, rule, req.Direction)
		if err != nil {
			return nil, err
		}
		if _, err := s.client.UpdateVariant(ctx, item.ID, target); err != nil {
			return nil, err
		}
		return target, nil
	}

	return s.run(ctx, req.Items, fn, history.BulkRequest{
		OperationType: models.OpBulkPriceUpdate,
		Description:   description,
		RollbackType:  models.RollbackAPICall,
		Payload:       variantPricePayload,
		Data: models.OperationData{
			Rule:      &rule,
			Direction: req.Direction,
			RetryOf:   req.RetryOf,
		},
	}, obs)
}

// priceTarget computes the new price fields of one item. It narrows
// item.Current to the fields being changed so rollback restores only those.
func (s *Service) priceTarget(ctx context.Context, item *models.Item, rule models.PriceRule, dir models.Direction) (models.Values, error) {
	fields := rule.Fields()
	if err := s.loadVariant(ctx, item, fields...); err != nil {
		return nil, err
	}

	target := make(models.Values, len(fields))
	for _, f := range fields {
		base := item.Current[f]
		if base == "" {
			if f == models.FieldCompareAtPrice && rule.Type != models.RuleAbsolute {
				// No compare-at price to adjust.
				continue
			}
			if rule.Type != models.RuleAbsolute {
				return nil, fmt.Errorf("%s has no %s", item.Label(), f)
			}
			base = "0"
		}
		nv, err := pricing.ComputeNewValue(base, rule, dir)
		if err != nil {
			return nil, err
		}
		target[f] = nv
	}
	if len(target) == 0 {
		return nil, fmt.Errorf("%s has no price fields to update", item.Label())
	}

	item.Current = pick(item.Current, target.Keys())
	item.Target = target
	return target, nil
}

func variantPricePayload(r *models.ItemResult) models.RollbackPayload {
	return models.VariantPricePayload{
		VariantID: r.Item.ID,
		ProductID: r.Item.ParentID,
		Values:    r.OldValues.Clone(),
	}
}

// PricePreview is one row of a dry run.
type PricePreview struct {
	ItemID    string        `json:"item_id"`
	Label     string        `json:"label"`
	OldValues models.Values `json:"old_values,omitempty"`
	NewValues models.Values `json:"new_values,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// PreviewRule computes the prices ApplyRule would write without changing
// the store or the history. Variants without supplied current values are
// read from the store.
func (s *Service) PreviewRule(ctx context.Context, req ApplyRuleRequest) ([]*PricePreview, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	out := make([]*PricePreview, 0, len(req.Items))
	for _, it := range req.Items {
		item := *it
		p := &PricePreview{ItemID: item.ID}
		target, err := s.priceTarget(ctx, &item, req.Rule, req.Direction)
		p.Label = item.Label()
		if err != nil {
			p.Error = err.Error()
		} else {
			p.OldValues = item.Current
			p.NewValues = target
		}
		out = append(out, p)
	}
	return out, nil
}
