package models

import "fmt"

// RuleType selects how a PriceRule's value is applied.
type RuleType string

const (
	RulePercentage RuleType = "percentage"
	RuleFixed      RuleType = "fixed"
	RuleAbsolute   RuleType = "absolute"
)

// ApplyTo selects which price fields a rule changes.
type ApplyTo string

const (
	ApplyToPrice          ApplyTo = "price"
	ApplyToCompareAtPrice ApplyTo = "compareAtPrice"
	ApplyToBoth           ApplyTo = "both"
)

// Rounding is the post-clamp rounding mode of a PriceRule.
type Rounding string

const (
	RoundNone      Rounding = "none"
	RoundNearest99 Rounding = "nearest_99"
	RoundNearest00 Rounding = "nearest_00"
	RoundNearest95 Rounding = "nearest_95"
)

// Direction is whether a percentage or fixed rule raises or lowers a price.
type Direction string

const (
	Increase Direction = "increase"
	Decrease Direction = "decrease"
)

// PriceRule describes a bulk price change. Value is a decimal string.
type PriceRule struct {
	Type     RuleType `json:"type"`
	Value    string   `json:"value"`
	ApplyTo  ApplyTo  `json:"apply_to"`
	Rounding Rounding `json:"rounding_rule"`
}

// Fields returns the value keys the rule changes.
func (r PriceRule) Fields() []string {
	switch r.ApplyTo {
	case ApplyToCompareAtPrice:
		return []string{FieldCompareAtPrice}
	case ApplyToBoth:
		return []string{FieldPrice, FieldCompareAtPrice}
	default:
		return []string{FieldPrice}
	}
}

// String renders the rule for descriptions, e.g. "percentage 10 on price (nearest_99)".
func (r PriceRule) String() string {
	rounding := r.Rounding
	if rounding == "" {
		rounding = RoundNone
	}
	applyTo := r.ApplyTo
	if applyTo == "" {
		applyTo = ApplyToPrice
	}
	return fmt.Sprintf("%s %s on %s (%s)", r.Type, r.Value, applyTo, rounding)
}
