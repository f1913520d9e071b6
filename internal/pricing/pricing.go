// Package pricing computes new prices from bulk price rules.
// All arithmetic is decimal; results are formatted with two decimal places.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/storeops/bulkops/internal/models"
)

// ErrInvalidRule is returned for rules that cannot be evaluated.
var ErrInvalidRule = errors.New("invalid price rule")

var (
	minPrice = decimal.RequireFromString("0.01")
	hundred  = decimal.NewFromInt(100)
	cents99  = decimal.RequireFromString("0.99")
	cents95  = decimal.RequireFromString("0.95")
)

// Validate checks that a rule is well formed. A rule's value must parse as a
// decimal greater than zero.
func Validate(rule models.PriceRule) error {
	switch rule.Type {
	case models.RulePercentage, models.RuleFixed, models.RuleAbsolute:
	default:
		return fmt.Errorf("%w: unknown rule type %q", ErrInvalidRule, rule.Type)
	}

	switch rule.ApplyTo {
	case "", models.ApplyToPrice, models.ApplyToCompareAtPrice, models.ApplyToBoth:
	default:
		return fmt.Errorf("%w: unknown apply_to %q", ErrInvalidRule, rule.ApplyTo)
	}

	switch rule.Rounding {
	case "", models.RoundNone, models.RoundNearest99, models.RoundNearest00, models.RoundNearest95:
	default:
		return fmt.Errorf("%w: unknown rounding rule %q", ErrInvalidRule, rule.Rounding)
	}

	v, err := decimal.NewFromString(rule.Value)
	if err != nil {
		return fmt.Errorf("%w: value %q is not a decimal", ErrInvalidRule, rule.Value)
	}
	if !v.IsPositive() {
		return fmt.Errorf("%w: value must be greater than zero", ErrInvalidRule)
	}
	return nil
}

// Evaluate applies rule to current. The result is clamped to a minimum of
// 0.01 and then rounded per the rule's rounding mode. Evaluate assumes the
// rule has passed Validate.
func Evaluate(current decimal.Decimal, rule models.PriceRule, dir models.Direction) decimal.Decimal {
	value, _ := decimal.NewFromString(rule.Value)

	var result decimal.Decimal
	switch rule.Type {
	case models.RulePercentage:
		delta := current.Mul(value).Div(hundred)
		if dir == models.Decrease {
			result = current.Sub(delta)
		} else {
			result = current.Add(delta)
		}
	case models.RuleFixed:
		if dir == models.Decrease {
			result = current.Sub(value)
		} else {
			result = current.Add(value)
		}
	case models.RuleAbsolute:
		result = value
	default:
		result = current
	}

	result = clamp(result)
	result = round(result, rule.Rounding)
	// nearest_00 can round a clamped 0.01 down to zero.
	return clamp(result.Round(2))
}

// ComputeNewValue parses current, evaluates rule and formats the result,
// e.g. ComputeNewValue("100.00", 20% increase, nearest_99) == "120.99".
func ComputeNewValue(current string, rule models.PriceRule, dir models.Direction) (string, error) {
	if err := Validate(rule); err != nil {
		return "", err
	}
	c, err := decimal.NewFromString(current)
	if err != nil {
		return "", fmt.Errorf("parse current price %q: %w", current, err)
	}
	return Format(Evaluate(c, rule, dir)), nil
}

// Discounted returns price reduced by percent, rounded to cents and clamped
// to the 0.01 floor.
func Discounted(price, percent decimal.Decimal) decimal.Decimal {
	factor := hundred.Sub(percent).Div(hundred)
	return clamp(price.Mul(factor).Round(2))
}

// Format renders a price with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(minPrice) {
		return minPrice
	}
	return d
}

func round(d decimal.Decimal, mode models.Rounding) decimal.Decimal {
	switch mode {
	case models.RoundNearest99:
		return d.Floor().Add(cents99)
	case models.RoundNearest00:
		return d.Round(0)
	case models.RoundNearest95:
		return d.Floor().Add(cents95)
	}
	return d
}
