package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/storeops/bulkops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeNewValue_PercentageNearest99(t *testing.T) {
	rule := models.PriceRule{Type: models.RulePercentage, Value: "20", Rounding: models.RoundNearest99}

	// 100 + 20% = 120.00, floor(120.00) + 0.99 = 120.99
	got, err := ComputeNewValue("100.00", rule, models.Increase)
	require.NoError(t, err)
	assert.Equal(t, "120.99", got)
}

func TestComputeNewValue_PercentageDecrease(t *testing.T) {
	rule := models.PriceRule{Type: models.RulePercentage, Value: "25"}

	got, err := ComputeNewValue("80.00", rule, models.Decrease)
	require.NoError(t, err)
	assert.Equal(t, "60.00", got)
}

func TestComputeNewValue_FixedClampsToFloor(t *testing.T) {
	rule := models.PriceRule{Type: models.RuleFixed, Value: "10"}

	got, err := ComputeNewValue("0.05", rule, models.Decrease)
	require.NoError(t, err)
	assert.Equal(t, "0.01", got)
}

func TestComputeNewValue_AbsoluteIgnoresDirection(t *testing.T) {
	rule := models.PriceRule{Type: models.RuleAbsolute, Value: "42.50"}

	up, err := ComputeNewValue("10.00", rule, models.Increase)
	require.NoError(t, err)
	down, err := ComputeNewValue("99.00", rule, models.Decrease)
	require.NoError(t, err)

	assert.Equal(t, "42.50", up)
	assert.Equal(t, "42.50", down)
}

func TestComputeNewValue_RoundingModes(t *testing.T) {
	base := models.PriceRule{Type: models.RuleFixed, Value: "0.40"}

	tests := []struct {
		rounding models.Rounding
		want     string
	}{
		{models.RoundNone, "19.90"},
		{models.RoundNearest99, "19.99"},
		{models.RoundNearest95, "19.95"},
		{models.RoundNearest00, "20.00"},
	}
	for _, tt := range tests {
		t.Run(string(tt.rounding), func(t *testing.T) {
			rule := base
			rule.Rounding = tt.rounding
			got, err := ComputeNewValue("19.50", rule, models.Increase)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeNewValue_Nearest00NeverBelowFloor(t *testing.T) {
	rule := models.PriceRule{Type: models.RuleFixed, Value: "5", Rounding: models.RoundNearest00}

	got, err := ComputeNewValue("1.00", rule, models.Decrease)
	require.NoError(t, err)
	assert.Equal(t, "0.01", got)
}

func TestComputeNewValue_NoRoundingKeepsCents(t *testing.T) {
	rule := models.PriceRule{Type: models.RulePercentage, Value: "10"}

	got, err := ComputeNewValue("19.99", rule, models.Increase)
	require.NoError(t, err)
	assert.Equal(t, "21.99", got) // 21.989 rounded to cents
}

func TestComputeNewValue_InvalidInput(t *testing.T) {
	_, err := ComputeNewValue("abc", models.PriceRule{Type: models.RuleFixed, Value: "1"}, models.Increase)
	assert.Error(t, err)

	_, err = ComputeNewValue("10", models.PriceRule{Type: models.RuleFixed, Value: "0"}, models.Increase)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(models.PriceRule{Type: models.RulePercentage, Value: "5"}))
	assert.ErrorIs(t, Validate(models.PriceRule{Type: "bogus", Value: "5"}), ErrInvalidRule)
	assert.ErrorIs(t, Validate(models.PriceRule{Type: models.RuleFixed, Value: "-1"}), ErrInvalidRule)
	assert.ErrorIs(t, Validate(models.PriceRule{Type: models.RuleFixed, Value: "1", Rounding: "nearest_50"}), ErrInvalidRule)
	assert.ErrorIs(t, Validate(models.PriceRule{Type: models.RuleFixed, Value: "1", ApplyTo: "cost"}), ErrInvalidRule)
}

func TestEvaluate_IndependentPerField(t *testing.T) {
	rule := models.PriceRule{Type: models.RulePercentage, Value: "10", ApplyTo: models.ApplyToBoth, Rounding: models.RoundNearest95}

	price := Evaluate(decimal.RequireFromString("50"), rule, models.Increase)
	compare := Evaluate(decimal.RequireFromString("70"), rule, models.Increase)

	assert.Equal(t, "55.95", Format(price))
	assert.Equal(t, "77.95", Format(compare))
}

func TestDiscounted(t *testing.T) {
	assert.Equal(t, "80.00", Format(Discounted(decimal.RequireFromString("100"), decimal.NewFromInt(20))))
	assert.Equal(t, "13.33", Format(Discounted(decimal.RequireFromString("19.99"), decimal.RequireFromString("33.3"))))
	assert.Equal(t, "0.01", Format(Discounted(decimal.RequireFromString("0.01"), decimal.NewFromInt(99))))
}
