package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_Amounts(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		rule     Rule
		subtotal string
		want     string
	}{
		{
			name:     "percentage",
			rule:     Rule{DiscountType: DiscountPercentage, Value: decimal.NewFromInt(18)},
			subtotal: "50.00",
			want:     "9.00",
		},
		{
			name:     "percentage rounds to cents",
			rule:     Rule{DiscountType: DiscountPercentage, Value: decimal.NewFromInt(15)},
			subtotal: "19.99",
			want:     "3.00",
		},
		{
			name: "percentage capped by max discount",
			rule: Rule{
				DiscountType: DiscountPercentage, Value: decimal.NewFromInt(50),
				MaxDiscount: decimal.NewFromInt(20),
			},
			subtotal: "100.00",
			want:     "20.00",
		},
		{
			name:     "fixed below subtotal",
			rule:     Rule{DiscountType: DiscountFixed, Value: decimal.NewFromInt(9)},
			subtotal: "30.00",
			want:     "9.00",
		},
		{
			name:     "fixed capped at subtotal",
			rule:     Rule{DiscountType: DiscountFixed, Value: decimal.NewFromInt(90)},
			subtotal: "30.00",
			want:     "30.00",
		},
		{
			name:     "zero subtotal gives zero",
			rule:     Rule{DiscountType: DiscountFixed, Value: decimal.NewFromInt(9)},
			subtotal: "0",
			want:     "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.rule.Code = "X"
			tt.rule.Active = true
			d, err := Evaluate(&tt.rule, decimal.RequireFromString(tt.subtotal), now)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(d.Amount), "got %s", d.Amount)
		})
	}
}

func TestEvaluate_MinimumPurchase(t *testing.T) {
	rule := &Rule{
		Code:         "BIG",
		DiscountType: DiscountFixed,
		Value:        decimal.NewFromInt(10),
		MinPurchase:  decimal.NewFromInt(100),
		Active:       true,
	}

	_, err := Evaluate(rule, decimal.NewFromInt(99), time.Now())
	var mpErr *MinimumPurchaseError
	require.ErrorAs(t, err, &mpErr)
	assert.Equal(t, "BIG", mpErr.Code)
	assert.Contains(t, mpErr.Error(), "100.00")

	d, err := Evaluate(rule, decimal.NewFromInt(100), time.Now())
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(d.Amount))
}

func TestRuleValidate(t *testing.T) {
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(-time.Hour)

	ok := Rule{Code: " spring ", DiscountType: DiscountPercentage, Value: decimal.NewFromInt(20)}
	require.NoError(t, ok.Validate())
	assert.Equal(t, "SPRING", ok.Code)

	bad := []Rule{
		{DiscountType: DiscountPercentage, Value: decimal.NewFromInt(20)},
		{Code: "A", DiscountType: "bogo", Value: decimal.NewFromInt(1)},
		{Code: "A", DiscountType: DiscountFixed, Value: decimal.Zero},
		{Code: "A", DiscountType: DiscountPercentage, Value: decimal.NewFromInt(101)},
		{Code: "A", DiscountType: DiscountFixed, Value: decimal.NewFromInt(1), UsageLimit: -1},
		{Code: "A", DiscountType: DiscountFixed, Value: decimal.NewFromInt(1), ValidFrom: &from, ValidUntil: &until},
	}
	for i := range bad {
		require.ErrorIs(t, bad[i].Validate(), ErrInvalidRule, "case %d", i)
	}
}
