package coupon

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate is the single eligibility routine shared by coupon previews and
// order placement. It checks activity, the validity window, usage limit and
// minimum purchase, then computes the discount for subtotal.
func Evaluate(rule *Rule, subtotal decimal.Decimal, now time.Time) (Discount, error) {
	if rule == nil || !rule.Active {
		return Discount{}, ErrInvalidCoupon
	}
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return Discount{}, ErrCouponExpired
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return Discount{}, ErrCouponExpired
	}
	if rule.UsageLimit > 0 && rule.UsedCount >= rule.UsageLimit {
		return Discount{}, ErrCouponUsageLimitReached
	}
	if rule.MinPurchase.IsPositive() && subtotal.LessThan(rule.MinPurchase) {
		return Discount{}, &MinimumPurchaseError{
			Code:     rule.Code,
			Minimum:  rule.MinPurchase,
			Subtotal: subtotal,
		}
	}

	return Discount{
		Code:        rule.Code,
		Amount:      amount(rule, subtotal),
		Description: rule.Description,
	}, nil
}

func amount(rule *Rule, subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}

	var d decimal.Decimal
	switch rule.DiscountType {
	case DiscountPercentage:
		d = subtotal.Mul(rule.Value).Div(hundred)
		if rule.MaxDiscount.IsPositive() {
			d = decimal.Min(d, rule.MaxDiscount)
		}
	case DiscountFixed:
		d = rule.Value
	}

	d = decimal.Min(d, subtotal)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}
