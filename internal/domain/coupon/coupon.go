package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is unknown or inactive.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrNotFound is returned when an admin operation targets an unknown code.
	ErrNotFound = errors.New("coupon not found")
	// ErrDuplicate is returned when creating a coupon whose code already exists.
	ErrDuplicate = errors.New("coupon already exists")
	// ErrInvalidRule is returned when a coupon definition fails validation.
	ErrInvalidRule = errors.New("invalid coupon definition")
)

// MinimumPurchaseError indicates the cart subtotal is below the coupon minimum.
type MinimumPurchaseError struct {
	Code     string
	Minimum  decimal.Decimal
	Subtotal decimal.Decimal
}

func (e *MinimumPurchaseError) Error() string {
	return fmt.Sprintf("coupon %s requires a minimum purchase of %s", e.Code, e.Minimum.StringFixed(2))
}

// Rule defines a coupon's discount behaviour and eligibility constraints.
type Rule struct {
	Code         string
	Description  string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinPurchase  decimal.Decimal
	MaxDiscount  decimal.Decimal
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	UsageLimit   int
	UsedCount    int
	Active       bool
	CreatedAt    time.Time
}

// NormalizeCode canonicalizes a coupon code for storage and lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks a coupon definition before it is persisted.
func (r *Rule) Validate() error {
	r.Code = NormalizeCode(r.Code)
	switch {
	case r.Code == "":
		return errors.Wrap(ErrInvalidRule, "code is required")
	case r.DiscountType != DiscountPercentage && r.DiscountType != DiscountFixed:
		return errors.Wrapf(ErrInvalidRule, "unsupported discount type %q", r.DiscountType)
	case !r.Value.IsPositive():
		return errors.Wrap(ErrInvalidRule, "value must be greater than 0")
	case r.DiscountType == DiscountPercentage && r.Value.GreaterThan(hundred):
		return errors.Wrap(ErrInvalidRule, "percentage must not exceed 100")
	case r.MinPurchase.IsNegative() || r.MaxDiscount.IsNegative():
		return errors.Wrap(ErrInvalidRule, "amounts must not be negative")
	case r.UsageLimit < 0:
		return errors.Wrap(ErrInvalidRule, "usage limit must not be negative")
	case r.ValidFrom != nil && r.ValidUntil != nil && r.ValidUntil.Before(*r.ValidFrom):
		return errors.Wrap(ErrInvalidRule, "valid_until is before valid_from")
	}
	return nil
}

// Discount holds the computed discount amount and a human-readable description.
type Discount struct {
	Code        string
	Amount      decimal.Decimal
	Description string
}

// Repository provides lookup and mutation of coupon rules.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	List(ctx context.Context) ([]Rule, error)
	Create(ctx context.Context, r *Rule) error
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, code string) error
}
