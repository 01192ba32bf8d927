package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validator previews a coupon against a subtotal without redeeming it.
type Validator interface {
	Preview(ctx context.Context, code string, subtotal decimal.Decimal) (*Discount, error)
}

var _ Validator = (*RepoValidator)(nil)

// RepoValidator implements Validator by looking up coupon rules from a
// Repository and evaluating them with Evaluate.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Preview looks up the rule for code and evaluates it. Usage counters are
// only incremented when an order is placed.
func (v *RepoValidator) Preview(ctx context.Context, code string, subtotal decimal.Decimal) (*Discount, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInvalidCoupon
	}

	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	d, err := Evaluate(rule, subtotal, v.now())
	if err != nil {
		return nil, err
	}
	return &d, nil
}
