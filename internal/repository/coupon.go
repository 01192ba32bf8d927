package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const (
	couponColumns = `code, description, discount_type, value, min_purchase, max_discount,
		valid_from, valid_until, usage_limit, used_count, active, created_at`

	getCouponByCodeSQL  = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`
	lockCouponByCodeSQL = getCouponByCodeSQL + ` FOR UPDATE`
	listCouponsSQL      = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC, code`

	createCouponSQL = `INSERT INTO coupons (code, description, discount_type, value, min_purchase,
		max_discount, valid_from, valid_until, usage_limit, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING used_count, created_at`

	updateCouponSQL = `UPDATE coupons SET description = $2, discount_type = $3, value = $4,
		min_purchase = $5, max_discount = $6, valid_from = $7, valid_until = $8,
		usage_limit = $9, active = $10
		WHERE code = $1
		RETURNING used_count, created_at`

	upsertCouponSQL = `INSERT INTO coupons (code, description, discount_type, value, min_purchase,
		max_discount, valid_from, valid_until, usage_limit, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
			min_purchase = EXCLUDED.min_purchase, max_discount = EXCLUDED.max_discount,
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
			usage_limit = EXCLUDED.usage_limit, active = EXCLUDED.active`

	deleteCouponSQL = `DELETE FROM coupons WHERE code = $1`

	redeemCouponSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE code = $1 AND (usage_limit = 0 OR used_count < usage_limit)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its normalized code. Inactive coupons are
// returned too; coupon.Evaluate rejects them.
// Returns coupon.ErrInvalidCoupon when no coupon matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	return findCoupon(ctx, r.pool, getCouponByCodeSQL, code)
}

func (r *CouponRepository) List(ctx context.Context) ([]coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCouponRule)
}

func (r *CouponRepository) Create(ctx context.Context, rule *coupon.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	err := r.pool.QueryRow(ctx, createCouponSQL, couponArgs(rule)...).Scan(&rule.UsedCount, &rule.CreatedAt)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return coupon.ErrDuplicate
		}
		return fmt.Errorf("creating coupon %q: %w", rule.Code, err)
	}
	return nil
}

// Update replaces the definition of an existing coupon. The usage counter
// is left untouched.
func (r *CouponRepository) Update(ctx context.Context, rule *coupon.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	err := r.pool.QueryRow(ctx, updateCouponSQL, couponArgs(rule)...).Scan(&rule.UsedCount, &rule.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.ErrNotFound
		}
		if pgCode(err) == codeCheckViolation {
			return errors.Wrap(coupon.ErrInvalidRule, "usage limit is below the current usage")
		}
		return fmt.Errorf("updating coupon %q: %w", rule.Code, err)
	}
	return nil
}

func (r *CouponRepository) Delete(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, coupon.NormalizeCode(code))
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Upsert creates or redefines coupons in a single batch and returns the
// number of rows written.
func (r *CouponRepository) Upsert(ctx context.Context, rules []coupon.Rule) (int, error) {
	batch := &pgx.Batch{}
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return 0, err
		}
		batch.Queue(upsertCouponSQL, couponArgs(&rules[i])...)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("upserting coupons: %w", err)
	}
	return len(rules), nil
}

func findCoupon(ctx context.Context, q querier, query, code string) (*coupon.Rule, error) {
	code = coupon.NormalizeCode(code)
	rows, err := q.Query(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &rule, nil
}

func couponArgs(r *coupon.Rule) []any {
	return []any{
		r.Code, r.Description, string(r.DiscountType), r.Value, r.MinPurchase,
		r.MaxDiscount, r.ValidFrom, r.ValidUntil, r.UsageLimit, r.Active,
	}
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
	)
	err := row.Scan(
		&rule.Code, &rule.Description, &discountType, &rule.Value, &rule.MinPurchase, &rule.MaxDiscount,
		&rule.ValidFrom, &rule.ValidUntil, &rule.UsageLimit, &rule.UsedCount, &rule.Active, &rule.CreatedAt,
	)
	rule.DiscountType = coupon.DiscountType(discountType)
	return rule, err
}
