package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	orderColumns = `id, user_id, items, shipping_address, payment_method, payment_status, order_status,
		payment_ref, previous_payment_refs, payment_id, subtotal, discount, tax, delivery_fee, total, coupon_code,
		stock_deducted, paid_at, cancelled_at, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, user_id, items, shipping_address, payment_method,
		payment_status, order_status, payment_ref, previous_payment_refs, payment_id, subtotal, discount, tax,
		delivery_fee, total, coupon_code, stock_deducted, paid_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING created_at, updated_at`

	updateOrderSQL = `UPDATE orders SET payment_status = $2, order_status = $3, payment_ref = $4,
		previous_payment_refs = $5, payment_id = $6, stock_deducted = $7, paid_at = $8, cancelled_at = $9,
		updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	getOrderSQL        = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	lockOrderSQL       = getOrderSQL + ` FOR UPDATE`
	lockOrderByRefSQL  = `SELECT ` + orderColumns + ` FROM orders
		WHERE $1 <> '' AND (payment_ref = $1 OR previous_payment_refs @> ARRAY[$1]) FOR UPDATE`
	recentOrdersSQL    = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id LIMIT $1`
	revenueSQL         = `SELECT COALESCE(sum(total), 0) FROM orders WHERE payment_status = 'paid' AND order_status <> 'cancelled'`
	ordersByStatusSQL  = `SELECT order_status, count(*) FROM orders GROUP BY order_status`
	ordersByPaymentSQL = `SELECT payment_status, count(*) FROM orders GROUP BY payment_status`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store and the dashboard order aggregates
// backed by PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// InTx runs fn in a transaction. Locks taken through the Tx are held until
// fn returns.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &orderTx{tx: tx})
	})
}

func (s *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, s.pool, getOrderSQL, id)
}

func (s *OrderStore) ListByUser(ctx context.Context, userID string, page, limit int) ([]order.Order, int, error) {
	return s.List(ctx, order.Filter{UserID: userID, Page: page, Limit: limit})
}

// List returns one page of orders, newest first, and the total match count.
func (s *OrderStore) List(ctx context.Context, f order.Filter) ([]order.Order, int, error) {
	f.Normalize()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.UserID != "" {
		where = append(where, "user_id = "+arg(f.UserID))
	}
	if f.Status != "" {
		where = append(where, "order_status = "+arg(string(f.Status)))
	}
	if f.PaymentStatus != "" {
		where = append(where, "payment_status = "+arg(string(f.PaymentStatus)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM orders"+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	query := "SELECT " + orderColumns + " FROM orders" + cond +
		" ORDER BY created_at DESC, id LIMIT " + arg(f.Limit) + " OFFSET " + arg(f.Offset())
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	return orders, total, nil
}

// Revenue sums totals of paid orders that were not cancelled.
func (s *OrderStore) Revenue(ctx context.Context) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := s.pool.QueryRow(ctx, revenueSQL).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("summing revenue: %w", err)
	}
	return sum, nil
}

func (s *OrderStore) CountByStatus(ctx context.Context) (map[order.Status]int, error) {
	return countBy[order.Status](ctx, s.pool, ordersByStatusSQL)
}

func (s *OrderStore) CountByPaymentStatus(ctx context.Context) (map[order.PaymentStatus]int, error) {
	return countBy[order.PaymentStatus](ctx, s.pool, ordersByPaymentSQL)
}

func (s *OrderStore) Recent(ctx context.Context, limit int) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, recentOrdersSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func countBy[K ~string](ctx context.Context, q querier, query string) (map[K]int, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("counting orders: %w", err)
	}
	out := make(map[K]int)
	var (
		key string
		n   int
	)
	_, err = pgx.ForEachRow(rows, []any{&key, &n}, func() error {
		out[K(key)] = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("counting orders: %w", err)
	}
	return out, nil
}

// orderTx implements order.Tx on a pgx transaction.
type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) Cart(ctx context.Context, userID string) (*cart.Cart, error) {
	return loadCart(ctx, t.tx, userID, lockCartSQL)
}

func (t *orderTx) ClearCart(ctx context.Context, userID string) error {
	return clearCart(ctx, t.tx, userID)
}

// LockProducts locks rows in ID order so concurrent checkouts of
// overlapping carts cannot deadlock.
func (t *orderTx) LockProducts(ctx context.Context, ids []string) (map[string]product.Product, error) {
	rows, err := t.tx.Query(ctx, lockProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	out := make(map[string]product.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func (t *orderTx) AdjustStock(ctx context.Context, productID string, delta int) error {
	var stock int
	err := t.tx.QueryRow(ctx, adjustStockSQL, productID, delta).Scan(&stock)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("adjusting stock of %q: %w", productID, err)
	}

	var (
		name      string
		available int
	)
	err = t.tx.QueryRow(ctx, `SELECT name, stock FROM products WHERE id = $1`, productID).Scan(&name, &available)
	if errors.Is(err, pgx.ErrNoRows) {
		return product.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("adjusting stock of %q: %w", productID, err)
	}
	return &product.InsufficientStockError{ProductID: productID, Name: name, Requested: -delta, Available: available}
}

func (t *orderTx) Coupon(ctx context.Context, code string) (*coupon.Rule, error) {
	return findCoupon(ctx, t.tx, lockCouponByCodeSQL, code)
}

func (t *orderTx) RedeemCoupon(ctx context.Context, code string) error {
	tag, err := t.tx.Exec(ctx, redeemCouponSQL, coupon.NormalizeCode(code))
	if err != nil {
		return fmt.Errorf("redeeming coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrCouponUsageLimitReached
	}
	return nil
}

func (t *orderTx) Create(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}

	err = t.tx.QueryRow(ctx, createOrderSQL,
		o.ID, o.UserID, items, address, string(o.PaymentMethod), string(o.PaymentStatus), string(o.Status),
		o.PaymentRef, textArray(o.PreviousPaymentRefs), o.PaymentID, o.Subtotal, o.Discount, o.Tax, o.DeliveryFee,
		o.Total, o.CouponCode, o.StockDeducted, o.PaidAt, o.CancelledAt,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func (t *orderTx) Lock(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, t.tx, lockOrderSQL, id)
}

func (t *orderTx) LockByPaymentRef(ctx context.Context, ref string) (*order.Order, error) {
	return getOrder(ctx, t.tx, lockOrderByRefSQL, ref)
}

// Update persists the mutable state of o. Items and amounts are immutable
// once the order is placed.
func (t *orderTx) Update(ctx context.Context, o *order.Order) error {
	err := t.tx.QueryRow(ctx, updateOrderSQL,
		o.ID, string(o.PaymentStatus), string(o.Status), o.PaymentRef, textArray(o.PreviousPaymentRefs),
		o.PaymentID, o.StockDeducted, o.PaidAt, o.CancelledAt,
	).Scan(&o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotFound
		}
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	return nil
}

func getOrder(ctx context.Context, q querier, query, arg string) (*order.Order, error) {
	rows, err := q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                            order.Order
		items, address               []byte
		method, payStatus, ordStatus string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &items, &address, &method, &payStatus, &ordStatus,
		&o.PaymentRef, &o.PreviousPaymentRefs, &o.PaymentID, &o.Subtotal, &o.Discount, &o.Tax, &o.DeliveryFee, &o.Total, &o.CouponCode,
		&o.StockDeducted, &o.PaidAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.PaymentMethod = order.PaymentMethod(method)
	o.PaymentStatus = order.PaymentStatus(payStatus)
	o.Status = order.Status(ordStatus)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return o, fmt.Errorf("unmarshaling shipping address: %w", err)
	}
	return o, nil
}

// textArray keeps NOT NULL array columns from receiving NULL for nil slices.
func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
