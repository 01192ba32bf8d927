package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
)

const (
	ensureCartSQL = `INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`
	getCartSQL    = `SELECT updated_at FROM carts WHERE user_id = $1`
	lockCartSQL   = getCartSQL + ` FOR UPDATE`

	listCartItemsSQL = `SELECT id, product_id, name, image, quantity, size, color, unit_price, unit_discount_price
		FROM cart_items WHERE user_id = $1 ORDER BY position, id`

	deleteCartItemsSQL = `DELETE FROM cart_items WHERE user_id = $1`

	insertCartItemSQL = `INSERT INTO cart_items (id, user_id, product_id, name, image, quantity, size, color,
		unit_price, unit_discount_price, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	touchCartSQL = `UPDATE carts SET updated_at = now() WHERE user_id = $1 RETURNING updated_at`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the user's cart, creating an empty one on first access.
func (r *CartRepository) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	return loadCart(ctx, r.pool, userID, getCartSQL)
}

// Update reads the cart under the same row lock checkout takes, so a
// mutation never resurrects lines an order has already cleared.
func (r *CartRepository) Update(ctx context.Context, userID string, fn func(c *cart.Cart) error) (*cart.Cart, error) {
	var c *cart.Cart
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cur, err := loadCart(ctx, tx, userID, lockCartSQL)
		if err != nil {
			return err
		}
		if err := fn(cur); err != nil {
			return err
		}
		if err := writeCart(ctx, tx, cur); err != nil {
			return err
		}
		c = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Clear removes every line of the cart.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	return clearCart(ctx, r.pool, userID)
}

func writeCart(ctx context.Context, tx pgx.Tx, c *cart.Cart) error {
	if _, err := tx.Exec(ctx, deleteCartItemsSQL, c.UserID); err != nil {
		return fmt.Errorf("replacing cart items of %q: %w", c.UserID, err)
	}

	batch := &pgx.Batch{}
	for i, it := range c.Items {
		batch.Queue(insertCartItemSQL,
			it.ID, c.UserID, it.ProductID, it.Name, it.Image, it.Quantity, it.Size, it.Color,
			it.UnitPrice, it.UnitDiscountPrice, i,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting cart items of %q: %w", c.UserID, err)
		}
	}
	if err := tx.QueryRow(ctx, touchCartSQL, c.UserID).Scan(&c.UpdatedAt); err != nil {
		return fmt.Errorf("touching cart of %q: %w", c.UserID, err)
	}
	return nil
}

func clearCart(ctx context.Context, q querier, userID string) error {
	if _, err := q.Exec(ctx, deleteCartItemsSQL, userID); err != nil {
		return fmt.Errorf("clearing cart of %q: %w", userID, err)
	}
	if _, err := q.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clearing cart of %q: %w", userID, err)
	}
	return nil
}

// loadCart creates the cart row when missing and reads it with query,
// which may lock it.
func loadCart(ctx context.Context, q querier, userID, query string) (*cart.Cart, error) {
	if _, err := q.Exec(ctx, ensureCartSQL, userID); err != nil {
		return nil, fmt.Errorf("creating cart of %q: %w", userID, err)
	}
	c := &cart.Cart{UserID: userID}
	if err := q.QueryRow(ctx, query, userID).Scan(&c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("getting cart of %q: %w", userID, err)
	}
	items, err := cartItems(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	c.Items = items
	return c, nil
}

func cartItems(ctx context.Context, q querier, userID string) ([]cart.Item, error) {
	rows, err := q.Query(ctx, listCartItemsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart items of %q: %w", userID, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		err := row.Scan(&it.ID, &it.ProductID, &it.Name, &it.Image, &it.Quantity, &it.Size, &it.Color,
			&it.UnitPrice, &it.UnitDiscountPrice)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing cart items of %q: %w", userID, err)
	}
	return items, nil
}
