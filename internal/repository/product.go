package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/category"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	productColumns = `id, category_id, name, slug, description, price, discount_price, stock,
		sizes, colors, images, is_active, created_at, updated_at`

	effectivePriceSQL = `(CASE WHEN discount_price > 0 AND discount_price < price THEN discount_price ELSE price END)`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`

	lockProductsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	createProductSQL = `INSERT INTO products (id, category_id, name, slug, description, price, discount_price,
		stock, sizes, colors, images, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	updateProductSQL = `UPDATE products SET category_id = $2, name = $3, slug = $4, description = $5,
		price = $6, discount_price = $7, stock = $8, sizes = $9, colors = $10, images = $11,
		is_active = $12, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`

	deleteProductSQL = `DELETE FROM products WHERE id = $1`

	addProductImageSQL = `UPDATE products SET images = array_append(images, $2), updated_at = now() WHERE id = $1`

	lowStockSQL = `SELECT ` + productColumns + ` FROM products
		WHERE is_active AND stock <= $1 ORDER BY stock, name LIMIT $2`

	adjustStockSQL = `UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING stock`
)

var productSorts = map[product.Sort]string{
	product.SortNewest:    "created_at DESC, id",
	product.SortPriceAsc:  effectivePriceSQL + " ASC, id",
	product.SortPriceDesc: effectivePriceSQL + " DESC, id",
	product.SortName:      "name ASC, id",
}

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns one page of products matching f and the total match count.
func (r *ProductRepository) List(ctx context.Context, f product.Filter) ([]product.Product, int, error) {
	f.Normalize()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ActiveOnly {
		where = append(where, "is_active")
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = "+arg(f.CategoryID))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := arg("%" + escapeLike(s) + "%")
		where = append(where, "(name ILIKE "+p+" OR description ILIKE "+p+")")
	}
	if f.MinPrice.Valid {
		where = append(where, effectivePriceSQL+" >= "+arg(f.MinPrice.Decimal))
	}
	if f.MaxPrice.Valid {
		where = append(where, effectivePriceSQL+" <= "+arg(f.MaxPrice.Decimal))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT count(*) FROM products"+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting products: %w", err)
	}

	query := "SELECT " + productColumns + " FROM products" + cond +
		" ORDER BY " + productSorts[f.Sort] +
		" LIMIT " + arg(f.Limit) + " OFFSET " + arg(f.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, 0, fmt.Errorf("listing products: %w", err)
	}
	return products, total, nil
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Create inserts p, assigning an ID and slug when they are empty.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Slug == "" {
		p.Slug = productSlug(p)
	}

	err := r.pool.QueryRow(ctx, createProductSQL, productArgs(p)...).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return mapProductErr(err, "creating product %q", p.Name)
	}
	return nil
}

// Update overwrites all mutable columns of p.
func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Slug == "" {
		p.Slug = productSlug(p)
	}

	err := r.pool.QueryRow(ctx, updateProductSQL, productArgs(p)...).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return product.ErrNotFound
		}
		return mapProductErr(err, "updating product %q", p.ID)
	}
	return nil
}

// Delete removes a product. Cart lines holding it are removed with it;
// placed orders keep their item snapshots.
func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteProductSQL, id)
	if err != nil {
		return fmt.Errorf("deleting product %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// AddImage appends an image URL to the product gallery.
func (r *ProductRepository) AddImage(ctx context.Context, id, url string) error {
	tag, err := r.pool.Exec(ctx, addProductImageSQL, id, url)
	if err != nil {
		return fmt.Errorf("adding image to product %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// LowStock returns active products with stock at or below threshold.
func (r *ProductRepository) LowStock(ctx context.Context, threshold, limit int) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, lowStockSQL, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("listing low stock products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// productSlug suffixes the name slug with the start of the ID so that
// products sharing a name do not collide.
func productSlug(p *product.Product) string {
	id := strings.ReplaceAll(p.ID, "-", "")
	return category.Slugify(p.Name) + "-" + id[:min(8, len(id))]
}

func productArgs(p *product.Product) []any {
	return []any{
		p.ID, nullString(p.CategoryID), p.Name, p.Slug, p.Description, p.Price, p.DiscountPrice,
		p.Stock, nonNil(p.Sizes), nonNil(p.Colors), nonNil(p.Images), p.IsActive,
	}
}

func mapProductErr(err error, format string, args ...any) error {
	switch pgCode(err) {
	case codeUniqueViolation:
		return product.ErrDuplicate
	case codeForeignKeyViolation:
		return errors.Wrap(product.ErrInvalidProduct, "unknown category")
	case codeCheckViolation:
		return errors.Wrap(product.ErrInvalidProduct, err.Error())
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p          product.Product
		categoryID *string
	)
	err := row.Scan(
		&p.ID, &categoryID, &p.Name, &p.Slug, &p.Description, &p.Price, &p.DiscountPrice, &p.Stock,
		&p.Sizes, &p.Colors, &p.Images, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if categoryID != nil {
		p.CategoryID = *categoryID
	}
	return p, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
