package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/category"
)

const (
	listCategoriesSQL  = `SELECT id, name, slug, description, created_at FROM categories ORDER BY name, id`
	getCategoryByIDSQL = `SELECT id, name, slug, description, created_at FROM categories WHERE id = $1`
	createCategorySQL  = `INSERT INTO categories (id, name, slug, description) VALUES ($1, $2, $3, $4) RETURNING created_at`
	updateCategorySQL  = `UPDATE categories SET name = $2, slug = $3, description = $4 WHERE id = $1 RETURNING created_at`
	deleteCategorySQL  = `DELETE FROM categories WHERE id = $1`
	categoryInUseSQL   = `SELECT EXISTS (SELECT 1 FROM products WHERE category_id = $1)`
)

var _ category.Repository = (*CategoryRepository)(nil)

// CategoryRepository implements category.Repository backed by PostgreSQL.
type CategoryRepository struct {
	pool *pgxpool.Pool
}

// NewCategoryRepository returns a CategoryRepository that uses the given pool.
func NewCategoryRepository(pool *pgxpool.Pool) *CategoryRepository {
	return &CategoryRepository{pool: pool}
}

func (r *CategoryRepository) List(ctx context.Context) ([]category.Category, error) {
	rows, err := r.pool.Query(ctx, listCategoriesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return pgx.CollectRows(rows, scanCategory)
}

func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*category.Category, error) {
	rows, err := r.pool.Query(ctx, getCategoryByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting category %q: %w", id, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCategory)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, category.ErrNotFound
		}
		return nil, fmt.Errorf("getting category %q: %w", id, err)
	}
	return &c, nil
}

func (r *CategoryRepository) Create(ctx context.Context, c *category.Category) error {
	if err := c.Normalize(); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	err := r.pool.QueryRow(ctx, createCategorySQL, c.ID, c.Name, c.Slug, c.Description).Scan(&c.CreatedAt)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return category.ErrDuplicate
		}
		return fmt.Errorf("creating category %q: %w", c.Name, err)
	}
	return nil
}

func (r *CategoryRepository) Update(ctx context.Context, c *category.Category) error {
	if err := c.Normalize(); err != nil {
		return err
	}
	err := r.pool.QueryRow(ctx, updateCategorySQL, c.ID, c.Name, c.Slug, c.Description).Scan(&c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return category.ErrNotFound
		}
		if pgCode(err) == codeUniqueViolation {
			return category.ErrDuplicate
		}
		return fmt.Errorf("updating category %q: %w", c.ID, err)
	}
	return nil
}

// Delete removes a category that no product references.
func (r *CategoryRepository) Delete(ctx context.Context, id string) error {
	var inUse bool
	if err := r.pool.QueryRow(ctx, categoryInUseSQL, id).Scan(&inUse); err != nil {
		return fmt.Errorf("checking category %q usage: %w", id, err)
	}
	if inUse {
		return category.ErrInUse
	}

	tag, err := r.pool.Exec(ctx, deleteCategorySQL, id)
	if err != nil {
		// A product may have been assigned between the check and the delete.
		if pgCode(err) == codeForeignKeyViolation {
			return category.ErrInUse
		}
		return fmt.Errorf("deleting category %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return category.ErrNotFound
	}
	return nil
}

func scanCategory(row pgx.CollectableRow) (category.Category, error) {
	var c category.Category
	err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.CreatedAt)
	return c, err
}
