// Package category holds the catalog grouping used by products.
package category

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a category does not exist.
	ErrNotFound = errors.New("category not found")
	// ErrDuplicate is returned when a category slug is already taken.
	ErrDuplicate = errors.New("category already exists")
	// ErrInUse is returned when deleting a category that still has products.
	ErrInUse = errors.New("category has products")
	// ErrInvalid is returned when a category fails validation.
	ErrInvalid = errors.New("invalid category")
)

// Category groups products in the storefront.
type Category struct {
	ID          string
	Name        string
	Slug        string
	Description string
	CreatedAt   time.Time
}

// Normalize trims the name and derives a slug when none is set.
func (c *Category) Normalize() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return errors.Wrap(ErrInvalid, "name is required")
	}
	if c.Slug == "" {
		c.Slug = Slugify(c.Name)
	}
	if c.Slug == "" {
		return errors.Wrap(ErrInvalid, "slug is empty")
	}
	return nil
}

// Slugify lower-cases s and joins alphanumeric runs with dashes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Repository defines persistence operations for categories.
type Repository interface {
	List(ctx context.Context) ([]Category, error)
	GetByID(ctx context.Context, id string) (*Category, error)
	Create(ctx context.Context, c *Category) error
	Update(ctx context.Context, c *Category) error
	Delete(ctx context.Context, id string) error
}
