package product

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInvalidProduct is returned when a product fails validation.
	ErrInvalidProduct = errors.New("invalid product")
	// ErrDuplicate is returned when a product slug is already taken.
	ErrDuplicate = errors.New("product already exists")
)

// InsufficientStockError indicates that a product cannot cover the requested quantity.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

// UnavailableError indicates that a product exists but is not for sale.
type UnavailableError struct {
	ProductID string
	Name      string
}

func (e *UnavailableError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("product %s is no longer available", name)
}

// Product represents a catalog item available for purchase.
type Product struct {
	ID            string
	CategoryID    string
	Name          string
	Slug          string
	Description   string
	Price         decimal.Decimal
	DiscountPrice decimal.Decimal
	Stock         int
	Sizes         []string
	Colors        []string
	Images        []string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EffectivePrice returns the discounted price when a valid discount is set,
// otherwise the list price.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice.IsPositive() && p.DiscountPrice.LessThan(p.Price) {
		return p.DiscountPrice
	}
	return p.Price
}

// OffersSize reports whether size is a valid choice. Products without sizes
// accept only the empty size.
func (p *Product) OffersSize(size string) bool {
	if len(p.Sizes) == 0 {
		return size == ""
	}
	return slices.Contains(p.Sizes, size)
}

// OffersColor reports whether color is a valid choice. Products without
// colors accept only the empty color.
func (p *Product) OffersColor(color string) bool {
	if len(p.Colors) == 0 {
		return color == ""
	}
	return slices.Contains(p.Colors, color)
}

// Thumbnail returns the first image or an empty string.
func (p *Product) Thumbnail() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Validate checks the invariants of a product before it is persisted.
func (p *Product) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return errors.Wrap(ErrInvalidProduct, "name is required")
	case !p.Price.IsPositive():
		return errors.Wrap(ErrInvalidProduct, "price must be greater than 0")
	case p.DiscountPrice.IsNegative():
		return errors.Wrap(ErrInvalidProduct, "discount price must not be negative")
	case p.DiscountPrice.IsPositive() && !p.DiscountPrice.LessThan(p.Price):
		return errors.Wrap(ErrInvalidProduct, "discount price must be lower than price")
	case p.Stock < 0:
		return errors.Wrap(ErrInvalidProduct, "stock must not be negative")
	}
	return nil
}

// Sort enumerates the supported catalog orderings.
type Sort string

const (
	SortNewest    Sort = "newest"
	SortPriceAsc  Sort = "price_asc"
	SortPriceDesc Sort = "price_desc"
	SortName      Sort = "name"
)

// Filter narrows a catalog listing.
type Filter struct {
	CategoryID string
	Search     string
	MinPrice   decimal.NullDecimal
	MaxPrice   decimal.NullDecimal
	ActiveOnly bool
	Sort       Sort
	Page       int
	Limit      int
}

// Normalize clamps paging values to sane defaults.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	switch f.Sort {
	case SortNewest, SortPriceAsc, SortPriceDesc, SortName:
	default:
		f.Sort = SortNewest
	}
}

// Offset returns the row offset for the current page.
func (f *Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Repository defines persistence operations for the product catalog.
type Repository interface {
	List(ctx context.Context, f Filter) ([]Product, int, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
	Delete(ctx context.Context, id string) error
	AddImage(ctx context.Context, id, url string) error
	LowStock(ctx context.Context, threshold, limit int) ([]Product, error)
}
