// Package cart holds the per-user shopping cart. Line prices are snapshots
// taken when an item is added; checkout re-prices against the live catalog.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrItemNotFound is returned when a cart line does not exist.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	// ErrInvalidVariant is returned when a size or color is not offered.
	ErrInvalidVariant = errors.New("size or color not offered for product")
	// ErrEmpty is returned when checking out an empty cart.
	ErrEmpty = errors.New("cart is empty")
)

// Item is a single cart line.
type Item struct {
	ID                string
	ProductID         string
	Name              string
	Image             string
	Quantity          int
	Size              string
	Color             string
	UnitPrice         decimal.Decimal
	UnitDiscountPrice decimal.Decimal
}

// EffectiveUnitPrice returns the snapshot discount price when it applies.
func (i *Item) EffectiveUnitPrice() decimal.Decimal {
	if i.UnitDiscountPrice.IsPositive() && i.UnitDiscountPrice.LessThan(i.UnitPrice) {
		return i.UnitDiscountPrice
	}
	return i.UnitPrice
}

// Matches reports whether the line holds the given product variant.
func (i *Item) Matches(productID, size, color string) bool {
	return i.ProductID == productID && i.Size == size && i.Color == color
}

// Cart is the single active cart of a user.
type Cart struct {
	UserID    string
	Items     []Item
	UpdatedAt time.Time
}

// Totals are derived from the snapshot prices.
type Totals struct {
	ItemCount int
	Original  decimal.Decimal
	Subtotal  decimal.Decimal
	Savings   decimal.Decimal
}

// Totals computes the cart summary.
func (c *Cart) Totals() Totals {
	t := Totals{Original: decimal.Zero, Subtotal: decimal.Zero}
	for i := range c.Items {
		it := &c.Items[i]
		qty := decimal.NewFromInt(int64(it.Quantity))
		t.ItemCount += it.Quantity
		t.Original = t.Original.Add(it.UnitPrice.Mul(qty))
		t.Subtotal = t.Subtotal.Add(it.EffectiveUnitPrice().Mul(qty))
	}
	t.Original = t.Original.Round(2)
	t.Subtotal = t.Subtotal.Round(2)
	t.Savings = t.Original.Sub(t.Subtotal)
	return t
}

// Find returns the index of the line with id, or -1.
func (c *Cart) Find(id string) int {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// QuantityOf sums the quantity of all lines for productID, skipping the
// line at index skip.
func (c *Cart) QuantityOf(productID string, skip int) int {
	n := 0
	for i := range c.Items {
		if i != skip && c.Items[i].ProductID == productID {
			n += c.Items[i].Quantity
		}
	}
	return n
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Repository persists carts. Get creates an empty cart on first access.
type Repository interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	// Update loads the cart with its row locked, applies fn and stores the
	// result in the same transaction. Nothing is written when fn fails.
	Update(ctx context.Context, userID string, fn func(c *Cart) error) (*Cart, error)
	Clear(ctx context.Context, userID string) error
}
