// Package order implements the order lifecycle: checkout from the cart,
// payment reconciliation, stock deduction and cancellation.
//
// Stock is deducted when an order first becomes paid, whichever path marks it
// paid (payment callback, provider webhook or an admin update), and is restored
// when a paid order is cancelled. The StockDeducted flag guards both directions
// so that replays never move stock twice.
package order

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentOnline PaymentMethod = "online"
)

// PaymentStatus is the settlement state of an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var (
	// ErrNotFound is returned when an order does not exist or is not visible to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidAddress is returned when the shipping address is incomplete.
	ErrInvalidAddress = errors.New("invalid shipping address")
	// ErrInvalidPaymentMethod is returned for unknown payment methods.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrOrderCancelled is returned when paying for a cancelled order.
	ErrOrderCancelled = errors.New("order is cancelled")
	// ErrNotPayable is returned when an order does not accept online payment.
	ErrNotPayable = errors.New("order does not accept online payment")
	// ErrUnpaid is returned when shipping an online order that is not paid.
	ErrUnpaid = errors.New("order is not paid")
	// ErrInvalidSignature is returned when a payment signature does not verify.
	ErrInvalidSignature = errors.New("invalid payment signature")
	// ErrPaymentMismatch is returned when a payment reference belongs to another order.
	ErrPaymentMismatch = errors.New("payment does not match order")
	// ErrPaymentGateway is returned when the payment provider cannot be reached.
	ErrPaymentGateway = errors.New("payment gateway unavailable")
)

// InvalidTransitionError reports a disallowed status change.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

// Item is an immutable order line with the price locked at checkout.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
	Price     decimal.Decimal `json:"price"`
}

// LineTotal returns price × quantity.
func (i *Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Address is the shipping destination.
type Address struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Validate checks that the required address fields are present.
func (a *Address) Validate() error {
	required := []struct{ name, value string }{
		{"full_name", a.FullName},
		{"phone", a.Phone},
		{"line1", a.Line1},
		{"city", a.City},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return errors.Wrapf(ErrInvalidAddress, "%s is required", f.name)
		}
	}
	return nil
}

// Order is a placed order.
type Order struct {
	ID                  string
	UserID              string
	Items               []Item
	ShippingAddress     Address
	PaymentMethod       PaymentMethod
	PaymentStatus       PaymentStatus
	Status              Status
	PaymentRef          string
	// PreviousPaymentRefs are provider orders replaced by a payment retry.
	// Captures reported for them still settle the order.
	PreviousPaymentRefs []string
	PaymentID           string
	Subtotal            decimal.Decimal
	Discount            decimal.Decimal
	Tax                 decimal.Decimal
	DeliveryFee         decimal.Decimal
	Total               decimal.Decimal
	CouponCode          string
	StockDeducted       bool
	PaidAt              *time.Time
	CancelledAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Quantities aggregates line quantities per product.
func (o *Order) Quantities() map[string]int {
	q := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		q[it.ProductID] += it.Quantity
	}
	return q
}

// HasPaymentRef reports whether ref is a provider order opened for o.
func (o *Order) HasPaymentRef(ref string) bool {
	return ref != "" && (ref == o.PaymentRef || slices.Contains(o.PreviousPaymentRefs, ref))
}

// setPaymentRef makes ref current and keeps the replaced one.
func (o *Order) setPaymentRef(ref string) {
	if o.PaymentRef != "" && o.PaymentRef != ref && !slices.Contains(o.PreviousPaymentRefs, o.PaymentRef) {
		o.PreviousPaymentRefs = append(o.PreviousPaymentRefs, o.PaymentRef)
	}
	o.PaymentRef = ref
}

// AwaitsOnlinePayment reports whether the customer can still pay online.
func (o *Order) AwaitsOnlinePayment() bool {
	return o.PaymentMethod == PaymentOnline &&
		o.PaymentStatus != PaymentPaid &&
		o.Status != StatusCancelled
}

// Filter narrows an admin order listing.
type Filter struct {
	Status        Status
	PaymentStatus PaymentStatus
	UserID        string
	Page          int
	Limit         int
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
}

// Offset returns the row offset for the current page.
func (f *Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Tx is the set of operations available inside an order transaction. Row
// reading methods lock the rows they return until the transaction ends.
type Tx interface {
	// Cart returns the user's cart with the cart row locked.
	Cart(ctx context.Context, userID string) (*cart.Cart, error)
	ClearCart(ctx context.Context, userID string) error
	// LockProducts locks and returns the products keyed by ID. Missing
	// products are absent from the map.
	LockProducts(ctx context.Context, ids []string) (map[string]product.Product, error)
	// AdjustStock adds delta to a product's stock. A result below zero fails
	// with *product.InsufficientStockError and leaves stock unchanged.
	AdjustStock(ctx context.Context, productID string, delta int) error
	// Coupon returns the locked coupon rule or coupon.ErrInvalidCoupon.
	Coupon(ctx context.Context, code string) (*coupon.Rule, error)
	// RedeemCoupon increments the usage counter unless the limit is reached,
	// in which case it returns coupon.ErrCouponUsageLimitReached.
	RedeemCoupon(ctx context.Context, code string) error
	Create(ctx context.Context, o *Order) error
	Lock(ctx context.Context, id string) (*Order, error)
	// LockByPaymentRef locks the order that opened provider order ref,
	// current or previous.
	LockByPaymentRef(ctx context.Context, ref string) (*Order, error)
	Update(ctx context.Context, o *Order) error
}

// Store persists orders. InTx runs fn in a single transaction that is
// committed when fn returns nil and rolled back otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string, page, limit int) ([]Order, int, error)
	List(ctx context.Context, f Filter) ([]Order, int, error)
}
