// Package notify delivers order events to customers.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
)

// InvoiceLine is a single billed item.
type InvoiceLine struct {
	Name      string
	Size      string
	Color     string
	Quantity  int
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

// Invoice is the customer-facing summary of an order.
type Invoice struct {
	Number        string
	OrderID       string
	IssuedAt      time.Time
	Email         string
	ShipTo        order.Address
	PaymentMethod order.PaymentMethod
	PaymentStatus order.PaymentStatus
	Lines         []InvoiceLine
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	CouponCode    string
	Tax           decimal.Decimal
	DeliveryFee   decimal.Decimal
	Total         decimal.Decimal
}

// InvoiceNumber formats INV-<yyyymmdd>-<first 8 chars of the order id>.
func InvoiceNumber(orderID string, placed time.Time) string {
	short := strings.ReplaceAll(orderID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("INV-%s-%s", placed.UTC().Format("20060102"), strings.ToUpper(short))
}

// NewInvoice builds the invoice of o addressed to email.
func NewInvoice(o *order.Order, email string) Invoice {
	inv := Invoice{
		Number:        InvoiceNumber(o.ID, o.CreatedAt),
		OrderID:       o.ID,
		IssuedAt:      o.CreatedAt.UTC(),
		Email:         email,
		ShipTo:        o.ShippingAddress,
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		Lines:         make([]InvoiceLine, 0, len(o.Items)),
		Subtotal:      o.Subtotal,
		Discount:      o.Discount,
		CouponCode:    o.CouponCode,
		Tax:           o.Tax,
		DeliveryFee:   o.DeliveryFee,
		Total:         o.Total,
	}
	for _, it := range o.Items {
		inv.Lines = append(inv.Lines, InvoiceLine{
			Name:      it.Name,
			Size:      it.Size,
			Color:     it.Color,
			Quantity:  it.Quantity,
			UnitPrice: it.Price,
			Total:     it.LineTotal(),
		})
	}
	return inv
}

// Encode writes the invoice as a JSON object.
func (inv *Invoice) Encode(e *jx.Encoder) {
	money := func(name string, v decimal.Decimal) {
		e.Field(name, func(e *jx.Encoder) { e.Str(v.StringFixed(2)) })
	}
	e.Obj(func(e *jx.Encoder) {
		e.Field("number", func(e *jx.Encoder) { e.Str(inv.Number) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(inv.OrderID) })
		e.Field("issued_at", func(e *jx.Encoder) { e.Str(inv.IssuedAt.Format(time.RFC3339)) })
		e.Field("email", func(e *jx.Encoder) { e.Str(inv.Email) })
		e.Field("ship_to", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("full_name", func(e *jx.Encoder) { e.Str(inv.ShipTo.FullName) })
				e.Field("line1", func(e *jx.Encoder) { e.Str(inv.ShipTo.Line1) })
				if inv.ShipTo.Line2 != "" {
					e.Field("line2", func(e *jx.Encoder) { e.Str(inv.ShipTo.Line2) })
				}
				e.Field("city", func(e *jx.Encoder) { e.Str(inv.ShipTo.City) })
				e.Field("postal_code", func(e *jx.Encoder) { e.Str(inv.ShipTo.PostalCode) })
				e.Field("country", func(e *jx.Encoder) { e.Str(inv.ShipTo.Country) })
			})
		})
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(string(inv.PaymentMethod)) })
		e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(inv.PaymentStatus)) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range inv.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
						if l.Size != "" {
							e.Field("size", func(e *jx.Encoder) { e.Str(l.Size) })
						}
						if l.Color != "" {
							e.Field("color", func(e *jx.Encoder) { e.Str(l.Color) })
						}
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Str(l.UnitPrice.StringFixed(2)) })
						e.Field("total", func(e *jx.Encoder) { e.Str(l.Total.StringFixed(2)) })
					})
				}
			})
		})
		money("subtotal", inv.Subtotal)
		money("discount", inv.Discount)
		if inv.CouponCode != "" {
			e.Field("coupon_code", func(e *jx.Encoder) { e.Str(inv.CouponCode) })
		}
		money("tax", inv.Tax)
		money("delivery_fee", inv.DeliveryFee)
		money("total", inv.Total)
	})
}

// JSON returns the encoded invoice.
func (inv *Invoice) JSON() []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	inv.Encode(e)
	return append([]byte(nil), e.Bytes()...)
}
