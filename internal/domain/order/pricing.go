package order

import "github.com/shopspring/decimal"

// Pricing holds the checkout charges applied on top of the item subtotal.
type Pricing struct {
	// TaxRate is a fraction applied to the discounted subtotal, e.g. 0.18.
	TaxRate decimal.Decimal
	// DeliveryFee is charged unless the subtotal reaches FreeDeliveryOver.
	DeliveryFee decimal.Decimal
	// FreeDeliveryOver disables the delivery fee when positive and reached.
	FreeDeliveryOver decimal.Decimal
}

// Quote is the full price breakdown of an order.
type Quote struct {
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	Tax         decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
}

// Quote computes total = subtotal - discount + tax + delivery, floored at 0.
// The discount is clamped to [0, subtotal].
func (p Pricing) Quote(subtotal, discount decimal.Decimal) Quote {
	subtotal = decimal.Max(subtotal, decimal.Zero).Round(2)
	discount = decimal.Min(decimal.Max(discount, decimal.Zero), subtotal).Round(2)

	taxable := subtotal.Sub(discount)
	tax := decimal.Zero
	if p.TaxRate.IsPositive() {
		tax = taxable.Mul(p.TaxRate).Round(2)
	}

	delivery := decimal.Zero
	if subtotal.IsPositive() && p.DeliveryFee.IsPositive() {
		free := p.FreeDeliveryOver.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeDeliveryOver)
		if !free {
			delivery = p.DeliveryFee.Round(2)
		}
	}

	total := taxable.Add(tax).Add(delivery)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Quote{
		Subtotal:    subtotal,
		Discount:    discount,
		Tax:         tax,
		DeliveryFee: delivery,
		Total:       total.Round(2),
	}
}
