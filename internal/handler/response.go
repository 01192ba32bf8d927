package handler

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/auth"
	"github.com/xenking/storefront/internal/domain/activity"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/category"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/dashboard"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
)

// encodeFunc adapts a function to encoder.
type encodeFunc func(e *jx.Encoder)

func (f encodeFunc) Encode(e *jx.Encoder) { f(e) }

func field(e *jx.Encoder, name, value string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(value) })
}

func optField(e *jx.Encoder, name, value string) {
	if value != "" {
		field(e, name, value)
	}
}

func intField(e *jx.Encoder, name string, v int) {
	e.Field(name, func(e *jx.Encoder) { e.Int(v) })
}

func boolField(e *jx.Encoder, name string, v bool) {
	e.Field(name, func(e *jx.Encoder) { e.Bool(v) })
}

// moneyField writes d as a JSON number with two decimals.
func moneyField(e *jx.Encoder, name string, d decimal.Decimal) {
	e.Field(name, func(e *jx.Encoder) { e.Raw([]byte(d.StringFixed(2))) })
}

func timeField(e *jx.Encoder, name string, t time.Time) {
	field(e, name, t.UTC().Format(time.RFC3339))
}

func optTimeField(e *jx.Encoder, name string, t *time.Time) {
	e.Field(name, func(e *jx.Encoder) {
		if t == nil {
			e.Null()
			return
		}
		e.Str(t.UTC().Format(time.RFC3339))
	})
}

func strs(e *jx.Encoder, name string, values []string) {
	e.Field(name, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, v := range values {
				e.Str(v)
			}
		})
	})
}

func list[T any](e *jx.Encoder, name string, items []T, enc func(*jx.Encoder, *T)) {
	e.Field(name, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range items {
				enc(e, &items[i])
			}
		})
	})
}

// paged wraps a listing with its paging metadata.
func paged[T any](items []T, total, pageNo, limit int, enc func(*jx.Encoder, *T)) encodeFunc {
	return func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			list(e, "items", items, enc)
			intField(e, "total", total)
			intField(e, "page", pageNo)
			intField(e, "limit", limit)
		})
	}
}

func one[T any](v *T, enc func(*jx.Encoder, *T)) encodeFunc {
	return func(e *jx.Encoder) { enc(e, v) }
}

func all[T any](name string, items []T, enc func(*jx.Encoder, *T)) encodeFunc {
	return func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) { list(e, name, items, enc) })
	}
}

func encodeUser(e *jx.Encoder, u *user.User) {
	e.Obj(func(e *jx.Encoder) {
		field(e, "id", u.ID)
		field(e, "name", u.Name)
		field(e, "email", u.Email)
		field(e, "role", string(u.Role))
		timeField(e, "created_at", u.CreatedAt)
	})
}

func encodeSession(e *jx.Encoder, s *user.Session) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("user", func(e *jx.Encoder) { encodeUser(e, s.User) })
		e.Field("tokens", func(e *jx.Encoder) { encodeTokens(e, s.Tokens) })
	})
}

func encodeTokens(e *jx.Encoder, p *auth.Pair) {
	e.Obj(func(e *jx.Encoder) {
		field(e, "token_type", "Bearer")
		field(e, "access_token", p.AccessToken)
		timeField(e, "access_expires_at", p.AccessExpiresAt)
		field(e, "refresh_token", p.RefreshToken)
		timeField(e, "refresh_expires_at", p.RefreshExpiresAt)
	})
}

func encodeCategory(e *jx.Encoder, c *category.Category) {
	e.Obj(func(e *jx.Encoder) {
		field(e, "id", c.ID)
		field(e, "name", c.Name)
		field(e, "slug", c.Slug)
		field(e, "description", c.Description)
		timeField(e, "created_at", c.CreatedAt)
	})
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.Obj(func(e *jx.Encoder) {
		field(e, "id", p.ID)
		e.Field("category_id", func(e *jx.Encoder) {
			if p.CategoryID == "" {
				e.Null()
				return
			}
			e.Str(p.CategoryID)
		})
		field(e, "name", p.Name)
		field(e, "slug", p.Slug)
		field(e, "description", p.Description)
		moneyField(e, "price", p.Price)
		e.Field("discount_price", func(e *jx.Encoder) {
			if !p.DiscountPrice.IsPositive() {
				e.Null()
				return
			}
			e.Raw([]byte(p.DiscountPrice.StringFixed(2)))
		})
		moneyField(e, "effective_price", p.EffectivePrice())
		intField(e, "stock", p.Stock)
		strs(e, "sizes", p.Sizes)
		strs(e, "colors", p.Colors)
		strs(e, "images", p.Images)
		boolField(e, "is_active", p.IsActive)
		timeField(e, "created_at", p.CreatedAt)
		timeField(e, "updated_at", p.UpdatedAt)
	})
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	totals := c.Totals()
	e.Obj(func(e *jx.Encoder) {
		list(e, "items", c.Items, encodeCartItem)
		e.Field("totals", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				intField(e, "item_count", totals.ItemCount)
				moneyField(e, "original", totals.Original)
				moneyField(e, "subtotal", totals.Subtotal)
				moneyField(e, "savings", totals.Savings)
			})
		})
		if !c.UpdatedAt.IsZero() {
			timeField(e, "updated_at", c.UpdatedAt)
		}
	})
}

func encodeCartItem(e *jx.Encoder, it *cart.Item) {
	e.Obj(func(e *jx.Encoder) {
		field(e, "id", it.ID)
		field(e, "product_id", it.ProductID)
		field(e, "name", it.Name)
		optField(e, "image", it.Image)
		intField(e, "quantity", it.Quantity)
		optField(e, "size", it.Size)
		optField(e, "color", it.Color)
		moneyField(e, "unit_price", it.UnitPrice)
		moneyField(e, "effective_unit_price", it.EffectiveUnitPrice())
		moneyField(e, "line_total", it.EffectiveUnitPrice().Mul(decimal.NewFromInt(int64(it.Quantity))))
	})
}

func encodeDiscount(e *jx.Encoder, d *coupon.Discount) {
	e.Obj(func(e *jx.Encoder) {
		field(e, "code", d.Code)
		moneyField(e, "amount", d.Amount)
		field(e, "description", d.Description)
	})
}

func encodeCoupon(e *jx.Encoder, r *coupon.Rule) {
	e.Obj(func(e *jx.Encoder) {
		field(e, "code", r.Code)
		field(e, "description", r.Description)
		field(e, "discount_type", string(r.DiscountType))
		moneyField(e, "value", r.Value)
		moneyField(e, "min_purchase", r.MinPurchase)
		moneyField(e, "max_discount", r.MaxDiscount)
		optTimeField(e, "valid_from", r.ValidFrom)
		optTimeField(e, "valid_until", r.ValidUntil)
		intField(e, "usage_limit", r.UsageLimit)
		intField(e, "used_count", r.UsedCount)
		boolField(e, "active", r.Active)
		if !r.CreatedAt.IsZero() {
			timeField(e, "created_at", r.CreatedAt)
		}
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		field(e, "id", o.ID)
		field(e, "user_id", o.UserID)
		field(e, "status", string(o.Status))
		field(e, "payment_method", string(o.PaymentMethod))
		field(e, "payment_status", string(o.PaymentStatus))
		optField(e, "payment_ref", o.PaymentRef)
		optField(e, "payment_id", o.PaymentID)
		list(e, "items", o.Items, encodeOrderItem)
		e.Field("shipping_address", func(e *jx.Encoder) { encodeAddress(e, &o.ShippingAddress) })
		moneyField(e, "subtotal", o.Subtotal)
		moneyField(e, "discount", o.Discount)
		moneyField(e, "tax", o.Tax)
		moneyField(e, "delivery_fee", o.DeliveryFee)
		moneyField(e, "total", o.Total)
		optField(e, "coupon_code", o.CouponCode)
		boolField(e, "stock_deducted", o.StockDeducted)
		optTimeField(e, "paid_at", o.PaidAt)
		optTimeField(e, "cancelled_at", o.CancelledAt)
		timeField(e, "created_at", o.CreatedAt)
		timeField(e, "updated_at", o.UpdatedAt)
	})
}

func encodeOrderItem(e *jx.Encoder, it *order.Item) {
	e.Obj(func(e *jx.Encoder) {
		field(e, "product_id", it.ProductID)
		field(e, "name", it.Name)
		optField(e, "image", it.Image)
		intField(e, "quantity", it.Quantity)
		optField(e, "size", it.Size)
		optField(e, "color", it.Color)
		moneyField(e, "price", it.Price)
		moneyField(e, "line_total", it.LineTotal())
	})
}

func encodeAddress(e *jx.Encoder, a *order.Address) {
	e.Obj(func(e *jx.Encoder) {
		field(e, "full_name", a.FullName)
		field(e, "phone", a.Phone)
		field(e, "line1", a.Line1)
		optField(e, "line2", a.Line2)
		field(e, "city", a.City)
		optField(e, "state", a.State)
		field(e, "postal_code", a.PostalCode)
		field(e, "country", a.Country)
	})
}

func encodeActivity(e *jx.Encoder, a *activity.Entry) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(a.ID) })
		field(e, "actor_id", a.ActorID)
		field(e, "actor_kind", string(a.ActorKind))
		field(e, "action", a.Action)
		field(e, "subject", a.Subject)
		if len(a.Details) > 0 {
			if raw, err := json.Marshal(a.Details); err == nil {
				e.Field("details", func(e *jx.Encoder) { e.Raw(raw) })
			}
		}
		timeField(e, "created_at", a.CreatedAt)
	})
}

func encodeStats(e *jx.Encoder, s *dashboard.Stats) {
	e.Obj(func(e *jx.Encoder) {
		moneyField(e, "revenue", s.Revenue)
		intField(e, "orders", s.Orders)
		intField(e, "products", s.Products)
		intField(e, "users", s.Users)
		counts(e, "orders_by_status", s.OrdersByStatus)
		counts(e, "payments_by_status", s.PaymentsByStatus)
		list(e, "low_stock", s.LowStock, encodeProduct)
		list(e, "recent_orders", s.RecentOrders, encodeOrder)
	})
}

// counts writes a map as an object with sorted keys.
func counts[K ~string](e *jx.Encoder, name string, m map[K]int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	e.Field(name, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			for _, k := range keys {
				intField(e, k, m[K(k)])
			}
		})
	})
}
