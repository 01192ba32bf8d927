package order

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/activity"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/order"

// Gateway opens payments at the payment provider.
type Gateway interface {
	// CreatePayment registers amount with the provider and returns the
	// provider order ID the client pays against.
	CreatePayment(ctx context.Context, receipt string, amount decimal.Decimal) (string, error)
}

// SignatureVerifier checks client payment callbacks.
type SignatureVerifier interface {
	VerifyCallback(providerOrderID, paymentID, signature string) bool
}

// ReplayGuard remembers processed webhook events.
type ReplayGuard interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type nopReplayGuard struct{}

func (nopReplayGuard) Seen(context.Context, string) (bool, error) { return false, nil }
func (nopReplayGuard) Mark(context.Context, string) error { return nil }

// Deps are the collaborators of the order Service.
type Deps struct {
	Store      Store
	Gateway    Gateway
	Signatures SignatureVerifier
	Replays    ReplayGuard
	Notifier   Notifier
	Activity   activity.Recorder
}

// Config tunes the order Service.
type Config struct {
	Pricing        Pricing
	NotifyTimeout  time.Duration
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

type metrics struct {
	placed    metric.Int64Counter
	cancelled metric.Int64Counter
	settled   metric.Int64Counter
	deducted  metric.Int64Counter
}

// Service implements the order lifecycle.
type Service struct {
	store         Store
	gateway       Gateway
	signatures    SignatureVerifier
	replays       ReplayGuard
	notifier      Notifier
	activity      activity.Recorder
	pricing       Pricing
	notifyTimeout time.Duration

	tracer  trace.Tracer
	metrics metrics

	now   func() time.Time
	async func(func())
}

// NewService creates an order Service. Store and Signatures are required.
func NewService(deps Deps, cfg Config) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("order store is required")
	}
	if deps.Signatures == nil {
		return nil, errors.New("payment signature verifier is required")
	}
	if deps.Replays == nil {
		deps.Replays = nopReplayGuard{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Activity == nil {
		deps.Activity = activity.Nop{}
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = tracenoop.NewTracerProvider()
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}

	meter := cfg.MeterProvider.Meter(instrumentationName)
	var (
		m   metrics
		err error
	)
	if m.placed, err = meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders created from carts")); err != nil {
		return nil, errors.Wrap(err, "orders.placed counter")
	}
	if m.cancelled, err = meter.Int64Counter("orders.cancelled",
		metric.WithDescription("Orders cancelled")); err != nil {
		return nil, errors.Wrap(err, "orders.cancelled counter")
	}
	if m.settled, err = meter.Int64Counter("payments.settled",
		metric.WithDescription("Orders marked paid")); err != nil {
		return nil, errors.Wrap(err, "payments.settled counter")
	}
	if m.deducted, err = meter.Int64Counter("stock.deducted_units",
		metric.WithDescription("Units taken out of stock on payment"),
		metric.WithUnit("{unit}")); err != nil {
		return nil, errors.Wrap(err, "stock.deducted_units counter")
	}

	return &Service{
		store:         deps.Store,
		gateway:       deps.Gateway,
		signatures:    deps.Signatures,
		replays:       deps.Replays,
		notifier:      deps.Notifier,
		activity:      deps.Activity,
		pricing:       cfg.Pricing,
		notifyTimeout: cfg.NotifyTimeout,
		tracer:        cfg.TracerProvider.Tracer(instrumentationName),
		metrics:       m,
		now:           time.Now,
		async:         func(f func()) { go f() },
	}, nil
}

// PlaceInput is the checkout request.
type PlaceInput struct {
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	CouponCode      string
}

// PlaceOrder turns the user's cart into an order. Cart lines are checked
// against the locked product rows, prices are locked at the current
// effective price, the coupon is redeemed and the cart is emptied in one
// transaction. Online orders then open a payment at the provider; when that
// fails the order is kept with a failed payment and ErrPaymentGateway is
// returned alongside it so the client can retry.
func (s *Service) PlaceOrder(ctx context.Context, userID string, in PlaceInput) (*Order, error) {
	if in.PaymentMethod != PaymentCOD && in.PaymentMethod != PaymentOnline {
		return nil, ErrInvalidPaymentMethod
	}
	if err := in.ShippingAddress.Validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.String("payment_method", string(in.PaymentMethod))))
	defer span.End()

	var o *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.Cart(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "load cart")
		}
		if c.IsEmpty() {
			return cart.ErrEmpty
		}

		items, subtotal, err := s.lockItems(ctx, tx, c)
		if err != nil {
			return err
		}

		discount := decimal.Zero
		code := coupon.NormalizeCode(in.CouponCode)
		if code != "" {
			rule, err := tx.Coupon(ctx, code)
			if err != nil {
				return err
			}
			d, err := coupon.Evaluate(rule, subtotal, s.now())
			if err != nil {
				return err
			}
			if err := tx.RedeemCoupon(ctx, rule.Code); err != nil {
				return err
			}
			discount = d.Amount
		}

		q := s.pricing.Quote(subtotal, discount)
		now := s.now().UTC()
		o = &Order{
			ID:              uuid.New().String(),
			UserID:          userID,
			Items:           items,
			ShippingAddress: in.ShippingAddress,
			PaymentMethod:   in.PaymentMethod,
			PaymentStatus:   PaymentPending,
			Status:          StatusProcessing,
			Subtotal:        q.Subtotal,
			Discount:        q.Discount,
			Tax:             q.Tax,
			DeliveryFee:     q.DeliveryFee,
			Total:           q.Total,
			CouponCode:      code,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if err := tx.ClearCart(ctx, userID); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", o.ID))
	s.metrics.placed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("payment_method", string(o.PaymentMethod))))
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("user_id", userID),
		zap.String("total", o.Total.StringFixed(2)),
	)
	s.publish(ctx, Actor{ID: userID, Kind: activity.ActorUser}, o, EventPlaced)

	if o.PaymentMethod == PaymentOnline {
		return s.openPayment(ctx, o)
	}
	return o, nil
}

// lockItems validates the cart against the locked catalog rows and builds
// the order lines.
func (s *Service) lockItems(ctx context.Context, tx Tx, c *cart.Cart) ([]Item, decimal.Decimal, error) {
	wanted := make(map[string]int, len(c.Items))
	for _, it := range c.Items {
		wanted[it.ProductID] += it.Quantity
	}
	ids := slices.Sorted(maps.Keys(wanted))

	products, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, errors.Wrap(err, "lock products")
	}

	for _, id := range ids {
		p, ok := products[id]
		if !ok || !p.IsActive {
			name := p.Name
			if !ok {
				name = cartItemName(c, id)
			}
			return nil, decimal.Zero, &product.UnavailableError{ProductID: id, Name: name}
		}
		if wanted[id] > p.Stock {
			return nil, decimal.Zero, &product.InsufficientStockError{
				ProductID: id, Name: p.Name, Requested: wanted[id], Available: p.Stock,
			}
		}
	}

	items := make([]Item, 0, len(c.Items))
	subtotal := decimal.Zero
	for _, it := range c.Items {
		p := products[it.ProductID]
		if !p.OffersSize(it.Size) || !p.OffersColor(it.Color) {
			return nil, decimal.Zero, errors.Wrapf(cart.ErrInvalidVariant, "%s", p.Name)
		}
		line := Item{
			ProductID: p.ID,
			Name:      p.Name,
			Image:     p.Thumbnail(),
			Quantity:  it.Quantity,
			Size:      it.Size,
			Color:     it.Color,
			Price:     p.EffectivePrice(),
		}
		subtotal = subtotal.Add(line.LineTotal())
		items = append(items, line)
	}
	return items, subtotal, nil
}

func cartItemName(c *cart.Cart, productID string) string {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it.Name
		}
	}
	return ""
}

// RetryPayment opens a new provider payment for an unpaid online order.
func (s *Service) RetryPayment(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.GetForUser(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusCancelled {
		return nil, ErrOrderCancelled
	}
	if !o.AwaitsOnlinePayment() {
		return nil, ErrNotPayable
	}
	return s.openPayment(ctx, o)
}

// openPayment asks the gateway for a provider order and stores its ID.
func (s *Service) openPayment(ctx context.Context, o *Order) (*Order, error) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))

	var (
		ref string
		err = errors.New("payment gateway is not configured")
	)
	if s.gateway != nil {
		ref, err = s.gateway.CreatePayment(ctx, o.ID, o.Total)
	}
	if err != nil {
		lg.Warn("Open payment", zap.Error(err))
		failed, mErr := s.markPaymentFailed(ctx, o.ID)
		if mErr != nil {
			lg.Error("Mark payment failed", zap.Error(mErr))
			failed = o
		}
		return failed, errors.Wrapf(ErrPaymentGateway, "order %s", o.ID)
	}

	var updated *Order
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.Lock(ctx, o.ID)
		if err != nil {
			return err
		}
		updated = cur
		if !cur.AwaitsOnlinePayment() {
			return nil
		}
		cur.setPaymentRef(ref)
		if cur.PaymentStatus == PaymentFailed {
			cur.PaymentStatus = PaymentPending
		}
		cur.UpdatedAt = s.now().UTC()
		return tx.Update(ctx, cur)
	})
	if err != nil {
		return nil, errors.Wrap(err, "store payment reference")
	}
	return updated, nil
}

func (s *Service) markPaymentFailed(ctx context.Context, orderID string) (*Order, error) {
	var o *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.Lock(ctx, orderID)
		if err != nil {
			return err
		}
		o = cur
		if cur.PaymentStatus != PaymentPending {
			return nil
		}
		cur.PaymentStatus = PaymentFailed
		cur.UpdatedAt = s.now().UTC()
		return tx.Update(ctx, cur)
	})
	return o, err
}

// Get returns any order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// GetForUser returns an order owned by userID. Orders of other users are
// reported as missing.
func (s *Service) GetForUser(ctx context.Context, userID, id string) (*Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// ListForUser returns a page of the user's orders, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string, page, limit int) ([]Order, int, error) {
	f := Filter{Page: page, Limit: limit}
	f.Normalize()
	orders, total, err := s.store.ListByUser(ctx, userID, f.Page, f.Limit)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	return orders, total, nil
}

// List returns a page of all orders for the admin panel.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, int, error) {
	f.Normalize()
	orders, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	return orders, total, nil
}
