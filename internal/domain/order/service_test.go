package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/activity"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// --- Mock implementations ---

type mockGateway struct {
	err   error
	calls int
}

func (m *mockGateway) CreatePayment(_ context.Context, receipt string, _ decimal.Decimal) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("prov_%s_%d", receipt, m.calls), nil
}

// mockSigner accepts signatures of the form "<provider order>|<payment>".
type mockSigner struct{}

func (mockSigner) VerifyCallback(providerOrderID, paymentID, signature string) bool {
	return signature == providerOrderID+"|"+paymentID
}

type memReplays struct {
	seen map[string]bool
}

func (m *memReplays) Seen(_ context.Context, id string) (bool, error) { return m.seen[id], nil }

func (m *memReplays) Mark(_ context.Context, id string) error {
	m.seen[id] = true
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []EventType
}

func (r *recordingNotifier) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Type)
	return nil
}

func (r *recordingNotifier) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventType(nil), r.events...)
}

type recordingActivity struct {
	mu      sync.Mutex
	entries []activity.Entry
}

func (r *recordingActivity) Record(_ context.Context, e activity.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingActivity) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

func (r *recordingActivity) last() activity.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

// --- Helpers ---

var (
	testNow  = time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)
	customer = Actor{ID: "u1", Kind: activity.ActorUser}
	admin    = Actor{ID: "admin", Kind: activity.ActorAdmin}
	address  = Address{
		FullName: "Ada Lovelace", Phone: "+44 20 0000 0000", Line1: "12 St James's Sq",
		City: "London", PostalCode: "SW1Y 4JH", Country: "GB",
	}
)

type fixture struct {
	svc      *Service
	store    *memStore
	gateway  *mockGateway
	replays  *memReplays
	notifier *recordingNotifier
	activity *recordingActivity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		gateway:  &mockGateway{},
		replays:  &memReplays{seen: map[string]bool{}},
		notifier: &recordingNotifier{},
		activity: &recordingActivity{},
	}
	svc, err := NewService(Deps{
		Store:      f.store,
		Gateway:    f.gateway,
		Signatures: mockSigner{},
		Replays:    f.replays,
		Notifier:   f.notifier,
		Activity:   f.activity,
	}, Config{
		Pricing: Pricing{
			TaxRate:          decimal.RequireFromString("0.10"),
			DeliveryFee:      decimal.RequireFromString("5.00"),
			FreeDeliveryOver: decimal.RequireFromString("100.00"),
		},
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return testNow }
	svc.async = func(fn func()) { fn() }
	f.svc = svc

	f.addProduct(product.Product{ID: "tee", Name: "Tee", Price: decimal.RequireFromString("20.00"), Stock: 10, IsActive: true})
	f.addProduct(product.Product{
		ID: "hoodie", Name: "Hoodie", Price: decimal.RequireFromString("50.00"),
		DiscountPrice: decimal.RequireFromString("40.00"), Stock: 5, IsActive: true,
		Sizes: []string{"M", "L"},
	})
	return f
}

func (f *fixture) addProduct(p product.Product) {
	f.store.products[p.ID] = &p
}

func (f *fixture) addCoupon(r coupon.Rule) {
	f.store.coupons[r.Code] = &r
}

func (f *fixture) fillCart(userID string, items ...cart.Item) {
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = fmt.Sprintf("line-%d", i)
		}
	}
	f.store.carts[userID] = &cart.Cart{UserID: userID, Items: items}
}

func (f *fixture) placeCOD(t *testing.T, userID string, items ...cart.Item) *Order {
	t.Helper()
	f.fillCart(userID, items...)
	o, err := f.svc.PlaceOrder(context.Background(), userID, PlaceInput{
		ShippingAddress: address, PaymentMethod: PaymentCOD,
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) placeOnline(t *testing.T, userID string, items ...cart.Item) *Order {
	t.Helper()
	f.fillCart(userID, items...)
	o, err := f.svc.PlaceOrder(context.Background(), userID, PlaceInput{
		ShippingAddress: address, PaymentMethod: PaymentOnline,
	})
	require.NoError(t, err)
	require.NotEmpty(t, o.PaymentRef)
	return o
}

func line(productID string, qty int) cart.Item {
	return cart.Item{ProductID: productID, Name: productID, Quantity: qty}
}

func sized(productID, size string, qty int) cart.Item {
	return cart.Item{ProductID: productID, Name: productID, Quantity: qty, Size: size}
}

func decEq(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// --- Tests ---

func TestNewService_RequiresStoreAndSigner(t *testing.T) {
	_, err := NewService(Deps{Signatures: mockSigner{}}, Config{})
	require.Error(t, err)
	_, err = NewService(Deps{Store: newMemStore()}, Config{})
	require.Error(t, err)
}

func TestPlaceOrder_COD(t *testing.T) {
	f := newFixture(t)

	o := f.placeCOD(t, "u1", line("tee", 2), sized("hoodie", "M", 1))

	require.Len(t, o.Items, 2)
	decEq(t, "20.00", o.Items[0].Price)
	decEq(t, "40.00", o.Items[1].Price)
	decEq(t, "80.00", o.Subtotal)
	decEq(t, "0", o.Discount)
	decEq(t, "8.00", o.Tax)
	decEq(t, "5.00", o.DeliveryFee)
	decEq(t, "93.00", o.Total)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.False(t, o.StockDeducted)
	assert.Empty(t, o.PaymentRef)

	assert.Equal(t, 0, f.store.cartLen("u1"), "cart is emptied")
	assert.Equal(t, 10, f.store.stock("tee"), "stock moves on payment, not on checkout")
	assert.Zero(t, f.gateway.calls)
	assert.Equal(t, []EventType{EventPlaced}, f.notifier.types())
}

func TestPlaceOrder_PriceLockedAtCheckout(t *testing.T) {
	f := newFixture(t)
	item := line("tee", 1)
	item.UnitPrice = decimal.RequireFromString("15.00")
	f.store.products["tee"].Price = decimal.RequireFromString("25.00")

	o := f.placeCOD(t, "u1", item)
	decEq(t, "25.00", o.Items[0].Price)
}

func TestPlaceOrder_WithCoupon(t *testing.T) {
	f := newFixture(t)
	f.addCoupon(coupon.Rule{
		Code: "SAVE10", DiscountType: coupon.DiscountPercentage, Value: decimal.NewFromInt(10),
		UsageLimit: 5, Active: true,
	})
	f.fillCart("u1", line("tee", 5))

	o, err := f.svc.PlaceOrder(context.Background(), "u1", PlaceInput{
		ShippingAddress: address, PaymentMethod: PaymentCOD, CouponCode: " save10 ",
	})
	require.NoError(t, err)

	assert.Equal(t, "SAVE10", o.CouponCode)
	decEq(t, "100.00", o.Subtotal)
	decEq(t, "10.00", o.Discount)
	decEq(t, "9.00", o.Tax)
	decEq(t, "0", o.DeliveryFee)
	decEq(t, "99.00", o.Total)
	assert.Equal(t, 1, f.store.couponUses("SAVE10"))
}

func TestPlaceOrder_RollsBackOnFailure(t *testing.T) {
	future := testNow.Add(time.Hour)

	tests := []struct {
		name   string
		items  []cart.Item
		coupon string
		setup  func(f *fixture)
		check  func(t *testing.T, err error)
	}{
		{
			name:  "insufficient stock",
			items: []cart.Item{line("tee", 3), line("tee", 8)},
			check: func(t *testing.T, err error) {
				var sErr *product.InsufficientStockError
				require.ErrorAs(t, err, &sErr)
				assert.Equal(t, 11, sErr.Requested)
				assert.Equal(t, 10, sErr.Available)
			},
		},
		{
			name:  "inactive product",
			items: []cart.Item{line("tee", 1)},
			setup: func(f *fixture) { f.store.products["tee"].IsActive = false },
			check: func(t *testing.T, err error) {
				var uErr *product.UnavailableError
				require.ErrorAs(t, err, &uErr)
			},
		},
		{
			name:  "deleted product",
			items: []cart.Item{line("ghost", 1)},
			check: func(t *testing.T, err error) {
				var uErr *product.UnavailableError
				require.ErrorAs(t, err, &uErr)
				assert.Equal(t, "ghost", uErr.Name)
			},
		},
		{
			name:  "size no longer offered",
			items: []cart.Item{sized("hoodie", "XS", 1)},
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, cart.ErrInvalidVariant) },
		},
		{
			name:   "unknown coupon",
			items:  []cart.Item{line("tee", 1)},
			coupon: "NOPE",
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, coupon.ErrInvalidCoupon) },
		},
		{
			name:   "coupon not yet valid",
			items:  []cart.Item{line("tee", 1)},
			coupon: "LATER",
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, coupon.ErrCouponExpired) },
		},
		{
			name:   "coupon exhausted",
			items:  []cart.Item{line("tee", 1)},
			coupon: "GONE",
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, coupon.ErrCouponUsageLimitReached) },
		},
		{
			name:   "coupon minimum purchase",
			items:  []cart.Item{line("tee", 1)},
			coupon: "BIG",
			check: func(t *testing.T, err error) {
				var mpErr *coupon.MinimumPurchaseError
				require.ErrorAs(t, err, &mpErr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addCoupon(coupon.Rule{Code: "LATER", DiscountType: coupon.DiscountFixed, Value: decimal.NewFromInt(1), ValidFrom: &future, Active: true})
			f.addCoupon(coupon.Rule{Code: "GONE", DiscountType: coupon.DiscountFixed, Value: decimal.NewFromInt(1), UsageLimit: 2, UsedCount: 2, Active: true})
			f.addCoupon(coupon.Rule{Code: "BIG", DiscountType: coupon.DiscountFixed, Value: decimal.NewFromInt(1), MinPurchase: decimal.NewFromInt(500), Active: true})
			f.fillCart("u1", tt.items...)
			if tt.setup != nil {
				tt.setup(f)
			}
			cartBefore := f.store.cartLen("u1")

			o, err := f.svc.PlaceOrder(context.Background(), "u1", PlaceInput{
				ShippingAddress: address, PaymentMethod: PaymentCOD, CouponCode: tt.coupon,
			})
			tt.check(t, err)
			assert.Nil(t, o)
			assert.Equal(t, cartBefore, f.store.cartLen("u1"), "cart must survive a failed checkout")
			assert.Empty(t, f.store.orders, "no order may be persisted")
			assert.Empty(t, f.notifier.types())
			assert.Equal(t, 2, f.store.couponUses("GONE"))
			assert.Equal(t, 10, f.store.stock("tee"))
		})
	}
}

func TestPlaceOrder_InvalidInput(t *testing.T) {
	f := newFixture(t)
	f.fillCart("u1", line("tee", 1))

	_, err := f.svc.PlaceOrder(context.Background(), "u1", PlaceInput{ShippingAddress: address, PaymentMethod: "barter"})
	require.ErrorIs(t, err, ErrInvalidPaymentMethod)

	_, err = f.svc.PlaceOrder(context.Background(), "u1", PlaceInput{PaymentMethod: PaymentCOD})
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = f.svc.PlaceOrder(context.Background(), "u2", PlaceInput{ShippingAddress: address, PaymentMethod: PaymentCOD})
	require.ErrorIs(t, err, cart.ErrEmpty)
}

func TestPlaceOrder_Online(t *testing.T) {
	f := newFixture(t)

	o := f.placeOnline(t, "u1", line("tee", 1))

	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Equal(t, 1, f.gateway.calls)
	stored, err := f.store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.PaymentRef, stored.PaymentRef)
}

func TestPlaceOrder_GatewayFailureThenRetry(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("connection refused")
	f.fillCart("u1", line("tee", 1))

	o, err := f.svc.PlaceOrder(context.Background(), "u1", PlaceInput{
		ShippingAddress: address, PaymentMethod: PaymentOnline,
	})
	require.ErrorIs(t, err, ErrPaymentGateway)
	require.NotNil(t, o)
	assert.Equal(t, PaymentFailed, o.PaymentStatus)
	assert.Contains(t, err.Error(), o.ID)
	assert.Equal(t, 0, f.store.cartLen("u1"), "the order survives a gateway failure")

	f.gateway.err = nil
	retried, err := f.svc.RetryPayment(context.Background(), "u1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, retried.PaymentStatus)
	assert.NotEmpty(t, retried.PaymentRef)

	_, err = f.svc.RetryPayment(context.Background(), "u2", o.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRetryPayment_EarlierProviderOrderStillSettles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOnline(t, "u1", line("tee", 2))
	first := o.PaymentRef

	f.store.mu.Lock()
	f.store.orders[o.ID].PaymentStatus = PaymentFailed
	f.store.mu.Unlock()

	retried, err := f.svc.RetryPayment(ctx, "u1", o.ID)
	require.NoError(t, err)
	require.NotEqual(t, first, retried.PaymentRef)
	assert.Equal(t, []string{first}, retried.PreviousPaymentRefs)
	assert.True(t, retried.HasPaymentRef(first))
	assert.False(t, retried.HasPaymentRef(""))

	// The customer completed the first checkout before retrying.
	err = f.svc.ApplyPaymentEvent(ctx, PaymentEvent{ID: "e1", Type: PaymentCaptured, ProviderOrderID: first, PaymentID: "pay_1"})
	require.NoError(t, err)

	stored, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, stored.PaymentStatus)
	assert.Equal(t, "pay_1", stored.PaymentID)
	assert.Equal(t, retried.PaymentRef, stored.PaymentRef)
	assert.Equal(t, 8, f.store.stock("tee"))

	paid, err := f.svc.VerifyPayment(ctx, "u1", VerifyInput{
		OrderID: o.ID, ProviderOrderID: first, PaymentID: "pay_1", Signature: first + "|pay_1",
	})
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, paid.PaymentStatus)
	assert.Equal(t, 8, f.store.stock("tee"), "settling twice deducts once")
}

func TestRetryPayment_EarlierProviderOrderFailureIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOnline(t, "u1", line("tee", 1))
	first := o.PaymentRef

	retried, err := f.svc.RetryPayment(ctx, "u1", o.ID)
	require.NoError(t, err)
	require.NotEqual(t, first, retried.PaymentRef)

	require.NoError(t, f.svc.ApplyPaymentEvent(ctx, PaymentEvent{ID: "e1", Type: PaymentEventFailed, ProviderOrderID: first}))
	stored, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, stored.PaymentStatus)

	require.NoError(t, f.svc.ApplyPaymentEvent(ctx, PaymentEvent{ID: "e2", Type: PaymentEventFailed, ProviderOrderID: retried.PaymentRef}))
	stored, err = f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, stored.PaymentStatus)
}

func TestRetryPayment_NotPayable(t *testing.T) {
	f := newFixture(t)
	cod := f.placeCOD(t, "u1", line("tee", 1))

	_, err := f.svc.RetryPayment(context.Background(), "u1", cod.ID)
	require.ErrorIs(t, err, ErrNotPayable)

	_, err = f.svc.Cancel(context.Background(), customer, cod.ID)
	require.NoError(t, err)
	_, err = f.svc.RetryPayment(context.Background(), "u1", cod.ID)
	require.ErrorIs(t, err, ErrOrderCancelled)
}

func TestVerifyPayment(t *testing.T) {
	f := newFixture(t)
	o := f.placeOnline(t, "u1", line("tee", 3))
	ctx := context.Background()
	good := VerifyInput{OrderID: o.ID, ProviderOrderID: o.PaymentRef, PaymentID: "pay_1", Signature: o.PaymentRef + "|pay_1"}

	bad := good
	bad.Signature = "forged"
	_, err := f.svc.VerifyPayment(ctx, "u1", bad)
	require.ErrorIs(t, err, ErrInvalidSignature)

	mismatch := good
	mismatch.ProviderOrderID = "prov_other"
	mismatch.Signature = "prov_other|pay_1"
	_, err = f.svc.VerifyPayment(ctx, "u1", mismatch)
	require.ErrorIs(t, err, ErrPaymentMismatch)

	_, err = f.svc.VerifyPayment(ctx, "u2", good)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 10, f.store.stock("tee"))

	paid, err := f.svc.VerifyPayment(ctx, "u1", good)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, paid.PaymentStatus)
	assert.Equal(t, "pay_1", paid.PaymentID)
	assert.True(t, paid.StockDeducted)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, 7, f.store.stock("tee"))

	again, err := f.svc.VerifyPayment(ctx, "u1", good)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, again.PaymentStatus)
	assert.Equal(t, 7, f.store.stock("tee"), "replayed callback must not deduct twice")
	assert.Equal(t, []EventType{EventPlaced, EventPaid}, f.notifier.types())
}

func TestApplyPaymentEvent(t *testing.T) {
	f := newFixture(t)
	o := f.placeOnline(t, "u1", line("tee", 2), sized("hoodie", "L", 1))
	ctx := context.Background()
	ev := PaymentEvent{ID: "evt_1", Type: PaymentCaptured, ProviderOrderID: o.PaymentRef, PaymentID: "pay_9"}

	require.NoError(t, f.svc.ApplyPaymentEvent(ctx, ev))
	assert.Equal(t, 8, f.store.stock("tee"))
	assert.Equal(t, 4, f.store.stock("hoodie"))
	assert.True(t, f.replays.seen["evt_1"])

	require.NoError(t, f.svc.ApplyPaymentEvent(ctx, ev), "replay is skipped by the guard")

	ev.ID = "evt_2"
	require.NoError(t, f.svc.ApplyPaymentEvent(ctx, ev), "a duplicate with a new id hits the payment guard")
	assert.Equal(t, 8, f.store.stock("tee"))
	assert.Equal(t, 4, f.store.stock("hoodie"))

	stored, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, stored.PaymentStatus)
	assert.Equal(t, "pay_9", stored.PaymentID)

	ev = PaymentEvent{ID: "evt_3", Type: PaymentEventFailed, ProviderOrderID: o.PaymentRef}
	require.NoError(t, f.svc.ApplyPaymentEvent(ctx, ev))
	stored, err = f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, stored.PaymentStatus, "a late failure does not undo a capture")
}

func TestApplyPaymentEvent_FailedAndIgnorable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOnline(t, "u1", line("tee", 1))

	require.NoError(t, f.svc.ApplyPaymentEvent(ctx, PaymentEvent{ID: "e1", Type: PaymentEventFailed, ProviderOrderID: o.PaymentRef}))
	stored, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, stored.PaymentStatus)

	require.NoError(t, f.svc.ApplyPaymentEvent(ctx, PaymentEvent{ID: "e2", Type: "refund.created", ProviderOrderID: o.PaymentRef}))

	err = f.svc.ApplyPaymentEvent(ctx, PaymentEvent{ID: "e3", Type: PaymentCaptured, ProviderOrderID: "prov_unknown"})
	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsIgnorable(err))
	assert.False(t, f.replays.seen["e3"])

	_, err = f.svc.Cancel(ctx, customer, o.ID)
	require.NoError(t, err)
	err = f.svc.ApplyPaymentEvent(ctx, PaymentEvent{ID: "e4", Type: PaymentCaptured, ProviderOrderID: o.PaymentRef})
	require.ErrorIs(t, err, ErrOrderCancelled)
	assert.True(t, IsIgnorable(err))
	assert.Equal(t, 10, f.store.stock("tee"))
}

func TestSettlement_InsufficientStockFailsUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOnline(t, "u1", line("tee", 4))

	f.store.products["tee"].Stock = 3

	err := f.svc.ApplyPaymentEvent(ctx, PaymentEvent{ID: "e1", Type: PaymentCaptured, ProviderOrderID: o.PaymentRef})
	var sErr *product.InsufficientStockError
	require.ErrorAs(t, err, &sErr)
	assert.False(t, IsIgnorable(err))

	stored, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, stored.PaymentStatus)
	assert.False(t, stored.StockDeducted)
	assert.Equal(t, 3, f.store.stock("tee"))

	entry := f.activity.last()
	assert.Equal(t, "order.payment_unfulfillable", entry.Action)
	assert.Equal(t, activity.ActorSystem, entry.ActorKind)
	assert.Equal(t, o.ID, entry.Subject)
	assert.Equal(t, "tee", entry.Details["product_id"])
	assert.Equal(t, 4, entry.Details["requested"])
	assert.Equal(t, 3, entry.Details["available"])
	assert.False(t, f.replays.seen["e1"], "the provider may redeliver once stock is back")
}

func TestVerifyPayment_InsufficientStockRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOnline(t, "u1", line("tee", 2))
	f.store.products["tee"].Stock = 1

	_, err := f.svc.VerifyPayment(ctx, "u1", VerifyInput{
		OrderID: o.ID, ProviderOrderID: o.PaymentRef, PaymentID: "pay_9", Signature: o.PaymentRef + "|pay_9",
	})
	var sErr *product.InsufficientStockError
	require.ErrorAs(t, err, &sErr)

	entry := f.activity.last()
	assert.Equal(t, "order.payment_unfulfillable", entry.Action)
	assert.Equal(t, activity.ActorUser, entry.ActorKind)
	assert.Equal(t, "pay_9", entry.Details["payment_id"])
	assert.NotContains(t, f.notifier.types(), EventPaymentUnfulfillable)
}

func TestSettlement_OtherFailuresNotRecordedAsUnfulfillable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOnline(t, "u1", line("tee", 1))

	f.store.failUpdate = errors.New("disk full")
	err := f.svc.ApplyPaymentEvent(ctx, PaymentEvent{ID: "e1", Type: PaymentCaptured, ProviderOrderID: o.PaymentRef})
	require.Error(t, err)
	assert.NotContains(t, f.activity.actions(), "order.payment_unfulfillable")
}

func TestSettlement_RollsBackWhenUpdateFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOnline(t, "u1", line("tee", 2))

	f.store.failUpdate = errors.New("disk full")
	_, err := f.svc.VerifyPayment(ctx, "u1", VerifyInput{
		OrderID: o.ID, ProviderOrderID: o.PaymentRef, PaymentID: "p", Signature: o.PaymentRef + "|p",
	})
	require.Error(t, err)
	assert.Equal(t, 10, f.store.stock("tee"), "stock deduction is rolled back with the order update")
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.placeCOD(t, "u1", line("tee", 1))
	f.placeCOD(t, "u2", line("tee", 1))

	got, err := f.svc.GetForUser(ctx, "u1", mine.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)

	_, err = f.svc.GetForUser(ctx, "u2", mine.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	list, total, err := f.svc.ListForUser(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)

	all, total, err := f.svc.List(ctx, Filter{Status: StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)
}
