package order

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// memStore is an in-memory Store. InTx serializes transactions and restores
// a snapshot when fn fails, mirroring a database rollback.
type memStore struct {
	mu       sync.Mutex
	products map[string]*product.Product
	carts    map[string]*cart.Cart
	coupons  map[string]*coupon.Rule
	orders   map[string]*Order

	failUpdate error
	commits    int
}

func newMemStore() *memStore {
	return &memStore{
		products: map[string]*product.Product{},
		carts:    map[string]*cart.Cart{},
		coupons:  map[string]*coupon.Rule{},
		orders:   map[string]*Order{},
	}
}

type memSnapshot struct {
	products map[string]*product.Product
	carts    map[string]*cart.Cart
	coupons  map[string]*coupon.Rule
	orders   map[string]*Order
}

func copyOrder(o *Order) *Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	cp.PreviousPaymentRefs = slices.Clone(o.PreviousPaymentRefs)
	return &cp
}

func copyCart(c *cart.Cart) *cart.Cart {
	cp := *c
	cp.Items = slices.Clone(c.Items)
	return &cp
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		products: make(map[string]*product.Product, len(s.products)),
		carts:    make(map[string]*cart.Cart, len(s.carts)),
		coupons:  make(map[string]*coupon.Rule, len(s.coupons)),
		orders:   make(map[string]*Order, len(s.orders)),
	}
	for k, v := range s.products {
		cp := *v
		snap.products[k] = &cp
	}
	for k, v := range s.carts {
		snap.carts[k] = copyCart(v)
	}
	for k, v := range s.coupons {
		cp := *v
		snap.coupons[k] = &cp
	}
	for k, v := range s.orders {
		snap.orders[k] = copyOrder(v)
	}
	return snap
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.products, s.carts, s.coupons, s.orders = snap.products, snap.carts, snap.coupons, snap.orders
		return err
	}
	s.commits++
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(o), nil
}

func (s *memStore) sorted(keep func(*Order) bool) []Order {
	var out []Order
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, *copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func page(all []Order, pageNo, limit int) []Order {
	start := (pageNo - 1) * limit
	if start >= len(all) {
		return nil
	}
	return all[start:min(start+limit, len(all))]
}

func (s *memStore) ListByUser(_ context.Context, userID string, pageNo, limit int) ([]Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sorted(func(o *Order) bool { return o.UserID == userID })
	return page(all, pageNo, limit), len(all), nil
}

func (s *memStore) List(_ context.Context, f Filter) ([]Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sorted(func(o *Order) bool {
		return (f.Status == "" || o.Status == f.Status) &&
			(f.PaymentStatus == "" || o.PaymentStatus == f.PaymentStatus) &&
			(f.UserID == "" || o.UserID == f.UserID)
	})
	return page(all, f.Page, f.Limit), len(all), nil
}

// stock returns the current stock of a product outside any transaction.
func (s *memStore) stock(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Stock
}

func (s *memStore) couponUses(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coupons[code].UsedCount
}

func (s *memStore) cartLen(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		return 0
	}
	return len(c.Items)
}

type memTx struct {
	s *memStore
}

func (t *memTx) Cart(_ context.Context, userID string) (*cart.Cart, error) {
	c, ok := t.s.carts[userID]
	if !ok {
		c = &cart.Cart{UserID: userID}
		t.s.carts[userID] = c
	}
	return copyCart(c), nil
}

func (t *memTx) ClearCart(_ context.Context, userID string) error {
	t.s.carts[userID] = &cart.Cart{UserID: userID}
	return nil
}

func (t *memTx) LockProducts(_ context.Context, ids []string) (map[string]product.Product, error) {
	out := make(map[string]product.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			out[id] = *p
		}
	}
	return out, nil
}

func (t *memTx) AdjustStock(_ context.Context, productID string, delta int) error {
	p, ok := t.s.products[productID]
	if !ok {
		return product.ErrNotFound
	}
	if p.Stock+delta < 0 {
		return &product.InsufficientStockError{
			ProductID: p.ID, Name: p.Name, Requested: -delta, Available: p.Stock,
		}
	}
	p.Stock += delta
	return nil
}

func (t *memTx) Coupon(_ context.Context, code string) (*coupon.Rule, error) {
	r, ok := t.s.coupons[code]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	cp := *r
	return &cp, nil
}

func (t *memTx) RedeemCoupon(_ context.Context, code string) error {
	r, ok := t.s.coupons[code]
	if !ok {
		return coupon.ErrInvalidCoupon
	}
	if r.UsageLimit > 0 && r.UsedCount >= r.UsageLimit {
		return coupon.ErrCouponUsageLimitReached
	}
	r.UsedCount++
	return nil
}

func (t *memTx) Create(_ context.Context, o *Order) error {
	if _, ok := t.s.orders[o.ID]; ok {
		return errors.New("duplicate order id")
	}
	t.s.orders[o.ID] = copyOrder(o)
	return nil
}

func (t *memTx) Lock(_ context.Context, id string) (*Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(o), nil
}

func (t *memTx) LockByPaymentRef(_ context.Context, ref string) (*Order, error) {
	for _, o := range t.s.orders {
		if o.HasPaymentRef(ref) {
			return copyOrder(o), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) Update(_ context.Context, o *Order) error {
	if t.s.failUpdate != nil {
		return t.s.failUpdate
	}
	if _, ok := t.s.orders[o.ID]; !ok {
		return ErrNotFound
	}
	t.s.orders[o.ID] = copyOrder(o)
	return nil
}
