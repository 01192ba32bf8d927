package cart

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID map[string]*product.Product
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProductRepo) List(context.Context, product.Filter) ([]product.Product, int, error) {
	return nil, 0, nil
}
func (m *mockProductRepo) GetByIDs(context.Context, []string) ([]product.Product, error) {
	return nil, nil
}
func (m *mockProductRepo) Create(context.Context, *product.Product) error { return nil }
func (m *mockProductRepo) Update(context.Context, *product.Product) error { return nil }
func (m *mockProductRepo) Delete(context.Context, string) error { return nil }
func (m *mockProductRepo) AddImage(context.Context, string, string) error { return nil }
func (m *mockProductRepo) LowStock(context.Context, int, int) ([]product.Product, error) {
	return nil, nil
}

// memCarts holds carts in memory. Update serializes on mu like the row
// lock of the database implementation.
type memCarts struct {
	mu    sync.Mutex
	carts map[string]*Cart
	saves int

	// onLock runs after the lock is taken and before the cart is read.
	onLock func(m *memCarts, userID string)
}

func (m *memCarts) load(userID string) *Cart {
	c, ok := m.carts[userID]
	if !ok {
		c = &Cart{UserID: userID}
		m.carts[userID] = c
	}
	cp := *c
	cp.Items = append([]Item(nil), c.Items...)
	return &cp
}

func (m *memCarts) Get(_ context.Context, userID string) (*Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(userID), nil
}

func (m *memCarts) Update(_ context.Context, userID string, fn func(c *Cart) error) (*Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onLock != nil {
		m.onLock(m, userID)
	}
	c := m.load(userID)
	if err := fn(c); err != nil {
		return nil, err
	}
	m.saves++
	cp := *c
	cp.Items = append([]Item(nil), c.Items...)
	m.carts[userID] = &cp
	return c, nil
}

func (m *memCarts) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[userID] = &Cart{UserID: userID}
	return nil
}

// --- Helpers ---

func newFixture() (*Service, *memCarts) {
	products := &mockProductRepo{byID: map[string]*product.Product{
		"tee": {
			ID: "tee", Name: "Tee", IsActive: true, Stock: 5,
			Price: decimal.RequireFromString("20.00"), DiscountPrice: decimal.RequireFromString("15.00"),
			Sizes: []string{"S", "M"}, Colors: []string{"black"},
			Images: []string{"tee.jpg"},
		},
		"mug": {
			ID: "mug", Name: "Mug", IsActive: true, Stock: 3,
			Price: decimal.RequireFromString("8.50"),
		},
		"old": {ID: "old", Name: "Retired", IsActive: false, Stock: 10, Price: decimal.NewFromInt(1)},
	}}
	carts := &memCarts{carts: map[string]*Cart{}}
	return NewService(carts, products), carts
}

// --- Tests ---

func TestGet_CreatesLazily(t *testing.T) {
	svc, carts := newFixture()

	c, err := svc.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Contains(t, carts.carts, "u1")
}

func TestAddItem_SnapshotsPrice(t *testing.T) {
	svc, _ := newFixture()

	c, err := svc.AddItem(context.Background(), "u1", AddInput{ProductID: "tee", Quantity: 2, Size: "M", Color: "black"})
	require.NoError(t, err)
	require.Len(t, c.Items, 1)

	it := c.Items[0]
	assert.NotEmpty(t, it.ID)
	assert.Equal(t, "Tee", it.Name)
	assert.Equal(t, "tee.jpg", it.Image)
	assert.True(t, decimal.RequireFromString("15.00").Equal(it.EffectiveUnitPrice()))

	totals := c.Totals()
	assert.Equal(t, 2, totals.ItemCount)
	assert.True(t, decimal.RequireFromString("40.00").Equal(totals.Original))
	assert.True(t, decimal.RequireFromString("30.00").Equal(totals.Subtotal))
	assert.True(t, decimal.RequireFromString("10.00").Equal(totals.Savings))
}

func TestAddItem_MergesSameVariant(t *testing.T) {
	svc, _ := newFixture()
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", AddInput{ProductID: "tee", Quantity: 1, Size: "S", Color: "black"})
	require.NoError(t, err)
	c, err := svc.AddItem(ctx, "u1", AddInput{ProductID: "tee", Quantity: 2, Size: "S", Color: "black"})
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 3, c.Items[0].Quantity)

	c, err = svc.AddItem(ctx, "u1", AddInput{ProductID: "tee", Quantity: 1, Size: "M", Color: "black"})
	require.NoError(t, err)
	assert.Len(t, c.Items, 2)
}

func TestAddItem_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		in    AddInput
		check func(t *testing.T, err error)
	}{
		{
			name:  "zero quantity",
			in:    AddInput{ProductID: "mug", Quantity: 0},
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrInvalidQuantity) },
		},
		{
			name:  "unknown product",
			in:    AddInput{ProductID: "nope", Quantity: 1},
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, product.ErrNotFound) },
		},
		{
			name: "inactive product",
			in:   AddInput{ProductID: "old", Quantity: 1},
			check: func(t *testing.T, err error) {
				var uErr *product.UnavailableError
				require.ErrorAs(t, err, &uErr)
			},
		},
		{
			name:  "size not offered",
			in:    AddInput{ProductID: "tee", Quantity: 1, Size: "XL", Color: "black"},
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrInvalidVariant) },
		},
		{
			name:  "size on product without sizes",
			in:    AddInput{ProductID: "mug", Quantity: 1, Size: "M"},
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrInvalidVariant) },
		},
		{
			name: "more than stock",
			in:   AddInput{ProductID: "mug", Quantity: 4},
			check: func(t *testing.T, err error) {
				var sErr *product.InsufficientStockError
				require.ErrorAs(t, err, &sErr)
				assert.Equal(t, 4, sErr.Requested)
				assert.Equal(t, 3, sErr.Available)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, carts := newFixture()
			_, err := svc.AddItem(context.Background(), "u1", tt.in)
			tt.check(t, err)
			assert.Zero(t, carts.saves)
		})
	}
}

func TestAddItem_StockCountsAllVariants(t *testing.T) {
	svc, _ := newFixture()
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", AddInput{ProductID: "tee", Quantity: 3, Size: "S", Color: "black"})
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, "u1", AddInput{ProductID: "tee", Quantity: 3, Size: "M", Color: "black"})
	var sErr *product.InsufficientStockError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, 6, sErr.Requested)
}

func TestUpdateAndRemoveItem(t *testing.T) {
	svc, _ := newFixture()
	ctx := context.Background()

	c, err := svc.AddItem(ctx, "u1", AddInput{ProductID: "mug", Quantity: 1})
	require.NoError(t, err)
	id := c.Items[0].ID

	c, err = svc.UpdateItem(ctx, "u1", id, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Items[0].Quantity)

	_, err = svc.UpdateItem(ctx, "u1", id, 4)
	var sErr *product.InsufficientStockError
	require.ErrorAs(t, err, &sErr)

	_, err = svc.UpdateItem(ctx, "u1", id, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.UpdateItem(ctx, "u1", "missing", 1)
	require.ErrorIs(t, err, ErrItemNotFound)

	c, err = svc.RemoveItem(ctx, "u1", id)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())

	_, err = svc.RemoveItem(ctx, "u1", id)
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestClear(t *testing.T) {
	svc, _ := newFixture()
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", AddInput{ProductID: "mug", Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, svc.Clear(ctx, "u1"))

	c, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestAddItem_AfterCheckoutCleared(t *testing.T) {
	svc, carts := newFixture()
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", AddInput{ProductID: "mug", Quantity: 1})
	require.NoError(t, err)

	// An order is placed and clears the cart while the next add waits for the lock.
	carts.onLock = func(m *memCarts, userID string) {
		m.carts[userID] = &Cart{UserID: userID}
		m.onLock = nil
	}
	c, err := svc.AddItem(ctx, "u1", AddInput{ProductID: "tee", Quantity: 1, Size: "S", Color: "black"})
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "tee", c.Items[0].ProductID)

	stored, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "tee", stored.Items[0].ProductID)
}

func TestAddItem_ConcurrentAddsKeepAllLines(t *testing.T) {
	svc, _ := newFixture()
	ctx := context.Background()

	sizes := []string{"S", "M"}
	var wg sync.WaitGroup
	errs := make([]error, len(sizes))
	for i, size := range sizes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.AddItem(ctx, "u1", AddInput{ProductID: "tee", Quantity: 1, Size: size, Color: "black"})
		}()
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "add %d", i)
	}

	c, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, c.Items, 2)
	assert.Equal(t, 2, c.Totals().ItemCount)
}
