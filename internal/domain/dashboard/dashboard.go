// Package dashboard aggregates the admin overview.
package dashboard

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// OrderStats are the order aggregates read by the dashboard.
type OrderStats interface {
	// Revenue sums totals of paid orders that were not cancelled.
	Revenue(ctx context.Context) (decimal.Decimal, error)
	CountByStatus(ctx context.Context) (map[order.Status]int, error)
	CountByPaymentStatus(ctx context.Context) (map[order.PaymentStatus]int, error)
	Recent(ctx context.Context, limit int) ([]order.Order, error)
}

// UserCounter counts registered users.
type UserCounter interface {
	Count(ctx context.Context) (int, error)
}

// Stats is the admin overview.
type Stats struct {
	Revenue          decimal.Decimal
	Orders           int
	OrdersByStatus   map[order.Status]int
	PaymentsByStatus map[order.PaymentStatus]int
	Products         int
	Users            int
	LowStock         []product.Product
	RecentOrders     []order.Order
}

// Config tunes the overview.
type Config struct {
	LowStockThreshold int
	LowStockLimit     int
	RecentOrders      int
}

// Service computes dashboard stats.
type Service struct {
	orders   OrderStats
	products product.Repository
	users    UserCounter
	cfg      Config
}

// NewService creates a dashboard service.
func NewService(orders OrderStats, products product.Repository, users UserCounter, cfg Config) *Service {
	if cfg.LowStockThreshold <= 0 {
		cfg.LowStockThreshold = 5
	}
	if cfg.LowStockLimit <= 0 {
		cfg.LowStockLimit = 10
	}
	if cfg.RecentOrders <= 0 {
		cfg.RecentOrders = 5
	}
	return &Service{orders: orders, products: products, users: users, cfg: cfg}
}

// Stats runs the aggregate queries concurrently.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		st.Revenue, err = s.orders.Revenue(ctx)
		if err != nil {
			return errors.Wrap(err, "revenue")
		}
		return nil
	})
	g.Go(func() (err error) {
		st.OrdersByStatus, err = s.orders.CountByStatus(ctx)
		if err != nil {
			return errors.Wrap(err, "orders by status")
		}
		return nil
	})
	g.Go(func() (err error) {
		st.PaymentsByStatus, err = s.orders.CountByPaymentStatus(ctx)
		if err != nil {
			return errors.Wrap(err, "payments by status")
		}
		return nil
	})
	g.Go(func() (err error) {
		_, st.Products, err = s.products.List(ctx, product.Filter{Page: 1, Limit: 1})
		if err != nil {
			return errors.Wrap(err, "count products")
		}
		return nil
	})
	g.Go(func() (err error) {
		st.Users, err = s.users.Count(ctx)
		if err != nil {
			return errors.Wrap(err, "count users")
		}
		return nil
	})
	g.Go(func() (err error) {
		st.LowStock, err = s.products.LowStock(ctx, s.cfg.LowStockThreshold, s.cfg.LowStockLimit)
		if err != nil {
			return errors.Wrap(err, "low stock")
		}
		return nil
	})
	g.Go(func() (err error) {
		st.RecentOrders, err = s.orders.Recent(ctx, s.cfg.RecentOrders)
		if err != nil {
			return errors.Wrap(err, "recent orders")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, n := range st.OrdersByStatus {
		st.Orders += n
	}
	return &st, nil
}
