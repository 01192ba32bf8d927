// Package handler implements the storefront REST API on top of chi.
//
// Request bodies are checked against the JSON schemas in schemas/ before
// they are decoded, responses are written with jx, and every error goes
// through a single translator that maps domain errors to status codes.
package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

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

// Accounts registers and authenticates users.
type Accounts interface {
	Register(ctx context.Context, in user.RegisterInput) (*user.Session, error)
	Login(ctx context.Context, email, password string, kind auth.Kind) (*user.Session, error)
	Refresh(ctx context.Context, refreshToken string, kind auth.Kind) (*user.Session, error)
	Me(ctx context.Context, userID string) (*user.User, error)
}

// TokenParser validates bearer tokens.
type TokenParser interface {
	Parse(token string, kind auth.Kind, use auth.Use) (*auth.Claims, error)
}

// Carts mutates shopping carts.
type Carts interface {
	Get(ctx context.Context, userID string) (*cart.Cart, error)
	AddItem(ctx context.Context, userID string, in cart.AddInput) (*cart.Cart, error)
	UpdateItem(ctx context.Context, userID, itemID string, quantity int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, userID, itemID string) (*cart.Cart, error)
	Clear(ctx context.Context, userID string) error
}

// Orders drives the order lifecycle.
type Orders interface {
	PlaceOrder(ctx context.Context, userID string, in order.PlaceInput) (*order.Order, error)
	RetryPayment(ctx context.Context, userID, orderID string) (*order.Order, error)
	VerifyPayment(ctx context.Context, userID string, in order.VerifyInput) (*order.Order, error)
	ApplyPaymentEvent(ctx context.Context, ev order.PaymentEvent) error
	Cancel(ctx context.Context, actor order.Actor, orderID string) (*order.Order, error)
	UpdateStatus(ctx context.Context, actor order.Actor, orderID string, in order.StatusUpdate) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	GetForUser(ctx context.Context, userID, id string) (*order.Order, error)
	ListForUser(ctx context.Context, userID string, page, limit int) ([]order.Order, int, error)
	List(ctx context.Context, f order.Filter) ([]order.Order, int, error)
}

// Webhooks authenticates payment provider deliveries.
type Webhooks interface {
	VerifyWebhook(body []byte, signature string) bool
}

// Images stores product images and returns their public URL.
type Images interface {
	Upload(ctx context.Context, productID, filename, contentType string, body io.Reader) (string, error)
}

// Dashboard computes the admin overview.
type Dashboard interface {
	Stats(ctx context.Context) (*dashboard.Stats, error)
}

// Deps are the collaborators of the API.
type Deps struct {
	Accounts   Accounts
	Tokens     TokenParser
	Products   product.Repository
	Categories category.Repository
	Carts      Carts
	Coupons    coupon.Repository
	Preview    coupon.Validator
	Orders     Orders
	Webhooks   Webhooks
	Images     Images
	Dashboard  Dashboard
	Activity   activity.Repository
	Audit      activity.Recorder

	// AuthRateLimit guards the login, register and refresh routes. Optional.
	AuthRateLimit func(http.Handler) http.Handler
}

// Config tunes the API.
type Config struct {
	// Production hides internal error messages from clients.
	Production bool
	// MaxBodySize limits JSON request bodies. Defaults to 1 MiB.
	MaxBodySize int64
	// MaxUploadSize limits multipart image uploads. Defaults to 6 MiB.
	MaxUploadSize int64
}

// Handler serves the REST API.
type Handler struct {
	Deps
	cfg     Config
	schemas *schemas
	now     func() time.Time
}

// NewHandler compiles the request schemas and creates a Handler.
func NewHandler(deps Deps, cfg Config) (*Handler, error) {
	if deps.Accounts == nil || deps.Tokens == nil || deps.Orders == nil {
		return nil, errors.New("accounts, tokens and orders are required")
	}
	if deps.Audit == nil {
		deps.Audit = activity.Nop{}
	}
	if deps.AuthRateLimit == nil {
		deps.AuthRateLimit = func(next http.Handler) http.Handler { return next }
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 1 << 20
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 6 << 20
	}

	s, err := compileSchemas()
	if err != nil {
		return nil, errors.Wrap(err, "compile request schemas")
	}
	return &Handler{Deps: deps, cfg: cfg, schemas: s, now: time.Now}, nil
}

// Mount registers the API routes on r under /api.
func (h *Handler) Mount(r chi.Router) {
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.fail(w, r, errRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.fail(w, r, errMethodNotAllowed)
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.AuthRateLimit)
			r.Post("/auth/register", h.register)
			r.Post("/auth/login", h.login(auth.KindUser))
			r.Post("/auth/refresh", h.refresh(auth.KindUser))
			r.Post("/admin/auth/login", h.login(auth.KindAdmin))
			r.Post("/admin/auth/refresh", h.refresh(auth.KindAdmin))
		})

		r.Get("/categories", h.listCategories)
		r.Get("/categories/{id}", h.getCategory)
		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.getProduct)
		r.Post("/payments/webhook", h.paymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate(auth.KindUser))

			r.Get("/auth/me", h.me)

			r.Get("/cart", h.getCart)
			r.Delete("/cart", h.clearCart)
			r.Post("/cart/items", h.addCartItem)
			r.Patch("/cart/items/{itemID}", h.updateCartItem)
			r.Delete("/cart/items/{itemID}", h.removeCartItem)

			r.Post("/coupons/validate", h.validateCoupon)

			r.Post("/orders", h.placeOrder)
			r.Get("/orders", h.listMyOrders)
			r.Get("/orders/{id}", h.getMyOrder)
			r.Post("/orders/{id}/cancel", h.cancelMyOrder)
			r.Post("/orders/{id}/payment", h.retryPayment)
			r.Post("/payments/verify", h.verifyPayment)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.authenticate(auth.KindAdmin))

			r.Get("/dashboard", h.dashboard)
			r.Get("/activity", h.listActivity)

			r.Get("/categories", h.listCategories)
			r.Post("/categories", h.createCategory)
			r.Get("/categories/{id}", h.getCategory)
			r.Put("/categories/{id}", h.updateCategory)
			r.Delete("/categories/{id}", h.deleteCategory)

			r.Get("/products", h.adminListProducts)
			r.Post("/products", h.createProduct)
			r.Get("/products/{id}", h.adminGetProduct)
			r.Put("/products/{id}", h.updateProduct)
			r.Delete("/products/{id}", h.deleteProduct)
			r.Post("/products/{id}/images", h.uploadProductImage)

			r.Get("/coupons", h.listCoupons)
			r.Post("/coupons", h.createCoupon)
			r.Put("/coupons/{code}", h.updateCoupon)
			r.Delete("/coupons/{code}", h.deleteCoupon)

			r.Get("/orders", h.adminListOrders)
			r.Get("/orders/{id}", h.adminGetOrder)
			r.Patch("/orders/{id}/status", h.updateOrderStatus)
			r.Post("/orders/{id}/cancel", h.adminCancelOrder)
		})
	})
}
