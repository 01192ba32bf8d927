package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/auth"
	"github.com/xenking/storefront/internal/domain/activity"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/dashboard"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/media"
	"github.com/xenking/storefront/internal/notify"
	"github.com/xenking/storefront/internal/payment"
	"github.com/xenking/storefront/internal/repository"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.Bool("production", cfg.Production))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	products := repository.NewProductRepository(pool)
	categories := repository.NewCategoryRepository(pool)
	coupons := repository.NewCouponRepository(pool)
	carts := repository.NewCartRepository(pool)
	users := repository.NewUserRepository(pool)
	orders := repository.NewOrderStore(pool)
	audit := repository.NewActivityRepository(pool)

	// Redis is optional: without it webhook replays are caught by the order
	// state alone and notifications are only logged.
	var (
		replays  order.ReplayGuard
		notifier order.Notifier = notify.Log{}
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb))
		replays = payment.NewRedisReplayGuard(rdb, "", cfg.Redis.ReplayTTL)
		notifier = notify.NewRedisStream(rdb, users, cfg.Redis.Stream, cfg.Redis.StreamMaxLen)
		lg.Info("Redis enabled", zap.String("stream", cfg.Redis.Stream))
	}

	healthSvc.Start(ctx, 10*time.Second)

	// Payment provider.
	signer, err := payment.NewSigner(cfg.Payment.KeySecret, cfg.Payment.WebhookSecret)
	if err != nil {
		return errors.Wrap(err, "create payment signer")
	}
	gateway, err := payment.NewClient(payment.ClientConfig{
		BaseURL:        cfg.Payment.BaseURL,
		KeyID:          cfg.Payment.KeyID,
		KeySecret:      cfg.Payment.KeySecret,
		Currency:       cfg.Payment.Currency,
		Timeout:        cfg.Payment.Timeout,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create payment client")
	}

	// Domain services.
	tokens, err := auth.NewTokens(auth.TokensConfig{
		UserSecret:  []byte(cfg.Auth.UserSecret),
		AdminSecret: []byte(cfg.Auth.AdminSecret),
		AccessTTL:   cfg.Auth.AccessTTL,
		RefreshTTL:  cfg.Auth.RefreshTTL,
	})
	if err != nil {
		return errors.Wrap(err, "create token issuer")
	}
	pricing, err := cfg.Pricing.Pricing()
	if err != nil {
		return errors.Wrap(err, "pricing")
	}
	recorder := activity.NewAsyncRecorder(audit, 5*time.Second)

	orderService, err := order.NewService(order.Deps{
		Store:      orders,
		Gateway:    gateway,
		Signatures: signer,
		Replays:    replays,
		Notifier:   notifier,
		Activity:   recorder,
	}, order.Config{
		Pricing:        pricing,
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	var images handler.Images
	if cfg.Media.Bucket != "" {
		uploader, err := media.NewS3Uploader(ctx, media.S3Config{
			Bucket:        cfg.Media.Bucket,
			Region:        cfg.Media.Region,
			Endpoint:      cfg.Media.Endpoint,
			PublicBaseURL: cfg.Media.PublicBaseURL,
			Prefix:        cfg.Media.Prefix,
		})
		if err != nil {
			return errors.Wrap(err, "create media uploader")
		}
		images = uploader
	} else {
		lg.Warn("Media bucket is not configured, image uploads are disabled")
	}

	h, err := handler.NewHandler(handler.Deps{
		Accounts:   user.NewService(users, tokens),
		Tokens:     tokens,
		Products:   products,
		Categories: categories,
		Carts:      cart.NewService(carts, products),
		Coupons:    coupons,
		Preview:    coupon.NewRepoValidator(coupons),
		Orders:     orderService,
		Webhooks:   signer,
		Images:     images,
		Dashboard:  dashboard.NewService(orders, products, users, dashboard.Config{}),
		Activity:   audit,
		Audit:      recorder,
		AuthRateLimit: httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Name:   "auth",
			Max:    cfg.AuthRateLimit.Max,
			Window: cfg.AuthRateLimit.Window,
		}),
	}, handler.Config{Production: cfg.Production})
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	// Router: health endpoints stay out of request logging.
	routeFinder := func(r *http.Request) string {
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			return rctx.RoutePattern()
		}
		return ""
	}
	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Group(func(r chi.Router) {
		r.Use(httpmiddleware.Labeler(routeFinder), httpmiddleware.LogRequests(routeFinder))
		h.Mount(r)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			chimiddleware.RealIP,
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Name:   "global",
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("storefront-api", m),
		),
	}
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
