package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/xenking/storefront/internal/domain/category"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/repository"
)

type catalogJSON struct {
	Categories []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"categories"`
	Products []struct {
		ID            string          `json:"id"`
		CategoryID    string          `json:"category_id"`
		Name          string          `json:"name"`
		Description   string          `json:"description"`
		Price         decimal.Decimal `json:"price"`
		DiscountPrice decimal.Decimal `json:"discount_price"`
		Stock         int             `json:"stock"`
		Sizes         []string        `json:"sizes"`
		Colors        []string        `json:"colors"`
		Images        []string        `json:"images"`
	} `json:"products"`
}

func main() {
	var (
		databaseURL   string
		productsFile  string
		adminEmail    string
		adminPassword string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to catalog JSON file")
	flag.StringVar(&adminEmail, "admin-email", "admin@storefront.local", "admin account e-mail")
	flag.StringVar(&adminPassword, "admin-password", "", "admin account password (or STORE_SEED_ADMIN_PASSWORD env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminPassword == "" {
		adminPassword = os.Getenv("STORE_SEED_ADMIN_PASSWORD")
	}
	if len(adminPassword) < 8 {
		slog.Error("admin password of at least 8 characters is required: set --admin-password or STORE_SEED_ADMIN_PASSWORD")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, adminEmail, adminPassword); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, adminEmail, adminPassword string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedCoupons(ctx, repository.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAdmin(ctx, repository.NewUserRepository(pool), adminEmail, adminPassword); err != nil {
		return errors.Wrap(err, "seed admin")
	}

	return nil
}

// seedCatalog inserts categories and products. Rows that already exist are
// left untouched so the seed can be re-run against a live database.
func seedCatalog(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading catalog file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}

	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	categories := repository.NewCategoryRepository(pool)
	for _, c := range catalog.Categories {
		err := categories.Create(ctx, &category.Category{ID: c.ID, Name: c.Name, Description: c.Description})
		switch {
		case errors.Is(err, category.ErrDuplicate):
			slog.Info("category exists", slog.String("id", c.ID))
		case err != nil:
			return errors.Wrapf(err, "create category %s", c.ID)
		default:
			slog.Info("created category", slog.String("id", c.ID), slog.String("name", c.Name))
		}
	}

	products := repository.NewProductRepository(pool)
	for _, p := range catalog.Products {
		err := products.Create(ctx, &product.Product{
			ID:            p.ID,
			CategoryID:    p.CategoryID,
			Name:          p.Name,
			Description:   p.Description,
			Price:         p.Price,
			DiscountPrice: p.DiscountPrice,
			Stock:         p.Stock,
			Sizes:         p.Sizes,
			Colors:        p.Colors,
			Images:        p.Images,
			IsActive:      true,
		})
		switch {
		case errors.Is(err, product.ErrDuplicate):
			slog.Info("product exists", slog.String("id", p.ID))
		case err != nil:
			return errors.Wrapf(err, "create product %s", p.ID)
		default:
			slog.Info("created product", slog.String("id", p.ID), slog.String("name", p.Name))
		}
	}

	return nil
}

func seedCoupons(ctx context.Context, coupons *repository.CouponRepository) error {
	slog.Info("seeding coupons")

	rules := []coupon.Rule{
		{
			Code:         "WELCOME10",
			Description:  "10% off your first order",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			MaxDiscount:  decimal.NewFromInt(500),
			Active:       true,
		},
		{
			Code:         "FLAT200",
			Description:  "200 off orders above 1499",
			DiscountType: coupon.DiscountFixed,
			Value:        decimal.NewFromInt(200),
			MinPurchase:  decimal.NewFromInt(1499),
			UsageLimit:   1000,
			Active:       true,
		},
	}

	n, err := coupons.Upsert(ctx, rules)
	if err != nil {
		return err
	}
	slog.Info("upserted coupons", slog.Int("count", n))

	return nil
}

func seedAdmin(ctx context.Context, users *repository.UserRepository, email, password string) error {
	email = user.NormalizeEmail(email)
	slog.Info("seeding admin account", slog.String("email", email))

	hash, err := user.HashPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	err = users.Create(ctx, &user.User{
		ID:           "admin",
		Name:         "Administrator",
		Email:        email,
		PasswordHash: hash,
		Role:         user.RoleAdmin,
	})
	if errors.Is(err, user.ErrDuplicateEmail) {
		slog.Info("admin account exists", slog.String("email", email))
		return nil
	}
	return err
}
