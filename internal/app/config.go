package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
)

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr          string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Production    bool   `default:"false" usage:"Hide internal error details from API responses"`
	Auth          AuthConfig
	Payment       PaymentConfig
	Pricing       PricingConfig
	Redis         RedisConfig
	Media         MediaConfig
	RateLimit     RateLimitConfig
	AuthRateLimit AuthRateLimitConfig
	CORS          CORSConfig
	Graceful      GracefulConfig
}

// AuthConfig holds JWT signing secrets. Customer and admin tokens use
// different secrets.
type AuthConfig struct {
	UserSecret  string        `usage:"HMAC secret for customer tokens" flag:"user-secret"`
	AdminSecret string        `usage:"HMAC secret for admin tokens" flag:"admin-secret"`
	AccessTTL   time.Duration `default:"15m" usage:"Access token lifetime" flag:"access-ttl"`
	RefreshTTL  time.Duration `default:"168h" usage:"Refresh token lifetime" flag:"refresh-ttl"`
}

// PaymentConfig configures the payment provider.
type PaymentConfig struct {
	BaseURL       string        `default:"https://api.razorpay.com" usage:"Payment provider API base URL" flag:"payment-base-url"`
	KeyID         string        `usage:"Payment provider key id" flag:"payment-key-id"`
	KeySecret     string        `usage:"Payment provider key secret" flag:"payment-key-secret"`
	WebhookSecret string        `usage:"Payment webhook signing secret" flag:"payment-webhook-secret"`
	Currency      string        `default:"INR" usage:"ISO currency code"`
	Timeout       time.Duration `default:"10s" usage:"Payment provider request timeout" flag:"payment-timeout"`
}

// PricingConfig holds the checkout charges as decimal strings.
type PricingConfig struct {
	TaxRate          string `default:"0.18" usage:"Tax rate applied to the discounted subtotal" flag:"tax-rate"`
	DeliveryFee      string `default:"50" usage:"Delivery fee" flag:"delivery-fee"`
	FreeDeliveryOver string `default:"500" usage:"Subtotal from which delivery is free (0 disables)" flag:"free-delivery-over"`
}

// RedisConfig enables the webhook replay guard and the notification stream.
// Both fall back to in-process behaviour when URL is empty.
type RedisConfig struct {
	URL          string        `usage:"Redis URL (STORE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Stream       string        `default:"storefront:orders" usage:"Order notification stream" flag:"redis-stream"`
	StreamMaxLen int64         `default:"100000" usage:"Approximate stream length cap" flag:"redis-stream-max-len"`
	ReplayTTL    time.Duration `default:"72h" usage:"How long processed webhook event IDs are remembered" flag:"replay-ttl"`
}

// MediaConfig configures product image storage. Uploads are disabled when
// Bucket is empty.
type MediaConfig struct {
	Bucket        string `usage:"S3 bucket for product images" flag:"media-bucket"`
	Region        string `default:"us-east-1" usage:"S3 region" flag:"media-region"`
	Endpoint      string `usage:"Custom S3 endpoint (MinIO, LocalStack)" flag:"media-endpoint"`
	PublicBaseURL string `usage:"Public base URL of uploaded images" flag:"media-public-url"`
	Prefix        string `default:"products" usage:"Object key prefix" flag:"media-prefix"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// AuthRateLimitConfig is the stricter limit applied to login, register and
// refresh endpoints on top of the global one.
type AuthRateLimitConfig struct {
	Max    int           `default:"10" usage:"Max auth requests per window"`
	Window time.Duration `default:"1m" usage:"Auth rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	case c.Auth.UserSecret == "" || c.Auth.AdminSecret == "":
		return errors.New("STORE_AUTH_USER_SECRET and STORE_AUTH_ADMIN_SECRET are required")
	case c.Payment.KeySecret == "" || c.Payment.WebhookSecret == "":
		return errors.New("STORE_PAYMENT_KEY_SECRET and STORE_PAYMENT_WEBHOOK_SECRET are required")
	}
	if _, err := c.Pricing.Pricing(); err != nil {
		return err
	}
	return nil
}

// Pricing parses the configured charges.
func (p PricingConfig) Pricing() (order.Pricing, error) {
	parse := func(name, v string) (decimal.Decimal, error) {
		if v == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "parse %s", name)
		}
		if d.IsNegative() {
			return decimal.Zero, errors.Errorf("%s must not be negative", name)
		}
		return d, nil
	}

	var (
		out order.Pricing
		err error
	)
	if out.TaxRate, err = parse("tax rate", p.TaxRate); err != nil {
		return out, err
	}
	if out.DeliveryFee, err = parse("delivery fee", p.DeliveryFee); err != nil {
		return out, err
	}
	if out.FreeDeliveryOver, err = parse("free delivery threshold", p.FreeDeliveryOver); err != nil {
		return out, err
	}
	return out, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STORE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
