package app

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingConfig(t *testing.T) {
	p, err := PricingConfig{TaxRate: "0.18", DeliveryFee: "49.5", FreeDeliveryOver: ""}.Pricing()
	require.NoError(t, err)
	assert.True(t, p.TaxRate.Equal(decimal.RequireFromString("0.18")))
	assert.True(t, p.DeliveryFee.Equal(decimal.RequireFromString("49.5")))
	assert.True(t, p.FreeDeliveryOver.IsZero())

	_, err = PricingConfig{TaxRate: "eighteen"}.Pricing()
	assert.Error(t, err)

	_, err = PricingConfig{DeliveryFee: "-1"}.Pricing()
	assert.Error(t, err)
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9090")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://platform:6379/0", cfg.Redis.URL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)

	explicit := Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
	explicit.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", explicit.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", explicit.Addr)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DatabaseURL: "postgres://localhost/store",
			Auth:        AuthConfig{UserSecret: "u", AdminSecret: "a"},
			Payment:     PaymentConfig{KeySecret: "k", WebhookSecret: "w"},
			Pricing:     PricingConfig{TaxRate: "0.1"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "no database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database URL"},
		{name: "no admin secret", mutate: func(c *Config) { c.Auth.AdminSecret = "" }, wantErr: "ADMIN_SECRET"},
		{name: "no webhook secret", mutate: func(c *Config) { c.Payment.WebhookSecret = "" }, wantErr: "WEBHOOK_SECRET"},
		{name: "bad pricing", mutate: func(c *Config) { c.Pricing.TaxRate = "x" }, wantErr: "tax rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
