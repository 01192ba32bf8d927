package payment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const maxResponseSize = 1 << 20

// ClientConfig configures the provider API client.
type ClientConfig struct {
	BaseURL        string
	KeyID          string
	KeySecret      string
	Currency       string
	Timeout        time.Duration
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Client creates provider orders over the provider REST API.
type Client struct {
	http      *http.Client
	baseURL   string
	keyID     string
	keySecret string
	currency  string
}

// APIError is a non-2xx provider response.
type APIError struct {
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("payment provider: status %d", e.Status)
	}
	return fmt.Sprintf("payment provider: status %d: %s: %s", e.Status, e.Code, e.Description)
}

// NewClient creates a Client whose transport is traced with otelhttp.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" || cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, errors.New("payment base URL, key id and key secret are required")
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		opts = append(opts, otelhttp.WithMeterProvider(cfg.MeterProvider))
	}

	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
		},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		currency:  cfg.Currency,
	}, nil
}

// MinorUnits converts an amount to the smallest currency unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// CreatePayment opens a provider order for amount and returns its ID.
func (c *Client) CreatePayment(ctx context.Context, receipt string, amount decimal.Decimal) (string, error) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) { e.Int64(MinorUnits(amount)) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(c.currency) })
		e.Field("receipt", func(e *jx.Encoder) { e.Str(receipt) })
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(e.Bytes()))
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", decodeAPIError(resp.StatusCode, body)
	}

	var id string
	if err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "id" {
			return d.Skip()
		}
		v, err := d.Str()
		id = v
		return err
	}); err != nil {
		return "", errors.Wrap(err, "decode response")
	}
	if id == "" {
		return "", errors.New("provider response has no order id")
	}
	return id, nil
}

// decodeAPIError reads {"error": {"code": ..., "description": ...}}.
func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{Status: status}
	_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "error" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "code":
				v, err := d.Str()
				apiErr.Code = v
				return err
			case "description":
				v, err := d.Str()
				apiErr.Description = v
				return err
			default:
				return d.Skip()
			}
		})
	})
	return apiErr
}
