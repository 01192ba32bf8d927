package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/user"
)

// UserLookup resolves the recipient of an order event.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
}

type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStream appends order events to a Redis stream consumed by the mailer.
type RedisStream struct {
	client streamClient
	users  UserLookup
	stream string
	maxLen int64
}

// NewRedisStream creates a notifier writing to stream. The stream is
// trimmed to roughly maxLen entries when maxLen > 0.
func NewRedisStream(client redis.Cmdable, users UserLookup, stream string, maxLen int64) *RedisStream {
	if stream == "" {
		stream = "storefront:orders"
	}
	return &RedisStream{client: client, users: users, stream: stream, maxLen: maxLen}
}

// Notify implements order.Notifier.
func (n *RedisStream) Notify(ctx context.Context, ev order.Event) error {
	u, err := n.users.GetByID(ctx, ev.Order.UserID)
	if err != nil {
		return errors.Wrapf(err, "resolve recipient of order %s", ev.Order.ID)
	}

	inv := NewInvoice(&ev.Order, u.Email)
	args := &redis.XAddArgs{
		Stream: n.stream,
		Values: []any{
			"event", string(ev.Type),
			"order_id", ev.Order.ID,
			"email", u.Email,
			"name", u.Name,
			"status", string(ev.Order.Status),
			"payment_status", string(ev.Order.PaymentStatus),
			"invoice", string(inv.JSON()),
			"at", ev.At.UTC().Format(time.RFC3339),
		},
	}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}
	if err := n.client.XAdd(ctx, args).Err(); err != nil {
		return errors.Wrap(err, "xadd")
	}
	return nil
}

// Log writes order events to the request logger. It is used when no
// Redis instance is configured.
type Log struct{}

// Notify implements order.Notifier.
func (Log) Notify(ctx context.Context, ev order.Event) error {
	zctx.From(ctx).Info("Order event",
		zap.String("event", string(ev.Type)),
		zap.String("order_id", ev.Order.ID),
		zap.String("user_id", ev.Order.UserID),
		zap.String("invoice", InvoiceNumber(ev.Order.ID, ev.Order.CreatedAt)),
		zap.String("total", ev.Order.Total.StringFixed(2)),
	)
	return nil
}
