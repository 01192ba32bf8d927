package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// replayStore is the subset of redis.Cmdable used by RedisReplayGuard.
type replayStore interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisReplayGuard remembers processed webhook event IDs in Redis.
type RedisReplayGuard struct {
	client replayStore
	prefix string
	ttl    time.Duration
}

// NewRedisReplayGuard creates a replay guard. Event IDs are kept for ttl.
func NewRedisReplayGuard(client redis.Cmdable, prefix string, ttl time.Duration) *RedisReplayGuard {
	if prefix == "" {
		prefix = "storefront:webhook:"
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisReplayGuard{client: client, prefix: prefix, ttl: ttl}
}

// Seen reports whether eventID has been marked.
func (g *RedisReplayGuard) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := g.client.Exists(ctx, g.prefix+eventID).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis exists")
	}
	return n > 0, nil
}

// Mark records eventID as processed.
func (g *RedisReplayGuard) Mark(ctx context.Context, eventID string) error {
	if err := g.client.SetNX(ctx, g.prefix+eventID, 1, g.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis setnx")
	}
	return nil
}
