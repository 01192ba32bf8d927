package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RateLimitConfig configures a sliding window limiter.
type RateLimitConfig struct {
	// Name labels the limiter in logs, e.g. "global" or "auth".
	Name string
	// Max is the number of requests allowed per window.
	Max int
	// Window is the window length.
	Window time.Duration
	// KeyFunc extracts the limit key from a request. Defaults to the client
	// IP taken from RemoteAddr, which chi's RealIP has already rewritten
	// from X-Forwarded-For / X-Real-IP when the server sits behind a proxy.
	KeyFunc func(*http.Request) string
}

// counter holds request counts of two adjacent fixed windows. The effective
// count is the current window plus the previous one weighted by how much of
// it still overlaps the sliding window.
type counter struct {
	prev      float64
	prevStart time.Time
	curr      float64
	currStart time.Time
}

type limiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	counters map[string]*counter
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return &limiter{cfg: cfg, counters: make(map[string]*counter)}
}

// take counts one request for key when it fits in the limit.
func (l *limiter) take(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, found := l.counters[key]
	if !found {
		c = &counter{currStart: now}
		l.counters[key] = c
	}

	if now.Sub(c.currStart) >= l.cfg.Window {
		c.prev, c.prevStart = c.curr, c.currStart
		c.curr, c.currStart = 0, now.Truncate(l.cfg.Window)
		if now.Sub(c.prevStart) >= 2*l.cfg.Window {
			c.prev = 0
		}
	}

	overlap := max(0, 1-now.Sub(c.currStart).Seconds()/l.cfg.Window.Seconds())
	used := c.prev*overlap + c.curr
	resetAt = c.currStart.Add(l.cfg.Window)
	if used >= float64(l.cfg.Max) {
		return 0, resetAt, false
	}

	c.curr++
	return max(0, int(float64(l.cfg.Max)-used-1)), resetAt, true
}

// evict drops counters whose windows have both expired.
func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.counters {
		if now.Sub(c.currStart) >= 2*l.cfg.Window {
			delete(l.counters, key)
		}
	}
}

func (l *limiter) evictEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

// RateLimit returns a per-key sliding window limiter. Rejected requests get
// 429 with a Retry-After header; every response carries X-RateLimit-Limit,
// X-RateLimit-Remaining and X-RateLimit-Reset.
//
// Counters are never evicted; use RateLimitWithCleanup in long-running servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit plus a goroutine that evicts stale
// counters every two windows until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.evictEvery(ctx, 2*l.cfg.Window)
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.cfg.KeyFunc(r)
		remaining, resetAt, ok := l.take(key, time.Now())

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !ok {
			retry := max(0, time.Until(resetAt))
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			zctx.From(r.Context()).Warn("Rate limit exceeded",
				zap.String("limiter", l.cfg.Name),
				zap.String("key", key),
			)
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
