package httpmiddleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// InjectLogger stores lg in the request context, annotated with the request
// ID when RequestID ran first. Handlers get it back with zctx.From.
func InjectLogger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := zctx.Base(r.Context(), lg)
			if id := RequestIDFromContext(ctx); id != "" {
				ctx = zctx.With(ctx, zap.String("request_id", id))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type annotationsKey struct{}

type annotations struct {
	mu     sync.Mutex
	fields []zap.Field
}

// Annotate adds fields to the access log line of the current request. Inner
// middleware uses it to report values only it knows, such as the user ID.
// It is a no-op outside LogRequests.
func Annotate(ctx context.Context, fields ...zap.Field) {
	a, ok := ctx.Value(annotationsKey{}).(*annotations)
	if !ok {
		return
	}
	a.mu.Lock()
	a.fields = append(a.fields, fields...)
	a.mu.Unlock()
}

// LogRequests writes one log line per request once the handler returns.
// Server errors are logged at error level, everything else at info.
func LogRequests(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			a := &annotations{}
			r = r.WithContext(context.WithValue(r.Context(), annotationsKey{}, a))
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", find(r)),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			}
			a.mu.Lock()
			fields = append(fields, a.fields...)
			a.mu.Unlock()

			lg := zctx.From(r.Context())
			if status >= http.StatusInternalServerError {
				lg.Error("Request", fields...)
				return
			}
			lg.Info("Request", fields...)
		})
	}
}
