// Package httpmiddleware contains the net/http middleware shared by the API
// server: panic recovery, CORS, rate limiting, request IDs, request-scoped
// loggers and OpenTelemetry instrumentation.
package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/jx"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares to h. The first middleware is the outermost.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RouteFinder returns the matched route pattern of r, e.g. "/api/orders/{id}".
// It returns "" when the request did not match a route.
type RouteFinder func(r *http.Request) string

// writeError writes the API error body {"code": ..., "message": ...}.
func writeError(w http.ResponseWriter, status int, code, message string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
