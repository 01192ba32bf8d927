package auth

import "context"

// Principal identifies the caller of an authenticated request.
type Principal struct {
	UserID string
	Kind   Kind
	Role   string
}

// IsAdmin reports whether the principal authenticated with an admin token.
func (p Principal) IsAdmin() bool {
	return p.Kind == KindAdmin
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
