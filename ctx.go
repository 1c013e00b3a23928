package identity

import "context"

var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithClaimsContext sets the validated Claims in the given context.
func WithClaimsContext(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// ClaimsFromContext finds the validated Claims in the context. Code below the
// transport layer uses this instead of reaching for request locals.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*Claims)
	return raw, ok
}
