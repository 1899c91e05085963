package tenancy

import "context"

// ctxKey is an unexported type used as the context key for the tenant id.
type ctxKey struct{}

// WithTenant returns a new context carrying the internal tenant id.
func WithTenant(ctx context.Context, internalID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, internalID)
}

// TenantFromContext retrieves the internal tenant id from the context.
// Returns "" and false if no tenant is set.
func TenantFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}
