package reqctx

import "context"

// callerKey is the private context key type for Caller values. A private
// type prevents collisions with other packages' context keys.
type callerKey struct{}

// WithCaller returns a context carrying the caller identity.
//
// The dispatch layer calls this once per request before the first
// backend-facing call; the value is scoped to that request's context tree
// and disappears with it.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom extracts the caller identity from ctx.
//
// ok is false when ctx does not belong to a dispatched request (e.g. in
// backend-internal maintenance goroutines).
func CallerFrom(ctx context.Context) (c Caller, ok bool) {
	c, ok = ctx.Value(callerKey{}).(Caller)
	return c, ok
}
