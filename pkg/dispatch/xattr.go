package dispatch

import (
	"context"

	"github.com/mvailati/fusegate/pkg/reqctx"
)

// Setxattr sets an extended attribute on a filesystem object. flags
// carries the setxattr(2) create/replace constraints unchanged.
func (r *Router) Setxattr(ctx context.Context, caller reqctx.Caller, filePath, name string, value []byte, flags int) (err error) {
	done := r.track("setxattr")
	defer func() { done(err) }()

	if r.ops.Setxattr == nil {
		return notSupported("setxattr")
	}
	return r.ops.Setxattr(r.attach(ctx, caller), filePath, name, value, flags)
}

// Getxattr reads the value of an extended attribute.
func (r *Router) Getxattr(ctx context.Context, caller reqctx.Caller, filePath, name string) (value []byte, err error) {
	done := r.track("getxattr")
	defer func() { done(err) }()

	if r.ops.Getxattr == nil {
		return nil, notSupported("getxattr")
	}
	return r.ops.Getxattr(r.attach(ctx, caller), filePath, name)
}

// Listxattr lists the extended attribute names on a filesystem object.
func (r *Router) Listxattr(ctx context.Context, caller reqctx.Caller, filePath string) (names []string, err error) {
	done := r.track("listxattr")
	defer func() { done(err) }()

	if r.ops.Listxattr == nil {
		return nil, notSupported("listxattr")
	}
	return r.ops.Listxattr(r.attach(ctx, caller), filePath)
}

// Removexattr removes an extended attribute.
func (r *Router) Removexattr(ctx context.Context, caller reqctx.Caller, filePath, name string) (err error) {
	done := r.track("removexattr")
	defer func() { done(err) }()

	if r.ops.Removexattr == nil {
		return notSupported("removexattr")
	}
	return r.ops.Removexattr(r.attach(ctx, caller), filePath, name)
}
