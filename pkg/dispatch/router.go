// Package dispatch implements the operation router: the top-level entry
// point that sits between a filesystem request transport and a pluggable
// backend.
//
// The router is the only component with knowledge of the full capability
// table. For each incoming request it attaches the caller identity to the
// request context, resolves the backend capability, consults the handle
// registry, directory cursor manager and lock arbiters as needed, invokes
// the backend for the primitive effect, and maps the result onto the error
// taxonomy. One request is one backend invocation; the router never
// retries. The single documented exception is the create fallback, which
// decomposes into mknod followed by open when the create capability is
// absent.
package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mvailati/fusegate/pkg/backend"
	"github.com/mvailati/fusegate/pkg/config"
	"github.com/mvailati/fusegate/pkg/dirstream"
	"github.com/mvailati/fusegate/pkg/handle"
	"github.com/mvailati/fusegate/pkg/lock"
	"github.com/mvailati/fusegate/pkg/metrics"
	"github.com/mvailati/fusegate/pkg/reqctx"
)

// None is the zero handle token, passed for operations that arrive without
// an open handle. The registry never issues it.
const None = handle.ID(0)

// Router dispatches filesystem requests to a backend capability table.
//
// Safe for concurrent use: requests on distinct paths and handles proceed
// fully in parallel; mutations of one handle's reference count or lock
// state serialize inside the registry and arbiters. The mount policy
// snapshot is resolved at construction and never mutates, so all components
// read it without synchronization.
type Router struct {
	ops   backend.Operations
	mount *config.MountConfig

	handles *handle.Registry
	dirs    *dirstream.Manager
	posix   *lock.PosixArbiter
	flock   *lock.FlockArbiter
	nodes   *nodeMap

	metrics metrics.DispatchMetrics

	hiddenSeq atomic.Uint64
}

// New creates a router over the given capability table and mount policy.
//
// m may be nil to disable metrics collection.
func New(ops backend.Operations, mount *config.MountConfig, m metrics.DispatchMetrics) *Router {
	if m == nil {
		m = metrics.NoopDispatchMetrics()
	}

	remember := time.Duration(mount.Remember) * time.Second
	if mount.Remember < 0 {
		remember = -1
	}

	return &Router{
		ops:     ops,
		mount:   mount,
		handles: handle.New(),
		dirs:    dirstream.NewManager(),
		posix:   lock.NewPosixArbiter(),
		flock:   lock.NewFlockArbiter(),
		nodes:   newNodeMap(remember),
		metrics: m,
	}
}

// Timeouts reports the caching duration hints for positive lookups,
// negative lookups and attributes. They are reported to the caller, never
// enforced here.
func (r *Router) Timeouts() (entry, negative, attr time.Duration) {
	return r.mount.EntryTimeout, r.mount.NegativeTimeout, r.mount.AttrTimeout
}

// track starts metrics accounting for one operation; the returned func
// completes it.
func (r *Router) track(op string) func(error) {
	start := time.Now()
	r.metrics.RecordOpStart(op)
	return func(err error) {
		r.metrics.RecordOpEnd(op)
		r.metrics.RecordOp(op, time.Since(start), err)
		r.metrics.SetLockWaiters(r.posix.Waiters() + r.flock.Waiters())
	}
}

// attach injects the caller identity for the dynamic extent of this
// request.
func (r *Router) attach(ctx context.Context, caller reqctx.Caller) context.Context {
	return reqctx.WithCaller(ctx, caller)
}

// notSupported is the uniform failure for an absent capability with no
// fallback.
func notSupported(op string) error {
	return &backend.Error{
		Code:    backend.ErrNotSupported,
		Message: "backend does not implement " + op,
	}
}

// handlePath selects the path argument for a handle-scoped backend call.
// Under the nullpath_ok policy the path is omitted for the operations the
// policy covers.
func (r *Router) handlePath(open *handle.Open) string {
	if r.mount.NullpathOK {
		return ""
	}
	return open.Path()
}

// waitContext returns the context governing a blocking lock wait. With the
// intr policy off the wait ignores cancellation and runs to completion.
func (r *Router) waitContext(ctx context.Context) context.Context {
	if r.mount.Intr {
		return ctx
	}
	return context.WithoutCancel(ctx)
}

// renameTracked repoints all per-file state keyed by path when a file moves,
// so live handles, lock tables and the identity map follow the object.
func (r *Router) renameTracked(oldPath, newPath string) {
	r.handles.Rename(oldPath, newPath)
	r.posix.RenameKey(oldPath, newPath)
	r.flock.RenameKey(oldPath, newPath)
	r.nodes.rename(oldPath, newPath)
}
