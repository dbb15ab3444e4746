package dispatch

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/mvailati/fusegate/internal/logger"
	"github.com/mvailati/fusegate/pkg/backend"
	"github.com/mvailati/fusegate/pkg/handle"
	"github.com/mvailati/fusegate/pkg/reqctx"
)

// Open opens an existing file and returns its handle token.
//
// Creation flags never reach Open; the transport routes O_CREAT opens
// through Create. An open with O_TRUNC is decomposed into truncate+open
// unless the atomic_o_trunc policy is on.
func (r *Router) Open(ctx context.Context, caller reqctx.Caller, filePath string, flags int) (id handle.ID, err error) {
	done := r.track("open")
	defer func() { done(err) }()

	if flags&(os.O_CREATE|os.O_EXCL) != 0 {
		return None, &backend.Error{
			Code:    backend.ErrInvalidArgument,
			Message: "creation flags must go through create",
			Path:    filePath,
		}
	}
	if r.ops.Open == nil {
		return None, notSupported("open")
	}

	ctx = r.attach(ctx, caller)

	if flags&os.O_TRUNC != 0 && !r.mount.AtomicOTrunc {
		if r.ops.Truncate == nil {
			return None, notSupported("truncate")
		}
		if err = r.ops.Truncate(ctx, filePath, 0, nil); err != nil {
			return None, err
		}
		flags &^= os.O_TRUNC
	}

	of := &backend.OpenFile{Flags: flags}
	if err = r.ops.Open(ctx, filePath, of); err != nil {
		return None, err
	}

	r.applyOpenPolicy(ctx, filePath, of)

	id = r.handles.Register(filePath, false, of)
	r.metrics.SetOpenHandles(r.handles.Len())
	logger.Debug("open %s flags=%#x fh=%#x", filePath, flags, uint64(id))
	return id, nil
}

// Create atomically creates and opens a regular file.
//
// When the create capability is absent the router applies the documented
// fallback of mknod followed by open; this is the one case where a single
// request maps onto two backend invocations. With both capabilities absent
// the operation fails NotSupported.
func (r *Router) Create(ctx context.Context, caller reqctx.Caller, filePath string, mode os.FileMode, flags int) (id handle.ID, err error) {
	done := r.track("create")
	defer func() { done(err) }()

	ctx = r.attach(ctx, caller)
	of := &backend.OpenFile{Flags: flags}

	switch {
	case r.ops.Create != nil:
		if err = r.ops.Create(ctx, filePath, mode, of); err != nil {
			return None, err
		}

	case r.ops.Mknod != nil && r.ops.Open != nil:
		if err = r.ops.Mknod(ctx, filePath, mode, 0); err != nil {
			// Without O_EXCL a concurrent create is not a failure; the
			// node exists, open it. With O_EXCL the Exists propagates.
			if flags&os.O_EXCL != 0 || !backend.IsCode(err, backend.ErrExists) {
				return None, err
			}
		}
		if err = r.ops.Open(ctx, filePath, of); err != nil {
			return None, err
		}

	default:
		return None, notSupported("create")
	}

	r.applyOpenPolicy(ctx, filePath, of)

	id = r.handles.Register(filePath, false, of)
	r.metrics.SetOpenHandles(r.handles.Len())
	logger.Debug("create %s mode=%o fh=%#x", filePath, mode, uint64(id))
	return id, nil
}

// applyOpenPolicy forces the mount-level cache traits onto a fresh open,
// overriding whatever the backend set. The auto_cache policy keeps cached
// pages only when size and mtime are unchanged since the last open of the
// same path; a snapshot still inside the ac_attr_timeout window skips the
// comparison entirely.
func (r *Router) applyOpenPolicy(ctx context.Context, filePath string, of *backend.OpenFile) {
	if r.mount.DirectIO {
		of.DirectIO = true
	}
	if r.mount.KernelCache {
		of.KeepCache = true
	}
	if r.mount.AutoCache && r.ops.Getattr != nil {
		// A snapshot younger than the ac_attr_timeout window is trusted
		// without a fresh stat.
		if r.nodes.attrFresh(filePath, r.mount.ACAttrTimeout) {
			of.KeepCache = true
		} else if attr, err := r.ops.Getattr(ctx, filePath, of); err == nil {
			of.KeepCache = !r.nodes.updateAttrCache(filePath, attr)
		}
	}
}

// Dup adds one descriptor-level reference to an open handle, covering
// descriptor duplication via fork or dup feeding through the same open
// instance.
func (r *Router) Dup(ctx context.Context, caller reqctx.Caller, id handle.ID) (err error) {
	done := r.track("dup")
	defer func() { done(err) }()

	return r.handles.Retain(id)
}

// Flush is invoked on every descriptor-level close of an open handle: zero
// or more times per open. It never alters the reference count and never
// triggers release.
func (r *Router) Flush(ctx context.Context, caller reqctx.Caller, id handle.ID) (err error) {
	done := r.track("flush")
	defer func() { done(err) }()

	open, err := r.handles.Get(id)
	if err != nil {
		return err
	}
	if r.ops.Flush == nil {
		return notSupported("flush")
	}

	ctx = r.attach(ctx, caller)
	if err = r.ops.Flush(ctx, r.handlePath(open), open.File); err != nil {
		return err
	}
	open.SetFlushPending(false)
	return nil
}

// Release drops one reference from an open handle.
//
// When the last reference goes, and in the same atomic step as the count
// reaching zero, the handle is retired; then the owner's record locks are
// dropped, an unresolved flock is released with the owner id recorded at
// acquisition when flockRelease is set, the backend's release effect fires
// exactly once, and a file hidden by unlink-of-open-file is removed if this
// was its last open.
func (r *Router) Release(ctx context.Context, caller reqctx.Caller, id handle.ID, flockRelease bool) (err error) {
	done := r.track("release")
	defer func() { done(err) }()

	open, last, err := r.handles.Release(id)
	if err != nil {
		return err
	}
	r.metrics.SetOpenHandles(r.handles.Len())
	if !last {
		return nil
	}

	ctx = r.attach(ctx, caller)
	key := open.Path()

	r.posix.ReleaseOwner(key, open.File.LockOwner)

	if flockRelease && open.FlockOwner() != 0 {
		r.flock.ReleaseOwner(key, open.FlockOwner())
		if r.ops.Flock != nil {
			if ferr := r.ops.Flock(ctx, r.handlePath(open), open.File, backend.FlockUnlock); ferr != nil {
				logger.Warn("release: backend flock unlock failed for %s: %v", key, ferr)
			}
		}
	}

	if r.ops.Release != nil {
		// The release outcome is not reported to the caller.
		if rerr := r.ops.Release(ctx, r.handlePath(open), open.File); rerr != nil {
			logger.Warn("release: backend release failed for %s: %v", key, rerr)
		}
	}

	if open.UnlinkOnRelease() && r.handles.OpenCount(key) == 0 && r.ops.Unlink != nil {
		if uerr := r.ops.Unlink(ctx, key); uerr != nil {
			logger.Warn("release: removing hidden file %s failed: %v", key, uerr)
		}
	}

	logger.Debug("release %s fh=%#x", key, uint64(id))
	return nil
}

// Fsync flushes an open file's contents to stable storage.
func (r *Router) Fsync(ctx context.Context, caller reqctx.Caller, id handle.ID, datasync bool) (err error) {
	done := r.track("fsync")
	defer func() { done(err) }()

	open, err := r.handles.Get(id)
	if err != nil {
		return err
	}
	if r.ops.Fsync == nil {
		return notSupported("fsync")
	}

	ctx = r.attach(ctx, caller)
	return r.ops.Fsync(ctx, r.handlePath(open), datasync, open.File)
}

// hiddenName builds the rename target for an unlinked-while-open file: a
// hidden sibling in the same directory.
func (r *Router) hiddenName(filePath string) string {
	seq := r.hiddenSeq.Add(1)
	return path.Join(path.Dir(filePath), fmt.Sprintf(".fuse_hidden%016x", seq))
}
