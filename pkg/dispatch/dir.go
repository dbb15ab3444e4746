package dispatch

import (
	"context"
	"path"

	"github.com/mvailati/fusegate/internal/logger"
	"github.com/mvailati/fusegate/pkg/backend"
	"github.com/mvailati/fusegate/pkg/handle"
	"github.com/mvailati/fusegate/pkg/reqctx"
)

// Opendir opens a directory for enumeration and returns its handle token.
//
// The opendir capability is optional: without it the handle is issued over
// synthetic per-open state and enumeration proceeds through the readdir
// capability alone.
func (r *Router) Opendir(ctx context.Context, caller reqctx.Caller, dirPath string) (id handle.ID, err error) {
	done := r.track("opendir")
	defer func() { done(err) }()

	if r.ops.Readdir == nil {
		return None, notSupported("readdir")
	}

	of := &backend.OpenFile{}
	if r.ops.Opendir != nil {
		if err = r.ops.Opendir(r.attach(ctx, caller), dirPath, of); err != nil {
			return None, err
		}
	}

	id = r.handles.Register(dirPath, true, of)
	r.dirs.Open(id)
	r.metrics.SetOpenHandles(r.handles.Len())
	return id, nil
}

// Readdir enumerates directory entries starting at off, delivering them to
// fill.
//
// The enumeration protocol (bulk or cursor) is resolved per directory
// stream from how the backend reports offsets; either way the entries the
// caller sees honor the attribute policy of the mount.
func (r *Router) Readdir(ctx context.Context, caller reqctx.Caller, id handle.ID, off uint64, flags backend.ReaddirFlags, fill backend.FillDir) (err error) {
	done := r.track("readdir")
	defer func() { done(err) }()

	open, err := r.handles.Get(id)
	if err != nil {
		return err
	}
	stream := r.dirs.Get(id)
	if stream == nil || !open.Dir {
		return &backend.Error{
			Code:    backend.ErrNotDirectory,
			Message: "handle is not an open directory",
		}
	}

	ctx = r.attach(ctx, caller)
	dirPath := open.Path()

	wrapped := func(name string, attr *backend.Attr, nextOff uint64, plus bool) bool {
		attr = r.readdirAttr(dirPath, name, attr, plus)
		return fill(name, attr, nextOff, plus)
	}

	return stream.Read(ctx, r.handlePath(open), open.File, off, flags, r.ops.Readdir, wrapped)
}

// readdirAttr applies the attribute policy to one directory entry.
//
// A full attribute record (plus form) is rewritten like any getattr reply.
// A name-only record carries at most an identity number; it is synthesized
// from the identity map under the readdir_ino policy when the backend's
// numbers are not trusted, and otherwise passed through untouched.
func (r *Router) readdirAttr(dirPath, name string, attr *backend.Attr, plus bool) *backend.Attr {
	childPath := path.Join(dirPath, name)

	if plus && attr != nil {
		r.applyAttrPolicy(childPath, attr)
		return attr
	}

	if !r.mount.UseIno && r.mount.ReaddirIno {
		if ino := r.nodes.peek(childPath); ino != 0 {
			if attr == nil {
				attr = &backend.Attr{}
			}
			attr.Ino = ino
		}
	}
	return attr
}

// Releasedir drops one reference from a directory handle. The last release
// retires the handle, discards the enumeration state and fires the
// backend's releasedir effect exactly once.
func (r *Router) Releasedir(ctx context.Context, caller reqctx.Caller, id handle.ID) (err error) {
	done := r.track("releasedir")
	defer func() { done(err) }()

	open, last, err := r.handles.Release(id)
	if err != nil {
		return err
	}
	r.metrics.SetOpenHandles(r.handles.Len())
	if !last {
		return nil
	}

	r.dirs.Release(id)
	if r.ops.Releasedir != nil {
		if rerr := r.ops.Releasedir(r.attach(ctx, caller), r.handlePath(open), open.File); rerr != nil {
			logger.Warn("releasedir: backend releasedir failed for %s: %v", open.Path(), rerr)
		}
	}
	return nil
}

// Fsyncdir flushes directory metadata to stable storage.
func (r *Router) Fsyncdir(ctx context.Context, caller reqctx.Caller, id handle.ID, datasync bool) (err error) {
	done := r.track("fsyncdir")
	defer func() { done(err) }()

	open, err := r.handles.Get(id)
	if err != nil {
		return err
	}
	if !open.Dir {
		return &backend.Error{
			Code:    backend.ErrNotDirectory,
			Message: "handle is not an open directory",
		}
	}
	if r.ops.Fsyncdir == nil {
		return notSupported("fsyncdir")
	}
	return r.ops.Fsyncdir(r.attach(ctx, caller), r.handlePath(open), datasync, open.File)
}
