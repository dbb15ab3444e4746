package dispatch

import (
	"context"

	"github.com/mvailati/fusegate/pkg/backend"
	"github.com/mvailati/fusegate/pkg/handle"
	"github.com/mvailati/fusegate/pkg/reqctx"
)

// Read reads up to len(buf) bytes at off from an open file.
//
// The byte count is returned as the backend reported it. A short count at
// end of file is the end-of-file signal; the router never pads the buffer
// to hide it.
func (r *Router) Read(ctx context.Context, caller reqctx.Caller, id handle.ID, buf []byte, off uint64) (n int, err error) {
	done := r.track("read")
	defer func() { done(err) }()

	open, err := r.handles.Get(id)
	if err != nil {
		return 0, err
	}
	ctx = r.attach(ctx, caller)
	reqPath := r.handlePath(open)

	switch {
	case r.ops.Read != nil:
		return r.ops.Read(ctx, reqPath, buf, off, open.File)

	case r.ops.ReadBuf != nil:
		vec, rerr := r.ops.ReadBuf(ctx, reqPath, len(buf), off, open.File)
		if rerr != nil {
			return 0, rerr
		}
		return copy(buf, vec.Flatten()), nil

	default:
		return 0, notSupported("read")
	}
}

// ReadBuf is the vectored read entry point. Backends without the vectored
// capability are served through plain Read with the result wrapped in a
// single-buffer vector.
func (r *Router) ReadBuf(ctx context.Context, caller reqctx.Caller, id handle.ID, size int, off uint64) (vec *backend.BufVec, err error) {
	done := r.track("read_buf")
	defer func() { done(err) }()

	open, err := r.handles.Get(id)
	if err != nil {
		return nil, err
	}
	ctx = r.attach(ctx, caller)
	reqPath := r.handlePath(open)

	switch {
	case r.ops.ReadBuf != nil:
		return r.ops.ReadBuf(ctx, reqPath, size, off, open.File)

	case r.ops.Read != nil:
		buf := make([]byte, size)
		n, rerr := r.ops.Read(ctx, reqPath, buf, off, open.File)
		if rerr != nil {
			return nil, rerr
		}
		return backend.NewBufVec(buf[:n]), nil

	default:
		return nil, notSupported("read")
	}
}

// Write writes data at off to an open file. A successful write marks the
// handle as having unflushed data.
func (r *Router) Write(ctx context.Context, caller reqctx.Caller, id handle.ID, data []byte, off uint64) (n int, err error) {
	done := r.track("write")
	defer func() { done(err) }()

	open, err := r.handles.Get(id)
	if err != nil {
		return 0, err
	}
	ctx = r.attach(ctx, caller)
	reqPath := r.handlePath(open)

	switch {
	case r.ops.Write != nil:
		n, err = r.ops.Write(ctx, reqPath, data, off, open.File)

	case r.ops.WriteBuf != nil:
		n, err = r.ops.WriteBuf(ctx, reqPath, backend.NewBufVec(data), off, open.File)

	default:
		return 0, notSupported("write")
	}

	if err == nil && n > 0 {
		open.SetFlushPending(true)
	}
	return n, err
}

// WriteBuf is the vectored write entry point. Backends without the
// vectored capability receive the flattened data through plain Write; the
// flatten makes a contiguous copy, so the caller's buffers are never
// aliased past the call.
func (r *Router) WriteBuf(ctx context.Context, caller reqctx.Caller, id handle.ID, vec *backend.BufVec, off uint64) (n int, err error) {
	done := r.track("write_buf")
	defer func() { done(err) }()

	open, err := r.handles.Get(id)
	if err != nil {
		return 0, err
	}
	ctx = r.attach(ctx, caller)
	reqPath := r.handlePath(open)

	switch {
	case r.ops.WriteBuf != nil:
		n, err = r.ops.WriteBuf(ctx, reqPath, vec, off, open.File)

	case r.ops.Write != nil:
		n, err = r.ops.Write(ctx, reqPath, vec.Flatten(), off, open.File)

	default:
		return 0, notSupported("write")
	}

	if err == nil && n > 0 {
		open.SetFlushPending(true)
	}
	return n, err
}

// Fallocate preallocates space for an open file.
func (r *Router) Fallocate(ctx context.Context, caller reqctx.Caller, id handle.ID, mode int, off, length uint64) (err error) {
	done := r.track("fallocate")
	defer func() { done(err) }()

	open, err := r.handles.Get(id)
	if err != nil {
		return err
	}
	if r.ops.Fallocate == nil {
		return notSupported("fallocate")
	}
	return r.ops.Fallocate(r.attach(ctx, caller), r.handlePath(open), mode, off, length, open.File)
}

// CopyFileRange copies size bytes from one open file to another inside the
// backend. Both handles must be live; the destination is marked as having
// unflushed data on success.
func (r *Router) CopyFileRange(ctx context.Context, caller reqctx.Caller, idIn handle.ID, offIn uint64, idOut handle.ID, offOut uint64, size uint64) (n int, err error) {
	done := r.track("copy_file_range")
	defer func() { done(err) }()

	openIn, err := r.handles.Get(idIn)
	if err != nil {
		return 0, err
	}
	openOut, err := r.handles.Get(idOut)
	if err != nil {
		return 0, err
	}
	if r.ops.CopyFileRange == nil {
		return 0, notSupported("copy_file_range")
	}

	ctx = r.attach(ctx, caller)
	n, err = r.ops.CopyFileRange(ctx, r.handlePath(openIn), openIn.File, offIn,
		r.handlePath(openOut), openOut.File, offOut, size)
	if err == nil && n > 0 {
		openOut.SetFlushPending(true)
	}
	return n, err
}
