package dispatch

import (
	"context"

	"github.com/mvailati/fusegate/internal/logger"
	"github.com/mvailati/fusegate/pkg/backend"
	"github.com/mvailati/fusegate/pkg/handle"
	"github.com/mvailati/fusegate/pkg/reqctx"
)

// Lock performs a POSIX record-lock operation on an open file.
//
// Arbitration is local-first. A query (LockGet) that hits a known local
// conflict is answered from the arbiter without any backend call; only a
// locally clean query is delegated, and with no lock capability it answers
// "no conflict". An acquisition (LockSet/LockSetWait) first settles locally,
// blocking under the intr policy for the waiting form, and only then
// reaches the backend in its non-blocking form; a backend failure rolls the
// local grant back so the two views stay aligned.
//
// On return lk carries the answer for queries, and is unchanged otherwise.
func (r *Router) Lock(ctx context.Context, caller reqctx.Caller, id handle.ID, cmd backend.LockCmd, lk *backend.LockRange) (err error) {
	done := r.track("lock")
	defer func() { done(err) }()

	open, err := r.handles.Get(id)
	if err != nil {
		return err
	}
	if open.Dir {
		return &backend.Error{
			Code:    backend.ErrInvalidArgument,
			Message: "record locks apply to file handles",
		}
	}

	ctx = r.attach(ctx, caller)
	lk.Owner = open.File.LockOwner
	if lk.PID == 0 {
		lk.PID = caller.PID
	}

	switch cmd {
	case backend.LockGet:
		return r.lockGet(ctx, open, lk)
	case backend.LockSet, backend.LockSetWait:
		return r.lockSet(ctx, open, cmd, lk)
	default:
		return &backend.Error{
			Code:    backend.ErrInvalidArgument,
			Message: "unknown lock command",
		}
	}
}

func (r *Router) lockGet(ctx context.Context, open *handle.Open, lk *backend.LockRange) error {
	if conflict := r.posix.Get(open.Path(), lk); conflict != nil {
		*lk = *conflict
		return nil
	}
	if r.ops.Lock == nil {
		lk.Type = backend.Unlock
		return nil
	}
	return r.ops.Lock(ctx, r.handlePath(open), open.File, backend.LockGet, lk)
}

func (r *Router) lockSet(ctx context.Context, open *handle.Open, cmd backend.LockCmd, lk *backend.LockRange) error {
	wait := cmd == backend.LockSetWait
	waitCtx := ctx
	if wait {
		waitCtx = r.waitContext(ctx)
	}

	if err := r.posix.Set(waitCtx, open.Path(), lk, wait); err != nil {
		return err
	}
	if r.ops.Lock == nil {
		return nil
	}

	// The local grant already settled any contention; the backend call is
	// always the non-blocking form.
	if err := r.ops.Lock(ctx, r.handlePath(open), open.File, backend.LockSet, lk); err != nil {
		r.rollbackPosix(open.Path(), lk)
		return err
	}
	return nil
}

// rollbackPosix withdraws a local grant after the backend refused it. The
// withdrawal is the requested region only; an earlier lock of the same
// owner that the grant merged into is withdrawn with it, which errs on the
// side of holding fewer locks than the caller believes.
func (r *Router) rollbackPosix(key string, lk *backend.LockRange) {
	if lk.Type == backend.Unlock {
		return
	}
	undo := *lk
	undo.Type = backend.Unlock
	if err := r.posix.Set(context.Background(), key, &undo, false); err != nil {
		logger.Warn("lock: rollback of %s [%d,%d) failed: %v", key, lk.Start, lk.End, err)
	}
}

// Flock performs a BSD whole-file lock operation on an open file.
//
// The owner identity is fixed at the handle's first flock acquisition and
// reused for every later operation on that handle, including the implicit
// release at last close. Arbitration is local-first like record locks, with
// the backend seeing only settled, non-blocking operations.
func (r *Router) Flock(ctx context.Context, caller reqctx.Caller, id handle.ID, op backend.FlockOp, nonblock bool) (err error) {
	done := r.track("flock")
	defer func() { done(err) }()

	open, err := r.handles.Get(id)
	if err != nil {
		return err
	}

	owner, err := r.handles.SetFlockOwner(id, open.File.LockOwner)
	if err != nil {
		return err
	}

	ctx = r.attach(ctx, caller)
	waitCtx := ctx
	if !nonblock {
		waitCtx = r.waitContext(ctx)
	}

	prev, held := r.flock.Held(open.Path(), owner)
	if err = r.flock.Acquire(waitCtx, open.Path(), owner, op, nonblock); err != nil {
		return err
	}
	if r.ops.Flock == nil {
		return nil
	}

	if err = r.ops.Flock(ctx, r.handlePath(open), open.File, op); err != nil {
		// Restore the pre-call local state so a later release matches
		// what the backend still holds.
		if held {
			if rerr := r.flock.Acquire(context.Background(), open.Path(), owner, prev, true); rerr != nil {
				logger.Warn("flock: rollback for %s owner=%d failed: %v", open.Path(), owner, rerr)
			}
		} else {
			r.flock.ReleaseOwner(open.Path(), owner)
		}
		return err
	}
	return nil
}
