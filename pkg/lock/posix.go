// Package lock implements the two advisory locking subsystems of the
// dispatch layer: POSIX byte-range record locks and BSD whole-file locks.
// The two share no state.
//
// Both arbiters resolve conflicts locally. Blocking acquisitions suspend on
// a per-file wait queue and are re-attempted after every release broadcast;
// wakeup order among waiters is unordered, with eventual fairness because
// every waiter re-contends after each broadcast. A blocked wait aborts with
// ErrInterrupted when its context is cancelled.
package lock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mvailati/fusegate/pkg/backend"
)

// PosixArbiter arbitrates POSIX record locks, keyed by the stable path the
// file was opened against.
type PosixArbiter struct {
	mu      sync.Mutex
	files   map[string]*posixFile
	waiters atomic.Int64
}

type posixFile struct {
	locks []backend.LockRange

	// released is closed and replaced whenever a lock is removed or
	// shrunk, waking every waiter to re-contend.
	released chan struct{}
}

// NewPosixArbiter creates an empty record-lock arbiter.
func NewPosixArbiter() *PosixArbiter {
	return &PosixArbiter{files: make(map[string]*posixFile)}
}

// Get answers a lock query from local state only.
//
// Returns a copy of a conflicting lock held by a different owner, with the
// true owning pid filled in, or nil when no local conflict exists. The
// caller delegates to the backend only in the nil case.
func (a *PosixArbiter) Get(key string, req *backend.LockRange) *backend.LockRange {
	a.mu.Lock()
	defer a.mu.Unlock()

	f := a.files[key]
	if f == nil {
		return nil
	}
	for i := range f.locks {
		if req.Conflicts(&f.locks[i]) {
			conflict := f.locks[i]
			return &conflict
		}
	}
	return nil
}

// Set applies a lock or unlock request for req.Owner over [req.Start,
// req.End).
//
// On conflict: wait==false fails immediately with ErrWouldBlock;
// wait==true suspends until the conflicting region is released and then
// re-attempts, or until ctx is cancelled, which aborts with ErrInterrupted
// and leaves all lock state untouched.
func (a *PosixArbiter) Set(ctx context.Context, key string, req *backend.LockRange, wait bool) error {
	for {
		a.mu.Lock()
		f := a.files[key]
		if f == nil {
			f = &posixFile{released: make(chan struct{})}
			a.files[key] = f
		}

		var conflict *backend.LockRange
		if req.Type != backend.Unlock {
			for i := range f.locks {
				if req.Conflicts(&f.locks[i]) {
					conflict = &f.locks[i]
					break
				}
			}
		}

		if conflict == nil {
			a.applyLocked(key, f, req)
			a.mu.Unlock()
			return nil
		}

		if !wait {
			a.mu.Unlock()
			return backend.NewError(backend.ErrWouldBlock, "")
		}

		ch := f.released
		a.mu.Unlock()

		a.waiters.Add(1)
		select {
		case <-ctx.Done():
			a.waiters.Add(-1)
			return backend.NewError(backend.ErrInterrupted, "")
		case <-ch:
			a.waiters.Add(-1)
		}
	}
}

// applyLocked merges req into the owner's lock set: overlapping regions of
// the same owner are replaced, split or trimmed, then the new region is
// inserted unless req is an unlock. Standard POSIX split semantics.
func (a *PosixArbiter) applyLocked(key string, f *posixFile, req *backend.LockRange) {
	// A lock spanning the request splits in two, so the result can be
	// larger than the input; build a fresh slice.
	kept := make([]backend.LockRange, 0, len(f.locks)+1)
	removed := false

	for _, l := range f.locks {
		if l.Owner != req.Owner || !l.Overlaps(req) {
			kept = append(kept, l)
			continue
		}
		removed = true
		if l.Start < req.Start {
			left := l
			left.End = req.Start
			kept = append(kept, left)
		}
		if l.End > req.End {
			right := l
			right.Start = req.End
			kept = append(kept, right)
		}
	}
	f.locks = kept

	if req.Type != backend.Unlock {
		f.locks = append(f.locks, *req)
	}

	if removed || req.Type == backend.Unlock {
		close(f.released)
		f.released = make(chan struct{})
	}
	if len(f.locks) == 0 {
		delete(a.files, key)
	}
}

// ReleaseOwner drops every record lock held by owner on key. Invoked by the
// dispatch layer when the owning handle is released.
func (a *PosixArbiter) ReleaseOwner(key string, owner uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f := a.files[key]
	if f == nil {
		return
	}

	kept := f.locks[:0]
	for _, l := range f.locks {
		if l.Owner != owner {
			kept = append(kept, l)
		}
	}
	if len(kept) == len(f.locks) {
		return
	}
	f.locks = kept

	close(f.released)
	f.released = make(chan struct{})
	if len(f.locks) == 0 {
		delete(a.files, key)
	}
}

// RenameKey moves the lock table entry when the underlying file is
// renamed, so locks keep following the object rather than the name.
func (a *PosixArbiter) RenameKey(oldKey, newKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f := a.files[oldKey]
	if f == nil {
		return
	}
	delete(a.files, oldKey)
	a.files[newKey] = f
}

// Waiters reports how many callers are currently suspended in Set.
func (a *PosixArbiter) Waiters() int {
	return int(a.waiters.Load())
}
