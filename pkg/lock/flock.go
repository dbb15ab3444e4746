package lock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mvailati/fusegate/pkg/backend"
)

// FlockArbiter arbitrates BSD whole-file locks.
//
// Holders are identified by the owner value fixed at the first acquisition
// on a handle; the same owner converts its lock by re-acquiring with a
// different operation. Conversion is not atomic: the previous lock is
// dropped before the new one is contended, as with flock(2).
type FlockArbiter struct {
	mu      sync.Mutex
	files   map[string]*flockFile
	waiters atomic.Int64
}

type flockFile struct {
	// holders maps owner identity to the held operation (FlockShared or
	// FlockExclusive).
	holders map[uint64]backend.FlockOp

	released chan struct{}
}

// NewFlockArbiter creates an empty whole-file lock arbiter.
func NewFlockArbiter() *FlockArbiter {
	return &FlockArbiter{files: make(map[string]*flockFile)}
}

// Acquire performs op for owner on key.
//
// FlockUnlock always succeeds and wakes waiters. For the lock operations a
// conflict with nonblock==true fails with ErrWouldBlock; otherwise the
// caller suspends until a holder releases, or aborts with ErrInterrupted on
// context cancellation.
func (a *FlockArbiter) Acquire(ctx context.Context, key string, owner uint64, op backend.FlockOp, nonblock bool) error {
	if op == backend.FlockUnlock {
		a.ReleaseOwner(key, owner)
		return nil
	}

	// Conversion releases the held mode before the new one is contended,
	// so an exclusive downgrade wakes compatible waiters and two holders
	// upgrading at once cannot deadlock on each other.
	a.mu.Lock()
	if f := a.files[key]; f != nil {
		if _, held := f.holders[owner]; held {
			delete(f.holders, owner)
			close(f.released)
			f.released = make(chan struct{})
		}
	}
	a.mu.Unlock()

	for {
		a.mu.Lock()
		f := a.files[key]
		if f == nil {
			f = &flockFile{
				holders:  make(map[uint64]backend.FlockOp),
				released: make(chan struct{}),
			}
			a.files[key] = f
		}

		if !a.conflictsLocked(f, owner, op) {
			f.holders[owner] = op
			a.mu.Unlock()
			return nil
		}

		if nonblock {
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

// conflictsLocked reports whether owner may not take op now. The owner's
// own holding never conflicts (conversion).
func (a *FlockArbiter) conflictsLocked(f *flockFile, owner uint64, op backend.FlockOp) bool {
	for holder, held := range f.holders {
		if holder == owner {
			continue
		}
		if op == backend.FlockExclusive || held == backend.FlockExclusive {
			return true
		}
	}
	return false
}

// Held reports the operation owner currently holds on key, if any.
func (a *FlockArbiter) Held(key string, owner uint64) (backend.FlockOp, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f := a.files[key]
	if f == nil {
		return 0, false
	}
	op, ok := f.holders[owner]
	return op, ok
}

// ReleaseOwner drops whatever owner holds on key and wakes waiters. Safe to
// call when nothing is held; the dispatch layer uses it both for explicit
// unlock and for the release-time drop of unresolved locks.
func (a *FlockArbiter) ReleaseOwner(key string, owner uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f := a.files[key]
	if f == nil {
		return
	}
	if _, held := f.holders[owner]; !held {
		return
	}

	delete(f.holders, owner)
	close(f.released)
	f.released = make(chan struct{})
	if len(f.holders) == 0 {
		delete(a.files, key)
	}
}

// RenameKey moves the lock table entry when the underlying file is
// renamed.
func (a *FlockArbiter) RenameKey(oldKey, newKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f := a.files[oldKey]
	if f == nil {
		return
	}
	delete(a.files, oldKey)
	a.files[newKey] = f
}

// Waiters reports how many callers are currently suspended in Acquire.
func (a *FlockArbiter) Waiters() int {
	return int(a.waiters.Load())
}
