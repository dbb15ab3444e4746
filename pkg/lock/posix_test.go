package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mvailati/fusegate/pkg/backend"
)

func wlock(owner uint64, start, end uint64) *backend.LockRange {
	return &backend.LockRange{Type: backend.WriteLock, Start: start, End: end, Owner: owner}
}

func rlock(owner uint64, start, end uint64) *backend.LockRange {
	return &backend.LockRange{Type: backend.ReadLock, Start: start, End: end, Owner: owner}
}

func unlock(owner uint64, start, end uint64) *backend.LockRange {
	return &backend.LockRange{Type: backend.Unlock, Start: start, End: end, Owner: owner}
}

func TestGetReportsConflictLocally(t *testing.T) {
	a := NewPosixArbiter()
	ctx := context.Background()

	held := wlock(1, 0, 100)
	held.PID = 42
	if err := a.Set(ctx, "/f", held, false); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	conflict := a.Get("/f", rlock(2, 50, 60))
	if conflict == nil {
		t.Fatal("expected a conflict answer")
	}
	if conflict.Owner != 1 || conflict.PID != 42 {
		t.Fatalf("conflict = %+v, want owner 1 pid 42", conflict)
	}

	if got := a.Get("/f", rlock(2, 200, 300)); got != nil {
		t.Fatalf("non-overlapping query answered %+v, want nil", got)
	}
}

func TestSharedLocksCoexist(t *testing.T) {
	a := NewPosixArbiter()
	ctx := context.Background()

	if err := a.Set(ctx, "/f", rlock(1, 0, 100), false); err != nil {
		t.Fatalf("first reader: %v", err)
	}
	if err := a.Set(ctx, "/f", rlock(2, 0, 100), false); err != nil {
		t.Fatalf("second reader: %v", err)
	}
	if err := a.Set(ctx, "/f", wlock(3, 0, 100), false); err == nil {
		t.Fatal("writer must conflict with readers")
	} else if !backend.IsCode(err, backend.ErrWouldBlock) {
		t.Fatalf("conflict error = %v, want WouldBlock", err)
	}
}

func TestUnlockSplitsSpanningLock(t *testing.T) {
	a := NewPosixArbiter()
	ctx := context.Background()

	if err := a.Set(ctx, "/f", wlock(1, 0, 100), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	// Punch a hole in the middle.
	if err := a.Set(ctx, "/f", unlock(1, 40, 60), false); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	// The hole is free for another owner, the flanks are not.
	if err := a.Set(ctx, "/f", wlock(2, 40, 60), false); err != nil {
		t.Fatalf("hole must be lockable: %v", err)
	}
	if err := a.Set(ctx, "/f", wlock(2, 0, 10), false); err == nil {
		t.Fatal("left flank must still be held")
	}
	if err := a.Set(ctx, "/f", wlock(2, 90, 100), false); err == nil {
		t.Fatal("right flank must still be held")
	}
}

func TestWaitSucceedsAfterRelease(t *testing.T) {
	a := NewPosixArbiter()
	ctx := context.Background()

	if err := a.Set(ctx, "/f", wlock(1, 0, 100), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- a.Set(ctx, "/f", wlock(2, 0, 100), true)
	}()

	select {
	case err := <-acquired:
		t.Fatalf("waiter completed before release: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := a.Set(ctx, "/f", unlock(1, 0, 100), false); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("waiter failed after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake after release")
	}
}

func TestWaitAbortsOnCancel(t *testing.T) {
	a := NewPosixArbiter()

	if err := a.Set(context.Background(), "/f", wlock(1, 0, 100), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	acquired := make(chan error, 1)
	go func() {
		acquired <- a.Set(ctx, "/f", wlock(2, 0, 100), true)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-acquired:
		if !backend.IsCode(err, backend.ErrInterrupted) {
			t.Fatalf("cancelled wait = %v, want Interrupted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not return")
	}

	// The aborted wait must leave no residue: a third party can lock
	// once the original holder lets go.
	if err := a.Set(context.Background(), "/f", unlock(1, 0, 100), false); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if err := a.Set(context.Background(), "/f", wlock(3, 0, 100), false); err != nil {
		t.Fatalf("third party must acquire after release: %v", err)
	}
}

func TestReleaseOwnerDropsAllRegions(t *testing.T) {
	a := NewPosixArbiter()
	ctx := context.Background()

	if err := a.Set(ctx, "/f", wlock(1, 0, 10), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := a.Set(ctx, "/f", wlock(1, 20, 30), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := a.Set(ctx, "/f", wlock(2, 40, 50), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	a.ReleaseOwner("/f", 1)

	if err := a.Set(ctx, "/f", wlock(3, 0, 30), false); err != nil {
		t.Fatalf("regions of released owner must be free: %v", err)
	}
	if err := a.Set(ctx, "/f", wlock(3, 40, 50), false); err == nil {
		t.Fatal("other owner's region must survive ReleaseOwner")
	}
}

func TestRenameKeyMovesLocks(t *testing.T) {
	a := NewPosixArbiter()
	ctx := context.Background()

	if err := a.Set(ctx, "/old", wlock(1, 0, 100), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	a.RenameKey("/old", "/new")

	if got := a.Get("/old", rlock(2, 0, 100)); got != nil {
		t.Fatalf("old key still holds locks: %+v", got)
	}
	if got := a.Get("/new", rlock(2, 0, 100)); got == nil {
		t.Fatal("new key must carry the moved lock")
	}
}

func TestManyWaitersAllEventuallyAcquire(t *testing.T) {
	a := NewPosixArbiter()
	ctx := context.Background()

	if err := a.Set(ctx, "/f", wlock(100, 0, 1), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	const waiters = 8
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := uint64(i + 1)
			if err := a.Set(ctx, "/f", wlock(owner, 0, 1), true); err != nil {
				errs[i] = err
				return
			}
			errs[i] = a.Set(ctx, "/f", unlock(owner, 0, 1), false)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	if err := a.Set(ctx, "/f", unlock(100, 0, 1), false); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("waiter %d: %v", i, err)
		}
	}
	if a.Waiters() != 0 {
		t.Fatalf("waiter gauge = %d, want 0", a.Waiters())
	}
}
