package handle

import (
	"sync"
	"testing"
	"time"

	"github.com/mvailati/fusegate/pkg/backend"
)

func TestRegisterAssignsDistinctLockOwners(t *testing.T) {
	r := New()

	of1 := &backend.OpenFile{}
	of2 := &backend.OpenFile{}
	r.Register("/a", false, of1)
	r.Register("/b", false, of2)

	if of1.LockOwner == 0 || of2.LockOwner == 0 {
		t.Fatal("lock owners must be assigned at registration")
	}
	if of1.LockOwner == of2.LockOwner {
		t.Fatalf("lock owners must be distinct, both got %d", of1.LockOwner)
	}
}

func TestZeroIDNeverIssued(t *testing.T) {
	r := New()

	for i := 0; i < 100; i++ {
		id := r.Register("/f", false, &backend.OpenFile{})
		if id == 0 {
			t.Fatal("registry issued the zero token")
		}
		if _, _, err := r.Release(id); err != nil {
			t.Fatalf("release failed: %v", err)
		}
	}

	if _, err := r.Get(0); err == nil {
		t.Fatal("zero token must never resolve")
	}
}

func TestReleaseExactlyOnceLast(t *testing.T) {
	r := New()
	id := r.Register("/f", false, &backend.OpenFile{})

	// Two extra descriptor references.
	if err := r.Retain(id); err != nil {
		t.Fatalf("retain failed: %v", err)
	}
	if err := r.Retain(id); err != nil {
		t.Fatalf("retain failed: %v", err)
	}

	lastSeen := 0
	for i := 0; i < 3; i++ {
		_, last, err := r.Release(id)
		if err != nil {
			t.Fatalf("release %d failed: %v", i, err)
		}
		if last {
			lastSeen++
		}
	}
	if lastSeen != 1 {
		t.Fatalf("last observed %d times, want exactly 1", lastSeen)
	}

	if _, _, err := r.Release(id); err == nil {
		t.Fatal("release of a retired token must fail")
	}
}

func TestStaleTokenAfterSlotReuse(t *testing.T) {
	r := New()

	stale := r.Register("/old", false, &backend.OpenFile{})
	if _, _, err := r.Release(stale); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	fresh := r.Register("/new", false, &backend.OpenFile{})
	if fresh == stale {
		t.Fatal("reused slot must carry a new generation")
	}

	if _, err := r.Get(stale); err == nil {
		t.Fatal("stale token must not resolve after slot reuse")
	}
	open, err := r.Get(fresh)
	if err != nil {
		t.Fatalf("fresh token must resolve: %v", err)
	}
	if open.Path() != "/new" {
		t.Fatalf("fresh token resolved to %q, want /new", open.Path())
	}
}

func TestOpenCountFollowsRename(t *testing.T) {
	r := New()
	r.Register("/a", false, &backend.OpenFile{})
	r.Register("/a", false, &backend.OpenFile{})

	if got := r.OpenCount("/a"); got != 2 {
		t.Fatalf("OpenCount(/a) = %d, want 2", got)
	}

	r.Rename("/a", "/b")
	if got := r.OpenCount("/a"); got != 0 {
		t.Fatalf("OpenCount(/a) after rename = %d, want 0", got)
	}
	if got := r.OpenCount("/b"); got != 2 {
		t.Fatalf("OpenCount(/b) after rename = %d, want 2", got)
	}
}

func TestMarkUnlinkOnReleaseFlagsAllOpens(t *testing.T) {
	r := New()
	id1 := r.Register("/f", false, &backend.OpenFile{})
	id2 := r.Register("/f", false, &backend.OpenFile{})

	r.MarkUnlinkOnRelease("/f")

	for _, id := range []ID{id1, id2} {
		open, err := r.Get(id)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if !open.UnlinkOnRelease() {
			t.Error("open not flagged for unlink on release")
		}
	}
}

func TestSetFlockOwnerKeepsFirst(t *testing.T) {
	r := New()
	id := r.Register("/f", false, &backend.OpenFile{})

	got, err := r.SetFlockOwner(id, 7)
	if err != nil || got != 7 {
		t.Fatalf("first SetFlockOwner = (%d, %v), want (7, nil)", got, err)
	}
	got, err = r.SetFlockOwner(id, 9)
	if err != nil || got != 7 {
		t.Fatalf("second SetFlockOwner = (%d, %v), want (7, nil)", got, err)
	}
}

func TestConcurrentRegisterRelease(t *testing.T) {
	r := New()

	const workers = 16
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := r.Register("/f", false, &backend.OpenFile{})
				if err := r.Retain(id); err != nil {
					t.Errorf("retain failed: %v", err)
					return
				}
				for j := 0; j < 2; j++ {
					if _, _, err := r.Release(id); err != nil {
						t.Errorf("release failed: %v", err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	if n := r.Len(); n != 0 {
		t.Fatalf("registry not empty after all releases: %d live opens", n)
	}
}

func TestConcurrentRenameAndReads(t *testing.T) {
	r := New()
	id := r.Register("/a", false, &backend.OpenFile{})
	open, err := r.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				r.Rename("/a", "/b")
			} else {
				r.Rename("/b", "/a")
			}
		}
	}()

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if p := open.Path(); p != "/a" && p != "/b" {
					t.Errorf("path = %q, want /a or /b", p)
					return
				}
				open.SetFlushPending(i%2 == 0)
				_ = open.FlushPending()
				_ = open.UnlinkOnRelease()
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	close(stop)
	wg.Wait()
}
