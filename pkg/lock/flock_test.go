package lock

import (
	"context"
	"testing"
	"time"

	"github.com/mvailati/fusegate/pkg/backend"
)

func TestFlockSharedHoldersCoexist(t *testing.T) {
	a := NewFlockArbiter()
	ctx := context.Background()

	if err := a.Acquire(ctx, "/f", 1, backend.FlockShared, true); err != nil {
		t.Fatalf("first shared: %v", err)
	}
	if err := a.Acquire(ctx, "/f", 2, backend.FlockShared, true); err != nil {
		t.Fatalf("second shared: %v", err)
	}
	if err := a.Acquire(ctx, "/f", 3, backend.FlockExclusive, true); err == nil {
		t.Fatal("exclusive must conflict with shared holders")
	} else if !backend.IsCode(err, backend.ErrWouldBlock) {
		t.Fatalf("conflict error = %v, want WouldBlock", err)
	}
}

func TestFlockConversion(t *testing.T) {
	a := NewFlockArbiter()
	ctx := context.Background()

	if err := a.Acquire(ctx, "/f", 1, backend.FlockShared, true); err != nil {
		t.Fatalf("shared: %v", err)
	}
	// Sole holder upgrades in place.
	if err := a.Acquire(ctx, "/f", 1, backend.FlockExclusive, true); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if op, held := a.Held("/f", 1); !held || op != backend.FlockExclusive {
		t.Fatalf("Held = (%v, %v), want (EX, true)", op, held)
	}
	// And downgrades again.
	if err := a.Acquire(ctx, "/f", 1, backend.FlockShared, true); err != nil {
		t.Fatalf("downgrade: %v", err)
	}
}

func TestFlockDowngradeWakesSharedWaiter(t *testing.T) {
	a := NewFlockArbiter()
	ctx := context.Background()

	if err := a.Acquire(ctx, "/f", 1, backend.FlockExclusive, true); err != nil {
		t.Fatalf("exclusive: %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- a.Acquire(ctx, "/f", 2, backend.FlockShared, false)
	}()

	select {
	case err := <-acquired:
		t.Fatalf("waiter completed against exclusive holder: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Downgrading to shared is compatible with the waiter and must wake it.
	if err := a.Acquire(ctx, "/f", 1, backend.FlockShared, true); err != nil {
		t.Fatalf("downgrade: %v", err)
	}

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("shared waiter failed after downgrade: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("shared waiter not woken by downgrade")
	}

	if op, held := a.Held("/f", 1); !held || op != backend.FlockShared {
		t.Fatalf("holder 1 Held = (%v, %v), want (SH, true)", op, held)
	}
	if op, held := a.Held("/f", 2); !held || op != backend.FlockShared {
		t.Fatalf("holder 2 Held = (%v, %v), want (SH, true)", op, held)
	}
}

func TestFlockMutualUpgradeResolves(t *testing.T) {
	a := NewFlockArbiter()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Acquire(ctx, "/f", 1, backend.FlockShared, true); err != nil {
		t.Fatalf("shared 1: %v", err)
	}
	if err := a.Acquire(ctx, "/f", 2, backend.FlockShared, true); err != nil {
		t.Fatalf("shared 2: %v", err)
	}

	// Each upgrade drops its shared hold before contending, so one of the
	// two must win immediately and the other once the winner unlocks.
	errs := make(chan error, 2)
	go func() { errs <- a.Acquire(ctx, "/f", 1, backend.FlockExclusive, false) }()
	go func() { errs <- a.Acquire(ctx, "/f", 2, backend.FlockExclusive, false) }()

	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("first upgrade: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("neither upgrade completed")
	}

	winner := uint64(1)
	if _, held := a.Held("/f", 2); held {
		winner = 2
	}
	if err := a.Acquire(ctx, "/f", winner, backend.FlockUnlock, true); err != nil {
		t.Fatalf("unlock winner: %v", err)
	}

	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("second upgrade: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second upgrade never completed")
	}
}

func TestFlockUnlockWakesWaiter(t *testing.T) {
	a := NewFlockArbiter()
	ctx := context.Background()

	if err := a.Acquire(ctx, "/f", 1, backend.FlockExclusive, true); err != nil {
		t.Fatalf("exclusive: %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- a.Acquire(ctx, "/f", 2, backend.FlockExclusive, false)
	}()

	select {
	case err := <-acquired:
		t.Fatalf("waiter completed before unlock: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := a.Acquire(ctx, "/f", 1, backend.FlockUnlock, true); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("waiter failed after unlock: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake after unlock")
	}
}

func TestFlockWaitAbortsOnCancel(t *testing.T) {
	a := NewFlockArbiter()

	if err := a.Acquire(context.Background(), "/f", 1, backend.FlockExclusive, true); err != nil {
		t.Fatalf("exclusive: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	acquired := make(chan error, 1)
	go func() {
		acquired <- a.Acquire(ctx, "/f", 2, backend.FlockShared, false)
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
}

func TestFlockRenameKeyMovesHolders(t *testing.T) {
	a := NewFlockArbiter()
	ctx := context.Background()

	if err := a.Acquire(ctx, "/old", 1, backend.FlockExclusive, true); err != nil {
		t.Fatalf("exclusive: %v", err)
	}
	a.RenameKey("/old", "/new")

	if _, held := a.Held("/old", 1); held {
		t.Fatal("old key still holds the lock")
	}
	if op, held := a.Held("/new", 1); !held || op != backend.FlockExclusive {
		t.Fatalf("new key Held = (%v, %v), want (EX, true)", op, held)
	}
}
