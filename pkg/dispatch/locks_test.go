package dispatch

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvailati/fusegate/pkg/backend"
	"github.com/mvailati/fusegate/pkg/backend/memory"
	"github.com/mvailati/fusegate/pkg/config"
)

func TestLockGetAnsweredLocally(t *testing.T) {
	backendCalls := 0
	fs := memory.New()
	ops := fs.Operations()
	ops.Lock = func(ctx context.Context, p string, of *backend.OpenFile, cmd backend.LockCmd, lk *backend.LockRange) error {
		backendCalls++
		return nil
	}
	r := New(ops, &config.MountConfig{}, nil)
	ctx := context.Background()

	id1, err := r.Create(ctx, testCaller, "/f", 0o644, os.O_RDWR|os.O_CREATE)
	require.NoError(t, err)
	id2, err := r.Open(ctx, testCaller, "/f", os.O_RDWR)
	require.NoError(t, err)
	defer r.Release(ctx, testCaller, id1, false)
	defer r.Release(ctx, testCaller, id2, false)

	// First handle takes a write lock; the backend sees the settled set.
	set := &backend.LockRange{Type: backend.WriteLock, Start: 0, End: 100}
	require.NoError(t, r.Lock(ctx, testCaller, id1, backend.LockSet, set))
	require.Equal(t, 1, backendCalls)

	// The second handle's query hits the known conflict and never
	// reaches the backend.
	query := &backend.LockRange{Type: backend.WriteLock, Start: 10, End: 20}
	require.NoError(t, r.Lock(ctx, testCaller, id2, backend.LockGet, query))
	assert.Equal(t, 1, backendCalls)
	assert.Equal(t, backend.WriteLock, query.Type)

	// A clean query is delegated.
	clean := &backend.LockRange{Type: backend.WriteLock, Start: 500, End: 600}
	require.NoError(t, r.Lock(ctx, testCaller, id2, backend.LockGet, clean))
	assert.Equal(t, 2, backendCalls)
}

func TestLockGetWithoutCapability(t *testing.T) {
	r, _ := newTestRouter(t, nil) // memory backend has no lock capability
	ctx := context.Background()

	id, err := r.Create(ctx, testCaller, "/f", 0o644, os.O_RDWR|os.O_CREATE)
	require.NoError(t, err)
	defer r.Release(ctx, testCaller, id, false)

	query := &backend.LockRange{Type: backend.WriteLock, Start: 0, End: 10}
	require.NoError(t, r.Lock(ctx, testCaller, id, backend.LockGet, query))
	assert.Equal(t, backend.Unlock, query.Type, "no conflict must answer unlocked")
}

func TestLockSetConflictWouldBlock(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	ctx := context.Background()

	id1, err := r.Create(ctx, testCaller, "/f", 0o644, os.O_RDWR|os.O_CREATE)
	require.NoError(t, err)
	id2, err := r.Open(ctx, testCaller, "/f", os.O_RDWR)
	require.NoError(t, err)
	defer r.Release(ctx, testCaller, id1, false)
	defer r.Release(ctx, testCaller, id2, false)

	first := &backend.LockRange{Type: backend.WriteLock, Start: 0, End: 10}
	require.NoError(t, r.Lock(ctx, testCaller, id1, backend.LockSet, first))

	second := &backend.LockRange{Type: backend.WriteLock, Start: 5, End: 15}
	err = r.Lock(ctx, testCaller, id2, backend.LockSet, second)
	assert.True(t, backend.IsCode(err, backend.ErrWouldBlock))
}

func TestLockBackendFailureRollsBack(t *testing.T) {
	fs := memory.New()
	ops := fs.Operations()
	ops.Lock = func(ctx context.Context, p string, of *backend.OpenFile, cmd backend.LockCmd, lk *backend.LockRange) error {
		if cmd == backend.LockSet {
			return backend.NewError(backend.ErrIOError, p)
		}
		lk.Type = backend.Unlock
		return nil
	}
	r := New(ops, &config.MountConfig{}, nil)
	ctx := context.Background()

	id1, err := r.Create(ctx, testCaller, "/f", 0o644, os.O_RDWR|os.O_CREATE)
	require.NoError(t, err)
	id2, err := r.Open(ctx, testCaller, "/f", os.O_RDWR)
	require.NoError(t, err)
	defer r.Release(ctx, testCaller, id1, false)
	defer r.Release(ctx, testCaller, id2, false)

	set := &backend.LockRange{Type: backend.WriteLock, Start: 0, End: 10}
	err = r.Lock(ctx, testCaller, id1, backend.LockSet, set)
	require.True(t, backend.IsCode(err, backend.ErrIOError))

	// The withdrawn grant must not shadow later queries.
	query := &backend.LockRange{Type: backend.WriteLock, Start: 0, End: 10}
	require.NoError(t, r.Lock(ctx, testCaller, id2, backend.LockGet, query))
	assert.Equal(t, backend.Unlock, query.Type)
}

func TestReleaseDropsRecordLocks(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	ctx := context.Background()

	id1, err := r.Create(ctx, testCaller, "/f", 0o644, os.O_RDWR|os.O_CREATE)
	require.NoError(t, err)
	id2, err := r.Open(ctx, testCaller, "/f", os.O_RDWR)
	require.NoError(t, err)
	defer r.Release(ctx, testCaller, id2, false)

	set := &backend.LockRange{Type: backend.WriteLock, Start: 0, End: 100}
	require.NoError(t, r.Lock(ctx, testCaller, id1, backend.LockSet, set))

	blocked := &backend.LockRange{Type: backend.WriteLock, Start: 0, End: 100}
	err = r.Lock(ctx, testCaller, id2, backend.LockSet, blocked)
	require.True(t, backend.IsCode(err, backend.ErrWouldBlock))

	// Closing the locking handle releases its regions.
	require.NoError(t, r.Release(ctx, testCaller, id1, false))

	retry := &backend.LockRange{Type: backend.WriteLock, Start: 0, End: 100}
	assert.NoError(t, r.Lock(ctx, testCaller, id2, backend.LockSet, retry))
}

func TestFlockLifecycle(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	ctx := context.Background()

	id1, err := r.Create(ctx, testCaller, "/f", 0o644, os.O_RDWR|os.O_CREATE)
	require.NoError(t, err)
	id2, err := r.Open(ctx, testCaller, "/f", os.O_RDWR)
	require.NoError(t, err)
	defer r.Release(ctx, testCaller, id2, true)

	require.NoError(t, r.Flock(ctx, testCaller, id1, backend.FlockExclusive, true))

	err = r.Flock(ctx, testCaller, id2, backend.FlockShared, true)
	require.True(t, backend.IsCode(err, backend.ErrWouldBlock))

	// Release with the flock flag drops the whole-file lock, so the
	// second handle can acquire.
	require.NoError(t, r.Release(ctx, testCaller, id1, true))
	assert.NoError(t, r.Flock(ctx, testCaller, id2, backend.FlockShared, true))
}
