// Package handle owns the lifecycle of per-open file handles.
//
// The registry hands out opaque 64-bit tokens for every successful
// open/create/opendir and tracks the descriptor-level reference count of
// each open: duplicated descriptors (fork, dup) retain the same handle, and
// the backend's release effect fires exactly once, when the count reaches
// zero.
//
// Tokens are generation-tagged slot indexes. A slot index is reused only
// after the open is retired and the slot's generation tag is bumped, so a
// stale token held by a racing caller can never address a reused slot.
package handle

import (
	"fmt"
	"sync"

	"github.com/mvailati/fusegate/pkg/backend"
)

// ID is an opaque handle token: the low 32 bits are the slot index, the
// high 32 bits the slot generation at registration time.
type ID uint64

func (id ID) split() (idx uint32, gen uint32) {
	return uint32(id), uint32(id >> 32)
}

func makeID(idx, gen uint32) ID {
	return ID(uint64(gen)<<32 | uint64(idx))
}

// Open is the registry's record of one open instance.
//
// Requests on the same handle may run concurrently, so the mutable state
// (path, unlink mark, flock owner, flush mark) is guarded by a per-open
// mutex and read through accessors. The record stays valid until the last
// release retires the handle.
type Open struct {
	// Dir is true for directory handles (opendir/releasedir lifecycle).
	// Immutable after registration.
	Dir bool

	// File is the backend-facing per-open state. The pointer and its
	// LockOwner are assigned at registration and never change afterwards.
	File *backend.OpenFile

	mu              sync.Mutex
	path            string
	unlinkOnRelease bool
	flockOwner      uint64
	flushPending    bool

	// refs is guarded by the registry mutex, not the per-open mutex, so
	// the zero-crossing decision stays in the registry critical section.
	refs int
}

// Path reports the path the handle is currently open against. It changes
// when the object is renamed while open, including the hidden-file rename
// applied to unlinked-while-open files.
func (o *Open) Path() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.path
}

func (o *Open) setPath(p string) {
	o.mu.Lock()
	o.path = p
	o.mu.Unlock()
}

// UnlinkOnRelease reports whether the backing file was unlinked while open
// and renamed to a hidden name; the last release removes it.
func (o *Open) UnlinkOnRelease() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unlinkOnRelease
}

// FlockOwner reports the owner identity recorded at the first flock
// acquisition on this handle, zero before that. The release-time flock
// drop must use exactly this value.
func (o *Open) FlockOwner() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flockOwner
}

// FlushPending reports whether the open saw writes that a flush should
// push down.
func (o *Open) FlushPending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flushPending
}

// SetFlushPending records or clears the pending-writes mark.
func (o *Open) SetFlushPending(v bool) {
	o.mu.Lock()
	o.flushPending = v
	o.mu.Unlock()
}

type slot struct {
	gen  uint32
	open *Open
}

// Registry is the arena of handle slots.
//
// All reference-count mutations are serialized by the registry mutex; the
// zero-crossing decision and the slot retirement happen in the same
// critical section, so exactly one caller observes last==true for a given
// open.
type Registry struct {
	mu        sync.Mutex
	slots     []slot
	free      []uint32
	nextOwner uint64
	openPaths map[string]int
}

// New creates an empty registry.
//
// Slot 0 starts at generation 1 so that the zero ID is never a valid
// token and can serve as a "no handle" sentinel.
func New() *Registry {
	return &Registry{
		slots:     []slot{{gen: 1}},
		free:      []uint32{0},
		openPaths: make(map[string]int),
	}
}

// Register records a new open with reference count 1 and returns its token.
//
// The open's lock-owner identity is assigned here and remains stable for
// the whole open lifetime.
func (r *Registry) Register(path string, dir bool, of *backend.OpenFile) ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextOwner++
	of.LockOwner = r.nextOwner

	open := &Open{path: path, Dir: dir, File: of, refs: 1}
	r.openPaths[path]++

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[idx].open = open
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot{open: open})
	}

	return makeID(idx, r.slots[idx].gen)
}

// Get resolves a token to its open record.
//
// Fails with ErrInvalidArgument for tokens that were never issued or whose
// open has been retired (stale generation).
func (r *Registry) Get(id ID) (*Open, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(id)
}

func (r *Registry) getLocked(id ID) (*Open, error) {
	idx, gen := id.split()
	if int(idx) >= len(r.slots) {
		return nil, &backend.Error{
			Code:    backend.ErrInvalidArgument,
			Message: fmt.Sprintf("unknown file handle %#x", uint64(id)),
		}
	}
	s := &r.slots[idx]
	if s.open == nil || s.gen != gen {
		return nil, &backend.Error{
			Code:    backend.ErrInvalidArgument,
			Message: fmt.Sprintf("stale file handle %#x", uint64(id)),
		}
	}
	return s.open, nil
}

// Retain adds one descriptor-level reference to an existing open.
//
// Used when a duplicated descriptor feeds through the same open instance.
func (r *Registry) Retain(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	open, err := r.getLocked(id)
	if err != nil {
		return err
	}
	open.refs++
	return nil
}

// Release drops one reference.
//
// When the count reaches zero the handle is retired in the same critical
// section: the slot's generation is bumped, the index returns to the free
// list, and last is true. The caller performs the backend release effect
// exactly once, guided by last.
func (r *Registry) Release(id ID) (open *Open, last bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	open, err = r.getLocked(id)
	if err != nil {
		return nil, false, err
	}

	open.refs--
	if open.refs > 0 {
		return open, false, nil
	}

	idx, _ := id.split()
	r.slots[idx].open = nil
	r.slots[idx].gen++
	r.free = append(r.free, idx)

	if p := open.Path(); r.openPaths[p] <= 1 {
		delete(r.openPaths, p)
	} else {
		r.openPaths[p]--
	}

	return open, true, nil
}

// OpenCount reports how many live opens reference path.
func (r *Registry) OpenCount(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openPaths[path]
}

// Rename repoints every live open of oldPath at newPath.
//
// Applied when an open file is renamed, including the hidden-file rename
// used for unlink-of-open-file.
func (r *Registry) Rename(oldPath, newPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	moved := 0
	for i := range r.slots {
		if open := r.slots[i].open; open != nil && open.Path() == oldPath {
			open.setPath(newPath)
			moved++
		}
	}
	if moved > 0 {
		delete(r.openPaths, oldPath)
		r.openPaths[newPath] += moved
	}
}

// MarkUnlinkOnRelease flags every live open of path for removal at its last
// release.
func (r *Registry) MarkUnlinkOnRelease(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		if open := r.slots[i].open; open != nil && open.Path() == path {
			open.mu.Lock()
			open.unlinkOnRelease = true
			open.mu.Unlock()
		}
	}
}

// SetFlockOwner records the flock owner for a handle on first acquisition.
// Later calls keep the original value.
func (r *Registry) SetFlockOwner(id ID, owner uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	open, err := r.getLocked(id)
	if err != nil {
		return 0, err
	}
	open.mu.Lock()
	defer open.mu.Unlock()
	if open.flockOwner == 0 {
		open.flockOwner = owner
	}
	return open.flockOwner, nil
}

// Len reports the number of live opens.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := range r.slots {
		if r.slots[i].open != nil {
			n++
		}
	}
	return n
}
