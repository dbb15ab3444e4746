package backend

import (
	"os"
	"time"
)

// ============================================================================
// File Attributes
// ============================================================================

// Attr holds the attributes a backend reports for a filesystem object.
//
// Mode carries both the type bits (via os.FileMode) and the permission bits.
// Ino may be zero when the backend does not track inode numbers; whether it
// is surfaced to callers is decided by the use_ino/readdir_ino policy, not
// by the backend.
type Attr struct {
	Ino     uint64
	Mode    os.FileMode
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint64
	Size    uint64
	Blocks  uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// Statfs holds filesystem-wide statistics.
type Statfs struct {
	BlockSize   uint32
	Blocks      uint64
	BlocksFree  uint64
	BlocksAvail uint64
	Files       uint64
	FilesFree   uint64
	NameMax     uint32
}

// ============================================================================
// Per-Open State
// ============================================================================

// OpenFile carries per-open state between the dispatch layer and a backend.
//
// It is the analogue of an open-file description: created by a successful
// open/create/opendir, passed to every subsequent handle-scoped operation,
// and discarded after release. The backend may stash anything it needs in
// FH or Private; the dispatch layer treats both as opaque.
type OpenFile struct {
	// Flags are the open(2)-style flags the open was requested with.
	Flags int

	// FH is a backend-chosen numeric handle value. Opaque to the
	// dispatch layer.
	FH uint64

	// Private is an optional backend-chosen value attached to this open.
	// Opaque to the dispatch layer.
	Private any

	// LockOwner identifies the lock-owning entity for this open. Assigned
	// by the dispatch layer before the first backend call and stable for
	// the whole open lifetime, including every flush and the final release.
	LockOwner uint64

	// DirectIO requests bypassing the caller's page cache for this open.
	// May be set by the backend during open; mount policy can force it.
	DirectIO bool

	// KeepCache asks the caller to keep its cached pages across opens.
	// May be set by the backend during open; mount policy can force it.
	KeepCache bool

	// Nonseekable marks the open as non-seekable.
	Nonseekable bool
}

// setxattr(2) flag values, passed through to backends unchanged.
const (
	// XattrCreate makes Setxattr fail with Exists when the attribute is
	// already present.
	XattrCreate = 0x1

	// XattrReplace makes Setxattr fail with NotFound when the attribute
	// is absent.
	XattrReplace = 0x2
)

// ============================================================================
// Directory Enumeration
// ============================================================================

// FillDir is the directory-fill callback handed to a backend's Readdir.
//
// name is the entry name; attr may be nil when the backend cannot supply
// attributes cheaply; nextOff is the offset of the NEXT entry, or zero if
// the backend does not track offsets; plus indicates the attributes are
// complete and may be used to prefill caches. When plus is false only the
// inode number and the file-type bits of attr are meaningful.
//
// The return value is the stop signal: true means the caller's buffer is
// full and enumeration must stop. Backends that never track offsets
// (nextOff always zero) will never see true.
type FillDir func(name string, attr *Attr, nextOff uint64, plus bool) (full bool)

// ReaddirFlags selects optional enumeration behavior.
type ReaddirFlags int

const (
	// ReaddirPlus asks the backend to supply attributes with each entry
	// when it can do so cheaply.
	ReaddirPlus ReaddirFlags = 1 << iota
)

// ============================================================================
// Locking
// ============================================================================

// LockCmd selects the POSIX record-lock operation.
type LockCmd int

const (
	// LockGet queries for a conflicting lock without acquiring anything.
	LockGet LockCmd = iota

	// LockSet attempts to acquire or release a lock without blocking.
	LockSet

	// LockSetWait acquires a lock, blocking until the region is free or
	// the wait is interrupted.
	LockSetWait
)

func (c LockCmd) String() string {
	switch c {
	case LockGet:
		return "GET"
	case LockSet:
		return "SET"
	case LockSetWait:
		return "SETW"
	default:
		return "UNKNOWN"
	}
}

// LockType is the POSIX record-lock type.
type LockType int

const (
	// ReadLock is a shared lock.
	ReadLock LockType = iota

	// WriteLock is an exclusive lock.
	WriteLock

	// Unlock releases the requested region.
	Unlock
)

// LockRange describes one POSIX record-lock request or answer.
//
// The locked region is [Start, End); End == EOFRange means "to end of
// file". Owner is the lock-owner identity from the open's OpenFile; PID is
// the requesting process id and, in LockGet answers, the pid of the
// conflicting owner.
type LockRange struct {
	Type  LockType
	Start uint64
	End   uint64
	Owner uint64
	PID   uint32
}

// EOFRange marks a lock extending to the end of the file.
const EOFRange = ^uint64(0)

// Overlaps reports whether two lock regions intersect.
func (l *LockRange) Overlaps(other *LockRange) bool {
	return l.Start < other.End && other.Start < l.End
}

// Conflicts reports whether the two locks cannot coexist: the regions
// overlap, the owners differ, and at least one side is exclusive.
func (l *LockRange) Conflicts(other *LockRange) bool {
	if l.Owner == other.Owner {
		return false
	}
	if !l.Overlaps(other) {
		return false
	}
	return l.Type == WriteLock || other.Type == WriteLock
}

// FlockOp is the BSD whole-file lock operation.
type FlockOp int

const (
	// FlockShared acquires a shared whole-file lock.
	FlockShared FlockOp = iota

	// FlockExclusive acquires an exclusive whole-file lock.
	FlockExclusive

	// FlockUnlock releases the whole-file lock held by the owner.
	FlockUnlock
)

func (op FlockOp) String() string {
	switch op {
	case FlockShared:
		return "SH"
	case FlockExclusive:
		return "EX"
	case FlockUnlock:
		return "UN"
	default:
		return "UNKNOWN"
	}
}
