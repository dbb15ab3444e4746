package backend

import (
	"context"
	"os"
	"time"
)

// Operations is the capability table a backend exposes to the dispatch
// layer.
//
// Every field is optional: a nil field means the backend does not implement
// that capability. The dispatch layer consults field presence and applies
// documented fallbacks (create falls back to mknod+open, write_buf/read_buf
// fall back to plain write/read with a buffer copy, lock/flock fall back to
// local-only arbitration); any other absent capability fails the operation
// with ErrNotSupported while the rest of the table remains usable.
//
// Uniform conventions:
//   - Every call receives a context carrying the caller identity for the
//     duration of that call only (see pkg/reqctx). Backends must not retain
//     the context or the identity beyond the call.
//   - Handle-scoped calls receive the *OpenFile created by the matching
//     open/create/opendir. With the nullpath_ok policy the path argument
//     may be empty for those calls.
//   - Errors are *Error taxonomy values; anything else is treated as an
//     opaque I/O error.
//
// Thread safety: the dispatch layer may invoke capabilities concurrently
// for unrelated paths and handles. Calls that mutate one handle's state are
// serialized by the dispatch layer.
type Operations struct {
	// Getattr returns the attributes of a filesystem object. of is nil
	// when the object is not open.
	Getattr func(ctx context.Context, path string, of *OpenFile) (*Attr, error)

	// Readlink reads the target of a symbolic link.
	Readlink func(ctx context.Context, path string) (string, error)

	// Mknod creates a non-directory, non-symlink node. Also the fallback
	// half of create when the Create capability is absent.
	Mknod func(ctx context.Context, path string, mode os.FileMode, dev uint64) error

	// Mkdir creates a directory.
	Mkdir func(ctx context.Context, path string, mode os.FileMode) error

	// Unlink removes a file.
	Unlink func(ctx context.Context, path string) error

	// Rmdir removes an empty directory.
	Rmdir func(ctx context.Context, path string) error

	// Symlink creates a symbolic link at link pointing to target.
	Symlink func(ctx context.Context, target, link string) error

	// Rename moves oldpath to newpath.
	Rename func(ctx context.Context, oldpath, newpath string) error

	// Link creates a hard link.
	Link func(ctx context.Context, oldpath, newpath string) error

	// Chmod changes permission bits. of may be nil.
	Chmod func(ctx context.Context, path string, mode os.FileMode, of *OpenFile) error

	// Chown changes ownership. of may be nil.
	Chown func(ctx context.Context, path string, uid, gid uint32, of *OpenFile) error

	// Truncate changes the size of a file. of may be nil.
	Truncate func(ctx context.Context, path string, size uint64, of *OpenFile) error

	// Utimens sets access and modification times. of may be nil.
	Utimens func(ctx context.Context, path string, atime, mtime time.Time, of *OpenFile) error

	// Open opens an existing file. Creation and exclusive flags never
	// reach Open; they are handled by Create or its fallback. The backend
	// may set FH, Private and the cache traits on of.
	Open func(ctx context.Context, path string, of *OpenFile) error

	// Create atomically creates and opens a regular file. A concurrent
	// reader must never observe the create and the open as two steps.
	Create func(ctx context.Context, path string, mode os.FileMode, of *OpenFile) error

	// Read reads into buf at off. Short reads at end of file are not
	// errors.
	Read func(ctx context.Context, path string, buf []byte, off uint64, of *OpenFile) (int, error)

	// Write writes data at off.
	Write func(ctx context.Context, path string, data []byte, off uint64, of *OpenFile) (int, error)

	// ReadBuf is the vectored variant of Read. When absent, plain Read is
	// used with an explicit buffer copy.
	ReadBuf func(ctx context.Context, path string, size int, off uint64, of *OpenFile) (*BufVec, error)

	// WriteBuf is the vectored variant of Write. When absent, plain Write
	// is used with an explicit buffer copy.
	WriteBuf func(ctx context.Context, path string, buf *BufVec, off uint64, of *OpenFile) (int, error)

	// Statfs returns filesystem statistics.
	Statfs func(ctx context.Context, path string) (*Statfs, error)

	// Flush is invoked on each descriptor-level close of the open. It may
	// run zero or more times per open and must be idempotent.
	Flush func(ctx context.Context, path string, of *OpenFile) error

	// Release is the final teardown of an open. The dispatch layer
	// guarantees exactly one Release per open, after the last reference
	// is gone.
	Release func(ctx context.Context, path string, of *OpenFile) error

	// Fsync flushes file contents to stable storage. datasync restricts
	// the flush to user data.
	Fsync func(ctx context.Context, path string, datasync bool, of *OpenFile) error

	// Opendir opens a directory for enumeration.
	Opendir func(ctx context.Context, path string, of *OpenFile) error

	// Readdir enumerates a directory through fill.
	//
	// Two protocols are supported, selected by how the backend uses
	// offsets, not by a caller flag:
	//
	// Bulk: the backend ignores off, passes zero offsets to fill and
	// produces the whole listing in one invocation; fill never signals
	// buffer-full.
	//
	// Cursor: the backend resumes from off and passes the offset of the
	// next entry to each fill; when fill signals buffer-full the backend
	// stops and the last issued offset is the resume point.
	Readdir func(ctx context.Context, path string, fill FillDir, off uint64, of *OpenFile, flags ReaddirFlags) error

	// Releasedir is the directory counterpart of Release.
	Releasedir func(ctx context.Context, path string, of *OpenFile) error

	// Fsyncdir flushes directory contents to stable storage.
	Fsyncdir func(ctx context.Context, path string, datasync bool, of *OpenFile) error

	// Access checks access permissions for the access(2) mask.
	Access func(ctx context.Context, path string, mask int) error

	// Lock performs a POSIX record-lock operation. Only reached after
	// local arbitration: LockGet is delegated only when no local conflict
	// is known, LockSet/LockSetWait after the region was acquired
	// locally. Interesting for network backends that arbitrate remotely.
	Lock func(ctx context.Context, path string, of *OpenFile, cmd LockCmd, lk *LockRange) error

	// Flock performs a BSD whole-file lock operation with the owner
	// recorded on of. Like Lock, only reached after local arbitration.
	Flock func(ctx context.Context, path string, of *OpenFile, op FlockOp) error

	// Setxattr sets an extended attribute. flags carries the XATTR_CREATE
	// and XATTR_REPLACE constraints from setxattr(2).
	Setxattr func(ctx context.Context, path, name string, value []byte, flags int) error

	// Getxattr reads the value of an extended attribute.
	Getxattr func(ctx context.Context, path, name string) ([]byte, error)

	// Listxattr lists the extended attribute names on a node.
	Listxattr func(ctx context.Context, path string) ([]string, error)

	// Removexattr removes an extended attribute.
	Removexattr func(ctx context.Context, path, name string) error

	// Fallocate preallocates space for an open file.
	Fallocate func(ctx context.Context, path string, mode int, off, length uint64, of *OpenFile) error

	// CopyFileRange copies size bytes between two open files without
	// routing the data through the caller.
	CopyFileRange func(ctx context.Context, pathIn string, ofIn *OpenFile, offIn uint64,
		pathOut string, ofOut *OpenFile, offOut uint64, size uint64) (int, error)
}
