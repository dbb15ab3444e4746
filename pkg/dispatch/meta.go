package dispatch

import (
	"context"
	"os"
	"time"

	"github.com/mvailati/fusegate/internal/logger"
	"github.com/mvailati/fusegate/pkg/backend"
	"github.com/mvailati/fusegate/pkg/handle"
	"github.com/mvailati/fusegate/pkg/reqctx"
)

// Getattr fetches the attributes of a path. The handle token is optional;
// when present the backend receives the per-open state of that handle.
func (r *Router) Getattr(ctx context.Context, caller reqctx.Caller, filePath string, id handle.ID) (attr *backend.Attr, err error) {
	done := r.track("getattr")
	defer func() { done(err) }()

	if r.ops.Getattr == nil {
		return nil, notSupported("getattr")
	}

	var of *backend.OpenFile
	reqPath := filePath
	if id != None {
		open, gerr := r.handles.Get(id)
		if gerr != nil {
			return nil, gerr
		}
		of = open.File
		reqPath = open.Path()
	}

	ctx = r.attach(ctx, caller)
	attr, err = r.ops.Getattr(ctx, reqPath, of)
	if err != nil {
		return nil, err
	}
	r.applyAttrPolicy(filePath, attr)
	return attr, nil
}

// applyAttrPolicy rewrites backend attributes according to the mount
// policy: identity number synthesis when the backend's inode numbers are
// not trusted, and the uid/gid/mode overrides.
func (r *Router) applyAttrPolicy(filePath string, attr *backend.Attr) {
	if !r.mount.UseIno || attr.Ino == 0 {
		attr.Ino = r.nodes.get(filePath)
	}
	if r.mount.SetUID {
		attr.UID = r.mount.UID
	}
	if r.mount.SetGID {
		attr.GID = r.mount.GID
	}
	if r.mount.SetMode {
		attr.Mode = attr.Mode&os.ModeType | os.FileMode(0o777&^r.mount.Umask)
	}
}

// Access checks permissions for the calling identity.
func (r *Router) Access(ctx context.Context, caller reqctx.Caller, filePath string, mask int) (err error) {
	done := r.track("access")
	defer func() { done(err) }()

	if r.ops.Access == nil {
		return notSupported("access")
	}
	return r.ops.Access(r.attach(ctx, caller), filePath, mask)
}

// Readlink resolves a symbolic link target.
func (r *Router) Readlink(ctx context.Context, caller reqctx.Caller, filePath string) (target string, err error) {
	done := r.track("readlink")
	defer func() { done(err) }()

	if r.ops.Readlink == nil {
		return "", notSupported("readlink")
	}
	return r.ops.Readlink(r.attach(ctx, caller), filePath)
}

// Mknod creates a filesystem node.
func (r *Router) Mknod(ctx context.Context, caller reqctx.Caller, filePath string, mode os.FileMode, rdev uint64) (err error) {
	done := r.track("mknod")
	defer func() { done(err) }()

	if r.ops.Mknod == nil {
		return notSupported("mknod")
	}
	return r.ops.Mknod(r.attach(ctx, caller), filePath, mode, rdev)
}

// Mkdir creates a directory.
func (r *Router) Mkdir(ctx context.Context, caller reqctx.Caller, filePath string, mode os.FileMode) (err error) {
	done := r.track("mkdir")
	defer func() { done(err) }()

	if r.ops.Mkdir == nil {
		return notSupported("mkdir")
	}
	return r.ops.Mkdir(r.attach(ctx, caller), filePath, mode)
}

// Unlink removes a file.
//
// When the file has live opens and the hard_remove policy is off, the
// removal is deferred: the file is renamed to a hidden sibling and every
// live open is flagged so the last release removes it. Reads and writes on
// those handles keep working against the hidden name.
func (r *Router) Unlink(ctx context.Context, caller reqctx.Caller, filePath string) (err error) {
	done := r.track("unlink")
	defer func() { done(err) }()

	if r.ops.Unlink == nil {
		return notSupported("unlink")
	}
	ctx = r.attach(ctx, caller)

	if !r.mount.HardRemove && r.handles.OpenCount(filePath) > 0 {
		if hidden, herr := r.hideOpenFile(ctx, filePath); herr == nil && hidden {
			return nil
		}
		// Hiding failed; fall through to a plain removal.
	}
	return r.ops.Unlink(ctx, filePath)
}

// hideOpenFile renames an open file to a hidden sibling and flags its opens
// for removal at last release. Returns false when the backend cannot rename.
func (r *Router) hideOpenFile(ctx context.Context, filePath string) (bool, error) {
	if r.ops.Rename == nil {
		return false, nil
	}

	for attempt := 0; attempt < 16; attempt++ {
		hidden := r.hiddenName(filePath)
		err := r.ops.Rename(ctx, filePath, hidden)
		if backend.IsCode(err, backend.ErrExists) {
			continue
		}
		if err != nil {
			return false, err
		}
		r.renameTracked(filePath, hidden)
		r.handles.MarkUnlinkOnRelease(hidden)
		logger.Debug("unlink: hid open file %s as %s", filePath, hidden)
		return true, nil
	}
	return false, nil
}

// Rmdir removes an empty directory.
func (r *Router) Rmdir(ctx context.Context, caller reqctx.Caller, filePath string) (err error) {
	done := r.track("rmdir")
	defer func() { done(err) }()

	if r.ops.Rmdir == nil {
		return notSupported("rmdir")
	}
	return r.ops.Rmdir(r.attach(ctx, caller), filePath)
}

// Symlink creates a symbolic link at linkPath pointing at target.
func (r *Router) Symlink(ctx context.Context, caller reqctx.Caller, target, linkPath string) (err error) {
	done := r.track("symlink")
	defer func() { done(err) }()

	if r.ops.Symlink == nil {
		return notSupported("symlink")
	}
	return r.ops.Symlink(r.attach(ctx, caller), target, linkPath)
}

// Rename moves a file or directory.
//
// If the destination is an existing file with live opens and the
// hard_remove policy is off, the destination is first hidden the same way
// unlink hides it, so handles open on the overwritten file stay usable.
// After a successful rename all per-path state tracked for the source
// follows it to the new name.
func (r *Router) Rename(ctx context.Context, caller reqctx.Caller, oldPath, newPath string) (err error) {
	done := r.track("rename")
	defer func() { done(err) }()

	if r.ops.Rename == nil {
		return notSupported("rename")
	}
	ctx = r.attach(ctx, caller)

	if !r.mount.HardRemove && r.handles.OpenCount(newPath) > 0 {
		if _, herr := r.hideOpenFile(ctx, newPath); herr != nil {
			return herr
		}
	}

	if err = r.ops.Rename(ctx, oldPath, newPath); err != nil {
		return err
	}
	r.renameTracked(oldPath, newPath)
	return nil
}

// Link creates a hard link at newPath referring to oldPath.
func (r *Router) Link(ctx context.Context, caller reqctx.Caller, oldPath, newPath string) (err error) {
	done := r.track("link")
	defer func() { done(err) }()

	if r.ops.Link == nil {
		return notSupported("link")
	}
	return r.ops.Link(r.attach(ctx, caller), oldPath, newPath)
}

// Chmod changes the permission bits of a path.
func (r *Router) Chmod(ctx context.Context, caller reqctx.Caller, filePath string, mode os.FileMode, id handle.ID) (err error) {
	done := r.track("chmod")
	defer func() { done(err) }()

	if r.ops.Chmod == nil {
		return notSupported("chmod")
	}

	of, reqPath, err := r.resolveOptional(filePath, id)
	if err != nil {
		return err
	}
	return r.ops.Chmod(r.attach(ctx, caller), reqPath, mode, of)
}

// Chown changes the ownership of a path.
func (r *Router) Chown(ctx context.Context, caller reqctx.Caller, filePath string, uid, gid uint32, id handle.ID) (err error) {
	done := r.track("chown")
	defer func() { done(err) }()

	if r.ops.Chown == nil {
		return notSupported("chown")
	}

	of, reqPath, err := r.resolveOptional(filePath, id)
	if err != nil {
		return err
	}
	return r.ops.Chown(r.attach(ctx, caller), reqPath, uid, gid, of)
}

// Truncate resizes a file to the given length.
func (r *Router) Truncate(ctx context.Context, caller reqctx.Caller, filePath string, size uint64, id handle.ID) (err error) {
	done := r.track("truncate")
	defer func() { done(err) }()

	if r.ops.Truncate == nil {
		return notSupported("truncate")
	}

	of, reqPath, err := r.resolveOptional(filePath, id)
	if err != nil {
		return err
	}
	return r.ops.Truncate(r.attach(ctx, caller), reqPath, size, of)
}

// Utimens sets the access and modification timestamps of a path.
func (r *Router) Utimens(ctx context.Context, caller reqctx.Caller, filePath string, atime, mtime time.Time, id handle.ID) (err error) {
	done := r.track("utimens")
	defer func() { done(err) }()

	if r.ops.Utimens == nil {
		return notSupported("utimens")
	}

	of, reqPath, err := r.resolveOptional(filePath, id)
	if err != nil {
		return err
	}
	return r.ops.Utimens(r.attach(ctx, caller), reqPath, atime, mtime, of)
}

// Statfs reports filesystem usage totals.
func (r *Router) Statfs(ctx context.Context, caller reqctx.Caller, filePath string) (st *backend.Statfs, err error) {
	done := r.track("statfs")
	defer func() { done(err) }()

	if r.ops.Statfs == nil {
		return nil, notSupported("statfs")
	}
	return r.ops.Statfs(r.attach(ctx, caller), filePath)
}

// resolveOptional resolves the optional handle token of a path-or-handle
// operation: with a token the backend also sees that handle's per-open
// state. Metadata operations always carry the real path; the nullpath
// policy does not cover them.
func (r *Router) resolveOptional(filePath string, id handle.ID) (*backend.OpenFile, string, error) {
	if id == None {
		return nil, filePath, nil
	}
	open, err := r.handles.Get(id)
	if err != nil {
		return nil, "", err
	}
	return open.File, open.Path(), nil
}
