// Package memory implements an in-memory filesystem backend.
//
// The whole tree lives behind one mutex, which makes every capability an
// atomic step; in particular an exclusive create observes and claims the
// name in the same critical section. Directory listings are delivered with
// zero offsets, the bulk enumeration form.
package memory

import (
	"context"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mvailati/fusegate/pkg/backend"
	"github.com/mvailati/fusegate/pkg/reqctx"
)

// node is one file, directory or symlink in the tree.
type node struct {
	attr     backend.Attr
	data     []byte
	children map[string]*node
	target   string
	xattrs   map[string][]byte
}

func (n *node) isDir() bool {
	return n.attr.Mode.IsDir()
}

// FS is an in-memory filesystem backend.
type FS struct {
	mu      sync.Mutex
	root    *node
	nextIno uint64
}

// New creates an empty filesystem with a root directory owned by the
// current process.
func New() *FS {
	fs := &FS{nextIno: 1}
	fs.root = fs.newNode(os.ModeDir | 0o755)
	fs.root.children = make(map[string]*node)
	fs.root.attr.Nlink = 2
	return fs
}

// Close releases nothing; the tree is garbage collected with the backend.
func (fs *FS) Close() error {
	return nil
}

// Operations returns the backend capability table.
//
// Opendir, Releasedir, Lock and Flock are deliberately absent: directory
// handles need no per-open state here, and lock arbitration is complete
// without backend participation.
func (fs *FS) Operations() backend.Operations {
	return backend.Operations{
		Getattr:       fs.Getattr,
		Readlink:      fs.Readlink,
		Mknod:         fs.Mknod,
		Mkdir:         fs.Mkdir,
		Unlink:        fs.Unlink,
		Rmdir:         fs.Rmdir,
		Symlink:       fs.Symlink,
		Rename:        fs.Rename,
		Link:          fs.Link,
		Chmod:         fs.Chmod,
		Chown:         fs.Chown,
		Truncate:      fs.Truncate,
		Utimens:       fs.Utimens,
		Open:          fs.Open,
		Create:        fs.Create,
		Read:          fs.Read,
		Write:         fs.Write,
		Statfs:        fs.Statfs,
		Release:       fs.Release,
		Fsync:         fs.Fsync,
		Readdir:       fs.Readdir,
		Access:        fs.Access,
		Setxattr:      fs.Setxattr,
		Getxattr:      fs.Getxattr,
		Listxattr:     fs.Listxattr,
		Removexattr:   fs.Removexattr,
		Fallocate:     fs.Fallocate,
		CopyFileRange: fs.CopyFileRange,
	}
}

func (fs *FS) newNode(mode os.FileMode) *node {
	ino := fs.nextIno
	fs.nextIno++
	now := time.Now()
	n := &node{
		attr: backend.Attr{
			Ino:   ino,
			Mode:  mode,
			Nlink: 1,
			Atime: now,
			Mtime: now,
			Ctime: now,
		},
	}
	if mode.IsDir() {
		n.children = make(map[string]*node)
		n.attr.Nlink = 2
	}
	return n
}

// split breaks a cleaned absolute path into its components.
func split(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

// lookup walks the tree to the node at p. Callers hold fs.mu.
func (fs *FS) lookup(p string) (*node, error) {
	n := fs.root
	for _, name := range split(p) {
		if !n.isDir() {
			return nil, backend.NewError(backend.ErrNotDirectory, p)
		}
		child, ok := n.children[name]
		if !ok {
			return nil, backend.NewError(backend.ErrNotFound, p)
		}
		n = child
	}
	return n, nil
}

// lookupParent resolves the parent directory and leaf name of p. Callers
// hold fs.mu.
func (fs *FS) lookupParent(p string) (*node, string, error) {
	parts := split(p)
	if len(parts) == 0 {
		return nil, "", backend.NewError(backend.ErrInvalidArgument, p)
	}
	dir, err := fs.lookup(path.Dir(path.Clean("/" + p)))
	if err != nil {
		return nil, "", err
	}
	if !dir.isDir() {
		return nil, "", backend.NewError(backend.ErrNotDirectory, p)
	}
	return dir, parts[len(parts)-1], nil
}

func (fs *FS) touch(n *node, mtime bool) {
	now := time.Now()
	n.attr.Ctime = now
	if mtime {
		n.attr.Mtime = now
	}
}

func (fs *FS) Getattr(ctx context.Context, p string, of *backend.OpenFile) (*backend.Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return nil, err
	}
	attr := n.attr
	attr.Size = uint64(len(n.data))
	attr.Blocks = (attr.Size + 511) / 512
	return &attr, nil
}

func (fs *FS) Readlink(ctx context.Context, p string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return "", err
	}
	if n.attr.Mode&os.ModeSymlink == 0 {
		return "", backend.NewError(backend.ErrInvalidArgument, p)
	}
	return n.target, nil
}

func (fs *FS) Mknod(ctx context.Context, p string, mode os.FileMode, rdev uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, name, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	if _, exists := dir.children[name]; exists {
		return backend.NewError(backend.ErrExists, p)
	}

	n := fs.newNode(mode)
	n.attr.Rdev = rdev
	if caller, ok := reqctx.CallerFrom(ctx); ok {
		n.attr.UID = caller.UID
		n.attr.GID = caller.GID
	}
	dir.children[name] = n
	fs.touch(dir, true)
	return nil
}

func (fs *FS) Mkdir(ctx context.Context, p string, mode os.FileMode) error {
	return fs.Mknod(ctx, p, mode|os.ModeDir, 0)
}

func (fs *FS) Unlink(ctx context.Context, p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, name, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	n, ok := dir.children[name]
	if !ok {
		return backend.NewError(backend.ErrNotFound, p)
	}
	if n.isDir() {
		return backend.NewError(backend.ErrIsDirectory, p)
	}
	delete(dir.children, name)
	if n.attr.Nlink > 0 {
		n.attr.Nlink--
	}
	fs.touch(dir, true)
	return nil
}

func (fs *FS) Rmdir(ctx context.Context, p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, name, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	n, ok := dir.children[name]
	if !ok {
		return backend.NewError(backend.ErrNotFound, p)
	}
	if !n.isDir() {
		return backend.NewError(backend.ErrNotDirectory, p)
	}
	if len(n.children) > 0 {
		return backend.NewError(backend.ErrNotEmpty, p)
	}
	delete(dir.children, name)
	fs.touch(dir, true)
	return nil
}

func (fs *FS) Symlink(ctx context.Context, target, linkPath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, name, err := fs.lookupParent(linkPath)
	if err != nil {
		return err
	}
	if _, exists := dir.children[name]; exists {
		return backend.NewError(backend.ErrExists, linkPath)
	}

	n := fs.newNode(os.ModeSymlink | 0o777)
	n.target = target
	dir.children[name] = n
	fs.touch(dir, true)
	return nil
}

func (fs *FS) Rename(ctx context.Context, oldPath, newPath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	oldDir, oldName, err := fs.lookupParent(oldPath)
	if err != nil {
		return err
	}
	n, ok := oldDir.children[oldName]
	if !ok {
		return backend.NewError(backend.ErrNotFound, oldPath)
	}
	newDir, newName, err := fs.lookupParent(newPath)
	if err != nil {
		return err
	}
	if existing, ok := newDir.children[newName]; ok {
		if existing.isDir() && len(existing.children) > 0 {
			return backend.NewError(backend.ErrNotEmpty, newPath)
		}
	}

	delete(oldDir.children, oldName)
	newDir.children[newName] = n
	fs.touch(oldDir, true)
	fs.touch(newDir, true)
	fs.touch(n, false)
	return nil
}

func (fs *FS) Link(ctx context.Context, oldPath, newPath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(oldPath)
	if err != nil {
		return err
	}
	if n.isDir() {
		return backend.NewError(backend.ErrIsDirectory, oldPath)
	}
	dir, name, err := fs.lookupParent(newPath)
	if err != nil {
		return err
	}
	if _, exists := dir.children[name]; exists {
		return backend.NewError(backend.ErrExists, newPath)
	}

	dir.children[name] = n
	n.attr.Nlink++
	fs.touch(n, false)
	fs.touch(dir, true)
	return nil
}

func (fs *FS) Chmod(ctx context.Context, p string, mode os.FileMode, of *backend.OpenFile) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return err
	}
	n.attr.Mode = n.attr.Mode&os.ModeType | mode.Perm()
	fs.touch(n, false)
	return nil
}

func (fs *FS) Chown(ctx context.Context, p string, uid, gid uint32, of *backend.OpenFile) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return err
	}
	n.attr.UID = uid
	n.attr.GID = gid
	fs.touch(n, false)
	return nil
}

func (fs *FS) Truncate(ctx context.Context, p string, size uint64, of *backend.OpenFile) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return err
	}
	if n.isDir() {
		return backend.NewError(backend.ErrIsDirectory, p)
	}

	if size <= uint64(len(n.data)) {
		n.data = n.data[:size]
	} else {
		n.data = append(n.data, make([]byte, size-uint64(len(n.data)))...)
	}
	fs.touch(n, true)
	return nil
}

func (fs *FS) Utimens(ctx context.Context, p string, atime, mtime time.Time, of *backend.OpenFile) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return err
	}
	if !atime.IsZero() {
		n.attr.Atime = atime
	}
	if !mtime.IsZero() {
		n.attr.Mtime = mtime
	}
	n.attr.Ctime = time.Now()
	return nil
}

func (fs *FS) Open(ctx context.Context, p string, of *backend.OpenFile) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return err
	}
	if n.isDir() {
		return backend.NewError(backend.ErrIsDirectory, p)
	}
	return nil
}

// Create claims the name and opens it as one atomic step under the tree
// mutex, so two racing exclusive creates cannot both succeed.
func (fs *FS) Create(ctx context.Context, p string, mode os.FileMode, of *backend.OpenFile) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, name, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	if existing, ok := dir.children[name]; ok {
		if of.Flags&os.O_EXCL != 0 {
			return backend.NewError(backend.ErrExists, p)
		}
		if of.Flags&os.O_TRUNC != 0 && !existing.isDir() {
			existing.data = nil
			existing.attr.Size = 0
			fs.touch(existing, true)
		}
		return nil
	}

	n := fs.newNode(mode &^ os.ModeType)
	if caller, ok := reqctx.CallerFrom(ctx); ok {
		n.attr.UID = caller.UID
		n.attr.GID = caller.GID
	}
	dir.children[name] = n
	fs.touch(dir, true)
	return nil
}

func (fs *FS) Read(ctx context.Context, p string, buf []byte, off uint64, of *backend.OpenFile) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return 0, err
	}
	if off >= uint64(len(n.data)) {
		return 0, nil
	}
	n.attr.Atime = time.Now()
	return copy(buf, n.data[off:]), nil
}

func (fs *FS) Write(ctx context.Context, p string, data []byte, off uint64, of *backend.OpenFile) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return 0, err
	}

	end := off + uint64(len(data))
	if end > uint64(len(n.data)) {
		n.data = append(n.data, make([]byte, end-uint64(len(n.data)))...)
	}
	copy(n.data[off:], data)
	fs.touch(n, true)
	return len(data), nil
}

func (fs *FS) Statfs(ctx context.Context, p string) (*backend.Statfs, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var files, bytes uint64
	var walk func(n *node)
	walk = func(n *node) {
		files++
		bytes += uint64(len(n.data))
		for _, child := range n.children {
			walk(child)
		}
	}
	walk(fs.root)

	const bsize = 4096
	used := (bytes + bsize - 1) / bsize
	return &backend.Statfs{
		BlockSize:   bsize,
		Blocks:      1 << 30,
		BlocksFree:  1<<30 - used,
		BlocksAvail: 1<<30 - used,
		Files:       files,
		FilesFree:   1 << 20,
		NameMax:     255,
	}, nil
}

func (fs *FS) Release(ctx context.Context, p string, of *backend.OpenFile) error {
	return nil
}

func (fs *FS) Fsync(ctx context.Context, p string, datasync bool, of *backend.OpenFile) error {
	return nil
}

// Readdir lists a directory in a single pass with zero offsets, selecting
// the bulk protocol.
func (fs *FS) Readdir(ctx context.Context, p string, fill backend.FillDir, off uint64, of *backend.OpenFile, flags backend.ReaddirFlags) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return err
	}
	if !n.isDir() {
		return backend.NewError(backend.ErrNotDirectory, p)
	}

	plus := flags&backend.ReaddirPlus != 0
	emit := func(name string, child *node) bool {
		var attr *backend.Attr
		if plus {
			a := child.attr
			a.Size = uint64(len(child.data))
			attr = &a
		} else {
			attr = &backend.Attr{Ino: child.attr.Ino, Mode: child.attr.Mode & os.ModeType}
		}
		return fill(name, attr, 0, plus)
	}

	if emit(".", n) {
		return nil
	}
	if emit("..", n) {
		return nil
	}
	for name, child := range n.children {
		if emit(name, child) {
			return nil
		}
	}
	return nil
}

func (fs *FS) Access(ctx context.Context, p string, mask int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, err := fs.lookup(p)
	return err
}

func (fs *FS) Setxattr(ctx context.Context, p, name string, value []byte, flags int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return err
	}
	_, exists := n.xattrs[name]
	if flags&backend.XattrCreate != 0 && exists {
		return backend.NewError(backend.ErrExists, p)
	}
	if flags&backend.XattrReplace != 0 && !exists {
		return backend.NewError(backend.ErrNotFound, p)
	}
	if n.xattrs == nil {
		n.xattrs = make(map[string][]byte)
	}
	n.xattrs[name] = append([]byte(nil), value...)
	n.attr.Ctime = time.Now()
	return nil
}

func (fs *FS) Getxattr(ctx context.Context, p, name string) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return nil, err
	}
	value, ok := n.xattrs[name]
	if !ok {
		return nil, backend.NewError(backend.ErrNotFound, p)
	}
	return append([]byte(nil), value...), nil
}

func (fs *FS) Listxattr(ctx context.Context, p string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(n.xattrs))
	for name := range n.xattrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (fs *FS) Removexattr(ctx context.Context, p, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return err
	}
	if _, ok := n.xattrs[name]; !ok {
		return backend.NewError(backend.ErrNotFound, p)
	}
	delete(n.xattrs, name)
	n.attr.Ctime = time.Now()
	return nil
}

func (fs *FS) Fallocate(ctx context.Context, p string, mode int, off, length uint64, of *backend.OpenFile) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.lookup(p)
	if err != nil {
		return err
	}
	if mode != 0 {
		return backend.NewError(backend.ErrNotSupported, p)
	}
	end := off + length
	if end > uint64(len(n.data)) {
		n.data = append(n.data, make([]byte, end-uint64(len(n.data)))...)
		fs.touch(n, true)
	}
	return nil
}

func (fs *FS) CopyFileRange(ctx context.Context, pathIn string, ofIn *backend.OpenFile, offIn uint64,
	pathOut string, ofOut *backend.OpenFile, offOut uint64, size uint64) (int, error) {

	fs.mu.Lock()
	defer fs.mu.Unlock()

	src, err := fs.lookup(pathIn)
	if err != nil {
		return 0, err
	}
	dst, err := fs.lookup(pathOut)
	if err != nil {
		return 0, err
	}

	if offIn >= uint64(len(src.data)) {
		return 0, nil
	}
	chunk := src.data[offIn:]
	if uint64(len(chunk)) > size {
		chunk = chunk[:size]
	}

	end := offOut + uint64(len(chunk))
	if end > uint64(len(dst.data)) {
		dst.data = append(dst.data, make([]byte, end-uint64(len(dst.data)))...)
	}
	copy(dst.data[offOut:], chunk)
	fs.touch(dst, true)
	return len(chunk), nil
}
