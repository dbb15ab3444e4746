package badgerfs

import (
	"context"
	"encoding/json"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/mvailati/fusegate/pkg/backend"
)

func (s *Store) Getattr(ctx context.Context, p string, of *backend.OpenFile) (*backend.Attr, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var attr *backend.Attr
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := s.resolve(txn, p)
		if err != nil {
			return err
		}
		attr = rec.attr()
		return nil
	})
	return attr, err
}

func (s *Store) Readlink(ctx context.Context, p string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var target string
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := s.resolve(txn, p)
		if err != nil {
			return err
		}
		if rec.Mode&os.ModeSymlink == 0 {
			return backend.NewError(backend.ErrInvalidArgument, p)
		}
		target = rec.Target
		return nil
	})
	return target, err
}

// createNode inserts a fresh node under its parent. The exclusive flag
// turns an existing name into an Exists failure; otherwise the existing
// node is kept untouched.
func (s *Store) createNode(ctx context.Context, p string, mode os.FileMode, rdev uint64, target string, exclusive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		dir, name, err := s.resolveParent(txn, p)
		if err != nil {
			return err
		}
		if _, err := getChild(txn, dir.ID, name); err == nil {
			if exclusive {
				return backend.NewError(backend.ErrExists, p)
			}
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		uid, gid := callerIdentity(ctx)
		now := time.Now()
		rec := &nodeRecord{
			ID:     uuid.New(),
			Mode:   mode,
			Nlink:  1,
			UID:    uid,
			GID:    gid,
			Rdev:   rdev,
			Target: target,
			Atime:  now,
			Mtime:  now,
			Ctime:  now,
		}
		if rec.isDir() {
			rec.Nlink = 2
		}
		if err := putNode(txn, rec); err != nil {
			return err
		}
		if err := txn.Set(childKey(dir.ID, name), rec.ID[:]); err != nil {
			return err
		}

		dir.Mtime = now
		dir.Ctime = now
		return putNode(txn, dir)
	})
}

func (s *Store) Mknod(ctx context.Context, p string, mode os.FileMode, rdev uint64) error {
	return s.createNode(ctx, p, mode, rdev, "", true)
}

func (s *Store) Mkdir(ctx context.Context, p string, mode os.FileMode) error {
	return s.createNode(ctx, p, mode|os.ModeDir, 0, "", true)
}

func (s *Store) Symlink(ctx context.Context, target, linkPath string) error {
	return s.createNode(ctx, linkPath, os.ModeSymlink|0o777, 0, target, true)
}

func (s *Store) Unlink(ctx context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		dir, name, err := s.resolveParent(txn, p)
		if err != nil {
			return err
		}
		childID, err := getChild(txn, dir.ID, name)
		if err == badger.ErrKeyNotFound {
			return backend.NewError(backend.ErrNotFound, p)
		}
		if err != nil {
			return err
		}
		rec, err := getNode(txn, childID)
		if err != nil {
			return err
		}
		if rec.isDir() {
			return backend.NewError(backend.ErrIsDirectory, p)
		}

		if err := txn.Delete(childKey(dir.ID, name)); err != nil {
			return err
		}

		if err := dropLink(txn, rec); err != nil {
			return err
		}

		dir.Mtime = time.Now()
		dir.Ctime = dir.Mtime
		return putNode(txn, dir)
	})
}

// dropLink removes one link to a file node. The node record and its
// content go away only when the last link does.
func dropLink(txn *badger.Txn, rec *nodeRecord) error {
	if rec.Nlink > 1 {
		rec.Nlink--
		rec.Ctime = time.Now()
		return putNode(txn, rec)
	}
	if err := txn.Delete(nodeKey(rec.ID)); err != nil {
		return err
	}
	if err := txn.Delete(contentKey(rec.ID)); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	return nil
}

func (s *Store) Rmdir(ctx context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		dir, name, err := s.resolveParent(txn, p)
		if err != nil {
			return err
		}
		childID, err := getChild(txn, dir.ID, name)
		if err == badger.ErrKeyNotFound {
			return backend.NewError(backend.ErrNotFound, p)
		}
		if err != nil {
			return err
		}
		rec, err := getNode(txn, childID)
		if err != nil {
			return err
		}
		if !rec.isDir() {
			return backend.NewError(backend.ErrNotDirectory, p)
		}
		if hasChildren(txn, rec.ID) {
			return backend.NewError(backend.ErrNotEmpty, p)
		}

		if err := txn.Delete(childKey(dir.ID, name)); err != nil {
			return err
		}
		if err := txn.Delete(nodeKey(rec.ID)); err != nil {
			return err
		}

		dir.Mtime = time.Now()
		dir.Ctime = dir.Mtime
		return putNode(txn, dir)
	})
}

func hasChildren(txn *badger.Txn, id uuid.UUID) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = childPrefix(id)
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Rewind()
	return it.Valid()
}

func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		oldDir, oldName, err := s.resolveParent(txn, oldPath)
		if err != nil {
			return err
		}
		childID, err := getChild(txn, oldDir.ID, oldName)
		if err == badger.ErrKeyNotFound {
			return backend.NewError(backend.ErrNotFound, oldPath)
		}
		if err != nil {
			return err
		}
		newDir, newName, err := s.resolveParent(txn, newPath)
		if err != nil {
			return err
		}

		if existingID, err := getChild(txn, newDir.ID, newName); err == nil {
			existing, gerr := getNode(txn, existingID)
			if gerr != nil {
				return gerr
			}
			if existing.isDir() {
				if hasChildren(txn, existing.ID) {
					return backend.NewError(backend.ErrNotEmpty, newPath)
				}
				if derr := txn.Delete(nodeKey(existing.ID)); derr != nil {
					return derr
				}
			} else if derr := dropLink(txn, existing); derr != nil {
				return derr
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := txn.Delete(childKey(oldDir.ID, oldName)); err != nil {
			return err
		}
		if err := txn.Set(childKey(newDir.ID, newName), childID[:]); err != nil {
			return err
		}

		now := time.Now()
		oldDir.Mtime, oldDir.Ctime = now, now
		if err := putNode(txn, oldDir); err != nil {
			return err
		}
		if newDir.ID != oldDir.ID {
			newDir.Mtime, newDir.Ctime = now, now
			if err := putNode(txn, newDir); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Link(ctx context.Context, oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := s.resolve(txn, oldPath)
		if err != nil {
			return err
		}
		if rec.isDir() {
			return backend.NewError(backend.ErrIsDirectory, oldPath)
		}
		dir, name, err := s.resolveParent(txn, newPath)
		if err != nil {
			return err
		}
		if _, err := getChild(txn, dir.ID, name); err == nil {
			return backend.NewError(backend.ErrExists, newPath)
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := txn.Set(childKey(dir.ID, name), rec.ID[:]); err != nil {
			return err
		}
		rec.Nlink++
		rec.Ctime = time.Now()
		if err := putNode(txn, rec); err != nil {
			return err
		}

		dir.Mtime = rec.Ctime
		dir.Ctime = rec.Ctime
		return putNode(txn, dir)
	})
}

// updateNode applies fn to the record at p and persists the result.
func (s *Store) updateNode(p string, fn func(rec *nodeRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := s.resolve(txn, p)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		return putNode(txn, rec)
	})
}

func (s *Store) Chmod(ctx context.Context, p string, mode os.FileMode, of *backend.OpenFile) error {
	return s.updateNode(p, func(rec *nodeRecord) error {
		rec.Mode = rec.Mode&os.ModeType | mode.Perm()
		rec.Ctime = time.Now()
		return nil
	})
}

func (s *Store) Chown(ctx context.Context, p string, uid, gid uint32, of *backend.OpenFile) error {
	return s.updateNode(p, func(rec *nodeRecord) error {
		rec.UID = uid
		rec.GID = gid
		rec.Ctime = time.Now()
		return nil
	})
}

func (s *Store) Utimens(ctx context.Context, p string, atime, mtime time.Time, of *backend.OpenFile) error {
	return s.updateNode(p, func(rec *nodeRecord) error {
		if !atime.IsZero() {
			rec.Atime = atime
		}
		if !mtime.IsZero() {
			rec.Mtime = mtime
		}
		rec.Ctime = time.Now()
		return nil
	})
}

func (s *Store) Access(ctx context.Context, p string, mask int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.View(func(txn *badger.Txn) error {
		_, err := s.resolve(txn, p)
		return err
	})
}

func (s *Store) Statfs(ctx context.Context, p string) (*backend.Statfs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var files, bytes uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("n:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			files++
			rec := &nodeRecord{}
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, rec)
			}); err != nil {
				return err
			}
			bytes += rec.Size
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

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
