package badgerfs

import (
	"context"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/mvailati/fusegate/pkg/backend"
)

func (s *Store) Open(ctx context.Context, p string, of *backend.OpenFile) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.View(func(txn *badger.Txn) error {
		rec, err := s.resolve(txn, p)
		if err != nil {
			return err
		}
		if rec.isDir() {
			return backend.NewError(backend.ErrIsDirectory, p)
		}
		of.FH = inoOf(rec.ID)
		return nil
	})
}

func (s *Store) Create(ctx context.Context, p string, mode os.FileMode, of *backend.OpenFile) error {
	exclusive := of.Flags&os.O_EXCL != 0
	if err := s.createNode(ctx, p, mode&^os.ModeType, 0, "", exclusive); err != nil {
		return err
	}
	return s.Open(ctx, p, of)
}

func (s *Store) Read(ctx context.Context, p string, buf []byte, off uint64, of *backend.OpenFile) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := s.resolve(txn, p)
		if err != nil {
			return err
		}
		item, err := txn.Get(contentKey(rec.ID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if off < uint64(len(val)) {
				n = copy(buf, val[off:])
			}
			return nil
		})
	})
	return n, err
}

func (s *Store) Write(ctx context.Context, p string, data []byte, off uint64, of *backend.OpenFile) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		rec, err := s.resolve(txn, p)
		if err != nil {
			return err
		}

		var content []byte
		if item, gerr := txn.Get(contentKey(rec.ID)); gerr == nil {
			if verr := item.Value(func(val []byte) error {
				content = append([]byte(nil), val...)
				return nil
			}); verr != nil {
				return verr
			}
		} else if gerr != badger.ErrKeyNotFound {
			return gerr
		}

		end := off + uint64(len(data))
		if end > uint64(len(content)) {
			content = append(content, make([]byte, end-uint64(len(content)))...)
		}
		copy(content[off:], data)

		if err := txn.Set(contentKey(rec.ID), content); err != nil {
			return err
		}
		rec.Size = uint64(len(content))
		rec.Mtime = time.Now()
		rec.Ctime = rec.Mtime
		return putNode(txn, rec)
	})
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func (s *Store) Truncate(ctx context.Context, p string, size uint64, of *backend.OpenFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := s.resolve(txn, p)
		if err != nil {
			return err
		}
		if rec.isDir() {
			return backend.NewError(backend.ErrIsDirectory, p)
		}

		var content []byte
		if item, gerr := txn.Get(contentKey(rec.ID)); gerr == nil {
			if verr := item.Value(func(val []byte) error {
				content = append([]byte(nil), val...)
				return nil
			}); verr != nil {
				return verr
			}
		} else if gerr != badger.ErrKeyNotFound {
			return gerr
		}

		if size <= uint64(len(content)) {
			content = content[:size]
		} else {
			content = append(content, make([]byte, size-uint64(len(content)))...)
		}

		if err := txn.Set(contentKey(rec.ID), content); err != nil {
			return err
		}
		rec.Size = size
		rec.Mtime = time.Now()
		rec.Ctime = rec.Mtime
		return putNode(txn, rec)
	})
}

func (s *Store) Release(ctx context.Context, p string, of *backend.OpenFile) error {
	return nil
}

// Fsync syncs the whole database; Badger has no per-key sync.
func (s *Store) Fsync(ctx context.Context, p string, datasync bool, of *backend.OpenFile) error {
	return s.db.Sync()
}

func (s *Store) Opendir(ctx context.Context, p string, of *backend.OpenFile) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.View(func(txn *badger.Txn) error {
		rec, err := s.resolve(txn, p)
		if err != nil {
			return err
		}
		if !rec.isDir() {
			return backend.NewError(backend.ErrNotDirectory, p)
		}
		of.FH = inoOf(rec.ID)
		return nil
	})
}

func (s *Store) Releasedir(ctx context.Context, p string, of *backend.OpenFile) error {
	return nil
}

// Readdir lists directory entries in name order with one-past-the-entry
// offsets, the cursor enumeration form: off is the number of entries
// already delivered, counting the "." and ".." that lead the listing.
//
// Offsets are positional, so a create or unlink between two pages shifts
// the numbering and a resumed cursor may skip or repeat a neighboring
// entry. Readers needing a stable view should consume the listing in one
// pass.
func (s *Store) Readdir(ctx context.Context, p string, fill backend.FillDir, off uint64, of *backend.OpenFile, flags backend.ReaddirFlags) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plus := flags&backend.ReaddirPlus != 0

	return s.db.View(func(txn *badger.Txn) error {
		dir, err := s.resolve(txn, p)
		if err != nil {
			return err
		}
		if !dir.isDir() {
			return backend.NewError(backend.ErrNotDirectory, p)
		}

		type entry struct {
			name string
			id   uuid.UUID
		}
		entries := []entry{{name: "."}, {name: ".."}}

		opts := badger.DefaultIteratorOptions
		prefix := childPrefix(dir.ID)
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(prefix):])
			var id uuid.UUID
			if err := item.Value(func(val []byte) error {
				var perr error
				id, perr = uuid.FromBytes(val)
				return perr
			}); err != nil {
				return err
			}
			// Iteration is prefix-ordered, so entries arrive name sorted.
			entries = append(entries, entry{name: name, id: id})
		}

		for i := int(off); i < len(entries); i++ {
			e := entries[i]
			var attr *backend.Attr
			switch {
			case e.id == uuid.Nil:
				attr = &backend.Attr{Ino: inoOf(dir.ID), Mode: os.ModeDir}
			case plus:
				rec, gerr := getNode(txn, e.id)
				if gerr != nil {
					return gerr
				}
				attr = rec.attr()
			default:
				attr = &backend.Attr{Ino: inoOf(e.id)}
			}
			if fill(e.name, attr, uint64(i)+1, plus) {
				return nil
			}
		}
		return nil
	})
}
