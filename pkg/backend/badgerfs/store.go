// Package badgerfs implements a persistent filesystem backend on BadgerDB.
//
// Node metadata is stored as JSON records keyed by random UUID; directory
// membership is a separate key per child so listings are prefix scans in
// name order (see keys.go for the schema). Directory listings are
// delivered with one-past-the-entry offsets, the cursor enumeration form,
// so a listing never needs to fit in memory at once.
package badgerfs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/mvailati/fusegate/internal/logger"
	"github.com/mvailati/fusegate/pkg/backend"
	"github.com/mvailati/fusegate/pkg/reqctx"
)

// Options configures a Badger-backed filesystem store.
type Options struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory keeps the whole database in memory, for tests and
	// ephemeral mounts.
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites forces every commit to sync to disk.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// nodeRecord is the persisted metadata of one node.
type nodeRecord struct {
	ID     uuid.UUID   `json:"id"`
	Mode   os.FileMode `json:"mode"`
	Nlink  uint32      `json:"nlink"`
	UID    uint32      `json:"uid"`
	GID    uint32      `json:"gid"`
	Rdev   uint64      `json:"rdev,omitempty"`
	Size   uint64      `json:"size"`
	Target string      `json:"target,omitempty"`
	Atime  time.Time   `json:"atime"`
	Mtime  time.Time   `json:"mtime"`
	Ctime  time.Time   `json:"ctime"`
}

func (rec *nodeRecord) isDir() bool {
	return rec.Mode.IsDir()
}

func (rec *nodeRecord) attr() *backend.Attr {
	return &backend.Attr{
		Ino:    inoOf(rec.ID),
		Mode:   rec.Mode,
		Nlink:  rec.Nlink,
		UID:    rec.UID,
		GID:    rec.GID,
		Rdev:   rec.Rdev,
		Size:   rec.Size,
		Blocks: (rec.Size + 511) / 512,
		Atime:  rec.Atime,
		Mtime:  rec.Mtime,
		Ctime:  rec.Ctime,
	}
}

// inoOf derives a stable inode number from a node UUID.
func inoOf(id uuid.UUID) uint64 {
	var ino uint64
	for i := 0; i < 8; i++ {
		ino = ino<<8 | uint64(id[i])
	}
	ino ^= uint64(id[8])<<56 | uint64(id[15])
	if ino == 0 {
		ino = 1
	}
	return ino
}

// Store is a filesystem backend persisted in BadgerDB.
//
// Mutations run under one write mutex on top of Badger's transactions,
// trading write concurrency for the same atomicity the in-memory backend
// has: an exclusive create observes and claims its name in one step.
type Store struct {
	mu     sync.RWMutex
	db     *badger.DB
	rootID uuid.UUID
}

// New opens or creates the database and ensures a root directory exists.
func New(opts Options) (*Store, error) {
	var dbOpts badger.Options
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dbOpts = badger.DefaultOptions(opts.Path)
	}
	dbOpts = dbOpts.WithLoggingLevel(badger.WARNING).WithSyncWrites(opts.SyncWrites)

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureRoot(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("badgerfs: opened store at %q (in_memory=%v)", opts.Path, opts.InMemory)
	return s, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Operations returns the backend capability table.
//
// Lock and Flock are absent; locking is arbitrated entirely by the
// dispatch layer. The xattr family is absent; node records carry no
// extended attributes. Opendir is present so directory opens validate the
// path before any enumeration happens.
func (s *Store) Operations() backend.Operations {
	return backend.Operations{
		Getattr:    s.Getattr,
		Readlink:   s.Readlink,
		Mknod:      s.Mknod,
		Mkdir:      s.Mkdir,
		Unlink:     s.Unlink,
		Rmdir:      s.Rmdir,
		Symlink:    s.Symlink,
		Rename:     s.Rename,
		Link:       s.Link,
		Chmod:      s.Chmod,
		Chown:      s.Chown,
		Truncate:   s.Truncate,
		Utimens:    s.Utimens,
		Open:       s.Open,
		Create:     s.Create,
		Read:       s.Read,
		Write:      s.Write,
		Statfs:     s.Statfs,
		Release:    s.Release,
		Fsync:      s.Fsync,
		Opendir:    s.Opendir,
		Readdir:    s.Readdir,
		Releasedir: s.Releasedir,
		Access:     s.Access,
	}
}

func (s *Store) ensureRoot() error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(rootKey)
		if err == nil {
			return item.Value(func(val []byte) error {
				id, perr := uuid.FromBytes(val)
				if perr != nil {
					return fmt.Errorf("corrupt root pointer: %w", perr)
				}
				s.rootID = id
				return nil
			})
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		now := time.Now()
		root := &nodeRecord{
			ID:    uuid.New(),
			Mode:  os.ModeDir | 0o755,
			Nlink: 2,
			Atime: now,
			Mtime: now,
			Ctime: now,
		}
		if err := putNode(txn, root); err != nil {
			return err
		}
		if err := txn.Set(rootKey, root.ID[:]); err != nil {
			return err
		}
		s.rootID = root.ID
		return nil
	})
}

// ============================================================================
// Record Access Helpers
// ============================================================================

func putNode(txn *badger.Txn, rec *nodeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize node %s: %w", rec.ID, err)
	}
	return txn.Set(nodeKey(rec.ID), data)
}

func getNode(txn *badger.Txn, id uuid.UUID) (*nodeRecord, error) {
	item, err := txn.Get(nodeKey(id))
	if err != nil {
		return nil, err
	}
	rec := &nodeRecord{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize node %s: %w", id, err)
	}
	return rec, nil
}

func getChild(txn *badger.Txn, parent uuid.UUID, name string) (uuid.UUID, error) {
	item, err := txn.Get(childKey(parent, name))
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err = item.Value(func(val []byte) error {
		var perr error
		id, perr = uuid.FromBytes(val)
		return perr
	})
	return id, err
}

// resolve walks p from the root and returns the record at its end.
func (s *Store) resolve(txn *badger.Txn, p string) (*nodeRecord, error) {
	rec, err := getNode(txn, s.rootID)
	if err != nil {
		return nil, err
	}
	for _, name := range splitPath(p) {
		if !rec.isDir() {
			return nil, backend.NewError(backend.ErrNotDirectory, p)
		}
		childID, err := getChild(txn, rec.ID, name)
		if err == badger.ErrKeyNotFound {
			return nil, backend.NewError(backend.ErrNotFound, p)
		}
		if err != nil {
			return nil, err
		}
		if rec, err = getNode(txn, childID); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// resolveParent resolves the directory containing p and the leaf name.
func (s *Store) resolveParent(txn *badger.Txn, p string) (*nodeRecord, string, error) {
	parts := splitPath(p)
	if len(parts) == 0 {
		return nil, "", backend.NewError(backend.ErrInvalidArgument, p)
	}
	dir, err := s.resolve(txn, path.Dir(path.Clean("/"+p)))
	if err != nil {
		return nil, "", err
	}
	if !dir.isDir() {
		return nil, "", backend.NewError(backend.ErrNotDirectory, p)
	}
	return dir, parts[len(parts)-1], nil
}

func splitPath(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

func callerIdentity(ctx context.Context) (uint32, uint32) {
	if caller, ok := reqctx.CallerFrom(ctx); ok {
		return caller.UID, caller.GID
	}
	return 0, 0
}
