package dispatch

import (
	"sync"
	"time"

	"github.com/mvailati/fusegate/pkg/backend"
)

// nodeMap assigns stable internal identity numbers to paths.
//
// These numbers stand in for inode numbers when the use_ino policy is off,
// back the readdir_ino directory-entry hints, and carry the size/mtime
// snapshot the auto_cache policy compares on open.
//
// Entries are retained for at least the remember duration after their last
// use; a negative duration retains them for the lifetime of the process.
// Pruning happens opportunistically on lookups, so the retention is a
// minimum, not a deadline.
type nodeMap struct {
	mu       sync.Mutex
	remember time.Duration
	nodes    map[string]*nodeEntry
	nextID   uint64
	lookups  int
}

type nodeEntry struct {
	id   uint64
	seen time.Time

	// auto_cache snapshot
	hasAttr bool
	attrAt  time.Time
	size    uint64
	mtime   time.Time
}

// pruneInterval is the number of lookups between retention sweeps.
const pruneInterval = 1024

func newNodeMap(remember time.Duration) *nodeMap {
	return &nodeMap{remember: remember, nodes: make(map[string]*nodeEntry)}
}

// get returns the identity number for path, assigning one on first use.
func (m *nodeMap) get(path string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.touchLocked(path)
	return e.id
}

// peek returns the identity number for path only if one is already cached,
// zero otherwise. Used for readdir_ino hints, which never force an
// assignment.
func (m *nodeMap) peek(path string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.nodes[path]
	if e == nil {
		return 0
	}
	e.seen = time.Now()
	return e.id
}

// updateAttrCache records the size/mtime snapshot for the auto_cache
// policy and reports whether the file changed since the previous snapshot.
// The first observation of a path counts as changed.
func (m *nodeMap) updateAttrCache(path string, attr *backend.Attr) (changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.touchLocked(path)
	changed = !e.hasAttr || e.size != attr.Size || !e.mtime.Equal(attr.Mtime)
	e.hasAttr = true
	e.attrAt = time.Now()
	e.size = attr.Size
	e.mtime = attr.Mtime
	return changed
}

// attrFresh reports whether the auto_cache snapshot for path is younger
// than window, in which case the open may trust cached pages without
// re-fetching attributes.
func (m *nodeMap) attrFresh(path string, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.nodes[path]
	if e == nil || !e.hasAttr {
		return false
	}
	e.seen = time.Now()
	return time.Since(e.attrAt) <= window
}

// rename moves the identity entry with the object.
func (m *nodeMap) rename(oldPath, newPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.nodes[oldPath]
	if e == nil {
		return
	}
	delete(m.nodes, oldPath)
	m.nodes[newPath] = e
	e.seen = time.Now()
}

func (m *nodeMap) touchLocked(path string) *nodeEntry {
	m.lookups++
	if m.lookups%pruneInterval == 0 {
		m.pruneLocked(time.Now())
	}

	e := m.nodes[path]
	if e == nil {
		m.nextID++
		e = &nodeEntry{id: m.nextID}
		m.nodes[path] = e
	}
	e.seen = time.Now()
	return e
}

func (m *nodeMap) pruneLocked(now time.Time) {
	if m.remember < 0 {
		return
	}
	cutoff := now.Add(-m.remember)
	for path, e := range m.nodes {
		if e.seen.Before(cutoff) {
			delete(m.nodes, path)
		}
	}
}
