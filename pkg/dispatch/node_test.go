package dispatch

import (
	"testing"
	"time"

	"github.com/mvailati/fusegate/pkg/backend"
)

func TestNodeMapAssignsStableIDs(t *testing.T) {
	m := newNodeMap(0)

	a := m.get("/a")
	b := m.get("/b")
	if a == 0 || b == 0 {
		t.Fatal("identity numbers must be nonzero")
	}
	if a == b {
		t.Fatalf("distinct paths share id %d", a)
	}
	if again := m.get("/a"); again != a {
		t.Fatalf("repeated get = %d, want %d", again, a)
	}
}

func TestNodeMapPeekNeverAssigns(t *testing.T) {
	m := newNodeMap(0)

	if got := m.peek("/unseen"); got != 0 {
		t.Fatalf("peek of unseen path = %d, want 0", got)
	}

	id := m.get("/seen")
	if got := m.peek("/seen"); got != id {
		t.Fatalf("peek = %d, want %d", got, id)
	}
}

func TestNodeMapRenameKeepsID(t *testing.T) {
	m := newNodeMap(0)

	id := m.get("/before")
	m.rename("/before", "/after")

	if got := m.peek("/before"); got != 0 {
		t.Fatalf("old path still mapped to %d", got)
	}
	if got := m.get("/after"); got != id {
		t.Fatalf("renamed path id = %d, want %d", got, id)
	}
}

func TestNodeMapAttrSnapshot(t *testing.T) {
	m := newNodeMap(0)
	now := time.Now()

	attr := &backend.Attr{Size: 10, Mtime: now}
	if !m.updateAttrCache("/f", attr) {
		t.Fatal("first observation must count as changed")
	}
	if m.updateAttrCache("/f", attr) {
		t.Fatal("unchanged snapshot reported as changed")
	}

	attr = &backend.Attr{Size: 11, Mtime: now}
	if !m.updateAttrCache("/f", attr) {
		t.Fatal("size change not detected")
	}

	attr = &backend.Attr{Size: 11, Mtime: now.Add(time.Second)}
	if !m.updateAttrCache("/f", attr) {
		t.Fatal("mtime change not detected")
	}
}

func TestNodeMapRetention(t *testing.T) {
	m := newNodeMap(time.Hour)
	m.get("/kept")

	// A sweep well inside the retention window keeps the entry.
	m.mu.Lock()
	m.pruneLocked(time.Now())
	m.mu.Unlock()
	if m.peek("/kept") == 0 {
		t.Fatal("entry pruned inside retention window")
	}

	// A sweep past the window drops it.
	m.mu.Lock()
	m.pruneLocked(time.Now().Add(2 * time.Hour))
	m.mu.Unlock()
	if m.peek("/kept") != 0 {
		t.Fatal("entry survived past retention window")
	}

	// Lifetime retention never drops.
	forever := newNodeMap(-1)
	forever.get("/pinned")
	forever.mu.Lock()
	forever.pruneLocked(time.Now().Add(1000 * time.Hour))
	forever.mu.Unlock()
	if forever.peek("/pinned") == 0 {
		t.Fatal("lifetime retention dropped an entry")
	}
}

func TestNodeMapAttrFreshness(t *testing.T) {
	m := newNodeMap(-1)

	if m.attrFresh("/f", time.Minute) {
		t.Fatal("path with no snapshot reported fresh")
	}

	m.updateAttrCache("/f", &backend.Attr{Size: 1})
	if !m.attrFresh("/f", time.Minute) {
		t.Fatal("just-taken snapshot not fresh inside the window")
	}
	if m.attrFresh("/f", 0) {
		t.Fatal("zero window must never report fresh")
	}

	e := m.nodes["/f"]
	e.attrAt = time.Now().Add(-2 * time.Minute)
	if m.attrFresh("/f", time.Minute) {
		t.Fatal("aged snapshot reported fresh")
	}
}
