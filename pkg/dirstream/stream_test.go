package dirstream

import (
	"context"
	"testing"

	"github.com/mvailati/fusegate/pkg/backend"
)

// bulkBackend lists names with zero offsets and counts invocations.
func bulkBackend(names []string, calls *int) ReaddirFunc {
	return func(ctx context.Context, path string, fill backend.FillDir, off uint64, of *backend.OpenFile, flags backend.ReaddirFlags) error {
		*calls++
		for _, name := range names {
			if fill(name, &backend.Attr{Ino: 1}, 0, flags&backend.ReaddirPlus != 0) {
				return nil
			}
		}
		return nil
	}
}

// cursorBackend lists names with one-past-the-entry offsets.
func cursorBackend(names []string, calls *int) ReaddirFunc {
	return func(ctx context.Context, path string, fill backend.FillDir, off uint64, of *backend.OpenFile, flags backend.ReaddirFlags) error {
		*calls++
		for i := int(off); i < len(names); i++ {
			if fill(names[i], &backend.Attr{Ino: 1}, uint64(i)+1, flags&backend.ReaddirPlus != 0) {
				return nil
			}
		}
		return nil
	}
}

func collectAll(t *testing.T, s *Stream, readdir ReaddirFunc, off uint64) []string {
	t.Helper()
	var names []string
	fill := func(name string, attr *backend.Attr, nextOff uint64, plus bool) bool {
		names = append(names, name)
		return false
	}
	if err := s.Read(context.Background(), "/d", &backend.OpenFile{}, off, 0, readdir, fill); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return names
}

func TestBulkModeCachesListing(t *testing.T) {
	calls := 0
	readdir := bulkBackend([]string{"a", "b", "c"}, &calls)
	s := New()

	got := collectAll(t, s, readdir, 0)
	if len(got) != 3 {
		t.Fatalf("first read returned %v, want 3 entries", got)
	}
	if s.Mode() != ModeBulk {
		t.Fatalf("mode = %v, want bulk", s.Mode())
	}

	// Rewind is served from the session cache, not the backend.
	got = collectAll(t, s, readdir, 0)
	if len(got) != 3 {
		t.Fatalf("second read returned %v, want 3 entries", got)
	}
	if calls != 1 {
		t.Fatalf("backend called %d times, want 1", calls)
	}
}

func TestBulkModeWindowOffsets(t *testing.T) {
	calls := 0
	readdir := bulkBackend([]string{"a", "b", "c", "d"}, &calls)
	s := New()

	// Prime the cache, taking only the first two entries.
	var first []string
	var cursor uint64
	fill := func(name string, attr *backend.Attr, nextOff uint64, plus bool) bool {
		first = append(first, name)
		cursor = nextOff
		return len(first) == 2
	}
	if err := s.Read(context.Background(), "/d", &backend.OpenFile{}, 0, 0, readdir, fill); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(first) != 2 || cursor != 2 {
		t.Fatalf("first window = %v cursor %d, want 2 entries cursor 2", first, cursor)
	}

	rest := collectAll(t, s, readdir, cursor)
	if len(rest) != 2 || rest[0] != "c" || rest[1] != "d" {
		t.Fatalf("resumed window = %v, want [c d]", rest)
	}
	if calls != 1 {
		t.Fatalf("backend called %d times, want 1", calls)
	}
}

func TestCursorModeForwardsEveryRead(t *testing.T) {
	calls := 0
	readdir := cursorBackend([]string{"a", "b", "c"}, &calls)
	s := New()

	got := collectAll(t, s, readdir, 0)
	if len(got) != 3 {
		t.Fatalf("first read returned %v", got)
	}
	if s.Mode() != ModeCursor {
		t.Fatalf("mode = %v, want cursor", s.Mode())
	}

	got = collectAll(t, s, readdir, 1)
	if len(got) != 2 || got[0] != "b" {
		t.Fatalf("offset read returned %v, want [b c]", got)
	}
	if calls != 2 {
		t.Fatalf("backend called %d times, want 2", calls)
	}
}

func TestLateCursorSwitchFlushesCollected(t *testing.T) {
	// A backend that emits two zero-offset entries before switching to
	// real offsets; the collected prefix must arrive first and in order.
	calls := 0
	readdir := func(ctx context.Context, path string, fill backend.FillDir, off uint64, of *backend.OpenFile, flags backend.ReaddirFlags) error {
		calls++
		if fill(".", nil, 0, false) {
			return nil
		}
		if fill("..", nil, 0, false) {
			return nil
		}
		names := []string{"a", "b"}
		for i := int(off); i < len(names); i++ {
			if fill(names[i], nil, uint64(i)+1, false) {
				return nil
			}
		}
		return nil
	}
	s := New()

	got := collectAll(t, s, readdir, 0)
	want := []string{".", "..", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entries = %v, want %v", got, want)
		}
	}
	if s.Mode() != ModeCursor {
		t.Fatalf("mode = %v, want cursor", s.Mode())
	}
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()

	s := m.Open(1)
	if s == nil {
		t.Fatal("open returned nil stream")
	}
	if m.Get(1) != s {
		t.Fatal("get must return the opened stream")
	}

	m.Release(1)
	if m.Get(1) != nil {
		t.Fatal("released stream must be gone")
	}
}
