// Package dirstream manages directory enumeration state on top of handles
// from the registry.
//
// A backend enumerates in one of two protocols, selected implicitly by how
// it uses offsets and made explicit here as two stream modes:
//
// Bulk: the backend ignores the start offset, passes zero offsets to the
// filler and produces the whole listing in one invocation. The stream
// caches that listing for the rest of the opendir/releasedir session and
// serves later offsets as windows into the cache, so resuming never
// repeats or skips entries present when the offset was issued.
//
// Cursor: the backend tracks offsets itself; every call resumes from the
// caller's offset and the filler's buffer-full signal stops enumeration
// early. The stream passes offsets straight through.
package dirstream

import (
	"context"
	"sync"

	"github.com/mvailati/fusegate/pkg/backend"
)

// Mode is the resolved enumeration protocol of one directory session.
type Mode int

const (
	// ModeUnknown means no readdir has completed yet.
	ModeUnknown Mode = iota

	// ModeBulk means the backend produced the whole listing at once.
	ModeBulk

	// ModeCursor means the backend resumes from offsets itself.
	ModeCursor
)

// Entry is one cached directory entry in a bulk-mode session.
type Entry struct {
	Name string
	Attr *backend.Attr
	Plus bool
}

// ReaddirFunc matches the backend Readdir capability signature.
type ReaddirFunc func(ctx context.Context, path string, fill backend.FillDir, off uint64, of *backend.OpenFile, flags backend.ReaddirFlags) error

// Stream is the enumeration state of one open directory handle. Valid only
// within a single opendir/releasedir session.
type Stream struct {
	mu      sync.Mutex
	mode    Mode
	entries []Entry
}

// New creates the enumeration state for a freshly opened directory.
func New() *Stream {
	return &Stream{}
}

// Mode reports the resolved protocol, ModeUnknown before the first read.
func (s *Stream) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Read enumerates entries starting at off, delivering them to fill.
//
// The first call resolves the protocol: entries arriving with zero offsets
// are cached (bulk), the first nonzero offset switches the stream to cursor
// mode and forwards directly. Later calls serve the cache window (bulk) or
// delegate with the caller's offset (cursor).
func (s *Stream) Read(ctx context.Context, path string, of *backend.OpenFile, off uint64,
	flags backend.ReaddirFlags, readdir ReaddirFunc, fill backend.FillDir) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case ModeCursor:
		return readdir(ctx, path, fill, off, of, flags)
	case ModeBulk:
		s.serveLocked(off, flags, fill)
		return nil
	}

	// Protocol not resolved yet. Collect zero-offset entries; the first
	// nonzero offset flips to cursor mode, flushes anything collected so
	// far in arrival order, and forwards from then on.
	stopped := false
	collect := func(name string, attr *backend.Attr, nextOff uint64, plus bool) bool {
		if s.mode == ModeCursor {
			full := fill(name, attr, nextOff, plus)
			stopped = stopped || full
			return full
		}
		if nextOff == 0 {
			s.entries = append(s.entries, Entry{Name: name, Attr: attr, Plus: plus})
			return false
		}
		s.mode = ModeCursor
		for _, e := range s.entries {
			if fill(e.Name, e.Attr, 0, e.Plus) {
				stopped = true
				return true
			}
		}
		s.entries = nil
		full := fill(name, attr, nextOff, plus)
		stopped = stopped || full
		return full
	}

	if err := readdir(ctx, path, collect, off, of, flags); err != nil {
		s.entries = nil
		return err
	}

	if s.mode == ModeCursor {
		return nil
	}

	s.mode = ModeBulk
	if !stopped {
		s.serveLocked(off, flags, fill)
	}
	return nil
}

// serveLocked copies a window of the cached listing to fill. Offsets are
// cache indexes plus one, so offset zero is the start of the listing and
// the sequence is monotonically non-decreasing within the session.
func (s *Stream) serveLocked(off uint64, flags backend.ReaddirFlags, fill backend.FillDir) {
	if off > uint64(len(s.entries)) {
		return
	}
	for i := int(off); i < len(s.entries); i++ {
		e := s.entries[i]
		attr := e.Attr
		plus := e.Plus
		if flags&backend.ReaddirPlus == 0 {
			attr = nil
			plus = false
		}
		if fill(e.Name, attr, uint64(i)+1, plus) {
			return
		}
	}
}
