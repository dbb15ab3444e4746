package dirstream

import (
	"sync"

	"github.com/mvailati/fusegate/pkg/handle"
)

// Manager attaches enumeration state to open directory handles.
//
// State lives exactly as long as the handle's opendir/releasedir session:
// the dispatch layer opens a stream after a successful opendir and drops it
// on the final releasedir.
type Manager struct {
	mu      sync.Mutex
	streams map[handle.ID]*Stream
}

// NewManager creates an empty cursor manager.
func NewManager() *Manager {
	return &Manager{streams: make(map[handle.ID]*Stream)}
}

// Open creates the stream for a newly opened directory handle.
func (m *Manager) Open(id handle.ID) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := New()
	m.streams[id] = s
	return s
}

// Get returns the stream for id, or nil for non-directory handles.
func (m *Manager) Get(id handle.ID) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[id]
}

// Release drops the stream when the directory handle is retired.
func (m *Manager) Release(id handle.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, id)
}
