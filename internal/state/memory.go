package state

import (
	"context"
	"sync"

	"github.com/quillfeed/quillwatch/internal/watch"
)

// MemoryStore holds MonitorState in memory. Used by tests and by
// ephemeral runs where persistence is explicitly unwanted.
type MemoryStore struct {
	mu sync.Mutex
	st *watch.MonitorState
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a deep copy of the held state, or an empty state on
// first use.
func (s *MemoryStore) Load(_ context.Context) (watch.MonitorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == nil {
		return watch.NewMonitorState(), nil
	}
	out := watch.NewMonitorState()
	for id, e := range s.st.Entries {
		out.Entries[id] = e
	}
	return out, nil
}

// Save replaces the held state.
func (s *MemoryStore) Save(_ context.Context, st watch.MonitorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := watch.NewMonitorState()
	for id, e := range st.Entries {
		copied.Entries[id] = e
	}
	s.st = &copied
	return nil
}
