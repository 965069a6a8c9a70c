package archive

import (
	"context"
	"fmt"
	"sync"
)

// Memory keeps snapshots in memory for tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory returns an empty in-memory archive.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put records the snapshot.
func (a *Memory) Put(_ context.Context, path string, _ string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[path] = append([]byte(nil), data...)
	return "mem://" + path, nil
}

// Get returns a stored snapshot.
func (a *Memory) Get(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.objects[path]
	return data, ok
}

// Len reports the number of stored snapshots.
func (a *Memory) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.objects)
}
