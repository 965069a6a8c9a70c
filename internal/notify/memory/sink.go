// Package memory contains an in-memory sink implementation for tests.
package memory

import (
	"context"
	"sync"

	"github.com/quillfeed/quillwatch/internal/watch"
)

// Sink stores delivered alerts for inspection.
type Sink struct {
	mu     sync.RWMutex
	alerts []watch.AlertDecision
	err    error
}

// New returns a memory Sink.
func New() *Sink {
	return &Sink{}
}

// FailWith makes every subsequent Deliver return err.
func (s *Sink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Deliver records the alert.
func (s *Sink) Deliver(_ context.Context, alert watch.AlertDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.alerts = append(s.alerts, alert)
	return nil
}

// Alerts returns the recorded deliveries.
func (s *Sink) Alerts() []watch.AlertDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]watch.AlertDecision, len(s.alerts))
	copy(out, s.alerts)
	return out
}
