package headless

import (
	"context"
	"errors"

	"github.com/quillfeed/quillwatch/internal/watch"
)

// Noop implements watch.Fetcher but always returns an error to
// indicate that headless browsing is not available in this build.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns an error since this is a stub implementation.
func (Noop) Fetch(_ context.Context, _ string) (watch.Document, error) {
	return watch.Document{}, errors.New("headless fetcher not configured")
}
