package watch

import (
	"errors"
	"fmt"
)

// ErrNoMirrors indicates the fetcher was constructed without any
// mirror base addresses. It is fatal to the calling operation only.
var ErrNoMirrors = errors.New("no mirrors configured")

// ExhaustedError is returned when every mirror has used up its
// retries. It carries the most recent underlying cause.
type ExhaustedError struct {
	Mirrors  int
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d mirrors exhausted after %d attempts: %v", e.Mirrors, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}
