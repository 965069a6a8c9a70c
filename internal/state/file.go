package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/quillfeed/quillwatch/internal/watch"
)

// FileStore persists MonitorState as a single JSON document. The path
// is injected so tests and deployments control placement.
type FileStore struct {
	path   string
	clock  watch.Clock
	logger *zap.Logger
}

// NewFileStore creates a file-backed store.
func NewFileStore(path string, clock watch.Clock, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, clock: clock, logger: logger}, nil
}

// Load reads and migrates the persisted state. An absent file is a
// normal cold start and a corrupt file is treated the same way; both
// yield an empty state, never an error.
func (s *FileStore) Load(_ context.Context) (watch.MonitorState, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("state file unreadable, starting cold",
				zap.String("path", s.path),
				zap.Error(err),
			)
		}
		return watch.NewMonitorState(), nil
	}

	st, err := Migrate(raw, s.clock.Now())
	if err != nil {
		s.logger.Warn("state file corrupt, starting cold",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return watch.NewMonitorState(), nil
	}
	return st, nil
}

// Save fully overwrites the state file. The write goes to a temp file
// in the same directory followed by a rename, so a crash mid-save
// leaves the previous state intact rather than a torn document.
func (s *FileStore) Save(_ context.Context, st watch.MonitorState) error {
	data, err := Encode(st)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
