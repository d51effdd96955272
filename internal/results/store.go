// Package results persists final summaries as JSON documents on disk.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/torosent/loadpilot/internal/metrics"
)

// Store writes one results/<id>.json per completed test. Writes are guarded
// by a file lock so concurrent completions and history reads do not
// interleave. A test with no file is not a failure of the test; Read reports
// it with an error for which os.IsNotExist is true.
type Store struct {
	dir string
	log *zap.Logger
}

func NewStore(dir string, log *zap.Logger) (*Store, error) {
	if dir == "" {
		dir = "results"
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("results dir: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, sanitize(id)+".json")
}

// Write persists a summary, replacing any previous document for the id.
func (s *Store) Write(id string, summary *metrics.Summary) error {
	path := s.path(id)

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock result file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write result file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish result file: %w", err)
	}
	s.log.Debug("result written", zap.String("test_id", id), zap.String("path", path))
	return nil
}

// Read loads the summary for a test id. Returns os.ErrNotExist when the
// test was never persisted.
func (s *Store) Read(id string) (*metrics.Summary, error) {
	return Load(s.path(id))
}

// Load reads a summary document from an arbitrary path.
func Load(path string) (*metrics.Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var summary metrics.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("parse result file %s: %w", path, err)
	}
	return &summary, nil
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}
