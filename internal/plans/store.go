// Package plans stores named test plans as YAML documents.
package plans

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/torosent/loadpilot/internal/config"
)

var (
	ErrNotFound    = errors.New("plan not found")
	ErrInvalidName = errors.New("invalid plan name")

	nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// Store keeps plans under one directory, one <name>.yaml per plan.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = "plans"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("plans dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the spec under the given name, replacing any previous plan.
// Plans go through the JSON field names so the on-disk YAML mirrors the
// wire format.
func (s *Store) Save(name string, spec *config.TestSpec) error {
	if !nameRe.MatchString(name) {
		return ErrInvalidName
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, name+".yaml"), data, 0o644)
}

// Load reads a named plan.
func (s *Store) Load(name string) (*config.TestSpec, error) {
	if !nameRe.MatchString(name) {
		return nil, ErrInvalidName
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name+".yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", name, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", name, err)
	}
	var spec config.TestSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", name, err)
	}
	return &spec, nil
}

// List returns the saved plan names.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ext := filepath.Ext(entry.Name()); ext == ".yaml" {
			names = append(names, entry.Name()[:len(entry.Name())-len(ext)])
		}
	}
	return names, nil
}
