package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSnapshot is returned by Load when no snapshot has been captured yet.
var ErrNoSnapshot = errors.New("snapshot: no snapshot available")

// Store is a durable single-slot snapshot file. Save overwrites the previous
// capture unconditionally; no history is kept.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Save(payload json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(s.path), os.ModePerm); err != nil {
		return fmt.Errorf("snapshot: create directory: %w", err)
	}

	if err := os.WriteFile(s.path, payload, 0o644); err != nil {
		return fmt.Errorf("snapshot: write file: %w", err)
	}

	return nil
}

func (s *Store) Load() (json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("snapshot: read file: %w", err)
	}

	return data, nil
}
