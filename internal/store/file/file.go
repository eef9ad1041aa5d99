// Package file implements domain.StateStore on a single JSON file,
// rewritten atomically on every mutation.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/creachadair/atomicfile"

	"github.com/openperps/perpdesk/internal/domain"
)

// Store persists key/value state in one file at path. Every Put and Delete
// rewrites the whole file through an atomic rename, so a crash mid-write
// leaves either the old or the new contents, never a torn file.
type Store struct {
	mu   sync.Mutex
	path string
}

var _ domain.StateStore = (*Store)(nil)

// New creates a Store persisting to path. The file and its parent
// directory are created on first write.
func New(path string) *Store {
	return &Store{path: path}
}

// Get returns the value stored under key, or domain.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return nil, err
	}
	value, ok := m[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return bytes.Clone(value), nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	m[key] = bytes.Clone(value)
	return s.flush(m)
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return s.flush(m)
}

func (s *Store) load() (map[string][]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string][]byte), nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return make(map[string][]byte), nil
	}

	var m map[string][]byte
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("file: decode %s: %w", s.path, err)
	}
	if m == nil {
		m = make(map[string][]byte)
	}
	return m, nil
}

func (s *Store) flush(m map[string][]byte) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("file: create state dir %s: %w", dir, err)
		}
	}

	// State can hold an encrypted signing seed, keep it owner-only.
	if _, err := atomicfile.WriteAll(s.path, bytes.NewReader(data), 0o600); err != nil {
		return fmt.Errorf("file: write %s: %w", s.path, err)
	}
	return nil
}
