package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Bundle describes an installed bundle directory.
type Bundle struct {
	Name    string    `json:"name"`
	Dir     string    `json:"dir"`
	Created time.Time `json:"created"`
}

// Store owns the bundle root directory. Each bundle is one subdirectory.
type Store struct {
	root string

	mu      sync.Mutex
	ensured bool
	rootErr error
}

func NewStore(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

// Root returns the configured root without creating it.
func (s *Store) Root() string { return s.root }

// EnsureRoot creates the root on first use. The outcome, including failure,
// is fixed for the life of the Store.
func (s *Store) EnsureRoot() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ensured {
		s.ensured = true
		if err := os.MkdirAll(s.root, 0o750); err != nil {
			s.rootErr = fmt.Errorf("%w: create asset root %s: %v", ErrIOFailed, s.root, err)
		}
	}
	return s.root, s.rootErr
}

// StagingPath is where downloaded archives wait for extraction.
func (s *Store) StagingPath() string {
	return filepath.Join(s.root, StagingName)
}

func (s *Store) path(name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: invalid name %q", ErrNotFound, name)
	}
	return filepath.Join(s.root, name), nil
}

// Resolve returns the directory of an installed bundle.
func (s *Store) Resolve(name string) (string, error) {
	dir, err := s.path(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return dir, nil
}

// Exists reports whether a bundle directory is present.
func (s *Store) Exists(name string) bool {
	_, err := s.Resolve(name)
	return err == nil
}

// Info describes an installed bundle.
func (s *Store) Info(name string) (Bundle, error) {
	dir, err := s.Resolve(name)
	if err != nil {
		return Bundle{}, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return Bundle{Name: name, Dir: dir, Created: info.ModTime()}, nil
}

// List returns installed bundle names. Callers must not depend on ordering.
func (s *Store) List() ([]string, error) {
	root, err := s.EnsureRoot()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrIOFailed, root, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !validName(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes a bundle. Missing bundles are not an error.
func (s *Store) Remove(name string) error {
	dir, err := s.path(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", ErrIOFailed, name, err)
	}
	return nil
}
