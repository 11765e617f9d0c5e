package prefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type fileDoc struct {
	Strings map[string]string `yaml:"strings,omitempty"`
	Bools   map[string]bool   `yaml:"bools,omitempty"`
}

// FileStore persists settings to a YAML document. Every mutation rewrites
// the file through a temp file and rename so readers never see a torn write.
type FileStore struct {
	mu   sync.RWMutex
	path string
	doc  fileDoc
}

// NewFileStore loads path if it exists; a missing file starts empty.
func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("prefs path required")
	}
	s := &FileStore{path: path, doc: fileDoc{
		Strings: map[string]string{},
		Bools:   map[string]bool{},
	}}
	// #nosec G304 -- prefs path is operator-provided.
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prefs: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse prefs: %w", err)
	}
	if s.doc.Strings == nil {
		s.doc.Strings = map[string]string{}
	}
	if s.doc.Bools == nil {
		s.doc.Bools = map[string]bool{}
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) GetString(_ context.Context, key string) (string, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.doc.Strings[key]
	return v, ok, nil
}

func (s *FileStore) SetString(_ context.Context, key, value string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Bools, key)
	s.doc.Strings[key] = value
	return s.flushLocked()
}

func (s *FileStore) GetBool(_ context.Context, key string) (bool, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return false, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.doc.Bools[key]
	return v, ok, nil
}

func (s *FileStore) SetBool(_ context.Context, key string, value bool) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Strings, key)
	s.doc.Bools[key] = value
	return s.flushLocked()
}

func (s *FileStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if _, ok := s.doc.Strings[key]; ok {
			delete(s.doc.Strings, key)
			changed = true
		}
		if _, ok := s.doc.Bools[key]; ok {
			delete(s.doc.Bools, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.flushLocked()
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) flushLocked() error {
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".prefs-*.yaml")
	if err != nil {
		return fmt.Errorf("create prefs temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close prefs: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace prefs: %w", err)
	}
	return nil
}
