// Package prefs provides the string/bool key-value settings store that
// persists origin choices across restarts.
package prefs

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrUnavailable is returned by a nil or closed store.
	ErrUnavailable = errors.New("prefs_unavailable")
	// ErrEmptyKey is returned for blank keys.
	ErrEmptyKey = errors.New("prefs_empty_key")
)

// Store is a small typed key-value store. A missing key reports ok=false and
// no error.
type Store interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	SetString(ctx context.Context, key, value string) error
	GetBool(ctx context.Context, key string) (bool, bool, error)
	SetBool(ctx context.Context, key string, value bool) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// MemoryStore keeps settings in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	strings map[string]string
	bools   map[string]bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		bools:   make(map[string]bool),
	}
}

func (m *MemoryStore) GetString(_ context.Context, key string) (string, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *MemoryStore) SetString(_ context.Context, key, value string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bools, key)
	m.strings[key] = value
	return nil
}

func (m *MemoryStore) GetBool(_ context.Context, key string) (bool, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return false, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.bools[key]
	return v, ok, nil
}

func (m *MemoryStore) SetBool(_ context.Context, key string, value bool) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.strings, key)
	m.bools[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		key = strings.TrimSpace(key)
		delete(m.strings, key)
		delete(m.bools, key)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrEmptyKey
	}
	return key, nil
}
