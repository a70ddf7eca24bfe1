package store

import (
	"errors"
	"sync"
)

// ErrClosed is returned by MemoryStore after Close.
var ErrClosed = errors.New("store closed")

// MemoryStore is an in-process Backend. Values do not outlive the process,
// so it only serves tests and embedding callers; the CLI settings
// do not accept it.
type MemoryStore struct {
	data    map[string]string
	mu      sync.RWMutex
	stopped bool
}

// NewMemoryStore creates an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// Lookup returns the value for key.
func (s *MemoryStore) Lookup(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return "", false, ErrClosed
	}

	v, ok := s.data[key]
	return v, ok, nil
}

// Apply stores and removes values under one lock.
func (s *MemoryStore) Apply(set map[string]string, unset []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrClosed
	}

	for _, key := range unset {
		delete(s.data, key)
	}
	for key, value := range set {
		s.data[key] = value
	}
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close drops all data.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		s.stopped = true
		s.data = nil
	}
	return nil
}

// Ensure MemoryStore implements Backend
var _ Backend = (*MemoryStore)(nil)
