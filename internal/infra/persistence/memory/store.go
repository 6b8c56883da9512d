// Package memory provides an in-memory implementation of the local
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"sort"
	"sync"

	"petri/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.KeyValueStore = (*Store)(nil)

// Store keeps payloads in process memory.
type Store struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{entries: make(map[string][]byte)}
}

// Get returns a copy of the payload stored at key.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(v), true, nil
}

// Set replaces the payload at key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = cloneBytes(value)
	return nil
}

// Delete removes keys; missing keys are ignored.
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// Keys lists stored keys in ascending order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
