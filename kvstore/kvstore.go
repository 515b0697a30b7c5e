// Package kvstore provides the durable key-value backing store for token
// credentials. Three backends are available: an in-memory map for tests and
// ephemeral runs, a JSON snapshot file written atomically, and a SQLite
// database for transactional durability. The credential store owns all keys;
// backends attach no meaning to them.
package kvstore

import "sync"

// A Store maps string keys to opaque byte values. Set must be durable on
// return for the persistent backends.
type Store interface {
	// Get returns the value stored under key, and whether one was present.
	Get(key string) (value []byte, found bool, err error)

	// Set durably stores value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Close releases any resources held by the store.
	Close() error
}

// Memory is a map-backed Store with no durability. It is safe for
// concurrent use. A zero Memory is ready to use.
type Memory struct {
	mu sync.Mutex
	m  map[string][]byte
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

// Get implements part of Store.
func (s *Memory) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Set implements part of Store.
func (s *Memory) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string][]byte)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.m[key] = cp
	return nil
}

// Close implements part of Store. It is a no-op for a Memory store.
func (s *Memory) Close() error { return nil }

// Len reports the number of keys stored.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
