package store

import (
	"context"
	"sync"
)

// MemoryStore is a process-lifetime DurableStore used by tests and local
// development. It survives simulated restarts (new sessions against the
// same store), not process death.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string]string
	writes int
	// FailWrites makes every Set return an error, for storage-failure tests.
	FailWrites bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return context.DeadlineExceeded
	}
	s.data[key] = value
	s.writes++
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// WriteCount reports how many Set calls succeeded, for write-amplification
// assertions.
func (s *MemoryStore) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
