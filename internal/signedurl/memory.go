package signedurl

import (
	"context"
	"sync"
	"time"
)

type MemoryNonceStore struct {
	mu   sync.Mutex
	used map[string]time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{used: make(map[string]time.Time)}
}

func (s *MemoryNonceStore) Consume(_ context.Context, nonce, _, _ string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.used[nonce]; ok {
		return false, nil
	}
	s.used[nonce] = at
	return true, nil
}

func (s *MemoryNonceStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for nonce, at := range s.used {
		if at.Before(cutoff) {
			delete(s.used, nonce)
			deleted++
		}
	}
	return deleted, nil
}
