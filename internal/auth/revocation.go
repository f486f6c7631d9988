package auth

import (
	"sync"
	"time"
)

const revocationSweepEvery = 256

type tokenState struct {
	expiresAt time.Time
	revoked   bool
}

// RevocationStore tracks issued refresh tokens and every token id that has
// been revoked or rotated out. Entries live until the token's natural expiry
// and are evicted lazily after that.
type RevocationStore struct {
	mu      sync.Mutex
	entries map[string]tokenState
	writes  int
	now     func() time.Time
}

func NewRevocationStore() *RevocationStore {
	return &RevocationStore{
		entries: make(map[string]tokenState),
		now:     time.Now,
	}
}

func (s *RevocationStore) WithClock(now func() time.Time) *RevocationStore {
	if now != nil {
		s.now = now
	}
	return s
}

// Track records a freshly issued token as active. An id that is already
// known keeps its state, so a revoked id is never resurrected.
func (s *RevocationStore) Track(id string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !now.Before(expiresAt) {
		return
	}
	if _, ok := s.entries[id]; ok {
		return
	}
	s.entries[id] = tokenState{expiresAt: expiresAt}
	s.afterWrite(now)
}

// Revoke is idempotent. It reports whether id was newly revoked.
func (s *RevocationStore) Revoke(id string, expiresAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.revokeLocked(id, expiresAt, s.now())
}

// Consume atomically checks that id is not revoked and revokes it. For any
// id exactly one caller gets true.
func (s *RevocationStore) Consume(id string, expiresAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !now.Before(expiresAt) {
		return false
	}
	return s.revokeLocked(id, expiresAt, now)
}

func (s *RevocationStore) revokeLocked(id string, expiresAt time.Time, now time.Time) bool {
	state, ok := s.entries[id]
	if ok && state.revoked {
		return false
	}
	if !now.Before(expiresAt) {
		// Already unusable; nothing to remember.
		delete(s.entries, id)
		return false
	}
	s.entries[id] = tokenState{expiresAt: expiresAt, revoked: true}
	s.afterWrite(now)
	return true
}

func (s *RevocationStore) IsRevoked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.entries[id]
	if !ok {
		return false
	}
	if !s.now().Before(state.expiresAt) {
		delete(s.entries, id)
		return false
	}
	return state.revoked
}

// Count returns every live entry, revoked or active.
func (s *RevocationStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(s.now())
	return len(s.entries)
}

// Active returns the number of tracked tokens that are neither revoked nor
// expired.
func (s *RevocationStore) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(s.now())
	active := 0
	for _, state := range s.entries {
		if !state.revoked {
			active++
		}
	}
	return active
}

// Purge evicts expired entries and returns how many were removed.
func (s *RevocationStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sweepLocked(s.now())
}

func (s *RevocationStore) afterWrite(now time.Time) {
	s.writes++
	if s.writes%revocationSweepEvery == 0 {
		s.sweepLocked(now)
	}
}

func (s *RevocationStore) sweepLocked(now time.Time) int {
	removed := 0
	for id, state := range s.entries {
		if !now.Before(state.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
