package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultMaxKeys = 10000

// MemoryStore keeps windows in process memory. It holds at most maxKeys
// entries. When full it sweeps expired windows, and if none expired it
// denies new keys rather than dropping a live window.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	maxKeys int
}

func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &MemoryStore{
		entries: make(map[string]entry),
		maxKeys: maxKeys,
	}
}

func (s *MemoryStore) Consume(_ context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.entries[key]
	if !found && len(s.entries) >= s.maxKeys {
		s.sweep(now)
		if len(s.entries) >= s.maxKeys {
			return false, nil
		}
	}
	next, ok := admit(e, found, limit, window, now)
	if ok {
		s.entries[key] = next
	}
	return ok, nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweep(now time.Time) {
	for k, e := range s.entries {
		if now.After(e.resetAt) {
			delete(s.entries, k)
		}
	}
}
