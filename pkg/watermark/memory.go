package watermark

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the watermark in process memory. A restart starts over
// from the configured initial watermark.
type MemoryStore struct {
	mu  sync.RWMutex
	wm  time.Time
	set bool
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored watermark
func (s *MemoryStore) Load(_ context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wm, s.set, nil
}

// Save stores wm when it is later than the current value
func (s *MemoryStore) Save(_ context.Context, wm time.Time) error {
	wm = Normalize(wm)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set || wm.After(s.wm) {
		s.wm = wm
		s.set = true
	}
	return nil
}

// Reset stores wm unconditionally
func (s *MemoryStore) Reset(_ context.Context, wm time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wm = Normalize(wm)
	s.set = true
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }
