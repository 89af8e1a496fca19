package credcache

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local wiring.
type MemoryStore struct {
	mu    sync.Mutex
	creds map[string]Credentials
	loads int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: map[string]Credentials{}}
}

func (s *MemoryStore) Put(c Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.UserID] = c
}

func (s *MemoryStore) Load(ctx context.Context, userID string) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	c, ok := s.creds[userID]
	if !ok {
		return Credentials{}, ErrNotConfigured
	}
	return c, nil
}

func (s *MemoryStore) SaveOutboundApp(ctx context.Context, userID, appSID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[userID]
	if !ok {
		return ErrNotConfigured
	}
	c.OutboundAppSID = appSID
	s.creds[userID] = c
	return nil
}

// Loads reports how many times Load has been called; used to assert cache
// hit behavior in tests.
func (s *MemoryStore) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}
