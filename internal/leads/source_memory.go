package leads

import (
	"context"
	"sync"
)

// MemorySource is an in-memory Source for tests and local wiring.
type MemorySource struct {
	mu    sync.Mutex
	leads map[string][]*Lead // sessionID -> ordered list
}

func NewMemorySource() *MemorySource {
	return &MemorySource{leads: map[string][]*Lead{}}
}

func (s *MemorySource) Add(l *Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.leads[l.SessionID] = append(s.leads[l.SessionID], &cp)
}

func (s *MemorySource) Pending(ctx context.Context, sessionID string) ([]*Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Lead
	for _, l := range s.leads[sessionID] {
		if l.Exhausted {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemorySource) Update(ctx context.Context, l *Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.leads[l.SessionID] {
		if existing.LeadID == l.LeadID {
			cp := *l
			s.leads[l.SessionID][i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemorySource) Find(ctx context.Context, sessionID, leadID string) (*Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads[sessionID] {
		if l.LeadID == leadID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}
