package attempt

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local wiring.
// Not intended for production use.

type MemoryRepo struct {
	mu         sync.Mutex
	byID       map[string]*CallAttempt
	byProvider map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:       map[string]*CallAttempt{},
		byProvider: map[string]string{},
	}
}

func (r *MemoryRepo) Create(ctx context.Context, a *CallAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ProviderCallID != "" {
		if _, dup := r.byProvider[a.ProviderCallID]; dup {
			return ErrDuplicateProviderCallID
		}
		r.byProvider[a.ProviderCallID] = a.AttemptID
	}
	cp := *a
	r.byID[a.AttemptID] = &cp
	return nil
}

func (r *MemoryRepo) Update(ctx context.Context, a *CallAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byID[a.AttemptID]
	if !ok {
		return ErrNotFound
	}
	if a.ProviderCallID != "" && a.ProviderCallID != prev.ProviderCallID {
		if owner, dup := r.byProvider[a.ProviderCallID]; dup && owner != a.AttemptID {
			return ErrDuplicateProviderCallID
		}
		r.byProvider[a.ProviderCallID] = a.AttemptID
	}
	cp := *a
	r.byID[a.AttemptID] = &cp
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, attemptID string) (*CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[attemptID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (*CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byProvider[providerCallID]
	if !ok {
		return nil, ErrNotFound
	}
	a, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}
