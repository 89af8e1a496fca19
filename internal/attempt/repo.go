package attempt

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("attempt: not found")
	// ErrDuplicateProviderCallID enforces system-wide uniqueness of the
	// provider-assigned identifier once set.
	ErrDuplicateProviderCallID = errors.New("attempt: provider call id already bound")
)

// Repository is the persistence contract for call attempts.
//
// Update is a full-row read-modify-write; callers hold the authoritative
// in-memory copy produced by Apply.
type Repository interface {
	Create(ctx context.Context, a *CallAttempt) error
	Update(ctx context.Context, a *CallAttempt) error
	GetByID(ctx context.Context, attemptID string) (*CallAttempt, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (*CallAttempt, error)
}
