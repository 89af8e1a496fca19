// Package leads is the boundary to the lead/contact persistence layer,
// which lives outside this engine. Only the fields the dialer needs to make
// dispatch decisions are modeled here.
package leads

import (
	"context"
	"errors"
	"time"

	"dialer-platform/internal/attempt"
)

var ErrNotFound = errors.New("leads: not found")

// Lead is one dialable target within a session's list.
type Lead struct {
	LeadID      string `json:"lead_id" db:"lead_id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	SessionID   string `json:"session_id" db:"session_id"`

	Phone string `json:"phone" db:"phone"`

	// Timezone is an IANA zone name derived from the lead's locality. May
	// be empty or garbage; the dialer treats anything unloadable as
	// outside the calling window.
	Timezone string `json:"timezone" db:"timezone"`

	// DoNotCall blocks dispatch unconditionally.
	DoNotCall bool `json:"do_not_call" db:"do_not_call"`

	Attempts      int                 `json:"attempts" db:"attempts"`
	LastAttemptAt time.Time           `json:"last_attempt_at" db:"last_attempt_at"`
	LastOutcome   attempt.Disposition `json:"last_outcome" db:"last_outcome"`

	// Exhausted marks a lead the session will never dial again: attempts
	// used up, or a non-retryable outcome with no callback scheduled.
	Exhausted bool `json:"exhausted" db:"exhausted"`

	// CallbackAt schedules a one-off callback task (AMD mark-callback
	// behavior). It overrides the normal retry gating.
	CallbackAt *time.Time `json:"callback_at,omitempty" db:"callback_at"`
}

// Source is the read/update contract against the external lead store.
type Source interface {
	// Pending returns the session's leads that are not exhausted, in list
	// order.
	Pending(ctx context.Context, sessionID string) ([]*Lead, error)
	Find(ctx context.Context, sessionID, leadID string) (*Lead, error)
	Update(ctx context.Context, l *Lead) error
}
