package audit

import "time"

// Event is an immutable, append-only security audit record.
//
// Invariants:
// - Events are never updated or deleted.
// - Capture is best-effort; webhook handling and dialing never block on
//   audit failures.
//
// Rejected webhooks are recorded here so operators can investigate probing
// without anything being surfaced to the caller (the HTTP response stays a
// uniform 403).

type Event struct {
	ID string `json:"id" db:"id"`

	// WorkspaceID may be empty for rejected webhooks whose tenant could
	// not be established; that is the point of recording them.
	WorkspaceID string `json:"workspace_id,omitempty" db:"workspace_id"`

	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	SessionID      string `json:"session_id,omitempty" db:"session_id"`
	AttemptID      string `json:"attempt_id,omitempty" db:"attempt_id"`
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeWebhookRejected   EventType = "webhook_rejected"
	EventTypeSessionStarted    EventType = "session_started"
	EventTypeSessionStopped    EventType = "session_stopped"
	EventTypeOperatorHangup    EventType = "operator_hangup"
	EventTypeCallbackScheduled EventType = "callback_scheduled"
)
