package telephony

import (
	"context"
	"time"
)

// Provider is the provider-agnostic signaling interface used by the dialer.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Requests carry explicit callback URLs; the provider reports everything
//   that happens after CreateCall returns via webhooks.
// - Keep request/response types provider-agnostic.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// CreateCall asks the provider to place an outbound call. It awaits
	// only the synchronous acknowledgment; ringing and answer arrive later
	// as independent webhook events.
	CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error)

	// EndCall requests termination of a live call. The confirming state
	// change still arrives via webhook.
	EndCall(ctx context.Context, providerCallID string) error
}

// CreateCallRequest describes one outbound dial.
type CreateCallRequest struct {
	To       string `json:"to"`
	CallerID string `json:"caller_id"`

	// CallbackURL receives the signaling webhook when the call is
	// answered; StatusCallbackURL receives lifecycle state events.
	// Both typically embed a signed capability token.
	CallbackURL       string `json:"callback_url"`
	StatusCallbackURL string `json:"status_callback_url"`

	// DetectMachine enables asynchronous answering-machine detection; the
	// result arrives as an AnsweredBy field on a later webhook.
	DetectMachine bool `json:"detect_machine,omitempty"`

	// RingTimeoutSeconds bounds how long the provider lets the call ring.
	RingTimeoutSeconds int `json:"ring_timeout_seconds,omitempty"`
}

type CreateCallResult struct {
	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id"`

	// AcceptedAt is the provider acknowledgment time.
	AcceptedAt time.Time `json:"accepted_at"`
}
