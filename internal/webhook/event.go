// Package webhook authenticates and attributes inbound provider callbacks,
// then translates them into typed state-machine events. The payload does not
// reliably carry tenant identity, so attribution runs through an ordered
// strategy pipeline that fails closed.
package webhook

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"dialer-platform/internal/attempt"
)

// Event is one parsed provider callback. Twilio-shape voice webhooks arrive
// as application/x-www-form-urlencoded.
type Event struct {
	ProviderCallID string
	From           string
	To             string

	// Caller is the originating party as reported by the provider. For
	// calls placed from a browser/app SDK it is an internal client
	// identity string ("client:agent-7"), the strongest attribution
	// signal we have.
	Caller string

	RawStatus       string
	State           attempt.State
	AnsweredBy      attempt.AnsweredBy
	DurationSeconds int
	RecordingURL    string
	Direction       attempt.Direction

	// WorkspaceHint is a tenant identifier present in the payload, if any.
	// When set, the resolved user must be a verified member of it.
	WorkspaceHint string

	// Token carries the signed capability from the callback URL query, if
	// present.
	Token TokenParams

	// TransportSignature is the provider's signature header over the full
	// request; RequestURL and Form are kept for recomputing it.
	TransportSignature string
	RequestURL         string
	Form               url.Values
}

const signatureHeader = "X-Twilio-Signature"

// ParseStatusEvent decodes a voice status callback. publicBaseURL must match
// what the provider signed, since the request may have traversed a proxy.
func ParseStatusEvent(r *http.Request, publicBaseURL string) (*Event, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}

	q := r.URL.Query()
	ev := &Event{
		ProviderCallID:     strings.TrimSpace(r.PostFormValue("CallSid")),
		From:               strings.TrimSpace(r.PostFormValue("From")),
		To:                 strings.TrimSpace(r.PostFormValue("To")),
		Caller:             strings.TrimSpace(r.PostFormValue("Caller")),
		RawStatus:          strings.TrimSpace(r.PostFormValue("CallStatus")),
		RecordingURL:       strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		WorkspaceHint:      strings.TrimSpace(r.PostFormValue("WorkspaceSid")),
		TransportSignature: r.Header.Get(signatureHeader),
		RequestURL:         strings.TrimRight(publicBaseURL, "/") + r.URL.RequestURI(),
		Form:               r.PostForm,
		Token: TokenParams{
			UserID:    q.Get("uid"),
			IssuedAt:  q.Get("ts"),
			Signature: q.Get("tok"),
		},
	}
	if ev.Caller == "" {
		ev.Caller = ev.From
	}
	if d := strings.TrimSpace(r.PostFormValue("CallDuration")); d != "" {
		if n, err := strconv.Atoi(d); err == nil && n >= 0 {
			ev.DurationSeconds = n
		}
	}
	ev.State = mapCallStatus(ev.RawStatus)
	ev.AnsweredBy = mapAnsweredBy(r.PostFormValue("AnsweredBy"))
	ev.Direction = mapDirection(r.PostFormValue("Direction"))
	return ev, nil
}

func mapCallStatus(s string) attempt.State {
	switch strings.ToLower(s) {
	case "queued":
		return attempt.StateQueued
	case "initiated":
		return attempt.StateInitiated
	case "ringing":
		return attempt.StateRinging
	case "in-progress", "answered":
		return attempt.StateInProgress
	case "completed":
		return attempt.StateCompleted
	case "busy":
		return attempt.StateBusy
	case "failed":
		return attempt.StateFailed
	case "no-answer":
		return attempt.StateNoAnswer
	case "canceled":
		return attempt.StateCanceled
	default:
		return ""
	}
}

func mapAnsweredBy(s string) attempt.AnsweredBy {
	switch strings.ToLower(s) {
	case "human":
		return attempt.AnsweredByHuman
	case "machine_start", "machine_end_beep", "machine_end_silence", "machine_end_other":
		return attempt.AnsweredByMachine
	case "":
		return ""
	default:
		return attempt.AnsweredByUnknown
	}
}

func mapDirection(s string) attempt.Direction {
	if strings.HasPrefix(strings.ToLower(s), "inbound") {
		return attempt.DirectionInbound
	}
	return attempt.DirectionOutbound
}

// ToStatusEvent converts the parsed form to the state-machine event type.
func (ev *Event) ToStatusEvent() attempt.StatusEvent {
	return attempt.StatusEvent{
		ProviderCallID:  ev.ProviderCallID,
		State:           ev.State,
		AnsweredBy:      ev.AnsweredBy,
		DurationSeconds: ev.DurationSeconds,
		RecordingURL:    ev.RecordingURL,
	}
}
