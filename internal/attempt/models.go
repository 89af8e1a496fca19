package attempt

import "time"

// CallAttempt is one outbound or inbound call leg.
//
// Multi-tenant invariant: WorkspaceID is required on every row.
//
// ProviderCallID is assigned by the telephony provider after dispatch is
// acknowledged; it is empty before that and unique system-wide afterwards.
//
// State moves only along the transition graph in machine.go. Terminal
// attempts are immutable except for post-hoc annotation (summary, tags).

type CallAttempt struct {
	AttemptID      string `json:"attempt_id" db:"attempt_id"`
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	UserID      string `json:"user_id" db:"user_id"`
	SessionID   string `json:"session_id,omitempty" db:"session_id"`
	LeadID      string `json:"lead_id,omitempty" db:"lead_id"`
	LineID      string `json:"line_id,omitempty" db:"line_id"`

	From      string    `json:"from" db:"from_number"`
	To        string    `json:"to" db:"to_number"`
	Direction Direction `json:"direction" db:"direction"`

	State       State       `json:"state" db:"state"`
	AnsweredBy  AnsweredBy  `json:"answered_by" db:"answered_by"`
	Disposition Disposition `json:"disposition,omitempty" db:"disposition"`

	// DurationSeconds is monotonically non-decreasing while the call is
	// active and zero until the call connects.
	DurationSeconds int `json:"duration" db:"duration"`

	// DialAttempt counts how many times this lead has been dialed,
	// including this attempt.
	DialAttempt int `json:"dial_attempt" db:"dial_attempt"`

	// MachineHangup records that we ended the call ourselves after machine
	// detection, before any voicemail flow ran. Gates the
	// voicemail/machine_detected disposition split.
	MachineHangup bool `json:"machine_hangup,omitempty" db:"machine_hangup"`

	RecordingURL string   `json:"recording_url,omitempty" db:"recording_url"`
	Summary      string   `json:"summary,omitempty" db:"summary"`
	Tags         []string `json:"tags,omitempty" db:"tags"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	InitiatedAt *time.Time `json:"initiated_at,omitempty" db:"initiated_at"`
	RingingAt   *time.Time `json:"ringing_at,omitempty" db:"ringing_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty" db:"connected_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type State string

const (
	StateQueued     State = "queued"
	StateInitiated  State = "initiated"
	StateRinging    State = "ringing"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateBusy       State = "busy"
	StateFailed     State = "failed"
	StateNoAnswer   State = "no_answer"
	StateCanceled   State = "canceled"
)

// Terminal reports whether s admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateBusy, StateFailed, StateNoAnswer, StateCanceled:
		return true
	default:
		return false
	}
}

// AnsweredBy is the answering-machine-detection classification. It is set at
// most once per attempt and never changes the primary state directly.
type AnsweredBy string

const (
	AnsweredByUnknown AnsweredBy = "unknown"
	AnsweredByHuman   AnsweredBy = "human"
	AnsweredByMachine AnsweredBy = "machine"
)

// Disposition is the business outcome, derived from the terminal state plus
// the answered-by classification. It is never stored as independent truth;
// see DeriveDisposition.
type Disposition string

const (
	DispositionAnswered        Disposition = "answered"
	DispositionVoicemail       Disposition = "voicemail"
	DispositionMachineDetected Disposition = "machine_detected"
	DispositionBusy            Disposition = "busy"
	DispositionFailed          Disposition = "failed"
	DispositionNoAnswer        Disposition = "no_answer"
	DispositionCanceled        Disposition = "canceled"
)

// RingDuration is the delta between the initiated and in-progress timestamps,
// when both are known.
func (a *CallAttempt) RingDuration() (time.Duration, bool) {
	if a.InitiatedAt == nil || a.ConnectedAt == nil {
		return 0, false
	}
	return a.ConnectedAt.Sub(*a.InitiatedAt), true
}
