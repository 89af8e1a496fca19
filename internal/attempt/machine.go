package attempt

import "time"

// Transition graph for the primary state. An incoming event names a target
// state; it is applied only if the target is reachable from the current
// state. Terminal states have no outgoing edges, so nothing escapes them.
//
// Providers deliver webhooks unordered and sometimes more than once, so
// Apply must stay idempotent: duplicates and unreachable targets are
// discarded, never errored.
var nextStates = map[State][]State{
	StateQueued:     {StateInitiated},
	StateInitiated:  {StateRinging},
	StateRinging:    {StateInProgress},
	StateInProgress: {StateCompleted, StateBusy, StateFailed, StateNoAnswer, StateCanceled},
}

// Reachable reports whether target can be reached from current by following
// one or more edges of the transition graph.
func Reachable(current, target State) bool {
	if current == target {
		return false
	}
	seen := map[State]bool{}
	stack := []State{current}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range nextStates[s] {
			if n == target {
				return true
			}
			if !seen[n] {
				seen[n] = true
				stack = append(stack, n)
			}
		}
	}
	return false
}

// StatusEvent is a provider webhook translated to internal terms. The raw
// HTTP parsing and identity resolution happen in internal/webhook; by the
// time an event reaches Apply it is fully typed.
type StatusEvent struct {
	ProviderCallID  string
	State           State
	AnsweredBy      AnsweredBy
	DurationSeconds int
	RecordingURL    string
	OccurredAt      time.Time
}

// Outcome describes what Apply did with an event.
type Outcome struct {
	// StateChanged is true when the primary state advanced.
	StateChanged bool
	// AMDApplied is true when the answered-by classification was set.
	AMDApplied bool
	// Discarded carries the reason an event was dropped ("duplicate" or
	// "illegal"); empty when something was applied.
	Discarded string
	// Terminal is true when the attempt is in a terminal state after Apply.
	Terminal bool
}

// Applied reports whether the event changed the attempt at all.
func (o Outcome) Applied() bool { return o.StateChanged || o.AMDApplied }

// Apply is the compare-and-apply transition rule. It mutates a in place and
// reports what happened. It is safe to call with duplicated or reordered
// events: anything not strictly ahead of the stored state is a no-op.
//
// The answered-by classification rides along on its own axis: it is applied
// at most once, even when the event's primary state is a duplicate.
func Apply(a *CallAttempt, ev StatusEvent) Outcome {
	var out Outcome

	// Classification first: an AMD event often repeats the in_progress
	// state and must not be lost to duplicate suppression.
	if ev.AnsweredBy == AnsweredByHuman || ev.AnsweredBy == AnsweredByMachine {
		if !a.State.Terminal() && (a.AnsweredBy == "" || a.AnsweredBy == AnsweredByUnknown) {
			a.AnsweredBy = ev.AnsweredBy
			out.AMDApplied = true
		}
	}

	switch {
	case ev.State == a.State:
		out.Discarded = "duplicate"
	case !Reachable(a.State, ev.State):
		out.Discarded = "illegal"
	default:
		a.State = ev.State
		out.StateChanged = true
		out.Discarded = ""
		stampState(a, ev)
	}

	if ev.DurationSeconds > a.DurationSeconds && out.StateChanged {
		a.DurationSeconds = ev.DurationSeconds
	}
	if ev.RecordingURL != "" && a.RecordingURL == "" {
		a.RecordingURL = ev.RecordingURL
	}

	if a.State.Terminal() {
		out.Terminal = true
		if out.StateChanged {
			a.Disposition = DeriveDisposition(a.State, a.AnsweredBy, a.MachineHangup)
		}
	}
	return out
}

func stampState(a *CallAttempt, ev StatusEvent) {
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	switch ev.State {
	case StateInitiated:
		if a.InitiatedAt == nil {
			a.InitiatedAt = &at
		}
	case StateRinging:
		if a.RingingAt == nil {
			a.RingingAt = &at
		}
	case StateInProgress:
		if a.ConnectedAt == nil {
			a.ConnectedAt = &at
		}
	default:
		if ev.State.Terminal() && a.EndedAt == nil {
			a.EndedAt = &at
		}
	}
}

// DeriveDisposition is the pure mapping from (terminal state, answered-by,
// machine hangup) to the business outcome. Non-completed terminals mirror
// their state 1:1. A completed call answered by a machine is a voicemail
// unless we hung up before the voicemail flow ran.
func DeriveDisposition(s State, ab AnsweredBy, machineHangup bool) Disposition {
	switch s {
	case StateBusy:
		return DispositionBusy
	case StateFailed:
		return DispositionFailed
	case StateNoAnswer:
		return DispositionNoAnswer
	case StateCanceled:
		return DispositionCanceled
	case StateCompleted:
		if ab == AnsweredByMachine {
			if machineHangup {
				return DispositionMachineDetected
			}
			return DispositionVoicemail
		}
		return DispositionAnswered
	default:
		return ""
	}
}
