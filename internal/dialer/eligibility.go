package dialer

import (
	"time"

	"dialer-platform/internal/attempt"
	"dialer-platform/internal/leads"
)

// Eligible applies the dispatch filters in order and returns the first
// failing reason. Filters, in order: do-not-call, local calling window,
// attempt budget, retry gating.
//
// Timezone handling fails safe: a lead whose zone cannot be loaded is never
// called, because "probably daytime there" is not a compliance position.
func Eligible(l *leads.Lead, s Settings, now time.Time) (bool, string) {
	if l.DoNotCall {
		return false, "do_not_call"
	}

	loc, err := loadZone(l.Timezone)
	if err != nil {
		return false, "unknown_timezone"
	}
	local := now.In(loc)
	if !weekdayAllowed(local.Weekday(), s.AllowedCallingDays) {
		return false, "outside_calling_days"
	}
	if h := local.Hour(); h < s.AllowedCallingHours.StartHour || h >= s.AllowedCallingHours.EndHour {
		return false, "outside_calling_hours"
	}

	if l.Attempts >= s.MaxAttemptsPerLead {
		return false, "attempts_exhausted"
	}

	// Callback tasks bypass retry gating but wait for their slot.
	if l.CallbackAt != nil {
		if now.Before(*l.CallbackAt) {
			return false, "callback_not_due"
		}
		return true, ""
	}

	if l.Attempts > 0 {
		if now.Sub(l.LastAttemptAt) < time.Duration(s.RetryIntervalMinutes)*time.Minute {
			return false, "retry_interval"
		}
		if !retryableOutcome(l.LastOutcome, s) {
			return false, "outcome_not_retryable"
		}
	}
	return true, ""
}

func loadZone(name string) (*time.Location, error) {
	if name == "" {
		return nil, errUnknownZone
	}
	return time.LoadLocation(name)
}

type unknownZoneError struct{}

func (unknownZoneError) Error() string { return "unknown timezone" }

var errUnknownZone = unknownZoneError{}

func weekdayAllowed(d time.Weekday, allowed []time.Weekday) bool {
	for _, a := range allowed {
		if a == d {
			return true
		}
	}
	return false
}

// retryableOutcome: busy/no-answer/failed are retryable when enabled;
// voicemail and completed outcomes are never auto-retried.
func retryableOutcome(d attempt.Disposition, s Settings) bool {
	switch d {
	case attempt.DispositionBusy:
		return s.RetryOnBusy
	case attempt.DispositionNoAnswer:
		return s.RetryOnNoAnswer
	case attempt.DispositionFailed:
		return s.RetryOnFailed
	default:
		return false
	}
}
