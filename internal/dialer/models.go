// Package dialer paces concurrent outbound call attempts across a bounded
// pool of signaling lines, one scheduler loop per active session.
package dialer

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type PacingMode string

const (
	// PacingAggressive refills freed lines immediately up to the limit.
	PacingAggressive PacingMode = "aggressive"
	// PacingModerate inserts a small inter-dispatch delay proportional to
	// the recent connection rate.
	PacingModerate PacingMode = "moderate"
	// PacingConservative refills only after the prior dispatch reached at
	// least ringing, protecting against flooding a bad route.
	PacingConservative PacingMode = "conservative"
)

type AMDBehavior string

const (
	// AMDDisconnect ends the call as soon as a machine answers.
	AMDDisconnect AMDBehavior = "disconnect"
	// AMDLeaveVoicemail lets the call continue into a voicemail flow.
	AMDLeaveVoicemail AMDBehavior = "leave-voicemail"
	// AMDMarkCallback ends the call and schedules a callback task instead
	// of a retry.
	AMDMarkCallback AMDBehavior = "mark-callback"
)

// HourWindow is a daily local-time calling window, inclusive start,
// exclusive end.
type HourWindow struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Settings configures one dialer session.
type Settings struct {
	Mode              string      `json:"mode"`
	ParallelCallLimit int         `json:"parallel_call_limit"`
	Pacing            PacingMode  `json:"pacing"`
	AMDEnabled        bool        `json:"amd_enabled"`
	AMDBehavior       AMDBehavior `json:"amd_behavior"`

	MaxAttemptsPerLead   int  `json:"max_attempts_per_lead"`
	RetryIntervalMinutes int  `json:"retry_interval_minutes"`
	RetryOnBusy          bool `json:"retry_on_busy"`
	RetryOnNoAnswer      bool `json:"retry_on_no_answer"`
	RetryOnFailed        bool `json:"retry_on_failed"`

	AllowedCallingHours HourWindow     `json:"allowed_calling_hours"`
	AllowedCallingDays  []time.Weekday `json:"allowed_calling_days"`

	// EnforceDNC additionally screens leads against the workspace
	// suppression list at dispatch. Lead-level DoNotCall flags block
	// regardless of this setting.
	EnforceDNC bool `json:"enforce_dnc"`

	// CallbackDelayMinutes gates when a mark-callback task becomes
	// dialable again.
	CallbackDelayMinutes int `json:"callback_delay_minutes"`

	// RingTimeoutSeconds is passed to the provider on every dispatch.
	RingTimeoutSeconds int `json:"ring_timeout_seconds"`
}

func (s *Settings) Validate() error {
	var errs []error
	if s.ParallelCallLimit < 1 || s.ParallelCallLimit > 10 {
		errs = append(errs, fmt.Errorf("parallel_call_limit must be 1-10, got %d", s.ParallelCallLimit))
	}
	switch s.Pacing {
	case PacingAggressive, PacingModerate, PacingConservative:
	case "":
		s.Pacing = PacingAggressive
	default:
		errs = append(errs, fmt.Errorf("unknown pacing %q", s.Pacing))
	}
	if s.AMDEnabled {
		switch s.AMDBehavior {
		case AMDDisconnect, AMDLeaveVoicemail, AMDMarkCallback:
		case "":
			s.AMDBehavior = AMDLeaveVoicemail
		default:
			errs = append(errs, fmt.Errorf("unknown amd_behavior %q", s.AMDBehavior))
		}
	}
	if s.MaxAttemptsPerLead <= 0 {
		s.MaxAttemptsPerLead = 3
	}
	if s.RetryIntervalMinutes <= 0 {
		s.RetryIntervalMinutes = 60
	}
	if s.CallbackDelayMinutes <= 0 {
		s.CallbackDelayMinutes = 120
	}
	if s.RingTimeoutSeconds <= 0 {
		s.RingTimeoutSeconds = 30
	}
	if s.AllowedCallingHours.StartHour == 0 && s.AllowedCallingHours.EndHour == 0 {
		// TCPA-safe default window.
		s.AllowedCallingHours = HourWindow{StartHour: 9, EndHour: 20}
	}
	if s.AllowedCallingHours.StartHour < 0 || s.AllowedCallingHours.EndHour > 24 ||
		s.AllowedCallingHours.StartHour >= s.AllowedCallingHours.EndHour {
		errs = append(errs, fmt.Errorf("invalid calling hours %d-%d", s.AllowedCallingHours.StartHour, s.AllowedCallingHours.EndHour))
	}
	if len(s.AllowedCallingDays) == 0 {
		s.AllowedCallingDays = []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		}
	}
	return errors.Join(errs...)
}

// Session is one campaign run: a lead list plus settings plus counters.
type Session struct {
	SessionID   string `json:"session_id"`
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`

	Settings Settings `json:"settings"`

	mu        sync.Mutex
	contacted int
	connected int
	succeeded int
	stopped   bool
}

// Counters is a point-in-time aggregate snapshot.
type Counters struct {
	Contacted   int     `json:"contacted"`
	Remaining   int     `json:"remaining"`
	SuccessRate float64 `json:"success_rate"`
}

func (s *Session) recordDispatch() {
	s.mu.Lock()
	s.contacted++
	s.mu.Unlock()
}

func (s *Session) recordOutcome(connected, succeeded bool) {
	s.mu.Lock()
	if connected {
		s.connected++
	}
	if succeeded {
		s.succeeded++
	}
	s.mu.Unlock()
}

func (s *Session) counters(remaining int) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Counters{Contacted: s.contacted, Remaining: remaining}
	if s.contacted > 0 {
		c.SuccessRate = float64(s.succeeded) / float64(s.contacted)
	}
	return c
}

func (s *Session) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
