package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dialer-platform/internal/attempt"
	"dialer-platform/internal/credcache"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/telephony"
	"dialer-platform/internal/webhook"

	"github.com/google/uuid"
)

// CredentialSource hands out the signaling client for a user. Satisfied by
// *credcache.Cache.
type CredentialSource interface {
	Get(ctx context.Context, userID string) (telephony.Provider, credcache.Credentials, error)
}

// LineGuard is the cross-instance reservation counter backing the local
// line pool. Optional; single-instance deployments run without one.
type LineGuard interface {
	Acquire(ctx context.Context, sessionID string, limit int) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

var errNoFreeLine = errors.New("dialer: no free line")

// Deps are the collaborators a scheduler needs.
type Deps struct {
	Leads    leads.Source
	Creds    CredentialSource
	Attempts *attempt.Service
	Repo     attempt.Repository
	Guard    LineGuard
	Tokens   *webhook.TokenSigner

	PublicBaseURL string
	Log           *slog.Logger
}

// Scheduler runs one session: it keeps up to ParallelCallLimit lines busy
// by dispatching the next eligible lead whenever a line frees up. It never
// times out attempts on its own; a line stays busy until a terminal webhook
// is reconciled.
type Scheduler struct {
	session  *Session
	settings Settings
	lines    *LinePool
	pacing   pacingState
	deps     Deps

	freed chan struct{}
	clock func() time.Time
	tick  time.Duration
	log   *slog.Logger
}

func NewScheduler(sess *Session, d Deps) (*Scheduler, error) {
	if err := sess.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("dialer: invalid settings: %w", err)
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		session:  sess,
		settings: sess.Settings,
		lines:    NewLinePool(sess.SessionID, sess.Settings.ParallelCallLimit),
		deps:     d,
		freed:    make(chan struct{}, 1),
		clock:    time.Now,
		tick:     time.Second,
		log:      log.With("session_id", sess.SessionID),
	}, nil
}

// Run drives the session loop until the context is canceled or the session
// is stopped. Line releases wake it immediately; the ticker catches leads
// whose retry or calling-window gates open over time.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("dialer session started",
		"parallel_call_limit", s.settings.ParallelCallLimit,
		"pacing", s.settings.Pacing,
	)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		s.fill(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("dialer session loop canceled")
			return
		case <-s.freed:
		case <-ticker.C:
		}
		if s.session.isStopped() {
			s.log.Info("dialer session stopped")
			return
		}
	}
}

// fill dispatches eligible leads until lines, leads, or pacing say stop.
func (s *Scheduler) fill(ctx context.Context) {
	for ctx.Err() == nil && !s.session.isStopped() {
		if s.settings.Pacing == PacingConservative && !s.priorDispatchProgressed(ctx) {
			return
		}
		if s.lines.FreeCount() == 0 {
			return
		}
		lead := s.nextEligible(ctx)
		if lead == nil {
			return
		}
		if s.settings.Pacing == PacingModerate {
			if !s.sleep(ctx, moderateDelay(s.pacing.connectRate())) {
				return
			}
		}
		if err := s.dispatch(ctx, lead); err != nil {
			if !errors.Is(err, errNoFreeLine) {
				s.log.Warn("dispatch skipped", "lead_id", lead.LeadID, "err", err)
			}
			return
		}
	}
}

// priorDispatchProgressed reports whether the conservatively-paced previous
// dispatch reached at least ringing (or ended).
func (s *Scheduler) priorDispatchProgressed(ctx context.Context) bool {
	id := s.pacing.getLastDispatched()
	if id == "" {
		return true
	}
	a, err := s.deps.Repo.GetByID(ctx, id)
	if err != nil {
		return true
	}
	return a.State != attempt.StateQueued && a.State != attempt.StateInitiated
}

func (s *Scheduler) nextEligible(ctx context.Context) *leads.Lead {
	pending, err := s.deps.Leads.Pending(ctx, s.session.SessionID)
	if err != nil {
		s.log.Error("lead list unavailable", "err", err)
		return nil
	}
	now := s.clock()
	for _, l := range pending {
		if ok, _ := Eligible(l, s.settings, now); ok {
			return l
		}
	}
	return nil
}

// dispatch creates the attempt record, reserves a line, and issues the call
// command. It awaits only the provider's synchronous acknowledgment;
// everything after that arrives as webhooks.
func (s *Scheduler) dispatch(ctx context.Context, lead *leads.Lead) error {
	provider, creds, err := s.deps.Creds.Get(ctx, s.session.UserID)
	if err != nil {
		if errors.Is(err, credcache.ErrNotConfigured) {
			return fmt.Errorf("signaling credentials not configured for user %s: %w", s.session.UserID, err)
		}
		return err
	}

	line, ok := s.lines.Reserve()
	if !ok {
		return errNoFreeLine
	}
	if s.deps.Guard != nil {
		acquired, err := s.deps.Guard.Acquire(ctx, s.session.SessionID, s.settings.ParallelCallLimit)
		if err != nil || !acquired {
			s.lines.Release(line.LineID)
			if err != nil {
				return fmt.Errorf("line guard: %w", err)
			}
			return errNoFreeLine
		}
	}

	now := s.clock().UTC()
	a := &attempt.CallAttempt{
		AttemptID:   uuid.NewString(),
		WorkspaceID: s.session.WorkspaceID,
		UserID:      s.session.UserID,
		SessionID:   s.session.SessionID,
		LeadID:      lead.LeadID,
		From:        creds.CallerID,
		To:          lead.Phone,
		Direction:   attempt.DirectionOutbound,
		State:       attempt.StateQueued,
		DialAttempt: lead.Attempts + 1,
		CreatedAt:   now,
	}
	if err := s.deps.Repo.Create(ctx, a); err != nil {
		s.releaseUnbound(ctx, line)
		return fmt.Errorf("create attempt: %w", err)
	}

	lead.Attempts++
	lead.LastAttemptAt = now
	lead.CallbackAt = nil
	if err := s.deps.Leads.Update(ctx, lead); err != nil {
		s.log.Warn("lead update failed", "lead_id", lead.LeadID, "err", err)
	}
	s.session.recordDispatch()

	cb := s.callbackURL()
	res, err := provider.CreateCall(ctx, telephony.CreateCallRequest{
		To:                 lead.Phone,
		CallerID:           creds.CallerID,
		CallbackURL:        cb,
		StatusCallbackURL:  cb,
		DetectMachine:      s.settings.AMDEnabled,
		RingTimeoutSeconds: s.settings.RingTimeoutSeconds,
	})
	if err != nil {
		// Synchronous rejection: the attempt fails without ever occupying
		// a line beyond this call.
		s.releaseUnbound(ctx, line)
		s.log.Warn("call creation rejected", "lead_id", lead.LeadID, "err", err)
		if err := s.deps.Attempts.MarkFailed(ctx, a); err != nil {
			s.log.Error("mark failed", "attempt_id", a.AttemptID, "err", err)
		}
		return nil
	}

	a.ProviderCallID = res.ProviderCallID
	a.LineID = line.LineID
	s.lines.Bind(line.LineID, a.AttemptID)
	if err := s.deps.Repo.Update(ctx, a); err != nil {
		s.log.Error("attempt update after dispatch", "attempt_id", a.AttemptID, "err", err)
	}
	s.pacing.setLastDispatched(a.AttemptID)
	s.log.Info("lead dispatched",
		"attempt_id", a.AttemptID,
		"provider_call_id", a.ProviderCallID,
		"line_id", line.LineID,
		"dial_attempt", a.DialAttempt,
	)
	return nil
}

func (s *Scheduler) releaseUnbound(ctx context.Context, line *Line) {
	s.lines.Release(line.LineID)
	if s.deps.Guard != nil {
		if err := s.deps.Guard.Release(ctx, s.session.SessionID); err != nil {
			s.log.Warn("line guard release", "err", err)
		}
	}
}

// handleTerminal reacts to an attempt reaching a terminal state: free the
// line, roll counters, and decide the lead's future.
func (s *Scheduler) handleTerminal(ctx context.Context, a *attempt.CallAttempt) {
	if s.lines.ReleaseByAttempt(a.AttemptID) && s.deps.Guard != nil {
		if err := s.deps.Guard.Release(ctx, s.session.SessionID); err != nil {
			s.log.Warn("line guard release", "err", err)
		}
	}

	connected := a.ConnectedAt != nil
	succeeded := a.Disposition == attempt.DispositionAnswered || a.Disposition == attempt.DispositionVoicemail
	s.session.recordOutcome(connected, succeeded)
	s.pacing.recordOutcome(connected)

	lead, err := s.deps.Leads.Find(ctx, s.session.SessionID, a.LeadID)
	if err == nil {
		lead.LastOutcome = a.Disposition
		switch {
		case a.Disposition == attempt.DispositionMachineDetected && s.settings.AMDBehavior == AMDMarkCallback:
			due := s.clock().UTC().Add(time.Duration(s.settings.CallbackDelayMinutes) * time.Minute)
			lead.CallbackAt = &due
			s.log.Info("callback scheduled", "lead_id", lead.LeadID, "due", due)
		case lead.Attempts >= s.settings.MaxAttemptsPerLead,
			!retryableOutcome(a.Disposition, s.settings):
			lead.Exhausted = true
		}
		if err := s.deps.Leads.Update(ctx, lead); err != nil {
			s.log.Warn("lead outcome update failed", "lead_id", lead.LeadID, "err", err)
		}
	}

	select {
	case s.freed <- struct{}{}:
	default:
	}
}

// handleMachineDetected applies the configured AMD reaction to a live call.
func (s *Scheduler) handleMachineDetected(ctx context.Context, a *attempt.CallAttempt) {
	if !s.settings.AMDEnabled {
		return
	}
	switch s.settings.AMDBehavior {
	case AMDLeaveVoicemail:
		// Let the call continue into the voicemail flow.
		return
	case AMDDisconnect, AMDMarkCallback:
		if err := s.deps.Attempts.MarkMachineHangup(ctx, a.AttemptID); err != nil {
			s.log.Warn("mark machine hangup", "attempt_id", a.AttemptID, "err", err)
		}
		provider, _, err := s.deps.Creds.Get(ctx, s.session.UserID)
		if err != nil {
			s.log.Error("no signaling client for machine disconnect", "err", err)
			return
		}
		if err := provider.EndCall(ctx, a.ProviderCallID); err != nil {
			s.log.Warn("machine disconnect failed", "provider_call_id", a.ProviderCallID, "err", err)
		}
	}
}

// callbackURL builds the webhook URL the provider will call back on,
// carrying a fresh capability token for the session owner.
func (s *Scheduler) callbackURL() string {
	return s.deps.PublicBaseURL + "/webhooks/voice/status?" + s.deps.Tokens.Issue(s.session.UserID).Encode()
}

// remaining counts leads still in play, for the counters snapshot.
func (s *Scheduler) remaining(ctx context.Context) int {
	pending, err := s.deps.Leads.Pending(ctx, s.session.SessionID)
	if err != nil {
		return 0
	}
	return len(pending)
}

// Counters returns the session's aggregate snapshot.
func (s *Scheduler) Counters(ctx context.Context) Counters {
	return s.session.counters(s.remaining(ctx))
}

// sleep waits d unless the context ends first; reports whether it slept
// fully.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
