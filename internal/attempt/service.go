package attempt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var ErrUnknownProviderCallID = errors.New("attempt: unknown provider call id")

// Broadcaster fans state changes out to live observers. Publishing is
// best-effort; failures never block or roll back a transition.
type Broadcaster interface {
	Publish(userID string, u Update)
}

// Update is the record pushed to observers.
type Update struct {
	AttemptID   string      `json:"attempt_id"`
	State       State       `json:"state"`
	Disposition Disposition `json:"disposition,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	// Gap signals the observer that at least one earlier update for this
	// stream was dropped.
	Gap bool `json:"gap,omitempty"`
}

// Hooks let the dialer react to reconciled events without a package cycle.
// Both are invoked after the transition has been persisted.
type Hooks struct {
	// OnTerminal fires once per attempt, when it first reaches a terminal
	// state. The scheduler releases the line and decides on retries here.
	OnTerminal func(ctx context.Context, a *CallAttempt)
	// OnMachineDetected fires when the answered-by classification becomes
	// "machine" on a live call.
	OnMachineDetected func(ctx context.Context, a *CallAttempt)
}

// Service owns the read-modify-write cycle around Apply: load the attempt,
// run the pure transition, persist, then side effects.
type Service struct {
	repo  Repository
	hub   Broadcaster
	hooks Hooks
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, hub Broadcaster, hooks Hooks, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, hub: hub, hooks: hooks, log: log, clock: time.Now}
}

// ApplyEvent reconciles one resolved webhook event. Illegal and duplicate
// events are logged and discarded; the caller always gets a nil error for
// them because the provider will retry on anything else.
func (s *Service) ApplyEvent(ctx context.Context, ev StatusEvent) (*CallAttempt, error) {
	if ev.ProviderCallID == "" {
		return nil, ErrUnknownProviderCallID
	}
	a, err := s.repo.GetByProviderCallID(ctx, ev.ProviderCallID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnknownProviderCallID
		}
		return nil, err
	}

	out := Apply(a, ev)
	if !out.Applied() {
		s.log.Info("webhook event discarded",
			"attempt_id", a.AttemptID,
			"provider_call_id", ev.ProviderCallID,
			"stored_state", a.State,
			"event_state", ev.State,
			"reason", out.Discarded,
		)
		return a, nil
	}

	if err := s.persist(ctx, a); err != nil {
		return nil, fmt.Errorf("attempt: persist after transition: %w", err)
	}

	if s.hub != nil {
		s.hub.Publish(a.UserID, Update{
			AttemptID:   a.AttemptID,
			State:       a.State,
			Disposition: a.Disposition,
			Timestamp:   s.clock().UTC(),
		})
	}
	if out.AMDApplied && a.AnsweredBy == AnsweredByMachine && !out.Terminal && s.hooks.OnMachineDetected != nil {
		s.hooks.OnMachineDetected(ctx, a)
	}
	if out.Terminal && out.StateChanged && s.hooks.OnTerminal != nil {
		s.hooks.OnTerminal(ctx, a)
	}
	return a, nil
}

// Cancel optimistically marks an attempt canceled after an operator hangup.
// The provider's confirming webhook is reconciled later through ApplyEvent
// and lands as a duplicate.
func (s *Service) Cancel(ctx context.Context, attemptID string) (*CallAttempt, error) {
	a, err := s.repo.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return s.applyLocal(ctx, a, StatusEvent{
		ProviderCallID: a.ProviderCallID,
		State:          StateCanceled,
		OccurredAt:     s.clock().UTC(),
	})
}

// MarkFailed records a synchronous dispatch failure.
func (s *Service) MarkFailed(ctx context.Context, a *CallAttempt) error {
	_, err := s.applyLocal(ctx, a, StatusEvent{
		State:      StateFailed,
		OccurredAt: s.clock().UTC(),
	})
	return err
}

// MarkMachineHangup flags that we ended the call ourselves after machine
// detection. Must run before the terminal webhook arrives to influence the
// disposition; a lost race simply yields "voicemail".
func (s *Service) MarkMachineHangup(ctx context.Context, attemptID string) error {
	a, err := s.repo.GetByID(ctx, attemptID)
	if err != nil {
		return err
	}
	if a.MachineHangup || a.State.Terminal() {
		return nil
	}
	a.MachineHangup = true
	return s.persist(ctx, a)
}

// Annotate attaches a post-hoc summary and tags. This is the only mutation
// allowed on a terminal attempt.
func (s *Service) Annotate(ctx context.Context, attemptID, summary string, tags []string) (*CallAttempt, error) {
	a, err := s.repo.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if summary != "" {
		a.Summary = summary
	}
	if len(tags) > 0 {
		a.Tags = tags
	}
	if err := s.persist(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, attemptID string) (*CallAttempt, error) {
	return s.repo.GetByID(ctx, attemptID)
}

func (s *Service) applyLocal(ctx context.Context, a *CallAttempt, ev StatusEvent) (*CallAttempt, error) {
	out := Apply(a, ev)
	if !out.Applied() {
		return a, nil
	}
	if err := s.persist(ctx, a); err != nil {
		return nil, err
	}
	if s.hub != nil {
		s.hub.Publish(a.UserID, Update{
			AttemptID:   a.AttemptID,
			State:       a.State,
			Disposition: a.Disposition,
			Timestamp:   s.clock().UTC(),
		})
	}
	if out.Terminal && out.StateChanged && s.hooks.OnTerminal != nil {
		s.hooks.OnTerminal(ctx, a)
	}
	return a, nil
}

// persist retries transient storage errors with a short backoff. Not-found
// and uniqueness violations are permanent and returned as-is.
func (s *Service) persist(ctx context.Context, a *CallAttempt) error {
	var err error
	backoff := 50 * time.Millisecond
	for i := 0; i < 3; i++ {
		err = s.repo.Update(ctx, a)
		if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateProviderCallID) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
