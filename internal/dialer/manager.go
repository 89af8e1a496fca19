package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"dialer-platform/internal/attempt"
	"dialer-platform/internal/audit"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("dialer: session not found")
	ErrSessionActive   = errors.New("dialer: user already has an active session")
)

// Manager owns the set of running sessions in this process and routes
// attempt lifecycle hooks to the scheduler that dispatched them.
type Manager struct {
	deps  Deps
	audit *audit.Service
	log   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*runningSession // sessionID -> running
	byUser   map[string]string          // userID -> sessionID
}

type runningSession struct {
	scheduler *Scheduler
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewManager(d Deps, aud *audit.Service) *Manager {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		deps:     d,
		audit:    aud,
		log:      log,
		sessions: map[string]*runningSession{},
		byUser:   map[string]string{},
	}
}

// SetAttempts injects the attempt service after construction. The manager's
// hooks feed the attempt service and the attempt service feeds the manager,
// so one side has to be wired late.
func (m *Manager) SetAttempts(svc *attempt.Service) {
	m.deps.Attempts = svc
}

// Hooks returns the attempt lifecycle hooks, routed by session.
func (m *Manager) Hooks() attempt.Hooks {
	return attempt.Hooks{
		OnTerminal: func(ctx context.Context, a *attempt.CallAttempt) {
			if s := m.schedulerFor(a.SessionID); s != nil {
				s.handleTerminal(ctx, a)
			}
		},
		OnMachineDetected: func(ctx context.Context, a *attempt.CallAttempt) {
			if s := m.schedulerFor(a.SessionID); s != nil {
				s.handleMachineDetected(ctx, a)
			}
		},
	}
}

func (m *Manager) schedulerFor(sessionID string) *Scheduler {
	if sessionID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rs, ok := m.sessions[sessionID]; ok {
		return rs.scheduler
	}
	return nil
}

// Start creates and launches a session for the user. One active session per
// user; a second Start is rejected rather than silently replacing the first.
func (m *Manager) Start(ctx context.Context, workspaceID, userID string, settings Settings) (*Session, error) {
	sess := &Session{
		SessionID:   uuid.NewString(),
		WorkspaceID: workspaceID,
		UserID:      userID,
		Settings:    settings,
	}
	sched, err := NewScheduler(sess, m.deps)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.byUser[userID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, existing)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rs := &runningSession{scheduler: sched, cancel: cancel, done: make(chan struct{})}
	m.sessions[sess.SessionID] = rs
	m.byUser[userID] = sess.SessionID
	m.mu.Unlock()

	go func() {
		defer close(rs.done)
		sched.Run(runCtx)
	}()

	if err := m.audit.LogSession(ctx, audit.EventTypeSessionStarted, workspaceID, userID, sess.SessionID); err != nil {
		m.log.Warn("audit session start", "err", err)
	}
	return sess, nil
}

// Stop halts a session's loop. In-flight calls are left to finish; their
// webhooks still reconcile and release lines, but no new dispatches happen.
func (m *Manager) Stop(ctx context.Context, sessionID string) (Counters, error) {
	m.mu.Lock()
	rs, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		delete(m.byUser, rs.scheduler.session.UserID)
	}
	m.mu.Unlock()
	if !ok {
		return Counters{}, ErrSessionNotFound
	}

	rs.scheduler.session.stop()
	rs.cancel()
	<-rs.done

	sess := rs.scheduler.session
	if err := m.audit.LogSession(ctx, audit.EventTypeSessionStopped, sess.WorkspaceID, sess.UserID, sessionID); err != nil {
		m.log.Warn("audit session stop", "err", err)
	}
	return rs.scheduler.Counters(ctx), nil
}

// Counters returns the running session's snapshot.
func (m *Manager) Counters(ctx context.Context, sessionID string) (Counters, error) {
	s := m.schedulerFor(sessionID)
	if s == nil {
		return Counters{}, ErrSessionNotFound
	}
	return s.Counters(ctx), nil
}

// Shutdown stops every running session, for process teardown.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if _, err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.log.Warn("session shutdown", "session_id", id, "err", err)
		}
	}
}

// Hangup ends a live call at the operator's request. The attempt is marked
// canceled immediately; the provider's confirming webhook reconciles later
// as a duplicate.
func (m *Manager) Hangup(ctx context.Context, userID, attemptID string) (*attempt.CallAttempt, error) {
	a, err := m.deps.Attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.State.Terminal() {
		return a, nil
	}

	if a.ProviderCallID != "" {
		provider, _, err := m.deps.Creds.Get(ctx, a.UserID)
		if err != nil {
			return nil, fmt.Errorf("dialer: hangup without signaling client: %w", err)
		}
		if err := provider.EndCall(ctx, a.ProviderCallID); err != nil {
			m.log.Warn("provider hangup failed, canceling locally anyway",
				"attempt_id", attemptID, "provider_call_id", a.ProviderCallID, "err", err)
		}
	}

	a, err = m.deps.Attempts.Cancel(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if err := m.audit.LogOperatorHangup(ctx, a.WorkspaceID, userID, attemptID); err != nil {
		m.log.Warn("audit operator hangup", "err", err)
	}
	return a, nil
}
