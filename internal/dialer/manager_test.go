package dialer

import (
	"context"
	"errors"
	"testing"
	"time"

	"dialer-platform/internal/attempt"
	"dialer-platform/internal/audit"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/webhook"
)

func newTestManager(t *testing.T, provider *fakeProvider) (*Manager, *attempt.MemoryRepo, *audit.MemoryRepo) {
	t.Helper()
	repo := attempt.NewMemoryRepo()
	auditRepo := audit.NewMemoryRepo()
	m := NewManager(Deps{
		Leads:         leads.NewMemorySource(),
		Creds:         &fakeCredSource{provider: provider, creds: testCreds()},
		Repo:          repo,
		Tokens:        webhook.NewTokenSigner("sekret", time.Hour),
		PublicBaseURL: "https://api.example.com",
	}, audit.NewService(auditRepo))
	svc := attempt.NewService(repo, nil, m.Hooks(), nil)
	m.SetAttempts(svc)
	return m, repo, auditRepo
}

func TestManagerOneSessionPerUser(t *testing.T) {
	m, _, auditRepo := newTestManager(t, &fakeProvider{})
	ctx := context.Background()

	settings := Settings{ParallelCallLimit: 1}
	sess, err := m.Start(ctx, "w1", "u1", settings)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Start(ctx, "w1", "u1", settings); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second start should be rejected, got %v", err)
	}

	if _, err := m.Stop(ctx, sess.SessionID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := m.Stop(ctx, sess.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("double stop should report not found, got %v", err)
	}

	// Stopped user can start again.
	if _, err := m.Start(ctx, "w1", "u1", settings); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}

	var started, stopped int
	for _, e := range auditRepo.Events() {
		switch e.Type {
		case audit.EventTypeSessionStarted:
			started++
		case audit.EventTypeSessionStopped:
			stopped++
		}
	}
	if started != 2 || stopped != 1 {
		t.Fatalf("audit trail: started=%d stopped=%d", started, stopped)
	}
}

func TestManagerHangupCancelsLiveCall(t *testing.T) {
	provider := &fakeProvider{}
	m, repo, auditRepo := newTestManager(t, provider)
	ctx := context.Background()

	a := &attempt.CallAttempt{
		AttemptID:      "at1",
		ProviderCallID: "CA1",
		WorkspaceID:    "w1",
		UserID:         "u1",
		State:          attempt.StateInProgress,
		CreatedAt:      time.Now(),
	}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := m.Hangup(ctx, "u1", "at1")
	if err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if got.State != attempt.StateCanceled {
		t.Fatalf("expected canceled, got %s", got.State)
	}
	provider.mu.Lock()
	ended := len(provider.ended)
	provider.mu.Unlock()
	if ended != 1 {
		t.Fatalf("expected provider EndCall, got %d", ended)
	}

	found := false
	for _, e := range auditRepo.Events() {
		if e.Type == audit.EventTypeOperatorHangup && e.AttemptID == "at1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("operator hangup should be audited")
	}
}

func TestManagerHangupOnTerminalAttemptIsNoOp(t *testing.T) {
	provider := &fakeProvider{}
	m, repo, _ := newTestManager(t, provider)
	ctx := context.Background()

	a := &attempt.CallAttempt{
		AttemptID:   "at1",
		UserID:      "u1",
		State:       attempt.StateCompleted,
		Disposition: attempt.DispositionAnswered,
		CreatedAt:   time.Now(),
	}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := m.Hangup(ctx, "u1", "at1")
	if err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if got.State != attempt.StateCompleted {
		t.Fatalf("terminal attempt must not change, got %s", got.State)
	}
	provider.mu.Lock()
	ended := len(provider.ended)
	provider.mu.Unlock()
	if ended != 0 {
		t.Fatalf("no provider call should be made, got %d", ended)
	}
}

func TestHangupUnknownAttempt(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeProvider{})
	if _, err := m.Hangup(context.Background(), "u1", "nope"); !errors.Is(err, attempt.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
