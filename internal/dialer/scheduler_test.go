package dialer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"dialer-platform/internal/attempt"
	"dialer-platform/internal/credcache"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/telephony"
	"dialer-platform/internal/webhook"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    []telephony.CreateCallRequest
	ended    []string
	failNext error
}

func (f *fakeProvider) Name() string                          { return "fake" }
func (f *fakeProvider) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeProvider) CreateCall(ctx context.Context, req telephony.CreateCallRequest) (telephony.CreateCallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return telephony.CreateCallResult{}, err
	}
	f.calls = append(f.calls, req)
	return telephony.CreateCallResult{
		ProviderCallID: fmt.Sprintf("SIM-%d", len(f.calls)),
		AcceptedAt:     time.Now(),
	}, nil
}

func (f *fakeProvider) EndCall(ctx context.Context, providerCallID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, providerCallID)
	return nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCredSource struct {
	provider telephony.Provider
	creds    credcache.Credentials
	err      error
}

func (f *fakeCredSource) Get(ctx context.Context, userID string) (telephony.Provider, credcache.Credentials, error) {
	if f.err != nil {
		return nil, credcache.Credentials{}, f.err
	}
	return f.provider, f.creds, nil
}

type denyGuard struct{}

func (denyGuard) Acquire(ctx context.Context, sessionID string, limit int) (bool, error) {
	return false, nil
}
func (denyGuard) Release(ctx context.Context, sessionID string) error { return nil }

type schedFixture struct {
	sched    *Scheduler
	svc      *attempt.Service
	repo     *attempt.MemoryRepo
	leads    *leads.MemorySource
	provider *fakeProvider
}

func newSchedFixture(t *testing.T, settings Settings, creds CredentialSource) *schedFixture {
	t.Helper()
	repo := attempt.NewMemoryRepo()
	src := leads.NewMemorySource()
	sess := &Session{SessionID: "s1", WorkspaceID: "w1", UserID: "u1", Settings: settings}

	sched, err := NewScheduler(sess, Deps{
		Leads:         src,
		Creds:         creds,
		Repo:          repo,
		Tokens:        webhook.NewTokenSigner("sekret", time.Hour),
		PublicBaseURL: "https://api.example.com",
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	sched.clock = func() time.Time { return tuesdayAfternoon }

	svc := attempt.NewService(repo, nil, attempt.Hooks{
		OnTerminal:        func(ctx context.Context, a *attempt.CallAttempt) { sched.handleTerminal(ctx, a) },
		OnMachineDetected: func(ctx context.Context, a *attempt.CallAttempt) { sched.handleMachineDetected(ctx, a) },
	}, nil)
	sched.deps.Attempts = svc

	f := &schedFixture{sched: sched, svc: svc, repo: repo, leads: src}
	if fc, ok := creds.(*fakeCredSource); ok {
		f.provider, _ = fc.provider.(*fakeProvider)
	}
	return f
}

func (f *schedFixture) addLeads(n int) {
	for i := 0; i < n; i++ {
		f.leads.Add(&leads.Lead{
			LeadID:    fmt.Sprintf("l%d", i+1),
			SessionID: "s1",
			Phone:     fmt.Sprintf("+1555000%04d", i+1),
			Timezone:  "UTC",
		})
	}
}

func testCreds() credcache.Credentials {
	return credcache.Credentials{
		UserID: "u1", WorkspaceID: "w1",
		AccountSID: "AC1", AuthToken: "tok", CallerID: "+15550009999",
		Configured: true,
	}
}

func TestFillDispatchesUpToParallelLimit(t *testing.T) {
	settings := Settings{ParallelCallLimit: 2, Pacing: PacingAggressive}
	if err := settings.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	provider := &fakeProvider{}
	f := newSchedFixture(t, settings, &fakeCredSource{provider: provider, creds: testCreds()})
	f.addLeads(5)

	f.sched.fill(context.Background())

	if got := provider.callCount(); got != 2 {
		t.Fatalf("expected 2 dispatches, got %d", got)
	}
	if busy := f.sched.lines.BusyCount(); busy != 2 {
		t.Fatalf("expected 2 busy lines, got %d", busy)
	}

	// A terminal event frees a line; the next fill dispatches one more.
	a, err := f.repo.GetByProviderCallID(context.Background(), "SIM-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := f.svc.ApplyEvent(context.Background(), attempt.StatusEvent{
		ProviderCallID: a.ProviderCallID,
		State:          attempt.StateNoAnswer,
		OccurredAt:     tuesdayAfternoon,
	}); err != nil {
		t.Fatalf("apply terminal: %v", err)
	}

	f.sched.fill(context.Background())
	if got := provider.callCount(); got != 3 {
		t.Fatalf("expected 3rd dispatch after a line freed, got %d", got)
	}
	if busy := f.sched.lines.BusyCount(); busy != 2 {
		t.Fatalf("busy lines must never exceed the limit, got %d", busy)
	}
}

func TestCallbackURLCarriesCapabilityToken(t *testing.T) {
	settings := Settings{ParallelCallLimit: 1}
	if err := settings.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	provider := &fakeProvider{}
	f := newSchedFixture(t, settings, &fakeCredSource{provider: provider, creds: testCreds()})
	f.addLeads(1)

	f.sched.fill(context.Background())

	if provider.callCount() != 1 {
		t.Fatalf("expected a dispatch")
	}
	cb := provider.calls[0].StatusCallbackURL
	if !strings.HasPrefix(cb, "https://api.example.com/webhooks/voice/status?") {
		t.Fatalf("unexpected callback url %q", cb)
	}
	for _, param := range []string{"uid=u1", "ts=", "tok="} {
		if !strings.Contains(cb, param) {
			t.Fatalf("callback url missing %q: %s", param, cb)
		}
	}
}

func TestSyncDispatchFailureFailsAttemptAndFreesLine(t *testing.T) {
	settings := Settings{ParallelCallLimit: 2}
	if err := settings.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	provider := &fakeProvider{failNext: telephony.ErrCallRejected}
	f := newSchedFixture(t, settings, &fakeCredSource{provider: provider, creds: testCreds()})
	f.addLeads(1)

	f.sched.fill(context.Background())

	if busy := f.sched.lines.BusyCount(); busy != 0 {
		t.Fatalf("rejected dispatch must not hold a line, got %d busy", busy)
	}
	lead, err := f.leads.Find(context.Background(), "s1", "l1")
	if err != nil {
		t.Fatalf("find lead: %v", err)
	}
	if lead.LastOutcome != attempt.DispositionFailed {
		t.Fatalf("expected failed outcome on lead, got %q", lead.LastOutcome)
	}
	if !lead.Exhausted {
		t.Fatalf("failed outcome with retries off should exhaust the lead")
	}
}

func TestUnconfiguredCredentialsSkipDispatch(t *testing.T) {
	settings := Settings{ParallelCallLimit: 2}
	if err := settings.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	f := newSchedFixture(t, settings, &fakeCredSource{err: credcache.ErrNotConfigured})
	f.addLeads(3)

	f.sched.fill(context.Background())

	if busy := f.sched.lines.BusyCount(); busy != 0 {
		t.Fatalf("no lines should be held, got %d busy", busy)
	}
	lead, err := f.leads.Find(context.Background(), "s1", "l1")
	if err != nil {
		t.Fatalf("find lead: %v", err)
	}
	if lead.Attempts != 0 {
		t.Fatalf("skipped dispatch must not consume the attempt budget, got %d", lead.Attempts)
	}
}

func TestGuardRejectionReleasesReservation(t *testing.T) {
	settings := Settings{ParallelCallLimit: 2}
	if err := settings.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	provider := &fakeProvider{}
	f := newSchedFixture(t, settings, &fakeCredSource{provider: provider, creds: testCreds()})
	f.sched.deps.Guard = denyGuard{}
	f.addLeads(2)

	f.sched.fill(context.Background())

	if provider.callCount() != 0 {
		t.Fatalf("guard rejection must block dispatch")
	}
	if free := f.sched.lines.FreeCount(); free != 2 {
		t.Fatalf("reservation must be returned on guard rejection, got %d free", free)
	}
}

func TestMachineDetectedDisconnectEndsCall(t *testing.T) {
	settings := Settings{ParallelCallLimit: 1, AMDEnabled: true, AMDBehavior: AMDDisconnect}
	if err := settings.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	provider := &fakeProvider{}
	f := newSchedFixture(t, settings, &fakeCredSource{provider: provider, creds: testCreds()})
	f.addLeads(1)
	f.sched.fill(context.Background())

	ctx := context.Background()
	for _, st := range []attempt.State{attempt.StateInitiated, attempt.StateRinging, attempt.StateInProgress} {
		if _, err := f.svc.ApplyEvent(ctx, attempt.StatusEvent{
			ProviderCallID: "SIM-1", State: st, OccurredAt: tuesdayAfternoon,
		}); err != nil {
			t.Fatalf("apply %s: %v", st, err)
		}
	}
	if _, err := f.svc.ApplyEvent(ctx, attempt.StatusEvent{
		ProviderCallID: "SIM-1",
		State:          attempt.StateInProgress,
		AnsweredBy:     attempt.AnsweredByMachine,
		OccurredAt:     tuesdayAfternoon,
	}); err != nil {
		t.Fatalf("apply amd: %v", err)
	}

	provider.mu.Lock()
	ended := append([]string(nil), provider.ended...)
	provider.mu.Unlock()
	if len(ended) != 1 || ended[0] != "SIM-1" {
		t.Fatalf("expected EndCall for SIM-1, got %v", ended)
	}

	a, err := f.repo.GetByProviderCallID(ctx, "SIM-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !a.MachineHangup {
		t.Fatalf("machine hangup flag should be set before the terminal webhook")
	}
}

func TestMarkCallbackSchedulesLeadCallback(t *testing.T) {
	settings := Settings{
		ParallelCallLimit:    1,
		AMDEnabled:           true,
		AMDBehavior:          AMDMarkCallback,
		CallbackDelayMinutes: 90,
	}
	if err := settings.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	provider := &fakeProvider{}
	f := newSchedFixture(t, settings, &fakeCredSource{provider: provider, creds: testCreds()})
	f.addLeads(1)
	f.sched.fill(context.Background())

	ctx := context.Background()
	for _, st := range []attempt.State{attempt.StateInitiated, attempt.StateRinging, attempt.StateInProgress} {
		if _, err := f.svc.ApplyEvent(ctx, attempt.StatusEvent{
			ProviderCallID: "SIM-1", State: st, OccurredAt: tuesdayAfternoon,
		}); err != nil {
			t.Fatalf("apply %s: %v", st, err)
		}
	}
	if _, err := f.svc.ApplyEvent(ctx, attempt.StatusEvent{
		ProviderCallID: "SIM-1", State: attempt.StateInProgress,
		AnsweredBy: attempt.AnsweredByMachine, OccurredAt: tuesdayAfternoon,
	}); err != nil {
		t.Fatalf("apply amd: %v", err)
	}
	if _, err := f.svc.ApplyEvent(ctx, attempt.StatusEvent{
		ProviderCallID: "SIM-1", State: attempt.StateCompleted, OccurredAt: tuesdayAfternoon,
	}); err != nil {
		t.Fatalf("apply terminal: %v", err)
	}

	lead, err := f.leads.Find(ctx, "s1", "l1")
	if err != nil {
		t.Fatalf("find lead: %v", err)
	}
	if lead.CallbackAt == nil {
		t.Fatalf("expected a scheduled callback")
	}
	want := tuesdayAfternoon.UTC().Add(90 * time.Minute)
	if !lead.CallbackAt.Equal(want) {
		t.Fatalf("callback at %v, want %v", lead.CallbackAt, want)
	}
	if lead.Exhausted {
		t.Fatalf("callback lead must stay dialable")
	}
}

func TestConservativePacingWaitsForRinging(t *testing.T) {
	settings := Settings{ParallelCallLimit: 3, Pacing: PacingConservative}
	if err := settings.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	provider := &fakeProvider{}
	f := newSchedFixture(t, settings, &fakeCredSource{provider: provider, creds: testCreds()})
	f.addLeads(3)

	f.sched.fill(context.Background())
	if got := provider.callCount(); got != 1 {
		t.Fatalf("conservative mode should dispatch one at a time, got %d", got)
	}

	// Still queued: refill holds.
	f.sched.fill(context.Background())
	if got := provider.callCount(); got != 1 {
		t.Fatalf("refill before ringing should be held, got %d", got)
	}

	ctx := context.Background()
	for _, st := range []attempt.State{attempt.StateInitiated, attempt.StateRinging} {
		if _, err := f.svc.ApplyEvent(ctx, attempt.StatusEvent{
			ProviderCallID: "SIM-1", State: st, OccurredAt: tuesdayAfternoon,
		}); err != nil {
			t.Fatalf("apply %s: %v", st, err)
		}
	}

	f.sched.fill(context.Background())
	if got := provider.callCount(); got != 2 {
		t.Fatalf("ringing should unblock the next dispatch, got %d", got)
	}
}

func TestStopHaltsDispatching(t *testing.T) {
	settings := Settings{ParallelCallLimit: 2}
	if err := settings.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	provider := &fakeProvider{}
	f := newSchedFixture(t, settings, &fakeCredSource{provider: provider, creds: testCreds()})
	f.addLeads(3)

	f.sched.session.stop()
	f.sched.fill(context.Background())
	if provider.callCount() != 0 {
		t.Fatalf("stopped session must not dispatch")
	}
}

func TestDispatchErrorDoesNotLoop(t *testing.T) {
	settings := Settings{ParallelCallLimit: 2}
	if err := settings.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	f := newSchedFixture(t, settings, &fakeCredSource{err: errors.New("store down")})
	f.addLeads(2)

	done := make(chan struct{})
	go func() {
		f.sched.fill(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("fill should bail out on persistent dispatch errors")
	}
}
