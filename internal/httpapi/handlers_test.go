package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dialer-platform/internal/attempt"
	"dialer-platform/internal/audit"
	"dialer-platform/internal/broadcast"
	"dialer-platform/internal/credcache"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/telephony"
	"dialer-platform/internal/webhook"

	"github.com/gin-gonic/gin"
)

type nullProvider struct{}

func (nullProvider) Name() string                          { return "null" }
func (nullProvider) HealthCheck(ctx context.Context) error { return nil }
func (nullProvider) CreateCall(ctx context.Context, req telephony.CreateCallRequest) (telephony.CreateCallResult, error) {
	return telephony.CreateCallResult{ProviderCallID: "CA-null", AcceptedAt: time.Now()}, nil
}
func (nullProvider) EndCall(ctx context.Context, providerCallID string) error { return nil }

type fixture struct {
	router *gin.Engine
	repo   *attempt.MemoryRepo
	hub    *broadcast.Hub
	store  *credcache.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := attempt.NewMemoryRepo()
	store := credcache.NewMemoryStore()
	store.Put(credcache.Credentials{
		UserID: "u1", WorkspaceID: "w1",
		AccountSID: "AC1", AuthToken: "tok", CallerID: "+15550009999",
		Configured: true,
	})
	cache := credcache.New(store, nil, func(credcache.Credentials) telephony.Provider {
		return nullProvider{}
	}, time.Minute, nil)

	hub := broadcast.NewHub()
	manager := dialer.NewManager(dialer.Deps{
		Leads:         leads.NewMemorySource(),
		Creds:         cache,
		Repo:          repo,
		Tokens:        webhook.NewTokenSigner("sekret", time.Hour),
		PublicBaseURL: "https://api.example.com",
	}, audit.NewService(audit.NewMemoryRepo()))
	svc := attempt.NewService(repo, hub, manager.Hooks(), nil)
	manager.SetAttempts(svc)

	h := Handlers{Dialer: manager, Attempts: svc, Creds: cache, Hub: hub}
	r := gin.New()
	r.POST("/v1/sessions", h.StartSession)
	r.POST("/v1/sessions/:session_id/stop", h.StopSession)
	r.GET("/v1/sessions/:session_id", h.SessionCounters)
	r.GET("/v1/attempts/:attempt_id", h.GetAttempt)
	r.POST("/v1/attempts/:attempt_id/hangup", h.HangupAttempt)
	r.PATCH("/v1/attempts/:attempt_id", h.AnnotateAttempt)
	r.POST("/v1/voice/token", h.VoiceToken)

	t.Cleanup(func() { manager.Shutdown(context.Background()) })
	return &fixture{router: r, repo: repo, hub: hub, store: store}
}

func do(f *fixture, method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(headerUserID, userID)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestStartSessionRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	w := do(f, http.MethodPost, "/v1/sessions", "", `{"workspace_id":"w1","settings":{"parallel_call_limit":2}}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStartStopSessionRoundTrip(t *testing.T) {
	f := newFixture(t)
	w := do(f, http.MethodPost, "/v1/sessions", "u1", `{"workspace_id":"w1","settings":{"parallel_call_limit":2}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var sess struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil || sess.SessionID == "" {
		t.Fatalf("bad session response: %v %s", err, w.Body.String())
	}

	// Second session for the same user conflicts.
	w = do(f, http.MethodPost, "/v1/sessions", "u1", `{"workspace_id":"w1","settings":{"parallel_call_limit":2}}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	w = do(f, http.MethodGet, "/v1/sessions/"+sess.SessionID, "u1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("counters: expected 200, got %d", w.Code)
	}

	w = do(f, http.MethodPost, "/v1/sessions/"+sess.SessionID+"/stop", "u1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", w.Code)
	}
	w = do(f, http.MethodPost, "/v1/sessions/"+sess.SessionID+"/stop", "u1", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("double stop: expected 404, got %d", w.Code)
	}
}

func TestInvalidSettingsRejected(t *testing.T) {
	f := newFixture(t)
	w := do(f, http.MethodPost, "/v1/sessions", "u1", `{"workspace_id":"w1","settings":{"parallel_call_limit":99}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAnnotateAttempt(t *testing.T) {
	f := newFixture(t)
	a := &attempt.CallAttempt{
		AttemptID: "at1", UserID: "u1", WorkspaceID: "w1",
		State: attempt.StateCompleted, Disposition: attempt.DispositionAnswered,
		CreatedAt: time.Now(),
	}
	if err := f.repo.Create(context.Background(), a); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := do(f, http.MethodPatch, "/v1/attempts/at1", "u1", `{"summary":"asked for a demo","tags":["warm"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got, err := f.repo.GetByID(context.Background(), "at1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Summary != "asked for a demo" || len(got.Tags) != 1 {
		t.Fatalf("annotation not persisted: %+v", got)
	}

	w = do(f, http.MethodPatch, "/v1/attempts/at1", "u1", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty annotation: expected 400, got %d", w.Code)
	}
}

func TestHangupAttempt(t *testing.T) {
	f := newFixture(t)
	a := &attempt.CallAttempt{
		AttemptID: "at1", ProviderCallID: "CA1", UserID: "u1", WorkspaceID: "w1",
		State: attempt.StateInProgress, CreatedAt: time.Now(),
	}
	if err := f.repo.Create(context.Background(), a); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := do(f, http.MethodPost, "/v1/attempts/at1/hangup", "u1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got, err := f.repo.GetByID(context.Background(), "at1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.State != attempt.StateCanceled {
		t.Fatalf("expected canceled, got %s", got.State)
	}

	if w := do(f, http.MethodPost, "/v1/attempts/nope/hangup", "u1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown attempt: expected 404, got %d", w.Code)
	}
}

func TestVoiceTokenUnconfiguredUser(t *testing.T) {
	f := newFixture(t)
	w := do(f, http.MethodPost, "/v1/voice/token", "ghost", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVoiceTokenIssued(t *testing.T) {
	f := newFixture(t)
	f.store.Put(credcache.Credentials{
		UserID: "u2", WorkspaceID: "w1",
		AccountSID: "AC1", AuthToken: "tok", CallerID: "+15550001111",
		APIKeySID: "SK1", APISecret: "shh",
		Configured: true,
	})
	w := do(f, http.MethodPost, "/v1/voice/token", "u2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("bad token response: %v %s", err, w.Body.String())
	}
}
