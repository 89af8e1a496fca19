// Package credcache holds per-user signaling credentials and the derived
// provider client, time-boxed and eagerly invalidated. The cache is an
// explicit instance injected into the scheduler and webhook resolver; there
// is no module-level singleton.
package credcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dialer-platform/internal/telephony"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrNotConfigured means the user has no usable signaling credentials.
	// Dispatch for that user is skipped with a diagnostic; other users'
	// sessions are unaffected.
	ErrNotConfigured = errors.New("credcache: signaling credentials not configured")
)

// Credentials are one user's signaling credentials as stored.
type Credentials struct {
	UserID      string `json:"user_id" db:"user_id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	AccountSID string `json:"account_sid" db:"account_sid"`
	AuthToken  string `json:"-" db:"auth_token"`
	APIKeySID  string `json:"api_key_sid" db:"api_key_sid"`
	APISecret  string `json:"-" db:"api_secret"`

	// ClientIdentity is the internal signaling-client identity string this
	// user registers under (e.g. "client:agent-7"). Webhooks originating
	// from it are attributed to this user.
	ClientIdentity string `json:"client_identity" db:"client_identity"`

	// CallerID is the provisioned outbound number presented on dials.
	CallerID string `json:"caller_id" db:"caller_id"`

	// OutboundAppSID is the provider-side application mapping calls from
	// this user's client to our webhook. Provisioned lazily.
	OutboundAppSID string `json:"outbound_app_sid" db:"outbound_app_sid"`

	// Configured is the stored flag. It can disagree with reality; the
	// cache trusts field presence over the flag (see Get).
	Configured bool `json:"configured" db:"configured"`
}

// Complete reports whether the structurally required fields are present.
func (c Credentials) Complete() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.CallerID != ""
}

// Store is the persistent backing for credentials.
type Store interface {
	Load(ctx context.Context, userID string) (Credentials, error)
	// SaveOutboundApp records a provisioned application mapping.
	SaveOutboundApp(ctx context.Context, userID, appSID string) error
}

// Provisioner ensures provider-side capabilities exist for a user. Must be
// idempotent: calling it for an already-provisioned user returns the
// existing application.
type Provisioner interface {
	EnsureCallApplication(ctx context.Context, creds Credentials) (appSID string, err error)
}

// ClientFactory builds a signaling client from credentials. Injected so
// tests can substitute a fake provider.
type ClientFactory func(Credentials) telephony.Provider

type entry struct {
	creds       Credentials
	client      telephony.Provider
	fetchedAt   time.Time
	accessToken string
	tokenExpiry time.Time
}

// Cache caches (client, credentials) per user with a TTL. Reads are served
// without blocking on refresh except for the user being refreshed: a
// per-user lock covers the load-on-miss so concurrent callers do not stampede
// the store.
type Cache struct {
	store       Store
	provisioner Provisioner
	factory     ClientFactory
	ttl         time.Duration
	log         *slog.Logger
	clock       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	loading map[string]*sync.Mutex
}

const accessTokenTTL = time.Hour

func New(store Store, provisioner Provisioner, factory ClientFactory, ttl time.Duration, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	if factory == nil {
		factory = func(c Credentials) telephony.Provider {
			return telephony.NewRestProvider(c.AccountSID, c.AuthToken, "")
		}
	}
	return &Cache{
		store:       store,
		provisioner: provisioner,
		factory:     factory,
		ttl:         ttl,
		log:         log,
		clock:       time.Now,
		entries:     map[string]*entry{},
		loading:     map[string]*sync.Mutex{},
	}
}

// Get returns the cached signaling client and credentials for userID,
// loading from the store on miss or expiry.
//
// Self-heal: credentials may be structurally present while the stored
// Configured flag says otherwise (a known inconsistency after partial
// onboarding). Field presence wins; the healed state is logged.
func (c *Cache) Get(ctx context.Context, userID string) (telephony.Provider, Credentials, error) {
	if userID == "" {
		return nil, Credentials{}, errors.New("credcache: user id required")
	}

	now := c.clock()
	c.mu.Lock()
	if e, ok := c.entries[userID]; ok && now.Sub(e.fetchedAt) <= c.ttl {
		client, creds := e.client, e.creds
		c.mu.Unlock()
		return client, creds, nil
	}
	lock := c.loading[userID]
	if lock == nil {
		lock = &sync.Mutex{}
		c.loading[userID] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// Re-check: another caller may have refreshed while we waited.
	c.mu.Lock()
	if e, ok := c.entries[userID]; ok && c.clock().Sub(e.fetchedAt) <= c.ttl {
		client, creds := e.client, e.creds
		c.mu.Unlock()
		return client, creds, nil
	}
	c.mu.Unlock()

	creds, err := c.store.Load(ctx, userID)
	if err != nil {
		return nil, Credentials{}, fmt.Errorf("credcache: load %s: %w", userID, err)
	}
	if !creds.Complete() {
		return nil, Credentials{}, ErrNotConfigured
	}
	if !creds.Configured {
		c.log.Warn("healing unconfigured flag, credentials are structurally complete", "user_id", userID)
		creds.Configured = true
	}

	e := &entry{creds: creds, client: c.factory(creds), fetchedAt: c.clock()}
	c.mu.Lock()
	c.entries[userID] = e
	c.mu.Unlock()
	return e.client, e.creds, nil
}

// Invalidate removes the user's entry and any access token derived from it.
// Called on logout and on credential change; expiry alone is not enough.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// IssueAccessToken mints a short-lived signaling access token for the
// user's client SDK, signed with the user's API secret. The first issuance
// per cache entry triggers the capability provisioning check, ensuring the
// outbound application mapping exists.
func (c *Cache) IssueAccessToken(ctx context.Context, userID string) (string, error) {
	_, creds, err := c.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if creds.APIKeySID == "" || creds.APISecret == "" {
		return "", ErrNotConfigured
	}

	now := c.clock()
	c.mu.Lock()
	e := c.entries[userID]
	if e != nil && e.accessToken != "" && now.Before(e.tokenExpiry.Add(-time.Minute)) {
		tok := e.accessToken
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	if creds.OutboundAppSID == "" && c.provisioner != nil {
		appSID, err := c.provisioner.EnsureCallApplication(ctx, creds)
		if err != nil {
			return "", fmt.Errorf("credcache: ensure call application: %w", err)
		}
		creds.OutboundAppSID = appSID
		if err := c.store.SaveOutboundApp(ctx, userID, appSID); err != nil {
			return "", fmt.Errorf("credcache: save outbound app: %w", err)
		}
	}

	expiry := now.Add(accessTokenTTL)
	claims := jwt.MapClaims{
		"jti":      uuid.NewString(),
		"iss":      creds.APIKeySID,
		"sub":      creds.AccountSID,
		"iat":      now.Unix(),
		"exp":      expiry.Unix(),
		"identity": creds.ClientIdentity,
		"grants": map[string]any{
			"voice": map[string]any{
				"outgoing_application_sid": creds.OutboundAppSID,
				"incoming_allow":           true,
			},
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(creds.APISecret))
	if err != nil {
		return "", fmt.Errorf("credcache: sign access token: %w", err)
	}

	c.mu.Lock()
	if e := c.entries[userID]; e != nil {
		e.creds.OutboundAppSID = creds.OutboundAppSID
		e.accessToken = tok
		e.tokenExpiry = expiry
	}
	c.mu.Unlock()
	return tok, nil
}
