package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dialer-platform/internal/attempt"
	"dialer-platform/internal/credcache"
)

// ErrRejected is the single externally visible failure of identity
// resolution. The HTTP layer maps it to a uniform 403; the internal reason
// goes to the security audit log only.
var ErrRejected = errors.New("webhook: rejected")

// Identity is the resolved owner of an event.
type Identity struct {
	UserID      string
	WorkspaceID string
}

// Resolution reports how an identity was established; the transport
// signature check depends on it.
type Resolution struct {
	Identity Identity
	// Strategy is the name of the winning strategy.
	Strategy string
	// TokenValidated is true when the signed capability token was the
	// winning signal; such requests skip transport-signature verification.
	TokenValidated bool
}

// Strategy is one attribution signal. Resolve returns ok=false to pass the
// event to the next strategy; a non-nil error aborts the whole pipeline
// (fail closed, no fall-through to weaker signals).
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, ev *Event) (Identity, bool, error)
}

// Directory looks up users by their signaling artifacts. Implemented by
// credcache.PostgresStore in production.
type Directory interface {
	UserByClientIdentity(ctx context.Context, identity string) (userID, workspaceID string, err error)
	UsersByNumber(ctx context.Context, number string) ([]credcache.Credentials, error)
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
}

// CredentialSource exposes the per-user provider secret needed for
// transport-signature verification. Implemented by the credential cache.
type CredentialSource interface {
	Credentials(ctx context.Context, userID string) (credcache.Credentials, error)
}

/* ===================== STRATEGIES ===================== */

// ClientIdentityStrategy attributes events whose originating party is a
// known internal signaling-client identity string.
type ClientIdentityStrategy struct {
	Dir Directory
}

func (s ClientIdentityStrategy) Name() string { return "client_identity" }

func (s ClientIdentityStrategy) Resolve(ctx context.Context, ev *Event) (Identity, bool, error) {
	if ev.Caller == "" {
		return Identity{}, false, nil
	}
	userID, workspaceID, err := s.Dir.UserByClientIdentity(ctx, ev.Caller)
	if err != nil {
		if errors.Is(err, credcache.ErrNotConfigured) {
			return Identity{}, false, nil
		}
		return Identity{}, false, fmt.Errorf("client identity lookup: %w", err)
	}
	return Identity{UserID: userID, WorkspaceID: workspaceID}, true, nil
}

// DispatchedCallStrategy attributes events whose provider call identifier
// matches an attempt we previously dispatched.
type DispatchedCallStrategy struct {
	Attempts attempt.Repository
}

func (s DispatchedCallStrategy) Name() string { return "dispatched_call" }

func (s DispatchedCallStrategy) Resolve(ctx context.Context, ev *Event) (Identity, bool, error) {
	if ev.ProviderCallID == "" {
		return Identity{}, false, nil
	}
	a, err := s.Attempts.GetByProviderCallID(ctx, ev.ProviderCallID)
	if err != nil {
		if errors.Is(err, attempt.ErrNotFound) {
			return Identity{}, false, nil
		}
		return Identity{}, false, fmt.Errorf("dispatched call lookup: %w", err)
	}
	return Identity{UserID: a.UserID, WorkspaceID: a.WorkspaceID}, true, nil
}

// ProvisionedNumberStrategy attributes events by the destination number,
// but only when it is provisioned to exactly one user. Shared numbers are
// ambiguous and fall through.
type ProvisionedNumberStrategy struct {
	Dir Directory
}

func (s ProvisionedNumberStrategy) Name() string { return "provisioned_number" }

func (s ProvisionedNumberStrategy) Resolve(ctx context.Context, ev *Event) (Identity, bool, error) {
	if ev.To == "" {
		return Identity{}, false, nil
	}
	owners, err := s.Dir.UsersByNumber(ctx, ev.To)
	if err != nil {
		return Identity{}, false, fmt.Errorf("number lookup: %w", err)
	}
	if len(owners) != 1 {
		return Identity{}, false, nil
	}
	return Identity{UserID: owners[0].UserID, WorkspaceID: owners[0].WorkspaceID}, true, nil
}

// SignedTokenStrategy verifies the capability token embedded in the
// callback URL. A present-but-invalid token rejects outright: an attacker
// who fails signature verification must not be given a second chance
// through weaker signals.
type SignedTokenStrategy struct {
	Signer *TokenSigner
}

func (s SignedTokenStrategy) Name() string { return "signed_token" }

func (s SignedTokenStrategy) Resolve(ctx context.Context, ev *Event) (Identity, bool, error) {
	if !ev.Token.Present() {
		return Identity{}, false, nil
	}
	if err := s.Signer.Verify(ev.Token); err != nil {
		return Identity{}, false, err
	}
	// The token pins the user; the workspace is filled in by the pipeline
	// from the credential store.
	return Identity{UserID: ev.Token.UserID}, true, nil
}

/* ===================== PIPELINE ===================== */

// Pipeline composes strategies in fixed priority order, short-circuiting on
// the first success and failing closed on exhaustion.
type Pipeline struct {
	strategies []Strategy
	dir        Directory
	creds      CredentialSource
	log        *slog.Logger
}

func NewPipeline(dir Directory, attempts attempt.Repository, signer *TokenSigner, creds CredentialSource, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		strategies: []Strategy{
			ClientIdentityStrategy{Dir: dir},
			DispatchedCallStrategy{Attempts: attempts},
			ProvisionedNumberStrategy{Dir: dir},
			SignedTokenStrategy{Signer: signer},
		},
		dir:   dir,
		creds: creds,
		log:   log,
	}
}

// Resolve attributes the event to exactly one tenant/user or rejects. The
// returned error is always ErrRejected (wrapped with the internal reason)
// so callers cannot leak the failing check.
func (p *Pipeline) Resolve(ctx context.Context, ev *Event) (Resolution, error) {
	var res Resolution
	for _, st := range p.strategies {
		id, ok, err := st.Resolve(ctx, ev)
		if err != nil {
			return Resolution{}, fmt.Errorf("%w: strategy %s: %v", ErrRejected, st.Name(), err)
		}
		if ok {
			res = Resolution{
				Identity:       id,
				Strategy:       st.Name(),
				TokenValidated: st.Name() == "signed_token",
			}
			break
		}
	}
	if res.Strategy == "" {
		return Resolution{}, fmt.Errorf("%w: no strategy resolved an identity", ErrRejected)
	}

	// Tenant cross-check: a tenant hint in the payload must agree with a
	// verified membership, or someone is injecting events across tenants.
	if ev.WorkspaceHint != "" {
		ok, err := p.dir.IsMember(ctx, ev.WorkspaceHint, res.Identity.UserID)
		if err != nil {
			return Resolution{}, fmt.Errorf("%w: membership check: %v", ErrRejected, err)
		}
		if !ok {
			return Resolution{}, fmt.Errorf("%w: user %s is not a member of hinted workspace", ErrRejected, res.Identity.UserID)
		}
		if res.Identity.WorkspaceID == "" {
			res.Identity.WorkspaceID = ev.WorkspaceHint
		}
	}

	// Defense in depth: when the winning signal was not the signed token,
	// the provider's transport signature must verify under the resolved
	// user's secret. Token-validated requests skip this; see signature.go.
	if !res.TokenValidated {
		creds, err := p.creds.Credentials(ctx, res.Identity.UserID)
		if err != nil {
			return Resolution{}, fmt.Errorf("%w: credentials for signature check: %v", ErrRejected, err)
		}
		if !ValidTransportSignature(creds.AuthToken, ev.RequestURL, ev.Form, ev.TransportSignature) {
			return Resolution{}, fmt.Errorf("%w: transport signature mismatch", ErrRejected)
		}
		if res.Identity.WorkspaceID == "" {
			res.Identity.WorkspaceID = creds.WorkspaceID
		}
	} else if res.Identity.WorkspaceID == "" {
		if creds, err := p.creds.Credentials(ctx, res.Identity.UserID); err == nil {
			res.Identity.WorkspaceID = creds.WorkspaceID
		}
	}

	return res, nil
}
