package webhook

import (
	"errors"
	"net/http"
	"time"

	"dialer-platform/internal/attempt"
	"dialer-platform/internal/audit"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler is the HTTP boundary for provider callbacks:
// parse -> resolve identity -> typed event -> state machine -> side effects.
//
// Rejections are a uniform 403 with no detail; the internal reason goes to
// the security audit log. Illegal and duplicate transitions still get a
// 200, since the provider retries anything else and retries are exactly
// what the state machine is built to absorb.
type Handler struct {
	Pipeline *Pipeline
	Attempts *attempt.Service
	Repo     attempt.Repository
	Creds    CredentialSource
	Audit    *audit.Service

	PublicBaseURL string
	Now           func() time.Time
}

func (h Handler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Now == nil {
		h.Now = time.Now
	}

	ev, err := ParseStatusEvent(c.Request, h.PublicBaseURL)
	if err != nil {
		log.Warn("webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	res, err := h.Pipeline.Resolve(c.Request.Context(), ev)
	if err != nil {
		log.Warn("webhook rejected", "err", err, "provider_call_id", ev.ProviderCallID)
		_ = h.Audit.LogWebhookRejection(c.Request.Context(), c.ClientIP(), ev.ProviderCallID, err.Error())
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	ctx := c.Request.Context()
	a, err := h.Attempts.ApplyEvent(ctx, ev.ToStatusEvent())
	switch {
	case errors.Is(err, attempt.ErrUnknownProviderCallID) && ev.Direction == attempt.DirectionInbound:
		a, err = h.acceptInbound(c, ev, res)
		if err != nil {
			log.Error("inbound attempt create failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
	case errors.Is(err, attempt.ErrUnknownProviderCallID):
		// Resolved identity but no tracked attempt: nothing to reconcile.
		log.Warn("status event for untracked outbound call", "provider_call_id", ev.ProviderCallID)
		h.respond(c, telephony.Directive{Action: telephony.DirectiveAccept})
		return
	case err != nil:
		log.Error("event apply failed", "err", err, "provider_call_id", ev.ProviderCallID)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	h.respond(c, h.directiveFor(c, ev, res, a))
}

// acceptInbound creates the attempt record for a call leg that originated
// at the provider rather than from our dispatcher.
func (h Handler) acceptInbound(c *gin.Context, ev *Event, res Resolution) (*attempt.CallAttempt, error) {
	now := h.Now().UTC()
	a := &attempt.CallAttempt{
		AttemptID:      uuid.NewString(),
		ProviderCallID: ev.ProviderCallID,
		WorkspaceID:    res.Identity.WorkspaceID,
		UserID:         res.Identity.UserID,
		From:           ev.From,
		To:             ev.To,
		Direction:      attempt.DirectionInbound,
		State:          attempt.StateQueued,
		CreatedAt:      now,
	}
	if err := h.Repo.Create(c.Request.Context(), a); err != nil {
		if errors.Is(err, attempt.ErrDuplicateProviderCallID) {
			// Concurrent delivery beat us to it; reconcile normally.
			return h.Attempts.ApplyEvent(c.Request.Context(), ev.ToStatusEvent())
		}
		return nil, err
	}
	return h.Attempts.ApplyEvent(c.Request.Context(), ev.ToStatusEvent())
}

// directiveFor decides the signaling instruction returned to the provider.
// Inbound ringing connects the caller to the owning user's client; status
// callbacks for outbound legs get an empty acknowledgment.
func (h Handler) directiveFor(c *gin.Context, ev *Event, res Resolution, a *attempt.CallAttempt) telephony.Directive {
	if a != nil && a.Direction == attempt.DirectionInbound && !a.State.Terminal() {
		if creds, err := h.Creds.Credentials(c.Request.Context(), res.Identity.UserID); err == nil && creds.ClientIdentity != "" {
			return telephony.Directive{Action: telephony.DirectiveConnect, ConnectTo: creds.ClientIdentity}
		}
	}
	return telephony.Directive{Action: telephony.DirectiveAccept}
}

func (h Handler) respond(c *gin.Context, d telephony.Directive) {
	xml, err := telephony.Render(d)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "directive failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, xml)
}
