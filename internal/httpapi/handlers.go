package httpapi

import (
	"errors"
	"io"
	"net/http"

	"dialer-platform/internal/attempt"
	"dialer-platform/internal/broadcast"
	"dialer-platform/internal/credcache"
	"dialer-platform/internal/dialer"
	"dialer-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Dialer   *dialer.Manager
	Attempts *attempt.Service
	Creds    *credcache.Cache
	Hub      *broadcast.Hub
}

// headerUserID carries the acting user until the auth gateway in front of
// this service injects a verified identity.
const headerUserID = "X-User-Id"

func actingUser(c *gin.Context) string {
	return c.GetHeader(headerUserID)
}

// --- Sessions ---

type startSessionRequest struct {
	WorkspaceID string          `json:"workspace_id"`
	Settings    dialer.Settings `json:"settings"`
}

func (h Handlers) StartSession(c *gin.Context) {
	userID := actingUser(c)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user identity required"})
		return
	}
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.WorkspaceID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "workspace_id required"})
		return
	}

	sess, err := h.Dialer.Start(c.Request.Context(), req.WorkspaceID, userID, req.Settings)
	if err != nil {
		if errors.Is(err, dialer.ErrSessionActive) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "session already active"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h Handlers) StopSession(c *gin.Context) {
	counters, err := h.Dialer.Stop(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		if errors.Is(err, dialer.ErrSessionNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stop failed"})
		return
	}
	c.JSON(http.StatusOK, counters)
}

func (h Handlers) SessionCounters(c *gin.Context) {
	counters, err := h.Dialer.Counters(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, counters)
}

// --- Attempts ---

func (h Handlers) GetAttempt(c *gin.Context) {
	a, err := h.Attempts.Get(c.Request.Context(), c.Param("attempt_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) HangupAttempt(c *gin.Context) {
	userID := actingUser(c)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user identity required"})
		return
	}
	a, err := h.Dialer.Hangup(c.Request.Context(), userID, c.Param("attempt_id"))
	if err != nil {
		if errors.Is(err, attempt.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
			return
		}
		logger.FromGin(c).Error("hangup failed", "attempt_id", c.Param("attempt_id"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "hangup failed"})
		return
	}
	c.JSON(http.StatusOK, a)
}

type annotateRequest struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

func (h Handlers) AnnotateAttempt(c *gin.Context) {
	var req annotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Summary == "" && len(req.Tags) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "summary or tags required"})
		return
	}
	a, err := h.Attempts.Annotate(c.Request.Context(), c.Param("attempt_id"), req.Summary, req.Tags)
	if err != nil {
		if errors.Is(err, attempt.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "annotate failed"})
		return
	}
	c.JSON(http.StatusOK, a)
}

// --- Voice token ---

// VoiceToken mints the client SDK access token for the acting user. First
// issuance also provisions the provider-side application mapping.
func (h Handlers) VoiceToken(c *gin.Context) {
	userID := actingUser(c)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user identity required"})
		return
	}
	tok, err := h.Creds.IssueAccessToken(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, credcache.ErrNotConfigured) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "signaling credentials not configured"})
			return
		}
		logger.FromGin(c).Error("voice token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}

// --- Event stream ---

// StreamEvents pushes the acting user's call-state updates as server-sent
// events until the client disconnects. Dropped updates surface as gap=true
// on the next delivered event.
func (h Handlers) StreamEvents(c *gin.Context) {
	userID := actingUser(c)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user identity required"})
		return
	}

	ch, cancel := h.Hub.Subscribe(userID)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case u, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("call_update", u)
			return true
		}
	})
}
