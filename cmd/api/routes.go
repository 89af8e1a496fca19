package main

import (
	"database/sql"
	"net/http"
	"time"

	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/telephony"
	"dialer-platform/internal/webhook"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type readiness struct {
	db       *sql.DB
	rdb      *redis.Client
	provider *telephony.RestProvider
}

type routeDeps struct {
	webhook   webhook.Handler
	api       httpapi.Handlers
	readiness readiness
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := utils.HealthCheck(ctx, d.readiness.db, 2*time.Second); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		if err := d.readiness.rdb.Ping(ctx).Err(); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
		if err := d.readiness.provider.HealthCheck(ctx); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "provider unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public). Identity resolution and signature checks
	// happen inside the handler; rejection is a uniform 403.
	r.POST("/webhooks/voice/status", d.webhook.HandleStatus)

	// API group. An auth gateway in front of this service injects the
	// verified X-User-Id header; handlers refuse requests without it.
	v1 := r.Group("/v1")
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", d.api.StartSession)
			sessions.GET("/:session_id", d.api.SessionCounters)
			sessions.POST("/:session_id/stop", d.api.StopSession)
		}

		attempts := v1.Group("/attempts")
		{
			attempts.GET("/:attempt_id", d.api.GetAttempt)
			attempts.POST("/:attempt_id/hangup", d.api.HangupAttempt)
			attempts.PATCH("/:attempt_id", d.api.AnnotateAttempt)
		}

		voice := v1.Group("/voice")
		{
			voice.POST("/token", d.api.VoiceToken)
		}

		v1.GET("/events/stream", d.api.StreamEvents)
	}
}
