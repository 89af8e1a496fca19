package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialer-platform/internal/attempt"
	"dialer-platform/internal/audit"
	"dialer-platform/internal/broadcast"
	"dialer-platform/internal/config"
	"dialer-platform/internal/credcache"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/telephony"
	"dialer-platform/internal/webhook"
	"dialer-platform/pkg/logger"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Persistence
	attemptRepo := attempt.NewPostgresRepo(db)
	credStore := credcache.NewPostgresStore(db)
	leadSource := leads.NewPostgresSource(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	// Platform-account client, used for readiness probing only; per-user
	// clients come out of the credential cache.
	platform := telephony.NewRestProvider(cfg.Provider.AccountSID, cfg.Provider.AuthToken, cfg.Provider.BaseURL)

	creds := credcache.New(
		credStore,
		credcache.RestProvisioner{
			ProviderBaseURL: cfg.Provider.BaseURL,
			VoiceURL:        cfg.Webhook.PublicBaseURL + "/webhooks/voice/status",
		},
		nil,
		cfg.Dialer.CredentialTTL,
		log,
	)

	hub := broadcast.NewHub()
	signer := webhook.NewTokenSigner(cfg.Webhook.TokenSecret, cfg.Webhook.TokenTTL)

	// The manager and the attempt service reference each other through
	// lifecycle hooks; the manager is built first and patched after.
	manager := dialer.NewManager(dialer.Deps{
		Leads:         leadSource,
		Creds:         creds,
		Repo:          attemptRepo,
		Guard:         dialer.NewRedisLineGuard(rdb, cfg.Dialer.LineGuardTTL),
		Tokens:        signer,
		PublicBaseURL: cfg.Webhook.PublicBaseURL,
		Log:           log,
	}, auditSvc)
	attempts := attempt.NewService(attemptRepo, hub, manager.Hooks(), log)
	manager.SetAttempts(attempts)

	webhookHandler := webhook.Handler{
		Pipeline:      webhook.NewPipeline(credStore, attemptRepo, signer, creds, log),
		Attempts:      attempts,
		Repo:          attemptRepo,
		Creds:         creds,
		Audit:         auditSvc,
		PublicBaseURL: cfg.Webhook.PublicBaseURL,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		webhook: webhookHandler,
		api: httpapi.Handlers{
			Dialer:   manager,
			Attempts: attempts,
			Creds:    creds,
			Hub:      hub,
		},
		readiness: readiness{db: db, rdb: rdb, provider: platform},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // event streams stay open indefinitely
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	manager.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
