package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/prorab-app/prorab/internal/app"
	"github.com/prorab-app/prorab/internal/capability"
	"github.com/prorab-app/prorab/internal/confirm"
	"github.com/prorab-app/prorab/internal/identity"
	"github.com/prorab-app/prorab/internal/observability"
	"github.com/prorab-app/prorab/internal/platform/cache"
	"github.com/prorab-app/prorab/internal/platform/db"
	"github.com/prorab-app/prorab/internal/request"
	"github.com/prorab-app/prorab/internal/shared"
	"github.com/prorab-app/prorab/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "prorab_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	identityRepo := identity.NewRepository(dbpool)
	identityService := identity.NewService(identityRepo, auditLogger)
	identityHandler := identity.NewHandler(logger, identityService, sessionManager, csrfManager)

	capabilityStore := capability.NewPGStore(dbpool)

	// The cache reads from the remote capability service when one is
	// configured, otherwise from the local store.
	var source capability.Source = capabilityStore
	if cfg.CapabilityAPIBaseURL != "" {
		source = capability.NewHTTPSource(cfg.CapabilityAPIBaseURL, cfg.CapabilityAPIToken, 10*time.Second)
	}

	capabilityCache := capability.NewCache(source, logger, cfg.CapabilityStaleWindow)
	capabilityCache.SetMetrics(metrics)
	engine := capability.NewEngine(capabilityCache, logger, metrics)

	scheduler := capability.NewScheduler(capabilityCache, logger,
		cfg.CapabilityRefreshInterval, cfg.VisibilityDebounce, cfg.VisibilityCooldown)
	identityService.Subscribe(scheduler)
	go scheduler.Run(ctx)

	notifier, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	capabilityService := capability.NewService(capabilityStore, capabilityCache, auditLogger)
	capabilityService.SetReindexer(notifier)
	capabilityHandler := capability.NewHandler(logger, capabilityService, engine, identityService)

	requestRepo := request.NewRepository(dbpool)
	requestService := request.NewService(requestRepo, engine, notifier, auditLogger, idempotencyStore, logger, metrics)
	confirmations := confirm.NewManager(cfg.ConfirmTTL)
	requestHandler := request.NewHandler(logger, requestService, confirmations, identityService)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SessionManager:    sessionManager,
		CSRFManager:       csrfManager,
		IdentityHandler:   identityHandler,
		CapabilityHandler: capabilityHandler,
		RequestHandler:    requestHandler,
		Visibility:        scheduler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
