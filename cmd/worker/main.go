package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/prorab-app/prorab/internal/app"
	"github.com/prorab-app/prorab/internal/capability"
	jobmetrics "github.com/prorab-app/prorab/internal/jobs"
	"github.com/prorab-app/prorab/internal/platform/db"
	"github.com/prorab-app/prorab/internal/shared"
	"github.com/prorab-app/prorab/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	idempotencyStore := shared.NewIdempotencyStore(pool)
	metrics := jobmetrics.NewMetrics(nil)

	// The worker keeps its own capability cache so reindex tasks stay
	// functional when the web process is down.
	capabilityStore := capability.NewPGStore(pool)
	var source capability.Source = capabilityStore
	if cfg.CapabilityAPIBaseURL != "" {
		source = capability.NewHTTPSource(cfg.CapabilityAPIBaseURL, cfg.CapabilityAPIToken, 10*time.Second)
	}
	capabilityCache := capability.NewCache(source, logger, cfg.CapabilityStaleWindow)

	reindexTask, err := jobs.NewCapabilityReindexTask(false)
	if err != nil {
		logger.Error("build reindex task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask := jobs.NewIdempotencyCleanupTask()

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStageNotify, Handler: jobs.NewStageNotifyHandler(logger, nil)},
			{Type: jobs.TaskCapabilityReindex, Handler: jobs.NewCapabilityReindexHandler(logger, capabilityCache, metrics)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(logger, idempotencyStore, metrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: reindexTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 2 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	// Liveness endpoint for orchestration probes, backed by queue depth.
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	router := chi.NewRouter()
	jobs.NewHandler(inspector, logger).MountRoutes(router)
	healthServer := &http.Server{Addr: cfg.WorkerAddr, Handler: router}
	go func() {
		logger.Info("starting worker health server", slog.String("addr", cfg.WorkerAddr))
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker health server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
