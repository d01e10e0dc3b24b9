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

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-wms/internal/app"
	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-wms/internal/jobs"
	"github.com/odyssey-erp/odyssey-wms/internal/observability"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/db"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
	"github.com/odyssey-erp/odyssey-wms/internal/webhooks"
	"github.com/odyssey-erp/odyssey-wms/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{
		MaxConns:        cfg.PGMaxConns,
		MinConns:        cfg.PGMinConns,
		MaxConnLifetime: cfg.PGMaxConnLifetime,
	})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	queue := jobs.NewClient(redisOpts)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	webhookRepo := webhooks.NewRepository(pool)
	webhookService := webhooks.NewService(webhookRepo, webhooks.NewSubscriptionCache(redisClient, cfg.WebhookCacheTTL), logger)
	deliverer := webhooks.NewDeliverer(webhookRepo, webhooks.DelivererConfig{
		Timeout:         cfg.WebhookTimeout,
		UserAgent:       cfg.WebhookUserAgent,
		BreakerFailures: cfg.WebhookBreakerFailures,
		BreakerCooldown: cfg.WebhookBreakerCooldown,
	}, logger)

	inventoryService := inventory.NewService(
		inventory.NewRepository(pool),
		webhooks.NewDispatcher(queue, logger),
		logger,
		inventory.ServiceConfig{ExpiryWindowDays: cfg.BatchExpiryWindowDays},
		inventory.WithMetrics(inventory.NewMetrics(metrics.Registerer())),
	)

	fanoutJob := &jobs.WebhookFanoutJob{
		Subscriptions: webhookService,
		Enqueuer:      queue,
		MaxRetry:      cfg.WebhookMaxRetry,
		Logger:        logger,
		Metrics:       jobMetrics,
	}
	deliveryJob := &jobs.WebhookDeliveryJob{
		Subscriptions: webhookService,
		Deliverer:     deliverer,
		Logger:        logger,
		Metrics:       jobMetrics,
	}
	expiryJob := &jobs.BatchExpiryJob{Inventory: inventoryService, Logger: logger, Metrics: jobMetrics}
	cleanupJob := &jobs.IdempotencyCleanupJob{
		Store:     shared.NewIdempotencyStore(pool),
		Retention: cfg.IdempotencyRetention,
		Logger:    logger,
		Metrics:   jobMetrics,
	}

	now := time.Now()
	expiryTask, err := jobs.NewBatchExpiryScanTask(now)
	if err != nil {
		logger.Error("build batch expiry task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(now)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: webhooks.TaskFanout, Handler: fanoutJob.Handle},
			{Type: webhooks.TaskDeliver, Handler: deliveryJob.Handle},
			{Type: jobs.TaskBatchExpiryScan, Handler: expiryJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BatchExpiryCron, Task: expiryTask},
			{Spec: cfg.IdempotencyCron, Task: cleanupTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
