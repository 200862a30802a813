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

	"github.com/odyssey-erp/restopos/internal/app"
	"github.com/odyssey-erp/restopos/internal/bank"
	jobmetrics "github.com/odyssey-erp/restopos/internal/jobs"
	"github.com/odyssey-erp/restopos/internal/observability"
	"github.com/odyssey-erp/restopos/internal/platform/cache"
	"github.com/odyssey-erp/restopos/internal/platform/db"
	"github.com/odyssey-erp/restopos/internal/shared"
	"github.com/odyssey-erp/restopos/internal/stock"
	"github.com/odyssey-erp/restopos/jobs"
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	observed := observability.NewMetrics()
	metrics := jobmetrics.NewMetrics(observed.Registerer())
	auditLogger := shared.NewAuditLogger(pool)
	locker := shared.NewLocker(redisClient, cfg.LockTTL, logger)

	bankService := bank.NewService(bank.NewRepository(pool), auditLogger, logger, observed)
	catalog := stock.NewCatalogRepository(pool)
	stockService := stock.NewService(stock.NewRepository(pool), stock.ServiceConfig{
		Catalog: catalog,
		Flags:   stock.NewCategoryCache(redisClient, cfg.CategoryCacheTTL, catalog),
		Audit:   auditLogger,
		Logger:  logger,
		Metrics: observed,
	})

	replayJob := jobs.NewBankReplayJob(bankService, locker, logger, metrics)
	reconcileJob := jobs.NewStockReconcileJob(stockService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, metrics)

	replayTask, err := jobs.NewBankReplayTask(jobs.BankReplayPayload{})
	if err != nil {
		logger.Error("build replay task", slog.Any("error", err))
		os.Exit(1)
	}
	reconcileTask, err := jobs.NewStockReconcileTask(jobs.StockReconcilePayload{})
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBankReplay, Handler: replayJob.Handle},
			{Type: jobs.TaskStockReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BankReplayCron, Task: replayTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.StockReconcileCron, Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: observed.Handler(), ReadTimeout: cfg.AppReadTimeout}
	go func() {
		logger.Info("starting worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
