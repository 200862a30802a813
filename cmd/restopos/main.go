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

	"github.com/odyssey-erp/restopos/cmd/restopos/cli"
	"github.com/odyssey-erp/restopos/internal/app"
	"github.com/odyssey-erp/restopos/internal/bank"
	"github.com/odyssey-erp/restopos/internal/billing"
	"github.com/odyssey-erp/restopos/internal/observability"
	"github.com/odyssey-erp/restopos/internal/payments"
	"github.com/odyssey-erp/restopos/internal/platform/cache"
	"github.com/odyssey-erp/restopos/internal/platform/db"
	"github.com/odyssey-erp/restopos/internal/purchasing"
	"github.com/odyssey-erp/restopos/internal/shared"
	"github.com/odyssey-erp/restopos/internal/stock"
	"github.com/odyssey-erp/restopos/jobs"
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

	if len(os.Args) > 1 {
		if err := cli.Run(ctx, cfg, os.Args[1:], os.Stdout); err != nil {
			logger.Error("command failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	locker := shared.NewLocker(redisClient, cfg.LockTTL, logger)

	bankService := bank.NewService(bank.NewRepository(dbpool), auditLogger, logger, metrics)

	catalog := stock.NewCatalogRepository(dbpool)
	stockService := stock.NewService(stock.NewRepository(dbpool), stock.ServiceConfig{
		Catalog: catalog,
		Flags:   stock.NewCategoryCache(redisClient, cfg.CategoryCacheTTL, catalog),
		Audit:   auditLogger,
		Logger:  logger,
		Metrics: metrics,
	})

	billingService := billing.NewService(billing.NewRepository(dbpool), billing.ServiceConfig{
		Stock:   stockService,
		Kitchen: billing.NewKitchenOrders(dbpool),
		Locker:  locker,
		Audit:   auditLogger,
		Logger:  logger,
		Metrics: metrics,
	})

	purchasingService := purchasing.NewService(purchasing.NewRepository(dbpool), stockService, auditLogger, logger, metrics)

	paymentsService := payments.NewService(payments.NewRepository(dbpool), payments.ServiceConfig{
		Idempotency: idempotencyStore,
		Locker:      locker,
		Audit:       auditLogger,
		Logger:      logger,
		Metrics:     metrics,
	})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Verifier:          app.NewTokenVerifier(cfg.JWTSecret),
		BankHandler:       bank.NewHandler(logger, bankService),
		StockHandler:      stock.NewHandler(logger, stockService),
		BillingHandler:    billing.NewHandler(logger, billingService),
		PurchasingHandler: purchasing.NewHandler(logger, purchasingService),
		PaymentsHandler:   payments.NewHandler(logger, paymentsService),
		JobHandler:        jobs.NewHandler(inspector, jobClient, logger),
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
