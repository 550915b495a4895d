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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beacon-dash/beacon/internal/analytics"
	"github.com/beacon-dash/beacon/internal/app"
	"github.com/beacon-dash/beacon/internal/audit"
	jobmetrics "github.com/beacon-dash/beacon/internal/jobs"
	"github.com/beacon-dash/beacon/internal/notify"
	"github.com/beacon-dash/beacon/internal/platform/cache"
	"github.com/beacon-dash/beacon/internal/platform/db"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/security"
	"github.com/beacon-dash/beacon/internal/shared"
	"github.com/beacon-dash/beacon/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	catalog, err := app.BootstrapCatalog(ctx, cfg, rbac.NewRepository(pool), nil, logger)
	if err != nil {
		logger.Error("load role catalog", slog.Any("error", err))
		os.Exit(1)
	}

	recorder := audit.NewRecorder(pool)
	auditRepo := audit.NewRepository(pool)
	blacklist := security.NewBlacklist(security.NewPGBlacklistStore(pool), cfg.BlacklistCacheTTL)
	analyticsService := analytics.NewService(
		analytics.NewRepository(pool, auditRepo),
		analytics.NewCache(redisClient, cfg.AnalyticsCacheTTL),
	)
	// The bridge fans system notifications out to every API instance.
	notifyService := notify.NewService(
		notify.NewPGStore(pool),
		notify.NewBridge(redisClient, cfg.NotifyChannel, nil, logger),
		shared.NewIdempotencyStore(pool),
		recorder,
		catalog.Holder.Engine,
		logger,
	)

	maintenance := &jobs.Maintenance{
		Blacklist: blacklist,
		Audit:     audit.NewService(auditRepo),
		Analytics: analyticsService,
		Notifier:  notifyService,
		Retention: cfg.AuditRetention,
		Logger:    logger,
		Metrics:   jobmetrics.NewMetrics(nil),
	}
	schedule, err := maintenance.Schedule()
	if err != nil {
		logger.Error("build schedule", slog.Any("error", err))
		os.Exit(1)
	}
	for i := range schedule {
		schedule[i].Options = append(schedule[i].Options, asynq.MaxRetry(3))
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cfg.Redis().AsynqOpt(),
		Logger:    logger,
		Handlers:  maintenance.Handlers(),
		Cron:      schedule,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("worker started", slog.Int("handlers", len(maintenance.Handlers())), slog.Int("cron", len(schedule)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
