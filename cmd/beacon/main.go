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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/beacon-dash/beacon/internal/analytics"
	analytichttp "github.com/beacon-dash/beacon/internal/analytics/http"
	"github.com/beacon-dash/beacon/internal/app"
	"github.com/beacon-dash/beacon/internal/audit"
	audithttp "github.com/beacon-dash/beacon/internal/audit/http"
	"github.com/beacon-dash/beacon/internal/auth"
	"github.com/beacon-dash/beacon/internal/content"
	"github.com/beacon-dash/beacon/internal/notify"
	"github.com/beacon-dash/beacon/internal/observability"
	"github.com/beacon-dash/beacon/internal/platform/cache"
	"github.com/beacon-dash/beacon/internal/platform/db"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/roles"
	"github.com/beacon-dash/beacon/internal/security"
	"github.com/beacon-dash/beacon/internal/settings"
	"github.com/beacon-dash/beacon/internal/shared"
	"github.com/beacon-dash/beacon/internal/users"
	"github.com/beacon-dash/beacon/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	catalog, err := app.BootstrapCatalog(ctx, cfg, rbac.NewRepository(dbpool), metrics, logger)
	if err != nil {
		logger.Error("load role catalog", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("role catalog ready",
		slog.String("source", cfg.CatalogSource),
		slog.Int("roles", len(catalog.Holder.Engine().Catalog().Roles())))

	principals := rbac.NewPrincipalResolver(rbac.NewRepository(dbpool), cfg.PrincipalCacheSize, cfg.PrincipalCacheTTL)
	rbacMiddleware := rbac.Middleware{
		Holder:     catalog.Holder,
		Principals: principals,
		Logger:     logger,
		Observer:   metrics,
	}

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	recorder := audit.NewRecorder(dbpool)

	blacklist := security.NewBlacklist(security.NewPGBlacklistStore(dbpool), cfg.BlacklistCacheTTL)
	guard := security.NewLoginGuard(redisClient, blacklist, security.GuardConfig{
		MaxAttempts: cfg.LoginMaxAttempts,
		Window:      cfg.LoginWindow,
		BanTTL:      cfg.BlacklistTTL,
	}, logger)

	authService := auth.NewService(auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager, guard, recorder, rbacMiddleware)

	usersService := users.NewService(users.NewRepository(dbpool), catalog.Holder, recorder, principals, logger)
	usersHandler := users.NewHandler(logger, usersService, rbacMiddleware)

	rolesService := roles.NewService(roles.NewRepository(dbpool, recorder), catalog.Service, principals, recorder, logger)
	rolesHandler := roles.NewHandler(logger, rolesService, rbacMiddleware)
	permissionsHandler := rbac.NewPermissionsHandler(catalog.Service, rbacMiddleware)

	contentService := content.NewService(content.NewRepository(dbpool), catalog.Holder, recorder, logger)
	contentHandler := content.NewHandler(logger, contentService, rbacMiddleware)

	securityHandler := security.NewHandler(logger, blacklist, recorder, rbacMiddleware)

	auditRepo := audit.NewRepository(dbpool)
	auditHandler := audithttp.NewHandler(logger, audit.NewService(auditRepo), audit.CSVExporter{}, rbacMiddleware)

	settingsService := settings.NewService(settings.NewPGStore(dbpool), recorder, logger)
	settingsHandler := settings.NewHandler(logger, settingsService, rbacMiddleware)

	hub := notify.NewHub(cfg.NotifyMaxConnections, metrics, logger)
	bridge := notify.NewBridge(redisClient, cfg.NotifyChannel, hub, logger)
	notifyService := notify.NewService(
		notify.NewPGStore(dbpool),
		bridge,
		shared.NewIdempotencyStore(dbpool),
		recorder,
		catalog.Holder.Engine,
		logger,
	)
	notifyHandler := notify.NewHandler(logger, notifyService, hub, rbacMiddleware, app.OriginChecker(cfg.AllowedOrigins))

	analyticsCache := analytics.NewCache(redisClient, cfg.AnalyticsCacheTTL)
	analyticsService := analytics.NewService(analytics.NewRepository(dbpool, auditRepo), analyticsCache)
	analyticsHandler := analytichttp.NewHandler(logger, analyticsService, rbacMiddleware)

	inspector := asynq.NewInspector(cfg.Redis().AsynqOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger, rbacMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Blacklist:          blacklist,
		Metrics:            metrics,
		Ready:              readiness(dbpool, redisClient),
		AuthHandler:        authHandler,
		UsersHandler:       usersHandler,
		RolesHandler:       rolesHandler,
		PermissionsHandler: permissionsHandler,
		ContentHandler:     contentHandler,
		SecurityHandler:    securityHandler,
		AuditHandler:       auditHandler,
		SettingsHandler:    settingsHandler,
		NotifyHandler:      notifyHandler,
		AnalyticsHandler:   analyticsHandler,
		JobHandler:         jobHandler,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := bridge.Run(gctx, nil)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("notification bridge", slog.Any("error", err))
		}
		return nil
	})
	if catalog.Watcher != nil {
		g.Go(func() error {
			err := catalog.Watcher.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("catalog watcher", slog.Any("error", err))
			}
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
			return err
		}
		return nil
	})

	<-gctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	stop()
	if err := g.Wait(); err != nil {
		os.Exit(1)
	}
}

func readiness(pool *pgxpool.Pool, client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return err
		}
		return client.Ping(ctx).Err()
	}
}
