package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	analytichttp "github.com/beacon-dash/beacon/internal/analytics/http"
	audithttp "github.com/beacon-dash/beacon/internal/audit/http"
	"github.com/beacon-dash/beacon/internal/auth"
	"github.com/beacon-dash/beacon/internal/content"
	"github.com/beacon-dash/beacon/internal/notify"
	"github.com/beacon-dash/beacon/internal/observability"
	"github.com/beacon-dash/beacon/internal/platform/httpx"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/roles"
	"github.com/beacon-dash/beacon/internal/security"
	"github.com/beacon-dash/beacon/internal/settings"
	"github.com/beacon-dash/beacon/internal/shared"
	"github.com/beacon-dash/beacon/internal/users"
	"github.com/beacon-dash/beacon/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Blacklist      security.BlockChecker
	Metrics        *observability.Metrics
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error

	AuthHandler        *auth.Handler
	UsersHandler       *users.Handler
	RolesHandler       *roles.Handler
	PermissionsHandler *rbac.PermissionsHandler
	ContentHandler     *content.Handler
	SecurityHandler    *security.Handler
	AuditHandler       *audithttp.Handler
	SettingsHandler    *settings.Handler
	NotifyHandler      *notify.Handler
	AnalyticsHandler   *analytichttp.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with Beacon defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Blacklist:      params.Blacklist,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Ready(ctx); err != nil {
				params.Logger.Warn("readiness check failed", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "dependencies unavailable")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	scoped := func(mount func(chi.Router)) func(chi.Router) {
		return func(r chi.Router) {
			r.Use(requestScoped(params.Config)...)
			mount(r)
		}
	}

	if params.AuthHandler != nil {
		r.Route("/auth", scoped(params.AuthHandler.MountRoutes))
	}
	if params.UsersHandler != nil {
		r.Route("/users", scoped(params.UsersHandler.MountRoutes))
	}
	if params.RolesHandler != nil {
		r.Route("/roles", scoped(params.RolesHandler.MountRoutes))
	}
	if params.PermissionsHandler != nil {
		r.Route("/permissions", scoped(params.PermissionsHandler.MountRoutes))
	}
	if params.ContentHandler != nil {
		r.Route("/content", scoped(params.ContentHandler.MountRoutes))
	}
	if params.SecurityHandler != nil {
		r.Route("/security", scoped(params.SecurityHandler.MountRoutes))
	}
	if params.AuditHandler != nil {
		r.Route("/audit", scoped(params.AuditHandler.MountRoutes))
	}
	if params.SettingsHandler != nil {
		r.Route("/settings", scoped(params.SettingsHandler.MountRoutes))
	}
	if params.NotifyHandler != nil {
		r.Route("/notifications", func(r chi.Router) {
			// The websocket outlives request timeouts.
			params.NotifyHandler.MountSocket(r)
			r.Group(scoped(params.NotifyHandler.MountRoutes))
		})
	}
	if params.AnalyticsHandler != nil {
		r.Route("/analytics", scoped(params.AnalyticsHandler.MountRoutes))
	}
	if params.JobHandler != nil {
		r.Route("/jobs", scoped(params.JobHandler.MountRoutes))
	}

	return r
}
