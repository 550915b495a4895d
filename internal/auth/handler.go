package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/beacon-dash/beacon/internal/audit"
	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/platform/httpx"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/security"
	"github.com/beacon-dash/beacon/internal/shared"
)

// LoginGuard throttles failed logins per client address.
type LoginGuard interface {
	Check(ctx context.Context, ip string) error
	RecordFailure(ctx context.Context, ip string) (bool, error)
	Reset(ctx context.Context, ip string) error
}

// AuditRecorder records authentication events.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	guard          LoginGuard
	audit          AuditRecorder
	rbac           rbac.Middleware
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, guard LoginGuard, recorder AuditRecorder, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		guard:          guard,
		audit:          recorder,
		rbac:           rbac,
		validator:      httpx.NewValidator(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.handleCSRF)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.With(h.rbac.Authenticate).Get("/me", h.handleMe)
}

func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrfManager.EnsureToken(shared.SessionFromContext(r.Context()))
	if err != nil {
		h.logger.Error("issue csrf token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := security.ClientIP(r)
	if err := h.guard.Check(ctx, ip); err != nil {
		if errors.Is(err, shared.ErrLoginBlocked) {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "too many failed logins from this address")
			return
		}
		h.logger.Warn("login guard check", slog.Any("error", err))
	}

	var form loginRequest
	if err := httpx.DecodeJSON(w, r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}

	user, err := h.service.Authenticate(ctx, form.Email, form.Password)
	if err != nil && !errors.Is(err, shared.ErrInvalidCredentials) {
		h.logger.Error("authenticate", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if err != nil {
		blocked, gerr := h.guard.RecordFailure(ctx, ip)
		if gerr != nil {
			h.logger.Warn("record login failure", slog.Any("error", gerr))
		}
		h.record(ctx, 0, "auth.login_failed", form.Email, ip, map[string]any{"blocked": blocked})
		if blocked {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "too many failed logins from this address")
			return
		}
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid email or password")
		return
	}
	if err := h.guard.Reset(ctx, ip); err != nil {
		h.logger.Warn("reset login guard", slog.Any("error", err))
	}

	sess := shared.SessionFromContext(ctx)
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	h.sessionManager.Renew(sess)
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	sess.Delete(shared.CSRFSessionKey)
	token, err := h.csrfManager.EnsureToken(sess)
	if err != nil {
		h.logger.Error("issue csrf token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(ctx, sess.ID, user.ID, expiresAt, ip, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	h.record(ctx, user.ID, "auth.login", strconv.FormatInt(user.ID, 10), ip, nil)

	principal := rbac.Principal{UserID: user.ID, Email: user.Email, Name: user.Name, Role: user.Role, Active: user.IsActive}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user":       h.describe(principal),
		"csrf_token": token,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		if id, err := strconv.ParseInt(sess.User(), 10, 64); err == nil {
			h.record(r.Context(), id, "auth.logout", sess.User(), security.ClientIP(r), nil)
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	httpx.JSON(w, http.StatusOK, h.describe(p))
}

// describe lists what the dashboard may render for p. It is advisory only;
// every endpoint re-checks on the server.
func (h *Handler) describe(p rbac.Principal) Me {
	engine := h.rbac.Engine()
	me := Me{
		ID:          p.UserID,
		Email:       p.Email,
		Name:        p.Name,
		Role:        p.Role,
		Level:       engine.RoleLevel(p.Role),
		Permissions: engine.RolePermissions(p.Role),
		Manageable:  []authz.Role{},
	}
	if me.Permissions == nil {
		me.Permissions = []authz.Permission{}
	}
	if !engine.Catalog().Has(p.Role) {
		return me
	}
	for _, role := range engine.Catalog().Roles() {
		if engine.ValidateRoleAssignment(p.Role, role) {
			me.Manageable = append(me.Manageable, role)
		}
	}
	return me
}

func (h *Handler) record(ctx context.Context, actorID int64, action, entityID, ip string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, audit.Entry{ActorID: actorID, Action: action, Entity: "session", EntityID: entityID, IP: ip, Meta: meta}); err != nil {
		h.logger.Warn("audit auth event", slog.String("action", action), slog.Any("error", err))
	}
}
