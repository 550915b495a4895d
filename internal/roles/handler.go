package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/platform/httpx"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/security"
	"github.com/beacon-dash/beacon/internal/shared"
)

// Handler manages role management endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validate: httpx.NewValidator()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRoleRead))
		r.Get("/", h.listRoles)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRoleAssign, shared.PermUserCreate))
		r.Get("/manageable", h.listManageable)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermRoleAssign))
		r.Post("/assign", h.assignRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermRoleUpdate))
		r.Put("/{role}/permissions", h.updatePermissions)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.PrincipalFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": h.service.ListRoles(actor)})
}

func (h *Handler) listManageable(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.PrincipalFromContext(r.Context())
	roles := h.service.ManageableRoles(actor)
	if roles == nil {
		roles = []Role{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var in Assignment
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}
	actor, _ := rbac.PrincipalFromContext(r.Context())
	result, err := h.service.AssignRole(r.Context(), actor, in, security.ClientIP(r))
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type permissionsRequest struct {
	Permissions []string `json:"permissions" validate:"required,dive,required,max=128"`
}

func (h *Handler) updatePermissions(w http.ResponseWriter, r *http.Request) {
	var in permissionsRequest
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}
	perms := make([]authz.Permission, 0, len(in.Permissions))
	for _, p := range in.Permissions {
		perms = append(perms, authz.Permission(strings.TrimSpace(p)))
	}
	actor, _ := rbac.PrincipalFromContext(r.Context())
	role, err := h.service.UpdatePermissions(r.Context(), actor, chi.URLParam(r, "role"), perms)
	if err != nil {
		h.fail(w, "update role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var cfgErr *authz.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Catalog", cfgErr.Error())
	case errors.Is(err, rbac.ErrCatalogReadOnly):
		httpx.Problem(w, http.StatusConflict, "Catalog Read-Only", "the role catalog is not editable in this deployment")
	default:
		if !errors.Is(err, httpx.ErrForbidden) && !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrNotFound) {
			h.logger.Error(op, slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
