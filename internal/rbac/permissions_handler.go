package rbac

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/beacon-dash/beacon/internal/platform/httpx"
	"github.com/beacon-dash/beacon/internal/shared"
)

// PermissionsHandler exposes the permission catalog.
type PermissionsHandler struct {
	service *Service
	rbac    Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(service *Service, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{service: service, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPermissionRead))
		r.Get("/", h.listPermissions)
		r.Get("/effective", h.effectivePermissions)
	})
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": h.service.ListPermissions()})
}

// effectivePermissions describes one role, or the caller's role when none is given.
func (h *PermissionsHandler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("role"))
	if raw == "" {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
		raw = string(p.Role)
	}
	role, err := h.service.ParseRole(raw)
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown role")
		return
	}
	httpx.JSON(w, http.StatusOK, DescribeRole(h.service.Engine(), role))
}
