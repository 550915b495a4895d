package security

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/beacon-dash/beacon/internal/audit"
	"github.com/beacon-dash/beacon/internal/platform/httpx"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/shared"
)

// AuditRecorder records security changes.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Handler manages the blacklist endpoints.
type Handler struct {
	logger    *slog.Logger
	blacklist *Blacklist
	audit     AuditRecorder
	rbac      rbac.Middleware
	validate  *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, blacklist *Blacklist, recorder AuditRecorder, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, blacklist: blacklist, audit: recorder, rbac: rbac, validate: httpx.NewValidator()}
}

// MountRoutes registers security routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSecurityView, shared.PermSecurityManage))
		r.Get("/blacklist", h.listBlacklist)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermSecurityManage))
		r.Post("/blacklist", h.addBlacklist)
		r.Delete("/blacklist/{ip}", h.removeBlacklist)
	})
}

type blacklistRequest struct {
	IP         string `json:"ip" validate:"required,ip"`
	Reason     string `json:"reason" validate:"max=255"`
	TTLSeconds int64  `json:"ttl_seconds" validate:"gte=0"`
}

func (h *Handler) listBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.blacklist.List(r.Context())
	if err != nil {
		h.logger.Error("list blacklist", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if entries == nil {
		entries = []BlacklistEntry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) addBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}
	p, _ := rbac.PrincipalFromContext(r.Context())
	actor := p.UserID
	entry, err := h.blacklist.Add(r.Context(), req.IP, req.Reason, &actor, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, ErrInvalidIP) {
			httpx.ValidationProblem(w, map[string]string{"ip": "invalid address"})
			return
		}
		h.logger.Error("add blacklist", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.record(r, "blacklist.add", entry.IP, map[string]any{"reason": entry.Reason, "ttl_seconds": req.TTLSeconds})
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) removeBlacklist(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	err := h.blacklist.Remove(r.Context(), ip)
	switch {
	case errors.Is(err, ErrInvalidIP):
		httpx.ValidationProblem(w, map[string]string{"ip": "invalid address"})
		return
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	case err != nil:
		h.logger.Error("remove blacklist", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.record(r, "blacklist.remove", ip, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) record(r *http.Request, action, ip string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	p, _ := rbac.PrincipalFromContext(r.Context())
	if err := h.audit.Record(r.Context(), audit.Entry{
		ActorID:  p.UserID,
		Action:   action,
		Entity:   "ip_blacklist",
		EntityID: ip,
		Meta:     meta,
		IP:       ClientIP(r),
	}); err != nil {
		h.logger.Error("audit blacklist change", slog.Any("error", err))
	}
}
