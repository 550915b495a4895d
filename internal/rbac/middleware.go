package rbac

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/platform/httpx"
	"github.com/beacon-dash/beacon/internal/shared"
)

// PrincipalSource resolves the authenticated user's principal.
type PrincipalSource interface {
	Resolve(ctx context.Context, userID int64) (Principal, error)
}

// DecisionObserver is notified of every authorization decision.
type DecisionObserver interface {
	AuthzDecision(allowed bool)
}

// Middleware wires RBAC authorization helpers for HTTP handlers. Decisions are
// always made against the principal's server-side role and the engine
// currently published by Holder.
type Middleware struct {
	Holder     *authz.Holder
	Principals PrincipalSource
	Logger     *slog.Logger
	Observer   DecisionObserver
}

// Authenticate attaches the session principal to the request context. It
// never rejects; the Require* helpers do.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.resolve(r)
		if err == nil {
			r = r.WithContext(ContextWithPrincipal(r.Context(), p))
		} else if !errors.Is(err, ErrNotFound) {
			m.logError("rbac authenticate", err)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAny ensures the current user has at least one of the required
// permissions. With no permissions it only requires an authenticated user.
func (m Middleware) RequireAny(perms ...authz.Permission) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return m.guard("rbac require any", func(engine *authz.Engine, p Principal) bool {
		return len(required) == 0 || engine.HasAnyPermission(p.Role, required...)
	})
}

// RequireAll ensures the current user has all required permissions. With no
// permissions it only requires an authenticated user.
func (m Middleware) RequireAll(perms ...authz.Permission) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return m.guard("rbac require all", func(engine *authz.Engine, p Principal) bool {
		return engine.HasAllPermissions(p.Role, required...)
	})
}

// RequireRoleAtLeast ensures the current user's role ranks at or above role.
func (m Middleware) RequireRoleAtLeast(role authz.Role) func(http.Handler) http.Handler {
	return m.guard("rbac require role", func(engine *authz.Engine, p Principal) bool {
		return engine.RoleLevel(p.Role) > 0 && engine.IsEqualOrHigherRole(p.Role, role)
	})
}

// RequireAuth rejects requests without a resolvable principal.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return m.guard("rbac require auth", func(*authz.Engine, Principal) bool { return true })(next)
}

// Can reports whether the principal on ctx holds perm. Handlers use it for
// checks that depend on the target resource, such as ownership fallbacks.
func (m Middleware) Can(ctx context.Context, perm authz.Permission) bool {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return false
	}
	allowed := m.engine().HasPermission(p.Role, perm)
	m.observe(allowed)
	return allowed
}

// Engine returns the engine currently in effect.
func (m Middleware) Engine() *authz.Engine {
	return m.engine()
}

func (m Middleware) guard(op string, allow func(*authz.Engine, Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				var err error
				p, err = m.resolve(r)
				if err != nil {
					if !errors.Is(err, ErrNotFound) {
						m.logError(op, err)
						httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
						return
					}
					m.observe(false)
					httpx.RespondError(w, httpx.ErrForbidden)
					return
				}
				r = r.WithContext(ContextWithPrincipal(r.Context(), p))
			}
			allowed := allow(m.engine(), p)
			m.observe(allowed)
			if !allowed {
				if m.Logger != nil {
					m.Logger.Debug("authorization denied", slog.String("op", op), slog.Int64("user_id", p.UserID), slog.String("role", string(p.Role)), slog.String("path", r.URL.Path))
				}
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) resolve(r *http.Request) (Principal, error) {
	userID, ok := m.currentUserID(r)
	if !ok || m.Principals == nil {
		return Principal{}, ErrNotFound
	}
	return m.Principals.Resolve(r.Context(), userID)
}

func (m Middleware) engine() *authz.Engine {
	if m.Holder != nil {
		if engine := m.Holder.Engine(); engine != nil {
			return engine
		}
	}
	return emptyEngine
}

func (m Middleware) observe(allowed bool) {
	if m.Observer != nil {
		m.Observer.AuthzDecision(allowed)
	}
}

func (m Middleware) logError(op string, err error) {
	if m.Logger != nil {
		m.Logger.Error(op, slog.Any("error", err))
	}
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("rbac parse user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}

// emptyEngine denies everything; used only if no engine has been published.
var emptyEngine = authz.NewEngine(mustEmptyCatalog())

func mustEmptyCatalog() *authz.Catalog {
	catalog, err := authz.NewCatalog(authz.CatalogSpec{})
	if err != nil {
		panic(err)
	}
	return catalog
}

func normalizePermissions(perms []authz.Permission) []authz.Permission {
	seen := make(map[authz.Permission]struct{}, len(perms))
	normalized := make([]authz.Permission, 0, len(perms))
	for _, p := range perms {
		p = authz.Permission(strings.TrimSpace(string(p)))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
