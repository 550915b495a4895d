package rbac

import (
	"context"
	"errors"

	"github.com/beacon-dash/beacon/internal/authz"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrUnknownRole is returned when a role is not part of the active catalog.
	ErrUnknownRole = errors.New("rbac: unknown role")
	// ErrCatalogReadOnly is returned for catalog edits when the catalog is not
	// sourced from the database.
	ErrCatalogReadOnly = errors.New("rbac: catalog is read-only")
	// ErrRoleInUse is returned when a catalog save would drop a role that users still hold.
	ErrRoleInUse = errors.New("rbac: role still assigned to users")
)

// Principal describes the authenticated actor. Its role always comes from the
// server-side user record, never from the request.
type Principal struct {
	UserID int64      `json:"user_id"`
	Email  string     `json:"email"`
	Name   string     `json:"name"`
	Role   authz.Role `json:"role"`
	Active bool       `json:"-"`
}

// PermissionInfo describes one permission and the roles granting it directly.
type PermissionInfo struct {
	Name      authz.Permission `json:"name"`
	GrantedBy []authz.Role     `json:"granted_by"`
}

// RoleInfo is the read model of a catalog role.
type RoleInfo struct {
	Name        authz.Role         `json:"name"`
	Level       int                `json:"level"`
	Description string             `json:"description,omitempty"`
	Inherits    []authz.Role       `json:"inherits"`
	Base        []authz.Permission `json:"base_permissions"`
	Permissions []authz.Permission `json:"permissions"`
}

type principalKey struct{}

// ContextWithPrincipal stores the principal in ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by the middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// DescribeRole builds the read model for role from engine.
func DescribeRole(engine *authz.Engine, role authz.Role) RoleInfo {
	catalog := engine.Catalog()
	return RoleInfo{
		Name:        role,
		Level:       engine.RoleLevel(role),
		Description: catalog.Description(role),
		Inherits:    catalog.Ancestors(role),
		Base:        catalog.BasePermissions(role),
		Permissions: engine.RolePermissions(role),
	}
}
