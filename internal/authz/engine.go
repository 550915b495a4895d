package authz

// Engine answers authorization questions against an immutable Catalog. Every
// query is total: unknown roles and permissions resolve to "no privilege".
// An Engine is safe for concurrent use without locking.
type Engine struct {
	catalog *Catalog
}

// New validates spec and returns an engine over it.
func New(spec CatalogSpec) (*Engine, error) {
	catalog, err := NewCatalog(spec)
	if err != nil {
		return nil, err
	}
	return NewEngine(catalog), nil
}

// NewEngine wraps an already validated catalog.
func NewEngine(catalog *Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Catalog exposes the underlying catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// RolePermissions returns the effective permission set of role, sorted.
func (e *Engine) RolePermissions(role Role) []Permission {
	return clonePermissions(e.catalog.sorted[role])
}

// HasPermission reports whether role grants perm, directly or by inheritance.
func (e *Engine) HasPermission(role Role, perm Permission) bool {
	_, ok := e.catalog.effective[role][perm]
	return ok
}

// HasAnyPermission reports whether role grants at least one of perms.
func (e *Engine) HasAnyPermission(role Role, perms ...Permission) bool {
	set := e.catalog.effective[role]
	for _, p := range perms {
		if _, ok := set[p]; ok {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether role grants every one of perms. An empty
// list is vacuously satisfied.
func (e *Engine) HasAllPermissions(role Role, perms ...Permission) bool {
	set := e.catalog.effective[role]
	for _, p := range perms {
		if _, ok := set[p]; !ok {
			return false
		}
	}
	return true
}

// RoleLevel returns the rank of role, or 0 for unknown roles.
func (e *Engine) RoleLevel(role Role) int {
	return e.catalog.ranks[role]
}

// IsHigherRole reports whether a strictly outranks b.
func (e *Engine) IsHigherRole(a, b Role) bool {
	return e.RoleLevel(a) > e.RoleLevel(b)
}

// IsEqualOrHigherRole reports whether a ranks at or above b.
func (e *Engine) IsEqualOrHigherRole(a, b Role) bool {
	return e.RoleLevel(a) >= e.RoleLevel(b)
}

// CanManageRole reports whether manager may act on holders of target. Peers
// and superiors are never manageable.
func (e *Engine) CanManageRole(manager, target Role) bool {
	return e.IsHigherRole(manager, target)
}

// ManageableRoles returns catalog roles ranked strictly below role.
func (e *Engine) ManageableRoles(role Role) []Role {
	level := e.RoleLevel(role)
	var out []Role
	for _, r := range e.catalog.byRank {
		if e.catalog.ranks[r] < level {
			out = append(out, r)
		}
	}
	return out
}

// ManagerRoles returns catalog roles ranked strictly above role.
func (e *Engine) ManagerRoles(role Role) []Role {
	level := e.RoleLevel(role)
	var out []Role
	for _, r := range e.catalog.byRank {
		if e.catalog.ranks[r] > level {
			out = append(out, r)
		}
	}
	return out
}

// ValidateRoleAssignment decides whether assigner may grant target to a user.
// The top role may assign anything, the admin role anything except the top
// role, and every other role only strictly lower-ranked roles.
func (e *Engine) ValidateRoleAssignment(assigner, target Role) bool {
	if top := e.catalog.top; top != "" && assigner == top {
		return true
	}
	if admin := e.catalog.admin; admin != "" && assigner == admin {
		return target != e.catalog.top
	}
	return e.CanManageRole(assigner, target)
}

// OwnsResource reports whether principalID owns a resource owned by ownerID.
// Zero IDs never match.
func (e *Engine) OwnsResource(principalID, ownerID int64) bool {
	return principalID != 0 && principalID == ownerID
}
