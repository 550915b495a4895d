package roles

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/beacon-dash/beacon/internal/audit"
	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/shared"
)

// RepositoryPort defines data access methods for role assignment.
type RepositoryPort interface {
	AssignRole(ctx context.Context, actorID, userID int64, role authz.Role, ip string, check func(current authz.Role) error) (authz.Role, error)
}

// CatalogEditor persists catalog permission edits.
type CatalogEditor interface {
	Engine() *authz.Engine
	SetRolePermissions(ctx context.Context, role authz.Role, perms []authz.Permission) (*authz.Engine, error)
}

// PrincipalInvalidator drops cached principals after role changes.
type PrincipalInvalidator interface {
	Invalidate(userID int64)
}

// AuditRecorder records catalog edits.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service handles role business logic.
type Service struct {
	repo       RepositoryPort
	catalog    CatalogEditor
	principals PrincipalInvalidator
	audit      AuditRecorder
	logger     *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, catalog CatalogEditor, principals PrincipalInvalidator, recorder AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		catalog:    catalog,
		principals: principals,
		audit:      recorder,
		logger:     logger,
	}
}

// ListRoles returns all catalog roles ordered by rank, marking the ones actor
// can manage.
func (s *Service) ListRoles(actor rbac.Principal) []Role {
	engine := s.catalog.Engine()
	all := engine.Catalog().Roles()
	out := make([]Role, 0, len(all))
	for _, name := range all {
		out = append(out, s.describe(engine, actor, name))
	}
	return out
}

// ManageableRoles returns the roles actor may assign to others.
func (s *Service) ManageableRoles(actor rbac.Principal) []Role {
	engine := s.catalog.Engine()
	var out []Role
	for _, name := range engine.Catalog().Roles() {
		if engine.ValidateRoleAssignment(actor.Role, name) {
			out = append(out, s.describe(engine, actor, name))
		}
	}
	return out
}

// AssignRole gives a user a new role. The actor must be allowed to assign
// both the target role and the user's current role, and may not change
// their own role.
func (s *Service) AssignRole(ctx context.Context, actor rbac.Principal, in Assignment, ip string) (AssignmentResult, error) {
	engine := s.catalog.Engine()
	role := authz.Role(strings.TrimSpace(in.Role))
	if !engine.Catalog().Has(role) {
		return AssignmentResult{}, ErrUnknownRole
	}
	if in.UserID == actor.UserID {
		return AssignmentResult{}, ErrSelfAssignment
	}
	if !engine.HasPermission(actor.Role, shared.PermRoleAssign) || !engine.ValidateRoleAssignment(actor.Role, role) {
		return AssignmentResult{}, ErrForbidden
	}
	previous, err := s.repo.AssignRole(ctx, actor.UserID, in.UserID, role, ip, func(current authz.Role) error {
		if !engine.ValidateRoleAssignment(actor.Role, current) {
			return ErrForbidden
		}
		return nil
	})
	if err != nil {
		return AssignmentResult{}, err
	}
	if s.principals != nil {
		s.principals.Invalidate(in.UserID)
	}
	s.logger.Info("role assigned",
		slog.Int64("actor_id", actor.UserID),
		slog.Int64("user_id", in.UserID),
		slog.String("from", string(previous)),
		slog.String("to", string(role)))
	return AssignmentResult{UserID: in.UserID, Previous: previous, Role: role}, nil
}

// UpdatePermissions replaces the direct permissions of a role the actor
// outranks.
func (s *Service) UpdatePermissions(ctx context.Context, actor rbac.Principal, roleName string, perms []authz.Permission) (Role, error) {
	engine := s.catalog.Engine()
	role := authz.Role(strings.TrimSpace(roleName))
	if !engine.Catalog().Has(role) {
		return Role{}, ErrUnknownRole
	}
	if !engine.HasPermission(actor.Role, shared.PermRoleUpdate) || !engine.CanManageRole(actor.Role, role) {
		return Role{}, ErrForbidden
	}
	before := engine.Catalog().BasePermissions(role)
	updated, err := s.catalog.SetRolePermissions(ctx, role, perms)
	if err != nil {
		if errors.Is(err, rbac.ErrUnknownRole) {
			return Role{}, ErrUnknownRole
		}
		return Role{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, audit.Entry{
			ActorID:  actor.UserID,
			Action:   "role.permissions.replace",
			Entity:   "role",
			EntityID: string(role),
			Meta: map[string]any{
				"before": before,
				"after":  updated.Catalog().BasePermissions(role),
			},
		}); err != nil {
			s.logger.Error("audit role permissions", slog.Any("error", err))
		}
	}
	return s.describe(updated, actor, role), nil
}

func (s *Service) describe(engine *authz.Engine, actor rbac.Principal, name authz.Role) Role {
	info := rbac.DescribeRole(engine, name)
	return Role{
		Name:        name,
		DisplayName: s.displayName(name),
		Level:       info.Level,
		Description: info.Description,
		Inherits:    info.Inherits,
		Permissions: info.Permissions,
		Manageable:  engine.CanManageRole(actor.Role, name),
	}
}

// displayName turns "SuperAdmin" or "content_editor" into "Super Admin" and
// "Content Editor".
func (s *Service) displayName(role authz.Role) string {
	title := cases.Title(language.English, cases.NoLower)
	var b strings.Builder
	runes := []rune(string(role))
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.':
			b.WriteRune(' ')
			continue
		case i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]):
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	return title.String(strings.Join(strings.Fields(b.String()), " "))
}
