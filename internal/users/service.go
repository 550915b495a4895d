package users

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/beacon-dash/beacon/internal/audit"
	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, limit, offset int) ([]User, int, error)
	GetUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, email, name, passwordHash string, role authz.Role) (User, error)
	UpdateProfile(ctx context.Context, id int64, email, name *string, passwordHash string) (User, error)
	SetActive(ctx context.Context, id int64, active bool) error
	UpsertBootstrap(ctx context.Context, email, name, passwordHash string, role authz.Role) (User, error)
}

// AuditRecorder records user changes.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// PrincipalInvalidator drops cached principals after account changes.
type PrincipalInvalidator interface {
	Invalidate(userID int64)
}

// Service handles user business logic. Every mutation is checked against the
// acting principal's server-side role.
type Service struct {
	repo       RepositoryPort
	holder     *authz.Holder
	audit      AuditRecorder
	principals PrincipalInvalidator
	logger     *slog.Logger
	cost       int
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, holder *authz.Holder, recorder AuditRecorder, principals PrincipalInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, holder: holder, audit: recorder, principals: principals, logger: logger, cost: bcrypt.DefaultCost}
}

// ListUsers returns one page of users.
func (s *Service) ListUsers(ctx context.Context, page, perPage int) (ListResult, error) {
	page, perPage = shared.NormalizePage(page, perPage)
	offset := (page - 1) * perPage
	users, total, err := s.repo.ListUsers(ctx, perPage, offset)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Users: users, Pagination: shared.NewPagination(page, perPage, total)}, nil
}

// GetUser returns a user. Callers without user.read may only read themselves.
func (s *Service) GetUser(ctx context.Context, actor rbac.Principal, id int64) (User, error) {
	engine := s.holder.Engine()
	if !engine.HasPermission(actor.Role, shared.PermUserRead) && !engine.OwnsResource(actor.UserID, id) {
		return User{}, ErrForbidden
	}
	return s.repo.GetUser(ctx, id)
}

// CreateUser registers a new account. The actor must be allowed to assign
// the requested role.
func (s *Service) CreateUser(ctx context.Context, actor rbac.Principal, in CreateInput) (User, error) {
	engine := s.holder.Engine()
	role := authz.Role(strings.TrimSpace(in.Role))
	if !engine.Catalog().Has(role) {
		return User{}, ErrUnknownRole
	}
	if !engine.ValidateRoleAssignment(actor.Role, role) {
		return User{}, ErrForbidden
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return User{}, err
	}
	user, err := s.repo.CreateUser(ctx, normalizeEmail(in.Email), strings.TrimSpace(in.Name), hash, role)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actor, "user.create", user.ID, map[string]any{"email": user.Email, "role": string(user.Role)})
	return user, nil
}

// UpdateUser edits a profile. Users may always edit themselves; editing
// others needs user.update and a role ranked above the target's.
func (s *Service) UpdateUser(ctx context.Context, actor rbac.Principal, id int64, in UpdateInput) (User, error) {
	engine := s.holder.Engine()
	if !engine.OwnsResource(actor.UserID, id) {
		if !engine.HasPermission(actor.Role, shared.PermUserUpdate) {
			return User{}, ErrForbidden
		}
		target, err := s.repo.GetUser(ctx, id)
		if err != nil {
			return User{}, err
		}
		if !engine.CanManageRole(actor.Role, target.Role) {
			return User{}, ErrForbidden
		}
	}
	var hash string
	if in.Password != nil {
		var err error
		if hash, err = s.hash(*in.Password); err != nil {
			return User{}, err
		}
	}
	var email, name *string
	if in.Email != nil {
		e := normalizeEmail(*in.Email)
		email = &e
	}
	if in.Name != nil {
		n := strings.TrimSpace(*in.Name)
		name = &n
	}
	user, err := s.repo.UpdateProfile(ctx, id, email, name, hash)
	if err != nil {
		return User{}, err
	}
	changed := make([]string, 0, 3)
	if email != nil {
		changed = append(changed, "email")
	}
	if name != nil {
		changed = append(changed, "name")
	}
	if hash != "" {
		changed = append(changed, "password")
	}
	s.record(ctx, actor, "user.update", id, map[string]any{"fields": changed})
	return user, nil
}

// DeactivateUser disables an account. Nobody may deactivate themselves.
func (s *Service) DeactivateUser(ctx context.Context, actor rbac.Principal, id int64) error {
	engine := s.holder.Engine()
	if actor.UserID == id {
		return ErrForbidden
	}
	if !engine.HasPermission(actor.Role, shared.PermUserDelete) {
		return ErrForbidden
	}
	target, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if !engine.CanManageRole(actor.Role, target.Role) {
		return ErrForbidden
	}
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	if s.principals != nil {
		s.principals.Invalidate(id)
	}
	s.record(ctx, actor, "user.deactivate", id, map[string]any{"role": string(target.Role)})
	return nil
}

// Bootstrap creates or resets an account without an acting principal. Used
// by the operator CLI only.
func (s *Service) Bootstrap(ctx context.Context, email, name, password string, role authz.Role) (User, error) {
	if engine := s.holder.Engine(); engine == nil || !engine.Catalog().Has(role) {
		return User{}, ErrUnknownRole
	}
	if len(password) < 8 {
		return User{}, fmt.Errorf("users: password must be at least 8 characters")
	}
	hash, err := s.hash(password)
	if err != nil {
		return User{}, err
	}
	if strings.TrimSpace(name) == "" {
		name = email
	}
	user, err := s.repo.UpsertBootstrap(ctx, normalizeEmail(email), strings.TrimSpace(name), hash, role)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, rbac.Principal{}, "user.bootstrap", user.ID, map[string]any{"role": string(role)})
	return user, nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("users: hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) record(ctx context.Context, actor rbac.Principal, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Error("audit user change", slog.String("action", action), slog.Any("error", err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
