package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/beacon-dash/beacon/internal/authz"
)

// CatalogStore persists the role catalog.
type CatalogStore interface {
	// LoadCatalog returns ErrNotFound when no catalog has been stored yet.
	LoadCatalog(ctx context.Context) (authz.CatalogSpec, error)
	SaveCatalog(ctx context.Context, spec authz.CatalogSpec) error
	ReplaceRolePermissions(ctx context.Context, role authz.Role, perms []authz.Permission) error
}

// ReloadObserver is told about every catalog reload attempt.
type ReloadObserver interface {
	CatalogReload(err error)
}

// Service owns the published authorization engine and its persistence.
type Service struct {
	store    CatalogStore
	holder   *authz.Holder
	logger   *slog.Logger
	observer ReloadObserver
	group    singleflight.Group
	// mu orders load+publish so the last engine published reflects the
	// latest committed write.
	mu sync.Mutex
}

// NewService constructs a Service. store may be nil when the catalog is
// sourced from a file or the built-in defaults; edits are then rejected.
func NewService(store CatalogStore, holder *authz.Holder, logger *slog.Logger, observer ReloadObserver) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, holder: holder, logger: logger, observer: observer}
}

// Holder returns the engine holder shared with the middleware.
func (s *Service) Holder() *authz.Holder {
	return s.holder
}

// Engine returns the engine currently in effect.
func (s *Service) Engine() *authz.Engine {
	return s.holder.Engine()
}

// Reload rebuilds the engine from the store. Concurrent callers share a single
// load. A failed reload leaves the previous engine in effect.
func (s *Service) Reload(ctx context.Context) error {
	if s.store == nil {
		return ErrCatalogReadOnly
	}
	_, err, _ := s.group.Do("reload", func() (any, error) {
		return s.reload(ctx)
	})
	s.report(err)
	return err
}

// reload reads the store and publishes the result. Callers that just wrote to
// the store use it directly so they never join a load that started earlier.
func (s *Service) reload(ctx context.Context) (*authz.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, err := s.store.LoadCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return s.holder.Reload(spec)
}

// Seed stores spec when the store holds no catalog yet. It reports whether
// spec was written.
func (s *Service) Seed(ctx context.Context, spec authz.CatalogSpec) (bool, error) {
	if s.store == nil {
		return false, ErrCatalogReadOnly
	}
	if _, err := authz.New(spec); err != nil {
		return false, err
	}
	_, err := s.store.LoadCatalog(ctx)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ErrNotFound):
		return false, err
	}
	if err := s.store.SaveCatalog(ctx, spec); err != nil {
		return false, fmt.Errorf("save catalog: %w", err)
	}
	s.logger.Info("catalog seeded", slog.Int("roles", len(spec.Ranks)))
	return true, nil
}

// SetRolePermissions replaces the direct permissions of role. The candidate
// catalog is validated before anything is written.
func (s *Service) SetRolePermissions(ctx context.Context, role authz.Role, perms []authz.Permission) (*authz.Engine, error) {
	if s.store == nil {
		return nil, ErrCatalogReadOnly
	}
	current := s.Engine()
	if current == nil || !current.Catalog().Has(role) {
		return nil, ErrUnknownRole
	}
	normalized := normalizePermissions(perms)
	sort.Slice(normalized, func(i, j int) bool { return normalized[i] < normalized[j] })

	candidate := current.Catalog().Spec()
	if candidate.Permissions == nil {
		candidate.Permissions = make(map[authz.Role][]authz.Permission)
	}
	candidate.Permissions[role] = normalized
	if _, err := authz.New(candidate); err != nil {
		return nil, err
	}
	if err := s.store.ReplaceRolePermissions(ctx, role, normalized); err != nil {
		return nil, fmt.Errorf("replace role permissions: %w", err)
	}
	engine, err := s.reload(ctx)
	s.report(err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("role permissions replaced", slog.String("role", string(role)), slog.Int("count", len(normalized)))
	return engine, nil
}

// ListPermissions returns every permission in the catalog together with the
// roles granting it directly.
func (s *Service) ListPermissions() []PermissionInfo {
	engine := s.Engine()
	if engine == nil {
		return nil
	}
	catalog := engine.Catalog()
	grantedBy := make(map[authz.Permission][]authz.Role)
	for _, role := range catalog.Roles() {
		for _, p := range catalog.BasePermissions(role) {
			grantedBy[p] = append(grantedBy[p], role)
		}
	}
	perms := catalog.Permissions()
	out := make([]PermissionInfo, 0, len(perms))
	for _, p := range perms {
		out = append(out, PermissionInfo{Name: p, GrantedBy: grantedBy[p]})
	}
	return out
}

// Roles returns the read model of every role, least privileged first.
func (s *Service) Roles() []RoleInfo {
	engine := s.Engine()
	if engine == nil {
		return nil
	}
	roles := engine.Catalog().Roles()
	out := make([]RoleInfo, 0, len(roles))
	for _, role := range roles {
		out = append(out, DescribeRole(engine, role))
	}
	return out
}

// ParseRole trims raw and checks it against the active catalog.
func (s *Service) ParseRole(raw string) (authz.Role, error) {
	role := authz.Role(strings.TrimSpace(raw))
	engine := s.Engine()
	if role == "" || engine == nil || !engine.Catalog().Has(role) {
		return "", ErrUnknownRole
	}
	return role, nil
}

func (s *Service) report(err error) {
	if s.observer != nil {
		s.observer.CatalogReload(err)
	}
	if err != nil {
		s.logger.Error("catalog reload failed", slog.Any("error", err))
	}
}
