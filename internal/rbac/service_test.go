package rbac

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/shared"
)

type memoryCatalogStore struct {
	mu    sync.Mutex
	spec  *authz.CatalogSpec
	loads atomic.Int64
}

func (m *memoryCatalogStore) LoadCatalog(context.Context) (authz.CatalogSpec, error) {
	m.loads.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spec == nil {
		return authz.CatalogSpec{}, ErrNotFound
	}
	engine, err := authz.New(*m.spec)
	if err != nil {
		return *m.spec, nil
	}
	return engine.Catalog().Spec(), nil
}

func (m *memoryCatalogStore) SaveCatalog(_ context.Context, spec authz.CatalogSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spec = &spec
	return nil
}

func (m *memoryCatalogStore) ReplaceRolePermissions(_ context.Context, role authz.Role, perms []authz.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.spec.Ranks[role]; !ok {
		return ErrUnknownRole
	}
	m.spec.Permissions[role] = perms
	return nil
}

type reloadCounter struct {
	ok, failed atomic.Int64
}

func (r *reloadCounter) CatalogReload(err error) {
	if err != nil {
		r.failed.Add(1)
		return
	}
	r.ok.Add(1)
}

func newTestService(t *testing.T) (*Service, *memoryCatalogStore, *reloadCounter) {
	t.Helper()
	engine, err := authz.New(authz.DefaultCatalogSpec())
	require.NoError(t, err)
	store := &memoryCatalogStore{}
	counter := &reloadCounter{}
	return NewService(store, authz.NewHolder(engine), nil, counter), store, counter
}

func TestServiceSeedOnlyOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	seeded, err := svc.Seed(ctx, authz.DefaultCatalogSpec())
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = svc.Seed(ctx, authz.DefaultCatalogSpec())
	require.NoError(t, err)
	assert.False(t, seeded)
}

func TestServiceSeedRejectsInvalidCatalog(t *testing.T) {
	svc, store, _ := newTestService(t)
	spec := authz.DefaultCatalogSpec()
	spec.Inherits[authz.RoleOfficer] = []authz.Role{"Ghost"}

	_, err := svc.Seed(context.Background(), spec)
	var cfgErr *authz.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Nil(t, store.spec)
}

func TestServiceSetRolePermissions(t *testing.T) {
	svc, _, counter := newTestService(t)
	ctx := context.Background()
	_, err := svc.Seed(ctx, authz.DefaultCatalogSpec())
	require.NoError(t, err)
	require.NoError(t, svc.Reload(ctx))

	engine, err := svc.SetRolePermissions(ctx, authz.RoleOfficer, []authz.Permission{"content.read", " audit.view ", "audit.view"})
	require.NoError(t, err)
	assert.Equal(t, []authz.Permission{"audit.view", "content.read"}, engine.Catalog().BasePermissions(authz.RoleOfficer))
	assert.True(t, svc.Engine().HasPermission(authz.RoleLeader, shared.PermAuditView))
	assert.False(t, svc.Engine().HasPermission(authz.RoleOfficer, shared.PermContentCreate))
	assert.Equal(t, int64(2), counter.ok.Load())

	_, err = svc.SetRolePermissions(ctx, "Ghost", nil)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestServiceReloadFailureKeepsEngine(t *testing.T) {
	svc, store, counter := newTestService(t)
	before := svc.Engine()
	broken := authz.DefaultCatalogSpec()
	broken.Ranks[authz.RoleLeader] = 1
	store.spec = &broken

	err := svc.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, before, svc.Engine())
	assert.Equal(t, int64(1), counter.failed.Load())
}

func TestServiceReadOnlyWithoutStore(t *testing.T) {
	engine, err := authz.New(authz.DefaultCatalogSpec())
	require.NoError(t, err)
	svc := NewService(nil, authz.NewHolder(engine), nil, nil)

	_, err = svc.SetRolePermissions(context.Background(), authz.RoleOfficer, nil)
	assert.ErrorIs(t, err, ErrCatalogReadOnly)
	assert.ErrorIs(t, svc.Reload(context.Background()), ErrCatalogReadOnly)
}

func TestServiceListPermissions(t *testing.T) {
	svc, _, _ := newTestService(t)
	perms := svc.ListPermissions()
	require.NotEmpty(t, perms)
	for _, p := range perms {
		if p.Name == shared.PermSystemManage {
			assert.Equal(t, []authz.Role{authz.RoleSuperAdmin}, p.GrantedBy)
			return
		}
	}
	t.Fatalf("system.manage missing from %v", perms)
}

func TestServiceParseRole(t *testing.T) {
	svc, _, _ := newTestService(t)
	role, err := svc.ParseRole(" Manager ")
	require.NoError(t, err)
	assert.Equal(t, authz.RoleManager, role)

	_, err = svc.ParseRole("manager")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

type countingStore struct {
	calls atomic.Int64
	p     Principal
}

func (c *countingStore) PrincipalByID(_ context.Context, userID int64) (Principal, error) {
	c.calls.Add(1)
	if userID != c.p.UserID {
		return Principal{}, ErrNotFound
	}
	return c.p, nil
}

func TestPrincipalResolverCachesAndInvalidates(t *testing.T) {
	store := &countingStore{p: Principal{UserID: 5, Role: authz.RoleLeader, Active: true}}
	resolver := NewPrincipalResolver(store, 16, time.Minute)
	ctx := context.Background()

	for range 3 {
		p, err := resolver.Resolve(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, authz.RoleLeader, p.Role)
	}
	assert.Equal(t, int64(1), store.calls.Load())

	store.p.Role = authz.RoleManager
	resolver.Invalidate(5)
	p, err := resolver.Resolve(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleManager, p.Role)
	assert.Equal(t, int64(2), store.calls.Load())

	_, err = resolver.Resolve(ctx, 6)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = resolver.Resolve(ctx, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPrincipalResolverRejectsInactive(t *testing.T) {
	store := &countingStore{p: Principal{UserID: 5, Role: authz.RoleLeader}}
	resolver := NewPrincipalResolver(store, 16, time.Minute)
	_, err := resolver.Resolve(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

// gatedCatalogStore snapshots the catalog on its first load and then waits
// for release before returning it.
type gatedCatalogStore struct {
	*memoryCatalogStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCatalogStore) LoadCatalog(ctx context.Context) (authz.CatalogSpec, error) {
	spec, err := g.memoryCatalogStore.LoadCatalog(ctx)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return spec, err
}

func (m *memoryCatalogStore) grants(role authz.Role, perm authz.Permission) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.spec.Permissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

func TestServiceEditDuringReloadIsPublished(t *testing.T) {
	engine, err := authz.New(authz.DefaultCatalogSpec())
	require.NoError(t, err)
	mem := &memoryCatalogStore{}
	require.NoError(t, mem.SaveCatalog(context.Background(), authz.DefaultCatalogSpec()))
	store := &gatedCatalogStore{memoryCatalogStore: mem, entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(store, authz.NewHolder(engine), nil, nil)
	ctx := context.Background()

	const added authz.Permission = "content.archive"
	reloaded := make(chan error, 1)
	go func() { reloaded <- svc.Reload(ctx) }()
	<-store.entered

	type result struct {
		engine *authz.Engine
		err    error
	}
	edited := make(chan result, 1)
	go func() {
		e, err := svc.SetRolePermissions(ctx, authz.RoleOfficer, []authz.Permission{shared.PermContentRead, added})
		edited <- result{e, err}
	}()
	require.Eventually(t, func() bool { return mem.grants(authz.RoleOfficer, added) }, time.Second, 5*time.Millisecond)
	close(store.release)

	require.NoError(t, <-reloaded)
	res := <-edited
	require.NoError(t, res.err)
	assert.True(t, res.engine.HasPermission(authz.RoleOfficer, added))
	assert.True(t, svc.Engine().HasPermission(authz.RoleOfficer, added))
}

// gatedPrincipalStore snapshots the principal on its first lookup and then
// waits for release before returning it.
type gatedPrincipalStore struct {
	mu      sync.Mutex
	p       Principal
	calls   atomic.Int64
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedPrincipalStore) PrincipalByID(context.Context, int64) (Principal, error) {
	g.calls.Add(1)
	g.mu.Lock()
	p := g.p
	g.mu.Unlock()
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return p, nil
}

func (g *gatedPrincipalStore) setRole(role authz.Role) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.p.Role = role
}

func TestPrincipalResolverInvalidateDuringLoad(t *testing.T) {
	store := &gatedPrincipalStore{
		p:       Principal{UserID: 1, Role: authz.RoleAdmin, Active: true},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	resolver := NewPrincipalResolver(store, 16, time.Minute)
	ctx := context.Background()

	loaded := make(chan error, 1)
	go func() {
		_, err := resolver.Resolve(ctx, 1)
		loaded <- err
	}()
	<-store.entered

	store.setRole(authz.RoleOfficer)
	resolver.Invalidate(1)
	close(store.release)
	require.NoError(t, <-loaded)

	p, err := resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleOfficer, p.Role)
	assert.Equal(t, int64(2), store.calls.Load())

	p, err = resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleOfficer, p.Role)
	assert.Equal(t, int64(2), store.calls.Load())
}
