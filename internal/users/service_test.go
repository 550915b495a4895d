package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/beacon-dash/beacon/internal/audit"
	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/platform/httpx"
	"github.com/beacon-dash/beacon/internal/rbac"
)

type memoryRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]User
	hashes map[int64]string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: map[int64]User{}, hashes: map[int64]string{}}
}

func (m *memoryRepo) add(email string, role authz.Role) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u := User{ID: m.nextID, Email: email, Name: email, Role: role, IsActive: true, CreatedAt: time.Now()}
	m.users[u.ID] = u
	return u
}

func (m *memoryRepo) ListUsers(_ context.Context, limit, offset int) ([]User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for id := int64(1); id <= m.nextID; id++ {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	total := len(out)
	if offset >= len(out) {
		return []User{}, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memoryRepo) GetUser(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *memoryRepo) CreateUser(_ context.Context, email, name, hash string, role authz.Role) (User, error) {
	m.mu.Lock()
	for _, u := range m.users {
		if u.Email == email {
			m.mu.Unlock()
			return User{}, ErrDuplicateEmail
		}
	}
	m.mu.Unlock()
	u := m.add(email, role)
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Name = name
	m.users[u.ID] = u
	m.hashes[u.ID] = hash
	return u, nil
}

func (m *memoryRepo) UpdateProfile(_ context.Context, id int64, email, name *string, hash string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if email != nil {
		u.Email = *email
	}
	if name != nil {
		u.Name = *name
	}
	if hash != "" {
		m.hashes[id] = hash
	}
	m.users[id] = u
	return u, nil
}

func (m *memoryRepo) SetActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsActive = active
	m.users[id] = u
	return nil
}

func (m *memoryRepo) UpsertBootstrap(ctx context.Context, email, name, hash string, role authz.Role) (User, error) {
	return m.CreateUser(ctx, email, name, hash, role)
}

type auditLog struct{ entries []audit.Entry }

func (a *auditLog) Record(_ context.Context, e audit.Entry) error {
	a.entries = append(a.entries, e)
	return nil
}

type invalidations struct{ ids []int64 }

func (i *invalidations) Invalidate(id int64) { i.ids = append(i.ids, id) }

func newTestService(t *testing.T) (*Service, *memoryRepo, *auditLog, *invalidations) {
	t.Helper()
	engine, err := authz.New(authz.DefaultCatalogSpec())
	require.NoError(t, err)
	repo := newMemoryRepo()
	log := &auditLog{}
	inv := &invalidations{}
	svc := NewService(repo, authz.NewHolder(engine), log, inv, nil)
	svc.cost = bcrypt.MinCost
	return svc, repo, log, inv
}

func principalOf(u User) rbac.Principal {
	return rbac.Principal{UserID: u.ID, Email: u.Email, Role: u.Role, Active: true}
}

func TestCreateUserEnforcesAssignableRole(t *testing.T) {
	svc, repo, log, _ := newTestService(t)
	ctx := context.Background()
	manager := principalOf(repo.add("manager@example.com", authz.RoleManager))

	u, err := svc.CreateUser(ctx, manager, CreateInput{Email: " New@Example.com ", Name: "New", Password: "password1", Role: "Leader"})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", u.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.hashes[u.ID]), []byte("password1")))
	require.Len(t, log.entries, 1)
	assert.Equal(t, "user.create", log.entries[0].Action)

	_, err = svc.CreateUser(ctx, manager, CreateInput{Email: "peer@example.com", Name: "Peer", Password: "password1", Role: "Manager"})
	assert.ErrorIs(t, err, httpx.ErrForbidden)

	_, err = svc.CreateUser(ctx, manager, CreateInput{Email: "x@example.com", Name: "X", Password: "password1", Role: "Janitor"})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.CreateUser(ctx, manager, CreateInput{Email: "new@example.com", Name: "Dup", Password: "password1", Role: "Officer"})
	assert.ErrorIs(t, err, httpx.ErrDuplicate)
}

func TestAdminCannotCreateSuperAdmin(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	admin := principalOf(repo.add("admin@example.com", authz.RoleAdmin))
	root := principalOf(repo.add("root@example.com", authz.RoleSuperAdmin))

	_, err := svc.CreateUser(context.Background(), admin, CreateInput{Email: "a@example.com", Name: "A", Password: "password1", Role: "SuperAdmin"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.CreateUser(context.Background(), admin, CreateInput{Email: "b@example.com", Name: "B", Password: "password1", Role: "Admin"})
	assert.NoError(t, err)
	_, err = svc.CreateUser(context.Background(), root, CreateInput{Email: "c@example.com", Name: "C", Password: "password1", Role: "SuperAdmin"})
	assert.NoError(t, err)
}

func TestUpdateUserSelfServiceAndHierarchy(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	officer := repo.add("officer@example.com", authz.RoleOfficer)
	other := repo.add("other@example.com", authz.RoleOfficer)
	director := repo.add("director@example.com", authz.RoleDirector)
	manager := repo.add("manager@example.com", authz.RoleManager)

	name := "Renamed"
	u, err := svc.UpdateUser(ctx, principalOf(officer), officer.ID, UpdateInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", u.Name)

	_, err = svc.UpdateUser(ctx, principalOf(officer), other.ID, UpdateInput{Name: &name})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.UpdateUser(ctx, principalOf(manager), other.ID, UpdateInput{Name: &name})
	assert.NoError(t, err)

	_, err = svc.UpdateUser(ctx, principalOf(manager), director.ID, UpdateInput{Name: &name})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDeactivateUser(t *testing.T) {
	svc, repo, _, inv := newTestService(t)
	ctx := context.Background()
	director := repo.add("director@example.com", authz.RoleDirector)
	officer := repo.add("officer@example.com", authz.RoleOfficer)
	admin := repo.add("admin@example.com", authz.RoleAdmin)

	assert.ErrorIs(t, svc.DeactivateUser(ctx, principalOf(director), director.ID), ErrForbidden)
	assert.ErrorIs(t, svc.DeactivateUser(ctx, principalOf(director), admin.ID), ErrForbidden)
	assert.ErrorIs(t, svc.DeactivateUser(ctx, principalOf(officer), director.ID), ErrForbidden)

	require.NoError(t, svc.DeactivateUser(ctx, principalOf(director), officer.ID))
	got, err := repo.GetUser(ctx, officer.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, []int64{officer.ID}, inv.ids)
}

func TestGetUserSelfOrPermission(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	officer := repo.add("officer@example.com", authz.RoleOfficer)
	leader := repo.add("leader@example.com", authz.RoleLeader)

	_, err := svc.GetUser(ctx, principalOf(officer), officer.ID)
	assert.NoError(t, err)
	_, err = svc.GetUser(ctx, principalOf(officer), leader.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.GetUser(ctx, principalOf(leader), officer.ID)
	assert.NoError(t, err)
	_, err = svc.GetUser(ctx, principalOf(leader), 999)
	assert.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestListUsersPaginates(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	for range 25 {
		repo.add("u@example.com", authz.RoleOfficer)
	}
	res, err := svc.ListUsers(context.Background(), 2, 10)
	require.NoError(t, err)
	assert.Len(t, res.Users, 10)
	assert.Equal(t, int64(11), res.Users[0].ID)
	assert.Equal(t, 3, res.Pagination.TotalPages)
}
