package roles

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/platform/httpx"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/shared"
)

type memoryAssignments struct {
	roles map[int64]authz.Role
	calls int
}

func (m *memoryAssignments) AssignRole(_ context.Context, _, userID int64, role authz.Role, _ string, check func(authz.Role) error) (authz.Role, error) {
	m.calls++
	current, ok := m.roles[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	if err := check(current); err != nil {
		return "", err
	}
	m.roles[userID] = role
	return current, nil
}

type holderEditor struct {
	holder   *authz.Holder
	readOnly bool
}

func (e *holderEditor) Engine() *authz.Engine { return e.holder.Engine() }

func (e *holderEditor) SetRolePermissions(_ context.Context, role authz.Role, perms []authz.Permission) (*authz.Engine, error) {
	if e.readOnly {
		return nil, rbac.ErrCatalogReadOnly
	}
	spec := e.holder.Engine().Catalog().Spec()
	spec.Permissions[role] = perms
	return e.holder.Reload(spec)
}

type invalidations struct{ ids []int64 }

func (i *invalidations) Invalidate(id int64) { i.ids = append(i.ids, id) }

func newTestService(t *testing.T) (*Service, *memoryAssignments, *holderEditor, *invalidations) {
	t.Helper()
	engine, err := authz.New(authz.DefaultCatalogSpec())
	require.NoError(t, err)
	repo := &memoryAssignments{roles: map[int64]authz.Role{
		1: authz.RoleSuperAdmin,
		2: authz.RoleAdmin,
		3: authz.RoleManager,
		4: authz.RoleOfficer,
		5: authz.RoleSuperAdmin,
		6: authz.RoleDirector,
	}}
	editor := &holderEditor{holder: authz.NewHolder(engine)}
	inv := &invalidations{}
	return NewService(repo, editor, inv, nil, nil), repo, editor, inv
}

func actor(id int64, role authz.Role) rbac.Principal {
	return rbac.Principal{UserID: id, Role: role, Active: true}
}

func TestAssignRoleChecksTargetAndCurrentRole(t *testing.T) {
	svc, repo, _, inv := newTestService(t)
	ctx := context.Background()
	admin := actor(2, authz.RoleAdmin)

	res, err := svc.AssignRole(ctx, admin, Assignment{UserID: 4, Role: "Leader"}, "")
	require.NoError(t, err)
	assert.Equal(t, authz.RoleOfficer, res.Previous)
	assert.Equal(t, authz.RoleLeader, repo.roles[4])
	assert.Equal(t, []int64{4}, inv.ids)

	_, err = svc.AssignRole(ctx, admin, Assignment{UserID: 4, Role: "SuperAdmin"}, "")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.AssignRole(ctx, admin, Assignment{UserID: 5, Role: "Officer"}, "")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, authz.RoleSuperAdmin, repo.roles[5])

	_, err = svc.AssignRole(ctx, admin, Assignment{UserID: 2, Role: "Officer"}, "")
	assert.ErrorIs(t, err, ErrSelfAssignment)

	_, err = svc.AssignRole(ctx, admin, Assignment{UserID: 4, Role: "Janitor"}, "")
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.AssignRole(ctx, admin, Assignment{UserID: 99, Role: "Officer"}, "")
	assert.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestAssignRoleRequiresPermission(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	director := actor(6, authz.RoleDirector)
	_, err := svc.AssignRole(context.Background(), director, Assignment{UserID: 4, Role: "Leader"}, "")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, repo.calls)
}

func TestSuperAdminAssignsAnything(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	_, err := svc.AssignRole(context.Background(), actor(1, authz.RoleSuperAdmin), Assignment{UserID: 5, Role: "Admin"}, "")
	require.NoError(t, err)
	assert.Equal(t, authz.RoleAdmin, repo.roles[5])
}

func TestManageableRoles(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	names := func(roles []Role) []authz.Role {
		out := make([]authz.Role, 0, len(roles))
		for _, r := range roles {
			out = append(out, r.Name)
		}
		return out
	}
	assert.Equal(t, []authz.Role{authz.RoleOfficer, authz.RoleLeader}, names(svc.ManageableRoles(actor(3, authz.RoleManager))))
	assert.NotContains(t, names(svc.ManageableRoles(actor(2, authz.RoleAdmin))), authz.RoleSuperAdmin)
	assert.Contains(t, names(svc.ManageableRoles(actor(2, authz.RoleAdmin))), authz.RoleAdmin)
	assert.Len(t, svc.ManageableRoles(actor(1, authz.RoleSuperAdmin)), 7)
	assert.Empty(t, svc.ManageableRoles(actor(4, authz.RoleOfficer)))
}

func TestListRolesDisplayNames(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	roles := svc.ListRoles(actor(3, authz.RoleManager))
	require.Len(t, roles, 7)
	assert.Equal(t, authz.RoleOfficer, roles[0].Name)
	assert.True(t, roles[0].Manageable)
	assert.False(t, roles[2].Manageable)
	assert.Equal(t, "Super Admin", roles[6].DisplayName)
	assert.Equal(t, "Content Editor", svc.displayName("content_editor"))
}

func TestUpdatePermissions(t *testing.T) {
	svc, _, editor, _ := newTestService(t)
	ctx := context.Background()
	admin := actor(2, authz.RoleAdmin)

	role, err := svc.UpdatePermissions(ctx, admin, "Officer", []authz.Permission{"content.read", "audit.view"})
	require.NoError(t, err)
	assert.Contains(t, role.Permissions, authz.Permission("audit.view"))
	assert.True(t, editor.Engine().HasPermission(authz.RoleLeader, "audit.view"))

	_, err = svc.UpdatePermissions(ctx, admin, "Admin", nil)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.UpdatePermissions(ctx, actor(6, authz.RoleDirector), "Officer", nil)
	assert.ErrorIs(t, err, ErrForbidden)

	editor.readOnly = true
	_, err = svc.UpdatePermissions(ctx, admin, "Officer", nil)
	assert.ErrorIs(t, err, rbac.ErrCatalogReadOnly)
}

type rolePrincipals map[int64]authz.Role

func (p rolePrincipals) Resolve(_ context.Context, userID int64) (rbac.Principal, error) {
	role, ok := p[userID]
	if !ok {
		return rbac.Principal{}, rbac.ErrNotFound
	}
	return rbac.Principal{UserID: userID, Role: role, Active: true}, nil
}

func TestHandlerIgnoresClientClaimedRole(t *testing.T) {
	svc, repo, editor, _ := newTestService(t)
	mw := rbac.Middleware{Holder: editor.holder, Principals: rolePrincipals{4: authz.RoleOfficer, 2: authz.RoleAdmin}}
	router := chi.NewRouter()
	router.Route("/roles", NewHandler(nil, svc, mw).MountRoutes)

	send := func(userID, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/roles/assign", strings.NewReader(body))
		req.Header.Set("X-Role", "SuperAdmin")
		sess := &shared.Session{}
		sess.SetUser(userID)
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := send("4", `{"user_id":3,"role":"Officer"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, authz.RoleManager, repo.roles[3])

	rec = send("2", `{"user_id":3,"role":"Officer"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = send("2", `{"user_id":3,"role":"Officer","actor_role":"SuperAdmin"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerReadOnlyCatalogConflict(t *testing.T) {
	svc, _, editor, _ := newTestService(t)
	editor.readOnly = true
	mw := rbac.Middleware{Holder: editor.holder, Principals: rolePrincipals{2: authz.RoleAdmin}}
	router := chi.NewRouter()
	router.Route("/roles", NewHandler(nil, svc, mw).MountRoutes)

	req := httptest.NewRequest(http.MethodPut, "/roles/Officer/permissions", strings.NewReader(`{"permissions":["content.read"]}`))
	sess := &shared.Session{}
	sess.SetUser("2")
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
