package authz

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := New(DefaultCatalogSpec())
	require.NoError(t, err)
	return engine
}

func TestRolePermissionsIsDeterministic(t *testing.T) {
	engine := newDefaultEngine(t)
	for _, role := range engine.Catalog().Roles() {
		first := engine.RolePermissions(role)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, engine.RolePermissions(role), "role %s", role)
		}
	}
}

func TestRolePermissionsHasNoDuplicates(t *testing.T) {
	spec := CatalogSpec{
		Ranks: map[Role]int{"Officer": 1, "Leader": 2},
		Permissions: map[Role][]Permission{
			"Officer": {"content.read", "content.read"},
			"Leader":  {"content.read", "content.update"},
		},
		Inherits: map[Role][]Role{"Leader": {"Officer"}},
	}
	engine, err := New(spec)
	require.NoError(t, err)

	for _, role := range engine.Catalog().Roles() {
		perms := engine.RolePermissions(role)
		seen := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			_, dup := seen[p]
			assert.False(t, dup, "duplicate %s for %s", p, role)
			seen[p] = struct{}{}
		}
	}
	assert.Equal(t, []Permission{"content.read", "content.update"}, engine.RolePermissions("Leader"))
}

func TestInheritanceAggregation(t *testing.T) {
	spec := CatalogSpec{
		Ranks:       map[Role]int{"Officer": 1, "Leader": 2},
		Permissions: map[Role][]Permission{"Officer": {"content.read"}, "Leader": {"content.update"}},
		Inherits:    map[Role][]Role{"Leader": {"Officer"}},
	}
	engine, err := New(spec)
	require.NoError(t, err)

	assert.ElementsMatch(t, []Permission{"content.read", "content.update"}, engine.RolePermissions("Leader"))
	assert.Equal(t, []Permission{"content.read"}, engine.RolePermissions("Officer"))
}

func TestTransitiveInheritanceFromDirectParents(t *testing.T) {
	engine := newDefaultEngine(t)

	assert.True(t, engine.HasPermission(RoleSuperAdmin, "content.read"))
	assert.True(t, engine.HasPermission(RoleDirector, "user.create"))
	assert.False(t, engine.HasPermission(RoleOfficer, "user.create"))
	assert.Equal(t, []Role{RoleOfficer, RoleLeader}, engine.Catalog().Ancestors(RoleManager))
}

func TestUnknownRoleFailsClosed(t *testing.T) {
	engine := newDefaultEngine(t)

	assert.Empty(t, engine.RolePermissions("nonexistent-role"))
	assert.False(t, engine.HasPermission("nonexistent-role", "content.read"))
	assert.False(t, engine.HasAnyPermission("nonexistent-role", "content.read", "system.manage"))
	assert.Equal(t, 0, engine.RoleLevel("nonexistent-role"))
	assert.False(t, engine.IsHigherRole("nonexistent-role", RoleOfficer))
	assert.False(t, engine.CanManageRole("nonexistent-role", RoleOfficer))
	assert.False(t, engine.ValidateRoleAssignment("nonexistent-role", RoleOfficer))
	assert.Empty(t, engine.ManageableRoles("nonexistent-role"))
	assert.Len(t, engine.ManagerRoles("nonexistent-role"), 7)
}

func TestUnknownPermissionIsDenied(t *testing.T) {
	engine := newDefaultEngine(t)
	assert.False(t, engine.HasPermission(RoleSuperAdmin, "does.not.exist"))
}

func TestHasAnyAndAllPermissions(t *testing.T) {
	engine := newDefaultEngine(t)

	assert.True(t, engine.HasAnyPermission(RoleOfficer, "user.delete", "content.read"))
	assert.False(t, engine.HasAnyPermission(RoleOfficer, "user.delete", "role.assign"))
	assert.False(t, engine.HasAnyPermission(RoleOfficer))

	assert.True(t, engine.HasAllPermissions(RoleManager, "content.read", "user.create"))
	assert.False(t, engine.HasAllPermissions(RoleManager, "content.read", "audit.view"))
	assert.True(t, engine.HasAllPermissions(RoleOfficer))
}

func TestStrictAndNonStrictComparison(t *testing.T) {
	engine := newDefaultEngine(t)
	for _, role := range engine.Catalog().Roles() {
		assert.False(t, engine.IsHigherRole(role, role), "role %s", role)
		assert.True(t, engine.IsEqualOrHigherRole(role, role), "role %s", role)
		assert.False(t, engine.CanManageRole(role, role), "role %s", role)
	}
	assert.True(t, engine.IsHigherRole(RoleManager, RoleLeader))
	assert.False(t, engine.IsHigherRole(RoleLeader, RoleManager))
}

func TestManageableAndManagerRolesPartition(t *testing.T) {
	engine := newDefaultEngine(t)
	roles := engine.Catalog().Roles()
	for _, role := range roles {
		lower := engine.ManageableRoles(role)
		upper := engine.ManagerRoles(role)

		assert.NotContains(t, lower, role)
		assert.NotContains(t, upper, role)
		for _, r := range lower {
			assert.NotContains(t, upper, r)
		}
		assert.Len(t, roles, len(lower)+len(upper)+1)
	}

	assert.Equal(t, []Role{RoleOfficer, RoleLeader}, engine.ManageableRoles(RoleManager))
	assert.Equal(t, []Role{RoleAdmin, RoleSuperAdmin}, engine.ManagerRoles(RoleDirector))
}

func TestValidateRoleAssignment(t *testing.T) {
	engine := newDefaultEngine(t)

	cases := []struct {
		assigner Role
		target   Role
		want     bool
	}{
		{RoleSuperAdmin, RoleSuperAdmin, true},
		{RoleSuperAdmin, RoleOfficer, true},
		{RoleAdmin, RoleSuperAdmin, false},
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleOfficer, true},
		{RoleManager, RoleLeader, true},
		{RoleLeader, RoleManager, false},
		{RoleManager, RoleManager, false},
		{RoleDirector, RoleAdmin, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, engine.ValidateRoleAssignment(tc.assigner, tc.target), "%s -> %s", tc.assigner, tc.target)
	}
}

func TestValidateRoleAssignmentWithoutSentinels(t *testing.T) {
	spec := DefaultCatalogSpec()
	spec.TopRole = ""
	spec.AdminRole = ""
	engine, err := New(spec)
	require.NoError(t, err)

	assert.False(t, engine.ValidateRoleAssignment(RoleSuperAdmin, RoleSuperAdmin))
	assert.True(t, engine.ValidateRoleAssignment(RoleAdmin, RoleDirector))
	assert.False(t, engine.ValidateRoleAssignment(RoleAdmin, RoleAdmin))
}

func TestOwnsResource(t *testing.T) {
	engine := newDefaultEngine(t)
	assert.True(t, engine.OwnsResource(7, 7))
	assert.False(t, engine.OwnsResource(7, 8))
	assert.False(t, engine.OwnsResource(0, 0))
}

func TestRolePermissionsReturnsCopy(t *testing.T) {
	engine := newDefaultEngine(t)
	perms := engine.RolePermissions(RoleOfficer)
	require.NotEmpty(t, perms)
	perms[0] = "tampered"
	assert.NotContains(t, engine.RolePermissions(RoleOfficer), Permission("tampered"))
}

func TestEngineConcurrentReads(t *testing.T) {
	engine := newDefaultEngine(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = engine.HasPermission(RoleManager, "user.create")
				_ = engine.ManageableRoles(RoleAdmin)
				_ = engine.RolePermissions(RoleDirector)
			}
		}()
	}
	wg.Wait()
}
