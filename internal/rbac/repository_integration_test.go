//go:build integration

package rbac_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/platform/migrate"
	"github.com/beacon-dash/beacon/internal/rbac"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("beacon_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	runner, err := migrate.Open(dsn)
	require.NoError(t, err)
	_, err = runner.Up()
	require.NoError(t, err)
	require.NoError(t, runner.Close())

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestRepositoryCatalogRoundTrip(t *testing.T) {
	pool := setupPostgres(t)
	repo := rbac.NewRepository(pool)
	ctx := context.Background()

	_, err := repo.LoadCatalog(ctx)
	require.ErrorIs(t, err, rbac.ErrNotFound)

	want := authz.DefaultCatalogSpec()
	require.NoError(t, repo.SaveCatalog(ctx, want))

	got, err := repo.LoadCatalog(ctx)
	require.NoError(t, err)
	wantEngine, err := authz.New(want)
	require.NoError(t, err)
	gotEngine, err := authz.New(got)
	require.NoError(t, err)

	assert.Equal(t, wantEngine.Catalog().Roles(), gotEngine.Catalog().Roles())
	assert.Equal(t, want.TopRole, got.TopRole)
	for _, role := range wantEngine.Catalog().Roles() {
		assert.ElementsMatch(t, wantEngine.RolePermissions(role), gotEngine.RolePermissions(role), "role %s", role)
	}

	require.NoError(t, repo.ReplaceRolePermissions(ctx, authz.RoleOfficer, []authz.Permission{"content.read"}))
	got, err = repo.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, []authz.Permission{"content.read"}, got.Permissions[authz.RoleOfficer])
}

func TestRepositoryPrincipalByID(t *testing.T) {
	pool := setupPostgres(t)
	repo := rbac.NewRepository(pool)
	ctx := context.Background()
	require.NoError(t, repo.SaveCatalog(ctx, authz.DefaultCatalogSpec()))

	var id int64
	err := pool.QueryRow(ctx, `INSERT INTO users (email, name, password_hash, role)
		VALUES ('lead@example.com', 'Lead', 'x', 'Leader') RETURNING id`).Scan(&id)
	require.NoError(t, err)

	p, err := repo.PrincipalByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleLeader, p.Role)
	assert.True(t, p.Active)

	_, err = repo.PrincipalByID(ctx, id+100)
	assert.ErrorIs(t, err, rbac.ErrNotFound)

	resolver := rbac.NewPrincipalResolver(repo, 16, time.Minute)
	cached, err := resolver.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, p, cached)
}
