package settings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-dash/beacon/internal/audit"
	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/shared"
)

type memoryStore map[string]Setting

func (m memoryStore) List(context.Context) ([]Setting, error) {
	out := make([]Setting, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m memoryStore) Get(_ context.Context, key string) (Setting, error) {
	s, ok := m[key]
	if !ok {
		return Setting{}, ErrNotFound
	}
	return s, nil
}

func (m memoryStore) Put(_ context.Context, key, value string, by int64) (Setting, error) {
	s := Setting{Key: key, Value: value, UpdatedBy: &by, UpdatedAt: time.Now()}
	m[key] = s
	return s, nil
}

type entries []audit.Entry

func (e *entries) Record(_ context.Context, entry audit.Entry) error {
	*e = append(*e, entry)
	return nil
}

func TestPutRecordsPreviousValue(t *testing.T) {
	store := memoryStore{}
	log := &entries{}
	svc := NewService(store, log, nil)
	ctx := context.Background()
	actor := rbac.Principal{UserID: 6, Role: authz.RoleAdmin}

	_, err := svc.Put(ctx, actor, "maintenance.banner", "off", "")
	require.NoError(t, err)
	_, err = svc.Put(ctx, actor, " maintenance.banner ", "on", "10.0.0.1")
	require.NoError(t, err)

	got, err := svc.Get(ctx, "maintenance.banner")
	require.NoError(t, err)
	assert.Equal(t, "on", got.Value)

	require.Len(t, *log, 2)
	assert.Nil(t, (*log)[0].Meta["from"])
	from, ok := (*log)[1].Meta["from"].(*string)
	require.True(t, ok)
	assert.Equal(t, "off", *from)
	assert.Equal(t, "10.0.0.1", (*log)[1].IP)
}

func TestInvalidKeys(t *testing.T) {
	svc := NewService(memoryStore{}, nil, nil)
	for _, key := range []string{"", "Has.Upper", "with space", "a/b", strings.Repeat("k", 65)} {
		_, err := svc.Put(context.Background(), rbac.Principal{UserID: 1}, key, "v", "")
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

type rolePrincipals map[int64]authz.Role

func (p rolePrincipals) Resolve(_ context.Context, userID int64) (rbac.Principal, error) {
	role, ok := p[userID]
	if !ok {
		return rbac.Principal{}, rbac.ErrNotFound
	}
	return rbac.Principal{UserID: userID, Role: role, Active: true}, nil
}

func TestHandlerPermissions(t *testing.T) {
	engine, err := authz.New(authz.DefaultCatalogSpec())
	require.NoError(t, err)
	mw := rbac.Middleware{Holder: authz.NewHolder(engine), Principals: rolePrincipals{1: authz.RoleDirector, 2: authz.RoleAdmin}}
	router := chi.NewRouter()
	router.Route("/settings", NewHandler(nil, NewService(memoryStore{}, nil, nil), mw).MountRoutes)

	do := func(userID, method, path, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		sess := &shared.Session{}
		sess.SetUser(userID)
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusForbidden, do("1", http.MethodGet, "/settings", ""))
	assert.Equal(t, http.StatusOK, do("2", http.MethodPut, "/settings/site.name", `{"value":"Beacon"}`))
	assert.Equal(t, http.StatusOK, do("2", http.MethodGet, "/settings/site.name", ""))
	assert.Equal(t, http.StatusBadRequest, do("2", http.MethodPut, "/settings/Site", `{"value":"x"}`))
	assert.Equal(t, http.StatusNotFound, do("2", http.MethodGet, "/settings/unknown", ""))
}
