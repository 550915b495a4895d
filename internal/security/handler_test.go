package security

import (
	"context"
	"net/http"
	"net/http/httptest"
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

type rolePrincipals map[int64]authz.Role

func (p rolePrincipals) Resolve(_ context.Context, userID int64) (rbac.Principal, error) {
	role, ok := p[userID]
	if !ok {
		return rbac.Principal{}, rbac.ErrNotFound
	}
	return rbac.Principal{UserID: userID, Role: role, Active: true}, nil
}

type recordedEntries struct {
	entries []audit.Entry
}

func (r *recordedEntries) Record(_ context.Context, e audit.Entry) error {
	r.entries = append(r.entries, e)
	return nil
}

func newSecurityRouter(t *testing.T) (http.Handler, *Blacklist, *recordedEntries) {
	t.Helper()
	engine, err := authz.New(authz.DefaultCatalogSpec())
	require.NoError(t, err)
	mw := rbac.Middleware{
		Holder:     authz.NewHolder(engine),
		Principals: rolePrincipals{1: authz.RoleDirector, 2: authz.RoleAdmin, 3: authz.RoleManager},
	}
	bl := NewBlacklist(newMemoryStore(), time.Minute)
	rec := &recordedEntries{}
	r := chi.NewRouter()
	r.Route("/security", NewHandler(nil, bl, rec, mw).MountRoutes)
	return r, bl, rec
}

func asUser(req *http.Request, id string) *http.Request {
	sess := &shared.Session{}
	sess.SetUser(id)
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func TestBlacklistEndpointsRequirePermissions(t *testing.T) {
	router, _, _ := newSecurityRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/security/blacklist", nil), "3"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/security/blacklist", nil), "1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	body := strings.NewReader(`{"ip":"192.0.2.1","reason":"abuse"}`)
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/security/blacklist", body), "1"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBlacklistAddAndRemove(t *testing.T) {
	router, bl, audits := newSecurityRouter(t)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"ip":"192.0.2.1","reason":"abuse","ttl_seconds":600}`)
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/security/blacklist", body), "2"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	blocked, err := bl.IsBlocked(ctx, "192.0.2.1")
	require.NoError(t, err)
	assert.True(t, blocked)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodDelete, "/security/blacklist/192.0.2.1", nil), "2"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodDelete, "/security/blacklist/192.0.2.1", nil), "2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Len(t, audits.entries, 2)
	assert.Equal(t, "blacklist.add", audits.entries[0].Action)
	assert.Equal(t, int64(2), audits.entries[0].ActorID)
}

func TestBlacklistAddValidatesIP(t *testing.T) {
	router, _, _ := newSecurityRouter(t)
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"ip":"999.1.1.1"}`)
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/security/blacklist", body), "2"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ip"`)
}

func TestBlockMiddleware(t *testing.T) {
	bl := NewBlacklist(newMemoryStore(), time.Minute)
	_, err := bl.Add(context.Background(), "192.0.2.50", "", nil, 0)
	require.NoError(t, err)
	handler := BlockMiddleware(bl, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.50:4321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req.RemoteAddr = "192.0.2.51:4321"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
