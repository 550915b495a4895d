package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
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

type memoryRepo struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]Item
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]Item)}
}

func (m *memoryRepo) List(_ context.Context, filter ListFilter, limit, offset int) ([]Item, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Item
	for id := int64(1); id <= m.nextID; id++ {
		item, ok := m.items[id]
		if !ok {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.AuthorID > 0 && item.AuthorID != filter.AuthorID {
			continue
		}
		matched = append(matched, item)
	}
	total := len(matched)
	if offset >= total {
		return []Item{}, total, nil
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return item, nil
}

func (m *memoryRepo) Create(_ context.Context, authorID int64, title, body string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := time.Now()
	item := Item{ID: m.nextID, Title: title, Body: body, Status: StatusDraft, AuthorID: authorID, CreatedAt: now, UpdatedAt: now}
	m.items[item.ID] = item
	return item, nil
}

func (m *memoryRepo) Update(_ context.Context, id int64, title, body *string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	if title != nil {
		item.Title = *title
	}
	if body != nil {
		item.Body = *body
	}
	m.items[id] = item
	return item, nil
}

func (m *memoryRepo) Publish(_ context.Context, id int64) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	if item.PublishedAt == nil {
		now := time.Now()
		item.PublishedAt = &now
	}
	item.Status = StatusPublished
	m.items[id] = item
	return item, nil
}

func (m *memoryRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

type auditLog struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *auditLog) Record(_ context.Context, e audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *auditLog) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *auditLog, *authz.Holder) {
	t.Helper()
	engine, err := authz.New(authz.DefaultCatalogSpec())
	require.NoError(t, err)
	holder := authz.NewHolder(engine)
	repo := newMemoryRepo()
	log := &auditLog{}
	return NewService(repo, holder, log, nil), repo, log, holder
}

func principal(id int64, role authz.Role) rbac.Principal {
	return rbac.Principal{UserID: id, Role: role, Active: true}
}

func TestAuthorMayEditOwnContent(t *testing.T) {
	svc, _, log, _ := newTestService(t)
	ctx := context.Background()
	author := principal(10, authz.RoleOfficer)
	other := principal(11, authz.RoleOfficer)

	item, err := svc.Create(ctx, author, CreateInput{Title: "  Release notes ", Body: "v1"}, "")
	require.NoError(t, err)
	assert.Equal(t, "Release notes", item.Title)
	assert.Equal(t, StatusDraft, item.Status)

	title := "Release notes v2"
	updated, err := svc.Update(ctx, author, item.ID, UpdateInput{Title: &title}, "")
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)

	_, err = svc.Update(ctx, other, item.ID, UpdateInput{Title: &title}, "")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.Delete(ctx, other, item.ID, ""), ErrForbidden)

	require.NoError(t, svc.Delete(ctx, author, item.ID, ""))
	assert.Equal(t, []string{"content.create", "content.update", "content.delete"}, log.actions())
}

func TestPermissionOverridesOwnership(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	item, err := svc.Create(ctx, principal(10, authz.RoleOfficer), CreateInput{Title: "Draft"}, "")
	require.NoError(t, err)

	body := "edited by a leader"
	_, err = svc.Update(ctx, principal(20, authz.RoleLeader), item.ID, UpdateInput{Body: &body}, "")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, principal(20, authz.RoleLeader), item.ID, ""), ErrForbidden)
	require.NoError(t, svc.Delete(ctx, principal(30, authz.RoleManager), item.ID, ""))
}

func TestPublishRequiresPermissionEvenForAuthor(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	author := principal(10, authz.RoleOfficer)
	item, err := svc.Create(ctx, author, CreateInput{Title: "Announcement"}, "")
	require.NoError(t, err)

	_, err = svc.Publish(ctx, author, item.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)

	published, err := svc.Publish(ctx, principal(30, authz.RoleManager), item.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)
}

func TestMissingItemIsNotFoundForAuthors(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	assert.ErrorIs(t, svc.Delete(context.Background(), principal(10, authz.RoleOfficer), 404, ""), ErrNotFound)
}

func TestListPagesAndFilters(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	for i := range 5 {
		_, err := svc.Create(ctx, principal(int64(10+i%2), authz.RoleOfficer), CreateInput{Title: "item"}, "")
		require.NoError(t, err)
	}
	res, err := svc.List(ctx, ListFilter{}, 2, 2)
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, 5, res.Pagination.Total)
	assert.Equal(t, 3, res.Pagination.TotalPages)

	res, err = svc.List(ctx, ListFilter{AuthorID: 11}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pagination.Total)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("published")
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, s)
	_, err = ParseStatus("archived")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

type rolePrincipals map[int64]authz.Role

func (p rolePrincipals) Resolve(_ context.Context, userID int64) (rbac.Principal, error) {
	role, ok := p[userID]
	if !ok {
		return rbac.Principal{}, rbac.ErrNotFound
	}
	return rbac.Principal{UserID: userID, Role: role, Active: true}, nil
}

func TestHandlerRoutes(t *testing.T) {
	svc, _, _, holder := newTestService(t)
	mw := rbac.Middleware{Holder: holder, Principals: rolePrincipals{10: authz.RoleOfficer, 30: authz.RoleManager}}
	router := chi.NewRouter()
	router.Route("/content", NewHandler(nil, svc, mw).MountRoutes)

	do := func(userID, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		sess := &shared.Session{}
		sess.SetUser(userID)
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := do("10", http.MethodPost, "/content", `{"title":"Hello","body":"world"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do("10", http.MethodPost, "/content", `{"body":"untitled"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do("10", http.MethodPost, "/content/1/publish", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do("30", http.MethodPost, "/content/1/publish", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do("10", http.MethodGet, "/content?status=published", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Hello"`)

	rec = do("10", http.MethodGet, "/content?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do("10", http.MethodDelete, "/content/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do("10", http.MethodGet, "/content/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
