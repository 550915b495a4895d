package analytichttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/beacon-dash/beacon/internal/analytics"
	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/shared"
)

type stubService struct {
	summary     analytics.Summary
	invalidated int
}

func (s *stubService) GetSummary(ctx context.Context) (analytics.Summary, error) {
	return s.summary, nil
}

func (s *stubService) Invalidate(ctx context.Context) error {
	s.invalidated++
	return nil
}

type rolePrincipals map[int64]authz.Role

func (p rolePrincipals) Resolve(_ context.Context, userID int64) (rbac.Principal, error) {
	role, ok := p[userID]
	if !ok {
		return rbac.Principal{}, rbac.ErrNotFound
	}
	return rbac.Principal{UserID: userID, Role: role, Active: true}, nil
}

func newTestRouter(t *testing.T) (chi.Router, *stubService) {
	t.Helper()
	engine, err := authz.New(authz.DefaultCatalogSpec())
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	service := &stubService{summary: analytics.Summary{
		Users:      analytics.UserStats{Total: 4, Active: 3, ByRole: map[string]int64{"Officer": 4}},
		Content:    analytics.ContentStats{Total: 2, Published: 1, Drafts: 1},
		BlockedIPs: 1,
		Activity:   []analytics.DayActivity{{Day: "2025-02-15", Events: 6}},
	}}
	mw := rbac.Middleware{
		Holder:     authz.NewHolder(engine),
		Principals: rolePrincipals{1: authz.RoleOfficer, 2: authz.RoleManager, 3: authz.RoleDirector},
	}
	handler := NewHandler(nil, service, mw)
	handler.WithNow(func() time.Time { return time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC) })
	router := chi.NewRouter()
	router.Route("/analytics", handler.MountRoutes)
	return router, service
}

func serve(router http.Handler, userID, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	sess := &shared.Session{}
	sess.SetUser(userID)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestSummaryRequiresPermission(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := serve(router, "1", http.MethodGet, "/analytics/summary")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestSummarySuccess(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := serve(router, "2", http.MethodGet, "/analytics/summary")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"blocked_ips":1`) {
		t.Fatalf("expected blocked ip count in response: %s", body)
	}
}

func TestCSVExport(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := serve(router, "2", http.MethodGet, "/analytics/summary.csv")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without export permission, got %d", rr.Code)
	}

	rr = serve(router, "3", http.MethodGet, "/analytics/summary.csv")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %s", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "beacon-analytics-2025-02-15.csv") {
		t.Fatalf("unexpected disposition %s", cd)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Metric,Value") {
		t.Fatalf("expected summary section in CSV")
	}
	if !strings.Contains(body, "2025-02-15,6") {
		t.Fatalf("expected activity section in CSV: %s", body)
	}
}

func TestExportIsRateLimited(t *testing.T) {
	router, _ := newTestRouter(t)
	for i := 0; i < 10; i++ {
		if rr := serve(router, "3", http.MethodGet, "/analytics/summary.csv"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := serve(router, "3", http.MethodGet, "/analytics/summary.csv")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestRefreshInvalidatesCache(t *testing.T) {
	router, service := newTestRouter(t)
	rr := serve(router, "3", http.MethodPost, "/analytics/refresh")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if service.invalidated != 1 {
		t.Fatalf("expected one invalidation, got %d", service.invalidated)
	}
}
