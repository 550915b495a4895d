package audithttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/beacon-dash/beacon/internal/audit"
	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

type rolePrincipals map[int64]authz.Role

func (p rolePrincipals) Resolve(_ context.Context, userID int64) (rbac.Principal, error) {
	role, ok := p[userID]
	if !ok {
		return rbac.Principal{}, rbac.ErrNotFound
	}
	return rbac.Principal{UserID: userID, Role: role, Active: true}, nil
}

func newAuditHandler(t *testing.T, service *stubTimelineService) *Handler {
	t.Helper()
	engine, err := authz.New(authz.DefaultCatalogSpec())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	mw := rbac.Middleware{
		Holder:     authz.NewHolder(engine),
		Principals: rolePrincipals{1: authz.RoleOfficer, 7: authz.RoleSupervisor},
	}
	handler := NewHandler(nil, service, audit.CSVExporter{}, mw)
	handler.now = func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) }
	return handler
}

func withUser(req *http.Request, id string) *http.Request {
	sess := &shared.Session{}
	sess.SetUser(id)
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func mount(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/audit", handler.MountRoutes)
	return r
}

func TestTimelineRequiresPermission(t *testing.T) {
	router := mount(newAuditHandler(t, &stubTimelineService{}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without session, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/audit/", nil), "1"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for officer, got %d", rr.Code)
	}
}

func TestTimelineRendersRows(t *testing.T) {
	rows := []audit.TimelineRow{{At: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), ActorEmail: "auditor@example.com", Action: "update", Entity: "content", EntityID: "1"}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	router := mount(newAuditHandler(t, service))

	req := withUser(httptest.NewRequest(http.MethodGet, "/audit/?from=2024-03-01&to=2024-03-15", nil), "7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); !strings.Contains(body, "auditor@example.com") {
		t.Fatalf("expected actor in response: %s", body)
	}
	if service.lastFilters.From.Format("2006-01-02") != "2024-03-01" {
		t.Fatalf("unexpected filters: %+v", service.lastFilters)
	}
	if service.lastFilters.To.Format("2006-01-02") != "2024-03-16" {
		t.Fatalf("expected inclusive upper bound, got %v", service.lastFilters.To)
	}
}

func TestTimelineRejectsInvertedRange(t *testing.T) {
	handler := newAuditHandler(t, &stubTimelineService{})
	req := httptest.NewRequest(http.MethodGet, "/audit/?from=2024-03-10&to=2024-03-01", nil)
	rr := httptest.NewRecorder()
	handler.handleTimeline(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestExportCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.TimelineRow{{ActorEmail: "auditor@example.com", Action: "create", Entity: "user", EntityID: "3"}}}
	router := mount(newAuditHandler(t, service))
	req := withUser(httptest.NewRequest(http.MethodGet, "/audit/export.csv?from=2024-03-01&to=2024-03-05", nil), "7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ctype := rr.Header().Get("Content-Type"); !strings.Contains(ctype, "text/csv") {
		t.Fatalf("unexpected content-type: %s", ctype)
	}
	if !strings.Contains(rr.Body.String(), "auditor@example.com") {
		t.Fatalf("expected row in csv: %s", rr.Body.String())
	}
}
