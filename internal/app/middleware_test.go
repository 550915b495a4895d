package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/beacon-dash/beacon/internal/platform/httpx"
	"github.com/beacon-dash/beacon/internal/shared"
)

type stubBlocker map[string]bool

func (s stubBlocker) IsBlocked(_ context.Context, ip string) (bool, error) {
	return s[ip], nil
}

func newTestStack(t *testing.T) (*chi.Mux, MiddlewareConfig) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cfg := MiddlewareConfig{
		Config:         &Config{AppEnv: "test", RateLimitPerMin: 1000},
		SessionManager: shared.NewSessionManager(client, "beacon_session", time.Hour, false),
		CSRFManager:    shared.NewCSRFManager("secret"),
		Blacklist:      stubBlocker{"203.0.113.9": true},
	}
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(cfg) {
		r.Use(mw)
	}
	r.Get("/token", func(w http.ResponseWriter, r *http.Request) {
		token, err := cfg.CSRFManager.EnsureToken(shared.SessionFromContext(r.Context()))
		if err != nil {
			t.Fatalf("ensure token: %v", err)
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"token": token})
	})
	r.Post("/echo", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r, cfg
}

func TestCSRFRequiredOnUnsafeMethods(t *testing.T) {
	router, cfg := newTestStack(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/token", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("expected session cookie")
	}
	if rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("expected secure headers, got %v", rr.Header())
	}

	req := httptest.NewRequest(http.MethodGet, "/token", nil)
	req.AddCookie(cookies[0])
	sess, err := cfg.SessionManager.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	token := sess.Get(shared.CSRFSessionKey)
	if token == "" {
		t.Fatalf("expected stored csrf token")
	}

	req = httptest.NewRequest(http.MethodPost, "/echo", nil)
	req.AddCookie(cookies[0])
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/echo", nil)
	req.AddCookie(cookies[0])
	req.Header.Set(shared.CSRFHeader, token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with token, got %d", rr.Code)
	}
}

func TestBlacklistedAddressRejected(t *testing.T) {
	router, _ := newTestStack(t)
	req := httptest.NewRequest(http.MethodGet, "/token", nil)
	req.Header.Set("X-Real-IP", "203.0.113.9")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRouterHealthAndReadiness(t *testing.T) {
	_, cfg := newTestStack(t)
	ready := errors.New("postgres down")
	router := NewRouter(RouterParams{
		Config:         cfg.Config,
		SessionManager: cfg.SessionManager,
		CSRFManager:    cfg.CSRFManager,
		Ready:          func(context.Context) error { return ready },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	ready = nil
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{SessionSecret: "s", CSRFSecret: "c", CatalogSource: " File ", CatalogPath: "roles.yaml"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CatalogSource != CatalogSourceFile {
		t.Fatalf("expected normalised source, got %q", cfg.CatalogSource)
	}
	cfg.CatalogSource = "etcd"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown source error")
	}
	cfg = Config{CSRFSecret: "c", CatalogSource: CatalogSourceDefault}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing secret error")
	}
}
