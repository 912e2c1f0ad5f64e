package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	httptransport "roadhelper/internal/http"
	"roadhelper/internal/infra"
	"roadhelper/internal/modules/location"
	"roadhelper/internal/modules/riderequest"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return httptransport.NewRouter(ctx, httptransport.RouterDeps{
		Requests: riderequest.NewService(riderequest.NewMemoryStore()),
		Presence: location.NewService(location.NewMemoryStore(), nil),
		Verifier: infra.DevVerifier{},
	})
}

func TestRouterPublicEndpoints(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("health: %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "roadhelper_http_requests_total") {
		t.Fatalf("metrics: %d", w.Code)
	}
}

func TestRouterRequiresAuth(t *testing.T) {
	r := newRouter(t)
	for _, path := range []string{"/api/ride-requests/abc", "/ws/helpers/pending"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/ride-requests/abc", nil)
	req.Header.Set("Authorization", "Bearer c1:customer")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("authenticated lookup of missing request: expected 404, got %d", w.Code)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := httptransport.NewRouter(context.Background(), httptransport.RouterDeps{
		Requests:    riderequest.NewService(riderequest.NewMemoryStore()),
		Presence:    location.NewService(location.NewMemoryStore(), nil),
		Verifier:    infra.DevVerifier{},
		CORSOrigins: []string{"https://app.example.com"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/ride-requests", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/ride-requests", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign origin: expected 403, got %d", w.Code)
	}
}
