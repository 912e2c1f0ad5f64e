// README: Handler tests for ride request, presence and live endpoints over the in-memory stores.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"roadhelper/internal/http/handlers"
	httpmiddleware "roadhelper/internal/http/middleware"
	"roadhelper/internal/infra"
	"roadhelper/internal/maps"
	"roadhelper/internal/modules/location"
	"roadhelper/internal/modules/riderequest"
	"roadhelper/internal/types"
)

// stubTokenVerifier is a test double for infra.TokenVerifier.
type stubTokenVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

type stubRoutes struct {
	est maps.Estimate
	err error
}

func (s *stubRoutes) ETA(_ context.Context, _, _ types.Location) (maps.Estimate, error) {
	return s.est, s.err
}

type testEnv struct {
	router   *gin.Engine
	requests *riderequest.Service
	presence *location.Service
}

// buildTestRouter wires the handlers the way the production router does, with
// dev tokens of the form "uid:role".
func buildTestRouter(t *testing.T, verifier infra.TokenVerifier, routes handlers.RouteEstimator) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	requests := riderequest.NewService(riderequest.NewMemoryStore())
	presence := location.NewService(location.NewMemoryStore(), nil)

	base, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	api := r.Group("/api", httpmiddleware.Auth(verifier))
	rh := handlers.NewRideRequestHandler(requests, routes)
	api.POST("/ride-requests", rh.Create)
	api.GET("/ride-requests/:id", rh.Get)
	api.GET("/ride-requests/:id/events", rh.Events)
	api.GET("/ride-requests/:id/eta", rh.ETA)
	api.POST("/ride-requests/:id/accept", rh.Accept)
	api.POST("/ride-requests/:id/status", rh.UpdateStatus)
	api.POST("/ride-requests/:id/locations", rh.UpdateLocations)
	ph := handlers.NewPresenceHandler(presence)
	api.PUT("/helpers/:id/presence", ph.Update)
	api.DELETE("/helpers/:id/presence", ph.Delete)

	ws := r.Group("/ws", httpmiddleware.Auth(verifier))
	lh := handlers.NewLiveHandler(base, requests, nil)
	ws.GET("/helpers/pending", lh.Pending)
	ws.GET("/ride-requests/:id", lh.Track)
	ws.GET("/customers/:id/ride-requests", lh.History)

	return &testEnv{router: r, requests: requests, presence: presence}
}

func doRequest(r *gin.Engine, method, path string, body interface{}, authHeader string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(uid, role string) string { return "Bearer " + uid + ":" + role }

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func createBody() map[string]any {
	return map[string]any{
		"customerName":     "Ayesha",
		"serviceType":      "tow",
		"location":         map[string]any{"lat": 24.8607, "lng": 67.0011, "address": "Shahrah-e-Faisal"},
		"vehicleDetails":   "Suzuki Mehran",
		"issueDescription": "engine will not start",
	}
}

// mustCreate files a tow request for customer through the API and returns its id.
func mustCreate(t *testing.T, env *testEnv, customer string) string {
	t.Helper()
	w := doRequest(env.router, http.MethodPost, "/api/ride-requests", createBody(), bearer(customer, "customer"))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	id, _ := decode(t, w)["id"].(string)
	if id == "" {
		t.Fatalf("create returned no id: %s", w.Body.String())
	}
	return id
}

func TestCreate_Unauthenticated(t *testing.T) {
	env := buildTestRouter(t, &stubTokenVerifier{err: errors.New("no token")}, nil)
	w := doRequest(env.router, http.MethodPost, "/api/ride-requests", createBody(), "Bearer badtoken")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestCreate_NoRoleClaimIsCustomer(t *testing.T) {
	env := buildTestRouter(t, &stubTokenVerifier{token: &infra.FirebaseToken{UID: "c9", Claims: map[string]interface{}{}}}, nil)
	w := doRequest(env.router, http.MethodPost, "/api/ride-requests", createBody(), "Bearer token")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	id := types.ID(decode(t, w)["id"].(string))
	r, err := env.requests.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.CustomerID != "c9" || r.Status != riderequest.StatusPending {
		t.Fatalf("unexpected stored request: %+v", r)
	}
}

func TestCreate_Authorization(t *testing.T) {
	env := buildTestRouter(t, infra.DevVerifier{}, nil)

	body := createBody()
	body["customerId"] = "someone-else"
	if w := doRequest(env.router, http.MethodPost, "/api/ride-requests", body, bearer("c1", "customer")); w.Code != http.StatusForbidden {
		t.Errorf("customer filing for another: expected 403, got %d", w.Code)
	}
	if w := doRequest(env.router, http.MethodPost, "/api/ride-requests", createBody(), bearer("h1", "helper")); w.Code != http.StatusForbidden {
		t.Errorf("helper creating: expected 403, got %d", w.Code)
	}
	if w := doRequest(env.router, http.MethodPost, "/api/ride-requests", body, bearer("a1", "admin")); w.Code != http.StatusCreated {
		t.Errorf("admin filing for a customer: expected 201, got %d", w.Code)
	}
}

func TestCreate_ValidationNamesField(t *testing.T) {
	env := buildTestRouter(t, infra.DevVerifier{}, nil)
	cases := []struct {
		name  string
		edit  func(map[string]any)
		field string
	}{
		{"missing vehicle", func(b map[string]any) { delete(b, "vehicleDetails") }, "vehicleDetails"},
		{"unknown service", func(b map[string]any) { b["serviceType"] = "taxi" }, "serviceType"},
		{"missing location", func(b map[string]any) { delete(b, "location") }, "location"},
		{"location without lng", func(b map[string]any) { b["location"] = map[string]any{"lat": 24.8} }, "location"},
	}
	for _, tc := range cases {
		body := createBody()
		tc.edit(body)
		w := doRequest(env.router, http.MethodPost, "/api/ride-requests", body, bearer("c1", "customer"))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, w.Code)
			continue
		}
		if msg, _ := decode(t, w)["error"].(string); !strings.HasPrefix(msg, tc.field) {
			t.Errorf("%s: error %q does not name %s", tc.name, msg, tc.field)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/ride-requests", strings.NewReader("{"))
	req.Header.Set("Authorization", bearer("c1", "customer"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed json: expected 400, got %d", w.Code)
	}
}

func TestGet_Access(t *testing.T) {
	env := buildTestRouter(t, infra.DevVerifier{}, nil)
	id := mustCreate(t, env, "c1")
	path := "/api/ride-requests/" + id

	if w := doRequest(env.router, http.MethodGet, path, nil, bearer("c1", "customer")); w.Code != http.StatusOK {
		t.Fatalf("owner: expected 200, got %d", w.Code)
	} else if body := decode(t, w); body["status"] != "pending" || body["vehicleDetails"] != "Suzuki Mehran" {
		t.Fatalf("unexpected body: %v", body)
	}
	if w := doRequest(env.router, http.MethodGet, path, nil, bearer("c2", "customer")); w.Code != http.StatusForbidden {
		t.Errorf("other customer: expected 403, got %d", w.Code)
	}
	if w := doRequest(env.router, http.MethodGet, path, nil, bearer("h1", "helper")); w.Code != http.StatusOK {
		t.Errorf("helper on pending request: expected 200, got %d", w.Code)
	}
	if w := doRequest(env.router, http.MethodGet, "/api/ride-requests/missing", nil, bearer("c1", "customer")); w.Code != http.StatusNotFound {
		t.Errorf("missing: expected 404, got %d", w.Code)
	}
	if w := doRequest(env.router, http.MethodGet, "/api/ride-requests/bad$id", nil, bearer("c1", "customer")); w.Code != http.StatusBadRequest {
		t.Errorf("malformed id: expected 400, got %d", w.Code)
	}

	if w := doRequest(env.router, http.MethodPost, path+"/accept", nil, bearer("h1", "helper")); w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", w.Code)
	}
	if w := doRequest(env.router, http.MethodGet, path, nil, bearer("h2", "helper")); w.Code != http.StatusForbidden {
		t.Errorf("unassigned helper after accept: expected 403, got %d", w.Code)
	}
}

func TestAccept_OneWinner(t *testing.T) {
	env := buildTestRouter(t, infra.DevVerifier{}, nil)
	id := mustCreate(t, env, "c1")
	path := "/api/ride-requests/" + id + "/accept"

	if w := doRequest(env.router, http.MethodPost, path, nil, bearer("c1", "customer")); w.Code != http.StatusForbidden {
		t.Errorf("customer accepting: expected 403, got %d", w.Code)
	}

	w := doRequest(env.router, http.MethodPost, path, map[string]any{
		"helperName":     "Bilal",
		"helperLocation": map[string]any{"lat": 24.87, "lng": 67.02},
	}, bearer("h1", "helper"))
	if w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body := decode(t, w); body["status"] != "accepted" || body["helperId"] != "h1" {
		t.Fatalf("unexpected accept body: %v", body)
	}

	w = doRequest(env.router, http.MethodPost, path, nil, bearer("h2", "helper"))
	if w.Code != http.StatusConflict {
		t.Fatalf("second accept: expected 409, got %d", w.Code)
	}
	if msg := decode(t, w)["error"]; msg != "this request is no longer available" {
		t.Fatalf("conflict message = %v", msg)
	}

	r, _ := env.requests.Get(context.Background(), types.ID(id))
	if r.HelperName == nil || *r.HelperName != "Bilal" || r.HelperLocation == nil {
		t.Fatalf("accept did not record helper details: %+v", r)
	}
}

func TestUpdateStatus_Lifecycle(t *testing.T) {
	env := buildTestRouter(t, infra.DevVerifier{}, nil)
	id := mustCreate(t, env, "c1")
	base := "/api/ride-requests/" + id
	status := func(s, token string) int {
		return doRequest(env.router, http.MethodPost, base+"/status", map[string]any{"status": s}, token).Code
	}

	if got := status("finished", bearer("c1", "customer")); got != http.StatusBadRequest {
		t.Errorf("unknown status: expected 400, got %d", got)
	}
	if got := status("accepted", bearer("a1", "admin")); got != http.StatusConflict {
		t.Errorf("accepted via status: expected 409, got %d", got)
	}
	if got := status("completed", bearer("a1", "admin")); got != http.StatusConflict {
		t.Errorf("pending to completed: expected 409, got %d", got)
	}
	if w := doRequest(env.router, http.MethodPost, base+"/accept", nil, bearer("h1", "helper")); w.Code != http.StatusOK {
		t.Fatalf("accept: %d", w.Code)
	}
	if got := status("in_progress", bearer("h2", "helper")); got != http.StatusForbidden {
		t.Errorf("other helper starting: expected 403, got %d", got)
	}
	if got := status("in_progress", bearer("h1", "helper")); got != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", got)
	}
	if got := status("completed", bearer("c1", "customer")); got != http.StatusForbidden {
		t.Errorf("customer completing: expected 403, got %d", got)
	}
	if got := status("completed", bearer("h1", "helper")); got != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", got)
	}
	if got := status("cancelled", bearer("c1", "customer")); got != http.StatusConflict {
		t.Errorf("cancel after completion: expected 409, got %d", got)
	}

	r, _ := env.requests.Get(context.Background(), types.ID(id))
	if r.Status != riderequest.StatusCompleted || r.CompletedAt == nil {
		t.Fatalf("unexpected final request: %+v", r)
	}
}

func TestUpdateLocations(t *testing.T) {
	env := buildTestRouter(t, infra.DevVerifier{}, nil)
	id := mustCreate(t, env, "c1")
	path := "/api/ride-requests/" + id + "/locations"

	w := doRequest(env.router, http.MethodPost, path, map[string]any{
		"customerLocation": map[string]any{"lat": 24.9, "lng": 67.1},
	}, bearer("c1", "customer"))
	if w.Code != http.StatusNoContent {
		t.Fatalf("customer location: expected 204, got %d: %s", w.Code, w.Body.String())
	}
	w = doRequest(env.router, http.MethodPost, path, map[string]any{
		"helperLocation": map[string]any{"lat": 24.9, "lng": 67.1},
	}, bearer("a1", "admin"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("helper location before accept: expected 400, got %d", w.Code)
	}
	if w := doRequest(env.router, http.MethodPost, path, map[string]any{}, bearer("c1", "customer")); w.Code != http.StatusBadRequest {
		t.Errorf("no locations: expected 400, got %d", w.Code)
	}
	w = doRequest(env.router, http.MethodPost, path, map[string]any{
		"customerLocation": map[string]any{"lat": 24.9, "lng": 67.1},
	}, bearer("c2", "customer"))
	if w.Code != http.StatusForbidden {
		t.Errorf("other customer: expected 403, got %d", w.Code)
	}

	r, _ := env.requests.Get(context.Background(), types.ID(id))
	if r.CustomerLocation == nil || r.CustomerLocation.Lat != 24.9 {
		t.Fatalf("customer location not stored: %+v", r.CustomerLocation)
	}
}

func TestEvents_AdminOnly(t *testing.T) {
	env := buildTestRouter(t, infra.DevVerifier{}, nil)
	id := mustCreate(t, env, "c1")
	path := "/api/ride-requests/" + id + "/events"
	if w := doRequest(env.router, http.MethodGet, path, nil, bearer("c1", "customer")); w.Code != http.StatusForbidden {
		t.Errorf("customer: expected 403, got %d", w.Code)
	}
	w := doRequest(env.router, http.MethodGet, path, nil, bearer("a1", "admin"))
	if w.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", w.Code)
	}
	if events, ok := decode(t, w)["events"].([]any); !ok || len(events) != 0 {
		t.Fatalf("expected empty events without an event log, got %s", w.Body.String())
	}
}

func TestETA(t *testing.T) {
	env := buildTestRouter(t, infra.DevVerifier{}, nil)
	id := mustCreate(t, env, "c1")
	if w := doRequest(env.router, http.MethodGet, "/api/ride-requests/"+id+"/eta", nil, bearer("c1", "customer")); w.Code != http.StatusServiceUnavailable {
		t.Errorf("without maps: expected 503, got %d", w.Code)
	}

	routes := &stubRoutes{est: maps.Estimate{Duration: 7 * time.Minute, DurationSec: 420, DistanceMeters: 3100, DistanceText: "3.1 km"}}
	env = buildTestRouter(t, infra.DevVerifier{}, routes)
	id = mustCreate(t, env, "c1")
	path := "/api/ride-requests/" + id + "/eta"
	if w := doRequest(env.router, http.MethodGet, path, nil, bearer("c1", "customer")); w.Code != http.StatusConflict {
		t.Errorf("before helper location: expected 409, got %d", w.Code)
	}
	doRequest(env.router, http.MethodPost, "/api/ride-requests/"+id+"/accept", map[string]any{
		"helperLocation": map[string]any{"lat": 24.88, "lng": 67.03},
	}, bearer("h1", "helper"))

	w := doRequest(env.router, http.MethodGet, path, nil, bearer("c1", "customer"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body := decode(t, w); body["durationSeconds"] != float64(420) || body["distanceText"] != "3.1 km" {
		t.Fatalf("unexpected estimate: %v", body)
	}

	routes.err = maps.ErrNoRoute
	if w := doRequest(env.router, http.MethodGet, path, nil, bearer("c1", "customer")); w.Code != http.StatusNotFound {
		t.Errorf("no route: expected 404, got %d", w.Code)
	}
}

func TestPresence(t *testing.T) {
	env := buildTestRouter(t, infra.DevVerifier{}, nil)
	ctx := context.Background()
	body := map[string]any{"lat": 24.86, "lng": 67.0, "deviceToken": "tok-h1", "serviceTypes": []string{"tow", "Fuel"}}

	if w := doRequest(env.router, http.MethodPut, "/api/helpers/h1/presence", body, bearer("h2", "helper")); w.Code != http.StatusForbidden {
		t.Errorf("other helper: expected 403, got %d", w.Code)
	}
	if w := doRequest(env.router, http.MethodPut, "/api/helpers/h1/presence", body, bearer("h1", "customer")); w.Code != http.StatusForbidden {
		t.Errorf("customer role: expected 403, got %d", w.Code)
	}
	bad := map[string]any{"lat": 24.86, "lng": 67.0, "serviceTypes": []string{"taxi"}}
	if w := doRequest(env.router, http.MethodPut, "/api/helpers/h1/presence", bad, bearer("h1", "helper")); w.Code != http.StatusBadRequest {
		t.Errorf("unknown service type: expected 400, got %d", w.Code)
	}
	if w := doRequest(env.router, http.MethodPut, "/api/helpers/h1/presence", map[string]any{"lat": 24.86}, bearer("h1", "helper")); w.Code != http.StatusBadRequest {
		t.Errorf("missing lng: expected 400, got %d", w.Code)
	}

	if w := doRequest(env.router, http.MethodPut, "/api/helpers/h1/presence", body, bearer("h1", "helper")); w.Code != http.StatusOK {
		t.Fatalf("online: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	near, err := env.presence.NearbyHelpers(ctx, types.Location{Lat: 24.861, Lng: 67.001}, 5, 0)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(near) != 1 || near[0].HelperID != "h1" || !near[0].Serves("fuel") {
		t.Fatalf("unexpected presence: %+v", near)
	}

	if w := doRequest(env.router, http.MethodDelete, "/api/helpers/h1/presence", nil, bearer("h1", "helper")); w.Code != http.StatusOK {
		t.Fatalf("offline: expected 200, got %d", w.Code)
	}
	near, _ = env.presence.NearbyHelpers(ctx, types.Location{Lat: 24.861, Lng: 67.001}, 5, 0)
	if len(near) != 0 {
		t.Fatalf("helper still online after delete: %+v", near)
	}
}
