package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"logistics/api/internal/config"
	"logistics/api/internal/session"
	"logistics/api/internal/store"
)

// pingStore overrides the health of an in-memory document store.
type pingStore struct {
	*store.MemoryStore
	pingFn func(context.Context) error
}

func (p *pingStore) Ping(ctx context.Context) error {
	if p.pingFn != nil {
		return p.pingFn(ctx)
	}
	return nil
}

func newTestService(t *testing.T, docs store.DocumentStore) *Service {
	t.Helper()
	svc, err := New(config.Defaults(), docs, session.NewMemoryStore(time.Hour), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func newTestServer(t *testing.T, docs store.DocumentStore) *HTTPServer {
	t.Helper()
	return NewHTTPServer(newTestService(t, docs), "*", zap.NewNop())
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, store.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	server := newTestServer(t, &pingStore{MemoryStore: store.NewMemoryStore()})

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if status, exists := response["status"]; !exists || status != "ready" {
		t.Errorf("expected status=ready, got %v", status)
	}

	checks, exists := response["checks"].(map[string]any)
	if !exists {
		t.Fatalf("expected checks object, got %v", response["checks"])
	}
	for _, name := range []string{"documents", "sessions"} {
		check, exists := checks[name].(map[string]any)
		if !exists {
			t.Fatalf("expected %s check, got %v", name, checks[name])
		}
		if status := check["status"]; status != "ok" {
			t.Errorf("expected %s status=ok, got %v", name, status)
		}
	}
}

func TestReadyEndpoint_DocumentStoreFailure(t *testing.T) {
	docs := &pingStore{
		MemoryStore: store.NewMemoryStore(),
		pingFn: func(context.Context) error {
			return errors.New("connection refused")
		},
	}
	server := newTestServer(t, docs)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if ok, exists := response["ok"]; !exists || ok != false {
		t.Errorf("expected ok=false, got %v", ok)
	}

	checks, _ := response["checks"].(map[string]any)
	docCheck, exists := checks["documents"].(map[string]any)
	if !exists {
		t.Fatalf("expected documents check, got %v", checks["documents"])
	}
	if docCheck["status"] != "error" {
		t.Errorf("expected documents status=error, got %v", docCheck["status"])
	}
	if docCheck["error"] != "connection refused" {
		t.Errorf("expected documents error='connection refused', got %v", docCheck["error"])
	}
}

func TestHealthEndpoint_OptionsRequest(t *testing.T) {
	server := newTestServer(t, store.NewMemoryStore())

	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
}

func TestHealthEndpoint_CORSHeaders(t *testing.T) {
	server := newTestServer(t, store.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
	if rr.Header().Get(headerRequestID) == "" {
		t.Error("expected a generated request id")
	}
	if rr.Header().Get(headerSessionID) == "" {
		t.Error("expected a generated session id")
	}
}

func TestPingMethod(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())

	checks := svc.Ping(context.Background())
	if len(checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(checks))
	}
	for name, err := range checks {
		if err != nil {
			t.Errorf("expected %s healthy, got %v", name, err)
		}
	}
}
