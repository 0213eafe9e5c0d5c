package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	svc := newTestService(newFakeStore())
	server := NewHTTPServer(svc, "*", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	response := decodeEnvelope(t, rr)
	if response["success"] != true {
		t.Errorf("expected success=true, got %v", response["success"])
	}
	data, _ := response["data"].(map[string]any)
	if ok, exists := data["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	fs := newFakeStore()
	fs.pingFn = func(context.Context) error {
		return nil
	}
	server := NewHTTPServer(newTestService(fs), "*", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	data, _ := decodeEnvelope(t, rr)["data"].(map[string]any)
	if data["ok"] != true {
		t.Errorf("expected ok=true, got %v", data["ok"])
	}
	if data["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", data["status"])
	}

	checks, _ := data["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	if database["status"] != "ok" {
		t.Errorf("expected database status=ok, got %v", database["status"])
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	fs := newFakeStore()
	fs.pingFn = func(context.Context) error {
		return errors.New("connection refused")
	}
	server := NewHTTPServer(newTestService(fs), "*", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	data, _ := decodeEnvelope(t, rr)["data"].(map[string]any)
	if data["ok"] != false || data["status"] != "not_ready" {
		t.Errorf("unexpected readiness %v", data)
	}
	checks, _ := data["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	if database["status"] != "error" || database["error"] != "connection refused" {
		t.Errorf("unexpected database check %v", database)
	}
}

func TestOptionsRequest(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*", nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rr.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "https://app.example.com", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("expected configured origin, got %q", got)
	}
	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("expected request id to be echoed, got %q", got)
	}
	metadata, _ := decodeEnvelope(t, rr)["metadata"].(map[string]any)
	if metadata["requestId"] != "req-123" {
		t.Errorf("expected requestId in metadata, got %v", metadata["requestId"])
	}
	if _, ok := metadata["processingTime"]; !ok {
		t.Error("expected processingTime in metadata")
	}
}
