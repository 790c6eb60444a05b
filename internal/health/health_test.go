package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandlerAllHealthy(t *testing.T) {
	handler := NewHandler("test")
	handler.Register("storage", func() error { return nil })
	handler.Register("broker", func() error { return nil })

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var response Response
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Fatalf("expected healthy status, got %s", response.Status)
	}
	if len(response.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(response.Checks))
	}
	if response.Version != "test" {
		t.Fatalf("expected version test, got %s", response.Version)
	}
}

func TestHandlerUnhealthyComponent(t *testing.T) {
	handler := NewHandler("test")
	handler.Register("storage", func() error { return errors.New("connection refused") })

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}

	var response Response
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy status, got %s", response.Status)
	}
	if response.Checks["storage"].Message != "connection refused" {
		t.Fatalf("unexpected check message: %q", response.Checks["storage"].Message)
	}
}

func TestReadinessHandler(t *testing.T) {
	handler := NewHandler("test")

	recorder := httptest.NewRecorder()
	handler.ReadinessHandler(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with no checks, got %d", recorder.Code)
	}

	handler.Register("storage", func() error { return errors.New("down") })
	recorder = httptest.NewRecorder()
	handler.ReadinessHandler(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	recorder := httptest.NewRecorder()
	LivenessHandler(recorder, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}
