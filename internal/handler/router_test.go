package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nicolas-growmodo/twiliner-integration/internal/metrics"
	"github.com/nicolas-growmodo/twiliner-integration/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func TestNewRouter_HealthEndpoint(t *testing.T) {
	router := NewRouter(&RouterDeps{
		Processor:     &mockProcessor{},
		HealthChecker: &mockHealthChecker{},
		Logger:        newTestLogger(&bytes.Buffer{}),
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestNewRouter_HealthEndpoint_NilCheckerIsOK(t *testing.T) {
	router := NewRouter(&RouterDeps{Processor: &mockProcessor{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_HealthEndpoint_CheckerFailure(t *testing.T) {
	router := NewRouter(&RouterDeps{
		Processor: &mockProcessor{},
		HealthChecker: &mockHealthChecker{pingFn: func(ctx context.Context) error {
			return errors.New("connection refused")
		}},
		Logger: newTestLogger(&bytes.Buffer{}),
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(w.Body.String(), "unavailable") {
		t.Errorf("body = %q, want unavailable status", w.Body.String())
	}
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	router := NewRouter(&RouterDeps{
		Processor: &mockProcessor{},
		Gatherer:  reg,
		Metrics:   collector,
		Logger:    newTestLogger(&bytes.Buffer{}),
	})

	// Webhookを1件受信してからメトリクスを取得する
	postWebhook(t, router, `{"event_type":"booking.deleted"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Result().Body)
	if !strings.Contains(string(body), `twiliner_webhook_events_total{event_type="other",result="ignored"} 1`) {
		t.Errorf("metrics output missing webhook counter:\n%s", body)
	}
}

func TestNewRouter_MetricsEndpoint_DisabledWithoutGatherer(t *testing.T) {
	router := NewRouter(&RouterDeps{Processor: &mockProcessor{}})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("GET /metrics status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestNewRouter_WebhookRejectsGET(t *testing.T) {
	router := NewRouter(&RouterDeps{Processor: &mockProcessor{}})

	req := httptest.NewRequest(http.MethodGet, "/webhook/turnit", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /webhook/turnit status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestNewRouter_AppliesMiddleware(t *testing.T) {
	router := NewRouter(&RouterDeps{Processor: &mockProcessor{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Errorf("expected %s header to be set", middleware.RequestIDHeader)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers to be set")
	}
}

func TestNewRouter_WebhookUsesRequestIDAsDeliveryID(t *testing.T) {
	var buf bytes.Buffer
	router := NewRouter(&RouterDeps{
		Processor: &mockProcessor{},
		Logger:    newTestLogger(&buf),
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/turnit", strings.NewReader(bookingCreatedBody))
	req.Header.Set(middleware.RequestIDHeader, "delivery-abc")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(buf.String(), `"delivery_id":"delivery-abc"`) {
		t.Errorf("expected delivery_id in logs, got:\n%s", buf.String())
	}
}
