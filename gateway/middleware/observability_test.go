package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestObservabilityStampsRequestID(t *testing.T) {
	var observed []int
	obs := NewObservability(ObservabilityConfig{
		Observe: func(route string, status int, _ time.Duration) {
			if route != "circles.get" {
				t.Errorf("unexpected route %q", route)
			}
			observed = append(observed, status)
		},
	}, nil)
	handler := obs.Middleware("circles.get")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/circles/9", nil))
	if _, err := uuid.Parse(res.Header().Get(RequestIDHeader)); err != nil {
		t.Fatalf("expected generated request id, got %q", res.Header().Get(RequestIDHeader))
	}
	if len(observed) != 1 || observed[0] != http.StatusNotFound {
		t.Fatalf("unexpected observations %v", observed)
	}

	fixed := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/v1/circles/9", nil)
	req.Header.Set(RequestIDHeader, fixed)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Header().Get(RequestIDHeader) != fixed {
		t.Fatalf("expected caller request id to be kept")
	}

	metrics := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(metrics.Body.String(), "susud_http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example"}})(okHandler())
	req := httptest.NewRequest(http.MethodOptions, "/v1/circles", nil)
	req.Header.Set("Origin", "https://app.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if res.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("expected origin echo, got %q", res.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/circles", nil)
	req.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected origin allowed")
	}
}
