package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthHandlerReturnsOKWhenHealthy(t *testing.T) {
	srv := New(context.Background(), ":0", func() bool { return true })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealthHandlerReturns503WhenUnhealthy(t *testing.T) {
	srv := New(context.Background(), ":0", func() bool { return false })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	srv := New(context.Background(), ":0", func() bool { return true })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct == "" {
		t.Error("expected a Content-Type header from the prometheus handler")
	}
}

func TestShutdownOnUnstartedServerIsNoOp(t *testing.T) {
	srv := New(context.Background(), "127.0.0.1:0", func() bool { return true })
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on an unstarted server should be a no-op: %v", err)
	}
}
