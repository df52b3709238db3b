package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pingableClient struct{ err error }

func (p *pingableClient) Ping(context.Context) error { return p.err }

func TestHealthChecker_Basic(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: "healthy"} })
	status := hc.CheckHealth()
	if status.Status != "healthy" {
		t.Fatalf("expected healthy")
	}
}

func TestHTTPServiceHealthCheck(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) }))
	defer s.Close()
	res := HTTPServiceHealthCheck("svc", s.URL)()
	if res.Status != "healthy" {
		t.Fatalf("expected healthy")
	}
}

func TestCacheHealthCheck_Healthy(t *testing.T) {
	res := CacheHealthCheck(&pingableClient{}, nil)()
	if res.Status != "healthy" {
		t.Fatalf("expected healthy, got %s", res.Status)
	}
}

func TestCacheHealthCheck_FallbackIsDegradedNotUnhealthy(t *testing.T) {
	res := CacheHealthCheck(&pingableClient{err: context.DeadlineExceeded}, func() bool { return true })()
	if res.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", res.Status)
	}
}

func TestCacheHealthCheck_NilIsUnhealthy(t *testing.T) {
	res := CacheHealthCheck(nil, nil)()
	if res.Status != "unhealthy" {
		t.Fatalf("expected unhealthy, got %s", res.Status)
	}
}
