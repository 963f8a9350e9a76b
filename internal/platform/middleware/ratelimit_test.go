package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
)

func rateLimited(cfg RateLimitConfig) (echo.HandlerFunc, *echo.Echo) {
	e := echo.New()
	return RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}), e
}

func sendFrom(e *echo.Echo, h echo.HandlerFunc, ip string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":12345"
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_RequestsWithinBurst(t *testing.T) {
	h, e := rateLimited(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		rec, err := sendFrom(e, h, "10.0.0.1")
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	h, e := rateLimited(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if _, err := sendFrom(e, h, "10.0.0.1"); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	rec, err := sendFrom(e, h, "10.0.0.1")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}
	retry, convErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if convErr != nil || retry < 1 {
		t.Errorf("expected Retry-After >= 1, got %q", rec.Header().Get("Retry-After"))
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining '0', got %q", got)
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	h, e := rateLimited(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := sendFrom(e, h, "10.0.0.1"); err != nil {
		t.Fatalf("first client: expected no error, got %v", err)
	}
	if _, err := sendFrom(e, h, "10.0.0.1"); err == nil {
		t.Fatal("first client: expected rate limit on second request")
	}
	if _, err := sendFrom(e, h, "10.0.0.2"); err != nil {
		t.Fatalf("second client: expected no error, got %v", err)
	}
}

func TestLimiterStore_ForgetsLeastRecentClient(t *testing.T) {
	s, err := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, MaxClients: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := s.get("a")
	if a != s.get("a") {
		t.Error("expected the same limiter for the same key")
	}
	b := s.get("b")
	s.get("a")
	s.get("c")
	if s.len() != 2 {
		t.Fatalf("expected 2 clients, got %d", s.len())
	}
	if s.get("a") != a {
		t.Error("expected recently seen client to be kept")
	}
	if s.get("b") == b {
		t.Error("expected least recently seen client to be forgotten")
	}
}

func TestLimiterStore_DefaultsSize(t *testing.T) {
	s, err := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.cfg.MaxClients != 10000 {
		t.Errorf("expected default of 10000 clients, got %d", s.cfg.MaxClients)
	}
}
