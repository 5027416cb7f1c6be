package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	handler := RateLimit(1, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/messages/send", nil)
		req.Header.Set("X-Real-Ip", "10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("first two requests should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third request should be limited, got %v", codes)
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first request should pass")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("bucket should be empty")
	}
	now = now.Add(1500 * time.Millisecond)
	if !rl.Allow("10.0.0.1") {
		t.Fatal("bucket should have refilled")
	}
}

func TestRateLimitSetsRetryAfter(t *testing.T) {
	handler := RateLimit(0.5, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/messages/send", nil)
		req.Header.Set("X-Real-Ip", "10.0.0.9")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if i == 1 {
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("expected 429, got %d", rec.Code)
			}
			if rec.Header().Get("Retry-After") != "3" {
				t.Fatalf("expected Retry-After 3, got %q", rec.Header().Get("Retry-After"))
			}
		}
	}
}

func TestRateLimitIsolatesClients(t *testing.T) {
	handler := RateLimit(1, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodPost, "/messages/send", nil)
		req.Header.Set("X-Real-Ip", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("client %d should not share another client's bucket", i)
		}
	}
}
