package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	// Mirrors a burst of gflow submit calls from a sweep script: two
	// requests fit in the burst, the third has to wait for a refill.
	limiter := NewLimiter(10, 2)

	if !limiter.Allow("workstation-1") {
		t.Error("first submit in the burst should be allowed")
	}
	if !limiter.Allow("workstation-1") {
		t.Error("second submit in the burst should be allowed")
	}
	if limiter.Allow("workstation-1") {
		t.Error("third submit before refill should be rate limited")
	}

	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow("workstation-1") {
		t.Error("submit after refill should be allowed")
	}
}

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(10, 2) // 10 requests per second, burst of 2

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	middleware := limiter.Middleware(func(r *http.Request) string {
		return "test-key"
	})

	wrappedHandler := middleware(handler)

	// First request should succeed
	req1 := httptest.NewRequest("GET", "/test", nil)
	rr1 := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rr1, req1)

	if rr1.Code != http.StatusOK {
		t.Errorf("First request should succeed, got status %d", rr1.Code)
	}

	// Second request should succeed
	req2 := httptest.NewRequest("GET", "/test", nil)
	rr2 := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rr2, req2)

	if rr2.Code != http.StatusOK {
		t.Errorf("Second request should succeed, got status %d", rr2.Code)
	}

	// Third immediate request should be rate limited
	req3 := httptest.NewRequest("GET", "/test", nil)
	rr3 := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rr3, req3)

	if rr3.Code != http.StatusTooManyRequests {
		t.Errorf("Third request should be rate limited, got status %d", rr3.Code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name           string
		remoteAddr     string
		xForwardedFor  string
		expectedKey    string
	}{
		{
			name:          "Direct connection",
			remoteAddr:    "192.168.1.1:12345",
			xForwardedFor: "",
			expectedKey:   "192.168.1.1:12345",
		},
		{
			name:          "Behind proxy",
			remoteAddr:    "127.0.0.1:12345",
			xForwardedFor: "203.0.113.1",
			expectedKey:   "203.0.113.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}

			key := IPKeyFunc(req)
			if key != tt.expectedKey {
				t.Errorf("Expected key %s, got %s", tt.expectedKey, key)
			}
		})
	}
}
