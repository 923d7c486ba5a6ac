package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("key") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("key") {
		t.Fatal("request over the limit should be denied")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	if !rl.Allow("a") {
		t.Fatal("first key should be allowed")
	}
	if !rl.Allow("b") {
		t.Fatal("second key should be allowed")
	}
	if rl.Allow("a") {
		t.Fatal("first key should now be denied")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)

	if !rl.Allow("key") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("key") {
		t.Fatal("second request inside the window should be denied")
	}

	time.Sleep(30 * time.Millisecond)

	if !rl.Allow("key") {
		t.Fatal("request after the window should be allowed")
	}
}

func TestRateLimiterRemaining(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)

	if got := rl.Remaining("key"); got != 2 {
		t.Errorf("Remaining = %d, want 2", got)
	}
	rl.Allow("key")
	if got := rl.Remaining("key"); got != 1 {
		t.Errorf("Remaining = %d, want 1", got)
	}
	rl.Allow("key")
	rl.Allow("key")
	if got := rl.Remaining("key"); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
}

func TestOTPResendLimiterThrottlesSecondRequest(t *testing.T) {
	limiter := NewOTPResendLimiter(time.Minute)
	handler := limiter.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/resend-otp", nil)
		req.RemoteAddr = ip + ":12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send("10.0.0.1"); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", rec.Code)
	}

	rec := send("10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header")
	}

	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code    string `json:"code"`
			Details struct {
				RetryAfter int64  `json:"retryAfter"`
				RetryAt    string `json:"retryAt"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode 429 body: %v", err)
	}
	if body.Success {
		t.Error("success must be false")
	}
	if body.Error.Code != "TOO_MANY_REQUESTS" {
		t.Errorf("error code = %q", body.Error.Code)
	}
	if body.Error.Details.RetryAt == "" {
		t.Error("expected retryAt in details")
	}

	// a different client is unaffected
	if rec := send("10.0.0.2"); rec.Code != http.StatusOK {
		t.Fatalf("other client: status = %d, want 200", rec.Code)
	}
}

func TestClientIPPrefersForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:4567"

	if got := ClientIP(req); got != "10.0.0.9" {
		t.Errorf("ClientIP = %q, want socket peer", got)
	}

	req.Header.Set("X-Real-IP", "203.0.113.7")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Errorf("ClientIP = %q, want X-Real-IP", got)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.4, 203.0.113.7")
	if got := ClientIP(req); got != "198.51.100.4" {
		t.Errorf("ClientIP = %q, want first X-Forwarded-For hop", got)
	}
}
