package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAuthenticatorAttachesCaller(t *testing.T) {
	caller := [20]byte{0x42}
	auth := NewAuthenticator(AuthConfig{HMACSecret: "s3cret", Issuer: "brokerfund", Audience: "api"}, nil)
	var seen [20]byte
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = Caller(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := IssueToken("s3cret", "brokerfund", "api", caller, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if seen != caller {
		t.Fatalf("expected caller %x, got %x", caller, seen)
	}
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: "s3cret", Issuer: "brokerfund", Audience: "api"}, nil)
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	wrongAudience, _ := IssueToken("s3cret", "brokerfund", "other", [20]byte{1}, time.Minute)
	expired, _ := IssueToken("s3cret", "brokerfund", "api", [20]byte{1}, -time.Hour)
	zeroSubject, _ := IssueToken("s3cret", "brokerfund", "api", [20]byte{}, time.Minute)

	for name, header := range map[string]string{
		"missing":      "",
		"not bearer":   "Basic abc",
		"garbage":      "Bearer abc.def.ghi",
		"audience":     "Bearer " + wrongAudience,
		"expired":      "Bearer " + expired,
		"zero subject": "Bearer " + zeroSubject,
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, res.Code)
		}
	}
}

func TestAuthenticatorOptionalPaths(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: "s3cret", OptionalPaths: []string{"/healthz"}}, nil)
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected optional path to pass, got %d", res.Code)
	}
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}

	other := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
	other = other.WithContext(WithCaller(other.Context(), [20]byte{9}))
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, other)
	if res.Code != http.StatusOK {
		t.Fatalf("expected separate caller bucket, got %d", res.Code)
	}
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1})
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	if !limiter.allow("a") {
		t.Fatalf("expected first request to pass")
	}
	now = now.Add(10 * time.Minute)
	limiter.allow("b")
	if _, ok := limiter.visitors["a"]; ok {
		t.Fatalf("expected idle visitor to be evicted")
	}
}

func TestRequestIDAssignsUUID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("expected uuid request id, got %q", seen)
	}
	if res.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("response header must echo request id")
	}

	existing := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, existing)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != existing {
		t.Fatalf("expected inbound id to be kept, got %q", seen)
	}
}
