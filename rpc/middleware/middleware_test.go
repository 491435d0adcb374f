package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerSecond: 1, Burst: 1})
	frozen := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return frozen }

	handler := limiter.Middleware("rpc")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
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

	other := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	other.Header.Set("X-Forwarded-For", "10.0.0.9, 10.0.0.1")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, other)
	if res.Code != http.StatusOK {
		t.Fatalf("expected a different client to have its own bucket, got %d", res.Code)
	}
}

func TestAuthenticatorMiddleware(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "stakeledger", Audience: []string{"accrual"}}, nil)
	var seen Claims
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	exp := time.Now().Add(time.Hour).Unix()
	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"no subject", "Bearer " + signToken(t, jwt.MapClaims{"iss": "stakeledger", "aud": "accrual", "exp": exp}), http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + signToken(t, jwt.MapClaims{"sub": "alice", "iss": "other", "aud": "accrual", "exp": exp}), http.StatusUnauthorized},
		{"wrong audience", "Bearer " + signToken(t, jwt.MapClaims{"sub": "alice", "iss": "stakeledger", "aud": "other", "exp": exp}), http.StatusUnauthorized},
		{"no expiry", "Bearer " + signToken(t, jwt.MapClaims{"sub": "alice", "iss": "stakeledger", "aud": "accrual"}), http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, jwt.MapClaims{"sub": "alice", "iss": "stakeledger", "aud": []string{"accrual"}, "exp": exp, "scope": "accrual:admin read"}), http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, res.Code)
		}
	}
	if seen.Subject != "alice" || !seen.HasScope("accrual:admin") || seen.HasScope("write") {
		t.Fatalf("unexpected claims %+v", seen)
	}
}

func TestAuthenticatorRequiredScopes(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	handler := auth.Middleware("outbox:read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	token := signToken(t, jwt.MapClaims{"sub": "ops", "exp": time.Now().Add(time.Hour).Unix(), "scope": []string{"read"}})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d", res.Code)
	}
}
