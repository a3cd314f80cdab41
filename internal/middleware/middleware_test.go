package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/failover-controller/internal/config"
	"github.com/mir00r/failover-controller/pkg/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	return log
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		BurstSize:         2,
	}, newTestLogger(t))

	handler := rl.RateLimitMiddleware()(okHandler())

	// The burst passes
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.RemoteAddr = "10.1.2.3:4444"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		assert.Equal(t, http.StatusOK, recorder.Code, "request %d within burst", i+1)
	}

	// The next immediate request is limited
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)
	assert.Equal(t, "0", recorder.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimiterIsPerClient(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		BurstSize:         1,
	}, newTestLogger(t))

	handler := rl.RateLimitMiddleware()(okHandler())

	first := httptest.NewRequest(http.MethodGet, "/status", nil)
	first.RemoteAddr = "10.1.2.3:1111"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, first)
	assert.Equal(t, http.StatusOK, recorder.Code)

	// A different client has its own bucket
	second := httptest.NewRequest(http.MethodGet, "/status", nil)
	second.RemoteAddr = "10.9.9.9:2222"
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, second)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestRateLimiterCacheIsBounded(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		BurstSize:         1,
	}, newTestLogger(t))

	// One more distinct client than the cache holds triggers the cleanup
	for i := 0; i <= maxTrackedClients; i++ {
		rl.getLimiter(fmt.Sprintf("client-%d", i))
	}

	assert.LessOrEqual(t, len(rl.limiters), maxTrackedClients)
}

func signToken(t *testing.T, secret string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	auth := NewAuthMiddleware(config.AuthConfig{Enabled: true, SecretKey: "test-secret"}, newTestLogger(t))
	handler := auth.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret"))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	auth := NewAuthMiddleware(config.AuthConfig{Enabled: true, SecretKey: "test-secret"}, newTestLogger(t))
	handler := auth.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, "Bearer", recorder.Header().Get("WWW-Authenticate"))
}

func TestAuthMiddlewareRejectsWrongSecret(t *testing.T) {
	auth := NewAuthMiddleware(config.AuthConfig{Enabled: true, SecretKey: "test-secret"}, newTestLogger(t))
	handler := auth.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret"))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestAuthMiddlewareRejectsExpiredToken(t *testing.T) {
	auth := NewAuthMiddleware(config.AuthConfig{Enabled: true, SecretKey: "test-secret"}, newTestLogger(t))
	handler := auth.Middleware()(okHandler())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestAuthMiddlewareRejectsMalformedHeader(t *testing.T) {
	auth := NewAuthMiddleware(config.AuthConfig{Enabled: true, SecretKey: "test-secret"}, newTestLogger(t))
	handler := auth.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(newTestLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	assert.Equal(t, "10.1.2.3", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", getClientIP(req))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", getClientIP(req))
}
