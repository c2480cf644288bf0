package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(globalRPS, clientRPS int) *InMemoryRateLimiter {
	return NewInMemoryRateLimiter(&Config{
		GlobalRPS:  globalRPS,
		ClientRPS:  clientRPS,
		MaxClients: 100,
	})
}

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	rl := newTestLimiter(100, 50)
	defer rl.Close()

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("10.0.0.1"))
	}
}

func TestRateLimiterPerClientExhaustion(t *testing.T) {
	rl := newTestLimiter(1000, 1)
	defer rl.Close()

	// Burst is 2 × rate, so the third request from the same client fails
	// while a fresh client still passes.
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRateLimiterGlobalExhaustion(t *testing.T) {
	rl := newTestLimiter(1, 100)
	defer rl.Close()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.False(t, rl.Allow("10.0.0.3"))
}

func TestRateLimiterEmptyClientUsesGlobalOnly(t *testing.T) {
	rl := newTestLimiter(100, 1)
	defer rl.Close()

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow(""))
	}
}

func TestRateLimiterCleanupRemovesIdleClients(t *testing.T) {
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:       100,
		ClientRPS:       50,
		CleanupInterval: time.Hour, // manual cleanup only
		IdleTimeout:     time.Nanosecond,
		MaxClients:      100,
	})
	defer rl.Close()

	rl.Allow("10.0.0.1")

	time.Sleep(time.Millisecond)
	rl.cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	assert.Empty(t, rl.perClient)
}

func TestComputeBurstCapacity(t *testing.T) {
	assert.Equal(t, 200, computeBurstCapacity(100, 0))
	assert.Equal(t, 500, computeBurstCapacity(100, 500))
}

func TestClientIDFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:51234"

	assert.Equal(t, "192.0.2.7", clientIDFromRequest(req))

	req.RemoteAddr = "no-port-here"

	assert.Equal(t, "no-port-here", clientIDFromRequest(req))
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(string) bool { return false }

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := RateLimit(denyAllLimiter{}, testLogger())(next)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Rate limit exceeded")
}

func TestRateLimitMiddlewarePassesThrough(t *testing.T) {
	rl := newTestLimiter(100, 50)
	defer rl.Close()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	handler := RateLimit(rl, testLogger())(next)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}
