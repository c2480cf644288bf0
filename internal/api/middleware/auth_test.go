package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func authedHandler(t *testing.T, cfg *AuthConfig) http.Handler {
	t.Helper()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return APIKeyAuth(cfg, testLogger())(next)
}

func TestAPIKeyAuthValidKey(t *testing.T) {
	handler := authedHandler(t, &AuthConfig{Key: "secret-key"})

	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"x-api-key header", "X-Api-Key", "secret-key"},
		{"bearer token", "Authorization", "Bearer secret-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", nil)
			req.Header.Set(tt.header, tt.value)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestAPIKeyAuthRejectsInvalidKey(t *testing.T) {
	handler := authedHandler(t, &AuthConfig{Key: "secret-key"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", nil)
	req.Header.Set("X-Api-Key", "wrong-key")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Invalid API key")
}

func TestAPIKeyAuthRejectsMissingKey(t *testing.T) {
	handler := authedHandler(t, &AuthConfig{Key: "secret-key"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing API key")
}

func TestAPIKeyAuthUnconfiguredServerRefuses(t *testing.T) {
	handler := authedHandler(t, &AuthConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", nil)
	req.Header.Set("X-Api-Key", "anything")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAPIKeyAuthBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-key"), bcrypt.MinCost)
	require.NoError(t, err)

	handler := authedHandler(t, &AuthConfig{KeyHash: string(hash)})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", nil)
	req.Header.Set("X-Api-Key", "secret-key")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", nil)
	req.Header.Set("X-Api-Key", "wrong-key")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyAuthPublicEndpointBypass(t *testing.T) {
	RegisterPublicEndpoint("/ping-bypass-test")

	defer delete(publicEndpoints, "/ping-bypass-test")

	handler := authedHandler(t, &AuthConfig{Key: "secret-key"})

	req := httptest.NewRequest(http.MethodGet, "/ping-bypass-test", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(r *http.Request)
		wantKey   string
		wantFound bool
	}{
		{
			name:      "x-api-key preferred over bearer",
			setup:     func(r *http.Request) { r.Header.Set("X-Api-Key", "first"); r.Header.Set("Authorization", "Bearer second") },
			wantKey:   "first",
			wantFound: true,
		},
		{
			name:      "bearer fallback",
			setup:     func(r *http.Request) { r.Header.Set("Authorization", "Bearer token-123") },
			wantKey:   "token-123",
			wantFound: true,
		},
		{
			name:      "newline rejected",
			setup:     func(r *http.Request) { r.Header["X-Api-Key"] = []string{"bad\nkey"} },
			wantFound: false,
		},
		{
			name:      "whitespace only rejected",
			setup:     func(r *http.Request) { r.Header.Set("X-Api-Key", "   ") },
			wantFound: false,
		},
		{
			name:      "no headers",
			setup:     func(_ *http.Request) {},
			wantFound: false,
		},
		{
			name:      "non-bearer authorization ignored",
			setup:     func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcjpwYXNz") },
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)

			key, found := extractAPIKey(req)

			assert.Equal(t, tt.wantFound, found)
			if tt.wantFound {
				assert.Equal(t, tt.wantKey, key)
			}
		})
	}
}

func TestAuthErrorUnwrap(t *testing.T) {
	err := &AuthError{Type: ErrInvalidAPIKey, Message: "Invalid API key"}

	assert.ErrorIs(t, err, ErrInvalidAPIKey)
	assert.Contains(t, err.Error(), "invalid API key")
}
