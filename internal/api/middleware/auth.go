// Package middleware provides the HTTP middleware chain for the pipeline
// trigger API: correlation IDs, panic recovery, API key auth, rate limiting,
// request logging, and CORS.
package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/AteetVatan/masx-geosignal/internal/config"
)

// publicEndpoints lists paths that bypass authentication: health probes and
// monitoring endpoints only, never the trigger routes.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint marks a path as reachable without an API key.
// Called during route setup for health endpoints only.
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

// Authentication error types.
var (
	// ErrMissingAPIKey is returned when no API key is provided in headers.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey is returned for a wrong key. The message stays
	// generic so callers cannot probe for key validity details.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrAuthNotConfigured is returned when no key is configured server-side;
	// the trigger API refuses to run open.
	ErrAuthNotConfigured = errors.New("api authentication not configured")
)

// AuthError wraps an authentication failure with a user-facing message.
type AuthError struct {
	Type    error
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed: %s: %s", e.Type.Error(), e.Message)
	}

	return "authentication failed: " + e.Type.Error()
}

// Unwrap returns the wrapped error type for errors.Is checks.
func (e *AuthError) Unwrap() error {
	return e.Type
}

// AuthConfig holds the server-side API key. Exactly one of Key or KeyHash is
// normally set; KeyHash (a bcrypt hash) takes precedence when both are.
type AuthConfig struct {
	Key     string
	KeyHash string
}

// LoadAuthConfig reads the API key settings from the environment.
func LoadAuthConfig() *AuthConfig {
	return &AuthConfig{
		Key:     config.GetEnvStr("PIPELINE_API_KEY", ""),
		KeyHash: config.GetEnvStr("PIPELINE_API_KEY_HASH", ""),
	}
}

// Enabled reports whether any key material is configured.
func (c *AuthConfig) Enabled() bool {
	return c.Key != "" || c.KeyHash != ""
}

// verify checks a presented key against the configured secret. Plaintext
// comparison is constant-time; the bcrypt path is constant-time by
// construction.
func (c *AuthConfig) verify(presented string) bool {
	if c.KeyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(c.KeyHash), []byte(presented)) == nil
	}

	return subtle.ConstantTimeCompare([]byte(c.Key), []byte(presented)) == 1
}

// extractAPIKey pulls the API key from the X-Api-Key header, falling back to
// Authorization: Bearer. Keys containing newlines are rejected outright.
func extractAPIKey(r *http.Request) (string, bool) {
	if apiKey := r.Header.Get("X-Api-Key"); apiKey != "" {
		return cleanAPIKey(apiKey)
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return cleanAPIKey(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return "", false
}

func cleanAPIKey(key string) (string, bool) {
	// Header injection prevention.
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	return key, true
}

// performDummyCompare keeps the failure path's timing close to the success
// path when no real comparison ran.
func performDummyCompare() {
	_ = bcrypt.CompareHashAndPassword([]byte("dummy"), []byte("dummy"))
}

// APIKeyAuth creates an authentication middleware validating the static API
// key. Public endpoints registered via RegisterPublicEndpoint bypass the
// check. A server with no configured key rejects every protected request
// with 500 rather than running open.
func APIKeyAuth(cfg *AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			if !cfg.Enabled() {
				logger.Error("rejecting request: no API key configured",
					slog.String("endpoint", r.URL.Path),
					slog.String("correlation_id", GetCorrelationID(r.Context())),
				)

				writeAuthError(w, r, logger, &AuthError{
					Type:    ErrAuthNotConfigured,
					Message: "Server API key is not configured",
				})

				return
			}

			authStart := time.Now()

			apiKey, found := extractAPIKey(r)
			if !found {
				performDummyCompare()
				writeAuthError(w, r, logger, &AuthError{
					Type:    ErrMissingAPIKey,
					Message: "Missing API key",
				})

				return
			}

			if !cfg.verify(apiKey) {
				writeAuthError(w, r, logger, &AuthError{
					Type:    ErrInvalidAPIKey,
					Message: "Invalid API key",
				})

				return
			}

			logger.Info("API key authenticated",
				slog.Duration("auth_latency", time.Since(authStart)),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
				slog.String("endpoint", r.URL.Path),
			)

			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError writes an RFC 7807 response for an authentication failure
// and logs it without leaking key material.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	statusCode := http.StatusUnauthorized

	var authErr *AuthError
	if errors.As(err, &authErr) && errors.Is(authErr.Type, ErrAuthNotConfigured) {
		statusCode = http.StatusInternalServerError
	}

	logger.Warn("Authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	if writeErr := writeRFC7807Error(w, r, statusCode, err.Error(), correlationID); writeErr != nil {
		logger.Error("failed to write RFC 7807 error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.Any("error", writeErr),
		)

		http.Error(w, err.Error(), statusCode)
	}
}
