package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type corsConfig struct {
	origins []string
	methods []string
	headers []string
	maxAge  int
}

func (c corsConfig) GetAllowedOrigins() []string { return c.origins }
func (c corsConfig) GetAllowedMethods() []string { return c.methods }
func (c corsConfig) GetAllowedHeaders() []string { return c.headers }
func (c corsConfig) GetMaxAge() int              { return c.maxAge }

func corsHandler(cfg corsConfig) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return CORS(cfg)(next)
}

func TestCORSPreflightAnsweredDirectly(t *testing.T) {
	handler := corsHandler(corsConfig{
		origins: []string{"*"},
		methods: []string{"GET", "POST"},
		headers: []string{"Content-Type", "X-Api-Key"},
		maxAge:  3600,
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/pipeline/run", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, X-Api-Key", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "3600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORSEchoesListedOrigin(t *testing.T) {
	handler := corsHandler(corsConfig{origins: []string{"https://ops.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSIgnoresUnlistedOrigin(t *testing.T) {
	handler := corsHandler(corsConfig{origins: []string{"https://ops.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
