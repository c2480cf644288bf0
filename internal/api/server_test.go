package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AteetVatan/masx-geosignal/internal/api/middleware"
	"github.com/AteetVatan/masx-geosignal/internal/storage"
)

const testAPIKey = "test-api-key"

type fakeRunStore struct {
	active        bool
	activeErr     error
	staleErr      error
	recovered     int64
	recoverActive bool
	runs          map[string]*storage.Run
	runsByDate    map[string][]*storage.Run
	listErr       error
	staleCalled   bool
}

func (f *fakeRunStore) HasActiveRun(_ context.Context, _ time.Duration) (bool, error) {
	return f.active, f.activeErr
}

func (f *fakeRunStore) MarkStaleRunsFailed(_ context.Context, _ time.Duration) (int64, error) {
	f.staleCalled = true

	if f.recoverActive {
		f.active = false
	}

	return f.recovered, f.staleErr
}

func (f *fakeRunStore) GetRun(_ context.Context, runID string) (*storage.Run, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, storage.ErrRunNotFound
	}

	return run, nil
}

func (f *fakeRunStore) ListRunsByDate(_ context.Context, targetDate string) ([]*storage.Run, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	return f.runsByDate[targetDate], nil
}

type fakeLauncher struct {
	launched []string
	tiers    []string
	err      error
}

func (f *fakeLauncher) Launch(targetDate, tier string) error {
	if f.err != nil {
		return f.err
	}

	f.launched = append(f.launched, targetDate)
	f.tiers = append(f.tiers, tier)

	return nil
}

type fakeHealth struct {
	err error
}

func (f *fakeHealth) HealthCheck(_ context.Context) error {
	return f.err
}

func testConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		Host:            "127.0.0.1",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
		MaxRequestSize:  65536,
		StaleRunMaxAge:  2 * time.Hour,
	}
}

func testServer(store *fakeRunStore, launcher *fakeLauncher, health *fakeHealth) *Server {
	return NewServer(testConfig(), Dependencies{
		Runs:     store,
		Health:   health,
		Launcher: launcher,
		Auth:     &middleware.AuthConfig{Key: testAPIKey},
	})
}

func doRequest(s *Server, method, path string, body string, authed bool) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if authed {
		req.Header.Set("X-Api-Key", testAPIKey)
	}

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	return rec
}

func TestPingIsPublic(t *testing.T) {
	s := testServer(&fakeRunStore{}, &fakeLauncher{}, &fakeHealth{})

	rec := doRequest(s, http.MethodGet, "/ping", "", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestHealthReportsService(t *testing.T) {
	s := testServer(&fakeRunStore{}, &fakeLauncher{}, &fakeHealth{})

	rec := doRequest(s, http.MethodGet, "/health", "", false)

	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))

	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "masx-geosignal", health.ServiceName)
}

func TestReadyChecksDatabase(t *testing.T) {
	s := testServer(&fakeRunStore{}, &fakeLauncher{}, &fakeHealth{})

	rec := doRequest(s, http.MethodGet, "/ready", "", false)

	assert.Equal(t, http.StatusOK, rec.Code)

	s = testServer(&fakeRunStore{}, &fakeLauncher{}, &fakeHealth{err: errors.New("connection refused")})

	rec = doRequest(s, http.MethodGet, "/ready", "", false)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownPathReturns404Problem(t *testing.T) {
	s := testServer(&fakeRunStore{}, &fakeLauncher{}, &fakeHealth{})

	rec := doRequest(s, http.MethodGet, "/nope", "", false)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestTriggerRequiresAuth(t *testing.T) {
	s := testServer(&fakeRunStore{}, &fakeLauncher{}, &fakeHealth{})

	rec := doRequest(s, http.MethodPost, "/api/v1/pipeline/run", "", false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTriggerLaunchesRun(t *testing.T) {
	store := &fakeRunStore{}
	launcher := &fakeLauncher{}
	s := testServer(store, launcher, &fakeHealth{})

	rec := doRequest(s, http.MethodPost, "/api/v1/pipeline/run", `{"target_date":"2025-11-03"}`, true)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, store.staleCalled)
	assert.Equal(t, []string{"2025-11-03"}, launcher.launched)

	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "2025-11-03", resp.TargetDate)
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestTriggerDefaultsToToday(t *testing.T) {
	launcher := &fakeLauncher{}
	s := testServer(&fakeRunStore{}, launcher, &fakeHealth{})

	rec := doRequest(s, http.MethodPost, "/api/v1/pipeline/run", "", true)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, launcher.launched, 1)
	assert.Equal(t, time.Now().UTC().Format(targetDateLayout), launcher.launched[0])
}

func TestTriggerConflictWhenRunActive(t *testing.T) {
	launcher := &fakeLauncher{}
	s := testServer(&fakeRunStore{active: true}, launcher, &fakeHealth{})

	rec := doRequest(s, http.MethodPost, "/api/v1/pipeline/run", "", true)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, launcher.launched)
}

func TestTriggerRejectsBadDate(t *testing.T) {
	s := testServer(&fakeRunStore{}, &fakeLauncher{}, &fakeHealth{})

	rec := doRequest(s, http.MethodPost, "/api/v1/pipeline/run", `{"target_date":"03-11-2025"}`, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerPassesTierToLauncher(t *testing.T) {
	launcher := &fakeLauncher{}
	s := testServer(&fakeRunStore{}, launcher, &fakeHealth{})

	rec := doRequest(s, http.MethodPost, "/api/v1/pipeline/run",
		`{"target_date":"2025-11-03","tier":"b"}`, true)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"B"}, launcher.tiers)

	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "B", resp.Tier)
}

func TestTriggerOmitsTierWhenUnset(t *testing.T) {
	launcher := &fakeLauncher{}
	s := testServer(&fakeRunStore{}, launcher, &fakeHealth{})

	rec := doRequest(s, http.MethodPost, "/api/v1/pipeline/run", `{"target_date":"2025-11-03"}`, true)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{""}, launcher.tiers)
}

func TestTriggerRejectsBadTier(t *testing.T) {
	launcher := &fakeLauncher{}
	s := testServer(&fakeRunStore{}, launcher, &fakeHealth{})

	rec := doRequest(s, http.MethodPost, "/api/v1/pipeline/run",
		`{"target_date":"2025-11-03","tier":"D"}`, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, launcher.launched)
}

func TestTriggerAcceptsAfterStaleRecovery(t *testing.T) {
	store := &fakeRunStore{active: true, recovered: 1, recoverActive: true}
	launcher := &fakeLauncher{}
	s := testServer(store, launcher, &fakeHealth{})

	rec := doRequest(s, http.MethodPost, "/api/v1/pipeline/run", `{"target_date":"2025-11-03"}`, true)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, store.staleCalled)
	assert.Equal(t, []string{"2025-11-03"}, launcher.launched)
}

func TestTriggerLaunchFailure(t *testing.T) {
	s := testServer(&fakeRunStore{}, &fakeLauncher{err: errors.New("binary not found")}, &fakeHealth{})

	rec := doRequest(s, http.MethodPost, "/api/v1/pipeline/run", "", true)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetRun(t *testing.T) {
	started := time.Date(2025, 11, 3, 6, 0, 0, 0, time.UTC)
	store := &fakeRunStore{runs: map[string]*storage.Run{
		"run_20251103_060000_abcd1234": {
			RunID:        "run_20251103_060000_abcd1234",
			Status:       storage.RunCompleted,
			PipelineTier: "b",
			TargetDate:   "2025-11-03",
			TotalEntries: 1200,
			StartedAt:    &started,
			Metrics:      []byte(`{"clusters_created":14}`),
		},
	}}

	s := testServer(store, &fakeLauncher{}, &fakeHealth{})

	rec := doRequest(s, http.MethodGet, "/api/v1/pipeline/runs/run_20251103_060000_abcd1234", "", true)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, 1200, resp.TotalEntries)
	assert.JSONEq(t, `{"clusters_created":14}`, string(resp.Metrics))
}

func TestGetRunNotFound(t *testing.T) {
	s := testServer(&fakeRunStore{}, &fakeLauncher{}, &fakeHealth{})

	rec := doRequest(s, http.MethodGet, "/api/v1/pipeline/runs/run_missing", "", true)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRunsByDate(t *testing.T) {
	store := &fakeRunStore{runsByDate: map[string][]*storage.Run{
		"2025-11-03": {
			{RunID: "run_b", Status: storage.RunCompleted, TargetDate: "2025-11-03"},
			{RunID: "run_a", Status: storage.RunFailed, TargetDate: "2025-11-03"},
		},
	}}

	s := testServer(store, &fakeLauncher{}, &fakeHealth{})

	rec := doRequest(s, http.MethodGet, "/api/v1/pipeline/runs?date=2025-11-03", "", true)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "run_b", resp.Runs[0].RunID)
}

func TestListRunsRejectsBadDate(t *testing.T) {
	s := testServer(&fakeRunStore{}, &fakeLauncher{}, &fakeHealth{})

	rec := doRequest(s, http.MethodGet, "/api/v1/pipeline/runs?date=yesterday", "", true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	bad := testConfig()
	bad.Port = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPort)

	bad = testConfig()
	bad.Host = ""
	assert.ErrorIs(t, bad.Validate(), ErrEmptyHost)

	bad = testConfig()
	bad.ReadTimeout = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidReadTimeout)

	bad = testConfig()
	bad.MaxRequestSize = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidMaxRequestSize)
}
