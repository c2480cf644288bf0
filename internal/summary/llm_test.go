package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AteetVatan/masx-geosignal/internal/config"
	"github.com/AteetVatan/masx-geosignal/internal/storage"
)

func chatServer(t *testing.T, status int, content string, capture *chatRequest) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}

		w.WriteHeader(status)
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, content)
	}))
}

func testArticles() []storage.ClusterArticle {
	return []storage.ClusterArticle{
		{
			Title:   "Flooding displaces thousands",
			Content: "Severe flooding along the river displaced thousands of residents overnight.",
		},
	}
}

func newTestSummarizer(baseURL string) *HTTPSummarizer {
	return NewHTTPSummarizer(LLMConfig{
		BaseURL: baseURL + "/v1",
		APIKey:  "test-key",
		Model:   "test-model",
		Timeout: 5 * time.Second,
	})
}

func TestLoadLLMConfigReadsEnvironment(t *testing.T) {
	t.Setenv("LLM_API_URL", "https://llm.internal.example/v1")
	t.Setenv("LLM_API_KEY", "secret")
	t.Setenv("LLM_MODEL", "small-chat")

	cfg := LoadLLMConfig(&config.Pipeline{LLMRPMLimit: 120})

	assert.Equal(t, "https://llm.internal.example/v1", cfg.BaseURL)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, "small-chat", cfg.Model)
	assert.Equal(t, 120, cfg.RPM)
}

func TestSummarizeParsesJSONSummary(t *testing.T) {
	var captured chatRequest

	server := chatServer(t, http.StatusOK, `{"summary": "Thousands displaced by river flooding."}`, &captured)
	defer server.Close()

	s := newTestSummarizer(server.URL)

	got, err := s.Summarize(context.Background(), testArticles())

	require.NoError(t, err)
	assert.Equal(t, "Thousands displaced by river flooding.", got)
	assert.Equal(t, "test-model", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[1].Content, "Flooding displaces thousands")
}

func TestSummarizeStripsCodeFences(t *testing.T) {
	server := chatServer(t, http.StatusOK,
		"```json\n{\"summary\": \"Fenced summary.\"}\n```", nil)
	defer server.Close()

	s := newTestSummarizer(server.URL)

	got, err := s.Summarize(context.Background(), testArticles())

	require.NoError(t, err)
	assert.Equal(t, "Fenced summary.", got)
}

func TestSummarizeFallsBackToRawText(t *testing.T) {
	server := chatServer(t, http.StatusOK, "A plain prose summary without JSON.", nil)
	defer server.Close()

	s := newTestSummarizer(server.URL)

	got, err := s.Summarize(context.Background(), testArticles())

	require.NoError(t, err)
	assert.Equal(t, "A plain prose summary without JSON.", got)
}

func TestSummarizeReportsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	s := newTestSummarizer(server.URL)

	_, err := s.Summarize(context.Background(), testArticles())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSummarizeRejectsEmptyCluster(t *testing.T) {
	s := newTestSummarizer("http://localhost:1")

	_, err := s.Summarize(context.Background(), nil)

	require.Error(t, err)
}

type stubSummarizer struct {
	summary string
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(_ context.Context, _ []storage.ClusterArticle) (string, error) {
	s.calls++

	return s.summary, s.err
}

func TestFailoverUsesFirstWorkingProvider(t *testing.T) {
	broken := &stubSummarizer{err: errors.New("provider down")}
	working := &stubSummarizer{summary: "From the backup provider."}

	f := NewFailoverSummarizer(broken, working)

	got, err := f.Summarize(context.Background(), testArticles())

	require.NoError(t, err)
	assert.Equal(t, "From the backup provider.", got)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, working.calls)
}

func TestFailoverReturnsLastError(t *testing.T) {
	first := &stubSummarizer{err: errors.New("first down")}
	second := &stubSummarizer{err: errors.New("second down")}

	f := NewFailoverSummarizer(first, second)

	_, err := f.Summarize(context.Background(), testArticles())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "second down")
}

func TestBuildPromptTruncatesContent(t *testing.T) {
	articles := []storage.ClusterArticle{
		{Title: "Long article", Content: strings.Repeat("x", 5000)},
	}

	prompt := buildPrompt(articles)

	assert.Less(t, len(prompt), 2000)
	assert.Contains(t, prompt, "Long article")
}

func TestBuildPromptCapsArticleCount(t *testing.T) {
	articles := make([]storage.ClusterArticle, 40)
	for i := range articles {
		articles[i] = storage.ClusterArticle{Title: fmt.Sprintf("headline %d", i)}
	}

	prompt := buildPrompt(articles)

	assert.Contains(t, prompt, "headline 14")
	assert.NotContains(t, prompt, "headline 15")
	assert.Contains(t, prompt, "Cluster of 40 related articles")
}

func TestEstimateMaxTokensClamps(t *testing.T) {
	assert.Equal(t, minCompletionTokens, estimateMaxTokens("tiny"))
	assert.Equal(t, maxCompletionTokens, estimateMaxTokens(strings.Repeat("x", 10_000_000)))

	mid := estimateMaxTokens(strings.Repeat("x", 20_000))
	assert.Equal(t, 1500, mid)
}
