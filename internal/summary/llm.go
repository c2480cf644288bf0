package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AteetVatan/masx-geosignal/internal/config"
	"github.com/AteetVatan/masx-geosignal/internal/storage"
)

const (
	// maxPromptArticles bounds prompt size; the largest clusters still fit
	// in a small-model context window.
	maxPromptArticles = 15

	// maxPromptContentLen truncates each article's content in the prompt.
	maxPromptContentLen = 1500

	defaultLLMTimeout = 60 * time.Second

	minCompletionTokens = 150
	maxCompletionTokens = 4096
)

// systemPrompt instructs the model to produce a compact factual digest.
const systemPrompt = `You are a news analyst. Summarize the given cluster of related news articles into a single factual paragraph of 3-5 sentences. Focus on what happened, where, and who is involved. Do not editorialize. Respond with a JSON object: {"summary": "<paragraph>"}.`

// Summarizer produces a summary for one cluster of articles.
type Summarizer interface {
	Summarize(ctx context.Context, articles []storage.ClusterArticle) (string, error)
}

// LLMConfig holds connection settings for one OpenAI-compatible provider.
type LLMConfig struct {
	// BaseURL is the provider root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey is sent as a Bearer token. Empty disables the header.
	APIKey string

	// Model is the chat model identifier.
	Model string

	// RPM caps requests per minute across all clusters. Zero or negative
	// disables limiting.
	RPM int

	// Timeout bounds a single completion call.
	Timeout time.Duration
}

// LoadLLMConfig reads the primary provider settings from the environment.
func LoadLLMConfig(pipeline *config.Pipeline) LLMConfig {
	return LLMConfig{
		BaseURL: config.GetEnvStr("LLM_API_URL", "https://api.openai.com/v1"),
		APIKey:  config.GetEnvStr("LLM_API_KEY", ""),
		Model:   config.GetEnvStr("LLM_MODEL", "gpt-4o-mini"),
		RPM:     pipeline.LLMRPMLimit,
		Timeout: config.GetEnvDuration("LLM_TIMEOUT", defaultLLMTimeout),
	}
}

// HTTPSummarizer calls an OpenAI-compatible chat completions endpoint. A
// shared rate limiter enforces the provider's requests-per-minute cap across
// concurrent cluster summaries.
type HTTPSummarizer struct {
	config  LLMConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHTTPSummarizer creates a summarizer for the given provider.
func NewHTTPSummarizer(cfg LLMConfig) *HTTPSummarizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultLLMTimeout
	}

	var limiter *rate.Limiter
	if cfg.RPM > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RPM)), 1)
	}

	return &HTTPSummarizer{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

type (
	chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	chatRequest struct {
		Model       string        `json:"model"`
		Messages    []chatMessage `json:"messages"`
		MaxTokens   int           `json:"max_tokens"`
		Temperature float64       `json:"temperature"`
	}

	chatResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
)

// Summarize renders the cluster as a prompt and returns the model's summary.
// It blocks on the rate limiter before sending.
func (s *HTTPSummarizer) Summarize(ctx context.Context, articles []storage.ClusterArticle) (string, error) {
	if len(articles) == 0 {
		return "", fmt.Errorf("no articles to summarize")
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait interrupted: %w", err)
		}
	}

	prompt := buildPrompt(articles)

	body := chatRequest{
		Model: s.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   estimateMaxTokens(prompt),
		Temperature: 0.2,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	url := strings.TrimSuffix(s.config.BaseURL, "/") + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion endpoint returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("completion error: %s", parsed.Error.Message)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}

	summary := extractSummary(parsed.Choices[0].Message.Content)
	if summary == "" {
		return "", fmt.Errorf("completion produced empty summary")
	}

	return summary, nil
}

// FailoverSummarizer tries each provider in order until one succeeds.
type FailoverSummarizer struct {
	providers []Summarizer
	logger    *slog.Logger
}

// NewFailoverSummarizer wraps providers; at least one is required.
func NewFailoverSummarizer(providers ...Summarizer) *FailoverSummarizer {
	return &FailoverSummarizer{
		providers: providers,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Summarize returns the first successful provider result. All-provider
// failure returns the last error.
func (f *FailoverSummarizer) Summarize(ctx context.Context, articles []storage.ClusterArticle) (string, error) {
	var lastErr error

	for i, provider := range f.providers {
		summary, err := provider.Summarize(ctx, articles)
		if err == nil {
			return summary, nil
		}

		lastErr = err

		f.logger.Warn("llm provider failed, trying next",
			"provider_index", i,
			"error", err)

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no llm providers configured")
	}

	return "", lastErr
}

// buildPrompt renders up to maxPromptArticles as numbered title+content
// pairs, truncating each content block.
func buildPrompt(articles []storage.ClusterArticle) string {
	limit := min(maxPromptArticles, len(articles))

	var b strings.Builder

	fmt.Fprintf(&b, "Cluster of %d related articles:\n\n", len(articles))

	for i, article := range articles[:limit] {
		title := article.TitleEN
		if title == "" {
			title = article.Title
		}

		content := article.Content
		if content == "" {
			content = article.Description
		}

		if len(content) > maxPromptContentLen {
			content = content[:maxPromptContentLen]
		}

		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, title, content)
	}

	return b.String()
}

// estimateMaxTokens sizes the completion budget from the prompt: roughly
// 30% of the prompt's token count (chars/4), clamped to a sane range.
func estimateMaxTokens(prompt string) int {
	promptTokens := len(prompt) / 4
	budget := promptTokens * 30 / 100

	if budget < minCompletionTokens {
		return minCompletionTokens
	}

	if budget > maxCompletionTokens {
		return maxCompletionTokens
	}

	return budget
}

// extractSummary pulls the summary out of the model output. It tolerates
// code fences and falls back to the raw text when the output is not the
// requested JSON shape.
func extractSummary(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var wrapped struct {
		Summary string `json:"summary"`
	}

	if err := json.Unmarshal([]byte(content), &wrapped); err == nil && wrapped.Summary != "" {
		return strings.TrimSpace(wrapped.Summary)
	}

	return content
}
