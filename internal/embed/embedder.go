// Package embed turns article text into fixed-dimension vectors by calling
// the embedding service. Model inference stays out of process; this package
// only batches, validates, and tags the results.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AteetVatan/masx-geosignal/internal/config"
)

const (
	// DefaultModel matches the 384-dimension sentence encoder the service
	// loads when none is requested.
	DefaultModel = "all-MiniLM-L6-v2"

	// DefaultDimension is the vector width of DefaultModel.
	DefaultDimension = 384

	// DefaultBatchSize is how many texts go to the service per request.
	DefaultBatchSize = 64

	defaultTimeout = 120 * time.Second
)

type (
	// Embedder encodes texts into L2-normalized vectors. Implementations
	// must preserve input order and return one vector per text.
	Embedder interface {
		Embed(ctx context.Context, texts []string) ([][]float32, error)
		Model() string
		Dimension() int
	}

	// Config holds the embedding service settings.
	Config struct {
		// BaseURL is the embedding service root, e.g. http://embedder:9000.
		BaseURL string

		// Model is the encoder the service should use.
		Model string

		// Dimension is the expected vector width. Responses with any other
		// width are rejected.
		Dimension int

		// BatchSize caps texts per request.
		BatchSize int

		// Timeout bounds each request.
		Timeout time.Duration
	}

	// HTTPEmbedder calls the embedding service over HTTP.
	HTTPEmbedder struct {
		cfg    Config
		client *http.Client
		logger *slog.Logger
	}
)

var _ Embedder = (*HTTPEmbedder)(nil)

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Dimension <= 0 {
		c.Dimension = DefaultDimension
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// NewHTTPEmbedder creates an embedder against cfg.BaseURL. Zero-value
// config fields fall back to defaults.
func NewHTTPEmbedder(cfg Config) *HTTPEmbedder {
	cfg = cfg.withDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	return &HTTPEmbedder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Model returns the encoder name results are tagged with.
func (e *HTTPEmbedder) Model() string { return e.cfg.Model }

// Dimension returns the expected vector width.
func (e *HTTPEmbedder) Dimension() int { return e.cfg.Dimension }

// Embed encodes texts in service-sized batches and returns one vector per
// text, in input order.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	vectors := make([][]float32, 0, len(texts))

	for offset := 0; offset < len(texts); offset += e.cfg.BatchSize {
		end := offset + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embedBatch(ctx, texts[offset:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	durationMS := time.Since(start).Milliseconds()
	e.logger.Info("embeddings computed",
		"count", len(texts),
		"model", e.cfg.Model,
		"duration_ms", durationMS,
		"avg_ms", math.Round(float64(durationMS)/float64(len(texts))*10)/10)

	return vectors, nil
}

func (e *HTTPEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	payload := struct {
		Texts     []string `json:"texts"`
		Model     string   `json:"model"`
		Normalize bool     `json:"normalize"`
	}{Texts: texts, Model: e.cfg.Model, Normalize: true}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("embedding response: %w", err)
	}

	if len(decoded.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors",
			len(texts), len(decoded.Embeddings))
	}
	for i, vec := range decoded.Embeddings {
		if len(vec) != e.cfg.Dimension {
			return nil, fmt.Errorf("embedding dimension mismatch at index %d: got %d, want %d",
				i, len(vec), e.cfg.Dimension)
		}
	}

	return decoded.Embeddings, nil
}
