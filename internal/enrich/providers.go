package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// maxChunkChars bounds how much text goes to the NER service per call.
const maxChunkChars = 4000

const defaultProviderTimeout = 60 * time.Second

type (
	// EntityMention is a single recognized entity span.
	EntityMention struct {
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	}

	// Entities groups mentions by category (PERSON, ORG, LOC, GPE, ...).
	Entities map[string][]EntityMention

	// NERMeta describes one recognition pass.
	NERMeta struct {
		Chars  int     `json:"chars"`
		Model  string  `json:"model"`
		Score  float64 `json:"score"`
		Chunks int     `json:"chunks"`
	}

	// NERResult is the merged output of entity recognition over a text.
	NERResult struct {
		Entities Entities `json:"entities"`
		Meta     NERMeta  `json:"meta"`
	}

	// Recognizer extracts named entities from text.
	Recognizer interface {
		Recognize(ctx context.Context, text string) (*NERResult, error)
	}

	// Translator translates text between languages.
	Translator interface {
		Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	}
)

// HTTPRecognizer calls a model-serving endpoint for entity recognition.
// Long texts are chunked client-side and the per-chunk results merged.
type HTTPRecognizer struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTPRecognizer creates a recognizer against baseURL. A non-positive
// timeout falls back to the provider default.
func NewHTTPRecognizer(baseURL, model string, timeout time.Duration) *HTTPRecognizer {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}

	return &HTTPRecognizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Recognize sends text to the NER endpoint chunk by chunk and merges the
// mentions. Meta carries the rune count, model name, average mention
// confidence, and chunk count.
func (r *HTTPRecognizer) Recognize(ctx context.Context, text string) (*NERResult, error) {
	meta := NERMeta{
		Chars: utf8.RuneCountInString(text),
		Model: r.model,
	}

	if strings.TrimSpace(text) == "" {
		return &NERResult{Entities: Entities{}, Meta: meta}, nil
	}

	chunks := chunkText(text, maxChunkChars)
	merged := Entities{}

	var scoreSum float64
	var scoreCount int

	for _, chunk := range chunks {
		payload := map[string]string{"text": chunk, "model": r.model}

		var resp struct {
			Entities Entities `json:"entities"`
		}
		if err := postJSON(ctx, r.client, r.baseURL+"/ner", payload, &resp); err != nil {
			return nil, fmt.Errorf("ner request: %w", err)
		}

		for category, mentions := range resp.Entities {
			merged[category] = append(merged[category], mentions...)
			for _, m := range mentions {
				scoreSum += m.Score
				scoreCount++
			}
		}
	}

	if scoreCount > 0 {
		meta.Score = math.Round(scoreSum/float64(scoreCount)*10000) / 10000
	}
	meta.Chunks = len(chunks)

	return &NERResult{Entities: merged, Meta: meta}, nil
}

// HTTPTranslator calls a model-serving endpoint for translation.
type HTTPTranslator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTranslator creates a translator against baseURL. A non-positive
// timeout falls back to the provider default.
func NewHTTPTranslator(baseURL string, timeout time.Duration) *HTTPTranslator {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}

	return &HTTPTranslator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Translate sends text to the translation endpoint.
func (t *HTTPTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	payload := map[string]string{
		"text":        text,
		"source_lang": sourceLang,
		"target_lang": targetLang,
	}

	var resp struct {
		Translation string `json:"translation"`
	}
	if err := postJSON(ctx, t.client, t.baseURL+"/translate", payload, &resp); err != nil {
		return "", fmt.Errorf("translate request: %w", err)
	}

	return resp.Translation, nil
}

// TranslateTitle returns the English form of a title.
//
// Titles already in English, empty titles, a missing translator, and
// translation failures all fall back to the original title, so this never
// blocks the pipeline.
func TranslateTitle(ctx context.Context, tr Translator, title, sourceLang string) string {
	if title == "" {
		return ""
	}
	if strings.TrimSpace(title) == "" {
		return title
	}

	lang := strings.ToLower(sourceLang)
	if lang == "en" || lang == "eng" {
		return title
	}

	if tr == nil {
		return title
	}

	translated, err := tr.Translate(ctx, title, sourceLang, "en")
	if err != nil || strings.TrimSpace(translated) == "" {
		return title
	}

	return translated
}

// chunkText splits text into chunks of at most maxChars runes, preferring
// to cut at whitespace.
func chunkText(text string, maxChars int) []string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return []string{text}
	}

	var chunks []string
	start := 0

	for start < len(runes) {
		end := start + maxChars
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		cut := end
		for cut > start && !unicode.IsSpace(runes[cut]) {
			cut--
		}
		if cut == start {
			cut = end
		}

		chunks = append(chunks, string(runes[start:cut]))

		start = cut
		for start < len(runes) && unicode.IsSpace(runes[start]) {
			start++
		}
	}

	return chunks
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
