package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranslator struct {
	out   string
	err   error
	calls int
}

func (f *fakeTranslator) Translate(_ context.Context, _, _, _ string) (string, error) {
	f.calls++
	return f.out, f.err
}

func TestHTTPRecognizerSingleChunk(t *testing.T) {
	var gotPath, gotModel, gotText string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req["model"]
		gotText = req["text"]

		resp := map[string]any{
			"entities": map[string]any{
				"GPE":    []map[string]any{{"text": "Berlin", "score": 0.98}},
				"PERSON": []map[string]any{{"text": "Scholz", "score": 0.91}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	recognizer := NewHTTPRecognizer(server.URL, "ner-multilingual", 5*time.Second)
	text := "Scholz visited Berlin on Monday to open the new rail terminal."

	result, err := recognizer.Recognize(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, "/ner", gotPath)
	assert.Equal(t, "ner-multilingual", gotModel)
	assert.Equal(t, text, gotText)

	require.Len(t, result.Entities["GPE"], 1)
	assert.Equal(t, "Berlin", result.Entities["GPE"][0].Text)
	require.Len(t, result.Entities["PERSON"], 1)

	assert.Equal(t, len([]rune(text)), result.Meta.Chars)
	assert.Equal(t, "ner-multilingual", result.Meta.Model)
	assert.Equal(t, 1, result.Meta.Chunks)
	assert.InDelta(t, 0.945, result.Meta.Score, 1e-9)
}

func TestHTTPRecognizerChunksLongText(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.LessOrEqual(t, len([]rune(req["text"])), maxChunkChars)

		score := 0.5
		if n > 1 {
			score = 0.7
		}
		resp := map[string]any{
			"entities": map[string]any{
				"LOC": []map[string]any{{"text": "Cairo", "score": score}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	recognizer := NewHTTPRecognizer(server.URL, "ner", time.Second)
	text := strings.Repeat("word ", 1000)

	result, err := recognizer.Recognize(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, result.Meta.Chunks)
	assert.Len(t, result.Entities["LOC"], 2)
	assert.InDelta(t, 0.6, result.Meta.Score, 1e-9)
}

func TestHTTPRecognizerEmptyText(t *testing.T) {
	recognizer := NewHTTPRecognizer("http://127.0.0.1:1", "ner", time.Second)

	result, err := recognizer.Recognize(context.Background(), "   \n  ")
	require.NoError(t, err)

	assert.Empty(t, result.Entities)
	assert.Equal(t, 6, result.Meta.Chars)
	assert.Equal(t, 0, result.Meta.Chunks)
	assert.Zero(t, result.Meta.Score)
}

func TestHTTPRecognizerServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	recognizer := NewHTTPRecognizer(server.URL, "ner", time.Second)

	_, err := recognizer.Recognize(context.Background(), "some text to recognize")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ner request")
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPTranslatorRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/translate", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Hallo Welt", req["text"])
		assert.Equal(t, "de", req["source_lang"])
		assert.Equal(t, "en", req["target_lang"])

		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"translation": "Hello world"}))
	}))
	defer server.Close()

	translator := NewHTTPTranslator(server.URL, time.Second)

	got, err := translator.Translate(context.Background(), "Hallo Welt", "de", "en")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", got)
}

func TestTranslateTitle(t *testing.T) {
	ctx := context.Background()

	t.Run("empty title", func(t *testing.T) {
		tr := &fakeTranslator{out: "x"}
		assert.Equal(t, "", TranslateTitle(ctx, tr, "", "de"))
		assert.Zero(t, tr.calls)
	})

	t.Run("whitespace title returned as is", func(t *testing.T) {
		tr := &fakeTranslator{out: "x"}
		assert.Equal(t, "   ", TranslateTitle(ctx, tr, "   ", "de"))
		assert.Zero(t, tr.calls)
	})

	t.Run("english passes through", func(t *testing.T) {
		tr := &fakeTranslator{out: "x"}
		assert.Equal(t, "Breaking news", TranslateTitle(ctx, tr, "Breaking news", "en"))
		assert.Equal(t, "Breaking news", TranslateTitle(ctx, tr, "Breaking news", "eng"))
		assert.Equal(t, "Breaking news", TranslateTitle(ctx, tr, "Breaking news", "EN"))
		assert.Zero(t, tr.calls)
	})

	t.Run("nil translator falls back", func(t *testing.T) {
		assert.Equal(t, "Aktuelle Nachrichten", TranslateTitle(ctx, nil, "Aktuelle Nachrichten", "de"))
	})

	t.Run("error falls back", func(t *testing.T) {
		tr := &fakeTranslator{err: errors.New("model offline")}
		assert.Equal(t, "Aktuelle Nachrichten", TranslateTitle(ctx, tr, "Aktuelle Nachrichten", "de"))
		assert.Equal(t, 1, tr.calls)
	})

	t.Run("empty translation falls back", func(t *testing.T) {
		tr := &fakeTranslator{out: "  "}
		assert.Equal(t, "Aktuelle Nachrichten", TranslateTitle(ctx, tr, "Aktuelle Nachrichten", "de"))
	})

	t.Run("success", func(t *testing.T) {
		tr := &fakeTranslator{out: "Current news"}
		assert.Equal(t, "Current news", TranslateTitle(ctx, tr, "Aktuelle Nachrichten", "de"))
	})
}

func TestChunkText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxChars int
		want     []string
	}{
		{"fits in one chunk", "hello world", 20, []string{"hello world"}},
		{"splits at spaces", "aaa bbb ccc", 5, []string{"aaa", "bbb", "ccc"}},
		{"hard split without spaces", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"exact boundary", "abcd efgh", 4, []string{"abcd", "efgh"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunkText(tt.text, tt.maxChars))
		})
	}
}
