package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() Payload {
	return Payload{
		FlashpointID:    "f0a1b2c3-0000-0000-0000-000000000001",
		FlashpointTitle: "Border escalation",
		ClusterID:       1,
		Summary:         "Troops massed along the border overnight.",
		ArticleCount:    12,
		HotspotScore:    0.87,
		TopDomains:      []string{"example.com", "news.example.org"},
	}
}

func TestWebhookDispatchPostsJSON(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(server.URL)
	require.NoError(t, d.Dispatch(context.Background(), samplePayload()))

	assert.Equal(t, "hotspot_alert", received["type"])
	assert.Equal(t, "Border escalation", received["flashpoint_title"])
	assert.InDelta(t, 0.87, received["hotspot_score"], 0.0001)
	assert.EqualValues(t, 12, received["article_count"])
}

func TestWebhookDispatchReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(server.URL)
	err := d.Dispatch(context.Background(), samplePayload())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSlackDispatchBuildsBlocks(t *testing.T) {
	var received struct {
		Blocks []map[string]any `json:"blocks"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewSlackDispatcher(server.URL)
	require.NoError(t, d.Dispatch(context.Background(), samplePayload()))

	require.Len(t, received.Blocks, 3)
	assert.Equal(t, "header", received.Blocks[0]["type"])

	header, ok := received.Blocks[0]["text"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, header["text"], "Border escalation")
}

func TestSlackDispatchTruncatesLongSummary(t *testing.T) {
	var body string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg struct {
			Blocks []struct {
				Text map[string]string `json:"text"`
			} `json:"blocks"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		body = msg.Blocks[2].Text["text"]
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	payload := samplePayload()
	payload.Summary = strings.Repeat("a", 2000)

	d := NewSlackDispatcher(server.URL)
	require.NoError(t, d.Dispatch(context.Background(), payload))

	// Block text is the "*Summary:*\n" prefix plus at most 500 summary chars.
	assert.LessOrEqual(t, len(body), 520)
}

func TestDispatchHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewWebhookDispatcher(server.URL)
	err := d.Dispatch(ctx, samplePayload())

	require.Error(t, err)
}
