// Package alert dispatches hotspot notifications for top-scored clusters.
//
// Three transports are supported: a generic JSON webhook, Slack incoming
// webhooks, and a Kafka topic for downstream consumers. Dispatch is
// best-effort; a failed alert is logged and never fails the run.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/AteetVatan/masx-geosignal/internal/config"
)

const dispatchTimeout = 10 * time.Second

type (
	// Payload is the alert body for one hot cluster.
	Payload struct {
		FlashpointID    string   `json:"flashpoint_id"`
		FlashpointTitle string   `json:"flashpoint_title"`
		ClusterID       int      `json:"cluster_id"`
		Summary         string   `json:"summary"`
		ArticleCount    int      `json:"article_count"`
		HotspotScore    float64  `json:"hotspot_score"`
		TopDomains      []string `json:"top_domains"`
	}

	// Dispatcher delivers one alert. Implementations report delivery
	// failure through the error; callers treat it as non-fatal.
	Dispatcher interface {
		Dispatch(ctx context.Context, payload Payload) error
	}

	// WebhookDispatcher POSTs alerts as JSON to a configured URL.
	WebhookDispatcher struct {
		url    string
		client *http.Client
		logger *slog.Logger
	}

	// SlackDispatcher posts alerts to a Slack incoming webhook using block
	// layout.
	SlackDispatcher struct {
		url    string
		client *http.Client
		logger *slog.Logger
	}
)

// NewWebhookDispatcher creates a dispatcher POSTing to url.
func NewWebhookDispatcher(url string) *WebhookDispatcher {
	return &WebhookDispatcher{
		url:    url,
		client: &http.Client{Timeout: dispatchTimeout},
		logger: newLogger(),
	}
}

// Dispatch sends the alert as a JSON document with a type discriminator.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, payload Payload) error {
	body := struct {
		Type string `json:"type"`
		Payload
	}{Type: "hotspot_alert", Payload: payload}

	if err := d.post(ctx, body); err != nil {
		d.logger.Error("webhook alert failed", "url", d.url, "error", err)

		return err
	}

	d.logger.Info("webhook alert sent",
		"url", d.url,
		"flashpoint_id", payload.FlashpointID,
		"cluster_id", payload.ClusterID)

	return nil
}

func (d *WebhookDispatcher) post(ctx context.Context, body any) error {
	return postJSON(ctx, d.client, d.url, body)
}

// NewSlackDispatcher creates a dispatcher for a Slack incoming webhook.
func NewSlackDispatcher(webhookURL string) *SlackDispatcher {
	return &SlackDispatcher{
		url:    webhookURL,
		client: &http.Client{Timeout: dispatchTimeout},
		logger: newLogger(),
	}
}

// Dispatch posts a block-formatted message to the Slack webhook. Long
// summaries are truncated to keep the message within Slack's limits.
func (d *SlackDispatcher) Dispatch(ctx context.Context, payload Payload) error {
	summary := payload.Summary
	if len(summary) > 500 {
		summary = summary[:500]
	}

	message := map[string]any{
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": "Hotspot Alert: " + payload.FlashpointTitle,
				},
			},
			{
				"type": "section",
				"fields": []map[string]any{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Score:* %.2f", payload.HotspotScore)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Articles:* %d", payload.ArticleCount)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Cluster:* #%d", payload.ClusterID)},
				},
			},
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": "*Summary:*\n" + summary,
				},
			},
		},
	}

	if err := postJSON(ctx, d.client, d.url, message); err != nil {
		d.logger.Error("slack alert failed", "error", err)

		return err
	}

	d.logger.Info("slack alert sent",
		"flashpoint_id", payload.FlashpointID,
		"cluster_id", payload.ClusterID)

	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build alert request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver alert: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert endpoint returned status %d", resp.StatusCode)
	}

	return nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))
}
