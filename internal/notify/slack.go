package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// SlackNotifier posts batch reports to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

// NewSlackNotifier creates a SlackNotifier with the given webhook URL.
func NewSlackNotifier(webhookURL string, logger *slog.Logger) *SlackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

// BuildSlackPayload creates the Block Kit message for a report.
func BuildSlackPayload(r Report) slackPayload {
	s := r.Summary
	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: FormatHeadline(r)},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Succeeded:* %d", s.Succeeded)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Failed:* %d", s.Failed)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Warnings:* %d", s.Warnings)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Duration:* %s", FormatDuration(r.Duration))},
			},
		},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "*Collected:* " + FormatStats(s.Stats)},
		},
	}

	if s.Failed > 0 {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "*Failures:*\n" + FormatFailures(r.Results)},
		})
	}

	return slackPayload{Blocks: blocks}
}

// Notify posts the report. A failed post is retried once.
func (s *SlackNotifier) Notify(ctx context.Context, r Report) error {
	body, err := json.Marshal(BuildSlackPayload(r))
	if err != nil {
		return fmt.Errorf("marshaling slack payload: %w", err)
	}

	if err := s.post(ctx, body); err != nil {
		s.logger.Warn("slack notify failed, retrying", "error", err)
		if err := s.post(ctx, body); err != nil {
			return fmt.Errorf("slack notify failed after retry: %w", err)
		}
	}
	return nil
}

func (s *SlackNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
