package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Embed colors.
const (
	colorGreen  = 3066993
	colorOrange = 15105570
	colorRed    = 15158332
)

// DiscordNotifier posts batch reports to a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordNotifier creates a DiscordNotifier with the given webhook URL.
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type discordEmbed struct {
	Title  string         `json:"title"`
	Color  int            `json:"color"`
	Fields []discordField `json:"fields"`
	Footer *discordFooter `json:"footer,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// BuildDiscordPayload creates the embed message for a report.
func BuildDiscordPayload(r Report) discordPayload {
	s := r.Summary
	fields := []discordField{
		{Name: "Succeeded", Value: strconv.Itoa(s.Succeeded), Inline: true},
		{Name: "Failed", Value: strconv.Itoa(s.Failed), Inline: true},
		{Name: "Warnings", Value: strconv.Itoa(s.Warnings), Inline: true},
		{Name: "Collected", Value: FormatStats(s.Stats)},
	}
	if s.Failed > 0 {
		fields = append(fields, discordField{Name: "Failures", Value: FormatFailures(r.Results)})
	}

	return discordPayload{Embeds: []discordEmbed{{
		Title:  FormatHeadline(r),
		Color:  embedColor(s.Succeeded, s.Failed),
		Fields: fields,
		Footer: &discordFooter{Text: "quickgrade - " + FormatDuration(r.Duration)},
	}}}
}

func embedColor(succeeded, failed int) int {
	switch {
	case failed == 0:
		return colorGreen
	case succeeded == 0:
		return colorRed
	default:
		return colorOrange
	}
}

// Notify posts the report. Callers wrap this with retry logic if needed.
func (d *DiscordNotifier) Notify(ctx context.Context, r Report) error {
	body, err := json.Marshal(BuildDiscordPayload(r))
	if err != nil {
		return fmt.Errorf("marshaling discord payload: %w", err)
	}
	return d.post(ctx, body)
}

func (d *DiscordNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("discord webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
