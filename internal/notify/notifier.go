package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/jacklau/quickgrade/internal/fetch"
)

// Report describes one finished ingestion batch.
type Report struct {
	User     string
	Results  []fetch.Result
	Summary  fetch.Summary
	Duration time.Duration
}

// NewReport builds a Report and its summary from batch results.
func NewReport(user string, results []fetch.Result, elapsed time.Duration) Report {
	return Report{
		User:     user,
		Results:  results,
		Summary:  fetch.Summarize(results),
		Duration: elapsed,
	}
}

// Notifier sends a batch report somewhere.
type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

// MultiNotifier sends notifications to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMultiNotifier creates a MultiNotifier from the given notifiers.
func NewMultiNotifier(logger *slog.Logger, notifiers ...Notifier) *MultiNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiNotifier{notifiers: notifiers, logger: logger}
}

// Notify sends the report to every notifier. Individual failures are logged
// and the last one is returned.
func (m *MultiNotifier) Notify(ctx context.Context, r Report) error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, r); err != nil {
			m.logger.Warn("notifier error", "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// Len returns the number of wrapped notifiers.
func (m *MultiNotifier) Len() int { return len(m.notifiers) }

// New creates a notifier for whichever webhooks are set. It returns nil
// when none are configured.
func New(slackURL, discordURL string, logger *slog.Logger) Notifier {
	var ns []Notifier
	if slackURL != "" {
		ns = append(ns, NewSlackNotifier(slackURL, logger))
	}
	if discordURL != "" {
		ns = append(ns, NewDiscordNotifier(discordURL))
	}
	switch len(ns) {
	case 0:
		return nil
	case 1:
		return ns[0]
	default:
		return NewMultiNotifier(logger, ns...)
	}
}
