package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/jacklau/quickgrade/internal/fetch"
	"github.com/jacklau/quickgrade/internal/reconcile"
)

// maxListed caps the number of failed repositories listed in a message.
const maxListed = 10

// FormatStats renders aggregate counts on one line.
// Example: "42 commits, 3 branches, 5 PRs, 7 issues, 12 files"
func FormatStats(s reconcile.Stats) string {
	return fmt.Sprintf("%d commits, %d branches, %d PRs, %d reviews, %d issues, %d comments, %d files",
		s.Commits, s.Branches, s.PullRequests, s.Reviews, s.Issues, s.Comments, s.FilesAnalyzed)
}

// FormatHeadline summarizes success counts.
func FormatHeadline(r Report) string {
	s := r.Summary
	if s.Total == 0 {
		return "No repositories fetched"
	}
	return fmt.Sprintf("Fetched %d/%d repositories for %s", s.Succeeded, s.Total, r.User)
}

// FormatFailures lists failed repositories, one per line.
func FormatFailures(results []fetch.Result) string {
	var lines []string
	extra := 0
	for _, res := range results {
		if res.Success {
			continue
		}
		if len(lines) == maxListed {
			extra++
			continue
		}
		name := res.FullName
		if name == "" {
			name = res.URL
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", name, res.Error))
	}
	if len(lines) == 0 {
		return "None"
	}
	if extra > 0 {
		lines = append(lines, fmt.Sprintf("- and %d more", extra))
	}
	return strings.Join(lines, "\n")
}

// FormatDuration rounds d for display.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
