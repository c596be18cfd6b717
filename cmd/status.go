package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacklau/quickgrade/internal/store"
	"github.com/jacklau/quickgrade/internal/tracker"
)

var statusUser string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored repositories and clone tracker health",
	Long: `Display record counts for every ingested repository, the outcome of
its last fetch, clone tracker states, and the database size.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusUser, "user", "u", "", "only show this user's repositories")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Close()

	ctx := context.Background()
	allStats, err := c.Store.GetAllRepoStats(ctx, statusUser)
	if err != nil {
		return fmt.Errorf("querying stats: %w", err)
	}
	trackers, err := c.Store.CountTrackersByStatus(ctx, statusUser)
	if err != nil {
		return fmt.Errorf("querying trackers: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(allStats) == 0 {
		fmt.Fprintln(out, "No repositories ingested yet.")
		fmt.Fprintln(out, "Run 'quickgrade fetch <url>' to get started.")
	} else {
		writeRepoTable(out, allStats, time.Now())
	}

	fmt.Fprintln(out)
	writeTrackerSummary(out, trackers)

	fmt.Fprintln(out)
	if size, err := dbFileSize(cfg.Store.Path); err != nil {
		fmt.Fprintf(out, "Database: %s (size unknown)\n", cfg.Store.Path)
	} else {
		fmt.Fprintf(out, "Database: %s (%s)\n", cfg.Store.Path, formatBytes(size))
	}
	return nil
}

func writeRepoTable(out io.Writer, allStats []store.RepoStats, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REPOSITORY\tCOMMITS\tBRANCHES\tPRS\tREVIEWS\tISSUES\tCOMMENTS\tFILES\tSTATUS\tLAST FETCHED")

	var total store.RepoStats
	for _, s := range allStats {
		lastFetched := "never"
		if s.Repo.LastFetchedAt != nil {
			lastFetched = formatTimeAgo(now.Sub(*s.Repo.LastFetchedAt))
		}
		status := s.Repo.FetchStatus
		if s.Repo.FetchStatus == store.FetchFailed && s.Repo.FetchError != "" {
			status += ": " + s.Repo.FetchError
		}

		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.Repo.FullName, s.Commits, s.Branches, s.PullRequests, s.Reviews,
			s.Issues, s.Comments, s.Files, status, lastFetched)

		total.Commits += s.Commits
		total.Branches += s.Branches
		total.PullRequests += s.PullRequests
		total.Reviews += s.Reviews
		total.Issues += s.Issues
		total.Comments += s.Comments
		total.Files += s.Files
	}

	if len(allStats) > 1 {
		fmt.Fprintf(w, "TOTAL\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\t\n",
			total.Commits, total.Branches, total.PullRequests, total.Reviews,
			total.Issues, total.Comments, total.Files)
	}
	w.Flush()
}

// writeTrackerSummary prints tracker counts in lifecycle order.
func writeTrackerSummary(out io.Writer, counts map[string]int) {
	order := []string{
		tracker.StatusCloning, tracker.StatusExtracting, tracker.StatusAnalyzing,
		tracker.StatusPendingCleanup, tracker.StatusCleaned, tracker.StatusFailed,
	}

	fmt.Fprintln(out, "Clone trackers:")
	shown := false
	for _, status := range order {
		if n := counts[status]; n > 0 {
			fmt.Fprintf(out, "  %-16s %d\n", status, n)
			shown = true
		}
	}
	if !shown {
		fmt.Fprintln(out, "  none")
	}
}

// formatTimeAgo formats an elapsed duration as a human-readable string.
func formatTimeAgo(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// formatBytes formats bytes into a human-readable string.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func dbFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
