package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacklau/quickgrade/internal/fetch"
	"github.com/jacklau/quickgrade/internal/notify"
)

var (
	fetchInput    string
	fetchUser     string
	fetchWorkers  int
	fetchJSON     bool
	fetchEvents   bool
	fetchNoNotify bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [url ...]",
	Short: "Ingest one or more GitHub repositories",
	Long: `Fetch clones each repository, reads its commit history, fetches its
collaborators, branches, pull requests, reviews, issues and comments from
the GitHub API, analyzes the checkout, and stores the reconciled records.

URLs are taken from the arguments or from a newline-delimited file:
  quickgrade fetch https://github.com/org/repo1 git@github.com:org/repo2.git
  quickgrade fetch --input repos.txt

Orphaned clones left by earlier runs for the same user are cleaned up
before the batch starts.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchInput, "input", "i", "", "file with one repository URL per line (- for stdin)")
	fetchCmd.Flags().StringVarP(&fetchUser, "user", "u", "", "user owning the ingested records (default from config)")
	fetchCmd.Flags().IntVar(&fetchWorkers, "workers", 0, "repositories processed concurrently (default from config)")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "print results as JSON")
	fetchCmd.Flags().BoolVar(&fetchEvents, "events", false, "stream progress events as JSON lines to stderr")
	fetchCmd.Flags().BoolVar(&fetchNoNotify, "no-notify", false, "skip the batch notification")
	rootCmd.AddCommand(fetchCmd)
}

// readURLs reads one URL per line, skipping blanks and # comments.
func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading urls: %w", err)
	}
	return urls, nil
}

// resolveURLs collects URLs from args and the --input file.
func resolveURLs(args []string, input string, stdin io.Reader) ([]string, error) {
	urls := append([]string(nil), args...)
	if input != "" {
		var r io.Reader = stdin
		if input != "-" {
			f, err := os.Open(input)
			if err != nil {
				return nil, fmt.Errorf("opening input file: %w", err)
			}
			defer f.Close()
			r = f
		}
		more, err := readURLs(r)
		if err != nil {
			return nil, err
		}
		urls = append(urls, more...)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no repositories specified; pass URLs as arguments or use --input")
	}
	return urls, nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	urls, err := resolveURLs(args, fetchInput, cmd.InOrStdin())
	if err != nil {
		return err
	}
	user, err := resolveUser(fetchUser, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := initComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Close()

	if n, err := c.Tracker.RecoverUser(ctx, user); err != nil {
		logger.Warn("orphan recovery failed", "user", user, "error", err)
	} else if n > 0 {
		logger.Info("cleaned orphaned clones", "user", user, "count", n)
	}

	workers := fetchWorkers
	if workers <= 0 {
		workers = cfg.Clone.Workers
	}

	bar := newProgressBar(len(urls), "Fetching", cmd.ErrOrStderr())
	if fetchEvents {
		done := streamEvents(ctx, c, cmd.ErrOrStderr())
		defer func() {
			c.Broker.Close()
			<-done
		}()
	}

	onProgress := func(ev fetch.Event) {
		if !fetchEvents {
			bar.Observe(ev)
		}
	}
	orch := fetch.New(fetch.Deps{
		Store:      c.Store,
		Tracker:    c.Tracker,
		Cloner:     c.Cloner,
		API:        c.GitHub,
		Analyzer:   c.Analyzer,
		Broker:     c.Broker,
		OnProgress: onProgress,
		User:       user,
		Workers:    workers,
		Logger:     logger,
	})

	start := time.Now()
	results := orch.Run(ctx, urls)
	if !fetchEvents {
		bar.Finish()
	}
	report := notify.NewReport(user, results, time.Since(start))

	if fetchJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("encoding results: %w", err)
		}
	} else {
		printResults(cmd.OutOrStdout(), report)
	}

	if c.Notifier != nil && !fetchNoNotify {
		if err := c.Notifier.Notify(ctx, report); err != nil {
			logger.Warn("failed to send batch notification", "error", err)
		}
	}

	if report.Summary.Failed > 0 {
		return fmt.Errorf("%d of %d repositories failed", report.Summary.Failed, report.Summary.Total)
	}
	return nil
}

// streamEvents writes every broker event as a JSON line until the broker
// closes. The returned channel is closed when the stream ends.
func streamEvents(ctx context.Context, c *components, w io.Writer) <-chan struct{} {
	events := c.Broker.Subscribe(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		enc := json.NewEncoder(w)
		for ev := range events {
			enc.Encode(ev.Payload)
		}
	}()
	return done
}

func printResults(w io.Writer, r notify.Report) {
	for _, res := range r.Results {
		name := res.FullName
		if name == "" {
			name = res.URL
		}
		if res.Success {
			fmt.Fprintf(w, "ok    %s (%s)\n", name, notify.FormatDuration(res.Duration))
		} else {
			fmt.Fprintf(w, "FAIL  %s: %s\n", name, res.Error)
		}
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "      warning: %s\n", warn)
		}
	}

	s := r.Summary
	fmt.Fprintf(w, "\nFetched %d/%d repositories in %s\n", s.Succeeded, s.Total, notify.FormatDuration(r.Duration))
	fmt.Fprintf(w, "  %s\n", notify.FormatStats(s.Stats))
	if s.Warnings > 0 {
		fmt.Fprintf(w, "  %d warnings\n", s.Warnings)
	}
}
