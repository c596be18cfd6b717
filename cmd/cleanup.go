package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacklau/quickgrade/internal/tracker"
)

var (
	cleanupWatch      bool
	cleanupInterval   string
	cleanupStaleAfter string
	cleanupUser       string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned clone directories",
	Long: `Cleanup finds clone trackers that never reached a terminal state and
removes their temporary directories.

Without --watch it runs one sweep over trackers older than the stale
threshold. With --watch it sweeps periodically until interrupted. With
--user it instead recovers every unfinished tracker for that user, as
fetch does before a batch.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupWatch, "watch", false, "sweep periodically until interrupted")
	cleanupCmd.Flags().StringVar(&cleanupInterval, "interval", "", "sweep interval for --watch (default from config)")
	cleanupCmd.Flags().StringVar(&cleanupStaleAfter, "stale-after", "", "age after which a tracker is orphaned (default from config)")
	cleanupCmd.Flags().StringVarP(&cleanupUser, "user", "u", "", "recover every unfinished tracker for this user")
	rootCmd.AddCommand(cleanupCmd)
}

// durationFlag parses raw, falling back to def when raw is empty.
func durationFlag(name, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, raw)
	}
	return d, nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	staleDefault, _ := cfg.Cleanup.StaleAfter()
	staleAfter, err := durationFlag("stale-after", cleanupStaleAfter, staleDefault)
	if err != nil {
		return err
	}
	intervalDefault, _ := cfg.Cleanup.Interval()
	interval, err := durationFlag("interval", cleanupInterval, intervalDefault)
	if err != nil {
		return err
	}

	c, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Close()
	c.Tracker = tracker.New(c.Store, tracker.Options{Logger: logger, StaleAfter: staleAfter})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cleanupUser != "" {
		n, err := c.Tracker.RecoverUser(ctx, cleanupUser)
		if err != nil {
			return fmt.Errorf("recovering trackers: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleaned %d orphaned clone(s) for %s\n", n, cleanupUser)
		return nil
	}

	if !cleanupWatch {
		n, err := c.Tracker.SweepStale(ctx, 0)
		if err != nil {
			return fmt.Errorf("sweeping trackers: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleaned %d orphaned clone(s)\n", n)
		return nil
	}

	err = c.Tracker.Run(ctx, interval)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("cleanup watch: %w", err)
	}
	return nil
}
