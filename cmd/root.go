package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jacklau/quickgrade/internal/analysis"
	"github.com/jacklau/quickgrade/internal/clone"
	"github.com/jacklau/quickgrade/internal/config"
	"github.com/jacklau/quickgrade/internal/fetch"
	"github.com/jacklau/quickgrade/internal/github"
	"github.com/jacklau/quickgrade/internal/notify"
	"github.com/jacklau/quickgrade/internal/pubsub"
	"github.com/jacklau/quickgrade/internal/store"
	"github.com/jacklau/quickgrade/internal/tracker"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "quickgrade",
	Short: "Ingest GitHub repositories into a local record store",
	Long: `Quickgrade clones GitHub repositories, reads their commit history,
fetches pull requests, issues, reviews and comments from the REST API,
runs static analysis over the checkout, and reconciles everything into
one record set per repository.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default %s)", defaultConfigPath()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quickgrade/config.yaml"
	}
	return home + "/.quickgrade/config.yaml"
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = defaultConfigPath()
	}
	return config.Load(path)
}

// components holds initialized components for use by subcommands.
type components struct {
	Config   *config.Config
	Store    *store.DB
	GitHub   *github.Client
	Cloner   *clone.Worker
	Analyzer *analysis.Runner
	Tracker  *tracker.Tracker
	Broker   *pubsub.Broker[fetch.Event]
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// Close releases the store and the broker.
func (c *components) Close() error {
	if c.Broker != nil {
		c.Broker.Close()
	}
	return c.Store.Close()
}

// openStore opens the store and the tracker on top of it. Commands that
// never talk to GitHub stop here.
func openStore(cfg *config.Config, logger *slog.Logger) (*components, error) {
	if cfg.Store.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	staleAfter, err := cfg.Cleanup.StaleAfter()
	if err != nil {
		db.Close()
		return nil, err
	}

	return &components{
		Config:  cfg,
		Store:   db,
		Tracker: tracker.New(db, tracker.Options{Logger: logger, StaleAfter: staleAfter}),
		Logger:  logger,
	}, nil
}

// initComponents creates every component from config.
func initComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	c, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	client, cred, err := newGitHubClient(ctx, cfg.GitHub, logger)
	if err != nil {
		c.Store.Close()
		return nil, fmt.Errorf("creating GitHub client: %w", err)
	}
	c.GitHub = client

	var ts clone.TokenSource
	if cred != nil {
		ts = cred
	}
	c.Cloner = clone.NewWorker(clone.Options{BaseDir: cfg.Clone.TempDir, Token: ts, Logger: logger})

	analyzer, err := newAnalyzer(cfg.Analysis, logger)
	if err != nil {
		c.Store.Close()
		return nil, err
	}
	c.Analyzer = analyzer

	c.Broker = pubsub.NewBroker[fetch.Event]()
	c.Notifier = notify.New(cfg.Notify.SlackWebhook, cfg.Notify.DiscordWebhook, logger)
	return c, nil
}

// newGitHubClient builds the API client for the configured auth mode. The
// returned credential, when non-nil, also authenticates clones. A token
// config without a token talks to the API anonymously.
func newGitHubClient(ctx context.Context, gc config.GitHubConfig, logger *slog.Logger) (*github.Client, github.Credential, error) {
	timeout, err := gc.RequestTimeout()
	if err != nil {
		return nil, nil, err
	}
	opts := github.Options{
		BaseURL:           gc.BaseURL,
		MaxConcurrency:    gc.MaxConcurrency,
		ThrottleThreshold: gc.RateLimitThreshold,
		Logger:            logger,
	}

	switch gc.Auth {
	case "app":
		appID, installID, err := gc.AppIDs()
		if err != nil {
			return nil, nil, err
		}
		return github.NewAppClient(appID, installID, []byte(gc.PrivateKey), gc.PrivateKeyPath, timeout, opts)
	default:
		if gc.Token == "" {
			logger.Warn("no GitHub token configured, using unauthenticated requests")
			client, err := github.NewClient(&http.Client{Timeout: timeout}, opts)
			return client, nil, err
		}
		client, err := github.NewTokenClient(ctx, gc.Token, timeout, opts)
		if err != nil {
			return nil, nil, err
		}
		return client, github.StaticToken(gc.Token), nil
	}
}

func newAnalyzer(ac config.AnalysisConfig, logger *slog.Logger) (*analysis.Runner, error) {
	structural := analysis.NewStructuralAnalyzer(analysis.StructuralOptions{
		MaxFileBytes: ac.MaxFileBytes,
		Logger:       logger,
	})

	var cognitive *analysis.CognitiveAnalyzer
	if ac.Cognitive.Command != "" {
		timeout, err := ac.Cognitive.Timeout()
		if err != nil {
			return nil, err
		}
		cognitive = analysis.NewCognitiveAnalyzer(analysis.CognitiveOptions{
			Command:     ac.Cognitive.Command,
			ExcludeFlag: ac.Cognitive.ExcludeFlag,
			Timeout:     timeout,
			Logger:      logger,
		})
	}
	return analysis.NewRunner(structural, cognitive, logger), nil
}

// resolveUser picks the flag value over the configured user.
func resolveUser(flag string, cfg *config.Config) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if cfg.User != "" {
		return cfg.User, nil
	}
	return "", fmt.Errorf("no user specified: pass --user or set user in the config file")
}
