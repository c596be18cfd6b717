package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	GitHub   GitHubConfig   `yaml:"github"`
	User     string         `yaml:"user"`
	Clone    CloneConfig    `yaml:"clone"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Notify   NotifyConfig   `yaml:"notify"`
	Store    StoreConfig    `yaml:"store"`
}

// GitHubConfig holds GitHub authentication and client settings.
type GitHubConfig struct {
	Auth               string `yaml:"auth"`
	Token              string `yaml:"token"`
	AppID              string `yaml:"app_id"`
	InstallationID     string `yaml:"installation_id"`
	PrivateKeyPath     string `yaml:"private_key_path"`
	PrivateKey         string `yaml:"private_key"`
	BaseURL            string `yaml:"base_url"`
	RequestTimeoutRaw  string `yaml:"request_timeout"`
	MaxConcurrency     int    `yaml:"max_concurrency"`
	RateLimitThreshold int    `yaml:"rate_limit_threshold"`
}

// CloneConfig holds settings for temporary clones.
type CloneConfig struct {
	TempDir string `yaml:"temp_dir"`
	Workers int    `yaml:"workers"`
}

// AnalysisConfig holds code analysis settings.
type AnalysisConfig struct {
	MaxFileBytes int64           `yaml:"max_file_bytes"`
	Cognitive    CognitiveConfig `yaml:"cognitive"`
}

// CognitiveConfig configures the external cognitive complexity tool.
// An empty command disables it.
type CognitiveConfig struct {
	Command     string `yaml:"command"`
	TimeoutRaw  string `yaml:"timeout"`
	ExcludeFlag string `yaml:"exclude_flag"`
}

// CleanupConfig holds orphaned-clone sweep settings.
type CleanupConfig struct {
	StaleAfterRaw string `yaml:"stale_after"`
	IntervalRaw   string `yaml:"interval"`
}

// NotifyConfig holds notification webhook URLs.
type NotifyConfig struct {
	SlackWebhook   string `yaml:"slack_webhook"`
	DiscordWebhook string `yaml:"discord_webhook"`
}

// StoreConfig holds storage settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RequestTimeout returns the parsed request timeout duration.
func (g GitHubConfig) RequestTimeout() (time.Duration, error) {
	if g.RequestTimeoutRaw == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(g.RequestTimeoutRaw)
}

// AppIDs returns the parsed app and installation IDs.
func (g GitHubConfig) AppIDs() (appID, installationID int64, err error) {
	appID, err = strconv.ParseInt(g.AppID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid app_id %q: %w", g.AppID, err)
	}
	installationID, err = strconv.ParseInt(g.InstallationID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid installation_id %q: %w", g.InstallationID, err)
	}
	return appID, installationID, nil
}

// Timeout returns the parsed cognitive tool timeout.
func (c CognitiveConfig) Timeout() (time.Duration, error) {
	if c.TimeoutRaw == "" {
		return 2 * time.Minute, nil
	}
	return time.ParseDuration(c.TimeoutRaw)
}

// StaleAfter returns how long a clone may go without progress before it is
// considered orphaned.
func (c CleanupConfig) StaleAfter() (time.Duration, error) {
	if c.StaleAfterRaw == "" {
		return time.Hour, nil
	}
	return time.ParseDuration(c.StaleAfterRaw)
}

// Interval returns the periodic sweep interval.
func (c CleanupConfig) Interval() (time.Duration, error) {
	if c.IntervalRaw == "" {
		return 10 * time.Minute, nil
	}
	return time.ParseDuration(c.IntervalRaw)
}

// envVarPattern matches ${VAR} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} placeholders with environment variable values.
// Returns an error if any referenced variable is not set.
func expandEnvVars(data []byte) ([]byte, error) {
	var missing []string

	result := envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		val, ok := os.LookupEnv(string(varName))
		if !ok {
			missing = append(missing, string(varName))
			return match
		}
		return []byte(val)
	})

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// expandTilde replaces a leading "~" with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Load reads and parses a config file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses config from raw YAML bytes, expanding env vars and validating.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnvVars(data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Apply defaults
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.GitHub.Auth == "" {
		if cfg.GitHub.AppID != "" {
			cfg.GitHub.Auth = "app"
		} else {
			cfg.GitHub.Auth = "token"
		}
	}
	if cfg.GitHub.RequestTimeoutRaw == "" {
		cfg.GitHub.RequestTimeoutRaw = "30s"
	}
	if cfg.GitHub.MaxConcurrency == 0 {
		cfg.GitHub.MaxConcurrency = 20
	}
	if cfg.GitHub.RateLimitThreshold == 0 {
		cfg.GitHub.RateLimitThreshold = 500
	}
	if cfg.Clone.TempDir == "" {
		cfg.Clone.TempDir = "/tmp/quickgrade_clones"
	}
	if cfg.Clone.Workers == 0 {
		cfg.Clone.Workers = 4
	}
	if cfg.Analysis.MaxFileBytes == 0 {
		cfg.Analysis.MaxFileBytes = 1 << 20
	}
	if cfg.Analysis.Cognitive.TimeoutRaw == "" {
		cfg.Analysis.Cognitive.TimeoutRaw = "2m"
	}
	if cfg.Analysis.Cognitive.ExcludeFlag == "" {
		cfg.Analysis.Cognitive.ExcludeFlag = "--exclude"
	}
	if cfg.Cleanup.StaleAfterRaw == "" {
		cfg.Cleanup.StaleAfterRaw = "1h"
	}
	if cfg.Cleanup.IntervalRaw == "" {
		cfg.Cleanup.IntervalRaw = "10m"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.quickgrade/quickgrade.db"
	}
	cfg.Store.Path = expandTilde(cfg.Store.Path)
	cfg.Clone.TempDir = expandTilde(cfg.Clone.TempDir)
}

func validate(cfg *Config) error {
	switch cfg.GitHub.Auth {
	case "token":
	case "app":
		if _, _, err := cfg.GitHub.AppIDs(); err != nil {
			return err
		}
		if cfg.GitHub.PrivateKey == "" && cfg.GitHub.PrivateKeyPath == "" {
			return fmt.Errorf("app auth requires private_key or private_key_path")
		}
	default:
		return fmt.Errorf("unsupported github auth %q: expected token or app", cfg.GitHub.Auth)
	}

	if cfg.GitHub.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must be positive, got %d", cfg.GitHub.MaxConcurrency)
	}
	if cfg.GitHub.RateLimitThreshold < 0 {
		return fmt.Errorf("rate_limit_threshold must not be negative, got %d", cfg.GitHub.RateLimitThreshold)
	}
	if cfg.Clone.Workers < 0 {
		return fmt.Errorf("clone workers must be positive, got %d", cfg.Clone.Workers)
	}
	if cfg.Analysis.MaxFileBytes < 0 {
		return fmt.Errorf("max_file_bytes must be positive, got %d", cfg.Analysis.MaxFileBytes)
	}

	// Validate durations parse correctly
	durations := []struct {
		name string
		raw  string
	}{
		{"request_timeout", cfg.GitHub.RequestTimeoutRaw},
		{"cognitive timeout", cfg.Analysis.Cognitive.TimeoutRaw},
		{"stale_after", cfg.Cleanup.StaleAfterRaw},
		{"interval", cfg.Cleanup.IntervalRaw},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.raw, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.raw)
		}
	}

	return nil
}
