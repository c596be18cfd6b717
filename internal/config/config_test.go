package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseBasicConfig(t *testing.T) {
	yaml := `
github:
  auth: token
  token: ghp_test
  base_url: https://github.example.com/api/v3
  request_timeout: 60s
  max_concurrency: 5
  rate_limit_threshold: 100
user: octocat
clone:
  temp_dir: /var/tmp/clones
  workers: 8
analysis:
  max_file_bytes: 2048
  cognitive:
    command: /usr/local/bin/complexipy
    timeout: 30s
    exclude_flag: -e
cleanup:
  stale_after: 2h
  interval: 5m
notify:
  slack_webhook: https://hooks.slack.com/test
store:
  path: /tmp/quickgrade.db
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GitHub.Token != "ghp_test" {
		t.Errorf("expected token 'ghp_test', got %q", cfg.GitHub.Token)
	}
	if cfg.GitHub.BaseURL != "https://github.example.com/api/v3" {
		t.Errorf("unexpected base url %q", cfg.GitHub.BaseURL)
	}
	if cfg.GitHub.MaxConcurrency != 5 || cfg.GitHub.RateLimitThreshold != 100 {
		t.Errorf("unexpected github limits: %+v", cfg.GitHub)
	}
	if cfg.User != "octocat" {
		t.Errorf("expected user 'octocat', got %q", cfg.User)
	}
	if cfg.Clone.TempDir != "/var/tmp/clones" || cfg.Clone.Workers != 8 {
		t.Errorf("unexpected clone config: %+v", cfg.Clone)
	}
	if cfg.Analysis.MaxFileBytes != 2048 {
		t.Errorf("expected max_file_bytes 2048, got %d", cfg.Analysis.MaxFileBytes)
	}
	if cfg.Analysis.Cognitive.Command != "/usr/local/bin/complexipy" || cfg.Analysis.Cognitive.ExcludeFlag != "-e" {
		t.Errorf("unexpected cognitive config: %+v", cfg.Analysis.Cognitive)
	}
	if cfg.Notify.SlackWebhook != "https://hooks.slack.com/test" {
		t.Errorf("expected slack webhook, got %q", cfg.Notify.SlackWebhook)
	}
	if cfg.Store.Path != "/tmp/quickgrade.db" {
		t.Errorf("expected store path '/tmp/quickgrade.db', got %q", cfg.Store.Path)
	}

	durations := []struct {
		name string
		get  func() (time.Duration, error)
		want time.Duration
	}{
		{"request timeout", cfg.GitHub.RequestTimeout, 60 * time.Second},
		{"cognitive timeout", cfg.Analysis.Cognitive.Timeout, 30 * time.Second},
		{"stale after", cfg.Cleanup.StaleAfter, 2 * time.Hour},
		{"interval", cfg.Cleanup.Interval, 5 * time.Minute},
	}
	for _, d := range durations {
		got, err := d.get()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", d.name, err)
		}
		if got != d.want {
			t.Errorf("%s: expected %v, got %v", d.name, d.want, got)
		}
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("user: octocat\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GitHub.Auth != "token" {
		t.Errorf("expected default auth 'token', got %q", cfg.GitHub.Auth)
	}
	if cfg.GitHub.MaxConcurrency != 20 {
		t.Errorf("expected default max_concurrency 20, got %d", cfg.GitHub.MaxConcurrency)
	}
	if cfg.GitHub.RateLimitThreshold != 500 {
		t.Errorf("expected default rate_limit_threshold 500, got %d", cfg.GitHub.RateLimitThreshold)
	}
	if cfg.Clone.TempDir != "/tmp/quickgrade_clones" {
		t.Errorf("expected default temp_dir, got %q", cfg.Clone.TempDir)
	}
	if cfg.Clone.Workers != 4 {
		t.Errorf("expected default workers 4, got %d", cfg.Clone.Workers)
	}
	if cfg.Analysis.MaxFileBytes != 1<<20 {
		t.Errorf("expected default max_file_bytes 1MiB, got %d", cfg.Analysis.MaxFileBytes)
	}
	if cfg.Analysis.Cognitive.ExcludeFlag != "--exclude" {
		t.Errorf("expected default exclude flag, got %q", cfg.Analysis.Cognitive.ExcludeFlag)
	}

	timeout, _ := cfg.GitHub.RequestTimeout()
	if timeout != 30*time.Second {
		t.Errorf("expected default request timeout 30s, got %v", timeout)
	}
	stale, _ := cfg.Cleanup.StaleAfter()
	if stale != time.Hour {
		t.Errorf("expected default stale_after 1h, got %v", stale)
	}
	interval, _ := cfg.Cleanup.Interval()
	if interval != 10*time.Minute {
		t.Errorf("expected default interval 10m, got %v", interval)
	}
	cognitive, _ := cfg.Analysis.Cognitive.Timeout()
	if cognitive != 2*time.Minute {
		t.Errorf("expected default cognitive timeout 2m, got %v", cognitive)
	}
}

func TestAppAuthDefaultsFromAppID(t *testing.T) {
	yaml := `
github:
  app_id: "12345"
  installation_id: "678"
  private_key_path: /path/to/key.pem
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GitHub.Auth != "app" {
		t.Errorf("expected auth 'app', got %q", cfg.GitHub.Auth)
	}
	appID, instID, err := cfg.GitHub.AppIDs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appID != 12345 || instID != 678 {
		t.Errorf("expected ids 12345/678, got %d/%d", appID, instID)
	}
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_GITHUB_TOKEN", "ghp_from_env")

	cfg, err := Parse([]byte("github:\n  token: ${TEST_GITHUB_TOKEN}\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GitHub.Token != "ghp_from_env" {
		t.Errorf("expected token from env, got %q", cfg.GitHub.Token)
	}
}

func TestEnvVarMissing(t *testing.T) {
	os.Unsetenv("QUICKGRADE_TEST_UNSET_VAR")

	_, err := Parse([]byte("github:\n  token: ${QUICKGRADE_TEST_UNSET_VAR}\n"))
	if err == nil {
		t.Fatal("expected error for missing env var, got nil")
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown auth", "github:\n  auth: oauth\n"},
		{"app without key", "github:\n  auth: app\n  app_id: \"1\"\n  installation_id: \"2\"\n"},
		{"app with bad id", "github:\n  auth: app\n  app_id: abc\n  installation_id: \"2\"\n  private_key: k\n"},
		{"negative workers", "clone:\n  workers: -1\n"},
		{"negative concurrency", "github:\n  max_concurrency: -3\n"},
		{"bad request timeout", "github:\n  request_timeout: soon\n"},
		{"bad stale_after", "cleanup:\n  stale_after: 1x\n"},
		{"zero interval", "cleanup:\n  interval: 0s\n"},
		{"bad cognitive timeout", "analysis:\n  cognitive:\n    timeout: forever\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.yaml)); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get home dir: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "tilde prefix",
			input:    "~/.quickgrade/quickgrade.db",
			expected: filepath.Join(home, ".quickgrade", "quickgrade.db"),
		},
		{
			name:     "tilde only",
			input:    "~",
			expected: home,
		},
		{
			name:     "absolute path unchanged",
			input:    "/tmp/quickgrade.db",
			expected: "/tmp/quickgrade.db",
		},
		{
			name:     "relative path unchanged",
			input:    "data/quickgrade.db",
			expected: "data/quickgrade.db",
		},
		{
			name:     "tilde in middle unchanged",
			input:    "/some/~/path",
			expected: "/some/~/path",
		},
		{
			name:     "tilde user form unchanged",
			input:    "~other/db",
			expected: "~other/db",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := expandTilde(tc.input)
			if result != tc.expected {
				t.Errorf("expandTilde(%q) = %q, want %q", tc.input, result, tc.expected)
			}
		})
	}
}

func TestTildeExpansionInPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get home dir: %v", err)
	}

	cfg, err := Parse([]byte("clone:\n  temp_dir: ~/clones\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if want := filepath.Join(home, ".quickgrade", "quickgrade.db"); cfg.Store.Path != want {
		t.Errorf("expected default store path %q, got %q", want, cfg.Store.Path)
	}
	if want := filepath.Join(home, "clones"); cfg.Clone.TempDir != want {
		t.Errorf("expected temp dir %q, got %q", want, cfg.Clone.TempDir)
	}
}
