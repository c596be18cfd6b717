package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup for quickgrade configuration",
	Long:  `Creates a default configuration file with guided prompts.`,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// initAnswers holds the values gathered by the init prompts.
type initAnswers struct {
	User           string
	AppID          string
	InstallationID string
	KeyPath        string
	TempDir        string
	Cognitive      string
	SlackURL       string
	DiscordURL     string
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Welcome to quickgrade setup!")
	fmt.Fprintln(out, "This will create a configuration file for you.")
	fmt.Fprintln(out)

	configPath := cfgFile
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(out, "Config file already exists at %s\n", configPath)
		answer := prompt(reader, out, "Overwrite? [y/N]: ")
		answer = strings.ToLower(answer)
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	a := initAnswers{
		User:  prompt(reader, out, "Default user (or press Enter to skip): "),
		AppID: prompt(reader, out, "GitHub App ID (or press Enter to use a token): "),
	}
	if a.AppID != "" {
		a.InstallationID = prompt(reader, out, "GitHub App installation ID: ")
		a.KeyPath = prompt(reader, out, "GitHub private key path: ")
	}
	a.TempDir = prompt(reader, out, "Clone directory [/tmp/quickgrade_clones]: ")
	a.Cognitive = prompt(reader, out, "Cognitive complexity command, e.g. complexipy (or press Enter to skip): ")
	a.SlackURL = prompt(reader, out, "Slack webhook URL (or press Enter to skip): ")
	a.DiscordURL = prompt(reader, out, "Discord webhook URL (or press Enter to skip): ")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(buildConfigYAML(a)), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", configPath)
	if a.AppID == "" {
		fmt.Fprintln(out, "Export GITHUB_TOKEN before running quickgrade fetch.")
	}
	return nil
}

func prompt(r *bufio.Reader, w io.Writer, question string) string {
	fmt.Fprint(w, question)
	answer, _ := r.ReadString('\n')
	return strings.TrimSpace(answer)
}

func buildConfigYAML(a initAnswers) string {
	var b strings.Builder

	b.WriteString("# quickgrade configuration\n\n")

	b.WriteString("github:\n")
	if a.AppID != "" {
		b.WriteString("  auth: app\n")
		fmt.Fprintf(&b, "  app_id: %q\n", a.AppID)
		if a.InstallationID != "" {
			fmt.Fprintf(&b, "  installation_id: %q\n", a.InstallationID)
		} else {
			b.WriteString("  # installation_id: YOUR_INSTALLATION_ID\n")
		}
		if a.KeyPath != "" {
			fmt.Fprintf(&b, "  private_key_path: %s\n", a.KeyPath)
		} else {
			b.WriteString("  # private_key_path: /path/to/private-key.pem\n")
		}
	} else {
		b.WriteString("  auth: token\n")
		b.WriteString("  token: ${GITHUB_TOKEN}\n")
	}
	b.WriteString("  request_timeout: 30s\n")
	b.WriteString("  max_concurrency: 20\n")
	b.WriteString("  rate_limit_threshold: 500\n")
	b.WriteString("\n")

	if a.User != "" {
		fmt.Fprintf(&b, "user: %s\n\n", a.User)
	} else {
		b.WriteString("# user: octocat\n\n")
	}

	tempDir := a.TempDir
	if tempDir == "" {
		tempDir = "/tmp/quickgrade_clones"
	}
	b.WriteString("clone:\n")
	fmt.Fprintf(&b, "  temp_dir: %s\n", tempDir)
	b.WriteString("  workers: 4\n")
	b.WriteString("\n")

	b.WriteString("analysis:\n")
	b.WriteString("  max_file_bytes: 1048576\n")
	b.WriteString("  cognitive:\n")
	if a.Cognitive != "" {
		fmt.Fprintf(&b, "    command: %s\n", a.Cognitive)
	} else {
		b.WriteString("    # command: complexipy\n")
	}
	b.WriteString("    timeout: 2m\n")
	b.WriteString("\n")

	b.WriteString("cleanup:\n")
	b.WriteString("  stale_after: 1h\n")
	b.WriteString("  interval: 10m\n")
	b.WriteString("\n")

	b.WriteString("notify:\n")
	if a.SlackURL != "" {
		fmt.Fprintf(&b, "  slack_webhook: %s\n", a.SlackURL)
	} else {
		b.WriteString("  # slack_webhook: https://hooks.slack.com/services/...\n")
	}
	if a.DiscordURL != "" {
		fmt.Fprintf(&b, "  discord_webhook: %s\n", a.DiscordURL)
	} else {
		b.WriteString("  # discord_webhook: https://discord.com/api/webhooks/...\n")
	}
	b.WriteString("\n")

	b.WriteString("store:\n")
	b.WriteString("  path: ~/.quickgrade/quickgrade.db\n")

	return b.String()
}
