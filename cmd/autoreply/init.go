package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/autoreply/internal/email"
)

var (
	initOutput         string
	initDataDir        string
	initAPIKey         string
	initMailbox        string
	initActivationURL  string
	initMode           string
	initMetrics        bool
	initMailboxPerHour int
	initForce          bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Autoreply configuration",
	Long: `Interactive wizard to create an Autoreply configuration file.

Examples:
  # Interactive mode - prompts for missing values
  autoreply init

  # Non-interactive
  autoreply init --mailbox support@example.com --data-dir ./data -o autoreply.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/autoreply", "Data directory for the template store")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().StringVar(&initMailbox, "mailbox", "", "Default target mailbox")
	initCmd.Flags().StringVar(&initActivationURL, "activation-url", "https://qiye.aliyun.com/", "Webmail page that receives activation links")
	initCmd.Flags().StringVar(&initMode, "mode", "current", "Default activation mode: current, all")
	initCmd.Flags().BoolVar(&initMetrics, "metrics", false, "Enable Prometheus metrics")
	initCmd.Flags().IntVar(&initMailboxPerHour, "mailbox-per-hour", 20, "Activations allowed per mailbox per hour (0 = unlimited)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Autoreply Configuration Wizard")
	fmt.Fprintln(out, "==============================")
	fmt.Fprintln(out)

	if !cmd.Flags().Changed("data-dir") {
		initDataDir = prompt(reader, out, "Data directory", initDataDir)
	}

	if initMailbox == "" {
		initMailbox = prompt(reader, out, "Default target mailbox (optional)", "")
	}
	if initMailbox != "" && !email.IsValidMailbox(initMailbox) {
		return fmt.Errorf("mailbox %q is not a valid address", initMailbox)
	}

	if !cmd.Flags().Changed("activation-url") {
		initActivationURL = prompt(reader, out, "Activation URL", initActivationURL)
	}

	if initMode != "current" && initMode != "all" {
		return fmt.Errorf("invalid mode: %s (must be current or all)", initMode)
	}

	if !initMetrics {
		answer := prompt(reader, out, "Enable Prometheus metrics? [y/N]", "n")
		initMetrics = strings.ToLower(answer) == "y" || strings.ToLower(answer) == "yes"
	}

	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
		fmt.Fprintf(out, "  Generated API key: %s\n", initAPIKey)
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Fprintf(out, "  Warning: Could not create data directory: %v\n", err)
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(out, "  Configuration saved to: %s\n", initOutput)
	fmt.Fprintln(out)

	printNextSteps(out)
	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultValue)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func generateConfig() string {
	mailboxLine := `  # default_mailbox: "support@example.com"`
	if initMailbox != "" {
		mailboxLine = fmt.Sprintf(`  default_mailbox: "%s"`, initMailbox)
	}

	quotaSection := `  # quota:
  #   per_mailbox:
  #     per_hour: 20`
	if initMailboxPerHour > 0 {
		quotaSection = fmt.Sprintf(`  quota:
    per_mailbox:
      per_hour: %d
    per_client:
      per_hour: %d`, initMailboxPerHour, initMailboxPerHour*5)
	}

	return fmt.Sprintf(`# Autoreply configuration
# Generated by: autoreply init

storage:
  path: "%s"
  # starter_file: "starter-templates.json"

api:
  listen_addr: ":8080"
  api_key: "%s"
  max_header_bytes: 1048576  # 1 MB
  max_body_bytes: 5242880    # 5 MB, bounds imports
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s

activation:
  url: "%s"
  default_mode: %s
%s
%s

logging:
  level: "info"
  format: "json"

metrics:
  enabled: %v
  listen_addr: ":9090"
  path: "/metrics"
  allowed_ips:
    - "127.0.0.1"
`,
		filepath.Join(initDataDir, "templates.db"),
		initAPIKey,
		initActivationURL,
		initMode,
		mailboxLine,
		quotaSection,
		initMetrics,
	)
}

func printNextSteps(out io.Writer) {
	fmt.Fprintln(out, "Next Steps")
	fmt.Fprintln(out, "==========")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "1. Check the configuration:")
	fmt.Fprintf(out, "   autoreply config validate -c %s\n", initOutput)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "2. Start the server:")
	fmt.Fprintf(out, "   autoreply serve -c %s\n", initOutput)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "3. List templates:")
	fmt.Fprintln(out, "   curl http://localhost:8080/api/v1/groups \\")
	fmt.Fprintf(out, "     -H \"Authorization: Bearer %s\"\n", initAPIKey)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "API Key: %s\n", initAPIKey)
	fmt.Fprintln(out)
}
