package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/autoreply/internal/api"
	"github.com/foxzi/autoreply/internal/app"
	"github.com/foxzi/autoreply/internal/config"
	"github.com/foxzi/autoreply/internal/template"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "autoreply",
	Short: "Autoreply - auto-reply template studio",
	Long: `Autoreply keeps multilingual auto-reply templates, validates them against
webmail constraints and packages them into activation links for the
webmail activator.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Start the Autoreply HTTP API and, when enabled, the metrics endpoint.`,
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "autoreply version %s\n", version)
		if commit != "unknown" {
			fmt.Fprintf(out, "  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Fprintf(out, "  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// session holds what one-shot commands need. Logs go to stderr so command
// output stays clean.
type session struct {
	cfg    *config.Config
	db     *bolt.DB
	store  *template.Storage
	logger *slog.Logger
}

func openSession(stderr io.Writer) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := app.OpenDB(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	logger := app.SetupLogger(cfg.Logging, stderr)
	store, err := app.OpenStore(cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &session{cfg: cfg, db: db, store: store, logger: logger}, nil
}

func (s *session) Close() {
	s.db.Close()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	api.Version = version

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration is valid\n")
	fmt.Fprintf(out, "  API: %s\n", cfg.API.ListenAddr)
	fmt.Fprintf(out, "  Storage: %s\n", cfg.Storage.Path)
	if cfg.Storage.StarterFile != "" {
		fmt.Fprintf(out, "  Starter file: %s\n", cfg.Storage.StarterFile)
	}
	fmt.Fprintf(out, "  Activation URL: %s\n", cfg.Activation.URL)
	fmt.Fprintf(out, "  Default mode: %s\n", cfg.Activation.DefaultMode)
	if cfg.Activation.DefaultMailbox != "" {
		fmt.Fprintf(out, "  Default mailbox: %s\n", cfg.Activation.DefaultMailbox)
	}
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "  Metrics: %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}

	return nil
}
