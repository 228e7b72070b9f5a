package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/autoreply/internal/activation"
	"github.com/foxzi/autoreply/internal/app"
	"github.com/foxzi/autoreply/internal/metrics"
	"github.com/foxzi/autoreply/internal/ratelimit"
	"github.com/foxzi/autoreply/internal/template"
)

var (
	activateLocale  string
	activateMailbox string
	activateMode    string
	activatePacket  bool
	activateJSON    bool

	decodeJSON bool
)

var activateCmd = &cobra.Command{
	Use:   "activate <groupId>",
	Short: "Build the activation link for a template",
	Long: `Validate a template, package it into an activation envelope and print
the link that hands it to the webmail activator.

Examples:
  autoreply activate T_CUSTOM_1700000000000 --mailbox support@example.com
  autoreply activate T_CUSTOM_1700000000000 --locale en-US --mode all --packet`,
	Args: cobra.ExactArgs(1),
	RunE: runActivate,
}

var decodeCmd = &cobra.Command{
	Use:   "decode <payload-or-url>",
	Short: "Decode an activation payload or link",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecode,
}

func init() {
	activateCmd.Flags().StringVar(&activateLocale, "locale", string(template.LocaleZhCN), "Locale to activate (zh-CN, en-US)")
	activateCmd.Flags().StringVar(&activateMailbox, "mailbox", "", "Target mailbox (default: activation.default_mailbox)")
	activateCmd.Flags().StringVar(&activateMode, "mode", "", "current or all (default: activation.default_mode)")
	activateCmd.Flags().BoolVar(&activatePacket, "packet", false, "Print the plain-text clipboard packet")
	activateCmd.Flags().BoolVar(&activateJSON, "json", false, "Print the envelope as JSON")
	activateCmd.MarkFlagsMutuallyExclusive("packet", "json")

	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "Print the envelope as JSON")

	rootCmd.AddCommand(activateCmd, decodeCmd)
}

func runActivate(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()

	var quota *ratelimit.Limiter
	if sess.cfg.Activation.Quota.Enabled() {
		quota, err = ratelimit.NewLimiter(sess.db, sess.cfg.Activation.Quota)
		if err != nil {
			return fmt.Errorf("failed to create activation quota: %w", err)
		}
		defer quota.Stop()
	}

	mailbox := activateMailbox
	if mailbox == "" {
		mailbox = sess.cfg.Activation.DefaultMailbox
	}
	mode := activateMode
	if mode == "" {
		mode = sess.cfg.Activation.DefaultMode
	}

	activator := app.NewActivator(sess.cfg, sess.store, quota, sess.logger)
	result, err := activator.Activate(cmd.Context(), activation.ActivationRequest{
		GroupID:       args[0],
		Locale:        template.Locale(activateLocale),
		TargetMailbox: mailbox,
		Mode:          activation.ParseMode(mode),
		Client:        "cli",
	})
	if err != nil {
		var validationErr *activation.ValidationError
		if errors.As(err, &validationErr) {
			printFindings(cmd.ErrOrStderr(), template.ValidationResult{
				Errors:   validationErr.Errors,
				Warnings: validationErr.Warnings,
			})
		}
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case activatePacket:
		fmt.Fprint(out, activation.Packet(result.Envelope, time.Now()))
	case activateJSON:
		pretty, err := activation.PrettyJSON(result.Envelope)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, pretty)
	default:
		fmt.Fprintln(out, result.Message)
		fmt.Fprintln(out)
		fmt.Fprintln(out, result.URL)
	}
	return nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	env, err := activation.DecodeAny(args[0])
	if err != nil {
		metrics.IncDecode("invalid")
		return err
	}
	metrics.IncDecode("success")

	out := cmd.OutOrStdout()
	if decodeJSON {
		pretty, err := activation.PrettyJSON(env)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, pretty)
		return nil
	}

	fmt.Fprintf(out, "Schema version: %d\n", env.Version)
	fmt.Fprintf(out, "Source: %s\n", env.Source)
	fmt.Fprint(out, activation.Packet(env, time.Now()))
	return nil
}
