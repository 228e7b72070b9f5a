package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/autoreply/internal/metrics"
)

var (
	exportOutput string
	resetForce   bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace all groups with the contents of a JSON file",
	Long: `Replace all groups with the contents of a JSON file.

Accepted shapes: an export file ({"groups": [...]}), a legacy
{"templates": [...]} file, or a bare array of flat templates.
The store is left untouched when the file holds no usable group.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all groups as JSON",
	RunE:  runExport,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Replace all groups with the starter file",
	RunE:  runReset,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Confirm discarding every stored group")

	rootCmd.AddCommand(importCmd, exportCmd, resetCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}

	sess, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()
	store := sess.store

	groups := store.Normalizer().NormalizeJSON(data)
	if len(groups) == 0 {
		metrics.IncImport("rejected")
		return fmt.Errorf("no usable template groups in %s", args[0])
	}

	stored, err := store.Replace(cmd.Context(), groups)
	if err != nil {
		metrics.IncImport("error")
		return fmt.Errorf("failed to import groups: %w", err)
	}
	metrics.IncImport("success")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Imported %d groups from %s\n", stored, args[0])
	if skipped := len(groups) - stored; skipped > 0 {
		fmt.Fprintf(out, "  Skipped %d groups with repeated ids (first occurrence kept)\n", skipped)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()
	store := sess.store

	export, err := store.Export(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to export groups: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal export: %w", err)
	}
	data = append(data, '\n')

	if exportOutput == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	if err := os.WriteFile(exportOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d groups to %s\n", len(export.Groups), exportOutput)
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetForce {
		return fmt.Errorf("reset discards every stored group (use --force to confirm)")
	}

	sess, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()
	store := sess.store

	starter, err := store.Normalizer().LoadFile(sess.cfg.Storage.StarterFile)
	if err != nil {
		return fmt.Errorf("failed to load starter file: %w", err)
	}

	if err := store.Reset(cmd.Context(), starter); err != nil {
		return fmt.Errorf("failed to reset groups: %w", err)
	}
	metrics.IncGroupEdit("reset")

	total, _ := store.CountGroups(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "Reset complete: %d groups\n", total)
	return nil
}
