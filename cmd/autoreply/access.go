package main

import (
	"fmt"
	"io"
	"net/netip"

	"github.com/spf13/cobra"

	"github.com/foxzi/autoreply/internal/config"
	"github.com/foxzi/autoreply/internal/ipfilter"
)

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Endpoint access diagnostics",
}

var accessCheckCmd = &cobra.Command{
	Use:   "check <ip>",
	Short: "Check whether an address may reach the API and metrics endpoints",
	Long: `Evaluate an IP address against api.allowed_ips and metrics.allowed_ips.

Examples:
  autoreply access check 10.0.0.7 -c config.yaml
  autoreply access check ::1 -c config.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runAccessCheck,
}

func init() {
	accessCmd.AddCommand(accessCheckCmd)
	rootCmd.AddCommand(accessCmd)
}

// accessResult is the verdict for one endpoint
type accessResult struct {
	Endpoint string
	Rules    int
	Allowed  bool
}

func runAccessCheck(cmd *cobra.Command, args []string) error {
	addr, err := netip.ParseAddr(args[0])
	if err != nil {
		return fmt.Errorf("invalid IP address: %s", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	results, err := checkAccess(cfg, addr)
	if err != nil {
		return err
	}

	printAccess(cmd.OutOrStdout(), addr, results)
	return nil
}

func checkAccess(cfg *config.Config, addr netip.Addr) ([]accessResult, error) {
	type endpoint struct {
		name    string
		entries []string
	}
	endpoints := []endpoint{{"api", cfg.API.AllowedIPs}}
	if cfg.Metrics.Enabled {
		endpoints = append(endpoints, endpoint{"metrics", cfg.Metrics.AllowedIPs})
	}

	results := make([]accessResult, 0, len(endpoints))
	for _, ep := range endpoints {
		filter, err := ipfilter.Parse(ep.entries, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid %s.allowed_ips: %w", ep.name, err)
		}
		results = append(results, accessResult{
			Endpoint: ep.name,
			Rules:    filter.Count(),
			Allowed:  filter.Allows(addr),
		})
	}
	return results, nil
}

func printAccess(out io.Writer, addr netip.Addr, results []accessResult) {
	fmt.Fprintf(out, "Checking %s\n\n", addr)
	fmt.Fprintf(out, "%-12s %-10s %s\n", "ENDPOINT", "STATUS", "RULES")

	for _, r := range results {
		status := "[DENIED]"
		if r.Allowed {
			status = "[ALLOWED]"
		}
		rules := fmt.Sprintf("%d", r.Rules)
		if r.Rules == 0 {
			rules = "open to all"
		}
		fmt.Fprintf(out, "%-12s %-10s %s\n", r.Endpoint, status, rules)
	}
}
