package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/autoreply/internal/ratelimit"
)

var (
	quotaClient  string
	quotaMailbox string
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Activation quota commands",
}

var quotaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show activation quotas and current usage",
	Long: `Show the configured activation quotas and the counters persisted in the
template store.

Examples:
  autoreply quota show -c config.yaml
  autoreply quota show --mailbox support@example.com --client 10.0.0.7`,
	RunE: runQuotaShow,
}

func init() {
	quotaShowCmd.Flags().StringVar(&quotaClient, "client", "", "Client key to show usage for")
	quotaShowCmd.Flags().StringVar(&quotaMailbox, "mailbox", "", "Target mailbox to show usage for")

	quotaCmd.AddCommand(quotaShowCmd)
	rootCmd.AddCommand(quotaCmd)
}

func runQuotaShow(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()

	out := cmd.OutOrStdout()
	qc := sess.cfg.Activation.Quota

	fmt.Fprintln(out, "Activation Quotas")
	fmt.Fprintln(out, "=================")
	fmt.Fprintf(out, "Enabled: %v\n\n", qc.Enabled())

	if !qc.Enabled() {
		fmt.Fprintln(out, "Activation quotas are disabled")
		return nil
	}

	limiter, err := ratelimit.NewLimiter(sess.db, qc)
	if err != nil {
		return fmt.Errorf("failed to load activation quota: %w", err)
	}
	defer limiter.Stop()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tKEY\tPER HOUR\tPER DAY\tUSED/HOUR\tUSED/DAY")
	fmt.Fprintln(w, "-----\t---\t--------\t-------\t---------\t--------")

	writeQuotaRow(w, limiter, ratelimit.LevelGlobal, "global", qc.Global)
	writeQuotaRow(w, limiter, ratelimit.LevelClient, quotaClient, qc.PerClient)
	writeQuotaRow(w, limiter, ratelimit.LevelMailbox, strings.ToLower(quotaMailbox), qc.PerMailbox)

	w.Flush()

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Counters are flushed every %s\n", qc.FlushInterval.Round(time.Second))
	return nil
}

func writeQuotaRow(w io.Writer, limiter *ratelimit.Limiter, level ratelimit.Level, key string, q *ratelimit.Quota) {
	if q == nil {
		fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\n", level)
		return
	}
	if key == "" {
		fmt.Fprintf(w, "%s\t-\t%s\t%s\t-\t-\n", level, quotaLimit(q.PerHour), quotaLimit(q.PerDay))
		return
	}

	usage := limiter.Usage(level, key)
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
		level, key,
		quotaLimit(q.PerHour), quotaLimit(q.PerDay),
		usage.HourlyCount, usage.DailyCount,
	)
}

func quotaLimit(n int) string {
	if n == 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}
