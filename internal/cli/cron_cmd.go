package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/CRMbyRSM/PRSM/internal/gateway/client"
)

var (
	cronJSON      bool
	cronRunsLimit int
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Inspect and toggle scheduled jobs",
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cron jobs, disabled ones included",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
			jobs, err := c.ListCronJobs(ctx)
			if err != nil {
				return fmt.Errorf("list cron jobs: %w", err)
			}
			out := cmd.OutOrStdout()
			if cronJSON {
				return printJSON(out, jobs)
			}
			if status, err := c.CronStatus(ctx); err == nil {
				fmt.Fprintf(out, "Scheduler: %s, %d jobs, next wake %s\n\n",
					map[bool]string{true: "on", false: "off"}[status.Enabled], status.Jobs, formatMillis(status.NextWakeAtMs))
			}
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No cron jobs.")
				return nil
			}
			for _, j := range jobs {
				state := styleSuccess.Render("on ")
				if !j.Enabled {
					state = styleMuted.Render("off")
				}
				fmt.Fprintf(out, "  %s %-16s %-24s %-16s next %s\n", state, j.ID, truncate(j.Name, 24), describeSchedule(j.Schedule), formatMillis(j.State.NextRunAtMs))
				if j.State.LastError != "" {
					fmt.Fprintf(out, "      %s\n", styleError.Render("last error: "+j.State.LastError))
				}
			}
			return nil
		})
	},
}

func cronToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: fmt.Sprintf("%s a cron job", map[bool]string{true: "Enable", false: "Disable"}[enabled]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
				if err := c.ToggleCronJob(ctx, args[0], enabled); err != nil {
					return fmt.Errorf("%s cron job: %w", use, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cron job %s %sd\n", args[0], use)
				return nil
			})
		},
	}
}

var cronRunsCmd = &cobra.Command{
	Use:   "runs <job-id>",
	Short: "Show a job's recent runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
			runs, err := c.CronRuns(ctx, args[0], cronRunsLimit)
			if err != nil {
				return fmt.Errorf("cron runs: %w", err)
			}
			out := cmd.OutOrStdout()
			if cronJSON {
				return printJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			for _, r := range runs {
				detail := r.Summary
				if r.Error != "" {
					detail = styleError.Render(r.Error)
				}
				fmt.Fprintf(out, "  %s  %-6s %6dms  %s\n", formatMillis(r.TS), r.Status, r.DurationMs, detail)
			}
			return nil
		})
	},
}

// describeSchedule renders the common schedule shapes: cron expressions,
// fixed intervals and one-shot times.
func describeSchedule(raw json.RawMessage) string {
	var s struct {
		Kind    string `json:"kind"`
		Expr    string `json:"expr"`
		EveryMs int64  `json:"everyMs"`
		AtMs    int64  `json:"atMs"`
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "?"
	}
	switch {
	case s.Expr != "":
		return s.Expr
	case s.EveryMs > 0:
		return "every " + formatDurationMs(s.EveryMs)
	case s.AtMs > 0:
		return "at " + formatMillis(s.AtMs)
	case s.Kind != "":
		return s.Kind
	default:
		return "?"
	}
}

func formatDurationMs(ms int64) string {
	switch {
	case ms%(24*3600*1000) == 0:
		return strconv.FormatInt(ms/(24*3600*1000), 10) + "d"
	case ms%(3600*1000) == 0:
		return strconv.FormatInt(ms/(3600*1000), 10) + "h"
	case ms%(60*1000) == 0:
		return strconv.FormatInt(ms/(60*1000), 10) + "m"
	default:
		return strconv.FormatInt(ms/1000, 10) + "s"
	}
}

func init() {
	cronCmd.PersistentFlags().BoolVar(&cronJSON, "json", false, "print JSON")
	cronRunsCmd.Flags().IntVar(&cronRunsLimit, "limit", 20, "maximum runs to show")
	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronToggleCmd("enable", true))
	cronCmd.AddCommand(cronToggleCmd("disable", false))
	cronCmd.AddCommand(cronRunsCmd)
}
