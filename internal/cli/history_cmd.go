package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CRMbyRSM/PRSM/internal/system/calllog"
)

var (
	historyMethod     string
	historyStatus     string
	historySince      time.Duration
	historyLimit      int
	historyOffset     int
	historySession    string
	historySearch     string
	historyJSON       bool
	historyMaxAge     int
	historyMaxRecords int
)

// --- History 命令组 ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the local call and message ledger",
	Long: `View and manage the local ledger of RPC calls and finalized messages.
Recording is controlled by callLog.enabled in the config file.`,
}

var historyCallsCmd = &cobra.Command{
	Use:   "calls",
	Short: "List recorded RPC calls, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCallStore()
		if err != nil {
			return err
		}
		defer store.Close()

		params := calllog.QueryParams{
			Method: historyMethod,
			Status: historyStatus,
			Limit:  historyLimit,
			Offset: historyOffset,
		}
		if historySince > 0 {
			params.Since = time.Now().Add(-historySince)
		}
		calls, total, err := store.Query(params)
		if err != nil {
			return fmt.Errorf("query calls: %w", err)
		}

		out := cmd.OutOrStdout()
		if historyJSON {
			return printJSON(out, calls)
		}
		if len(calls) == 0 {
			fmt.Fprintln(out, "No calls recorded.")
			return nil
		}
		fmt.Fprintf(out, "Calls (%d/%d):\n\n", len(calls), total)
		for _, c := range calls {
			status := styleSuccess.Render(c.Status)
			if c.Status == calllog.StatusError {
				status = styleError.Render(c.Status)
			}
			fmt.Fprintf(out, "  #%-6d [%s] %-24s %-5s %6dms\n", c.ID, formatLedgerTime(c.CreatedAt), c.Method, status, c.DurationMs)
			if c.ErrorMessage != "" {
				fmt.Fprintf(out, "          %s %s\n", c.ErrorCode, truncate(c.ErrorMessage, 70))
			}
		}
		if total > historyOffset+len(calls) {
			next := historyOffset + len(calls)
			fmt.Fprintf(out, "\n  ... %d more records. Use --offset %d to see next page.\n", total-next, next)
		}
		return nil
	},
}

var historyMessagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Show recorded messages, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCallStore()
		if err != nil {
			return err
		}
		defer store.Close()

		msgs, err := store.Messages(calllog.MessageQuery{
			SessionKey: historySession,
			Search:     historySearch,
			Limit:      historyLimit,
		})
		if err != nil {
			return fmt.Errorf("query messages: %w", err)
		}

		out := cmd.OutOrStdout()
		if historyJSON {
			return printJSON(out, msgs)
		}
		if len(msgs) == 0 {
			fmt.Fprintln(out, "No messages recorded.")
			return nil
		}
		for _, m := range msgs {
			who := styleAssistant.Render(m.Role)
			if m.Role == "user" {
				who = styleUser.Render(m.Role)
			}
			fmt.Fprintf(out, "[%s] %s %s\n", formatLedgerTime(m.CreatedAt), styleMuted.Render(m.SessionKey), who)
			fmt.Fprintf(out, "  %s\n\n", m.Content)
		}
		return nil
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCallStore()
		if err != nil {
			return err
		}
		defer store.Close()

		st, err := store.Stats()
		if err != nil {
			return fmt.Errorf("ledger stats: %w", err)
		}
		out := cmd.OutOrStdout()
		if historyJSON {
			return printJSON(out, st)
		}
		fmt.Fprintf(out, "Calls:     %d (%d failed)\n", st.TotalCalls, st.FailedCalls)
		fmt.Fprintf(out, "Messages:  %d\n", st.TotalMessages)
		fmt.Fprintf(out, "Avg time:  %.1fms\n", st.AvgDurationMs)
		if st.Earliest != "" {
			fmt.Fprintf(out, "Range:     %s .. %s\n", formatLedgerTime(st.Earliest), formatLedgerTime(st.Latest))
		}
		if len(st.ByMethod) > 0 {
			fmt.Fprintln(out, "\nBy method:")
			for method, n := range st.ByMethod {
				fmt.Fprintf(out, "  %-28s %d\n", method, n)
			}
		}
		fmt.Fprintf(out, "\nDatabase: %s\n", store.DBPath())
		return nil
	},
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old ledger records",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCallStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Cleanup(historyMaxAge, historyMaxRecords)
		if err != nil {
			return fmt.Errorf("clean ledger: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d records\n", n)
		return nil
	},
}

// openCallStore opens the ledger whether or not recording is enabled, so
// past records stay readable.
func openCallStore() (*calllog.Store, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := calllog.Open(calllog.FromConfig(cfg.CallLog))
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}
	return store, nil
}

func formatLedgerTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func init() {
	historyCmd.PersistentFlags().IntVar(&historyLimit, "limit", 50, "maximum records to show")
	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "print JSON")

	historyCallsCmd.Flags().StringVar(&historyMethod, "method", "", "filter by RPC method")
	historyCallsCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status (ok, error)")
	historyCallsCmd.Flags().DurationVar(&historySince, "since", 0, "only calls within this long ago, e.g. 2h")
	historyCallsCmd.Flags().IntVar(&historyOffset, "offset", 0, "skip this many records")

	historyMessagesCmd.Flags().StringVarP(&historySession, "session", "s", "", "filter by session key")
	historyMessagesCmd.Flags().StringVar(&historySearch, "search", "", "filter by content")

	historyCleanCmd.Flags().IntVar(&historyMaxAge, "max-age", 0, "delete records older than N days (default from config)")
	historyCleanCmd.Flags().IntVar(&historyMaxRecords, "max-records", 0, "keep at most N records per table (default from config)")

	historyCmd.AddCommand(historyCallsCmd)
	historyCmd.AddCommand(historyMessagesCmd)
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyCleanCmd)
}
