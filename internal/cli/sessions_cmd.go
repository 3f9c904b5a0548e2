package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CRMbyRSM/PRSM/internal/gateway/client"
	"github.com/CRMbyRSM/PRSM/internal/gateway/session"
)

var (
	sessionsLimit int
	sessionsJSON  bool
	sessionsAgent string
	sessionsLabel string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List and manage gateway sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently active first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
			list, err := c.ListSessions(ctx, sessionsLimit)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			out := cmd.OutOrStdout()
			if sessionsJSON {
				return printJSON(out, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No sessions.")
				return nil
			}
			current := resolveSessionKey("", rt.cfg)
			fmt.Fprintf(out, "Sessions (%d):\n\n", len(list))
			for _, s := range list {
				marker := " "
				if s.Key == current {
					marker = "*"
				}
				fmt.Fprintf(out, " %s %-40s  %-20s  %s\n", marker, s.Key, truncate(s.Title(), 20), formatMillis(s.UpdatedAt))
				if s.TotalTokens > 0 {
					fmt.Fprintf(out, "     tokens: %d in / %d out\n", s.InputTokens, s.OutputTokens)
				}
			}
			return nil
		})
	},
}

var sessionsUseCmd = &cobra.Command{
	Use:   "use <key>",
	Short: "Make a session the default for chat and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := session.SetCurrent(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Current session: %s\n", args[0])
		return nil
	},
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a fresh session and make it current",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
			key, err := c.CreateSession(ctx, sessionsAgent, sessionsLabel)
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			if err := session.SetCurrent(key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created session %s\n", key)
			return nil
		})
	},
}

var sessionsLabelCmd = &cobra.Command{
	Use:   "label <key> <label>",
	Short: "Rename a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
			label := args[1]
			if err := c.PatchSession(ctx, args[0], client.SessionPatch{Label: &label}); err != nil {
				return fmt.Errorf("label session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s labelled %q\n", args[0], label)
			return nil
		})
	},
}

var sessionsResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Clear a session's transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
			if err := c.ResetSession(ctx, args[0]); err != nil {
				return fmt.Errorf("reset session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s reset\n", args[0])
			return nil
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a session and its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
			if err := c.DeleteSession(ctx, args[0]); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
			if cur, _ := session.Current(); cur == args[0] {
				_ = session.SetCurrent("")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s deleted\n", args[0])
			return nil
		})
	},
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 50, "maximum sessions to list")
	sessionsListCmd.Flags().BoolVar(&sessionsJSON, "json", false, "print JSON")
	sessionsNewCmd.Flags().StringVar(&sessionsAgent, "agent", "main", "agent that owns the session")
	sessionsNewCmd.Flags().StringVar(&sessionsLabel, "label", "", "session label")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsUseCmd)
	sessionsCmd.AddCommand(sessionsNewCmd)
	sessionsCmd.AddCommand(sessionsLabelCmd)
	sessionsCmd.AddCommand(sessionsResetCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}
