package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CRMbyRSM/PRSM/internal/gateway/client"
)

var agentsJSON bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect the gateway's agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
			agents, err := c.ListAgents(ctx)
			if err != nil {
				return fmt.Errorf("list agents: %w", err)
			}
			out := cmd.OutOrStdout()
			if agentsJSON {
				return printJSON(out, agents)
			}
			if len(agents) == 0 {
				fmt.Fprintln(out, "No agents.")
				return nil
			}
			for _, a := range agents {
				name := a.Name
				if a.Emoji != "" {
					name = a.Emoji + " " + name
				}
				fmt.Fprintf(out, "  %-16s %-24s %s\n", a.ID, name, styleMuted.Render(a.Model))
			}
			return nil
		})
	},
}

var agentsIdentityCmd = &cobra.Command{
	Use:   "identity [agent-id]",
	Short: "Show an agent's display identity",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := "main"
		if len(args) == 1 {
			id = args[0]
		}
		return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
			ident, err := c.AgentIdentity(ctx, id)
			if err != nil {
				return fmt.Errorf("agent identity: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), ident)
		})
	},
}

var agentsFilesCmd = &cobra.Command{
	Use:   "files [agent-id]",
	Short: "List an agent's workspace files",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := "main"
		if len(args) == 1 {
			id = args[0]
		}
		return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
			files, err := c.ListAgentFiles(ctx, id)
			if err != nil {
				return fmt.Errorf("agent files: %w", err)
			}
			out := cmd.OutOrStdout()
			if agentsJSON {
				return printJSON(out, files)
			}
			for _, f := range files {
				state := formatMillis(f.UpdatedAt)
				if f.Missing {
					state = styleWarn.Render("missing")
				}
				fmt.Fprintf(out, "  %-24s %8d  %s\n", f.Name, f.Size, state)
			}
			return nil
		})
	},
}

func init() {
	agentsCmd.PersistentFlags().BoolVar(&agentsJSON, "json", false, "print JSON")
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsIdentityCmd)
	agentsCmd.AddCommand(agentsFilesCmd)
}
