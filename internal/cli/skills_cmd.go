package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CRMbyRSM/PRSM/internal/gateway/client"
)

var (
	skillsJSON      bool
	skillsInstallID string
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "List, enable, disable and install skills",
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List skills and their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
			skills, err := c.ListSkills(ctx)
			if err != nil {
				return fmt.Errorf("list skills: %w", err)
			}
			out := cmd.OutOrStdout()
			if skillsJSON {
				return printJSON(out, skills)
			}
			if len(skills) == 0 {
				fmt.Fprintln(out, "No skills.")
				return nil
			}
			for _, s := range skills {
				status := styleSuccess.Render("enabled")
				switch {
				case s.Disabled:
					status = styleMuted.Render("disabled")
				case !s.Eligible:
					status = styleWarn.Render("needs setup")
				}
				fmt.Fprintf(out, "  %-20s %-12s %s\n", s.ID(), status, truncate(s.Description, 60))
			}
			return nil
		})
	},
}

func skillToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <skill>",
		Short: fmt.Sprintf("%s a skill", map[bool]string{true: "Enable", false: "Disable"}[enabled]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
				if err := c.ToggleSkill(ctx, args[0], enabled); err != nil {
					return fmt.Errorf("%s skill: %w", use, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Skill %s %sd\n", args[0], use)
				return nil
			})
		},
	}
}

var skillsInstallCmd = &cobra.Command{
	Use:   "install <skill>",
	Short: "Install a skill's dependencies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
			if err := c.InstallSkill(ctx, args[0], skillsInstallID); err != nil {
				return fmt.Errorf("install skill: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Skill %s installed\n", args[0])
			return nil
		})
	},
}

func init() {
	skillsListCmd.Flags().BoolVar(&skillsJSON, "json", false, "print JSON")
	skillsInstallCmd.Flags().StringVar(&skillsInstallID, "install-id", "", "installer to use when a skill offers several")
	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillToggleCmd("enable", true))
	skillsCmd.AddCommand(skillToggleCmd("disable", false))
	skillsCmd.AddCommand(skillsInstallCmd)
}
