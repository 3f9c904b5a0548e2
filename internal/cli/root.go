package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

// SetBuildInfo sets version info injected at build time.
func SetBuildInfo(v, date, commit string) {
	version = v
	buildDate = date
	gitCommit = commit
}

// Persistent flags shared by every command.
var (
	flagConfig  string
	flagURL     string
	flagToken   string
	flagVerbose bool
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prsm",
		Short: "Command-line client for an OpenClaw-style agent gateway",
		Long: `PRSM talks to a personal agent gateway over its WebSocket protocol.

Chat with agents, stream replies, and manage sessions, skills and cron jobs
from the terminal. Every RPC call and finalized message is kept in a local
SQLite ledger for later inspection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default ~/.prsm/prsm.yaml)")
	pf.StringVar(&flagURL, "url", "", "gateway WebSocket URL (overrides config)")
	pf.StringVar(&flagToken, "token", "", "gateway token (overrides config)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log to stderr as well as the log file")

	cmd.AddCommand(versionCmd)
	cmd.AddCommand(chatCmd)
	cmd.AddCommand(tuiCmd)
	cmd.AddCommand(callCmd)
	cmd.AddCommand(sessionsCmd)
	cmd.AddCommand(agentsCmd)
	cmd.AddCommand(skillsCmd)
	cmd.AddCommand(cronCmd)
	cmd.AddCommand(historyCmd)
	cmd.AddCommand(logsCmd)
	cmd.AddCommand(configureCmd)
	cmd.AddCommand(mockGatewayCmd)
	return cmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "prsm %s\n", version)
		fmt.Fprintf(out, "  build:  %s\n", buildDate)
		fmt.Fprintf(out, "  commit: %s\n", gitCommit)
	},
}

// Execute runs the root cobra command.
func Execute() error {
	return rootCmd.Execute()
}
