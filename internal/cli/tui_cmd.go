package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CRMbyRSM/PRSM/internal/gateway/client"
	"github.com/CRMbyRSM/PRSM/internal/tui"
)

var (
	tuiSession  string
	tuiThinking string
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the full-screen chat interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withClientContext(ctx, func(ctx context.Context, rt *app, c *client.Client) error {
			key := resolveSessionKey(tuiSession, rt.cfg)
			c.SetPrimarySessionKey(key)
			return tui.Run(ctx, c, tui.Options{
				SessionKey: key,
				Thinking:   tuiThinking,
				GatewayURL: rt.cfg.Gateway.URL,
				Version:    version,
			})
		})
	},
}

func init() {
	tuiCmd.Flags().StringVarP(&tuiSession, "session", "s", "", "session key (default: current session)")
	tuiCmd.Flags().StringVar(&tuiThinking, "thinking", "", "thinking level (off|low|medium|high)")
}
