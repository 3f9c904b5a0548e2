package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CRMbyRSM/PRSM/internal/config"
	"github.com/CRMbyRSM/PRSM/internal/gateway/mock"
	syslogger "github.com/CRMbyRSM/PRSM/internal/system/logger"
)

var (
	mockAddr     string
	mockToken    string
	mockPassword string
	mockDelay    time.Duration
	mockTick     time.Duration
)

var mockGatewayCmd = &cobra.Command{
	Use:   "mock-gateway",
	Short: "Run a local gateway that speaks protocol v3 with scripted replies",
	Long: `Run a self-contained gateway for development and demos.
chat.send replies echo the message back as a streamed turn; sessions, agents,
skills and cron jobs are served from an in-memory fixture.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configPath())
		if err != nil {
			cfg = config.Default()
		}
		logCfg := syslogger.FromConfig(cfg.Log)
		logCfg.StderrEnabled = true
		if flagVerbose {
			logCfg.Level = slog.LevelDebug
		}
		mgr, err := syslogger.New(logCfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer mgr.Close()

		ring := syslogger.NewRing(0)
		log := slog.New(syslogger.NewRingHandler(ring, mgr.NewSlogHandler(), logCfg.Level))

		srv := mock.New(mock.Options{
			Token:        mockToken,
			Password:     mockPassword,
			StreamDelay:  mockDelay,
			TickInterval: mockTick,
			Logger:       log,
			Logs:         ring,
		})
		defer srv.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, styleTitle.Render("PRSM mock gateway"))
		fmt.Fprintf(out, "  listening on ws://%s\n", mockAddr)
		switch {
		case mockToken != "":
			fmt.Fprintln(out, "  auth: token")
		case mockPassword != "":
			fmt.Fprintln(out, "  auth: password")
		default:
			fmt.Fprintln(out, styleWarn.Render("  auth: none, any client is accepted"))
		}
		fmt.Fprintf(out, "  logs: http://%s/api/logs\n", mockAddr)
		return srv.ListenAndServe(ctx, mockAddr)
	},
}

func init() {
	mockGatewayCmd.Flags().StringVar(&mockAddr, "addr", "127.0.0.1:18789", "listen address")
	mockGatewayCmd.Flags().StringVar(&mockToken, "token", "", "require this gateway token")
	mockGatewayCmd.Flags().StringVar(&mockPassword, "password", "", "require this gateway password")
	mockGatewayCmd.Flags().DurationVar(&mockDelay, "delay", 60*time.Millisecond, "pause between streamed words")
	mockGatewayCmd.Flags().DurationVar(&mockTick, "tick", 15*time.Second, "tick event interval, 0 to disable")
}
