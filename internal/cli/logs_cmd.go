package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CRMbyRSM/PRSM/internal/config"
	syslogger "github.com/CRMbyRSM/PRSM/internal/system/logger"
)

var (
	logsLines  int
	logsFollow bool
	logsMaxAge int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Read and manage PRSM's own log files",
}

// logsListCmd 列出所有日志文件
var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all log files",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		dir := logSettings().Dir
		files, err := syslogger.ListLogFiles(dir)
		if err != nil {
			return fmt.Errorf("list log files: %w", err)
		}
		if len(files) == 0 {
			fmt.Fprintf(out, "No log files found in %s\n", dir)
			return nil
		}

		total, _ := syslogger.TotalSize(dir)
		fmt.Fprintf(out, "Log files (%d, total %.1f MB):\n\n", len(files), float64(total)/1024/1024)
		for _, f := range files {
			fmt.Fprintf(out, "  %-32s  %8.2f MB  %s\n", f.Name, float64(f.Size)/1024/1024, f.ModTime.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(out, "\nLog directory: %s\n", dir)
		return nil
	},
}

// logsTailCmd 输出最新日志文件的末尾，可持续跟随
var logsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the end of the newest log file",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		latest, err := syslogger.Latest(logSettings().Dir)
		if err != nil {
			return err
		}
		lines, err := syslogger.TailFile(latest, logsLines)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
		if !logsFollow {
			return nil
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return syslogger.FollowFile(ctx, latest, out)
	},
}

// logsQueryCmd 在所有日志文件中搜索
var logsQueryCmd = &cobra.Command{
	Use:   "query <pattern>",
	Short: "Search every log file, case-insensitively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		files, err := syslogger.ListLogFiles(logSettings().Dir)
		if err != nil {
			return fmt.Errorf("list log files: %w", err)
		}
		total := 0
		for _, f := range files {
			matches, err := syslogger.QueryFile(f.Path, args[0], logsLines)
			if err != nil || len(matches) == 0 {
				continue
			}
			fmt.Fprintf(out, "--- %s (%d matches) ---\n", f.Name, len(matches))
			for _, line := range matches {
				fmt.Fprintln(out, line)
			}
			total += len(matches)
		}
		fmt.Fprintf(out, "\nTotal matches: %d across %d files\n", total, len(files))
		return nil
	},
}

// logsCleanCmd 清理过期日志
var logsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove log files past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		settings := logSettings()
		maxAge := settings.MaxAgeDays
		if logsMaxAge > 0 {
			maxAge = logsMaxAge
		}
		if maxAge <= 0 {
			maxAge = 30
		}
		removed, err := syslogger.Cleanup(settings.Dir, maxAge)
		if err != nil {
			return fmt.Errorf("cleanup logs: %w", err)
		}
		if removed == 0 {
			fmt.Fprintln(out, "No expired log files to clean.")
		} else {
			fmt.Fprintf(out, "Removed %d expired log files (older than %d days)\n", removed, maxAge)
		}
		return nil
	},
}

// logSettings 读取日志配置，配置文件损坏时使用默认值
func logSettings() syslogger.Config {
	cfg, err := config.LoadFile(configPath())
	if err != nil {
		cfg = config.Default()
	}
	return syslogger.FromConfig(cfg.Log)
}

func init() {
	logsTailCmd.Flags().IntVarP(&logsLines, "lines", "n", 200, "number of lines to show")
	logsTailCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep printing new lines")
	logsQueryCmd.Flags().IntVarP(&logsLines, "lines", "n", 200, "maximum matches per file")
	logsCleanCmd.Flags().IntVar(&logsMaxAge, "max-age", 0, "days to keep (default from config)")

	logsCmd.AddCommand(logsListCmd)
	logsCmd.AddCommand(logsTailCmd)
	logsCmd.AddCommand(logsQueryCmd)
	logsCmd.AddCommand(logsCleanCmd)
}
