package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	server     string
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "reviewbridge",
		Short: "Run Claude code reviews on open GitHub pull requests",
		Long: `reviewbridge polls GitHub for open pull requests in the configured
repositories, checks each new head commit out into an isolated worktree,
runs the repository's review skill with the Claude CLI and posts the
result as a PR comment. Each head commit is reviewed once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(opts.logLevel, opts.logFormat)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $REVIEWBRIDGE_CONFIG or config.toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (default $REVIEWBRIDGE_LOG_LEVEL or info)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	cmd.PersistentFlags().StringVar(&opts.server, "server", "", "daemon API address (default from config server.listen_addr)")

	cmd.AddCommand(daemonCmd(opts))
	cmd.AddCommand(statusCmd(opts))
	cmd.AddCommand(historyCmd(opts))
	cmd.AddCommand(rerunCmd(opts))
	cmd.AddCommand(pollCmd(opts))

	return cmd
}

// setupLogging installs the default slog logger. An empty level falls back
// to REVIEWBRIDGE_LOG_LEVEL.
func setupLogging(level, format string) error {
	if level == "" {
		level = os.Getenv("REVIEWBRIDGE_LOG_LEVEL")
	}
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	hopts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, hopts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, hopts)
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
