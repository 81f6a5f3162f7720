package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sharebeam/internal/server/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "beam",
		Short: "Share local files over HTTP with a one-time credential",
		Long: `beam serves a set of files and directories over HTTP. Each share gets a
fresh username and password, stops itself after too many failed logins, and
can be scheduled to start and stop at given times.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to a YAML config file")

	root.AddCommand(newShareCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("beam", version)
		},
	})
	return root
}

// loadConfig reads --config and sets up the default logger from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(cfg, cmd.ErrOrStderr()))
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.LogFormat) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
