package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AltairaLabs/acro-recorder/internal/config"
)

// rootOptions are the flags shared by every subcommand
type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "recorder",
		Short: "Interactive demo recorder",
		Long: `Recorder captures a user's interactions with a web page, uploads them to the
ingestion backend and finalizes each recording into a project.

It is driven over MCP (stdio or HTTP/SSE) and talks to an in-page agent over a websocket.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newDrainCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))

	return cmd
}

// newLogger installs the JSON handler on w. Stdout is reserved for the MCP stdio transport.
func newLogger(w io.Writer, debug bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	logger := newLogger(os.Stderr, o.debug)
	cfg, err := config.Load(o.configPath)
	return cfg, logger, err
}
