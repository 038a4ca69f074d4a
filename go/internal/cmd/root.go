package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/buzzer/go/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel   string
	ConfigPath string
}

// NewRootCommand creates the root command for the buzzer CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "buzzer",
		Short: "Real-time buzzer broker for quiz competitions",
		Long: `Runs the buzzer broker and small terminal clients for it.

The broker keeps sessions in memory. Players estimate their clock offset to
the broker, so presses are ranked by when they happened rather than when they
arrived.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(opts.LogLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error); overrides LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file; defaults to $"+config.EnvConfigPath)

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewProbeCommand(opts))
	cmd.AddCommand(NewHostCommand(opts))
	cmd.AddCommand(NewPlayCommand(opts))

	return cmd
}

// setupLogging installs the console logger. An empty level falls back to
// LOG_LEVEL, then info.
func setupLogging(level string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// loadConfig reads the layered configuration and applies its log level
// unless --log-level was given.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.LogLevel == "" {
		if err := setupLogging(cfg.LogLevel); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}
