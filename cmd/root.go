// Package cmd defines and implements the CLI commands for the newsminer
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/config"
	"github.com/localnewslab/newsminer/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "newsminer",
		Short: "Continuous local-news crawl pipeline",
		Long: `newsminer crawls registered news sources and advances discovered URLs
through a staged pipeline: discovery, verification, extraction, cleaning,
entity extraction and topic analysis. It paces itself per host based on
observed bot-detection signals.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSchemaCmd())

	return cmd
}

// setup loads configuration and builds the process logger. Shared by every
// subcommand.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "newsminer: %v\n", err)
		os.Exit(1)
	}
}
