// Package cmd implements the ragstack command line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "ragstack",
	Short: "Retrieval-augmented chat backend",
	Long: `ragstack serves a REST API for document ingestion, vector search and
retrieval-augmented chat over the ingested documents.

Configuration comes from a config file and RAGSTACK_* environment
variables; run "ragstack serve --help" for details.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration and builds the logger it asks for.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := log.New(log.Config{
		Level: logLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	return cfg, logger, nil
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
