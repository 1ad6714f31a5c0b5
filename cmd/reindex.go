package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-embed all stored chunks and rebuild the vector index",
	Long: `reindex drops the vector index and rebuilds it from the stored chunks.
Use it after changing the embedding provider, model or dimension.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReindex()
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}

func runReindex() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.retriever.RebuildIndex(ctx)
}
