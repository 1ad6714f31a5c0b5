package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragstack/ragstack/api"
	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.Setup(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	a, err := setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// The memory backend starts empty and is repopulated from the chunk
	// store; pgvector only needs a rebuild after a dimension change.
	if cfg.VectorStore == config.VectorStoreMemory {
		if err := a.retriever.RebuildIndex(ctx); err != nil {
			return fmt.Errorf("rebuilding vector index: %w", err)
		}
	} else if err := a.retriever.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("checking vector index: %w", err)
	}

	server := api.NewServer(cfg, a.pool, a.docs, a.convs, a.retriever, a.chatSvc, a.extractor, logger)
	return server.Run(ctx, cfg.Addr)
}
