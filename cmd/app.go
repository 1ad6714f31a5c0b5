package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragstack/ragstack/db"
	"github.com/ragstack/ragstack/internal/chat"
	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/database"
	"github.com/ragstack/ragstack/internal/document"
	"github.com/ragstack/ragstack/internal/embedding"
	"github.com/ragstack/ragstack/internal/extract"
	"github.com/ragstack/ragstack/internal/llm"
	"github.com/ragstack/ragstack/internal/log"
	"github.com/ragstack/ragstack/internal/prompt"
	"github.com/ragstack/ragstack/internal/retrieval"
	"github.com/ragstack/ragstack/internal/vector"
)

// app holds the wired application components shared by the commands.
type app struct {
	cfg    *config.Config
	logger log.Logger

	pool      *pgxpool.Pool
	docs      *document.Store
	convs     *chat.Store
	embedder  embedding.Embedder
	retriever *retrieval.Retriever
	chatSvc   *chat.Service
	extractor *extract.Extractor
}

// setup connects to the database, runs migrations and wires the pipeline.
func setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*app, error) {
	if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	embedder, err := embedding.New(cfg, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	generator, err := llm.New(cfg, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating generator: %w", err)
	}

	var index vector.Index
	switch cfg.VectorStore {
	case config.VectorStorePgvector:
		index = vector.NewPg(pool, cfg.EmbeddingDimension, logger)
	case config.VectorStoreMemory:
		index = vector.NewMemory(cfg.EmbeddingDimension)
	default:
		pool.Close()
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidVectorStore, cfg.VectorStore)
	}

	docs := document.NewStore(pool)
	retriever, err := retrieval.New(cfg, docs, index, embedder, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating retriever: %w", err)
	}

	assembler, err := prompt.NewAssembler(cfg.PromptBudget, cfg.MaxHistoryMessages)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating prompt assembler: %w", err)
	}

	convs := chat.NewStore(pool)
	return &app{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		docs:      docs,
		convs:     convs,
		embedder:  embedder,
		retriever: retriever,
		chatSvc:   chat.NewService(cfg, retriever, assembler, generator, convs, logger),
		extractor: extract.New(cfg.MaxFileSize, cfg.AllowedExtensions),
	}, nil
}

func (a *app) Close() {
	if closer, ok := a.embedder.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("closing embedder", "error", err)
		}
	}
	a.pool.Close()
}
