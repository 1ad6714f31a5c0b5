package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragstack/ragstack/internal/document"
	"github.com/ragstack/ragstack/internal/extract"
	"github.com/ragstack/ragstack/internal/retrieval"
)

var ingestOwner string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest local files without going through the HTTP API",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "", "owner to attribute the documents to")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(paths []string) error {
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

	for _, path := range paths {
		if err := ingestFile(ctx, a, path); err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}
	}
	return nil
}

func ingestFile(ctx context.Context, a *app, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	name := filepath.Base(path)
	text, err := a.extractor.Text(name, info.Size(), f)
	if err != nil {
		return err
	}

	doc := &document.Document{
		OwnerID:     ingestOwner,
		Name:        name,
		ContentType: extract.ContentType(name),
		SizeBytes:   info.Size(),
		SHA256:      document.Hash(text),
	}
	if err := a.docs.Create(ctx, doc); err != nil {
		return err
	}

	err = a.retriever.Ingest(ctx, doc, text)
	var perr *retrieval.PartialIngestionError
	if errors.As(err, &perr) {
		a.logger.Warn("document partially ingested",
			"document_id", doc.ID, "failed", perr.Failed, "total", perr.Total)
		return nil
	}
	if err != nil {
		return err
	}

	a.logger.Info("document ingested", "document_id", doc.ID, "name", name)
	return nil
}
