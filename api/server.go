// Package api provides the HTTP REST API.
//
// Endpoints:
//
//	GET    /health                          liveness probe
//	GET    /ready                           readiness probe
//	POST   /api/documents                   upload and ingest a document
//	GET    /api/documents                   list documents
//	GET    /api/documents/{id}              fetch one document
//	DELETE /api/documents/{id}              delete a document and its vectors
//	POST   /api/search                      vector search over ingested chunks
//	POST   /api/chat                        one synchronous chat turn
//	POST   /api/chat/stream                 one chat turn streamed over SSE
//	GET    /api/conversations               list conversations
//	GET    /api/conversations/{id}/messages conversation history
//	DELETE /api/conversations/{id}          delete a conversation
//
// File structure:
//   - server.go: server setup and lifecycle
//   - middleware.go: recovery, logging, caller identity
//   - documents.go, search.go, chat.go, conversations.go: handlers
//   - health.go: probes
//   - response.go: JSON helpers and error mapping
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragstack/ragstack/internal/chat"
	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/document"
	"github.com/ragstack/ragstack/internal/extract"
	"github.com/ragstack/ragstack/internal/log"
	"github.com/ragstack/ragstack/internal/retrieval"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to resist Slowloris attacks.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading an entire request.
	ReadTimeout = 30 * time.Second

	// IdleTimeout applies to keep-alive connections between requests.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health        *HealthHandler
	documents     *DocumentHandler
	search        *SearchHandler
	chat          *ChatHandler
	conversations *ConversationHandler
}

// NewServer wires all handlers and registers their routes.
func NewServer(
	cfg *config.Config,
	pool *pgxpool.Pool,
	docs *document.Store,
	convs *chat.Store,
	retriever *retrieval.Retriever,
	chatSvc *chat.Service,
	extractor *extract.Extractor,
	logger log.Logger,
) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:           mux,
		logger:        logger,
		health:        NewHealthHandler(pool, logger),
		documents:     NewDocumentHandler(docs, retriever, extractor, cfg.MaxFileSize, logger),
		search:        NewSearchHandler(retriever, logger),
		chat:          NewChatHandler(chatSvc, logger),
		conversations: NewConversationHandler(convs, logger),
	}

	s.health.RegisterRoutes(mux)
	s.documents.RegisterRoutes(mux)
	s.search.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.conversations.RegisterRoutes(mux)

	return s
}

// Handler returns the mux with middleware applied.
// Order: recovery, then logging, then identity, then the handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		identityMiddleware,
	)
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		// No WriteTimeout: SSE streams are bounded by the request context,
		// not a fixed response deadline.
		IdleTimeout: IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
