package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ragstack/ragstack/internal/document"
	"github.com/ragstack/ragstack/internal/extract"
	"github.com/ragstack/ragstack/internal/log"
	"github.com/ragstack/ragstack/internal/retrieval"
)

// DocumentStore is the document persistence the handler needs.
type DocumentStore interface {
	Create(ctx context.Context, doc *document.Document) error
	Get(ctx context.Context, id uuid.UUID, ownerID string) (*document.Document, error)
	List(ctx context.Context, ownerID string) ([]document.Document, error)
	Delete(ctx context.Context, id uuid.UUID, ownerID string) error
}

// Ingestor runs the ingestion pipeline and owns the index side of deletes.
type Ingestor interface {
	Ingest(ctx context.Context, doc *document.Document, text string) error
	Delete(ctx context.Context, documentID uuid.UUID) error
}

// DocumentHandler serves document upload and management endpoints.
type DocumentHandler struct {
	docs        DocumentStore
	ingestor    Ingestor
	extractor   *extract.Extractor
	maxFileSize int64
	logger      log.Logger
}

func NewDocumentHandler(docs DocumentStore, ingestor Ingestor, extractor *extract.Extractor, maxFileSize int64, logger log.Logger) *DocumentHandler {
	return &DocumentHandler{
		docs:        docs,
		ingestor:    ingestor,
		extractor:   extractor,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

func (h *DocumentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/documents", h.upload)
	mux.HandleFunc("GET /api/documents", h.list)
	mux.HandleFunc("GET /api/documents/{id}", h.get)
	mux.HandleFunc("DELETE /api/documents/{id}", h.delete)
}

// uploadResponse wraps the stored document; Warning is set when ingestion
// only partially succeeded.
type uploadResponse struct {
	Document *document.Document `json:"document"`
	Warning  string             `json:"warning,omitempty"`
}

// createDocumentRequest is the JSON alternative to a multipart file upload.
type createDocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// upload accepts either a multipart form with a "file" field or a JSON body
// with title and raw text content, and ingests synchronously. A partially
// ingested document is still created; the response carries a warning.
func (h *DocumentHandler) upload(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		h.uploadJSON(w, r)
		return
	}

	// Multipart framing adds overhead beyond the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "missing file field")
		return
	}
	defer file.Close()

	text, err := h.extractor.Text(header.Filename, header.Size, file)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	doc := &document.Document{
		OwnerID:     ownerID(r),
		Name:        header.Filename,
		ContentType: extract.ContentType(header.Filename),
		SizeBytes:   header.Size,
	}
	h.createAndIngest(w, r, doc, text)
}

// uploadJSON creates a document from raw text, bypassing extraction.
func (h *DocumentHandler) uploadJSON(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1<<20)

	var req createDocumentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "title must not be empty")
		return
	}
	if int64(len(req.Content)) > h.maxFileSize {
		writeDomainError(w, h.logger, extract.ErrTooLarge)
		return
	}

	doc := &document.Document{
		OwnerID:     ownerID(r),
		Name:        req.Title,
		ContentType: "text/plain",
		SizeBytes:   int64(len(req.Content)),
	}
	h.createAndIngest(w, r, doc, req.Content)
}

func (h *DocumentHandler) createAndIngest(w http.ResponseWriter, r *http.Request, doc *document.Document, text string) {
	doc.SHA256 = document.Hash(text)
	if err := h.docs.Create(r.Context(), doc); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	warning := ""
	if err := h.ingestor.Ingest(r.Context(), doc, text); err != nil {
		var perr *retrieval.PartialIngestionError
		if !errors.As(err, &perr) {
			writeDomainError(w, h.logger, err)
			return
		}
		warning = perr.Error()
	}

	stored, err := h.docs.Get(r.Context(), doc.ID, doc.OwnerID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, uploadResponse{Document: stored, Warning: warning})
}

func (h *DocumentHandler) list(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.List(r.Context(), ownerID(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if docs == nil {
		docs = []document.Document{}
	}
	writeJSON(w, h.logger, http.StatusOK, docs)
}

func (h *DocumentHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "invalid document id")
		return
	}

	doc, err := h.docs.Get(r.Context(), id, ownerID(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, doc)
}

// delete confirms ownership, then removes the vectors before the rows so a
// failure in between cannot leave index entries pointing at a missing
// document.
func (h *DocumentHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", "invalid document id")
		return
	}

	owner := ownerID(r)
	if _, err := h.docs.Get(r.Context(), id, owner); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.ingestor.Delete(r.Context(), id); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.docs.Delete(r.Context(), id, owner); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
