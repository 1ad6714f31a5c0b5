package api

import (
	"context"
	"iter"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/google/uuid"

	"github.com/ragstack/ragstack/internal/chat"
	"github.com/ragstack/ragstack/internal/document"
	"github.com/ragstack/ragstack/internal/retrieval"
)

// serve runs a request through the given routes with the identity middleware
// applied, as the real server does.
func serve(register func(*http.ServeMux), req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	register(mux)
	rec := httptest.NewRecorder()
	identityMiddleware(mux).ServeHTTP(rec, req)
	return rec
}

type stubDocStore struct {
	mu      sync.Mutex
	docs    map[uuid.UUID]document.Document
	deleted []uuid.UUID
}

func newStubDocStore() *stubDocStore {
	return &stubDocStore{docs: make(map[uuid.UUID]document.Document)}
}

func (s *stubDocStore) Create(_ context.Context, doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.ID = uuid.New()
	doc.Status = document.StatusPending
	s.docs[doc.ID] = *doc
	return nil
}

func (s *stubDocStore) Get(_ context.Context, id uuid.UUID, ownerID string) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok || (ownerID != "" && doc.OwnerID != ownerID) {
		return nil, document.ErrNotFound
	}
	return &doc, nil
}

func (s *stubDocStore) List(_ context.Context, ownerID string) ([]document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []document.Document
	for _, doc := range s.docs {
		if ownerID == "" || doc.OwnerID == ownerID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *stubDocStore) Delete(_ context.Context, id uuid.UUID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok || (ownerID != "" && doc.OwnerID != ownerID) {
		return document.ErrNotFound
	}
	delete(s.docs, id)
	s.deleted = append(s.deleted, id)
	return nil
}

type stubIngestor struct {
	mu        sync.Mutex
	ingested  []string
	lastDoc   *document.Document
	deleted   []uuid.UUID
	ingestErr error
}

func (s *stubIngestor) Ingest(_ context.Context, doc *document.Document, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingested = append(s.ingested, text)
	s.lastDoc = doc
	return s.ingestErr
}

func (s *stubIngestor) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return nil
}

type stubSearcher struct {
	query   string
	opts    []retrieval.SearchOption
	results []retrieval.Result
	err     error
}

func (s *stubSearcher) Retrieve(_ context.Context, query string, opts ...retrieval.SearchOption) ([]retrieval.Result, error) {
	s.query = query
	s.opts = opts
	return s.results, s.err
}

type stubChatService struct {
	lastReq chat.Request
	reply   *chat.Reply
	err     error
	events  []chat.Event
}

func (s *stubChatService) Respond(_ context.Context, req chat.Request) (*chat.Reply, error) {
	s.lastReq = req
	return s.reply, s.err
}

func (s *stubChatService) Stream(_ context.Context, req chat.Request) iter.Seq2[chat.Event, error] {
	s.lastReq = req
	return func(yield func(chat.Event, error) bool) {
		if s.err != nil {
			yield(chat.Event{}, s.err)
			return
		}
		for _, event := range s.events {
			if !yield(event, nil) {
				return
			}
		}
	}
}

type stubConvStore struct {
	convs      map[uuid.UUID]chat.Conversation
	messages   map[uuid.UUID][]chat.Message
	deleted    []uuid.UUID
	lastLimit  int
	lastOffset int
}

func newStubConvStore() *stubConvStore {
	return &stubConvStore{
		convs:    make(map[uuid.UUID]chat.Conversation),
		messages: make(map[uuid.UUID][]chat.Message),
	}
}

func (s *stubConvStore) GetOrCreate(_ context.Context, id *uuid.UUID, ownerID string) (*chat.Conversation, error) {
	if id == nil {
		conv := chat.Conversation{ID: uuid.New(), OwnerID: ownerID}
		s.convs[conv.ID] = conv
		return &conv, nil
	}
	conv, ok := s.convs[*id]
	if !ok || (ownerID != "" && conv.OwnerID != ownerID) {
		return nil, chat.ErrConversationNotFound
	}
	return &conv, nil
}

func (s *stubConvStore) List(_ context.Context, ownerID string, limit, offset int) ([]chat.Conversation, error) {
	s.lastLimit, s.lastOffset = limit, offset
	var out []chat.Conversation
	for _, conv := range s.convs {
		if ownerID == "" || conv.OwnerID == ownerID {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (s *stubConvStore) Messages(_ context.Context, conversationID uuid.UUID) ([]chat.Message, error) {
	return s.messages[conversationID], nil
}

func (s *stubConvStore) Delete(_ context.Context, id uuid.UUID, ownerID string) error {
	conv, ok := s.convs[id]
	if !ok || (ownerID != "" && conv.OwnerID != ownerID) {
		return chat.ErrConversationNotFound
	}
	delete(s.convs, id)
	s.deleted = append(s.deleted, id)
	return nil
}
