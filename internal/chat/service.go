package chat

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/llm"
	"github.com/ragstack/ragstack/internal/log"
	"github.com/ragstack/ragstack/internal/prompt"
	"github.com/ragstack/ragstack/internal/retrieval"
)

var tracer = otel.Tracer("ragstack/chat")

// Retriever is the retrieval capability the service needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts ...retrieval.SearchOption) ([]retrieval.Result, error)
}

// ConversationStore is the persistence the service needs.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, id *uuid.UUID, ownerID string) (*Conversation, error)
	Messages(ctx context.Context, conversationID uuid.UUID) ([]Message, error)
	Append(ctx context.Context, m *Message) error
}

// Request is one chat turn from a client. Overrides are optional; nil means
// use the configured default.
type Request struct {
	ConversationID  *uuid.UUID `json:"conversation_id,omitempty"`
	OwnerID         string     `json:"-"`
	Message         string     `json:"message"`
	UseVectorSearch *bool      `json:"use_vector_search,omitempty"`
	MaxChunks       int        `json:"max_chunks,omitempty"`
}

// Reply is a completed chat turn.
type Reply struct {
	ConversationID uuid.UUID       `json:"conversation_id"`
	MessageID      uuid.UUID       `json:"message_id"`
	Content        string          `json:"content"`
	Sources        []prompt.Source `json:"sources,omitempty"`
	Model          string          `json:"model,omitempty"`
	Elapsed        time.Duration   `json:"-"`
}

// Event is one element of a streamed chat turn. The sequence is one metadata
// event, any number of content events, then one done event.
type Event struct {
	Type           string          `json:"type"` // "metadata", "content" or "done"
	ConversationID uuid.UUID       `json:"conversation_id,omitempty"`
	Sources        []prompt.Source `json:"sources,omitempty"`
	Content        string          `json:"content,omitempty"`
	MessageID      uuid.UUID       `json:"message_id,omitempty"`
}

// Event type markers.
const (
	EventMetadata = "metadata"
	EventContent  = "content"
	EventDone     = "done"
)

// Service runs the chat pipeline: retrieve, assemble, generate, persist.
type Service struct {
	retriever Retriever
	assembler *prompt.Assembler
	generator llm.Generator
	store     ConversationStore
	logger    log.Logger

	chatThreshold float32
	maxTokens     int
	temperature   float32
}

// NewService wires the chat pipeline from configuration.
func NewService(cfg *config.Config, retriever Retriever, assembler *prompt.Assembler, generator llm.Generator, store ConversationStore, logger log.Logger) *Service {
	return &Service{
		retriever:     retriever,
		assembler:     assembler,
		generator:     generator,
		store:         store,
		logger:        logger,
		chatThreshold: cfg.ChatSimilarityThreshold,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
	}
}

// prepared holds the shared front half of a chat turn.
type prepared struct {
	conv    *Conversation
	prompt  *prompt.Prompt
	results []retrieval.Result
}

func (s *Service) prepare(ctx context.Context, req Request) (*prepared, error) {
	conv, err := s.store.GetOrCreate(ctx, req.ConversationID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.Messages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	history := make([]llm.Message, len(stored))
	for i, m := range stored {
		history[i] = llm.Message{Role: m.Role, Content: m.Content}
	}

	// Chat retrieval uses a lower similarity floor than direct search.
	opts := []retrieval.SearchOption{
		retrieval.WithMinScore(s.chatThreshold),
		retrieval.WithOwner(req.OwnerID),
	}
	if req.MaxChunks > 0 {
		opts = append(opts, retrieval.WithTopK(req.MaxChunks))
	}
	if req.UseVectorSearch != nil {
		opts = append(opts, retrieval.WithVectorSearch(*req.UseVectorSearch))
	}

	results, err := s.retriever.Retrieve(ctx, req.Message, opts...)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	chunks := make([]prompt.RetrievedChunk, len(results))
	for i, res := range results {
		chunks[i] = prompt.RetrievedChunk{
			ChunkID:      res.ChunkID,
			DocumentID:   res.DocumentID,
			DocumentName: res.DocumentName,
			Text:         res.Content,
			Score:        res.Score,
		}
	}

	return &prepared{
		conv:    conv,
		prompt:  s.assembler.Assemble(req.Message, chunks, history),
		results: results,
	}, nil
}

// persist records the user turn and the assistant's reply.
func (s *Service) persist(ctx context.Context, p *prepared, userText, assistantText string) (uuid.UUID, error) {
	user := &Message{
		ConversationID: p.conv.ID,
		Role:           llm.RoleUser,
		Content:        userText,
	}
	if err := s.store.Append(ctx, user); err != nil {
		return uuid.Nil, fmt.Errorf("storing user message: %w", err)
	}

	assistant := &Message{
		ConversationID: p.conv.ID,
		Role:           llm.RoleAssistant,
		Content:        assistantText,
		Sources:        p.prompt.Sources,
	}
	if err := s.store.Append(ctx, assistant); err != nil {
		return uuid.Nil, fmt.Errorf("storing assistant message: %w", err)
	}
	return assistant.ID, nil
}

// Respond runs one synchronous chat turn.
func (s *Service) Respond(ctx context.Context, req Request) (*Reply, error) {
	ctx, span := tracer.Start(ctx, "chat.Respond")
	defer span.End()
	start := time.Now()

	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := s.generator.Generate(ctx, llm.Request{
		System:      p.prompt.System,
		History:     p.prompt.History,
		UserMessage: p.prompt.UserMessage,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	if err != nil {
		return nil, err
	}

	messageID, err := s.persist(ctx, p, req.Message, resp.Text)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("chat turn completed",
		"conversation_id", p.conv.ID,
		"sources", len(p.prompt.Sources),
		"elapsed", time.Since(start),
	)

	return &Reply{
		ConversationID: p.conv.ID,
		MessageID:      messageID,
		Content:        resp.Text,
		Sources:        p.prompt.Sources,
		Model:          resp.Model,
		Elapsed:        time.Since(start),
	}, nil
}

// Stream runs one chat turn, yielding a metadata event, content events as the
// provider produces them, and a final done event. Messages are persisted only
// after the stream completes; a cancelled or failed stream stores nothing.
func (s *Service) Stream(ctx context.Context, req Request) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		ctx, span := tracer.Start(ctx, "chat.Stream")
		defer span.End()

		p, err := s.prepare(ctx, req)
		if err != nil {
			yield(Event{}, err)
			return
		}

		if !yield(Event{
			Type:           EventMetadata,
			ConversationID: p.conv.ID,
			Sources:        p.prompt.Sources,
		}, nil) {
			return
		}

		var full []byte
		for chunk, err := range s.generator.Stream(ctx, llm.Request{
			System:      p.prompt.System,
			History:     p.prompt.History,
			UserMessage: p.prompt.UserMessage,
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
		}) {
			if err != nil {
				yield(Event{}, err)
				return
			}
			full = append(full, chunk.Text...)
			if !yield(Event{Type: EventContent, Content: chunk.Text}, nil) {
				return
			}
		}

		messageID, err := s.persist(ctx, p, req.Message, string(full))
		if err != nil {
			yield(Event{}, err)
			return
		}

		yield(Event{
			Type:           EventDone,
			ConversationID: p.conv.ID,
			MessageID:      messageID,
		}, nil)
	}
}
