// Package chat manages conversations and runs the grounded chat pipeline.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ragstack/ragstack/internal/llm"
	"github.com/ragstack/ragstack/internal/prompt"
)

// ErrConversationNotFound indicates the conversation does not exist or
// belongs to another owner.
var ErrConversationNotFound = errors.New("conversation not found")

// Conversation groups a message history under one owner.
type Conversation struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one stored conversation turn. Assistant messages carry the
// sources their content was grounded on.
type Message struct {
	ID             uuid.UUID       `json:"id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	Sources        []prompt.Source `json:"sources,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Querier is the subset of pgx the store depends on.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists conversations and messages. Safe for concurrent use.
type Store struct {
	db Querier
}

func NewStore(db Querier) *Store {
	return &Store{db: db}
}

// titleLimit caps auto-generated conversation titles.
const titleLimit = 80

// GetOrCreate returns the identified conversation, or creates a fresh one
// when id is nil. A missing or foreign conversation is ErrConversationNotFound.
func (s *Store) GetOrCreate(ctx context.Context, id *uuid.UUID, ownerID string) (*Conversation, error) {
	if id == nil {
		var conv Conversation
		err := s.db.QueryRow(ctx, `
			INSERT INTO conversations (owner_id)
			VALUES ($1)
			RETURNING id, owner_id, title, message_count, created_at, updated_at`, ownerID,
		).Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.MessageCount, &conv.CreatedAt, &conv.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
		return &conv, nil
	}

	var conv Conversation
	err := s.db.QueryRow(ctx, `
		SELECT id, owner_id, title, message_count, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND ($2 = '' OR owner_id = $2)`, *id, ownerID,
	).Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.MessageCount, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching conversation: %w", err)
	}
	return &conv, nil
}

// defaultListLimit caps List when the caller passes limit <= 0.
const defaultListLimit = 50

// List returns a page of the owner's conversations, most recently active
// first. A non-positive limit falls back to the default page size.
func (s *Store) List(ctx context.Context, ownerID string, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, title, message_count, created_at, updated_at
		FROM conversations
		WHERE $1 = '' OR owner_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.MessageCount, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// Delete removes a conversation and its messages.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, ownerID string) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM conversations
		WHERE id = $1 AND ($2 = '' OR owner_id = $2)`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// Messages returns a conversation's messages oldest first.
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, role, content, sources, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m   Message
			raw []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &raw, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &m.Sources); err != nil {
				return nil, fmt.Errorf("decoding message sources: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Append stores a message, bumps the conversation's activity timestamp and,
// for the first user message, derives the conversation title.
func (s *Store) Append(ctx context.Context, m *Message) error {
	sources, err := json.Marshal(m.Sources)
	if err != nil {
		return fmt.Errorf("encoding message sources: %w", err)
	}
	if m.Sources == nil {
		sources = []byte("[]")
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, content, sources)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		m.ConversationID, m.Role, m.Content, sources,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if _, err := s.db.Exec(ctx, `
		UPDATE conversations
		SET updated_at = now(), message_count = message_count + 1
		WHERE id = $1`, m.ConversationID); err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}

	if m.Role == llm.RoleUser {
		if _, err := s.db.Exec(ctx, `
			UPDATE conversations SET title = $2 WHERE id = $1 AND title = ''`,
			m.ConversationID, truncateTitle(m.Content)); err != nil {
			return fmt.Errorf("setting conversation title: %w", err)
		}
	}
	return nil
}

func truncateTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleLimit {
		return content
	}
	return string(runes[:titleLimit-1]) + "…"
}
