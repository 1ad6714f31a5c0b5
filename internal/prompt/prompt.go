// Package prompt assembles grounded LLM prompts from retrieved chunks and
// conversation history under a total size budget.
package prompt

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ragstack/ragstack/internal/config"
	"github.com/ragstack/ragstack/internal/llm"
)

// ragSystemTemplate frames the retrieved context. %s is the rendered context
// block.
const ragSystemTemplate = `You are a helpful AI assistant with access to relevant documents. Use the provided context to answer questions accurately and helpfully.

CONTEXT:
%s

INSTRUCTIONS:
1. Answer the user's question based primarily on the provided context
2. If the context contains relevant information, cite it naturally in your response
3. If the context doesn't contain enough information to fully answer the question, say so honestly
4. Do not make up information that isn't in the context
5. If asked about something not covered in the context, politely explain that you don't have that information in the provided documents
6. Be conversational and helpful while maintaining accuracy
7. If the context is contradictory, point out the discrepancies
8. Provide specific details from the context when available

Remember: Your primary goal is to be helpful and accurate based on the available context.`

// noContextSystem applies when retrieval produced nothing usable.
const noContextSystem = `You are a helpful AI assistant. Answer questions to the best of your knowledge and ability.

INSTRUCTIONS:
1. Provide accurate and helpful responses based on your training knowledge
2. If you're uncertain about something, express that uncertainty appropriately
3. Be conversational and engaging while maintaining professionalism
4. If asked about recent events or specific documents that you haven't been trained on, explain your limitations
5. Encourage users to provide more context or clarification when needed
6. Be honest about what you do and don't know

Remember: Your goal is to be as helpful as possible while being honest about your limitations.`

// RetrievedChunk is one scored retrieval result offered for inclusion.
type RetrievedChunk struct {
	ChunkID      uuid.UUID
	DocumentID   uuid.UUID
	DocumentName string
	Text         string
	Score        float32
}

// Source maps a citation reference in the assembled prompt back to the chunk
// it was built from. Refs are 1-based and appear as [n] in the context block.
type Source struct {
	Ref        int       `json:"ref"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Score      float32   `json:"score"`
}

// Prompt is a fully assembled generation request payload.
type Prompt struct {
	System      string
	History     []llm.Message
	UserMessage string
	Sources     []Source
}

// Assembler builds prompts under a character budget.
//
// When the budget is exceeded it drops the lowest-scored chunks first, then
// the oldest history turns. The system instructions and the current user
// message are never truncated.
type Assembler struct {
	budget     int
	maxHistory int
}

// NewAssembler validates the budget. maxHistory caps how many trailing
// history messages are even considered; zero or negative means no cap.
func NewAssembler(budget, maxHistory int) (*Assembler, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("%w: %d", config.ErrInvalidBudget, budget)
	}
	return &Assembler{budget: budget, maxHistory: maxHistory}, nil
}

// Assemble builds a prompt from the user message, retrieval results ordered
// by score descending, and conversation history ordered oldest first.
func (a *Assembler) Assemble(userMessage string, chunks []RetrievedChunk, history []llm.Message) *Prompt {
	if a.maxHistory > 0 && len(history) > a.maxHistory {
		history = history[len(history)-a.maxHistory:]
	}

	blocks := make([]string, len(chunks))
	contextCost := 0
	for i, chunk := range chunks {
		blocks[i] = renderBlock(i+1, chunk)
		contextCost += len(blocks[i]) + len(blockSeparator)
	}
	historyCost := 0
	for _, m := range history {
		historyCost += len(m.Content)
	}

	keep := len(chunks)
	// The user message and system instructions are fixed cost; the system
	// template switches once all chunks are gone.
	cost := func() int {
		system := len(noContextSystem)
		if keep > 0 {
			system = ragOverhead
		}
		return system + len(userMessage) + contextCost + historyCost
	}

	// Chunks go first, lowest score last in the slice.
	for keep > 0 && cost() > a.budget {
		keep--
		contextCost -= len(blocks[keep]) + len(blockSeparator)
	}

	// Then the oldest history turns.
	for len(history) > 0 && cost() > a.budget {
		historyCost -= len(history[0].Content)
		history = history[1:]
	}

	p := &Prompt{
		UserMessage: userMessage,
		History:     history,
	}
	if keep == 0 {
		p.System = noContextSystem
		return p
	}

	p.System = fmt.Sprintf(ragSystemTemplate, strings.Join(blocks[:keep], blockSeparator))
	p.Sources = make([]Source, keep)
	for i, chunk := range chunks[:keep] {
		p.Sources[i] = Source{
			Ref:        i + 1,
			ChunkID:    chunk.ChunkID,
			DocumentID: chunk.DocumentID,
			Score:      chunk.Score,
		}
	}
	return p
}

const blockSeparator = "\n\n"

// ragOverhead is the rendered size of the RAG template around its context.
var ragOverhead = len(ragSystemTemplate) - len("%s")

func renderBlock(ref int, chunk RetrievedChunk) string {
	name := chunk.DocumentName
	if name == "" {
		name = chunk.DocumentID.String()
	}
	return fmt.Sprintf("[Document %d] (Source: %s):\n%s", ref, name, chunk.Text)
}
