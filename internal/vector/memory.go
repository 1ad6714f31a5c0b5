package vector

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// memoryEntry tracks insertion order for stable tie-breaking.
type memoryEntry struct {
	Entry
	seq uint64
}

// Memory is an in-process Index backed by a map and exhaustive cosine
// scan. It backs the memory vector_store configuration and the unit-test
// substrate for the retrieval pipeline.
//
// Safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	entries   map[uuid.UUID]*memoryEntry
	nextSeq   uint64
}

// NewMemory creates an empty in-memory index with the given dimension.
func NewMemory(dimension int) *Memory {
	return &Memory{
		dimension: dimension,
		entries:   make(map[uuid.UUID]*memoryEntry),
	}
}

// Upsert implements Index. The batch is validated before any write so a
// dimension mismatch leaves the index untouched.
func (m *Memory) Upsert(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if len(e.Embedding) == 0 {
			return fmt.Errorf("chunk %s: %w", e.ChunkID, ErrEmptyVector)
		}
		if len(e.Embedding) != m.dimension {
			return fmt.Errorf("chunk %s has dimension %d, index has %d: %w",
				e.ChunkID, len(e.Embedding), m.dimension, ErrDimensionMismatch)
		}
	}

	for _, e := range entries {
		if existing, ok := m.entries[e.ChunkID]; ok {
			// Replacing keeps the original insertion position.
			existing.Entry = e
			continue
		}
		m.entries[e.ChunkID] = &memoryEntry{Entry: e, seq: m.nextSeq}
		m.nextSeq++
	}
	return nil
}

// Delete implements Index.
func (m *Memory) Delete(_ context.Context, chunkIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range chunkIDs {
		delete(m.entries, id)
	}
	return nil
}

// DeleteDocument implements Index.
func (m *Memory) DeleteDocument(_ context.Context, documentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.DocumentID == documentID {
			delete(m.entries, id)
		}
	}
	return nil
}

// Search implements Index.
func (m *Memory) Search(_ context.Context, q Query) ([]Match, error) {
	if len(q.Embedding) == 0 {
		return nil, ErrEmptyVector
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(q.Embedding) != m.dimension {
		return nil, fmt.Errorf("query dimension %d, index has %d: %w",
			len(q.Embedding), m.dimension, ErrDimensionMismatch)
	}

	type scored struct {
		Match
		seq uint64
	}
	candidates := make([]scored, 0, len(m.entries))
	for _, e := range m.entries {
		if q.OwnerID != "" && e.OwnerID != q.OwnerID {
			continue
		}
		if q.Provider != "" && e.Provider != q.Provider {
			continue
		}
		score := CosineSimilarity(q.Embedding, e.Embedding)
		if score < q.MinScore {
			continue
		}
		candidates = append(candidates, scored{
			Match: Match{ChunkID: e.ChunkID, DocumentID: e.DocumentID, Score: score},
			seq:   e.seq,
		})
	}

	// Score descending; equal scores keep insertion order.
	slices.SortFunc(candidates, func(a, b scored) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})

	k := q.TopK
	if k <= 0 || k > len(candidates) {
		k = len(candidates)
	}
	matches := make([]Match, k)
	for i := range k {
		matches[i] = candidates[i].Match
	}
	return matches, nil
}

// Dimension implements Index.
func (m *Memory) Dimension(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dimension, nil
}

// Reset implements Index.
func (m *Memory) Reset(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d: %w", dimension, ErrDimensionMismatch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimension = dimension
	m.entries = make(map[uuid.UUID]*memoryEntry)
	m.nextSeq = 0
	return nil
}

// Count implements Index.
func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}
