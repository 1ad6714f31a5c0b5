// Package chunker splits document text into overlapping, bounded-size
// segments for embedding and retrieval.
//
// Chunks are produced lazily as an iterator over the input. Consecutive
// chunks overlap by a configured amount and together cover the input with
// no gaps; offsets are byte positions into the original text, so the
// document can be reconstructed exactly from its chunk spans.
package chunker

import (
	"fmt"
	"iter"
	"strings"

	"github.com/ragstack/ragstack/internal/config"
)

// Chunk is one candidate segment of a document.
type Chunk struct {
	// Index is the ordinal position of the chunk within the document.
	Index int

	// Start and End are byte offsets into the original text; the chunk
	// text is exactly text[Start:End].
	Start int
	End   int

	Text string
}

// Chunker splits text into overlapping chunks.
// Safe for concurrent use; a Chunker holds no per-document state.
type Chunker struct {
	size      int
	overlap   int
	tolerance int
}

// New creates a Chunker with the given target chunk size and overlap,
// both in bytes. overlap >= size is a configuration error.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", config.ErrInvalidChunking, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must be non-negative, got %d", config.ErrInvalidChunking, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: overlap (%d) must be smaller than chunk size (%d)",
			config.ErrInvalidChunking, overlap, size)
	}

	// Boundary snapping is only allowed within the tail of the window so
	// a single early period cannot collapse the chunk.
	tolerance := size / 5
	if tolerance < 1 {
		tolerance = 1
	}

	return &Chunker{size: size, overlap: overlap, tolerance: tolerance}, nil
}

// Size returns the configured target chunk size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap between consecutive chunks.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunks returns a lazy, restartable sequence of chunks covering text.
// Empty input yields no chunks. The final chunk is truncated to the
// remaining text rather than padded.
func (c *Chunker) Chunks(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		if len(text) == 0 {
			return
		}

		start, index := 0, 0
		for start < len(text) {
			end := start + c.size
			if end >= len(text) {
				end = len(text)
			} else {
				end = c.snap(text, start, end)
			}

			if !yield(Chunk{Index: index, Start: start, End: end, Text: text[start:end]}) {
				return
			}
			index++

			if end == len(text) {
				return
			}

			// Advance by (size - overlap), adjusted for boundary snapping.
			// Always make progress even when overlap would rewind past the
			// previous start.
			next := end - c.overlap
			if next <= start {
				next = start + 1
			}
			start = next
		}
	}
}

// Split is the eager variant of Chunks.
func (c *Chunker) Split(text string) []Chunk {
	var chunks []Chunk
	for chunk := range c.Chunks(text) {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Count returns the number of chunks Chunks would produce for a text of
// the given length, assuming no boundary snapping.
func (c *Chunker) Count(textLen int) int {
	if textLen == 0 {
		return 0
	}
	if textLen <= c.size {
		return 1
	}
	step := c.size - c.overlap
	return (textLen - c.overlap + step - 1) / step
}

// snap adjusts a cut position that falls mid-word to the nearest natural
// boundary within the tolerance window: sentence end first, then word
// break, then the hard cut.
func (c *Chunker) snap(text string, start, end int) int {
	if !cutsWord(text, end) {
		return end
	}

	limit := end - c.tolerance
	if limit <= start {
		limit = start + 1
	}
	window := text[limit:end]

	if idx := strings.LastIndexByte(window, '.'); idx >= 0 {
		return limit + idx + 1 // keep the period with the sentence
	}
	if idx := strings.LastIndexAny(window, " \t\n"); idx >= 0 {
		return limit + idx
	}
	return end
}

// cutsWord reports whether cutting at pos would sever a word.
func cutsWord(text string, pos int) bool {
	return !isBoundary(text[pos-1]) && !isBoundary(text[pos])
}

func isBoundary(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '.', ',', ';', ':', '!', '?':
		return true
	}
	return false
}
