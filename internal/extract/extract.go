// Package extract turns uploaded files into plain text for ingestion.
package extract

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// Validation failures for uploads.
var (
	ErrTooLarge             = errors.New("file too large")
	ErrUnsupportedExtension = errors.New("unsupported file extension")
)

// Extractor validates uploads and extracts their text content.
type Extractor struct {
	maxSize    int64
	extensions []string
}

// New creates an Extractor. extensions are lowercase with leading dot, e.g.
// ".txt".
func New(maxSize int64, extensions []string) *Extractor {
	return &Extractor{maxSize: maxSize, extensions: extensions}
}

// ContentType returns the MIME type recorded for a file name.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md":
		return "text/markdown"
	case ".html", ".htm":
		return "text/html"
	default:
		return "text/plain"
	}
}

// Text validates the file and extracts its text. Markdown and plain text
// pass through unchanged; HTML is reduced to its readable content.
func (e *Extractor) Text(name string, size int64, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(e.extensions, ext) && !(ext == ".htm" && slices.Contains(e.extensions, ".html")) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedExtension, ext)
	}
	if e.maxSize > 0 && size > e.maxSize {
		return "", fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, size, e.maxSize)
	}

	// Trust the reader only up to the declared limit.
	limited := r
	if e.maxSize > 0 {
		limited = io.LimitReader(r, e.maxSize+1)
	}

	data, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}
	if e.maxSize > 0 && int64(len(data)) > e.maxSize {
		return "", fmt.Errorf("%w: body exceeds %d bytes", ErrTooLarge, e.maxSize)
	}

	switch ext {
	case ".html", ".htm":
		article, err := readability.FromReader(strings.NewReader(string(data)), nil)
		if err != nil {
			return "", fmt.Errorf("extracting html content: %w", err)
		}
		return strings.TrimSpace(article.TextContent), nil
	default:
		return string(data), nil
	}
}
