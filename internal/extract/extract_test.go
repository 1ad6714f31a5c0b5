package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor() *Extractor {
	return New(1024, []string{".txt", ".md", ".html"})
}

func TestTextPassthrough(t *testing.T) {
	e := newTestExtractor()

	body := "# Title\n\nSome markdown body."
	text, err := e.Text("notes.md", int64(len(body)), strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, body, text)
}

func TestHTMLExtraction(t *testing.T) {
	e := newTestExtractor()

	body := `<html><head><title>Doc</title></head><body>
		<nav>menu menu menu</nav>
		<article><p>The actual content paragraph, long enough to count as the
		readable part of this page for extraction purposes.</p></article>
	</body></html>`
	text, err := e.Text("page.html", int64(len(body)), strings.NewReader(body))
	require.NoError(t, err)
	assert.Contains(t, text, "The actual content paragraph")
	assert.NotContains(t, text, "<p>")
}

func TestRejectsUnsupportedExtension(t *testing.T) {
	e := newTestExtractor()

	_, err := e.Text("binary.pdf", 10, strings.NewReader("%PDF-"))
	assert.ErrorIs(t, err, ErrUnsupportedExtension)
}

func TestRejectsOversizedDeclaration(t *testing.T) {
	e := newTestExtractor()

	_, err := e.Text("big.txt", 4096, strings.NewReader("tiny"))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestRejectsOversizedBody(t *testing.T) {
	e := newTestExtractor()

	body := strings.Repeat("x", 2048)
	_, err := e.Text("sneaky.txt", 100, strings.NewReader(body))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/markdown", ContentType("a.md"))
	assert.Equal(t, "text/html", ContentType("a.HTML"))
	assert.Equal(t, "text/plain", ContentType("a.txt"))
}
