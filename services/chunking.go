package services

import (
	"fmt"
	"regexp"
	"strings"

	"pmc-rag-platform/models"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeWhitespace collapses every whitespace run (including
// newlines) to a single space and trims both ends. Chunk offsets are
// always over this normalized form, never the raw input.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// ChunkingService splits normalized text into bounded, overlapping
// character windows with deterministic output. Pure: identical input
// always yields identical chunks.
type ChunkingService struct {
	maxChars int
	overlap  int
}

// NewChunkingService validates maxChars > overlap >= 0, which
// guarantees forward progress of the window.
func NewChunkingService(maxChars, overlap int) (*ChunkingService, error) {
	if overlap < 0 {
		return nil, fmt.Errorf("overlap must be >= 0, got %d", overlap)
	}
	if maxChars <= overlap {
		return nil, fmt.Errorf("max chars (%d) must exceed overlap (%d)", maxChars, overlap)
	}
	return &ChunkingService{maxChars: maxChars, overlap: overlap}, nil
}

// ChunkText normalizes whitespace, then emits windows of at most
// maxChars characters, each advanced by maxChars-overlap from the
// previous one. Empty or whitespace-only input yields no chunks; input
// shorter than maxChars yields exactly one chunk.
func (cs *ChunkingService) ChunkText(text string) []string {
	runes := []rune(NormalizeWhitespace(text))
	n := len(runes)
	if n == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + cs.maxChars
		if end > n {
			end = n
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= n {
			break
		}
		start = end - cs.overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

// DocumentField is one independently chunked text field of a document
// (title, abstract, body, ...).
type DocumentField struct {
	Name string
	Text string
}

// ChunkDocument chunks each field independently. Chunk indices restart
// per field and the field name is baked into the chunk id, so fields of
// the same document can never collide.
func (cs *ChunkingService) ChunkDocument(docID, source string, fields []DocumentField) []models.ChunkRecord {
	var records []models.ChunkRecord
	for _, field := range fields {
		for i, text := range cs.ChunkText(field.Text) {
			records = append(records, models.ChunkRecord{
				DocID:   docID,
				Source:  source,
				Section: field.Name,
				ChunkID: fmt.Sprintf("%s:%s:%d", docID, field.Name, i),
				Text:    text,
			})
		}
	}
	return records
}
