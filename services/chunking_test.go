package services

import (
	"reflect"
	"strings"
	"testing"
)

func TestChunkTextWindows(t *testing.T) {
	cs, err := NewChunkingService(10, 3)
	if err != nil {
		t.Fatalf("new chunker: %v", err)
	}

	got := cs.ChunkText("AAAA BBBB CCCC DDDD")
	want := []string{"AAAA BBBB", "BB CCCC DD", "DDDD"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chunks = %q, want %q", got, want)
	}
}

func TestChunkTextDeterministic(t *testing.T) {
	cs, _ := NewChunkingService(50, 10)
	text := strings.Repeat("lorem ipsum dolor sit amet ", 20)

	first := cs.ChunkText(text)
	for i := 0; i < 5; i++ {
		if !reflect.DeepEqual(cs.ChunkText(text), first) {
			t.Fatal("chunking is not deterministic")
		}
	}
}

func TestChunkTextEdgeCases(t *testing.T) {
	cs, _ := NewChunkingService(100, 20)

	if got := cs.ChunkText(""); got != nil {
		t.Fatalf("empty input yielded %q", got)
	}
	if got := cs.ChunkText("   \n\t  "); got != nil {
		t.Fatalf("whitespace-only input yielded %q", got)
	}

	got := cs.ChunkText("short  text\nwith   gaps")
	if len(got) != 1 || got[0] != "short text with gaps" {
		t.Fatalf("short input = %q, want one normalized chunk", got)
	}
}

func TestChunkTextCoversEverything(t *testing.T) {
	cs, _ := NewChunkingService(40, 8)
	text := strings.Repeat("abcdefghij ", 30)

	chunks := cs.ChunkText(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	normalized := NormalizeWhitespace(text)
	for i, c := range chunks {
		if len([]rune(c)) > 40 {
			t.Fatalf("chunk %d exceeds max chars: %d", i, len([]rune(c)))
		}
		if !strings.Contains(normalized, c) {
			t.Fatalf("chunk %d is not a substring of the normalized input", i)
		}
	}
	// The final window must reach the end of the text.
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(normalized, last) {
		t.Fatalf("last chunk %q does not end the text", last)
	}
}

func TestChunkTextStride(t *testing.T) {
	// Consecutive windows advance by exactly maxChars-overlap over the
	// normalized text; each chunk is its window trimmed.
	cases := []struct{ maxChars, overlap int }{
		{40, 8},
		{10, 3},
		{25, 0},
		{13, 12},
	}
	text := strings.Repeat("abcdefghij ", 30)

	for _, tc := range cases {
		cs, err := NewChunkingService(tc.maxChars, tc.overlap)
		if err != nil {
			t.Fatalf("new chunker (%d,%d): %v", tc.maxChars, tc.overlap, err)
		}
		chunks := cs.ChunkText(text)
		runes := []rune(NormalizeWhitespace(text))
		stride := tc.maxChars - tc.overlap

		for i, c := range chunks {
			start := i * stride
			end := start + tc.maxChars
			if end > len(runes) {
				end = len(runes)
			}
			want := strings.TrimSpace(string(runes[start:end]))
			if c != want {
				t.Fatalf("(%d,%d) chunk %d = %q, want window at offset %d = %q",
					tc.maxChars, tc.overlap, i, c, start, want)
			}
		}

		// The window sequence must reach the end of the text exactly.
		lastStart := (len(chunks) - 1) * stride
		if lastStart+tc.maxChars < len(runes) {
			t.Fatalf("(%d,%d) final window at %d stops short of %d runes",
				tc.maxChars, tc.overlap, lastStart, len(runes))
		}
	}
}

func TestNewChunkingServiceValidation(t *testing.T) {
	if _, err := NewChunkingService(10, 10); err == nil {
		t.Fatal("overlap == maxChars accepted")
	}
	if _, err := NewChunkingService(10, -1); err == nil {
		t.Fatal("negative overlap accepted")
	}
}

func TestChunkDocumentFieldNamespacing(t *testing.T) {
	cs, _ := NewChunkingService(1200, 150)

	records := cs.ChunkDocument("PMC123", "articles/PMC123.xml", []DocumentField{
		{Name: "title", Text: "A title"},
		{Name: "abstract", Text: "An abstract"},
		{Name: "body", Text: ""},
	})

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (empty body yields none)", len(records))
	}
	if records[0].ChunkID != "PMC123:title:0" {
		t.Fatalf("title chunk id = %q", records[0].ChunkID)
	}
	if records[1].ChunkID != "PMC123:abstract:0" {
		t.Fatalf("abstract chunk id = %q", records[1].ChunkID)
	}
	for _, r := range records {
		if r.DocID != "PMC123" || r.Source != "articles/PMC123.xml" {
			t.Fatalf("record metadata wrong: %+v", r)
		}
	}
}

func TestChunkDocumentIndicesRestartPerField(t *testing.T) {
	cs, _ := NewChunkingService(10, 2)
	long := strings.Repeat("word ", 10)

	records := cs.ChunkDocument("doc", "src", []DocumentField{
		{Name: "abstract", Text: long},
		{Name: "body", Text: long},
	})

	sawBodyZero := false
	for _, r := range records {
		if r.ChunkID == "doc:body:0" {
			sawBodyZero = true
		}
	}
	if !sawBodyZero {
		t.Fatal("body indices did not restart at 0")
	}
}
