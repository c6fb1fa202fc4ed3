// Command chunker prepares a retrieval corpus: it walks a directory of
// JATS XML article records, extracts title/abstract/body text, splits
// them into bounded overlapping chunks, writes one JSONL line per chunk
// and prints a quality-control summary over the result.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pmc-rag-platform/internal/ingest"
	"pmc-rag-platform/models"
	"pmc-rag-platform/services"
)

type qcStats struct {
	files      int
	skipped    int
	emptyDocs  []string
	chunks     []models.ChunkRecord
	duplicates []string
}

func main() {
	var (
		inDir       = flag.String("in", "data/articles", "directory of JATS XML records")
		outPath     = flag.String("out", "data/chunks.jsonl", "output JSONL path")
		maxChars    = flag.Int("max-chars", 1200, "maximum characters per chunk")
		overlap     = flag.Int("overlap", 150, "characters of overlap between adjacent chunks")
		minLen      = flag.Int("min-len", 50, "QC: flag chunks shorter than this")
		maxLen      = flag.Int("max-len", 5000, "QC: flag chunks longer than this")
		failOnDup   = flag.Bool("fail-on-dup", false, "exit nonzero when duplicate chunk ids are found")
		failOnEmpty = flag.Bool("fail-on-empty", false, "exit nonzero when a record yields no chunks")
		report      = flag.Bool("report", true, "print the QC summary")
	)
	flag.Parse()

	chunker, err := services.NewChunkingService(*maxChars, *overlap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid chunking parameters:", err)
		os.Exit(2)
	}

	stats := &qcStats{}
	seen := make(map[string]bool)

	err = filepath.WalkDir(*inDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".xml") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		// Harvested corpora sometimes contain saved error pages with an
		// .xml extension; those are HTML, not JATS.
		if looksLikeHTML(data) {
			stats.skipped++
			return nil
		}

		stats.files++

		docID := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		source, relErr := filepath.Rel(*inDir, path)
		if relErr != nil {
			source = path
		}

		art, err := ingest.ParseJATS(bytes.NewReader(data), docID, source)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %s: %v\n", path, err)
			stats.emptyDocs = append(stats.emptyDocs, docID)
			return nil
		}
		if art.Empty() {
			stats.emptyDocs = append(stats.emptyDocs, docID)
			return nil
		}

		fields := []services.DocumentField{
			{Name: "title", Text: art.Title},
			{Name: "abstract", Text: art.Abstract},
			{Name: "body", Text: art.Body},
		}
		records := chunker.ChunkDocument(docID, source, fields)
		if len(records) == 0 {
			stats.emptyDocs = append(stats.emptyDocs, docID)
			return nil
		}

		for _, rec := range records {
			if seen[rec.ChunkID] {
				stats.duplicates = append(stats.duplicates, rec.ChunkID)
			}
			seen[rec.ChunkID] = true
		}
		stats.chunks = append(stats.chunks, records...)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "walk failed:", err)
		os.Exit(2)
	}

	if err := writeJSONL(*outPath, stats.chunks); err != nil {
		fmt.Fprintln(os.Stderr, "write failed:", err)
		os.Exit(2)
	}

	if *report {
		printReport(stats, *minLen, *maxLen)
	}

	if *failOnDup && len(stats.duplicates) > 0 {
		fmt.Fprintf(os.Stderr, "FAIL: %d duplicate chunk ids\n", len(stats.duplicates))
		os.Exit(1)
	}
	if *failOnEmpty && len(stats.emptyDocs) > 0 {
		fmt.Fprintf(os.Stderr, "FAIL: %d records yielded no chunks\n", len(stats.emptyDocs))
		os.Exit(1)
	}
}

func looksLikeHTML(data []byte) bool {
	head := strings.ToLower(string(bytes.TrimSpace(data)))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

func writeJSONL(path string, records []models.ChunkRecord) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return w.Flush()
}

func printReport(stats *qcStats, minLen, maxLen int) {
	sections := make(map[string]int)
	lengths := make([]int, 0, len(stats.chunks))
	tooShort, tooLong := 0, 0

	for _, rec := range stats.chunks {
		sections[rec.Section]++
		n := len([]rune(rec.Text))
		lengths = append(lengths, n)
		if n < minLen {
			tooShort++
		}
		if n > maxLen {
			tooLong++
		}
	}
	sort.Ints(lengths)

	fmt.Println("== chunk QC summary ==")
	fmt.Printf("records parsed:   %d (skipped non-JATS: %d)\n", stats.files, stats.skipped)
	fmt.Printf("chunks written:   %d\n", len(stats.chunks))
	fmt.Printf("empty records:    %d\n", len(stats.emptyDocs))
	fmt.Printf("duplicate ids:    %d\n", len(stats.duplicates))

	keys := make([]string, 0, len(sections))
	for k := range sections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  section %-10s %d\n", k+":", sections[k])
	}

	if len(lengths) > 0 {
		fmt.Printf("chunk length:     min=%d median=%d p90=%d max=%d\n",
			lengths[0], percentile(lengths, 50), percentile(lengths, 90), lengths[len(lengths)-1])
	}
	fmt.Printf("too short (<%d): %d\n", minLen, tooShort)
	fmt.Printf("too long (>%d): %d\n", maxLen, tooLong)

	for _, id := range stats.duplicates {
		fmt.Printf("  dup: %s\n", id)
	}
}

// percentile over a sorted slice, nearest-rank.
func percentile(sorted []int, p int) int {
	if len(sorted) == 0 {
		return 0
	}
	idx := p * len(sorted) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
