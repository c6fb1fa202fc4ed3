package services

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"pmc-rag-platform/internal/ai"
	"pmc-rag-platform/internal/excerpt"
	"pmc-rag-platform/internal/logger"
	"pmc-rag-platform/internal/telemetry"
	"pmc-rag-platform/models"
)

var pmcIDRegex = regexp.MustCompile(`(?i)pmc[_-]?(\d+)`)

// pmcIDFromTitleOrURI scans the title first, then the uri. When the two
// disagree, the title wins by scan order.
func pmcIDFromTitleOrURI(title, uri string) string {
	for _, s := range []string{title, uri} {
		if s == "" {
			continue
		}
		if m := pmcIDRegex.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	return ""
}

func pmcURL(digits string) string {
	return "https://pmc.ncbi.nlm.nih.gov/articles/PMC" + digits + "/"
}

// CitationMapper reconciles a generated answer against retrieval
// grounding metadata to produce segment-to-source provenance. It never
// returns an error for malformed upstream data: bad entries degrade to
// fewer sources and citations.
type CitationMapper struct {
	fetcher excerpt.Fetcher // nil disables the external excerpt fallback
	metrics *telemetry.Metrics
}

func NewCitationMapper(fetcher excerpt.Fetcher, metrics *telemetry.Metrics) *CitationMapper {
	return &CitationMapper{fetcher: fetcher, metrics: metrics}
}

// MapGrounding extracts deduplicated sources and segment citations from
// grounding metadata. A nil metadata yields empty results, which the
// caller reports as "no verified segment-level mapping available".
func (cm *CitationMapper) MapGrounding(ctx context.Context, answer string, gm *ai.GroundingMetadata, excerptLimit int, redact bool) ([]models.Source, []models.Citation) {
	if gm == nil {
		return nil, nil
	}
	sources := cm.MapSources(ctx, gm.GroundingChunks, excerptLimit, redact)
	citations := MapCitations(answer, gm.GroundingChunks, gm.GroundingSupports)
	return sources, citations
}

// MapSources walks the grounding chunks in order, resolving an excerpt
// and a stable identifier for each, then deduplicates keeping the first
// occurrence. Identity is the uri, then the derived id, so repeated
// retrievals of one object collapse even when their titles differ.
// Entries without a uri are no-source stubs: skipped here, but they
// keep their index slot for citation joins.
func (cm *CitationMapper) MapSources(ctx context.Context, chunks []ai.GroundingChunk, excerptLimit int, redact bool) []models.Source {
	var sources []models.Source
	seen := make(map[string]bool)

	for _, ch := range chunks {
		rc := ch.RetrievedContext
		if rc == nil || rc.URI == "" {
			continue
		}
		if seen[rc.URI] {
			continue
		}

		snippet := inlineText(rc)
		if snippet == "" && cm.fetcher != nil {
			maxBytes := 2 * excerptLimit
			if maxBytes < 800 {
				maxBytes = 800
			}
			head, err := cm.fetcher.Head(ctx, rc.URI, maxBytes)
			if err != nil {
				// Excerpt absence is never a hard error
				logger.Debug("Excerpt fetch failed", "uri", rc.URI, "error", err)
				cm.metrics.RecordExcerptFetch("error")
			} else {
				snippet = head
				cm.metrics.RecordExcerptFetch("ok")
			}
		}

		pmcDigits := pmcIDFromTitleOrURI(rc.Title, rc.URI)
		sourceID := "source"
		switch {
		case pmcDigits != "":
			sourceID = "pmc_" + pmcDigits
		case rc.Title != "":
			sourceID = rc.Title
		}

		if seen[sourceID] {
			continue
		}
		seen[rc.URI] = true
		seen[sourceID] = true

		source := models.Source{
			ID:      sourceID,
			Title:   rc.Title,
			Excerpt: truncateExcerpt(snippet, excerptLimit),
		}
		if pmcDigits != "" {
			source.PMCURL = pmcURL(pmcDigits)
		}
		// Raw storage uri only when redaction is off; the public PMC
		// link above carries no internal storage information and is
		// kept regardless.
		if !redact {
			source.URI = rc.URI
		}

		sources = append(sources, source)
	}

	return sources
}

// MapCitations builds one citation per grounding support, resolving the
// answer segment and the supporting chunk indices to uris.
func MapCitations(answer string, chunks []ai.GroundingChunk, supports []ai.GroundingSupport) []models.Citation {
	var citations []models.Citation
	answerRunes := []rune(answer)

	for _, support := range supports {
		segment := segmentText(support.Segment, answerRunes)
		indices := normalizeIndices(support.GroundingChunkIndices)

		uriSet := make(map[string]bool)
		for _, idx := range indices {
			if idx < 0 || idx >= len(chunks) {
				continue
			}
			rc := chunks[idx].RetrievedContext
			if rc == nil || rc.URI == "" {
				continue
			}
			uriSet[rc.URI] = true
		}

		uris := make([]string, 0, len(uriSet))
		for uri := range uriSet {
			uris = append(uris, uri)
		}
		sort.Strings(uris)

		citations = append(citations, models.Citation{
			Segment:      segment,
			ChunkIndices: indices,
			URIs:         uris,
		})
	}

	return citations
}

// segmentText resolves a support segment: literal text when present,
// else a half-open offset slice of the answer when both offsets are
// valid, else nil.
func segmentText(seg *ai.Segment, answer []rune) *string {
	if seg == nil {
		return nil
	}
	if t := strings.TrimSpace(seg.Text); t != "" {
		return &t
	}
	if seg.StartIndex == nil || seg.EndIndex == nil {
		return nil
	}
	start, end := *seg.StartIndex, *seg.EndIndex
	if start < 0 || start >= end || end > len(answer) {
		return nil
	}
	t := strings.TrimSpace(string(answer[start:end]))
	return &t
}

// normalizeIndices coerces mixed string/number index values to ints,
// silently dropping anything unparseable.
func normalizeIndices(raw []any) []int {
	indices := make([]int, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			indices = append(indices, int(n))
		case int:
			indices = append(indices, n)
		case json.Number:
			if i, err := strconv.Atoi(n.String()); err == nil {
				indices = append(indices, i)
			}
		case string:
			if i, err := strconv.Atoi(n); err == nil {
				indices = append(indices, i)
			}
		}
	}
	return indices
}

// inlineText prefers the exact retrieved chunk text over the broader
// context text.
func inlineText(rc *ai.RetrievedContext) string {
	if rc.RagChunk != nil && strings.TrimSpace(rc.RagChunk.Text) != "" {
		return strings.TrimSpace(rc.RagChunk.Text)
	}
	return strings.TrimSpace(rc.Text)
}

func truncateExcerpt(snippet string, limit int) string {
	if snippet == "" {
		return ""
	}
	runes := []rune(snippet)
	if len(runes) <= limit {
		return snippet
	}
	return string(runes[:limit]) + "…"
}
