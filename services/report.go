package services

import (
	"fmt"
	"strings"
	"time"

	"pmc-rag-platform/models"
)

// RenderReport builds the human-readable markdown record of one run:
// context block, links, prompt, answer, enumerated sources with
// excerpts, and the segment-to-source mapping when one exists.
func RenderReport(rec *models.DemoRecord, citations []models.Citation, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Vertex RAG run — %s\n", now.Format("2006-01-02T15:04:05"))

	b.WriteString("## Context\n")
	fmt.Fprintf(&b, "- Project: `%s`\n", rec.Project)
	fmt.Fprintf(&b, "- Location: `%s`\n", rec.Location)
	fmt.Fprintf(&b, "- Corpus: `%s`\n", rec.Corpus)
	fmt.Fprintf(&b, "- Model: `%s`\n", rec.Model)
	fmt.Fprintf(&b, "- Retrieval: `top_k=%d`\n", rec.TopK)
	if rec.DistanceThreshold != nil {
		fmt.Fprintf(&b, "- Filter: `vector_distance_threshold=%g`\n", *rec.DistanceThreshold)
	}
	fmt.Fprintf(&b, "- Request: `%s`\n", rec.RequestID)
	fmt.Fprintf(&b, "- Latency: `%dms`\n", rec.LatencyMs)
	fmt.Fprintf(&b, "- Retrieved: `chunks=%d`, `docs=%d`\n", rec.RetrievedChunks, rec.RetrievedDocs)
	fmt.Fprintf(&b, "- Guardrails: `top_k_max=%d`, `max_output_tokens=%d`\n\n",
		rec.Guardrails.TopKMax, rec.Guardrails.MaxOutputTokens)

	b.WriteString("## Links\n")
	for _, kind := range []string{"report", "demo", "grounding", "citations"} {
		if link, ok := rec.Links[kind]; ok {
			fmt.Fprintf(&b, "- %s: `%s`\n", kind, link)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Prompt\n```text\n" + strings.TrimSpace(rec.Prompt) + "\n```\n\n")
	b.WriteString("## Answer\n" + rec.Answer + "\n\n")

	b.WriteString("## Sources (with excerpts)\n\n")
	for i, s := range rec.Sources {
		title := s.Title
		if title == "" {
			title = s.ID
		}
		fmt.Fprintf(&b, "### %d. %s\n", i+1, title)
		if s.PMCURL != "" {
			fmt.Fprintf(&b, "- PMC: `%s`\n", s.PMCURL)
		}
		if s.URI != "" {
			fmt.Fprintf(&b, "- URI: `%s`\n", s.URI)
		}
		fmt.Fprintf(&b, "- ID: `%s`\n\n", s.ID)

		excerpt := s.Excerpt
		if excerpt == "" {
			excerpt = "(not available)"
		}
		b.WriteString("> " + strings.ReplaceAll(excerpt, "\n", "\n> ") + "\n\n")
	}

	if len(citations) > 0 {
		b.WriteString("## Citation mapping (answer segment → sources)\n")
		for i, c := range citations {
			segment := "(segment text not available)"
			if c.Segment != nil && *c.Segment != "" {
				segment = *c.Segment
			}
			fmt.Fprintf(&b, "\n### %d\n", i+1)
			fmt.Fprintf(&b, "**Segment:** %s\n", segment)
			fmt.Fprintf(&b, "- chunk_indices: `%v`\n", c.ChunkIndices)
			if len(c.URIs) > 0 {
				b.WriteString("- URIs:\n")
				for _, u := range c.URIs {
					fmt.Fprintf(&b, "  - `%s`\n", u)
				}
			}
		}
	} else {
		b.WriteString("## Citation mapping\n_No grounding supports / no exact mapping available._\n")
	}

	return b.String()
}
