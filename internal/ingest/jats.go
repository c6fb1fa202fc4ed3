package ingest

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Article is the text payload extracted from one JATS record: the
// fields the chunker turns into retrieval units.
type Article struct {
	DocID    string
	Source   string
	Title    string
	Abstract string
	Body     string
}

// minSectionChars filters out boilerplate top-level sections
// (acknowledgements, tiny headings) when splitting the body.
const minSectionChars = 200

// ParseJATS extracts title, abstract and body text from a JATS XML
// document. It tolerates OAI-PMH envelopes and namespace prefixes by
// matching on local element names only.
func ParseJATS(r io.Reader, docID, source string) (*Article, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	art := &Article{DocID: docID, Source: source}

	var (
		titleParts    []string
		abstractParts []string
		bodySections  []string
		allParts      []string
	)

	// Element nesting state. Depth counters survive nested elements of
	// the same name (JATS allows abstract inside abstract metadata).
	var inTitle, inAbstract, inBody int
	var secDepth int
	var secParts []string

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse JATS document: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "article-title":
				if art.Title == "" {
					inTitle++
				}
			case "abstract":
				if art.Abstract == "" {
					inAbstract++
				}
			case "body":
				inBody++
			case "sec":
				if inBody > 0 {
					secDepth++
					if secDepth == 1 {
						secParts = secParts[:0]
					}
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "article-title":
				if inTitle > 0 {
					inTitle--
					if inTitle == 0 && len(titleParts) > 0 {
						art.Title = Normalize(strings.Join(titleParts, " "))
					}
				}
			case "abstract":
				if inAbstract > 0 {
					inAbstract--
					if inAbstract == 0 && len(abstractParts) > 0 {
						art.Abstract = Normalize(strings.Join(abstractParts, " "))
					}
				}
			case "body":
				if inBody > 0 {
					inBody--
				}
			case "sec":
				if inBody > 0 && secDepth > 0 {
					secDepth--
					if secDepth == 0 {
						sec := Normalize(strings.Join(secParts, " "))
						if len([]rune(sec)) >= minSectionChars {
							bodySections = append(bodySections, sec)
						}
					}
				}
			}
		case xml.CharData:
			text := string(t)
			if strings.TrimSpace(text) == "" {
				continue
			}
			allParts = append(allParts, text)
			if inTitle > 0 {
				titleParts = append(titleParts, text)
			}
			if inAbstract > 0 {
				abstractParts = append(abstractParts, text)
			}
			if secDepth > 0 {
				secParts = append(secParts, text)
			}
		}
	}

	if len(bodySections) > 0 {
		art.Body = strings.Join(bodySections, " ")
	} else if art.Abstract == "" && art.Title == "" {
		// Degenerate record: fall back to the whole document text so
		// the article still yields at least one chunk.
		art.Body = Normalize(strings.Join(allParts, " "))
	}

	return art, nil
}

// Normalize collapses all whitespace runs to single spaces and trims.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Empty reports whether the article carries no extractable text.
func (a *Article) Empty() bool {
	return a.Title == "" && a.Abstract == "" && a.Body == ""
}
