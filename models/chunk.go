package models

// ChunkRecord is one retrievable unit of normalized document text, as
// written to chunks.jsonl for corpus import. ChunkID is
// "<doc_id>:<section>:<index>" with the index restarting per section,
// so chunks from different sections of the same document never collide.
type ChunkRecord struct {
	DocID   string `json:"doc_id"`
	Source  string `json:"source"`
	Section string `json:"section"`
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
}
