package ai

// Grounding metadata attached by the generation service to an answer.
// Every field may be absent on the wire; consumers must tolerate nil and
// zero values rather than probing dynamically.

// RagChunk carries the exact retrieved chunk text when the service
// returns it. Preferred over RetrievedContext.Text for excerpts.
type RagChunk struct {
	Text string `json:"text,omitempty"`
}

// RetrievedContext describes one piece of grounding material.
type RetrievedContext struct {
	URI      string    `json:"uri,omitempty"`
	Title    string    `json:"title,omitempty"`
	Text     string    `json:"text,omitempty"`
	RagChunk *RagChunk `json:"ragChunk,omitempty"`
}

// GroundingChunk is one index-addressable grounding entry. The position
// in the enclosing slice is the join key used by grounding supports, so
// entries without a retrieved context still occupy their slot.
type GroundingChunk struct {
	RetrievedContext *RetrievedContext `json:"retrievedContext,omitempty"`
}

// Segment locates a span of the answer, either as literal text or as
// half-open character offsets into the full answer string.
type Segment struct {
	Text       string `json:"text,omitempty"`
	StartIndex *int   `json:"startIndex,omitempty"`
	EndIndex   *int   `json:"endIndex,omitempty"`
}

// GroundingSupport claims that a segment of the answer is supported by
// the grounding chunks at the given indices. Index values arrive as
// numbers or strings depending on the serializer; unparseable entries
// are dropped during mapping.
type GroundingSupport struct {
	Segment               *Segment `json:"segment,omitempty"`
	GroundingChunkIndices []any    `json:"groundingChunkIndices,omitempty"`
}

// GroundingMetadata is the decoded retrieval evidence for one answer.
type GroundingMetadata struct {
	GroundingChunks   []GroundingChunk   `json:"groundingChunks,omitempty"`
	GroundingSupports []GroundingSupport `json:"groundingSupports,omitempty"`
}
