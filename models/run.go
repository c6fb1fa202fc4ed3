package models

// Source is one deduplicated grounding source in an answer. ID is the
// PMC identifier when one can be derived from the title or URI, else the
// title, else the literal "source". URI carries the raw storage object
// reference and is omitted whenever redaction is on; PMCURL is a public
// canonical link and survives redaction.
type Source struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
	PMCURL  string `json:"pmc_url,omitempty"`
	URI     string `json:"uri,omitempty"`
}

// Citation maps one answer segment to the grounding chunks that support
// it. Segment is null when neither literal text nor valid offsets were
// provided by the generation service. URIs is sorted and duplicate-free.
type Citation struct {
	Segment      *string  `json:"segment"`
	ChunkIndices []int    `json:"chunk_indices"`
	URIs         []string `json:"uris"`
}

// Guardrails echoes the ceilings that were enforced for a request.
type Guardrails struct {
	TopKMax         int `json:"top_k_max"`
	MaxOutputTokens int `json:"max_output_tokens"`
}

// RunDescriptor describes one persisted run: which artifacts exist and
// where to fetch them. RunDir is relative to the runs root so responses
// never expose the server's filesystem layout.
type RunDescriptor struct {
	Day              string            `json:"day"`
	RunID            string            `json:"run_id"`
	RunDir           string            `json:"run_dir"`
	ArtifactsPresent map[string]bool   `json:"artifacts_present"`
	Links            map[string]string `json:"links"`
}

// DemoRecord is the machine-readable interaction record persisted per run.
type DemoRecord struct {
	RequestID         string            `json:"request_id"`
	Project           string            `json:"project"`
	Location          string            `json:"location"`
	Corpus            string            `json:"corpus"`
	Model             string            `json:"model"`
	TopK              int               `json:"top_k"`
	DistanceThreshold *float64          `json:"distance_threshold"`
	Prompt            string            `json:"prompt"`
	Answer            string            `json:"answer"`
	Sources           []Source          `json:"sources"`
	LatencyMs         int64             `json:"latency_ms"`
	RetrievedChunks   int               `json:"retrieved_chunks"`
	RetrievedDocs     int               `json:"retrieved_docs"`
	Guardrails        Guardrails        `json:"guardrails"`
	Links             map[string]string `json:"links"`
}
