package models

// AskRequest is the /ask request body. Zero values are filled with
// configured defaults by the handler before validation.
type AskRequest struct {
	Prompt            string   `json:"prompt" binding:"required,min=3"`
	TopK              int      `json:"top_k"`
	DistanceThreshold *float64 `json:"distance_threshold"`
	Model             string   `json:"model"`
	Corpus            string   `json:"corpus"`
	SaveReport        *bool    `json:"save_report"`
	Excerpts          int      `json:"excerpts"`
}

// AskResponse is the /ask response body. Sources are already
// deduplicated and redacted according to the active policy.
type AskResponse struct {
	RequestID       string            `json:"request_id"`
	RunDir          string            `json:"run_dir"`
	Answer          string            `json:"answer"`
	Sources         []Source          `json:"sources"`
	RetrievedChunks int               `json:"retrieved_chunks"`
	RetrievedDocs   int               `json:"retrieved_docs"`
	LatencyMs       int64             `json:"latency_ms"`
	Guardrails      Guardrails        `json:"guardrails"`
	Links           map[string]string `json:"links"`
}
