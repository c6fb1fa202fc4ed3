package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"

	"pmc-rag-platform/internal/logger"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// GenerateRequest is one retrieve-and-generate call against a corpus.
type GenerateRequest struct {
	Prompt            string
	Corpus            string
	TopK              int
	DistanceThreshold *float64
	Model             string
	MaxOutputTokens   int
}

// GenerateResult carries the answer text plus the grounding evidence.
// RawGrounding preserves the service's grounding metadata verbatim for
// the unredacted audit record; Grounding is the decoded view used by
// citation mapping and is nil when the service attached none.
type GenerateResult struct {
	Answer       string
	Grounding    *GroundingMetadata
	RawGrounding json.RawMessage
}

// VertexClient calls the Vertex generateContent endpoint with a
// retrieval tool bound to a RAG corpus. One attempt per call; retry
// policy belongs to the caller.
type VertexClient struct {
	project     string
	location    string
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	tokenSource oauth2.TokenSource
	httpClient  *http.Client
}

func NewVertexClient(ctx context.Context, project, location string, timeout time.Duration, rpm int) (*VertexClient, error) {
	ts, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "VertexGenerate",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	if rpm <= 0 {
		rpm = 60
	}
	rateLimiter := rate.NewLimiter(rate.Limit(float64(rpm)*0.9/60.0), rpm/10+1)

	return &VertexClient{
		project:     project,
		location:    location,
		breaker:     breaker,
		rateLimiter: rateLimiter,
		tokenSource: ts,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// Wire types for the generateContent exchange.
type generateContentRequest struct {
	Contents         []wireContent     `json:"contents"`
	Tools            []wireTool        `json:"tools,omitempty"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text string `json:"text"`
}

type wireTool struct {
	Retrieval *wireRetrieval `json:"retrieval,omitempty"`
}

type wireRetrieval struct {
	VertexRagStore *vertexRagStore `json:"vertexRagStore,omitempty"`
}

type vertexRagStore struct {
	RagResources       []ragResource       `json:"ragResources,omitempty"`
	RagRetrievalConfig *ragRetrievalConfig `json:"ragRetrievalConfig,omitempty"`
}

type ragResource struct {
	RagCorpus string `json:"ragCorpus,omitempty"`
}

type ragRetrievalConfig struct {
	TopK   int        `json:"topK,omitempty"`
	Filter *ragFilter `json:"filter,omitempty"`
}

type ragFilter struct {
	VectorDistanceThreshold *float64 `json:"vectorDistanceThreshold,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type generateContentResponse struct {
	Candidates []wireCandidate `json:"candidates"`
	Error      *apiError       `json:"error,omitempty"`
}

type wireCandidate struct {
	Content           *wireContent    `json:"content,omitempty"`
	GroundingMetadata json.RawMessage `json:"groundingMetadata,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// GenerateContent performs one grounded generation call.
func (vc *VertexClient) GenerateContent(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	tracer := otel.Tracer("vertex-client")
	ctx, span := tracer.Start(ctx, "vertex.generate_content")
	defer span.End()

	span.SetAttributes(
		attribute.String("vertex.model", req.Model),
		attribute.Int("vertex.top_k", req.TopK),
		attribute.Int("vertex.prompt_chars", len(req.Prompt)),
	)

	if err := vc.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("vertex.rate_limited", true))
		return nil, err
	}

	result, err := vc.breaker.Execute(func() (interface{}, error) {
		return vc.doGenerate(ctx, req)
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("vertex.error", true))
		return nil, err
	}

	span.SetAttributes(attribute.Bool("vertex.success", true))
	return result.(*GenerateResult), nil
}

func (vc *VertexClient) doGenerate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	body := generateContentRequest{
		Contents: []wireContent{
			{Role: "user", Parts: []wirePart{{Text: req.Prompt}}},
		},
		Tools: []wireTool{
			{Retrieval: &wireRetrieval{
				VertexRagStore: &vertexRagStore{
					RagResources: []ragResource{{RagCorpus: req.Corpus}},
					RagRetrievalConfig: &ragRetrievalConfig{
						TopK:   req.TopK,
						Filter: distanceFilter(req.DistanceThreshold),
					},
				},
			}},
		},
		GenerationConfig: &generationConfig{MaxOutputTokens: req.MaxOutputTokens},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		vc.location, vc.project, vc.location, req.Model,
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := vc.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}
	token.SetAuthHeader(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := vc.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if decoded.Error != nil {
		return nil, fmt.Errorf("API error: %s (code: %d)", decoded.Error.Message, decoded.Error.Code)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if len(decoded.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	cand := decoded.Candidates[0]

	var answer strings.Builder
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			answer.WriteString(p.Text)
		}
	}

	result := &GenerateResult{
		Answer:       answer.String(),
		RawGrounding: cand.GroundingMetadata,
	}

	// Grounding decode is best-effort: a malformed structure degrades to
	// "no verified mapping", never to a failed request.
	if len(cand.GroundingMetadata) > 0 {
		var gm GroundingMetadata
		if err := json.Unmarshal(cand.GroundingMetadata, &gm); err == nil {
			result.Grounding = &gm
		} else {
			logger.Warn("Failed to decode grounding metadata", "error", err)
		}
	}

	return result, nil
}

func distanceFilter(threshold *float64) *ragFilter {
	if threshold == nil {
		return nil
	}
	return &ragFilter{VectorDistanceThreshold: threshold}
}
