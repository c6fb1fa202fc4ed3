package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"pmc-rag-platform/internal/ai"
	"pmc-rag-platform/internal/config"
	"pmc-rag-platform/internal/telemetry"
	"pmc-rag-platform/middleware"
	"pmc-rag-platform/models"
	"pmc-rag-platform/services"
)

type stubGenerator struct {
	result *ai.GenerateResult
	err    error
	last   ai.GenerateRequest
}

func (s *stubGenerator) GenerateContent(_ context.Context, req ai.GenerateRequest) (*ai.GenerateResult, error) {
	s.last = req
	return s.result, s.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Project:         "proj",
		Location:        "us-central1",
		DefaultCorpus:   "projects/proj/locations/us-central1/ragCorpora/1",
		ModelID:         "gemini-2.0-flash-001",
		TopKMax:         10,
		MaxOutputTokens: 512,
		ExcerptMinChars: 60,
		ExcerptMaxChars: 2000,
		PublicMode:      true,
		RedactURIs:      true,
		RunsDir:         t.TempDir(),
		GenerateTimeout: 5,
	}
}

func testRouter(t *testing.T, cfg *config.Config, gen Generator) (*gin.Engine, *services.RunStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := services.NewRunStore(cfg.RunsDir)
	if err != nil {
		t.Fatalf("run store: %v", err)
	}
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		t.Fatalf("init metrics: %v", err)
	}
	mapper := services.NewCitationMapper(nil, metrics)
	auth := middleware.NewAuthMiddleware(cfg)

	router := gin.New()
	SetupAskRoutes(router, cfg, gen, mapper, store, auth, metrics)
	SetupRunRoutes(router, store, auth)
	return router, store
}

func doAsk(t *testing.T, router *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func groundedResult() *ai.GenerateResult {
	start, end := 0, 12
	raw := json.RawMessage(`{"groundingChunks":[]}`)
	return &ai.GenerateResult{
		Answer:       "Answer text.",
		RawGrounding: raw,
		Grounding: &ai.GroundingMetadata{
			GroundingChunks: []ai.GroundingChunk{
				{RetrievedContext: &ai.RetrievedContext{
					URI:   "gs://bucket/PMC_7.txt",
					Title: "PMC_7.txt",
					Text:  "retrieved snippet",
				}},
			},
			GroundingSupports: []ai.GroundingSupport{
				{
					Segment:               &ai.Segment{StartIndex: &start, EndIndex: &end},
					GroundingChunkIndices: []any{float64(0)},
				},
			},
		},
	}
}

func TestAskSuccessPersistsRun(t *testing.T) {
	cfg := testConfig(t)
	gen := &stubGenerator{result: groundedResult()}
	router, store := testRouter(t, cfg, gen)

	w := doAsk(t, router, gin.H{"prompt": "What is mitophagy?"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp models.AskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "Answer text." {
		t.Fatalf("answer = %q", resp.Answer)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].ID != "pmc_7" {
		t.Fatalf("sources = %+v", resp.Sources)
	}
	if resp.Sources[0].URI != "" {
		t.Fatal("public mode leaked a storage uri")
	}
	if resp.Guardrails.TopKMax != 10 {
		t.Fatalf("guardrails = %+v", resp.Guardrails)
	}

	// Defaults flow into the upstream call.
	if gen.last.TopK != 8 || gen.last.Model != cfg.ModelID || gen.last.Corpus != cfg.DefaultCorpus {
		t.Fatalf("upstream request = %+v", gen.last)
	}
	if gen.last.DistanceThreshold == nil || *gen.last.DistanceThreshold != 0.6 {
		t.Fatalf("distance threshold = %v", gen.last.DistanceThreshold)
	}

	day := time.Now().UTC().Format("2006-01-02")
	if resp.RunDir != day+"/"+resp.RequestID {
		t.Fatalf("run_dir = %q, want relative %s/%s", resp.RunDir, day, resp.RequestID)
	}

	desc, err := store.GetRun(day, resp.RequestID)
	if err != nil {
		t.Fatalf("run not persisted: %v", err)
	}
	if desc.RunDir != day+"/"+resp.RequestID {
		t.Fatalf("descriptor run_dir = %q, want relative form", desc.RunDir)
	}
	for _, kind := range []string{"demo", "grounding", "citations", "report"} {
		if !desc.ArtifactsPresent[kind] {
			t.Fatalf("artifact %s missing: %v", kind, desc.ArtifactsPresent)
		}
	}
	if resp.Links["report"] != "/runs/"+day+"/"+resp.RequestID+"/report" {
		t.Fatalf("links = %v", resp.Links)
	}
}

func TestAskSaveReportDisabled(t *testing.T) {
	cfg := testConfig(t)
	gen := &stubGenerator{result: groundedResult()}
	router, store := testRouter(t, cfg, gen)

	w := doAsk(t, router, gin.H{"prompt": "What is mitophagy?", "save_report": false})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp models.AskResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	day := time.Now().UTC().Format("2006-01-02")
	desc, err := store.GetRun(day, resp.RequestID)
	if err != nil {
		t.Fatalf("run not persisted: %v", err)
	}
	if desc.ArtifactsPresent["report"] {
		t.Fatal("report written despite save_report=false")
	}
	if !desc.ArtifactsPresent["demo"] {
		t.Fatal("demo record missing")
	}
}

func TestAskGuardrails(t *testing.T) {
	cfg := testConfig(t)
	router, _ := testRouter(t, cfg, &stubGenerator{result: groundedResult()})

	cases := []struct {
		name string
		body gin.H
		code int
	}{
		{"short prompt", gin.H{"prompt": "hi"}, http.StatusBadRequest},
		{"top_k too high", gin.H{"prompt": "valid prompt", "top_k": 11}, http.StatusBadRequest},
		{"top_k negative", gin.H{"prompt": "valid prompt", "top_k": -1}, http.StatusBadRequest},
		{"excerpts too small", gin.H{"prompt": "valid prompt", "excerpts": 10}, http.StatusBadRequest},
		{"excerpts too large", gin.H{"prompt": "valid prompt", "excerpts": 5000}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if w := doAsk(t, router, tc.body); w.Code != tc.code {
			t.Errorf("%s: status = %d, want %d", tc.name, w.Code, tc.code)
		}
	}
}

func TestAskMissingCorpus(t *testing.T) {
	cfg := testConfig(t)
	cfg.DefaultCorpus = ""
	router, _ := testRouter(t, cfg, &stubGenerator{result: groundedResult()})

	w := doAsk(t, router, gin.H{"prompt": "valid prompt"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error_code"] != "missing_corpus" {
		t.Fatalf("error_code = %v", resp["error_code"])
	}
}

func TestAskGenerationFailure(t *testing.T) {
	cfg := testConfig(t)
	gen := &stubGenerator{err: errors.New("upstream down")}
	router, store := testRouter(t, cfg, gen)

	w := doAsk(t, router, gin.H{"prompt": "valid prompt"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}

	// A failed generation leaves nothing behind.
	day := time.Now().UTC().Format("2006-01-02")
	runs, err := store.ListRuns(day)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("runs persisted on failure: %v", runs)
	}
}

func TestAskRequiresAuthWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIToken = "secret-token"
	router, _ := testRouter(t, cfg, &stubGenerator{result: groundedResult()})

	w := doAsk(t, router, gin.H{"prompt": "valid prompt"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", w.Code)
	}

	payload, _ := json.Marshal(gin.H{"prompt": "valid prompt"})
	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestRunRetrieval(t *testing.T) {
	cfg := testConfig(t)
	router, _ := testRouter(t, cfg, &stubGenerator{result: groundedResult()})

	w := doAsk(t, router, gin.H{"prompt": "valid prompt"})
	var resp models.AskResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	day := time.Now().UTC().Format("2006-01-02")

	// List the day
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+day, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var listing struct {
		Day   string   `json:"day"`
		Runs  []string `json:"runs"`
		Count int      `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listing)
	if listing.Count != 1 || listing.Runs[0] != resp.RequestID {
		t.Fatalf("listing = %+v", listing)
	}

	// Descriptor
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+day+"/"+resp.RequestID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("descriptor: status = %d", rec.Code)
	}

	// Artifact, inline then as download
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+day+"/"+resp.RequestID+"/report", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("artifact: status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/markdown; charset=utf-8" {
		t.Fatalf("content type = %q", ct)
	}
	if rec.Header().Get("Content-Disposition") != "" {
		t.Fatal("inline artifact carried a disposition header")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+day+"/"+resp.RequestID+"/report?download=true", nil))
	if rec.Header().Get("Content-Disposition") != `attachment; filename="report.md"` {
		t.Fatalf("disposition = %q", rec.Header().Get("Content-Disposition"))
	}
}

func TestRunRetrievalErrors(t *testing.T) {
	cfg := testConfig(t)
	router, _ := testRouter(t, cfg, &stubGenerator{result: groundedResult()})

	cases := []struct {
		path string
		code int
	}{
		{"/runs/not-a-day", http.StatusBadRequest},
		{"/runs/2025-01-15/NOT-HEX", http.StatusBadRequest},
		{"/runs/2025-01-15/abcdef012345", http.StatusNotFound},
		{"/runs/2025-01-15/abcdef012345/report", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.code {
			t.Errorf("%s: status = %d, want %d", tc.path, rec.Code, tc.code)
		}
	}
}
