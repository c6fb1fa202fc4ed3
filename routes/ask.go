package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pmc-rag-platform/internal/ai"
	"pmc-rag-platform/internal/config"
	"pmc-rag-platform/internal/logger"
	"pmc-rag-platform/internal/telemetry"
	"pmc-rag-platform/middleware"
	"pmc-rag-platform/models"
	"pmc-rag-platform/services"
	"pmc-rag-platform/utils"
)

// Generator is the grounded generation collaborator the gateway calls.
type Generator interface {
	GenerateContent(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResult, error)
}

const (
	defaultTopK     = 8
	defaultExcerpts = 280
	defaultDistance = 0.6
)

func SetupAskRoutes(router *gin.Engine, cfg *config.Config, gen Generator, mapper *services.CitationMapper, store *services.RunStore, auth *middleware.AuthMiddleware, metrics *telemetry.Metrics) {
	router.POST("/ask", auth.RequireAuth(), askHandler(cfg, gen, mapper, store, metrics))
}

func askHandler(cfg *config.Config, gen Generator, mapper *services.CitationMapper, store *services.RunStore, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		applyDefaults(&req, cfg)

		// Guardrails are enforced here, before any work begins
		corpus := req.Corpus
		if corpus == "" {
			corpus = cfg.DefaultCorpus
		}
		if corpus == "" {
			utils.RespondWithError(c, http.StatusBadRequest, "missing_corpus",
				"Missing corpus. Set env VERTEX_RAG_CORPUS or pass corpus in request.", nil)
			return
		}
		if req.TopK < 1 {
			utils.RespondWithBadRequest(c, "top_k must be >= 1", nil)
			return
		}
		if req.TopK > cfg.TopKMax {
			utils.RespondWithBadRequest(c, fmt.Sprintf("top_k too high (max %d).", cfg.TopKMax), nil)
			return
		}
		if req.Excerpts < cfg.ExcerptMinChars || req.Excerpts > cfg.ExcerptMaxChars {
			utils.RespondWithBadRequest(c,
				fmt.Sprintf("excerpts must be in [%d, %d]", cfg.ExcerptMinChars, cfg.ExcerptMaxChars), nil)
			return
		}

		runID := services.NewRunID()
		day := time.Now().UTC().Format("2006-01-02")

		t0 := time.Now()

		genCtx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(cfg.GenerateTimeout)*time.Second)
		defer cancel()

		result, err := gen.GenerateContent(genCtx, ai.GenerateRequest{
			Prompt:            req.Prompt,
			Corpus:            corpus,
			TopK:              req.TopK,
			DistanceThreshold: req.DistanceThreshold,
			Model:             req.Model,
			MaxOutputTokens:   cfg.MaxOutputTokens,
		})
		if err != nil {
			// Retryable; no audit run is persisted for a request that
			// never obtained an answer.
			utils.RespondWithServiceUnavailable(c, "generation_unavailable",
				"Generation call failed", gin.H{"error": truncateError(err)})
			return
		}

		redact := cfg.PublicMode || cfg.RedactURIs
		sources, citations := mapper.MapGrounding(c.Request.Context(), result.Answer, result.Grounding, req.Excerpts, redact)
		metrics.RecordSourcesExtracted(len(sources))

		retrievedChunks := 0
		if result.Grounding != nil {
			retrievedChunks = len(result.Grounding.GroundingChunks)
		}

		latencyMs := time.Since(t0).Milliseconds()
		guardrails := models.Guardrails{TopKMax: cfg.TopKMax, MaxOutputTokens: cfg.MaxOutputTokens}
		links := services.Links(day, runID)

		demo := &models.DemoRecord{
			RequestID:         runID,
			Project:           cfg.Project,
			Location:          cfg.Location,
			Corpus:            corpus,
			Model:             req.Model,
			TopK:              req.TopK,
			DistanceThreshold: req.DistanceThreshold,
			Prompt:            req.Prompt,
			Answer:            result.Answer,
			Sources:           sources,
			LatencyMs:         latencyMs,
			RetrievedChunks:   retrievedChunks,
			RetrievedDocs:     len(sources),
			Guardrails:        guardrails,
			Links:             links,
		}

		if err := persistRun(store, day, runID, demo, result.RawGrounding, citations, req.SaveReport == nil || *req.SaveReport); err != nil {
			if errors.Is(err, services.ErrRunExists) {
				utils.RespondWithError(c, http.StatusInternalServerError, "storage_collision",
					"Run id collision; retry the request", nil)
				return
			}
			utils.RespondWithInternalError(c, "Failed to persist audit run", nil)
			return
		}
		metrics.RecordRunPersisted()

		// Relative run dir only; the absolute store path is internal.
		c.JSON(http.StatusOK, models.AskResponse{
			RequestID:       runID,
			RunDir:          day + "/" + runID,
			Answer:          result.Answer,
			Sources:         sources,
			RetrievedChunks: retrievedChunks,
			RetrievedDocs:   len(sources),
			LatencyMs:       latencyMs,
			Guardrails:      guardrails,
			Links:           links,
		})
	}
}

func applyDefaults(req *models.AskRequest, cfg *config.Config) {
	if req.TopK == 0 {
		req.TopK = defaultTopK
	}
	if req.Excerpts == 0 {
		req.Excerpts = defaultExcerpts
	}
	if req.Model == "" {
		req.Model = cfg.ModelID
	}
	if req.DistanceThreshold == nil {
		d := defaultDistance
		req.DistanceThreshold = &d
	}
}

// persistRun writes the run's artifacts. The run directory create is
// the collision check; after generation succeeded, artifact write
// failures are logged but do not withhold the answer.
func persistRun(store *services.RunStore, day, runID string, demo *models.DemoRecord, rawGrounding json.RawMessage, citations []models.Citation, saveReport bool) error {
	if err := store.CreateRun(day, runID); err != nil {
		return err
	}

	demoJSON, err := json.MarshalIndent(demo, "", "  ")
	if err != nil {
		return err
	}
	if err := store.WriteArtifact(day, runID, "demo", demoJSON); err != nil {
		return err
	}

	if len(rawGrounding) == 0 {
		rawGrounding = json.RawMessage("null")
	}
	groundingJSON, err := json.MarshalIndent(map[string]json.RawMessage{"grounding_metadata": rawGrounding}, "", "  ")
	if err != nil {
		return err
	}
	if err := store.WriteArtifact(day, runID, "grounding", groundingJSON); err != nil {
		logger.Error("Failed to write grounding artifact", "run_id", runID, "error", err)
	}

	if len(citations) > 0 {
		citationsJSON, err := json.MarshalIndent(map[string][]models.Citation{"citations": citations}, "", "  ")
		if err == nil {
			if err := store.WriteArtifact(day, runID, "citations", citationsJSON); err != nil {
				logger.Error("Failed to write citations artifact", "run_id", runID, "error", err)
			}
		}
	}

	if saveReport {
		report := services.RenderReport(demo, citations, time.Now().UTC())
		if err := store.WriteArtifact(day, runID, "report", []byte(report)); err != nil {
			logger.Error("Failed to write report artifact", "run_id", runID, "error", err)
		}
	}

	return nil
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > 1800 {
		msg = msg[:1800]
	}
	return msg
}
