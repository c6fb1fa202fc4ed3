package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Vertex project context
	Project       string
	Location      string
	DefaultCorpus string
	ModelID       string

	// Guardrail ceilings, enforced at the gateway before any work begins
	TopKMax         int
	MaxOutputTokens int
	ExcerptMinChars int
	ExcerptMaxChars int

	// Redaction policy for externally visible responses
	PublicMode bool
	RedactURIs bool

	// Audit run storage
	RunsDir string

	// Optional bearer auth for /ask and /runs
	APIToken string

	Port        string
	GinMode     string
	CORSOrigins []string

	// Chunking defaults for the corpus preparation CLI
	MaxChunkSize int
	ChunkOverlap int

	// Upstream call bounds (seconds)
	GenerateTimeout int
	ExcerptTimeout  int

	// Redis Configuration (rate limiting; empty URL disables it)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	RateLimitReqs   int
	RateLimitWindow int

	// Telemetry
	TracingEnabled bool
	OTLPEndpoint   string
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Project:         getEnv("PROJECT_ID", ""),
		Location:        getEnv("LOCATION", getEnv("REGION", "")),
		DefaultCorpus:   getEnv("VERTEX_RAG_CORPUS", ""),
		ModelID:         getEnv("MODEL_ID", "gemini-2.0-flash-001"),
		TopKMax:         getEnvInt("TOP_K_MAX", 10),
		MaxOutputTokens: getEnvInt("MAX_OUTPUT_TOKENS", 512),
		ExcerptMinChars: getEnvInt("EXCERPT_MIN_CHARS", 60),
		ExcerptMaxChars: getEnvInt("EXCERPT_MAX_CHARS", 2000),
		PublicMode:      getEnvBool("PUBLIC_MODE", false),
		RedactURIs:      getEnvBool("REDACT_GCS_URIS", true),
		RunsDir:         getEnv("RUNS_DIR", "outputs/runs"),
		APIToken:        getEnv("API_TOKEN", ""),
		Port:            getEnv("PORT", "8080"),
		GinMode:         getEnv("GIN_MODE", "debug"),
		CORSOrigins:     strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),
		MaxChunkSize:    getEnvInt("MAX_CHUNK_SIZE", 1200),
		ChunkOverlap:    getEnvInt("CHUNK_OVERLAP", 150),
		GenerateTimeout: getEnvInt("GENERATE_TIMEOUT_SECONDS", 60),
		ExcerptTimeout:  getEnvInt("EXCERPT_TIMEOUT_SECONDS", 10),
		RedisURL:        getEnv("REDIS_URL", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),
		TracingEnabled:  getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:    getEnv("OTLP_ENDPOINT", "localhost:4317"),
	}

	// Validate required fields
	if cfg.Project == "" {
		return nil, fmt.Errorf("PROJECT_ID is required")
	}
	if cfg.Location == "" {
		return nil, fmt.Errorf("LOCATION or REGION is required")
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.MaxChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP must satisfy 0 <= overlap < MAX_CHUNK_SIZE")
	}

	// Runs base must be absolute and stable so path-safety checks have
	// a fixed root to contain against.
	if !filepath.IsAbs(cfg.RunsDir) {
		abs, err := filepath.Abs(cfg.RunsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve RUNS_DIR: %v", err)
		}
		cfg.RunsDir = abs
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "1" || strings.EqualFold(value, "true")
	}
	return defaultValue
}
