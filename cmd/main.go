package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pmc-rag-platform/internal/ai"
	"pmc-rag-platform/internal/config"
	"pmc-rag-platform/internal/excerpt"
	"pmc-rag-platform/internal/logger"
	"pmc-rag-platform/internal/telemetry"
	"pmc-rag-platform/middleware"
	"pmc-rag-platform/routes"
	"pmc-rag-platform/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	if cfg.PublicMode && cfg.APIToken == "" {
		logger.Warn("PUBLIC_MODE is on but API_TOKEN is empty; endpoints are open")
	}

	// Initialize tracing
	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("pmc-rag-platform", cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("Failed to initialize tracer", "error", err)
		} else {
			defer shutdown()
		}
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

	ctx := context.Background()

	// Best-effort GCS excerpt fetcher; without credentials the mapper
	// simply serves inline snippets only.
	var fetcher excerpt.Fetcher
	gcsFetcher, err := excerpt.NewGCSFetcher(ctx, time.Duration(cfg.ExcerptTimeout)*time.Second)
	if err != nil {
		logger.Warn("Excerpt fetcher disabled", "error", err)
	} else {
		fetcher = gcsFetcher
		defer gcsFetcher.Close()
	}

	vertexClient, err := ai.NewVertexClient(ctx, cfg.Project, cfg.Location,
		time.Duration(cfg.GenerateTimeout)*time.Second, 60)
	if err != nil {
		log.Fatal("Failed to create Vertex client:", err)
	}

	store, err := services.NewRunStore(cfg.RunsDir)
	if err != nil {
		log.Fatal("Failed to initialize run store:", err)
	}

	mapper := services.NewCitationMapper(fetcher, metrics)

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	if cfg.TracingEnabled {
		router.Use(middleware.TracingMiddleware())
		router.Use(middleware.EnrichTrace())
	}
	router.Use(middleware.MetricsMiddleware(metrics))

	// Rate limiting only when Redis is configured
	if cfg.RedisURL != "" {
		rdb, err := config.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("Rate limiting disabled", "error", err)
		} else {
			defer rdb.Close()
			router.Use(middleware.RateLimitMiddleware(rdb, cfg))
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"project":   cfg.Project,
			"location":  cfg.Location,
		})
	})

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg)

	// Setup routes
	routes.SetupAskRoutes(router, cfg, vertexClient, mapper, store, authMiddleware, metrics)
	routes.SetupRunRoutes(router, store, authMiddleware)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port, "public_mode", cfg.PublicMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
