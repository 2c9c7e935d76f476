package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-archive-search/internal/config"
	"media-archive-search/internal/inference"
	"media-archive-search/internal/logger"
	"media-archive-search/internal/telemetry"
	"media-archive-search/middleware"
	"media-archive-search/routes"
	"media-archive-search/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	// Redis is optional: caching and rate limiting degrade gracefully
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = config.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without cache", "error", err)
			rdb = nil
		}
	}

	// Telemetry
	var metrics *telemetry.Metrics
	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("media-archive-search", cfg.OTLPEndpoint)
		if err != nil {
			log.Fatal("Failed to init tracer:", err)
		}
		defer shutdown()

		metrics, err = telemetry.InitMetrics()
		if err != nil {
			log.Fatal("Failed to init metrics:", err)
		}
	}

	// Inference sidecar and model services. One service instance per
	// process: concurrent inference against the shared loaded model
	// is serialized by the sidecar's request queue.
	sidecar := inference.NewClient(cfg.InferenceServiceURL,
		time.Duration(cfg.InferenceTimeout)*time.Second, cfg.InferenceRPS, metrics)
	embeddings := services.NewEmbeddingService(cfg, sidecar, rdb, metrics)
	hasher := services.NewHashService(cfg, sidecar, rdb)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := embeddings.Cleanup(ctx); err != nil {
			logger.Warn("encoder cleanup failed", "error", err)
		}
		if err := hasher.Cleanup(ctx); err != nil {
			logger.Warn("extractor cleanup failed", "error", err)
		}
	}()

	search := services.NewSearchService(cfg, mongoClient, embeddings, hasher, metrics)

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	if cfg.TracingEnabled {
		router.Use(middleware.TracingMiddleware())
		router.Use(middleware.EnrichTrace())
	}
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Requested-With"}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	// Setup routes
	routes.SetupSearchRoutes(router, search)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
