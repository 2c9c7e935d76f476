package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI         string
	DBName           string
	CollectionPrefix string

	Port        string
	GinMode     string
	CORSOrigins []string

	// Atlas Search / Vector Search
	SearchIndexName  string
	VectorIndexName  string
	VectorDimensions int
	HashSize         int

	// Inference sidecar (embeddings + perceptual-hash features)
	InferenceServiceURL string
	InferenceTimeout    int // seconds
	InferenceRPS        int

	// Embeddings configuration
	EmbeddingsProvider    string // "local" (default), "google"
	GeminiAPIKey          string
	GoogleEmbeddingsModel string

	// Redis Configuration (optional; empty URL disables caching and
	// rate limiting)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	RateLimitReqs   int
	RateLimitWindow int

	// Telemetry
	TracingEnabled bool
	OTLPEndpoint   string

	// Embedding cache TTL in seconds
	EmbeddingCacheTTL int
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017/media_archive"),
		DBName:           getEnv("DB_NAME", "media_archive"),
		CollectionPrefix: getEnv("COLLECTION_PREFIX", "archive"),

		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		SearchIndexName:  getEnv("MONGODB_SEARCH_INDEX", "archive_text"),
		VectorIndexName:  getEnv("MONGODB_VECTOR_INDEX", "archive_vector"),
		VectorDimensions: getEnvInt("VECTOR_DIM", 1024),
		HashSize:         getEnvInt("HASH_SIZE", 8),

		InferenceServiceURL: getEnv("INFERENCE_SERVICE_URL", "http://localhost:8001"),
		InferenceTimeout:    getEnvInt("INFERENCE_TIMEOUT", 300),
		InferenceRPS:        getEnvInt("INFERENCE_RPS", 4),

		EmbeddingsProvider:    getEnv("EMBEDDINGS_PROVIDER", "local"),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),

		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),

		EmbeddingCacheTTL: getEnvInt("EMBEDDING_CACHE_TTL", 86400),
	}

	// Validate required fields
	if cfg.HashSize < 1 {
		return nil, fmt.Errorf("HASH_SIZE must be >= 1")
	}

	if cfg.VectorDimensions < 1 {
		return nil, fmt.Errorf("VECTOR_DIM must be >= 1")
	}

	if cfg.EmbeddingsProvider == "google" && cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required when EMBEDDINGS_PROVIDER=google - set it in .env file")
	}

	return cfg, nil
}

// CollectionName returns the prefixed name of one of the four archive
// collections, e.g. "archive_video_frames".
func (c *Config) CollectionName(suffix string) string {
	return c.CollectionPrefix + "_" + suffix
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
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
