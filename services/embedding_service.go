package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"media-archive-search/internal/config"
	"media-archive-search/internal/inference"
	"media-archive-search/internal/logger"
	"media-archive-search/internal/telemetry"
	"media-archive-search/utils"

	"github.com/google/generative-ai-go/genai"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
)

// Each text is wrapped as a single-turn conversational prompt before
// encoding; images are paired with a fixed captioning instruction.
// The templates must match what the indexing pipeline used, or query
// and document vectors end up in different regions of the space.
const (
	textPromptTemplate      = "<|im_start|>user\n%s<|im_end|>\n<|im_start|>assistant\n"
	imageCaptionInstruction = "Describe this image in detail."
)

// EmbeddingService turns raw text or image inputs into unit-length
// embedding vectors using one shared multimodal encoder with lazy
// accelerator residency.
//
// The loaded encoder is one process-wide resource on the sidecar. The
// service carries no internal locking: concurrent batched calls
// against the same loaded instance are not guaranteed safe, so
// callers keep one instance per worker or serialize externally.
type EmbeddingService struct {
	cfg     *config.Config
	client  *inference.Client
	rdb     *redis.Client // optional query-embedding cache; nil disables
	metrics *telemetry.Metrics
	loaded  bool
}

func NewEmbeddingService(cfg *config.Config, client *inference.Client, rdb *redis.Client, metrics *telemetry.Metrics) *EmbeddingService {
	return &EmbeddingService{
		cfg:     cfg,
		client:  client,
		rdb:     rdb,
		metrics: metrics,
	}
}

// EnsureLoaded makes the encoder accelerator-resident. Idempotent: a
// second call while already loaded is a no-op. Fails with
// ErrResourceUnavailable when no compatible accelerator is present.
// The google text provider needs no local model.
func (s *EmbeddingService) EnsureLoaded(ctx context.Context) error {
	if s.loaded || s.cfg.EmbeddingsProvider == "google" {
		return nil
	}
	if err := s.client.LoadModel(ctx, inference.ModelEncoder); err != nil {
		return fmt.Errorf("failed to load encoder: %w", err)
	}
	s.loaded = true
	return nil
}

// Cleanup releases the encoder and its accelerator memory. Safe to
// call when already unloaded.
func (s *EmbeddingService) Cleanup(ctx context.Context) error {
	if !s.loaded {
		return nil
	}
	if err := s.client.UnloadModel(ctx, inference.ModelEncoder); err != nil {
		return fmt.Errorf("failed to unload encoder: %w", err)
	}
	s.loaded = false
	return nil
}

// EmbedTexts returns one L2-normalized vector per input text, in
// input order. The batch is encoded jointly by the sidecar; the
// hidden state at each sequence's last non-padded position is the
// raw vector, normalized here.
func (s *EmbeddingService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if s.cfg.EmbeddingsProvider == "google" {
		return s.embedTextsGoogle(ctx, texts)
	}

	if err := s.EnsureLoaded(ctx); err != nil {
		return nil, err
	}

	prompts := make([]string, len(texts))
	for i, text := range texts {
		prompts[i] = fmt.Sprintf(textPromptTemplate, text)
	}

	vectors, err := s.client.EmbedPrompts(ctx, prompts)
	if err != nil {
		return nil, fmt.Errorf("text embedding batch failed: %w", err)
	}

	for i := range vectors {
		vectors[i] = l2Normalize(vectors[i])
	}
	return vectors, nil
}

// EmbedText embeds a single query text, consulting the Redis cache
// when one is configured. Cache errors fail open to a fresh
// computation.
func (s *EmbeddingService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	cacheKey := "emb:" + s.cfg.EmbeddingsProvider + ":" + utils.HashString(text)

	if s.rdb != nil {
		if cached, err := s.rdb.Get(ctx, cacheKey).Bytes(); err == nil {
			var vector []float32
			if err := json.Unmarshal(cached, &vector); err == nil && len(vector) > 0 {
				s.metrics.RecordEmbeddingCacheHit(ctx)
				return vector, nil
			}
		}
	}

	vectors, err := s.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	vector := vectors[0]

	if s.rdb != nil {
		if encoded, err := json.Marshal(vector); err == nil {
			ttl := time.Duration(s.cfg.EmbeddingCacheTTL) * time.Second
			if err := s.rdb.Set(ctx, cacheKey, encoded, ttl).Err(); err != nil {
				logger.Debug("embedding cache write failed", "error", err)
			}
		}
	}

	return vector, nil
}

// EmbedImages returns one L2-normalized vector per image path, in
// input order. Every path is validated as a decodable image before
// any inference work; one bad image fails the whole batch with no
// partial results.
func (s *EmbeddingService) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	for _, path := range paths {
		if err := utils.ValidateImageFile(path); err != nil {
			return nil, fmt.Errorf("image embedding batch failed: %w", err)
		}
	}

	if err := s.EnsureLoaded(ctx); err != nil {
		return nil, err
	}

	vectors, err := s.client.EmbedImages(ctx, paths, imageCaptionInstruction)
	if err != nil {
		return nil, fmt.Errorf("image embedding batch failed: %w", err)
	}

	for i := range vectors {
		vectors[i] = l2Normalize(vectors[i])
	}
	return vectors, nil
}

// embedTextsGoogle is the hosted fallback provider for text. Image
// embedding and hashing stay local-only.
func (s *EmbeddingService) embedTextsGoogle(ctx context.Context, texts []string) ([][]float32, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(s.cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}
	defer client.Close()

	model := client.EmbeddingModel(s.cfg.GoogleEmbeddingsModel)

	batch := model.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	resp, err := model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("google embedding batch failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("google embedding count mismatch: got %d, want %d", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
		vectors[i] = l2Normalize(emb.Values)
	}
	return vectors, nil
}
