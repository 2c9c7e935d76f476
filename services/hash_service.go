package services

import (
	"context"
	"fmt"

	"media-archive-search/internal/config"
	"media-archive-search/internal/inference"
	"media-archive-search/internal/logger"
	"media-archive-search/utils"

	"github.com/redis/go-redis/v9"
)

// HashService computes the deterministic perceptual hash of a single
// image for exact-match visual lookup. The convolutional feature
// extractor lives on the inference sidecar; the median thresholding
// that turns its pooled features into bits happens here.
//
// Same lazy-residency and no-internal-locking contract as
// EmbeddingService.
type HashService struct {
	cfg    *config.Config
	client *inference.Client
	rdb    *redis.Client // optional hash cache keyed by file content; nil disables
	loaded bool
}

func NewHashService(cfg *config.Config, client *inference.Client, rdb *redis.Client) *HashService {
	return &HashService{
		cfg:    cfg,
		client: client,
		rdb:    rdb,
	}
}

// EnsureLoaded makes the feature extractor accelerator-resident.
// Idempotent. Fails with ErrResourceUnavailable when no compatible
// accelerator is present.
func (s *HashService) EnsureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	if err := s.client.LoadModel(ctx, inference.ModelExtractor); err != nil {
		return fmt.Errorf("failed to load feature extractor: %w", err)
	}
	s.loaded = true
	return nil
}

// Cleanup releases the feature extractor. Safe when already unloaded.
func (s *HashService) Cleanup(ctx context.Context) error {
	if !s.loaded {
		return nil
	}
	if err := s.client.UnloadModel(ctx, inference.ModelExtractor); err != nil {
		return fmt.Errorf("failed to unload feature extractor: %w", err)
	}
	s.loaded = false
	return nil
}

// PerceptualHash returns the hash_size^2 character bit string for the
// image at path. Same image bytes and same model weights always
// produce the same string. A failure here means no hash was produced
// at all, which callers must keep distinct from a valid hash with
// zero index matches.
func (s *HashService) PerceptualHash(ctx context.Context, path string) (string, error) {
	if err := utils.ValidateImageFile(path); err != nil {
		return "", fmt.Errorf("perceptual hash failed: %w", err)
	}

	var cacheKey string
	if s.rdb != nil {
		if fileHash, err := utils.HashFile(path); err == nil {
			cacheKey = "phash:" + fileHash
			if cached, err := s.rdb.Get(ctx, cacheKey).Result(); err == nil && cached != "" {
				return cached, nil
			}
		}
	}

	if err := s.EnsureLoaded(ctx); err != nil {
		return "", err
	}

	features, err := s.client.ExtractFeatures(ctx, path)
	if err != nil {
		return "", fmt.Errorf("perceptual hash failed: %w", err)
	}

	hash, err := hashBits(features, s.cfg.HashSize)
	if err != nil {
		return "", fmt.Errorf("perceptual hash failed: %w", err)
	}

	if s.rdb != nil && cacheKey != "" {
		// Content-addressed, so no expiry needed.
		if err := s.rdb.Set(ctx, cacheKey, hash, 0).Err(); err != nil {
			logger.Debug("perceptual hash cache write failed", "error", err)
		}
	}

	return hash, nil
}
