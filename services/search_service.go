package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"media-archive-search/internal/config"
	"media-archive-search/internal/telemetry"
	"media-archive-search/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// facetBucketCap bounds the nested terms aggregations behind
// ListCharacters/ListObjects.
const facetBucketCap = 1000

// SearchService is the retrieval engine. Every search mode builds one
// query and executes exactly one request against its collection; all
// operations are stateless given their inputs (aside from the shared
// embedding/hash services) and idempotent. Hits come back in backend
// ranking order; the engine never re-sorts client-side.
type SearchService struct {
	cfg        *config.Config
	db         *mongo.Database
	embeddings *EmbeddingService
	hasher     *HashService
	metrics    *telemetry.Metrics
}

func NewSearchService(cfg *config.Config, client *mongo.Client, embeddings *EmbeddingService, hasher *HashService, metrics *telemetry.Metrics) *SearchService {
	return &SearchService{
		cfg:        cfg,
		db:         client.Database(cfg.DBName),
		embeddings: embeddings,
		hasher:     hasher,
		metrics:    metrics,
	}
}

func (s *SearchService) segments() *mongo.Collection {
	return s.db.Collection(s.cfg.CollectionName("segments"))
}

func (s *SearchService) textEmbeddings() *mongo.Collection {
	return s.db.Collection(s.cfg.CollectionName("text_embeddings"))
}

func (s *SearchService) videoFrames() *mongo.Collection {
	return s.db.Collection(s.cfg.CollectionName("video_frames"))
}

func (s *SearchService) episodeNames() *mongo.Collection {
	return s.db.Collection(s.cfg.CollectionName("episode_names"))
}

// SearchText is the lexical mode: fuzzy multi-field match over
// transcript text and episode title, boosted on text.
func (s *SearchService) SearchText(ctx context.Context, query string, f SearchFilters, limit int) (*models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("text search needs a query: %w", ErrMalformedQuery)
	}
	limit = normalizeLimit(limit, DefaultLimit)

	pipeline := buildLexicalTextPipeline(s.cfg.SearchIndexName, query, f, limit)
	return s.runSearch(ctx, "text", s.segments(), pipeline)
}

// SearchTextSemantic scores stored text embeddings against the query
// text's embedding.
func (s *SearchService) SearchTextSemantic(ctx context.Context, query string, f SearchFilters, limit int) (*models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("semantic search needs a query: %w", ErrMalformedQuery)
	}
	limit = normalizeLimit(limit, DefaultLimit)

	vector, err := s.embeddings.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}

	pipeline := buildVectorPipeline(s.cfg.VectorIndexName, "text_embedding", vector, f, limit, true)
	return s.runSearch(ctx, "text_semantic", s.textEmbeddings(), pipeline)
}

// SearchTextToVideo is the cross-modal mode: a text query's embedding
// scored against stored video-frame embeddings.
func (s *SearchService) SearchTextToVideo(ctx context.Context, query string, f SearchFilters, limit int) (*models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("text-to-video search needs a query: %w", ErrMalformedQuery)
	}
	limit = normalizeLimit(limit, DefaultLimit)

	vector, err := s.embeddings.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}

	pipeline := buildVectorPipeline(s.cfg.VectorIndexName, "video_embedding", vector, f, limit, true)
	return s.runSearch(ctx, "text_to_video", s.videoFrames(), pipeline)
}

// SearchImageToVideo is approximate KNN over video-frame embeddings
// with the query image's embedding. Filters apply as a KNN
// pre-filter; the candidate pool is the fixed 10x oversample of the
// requested limit.
func (s *SearchService) SearchImageToVideo(ctx context.Context, imagePath string, f SearchFilters, limit int) (*models.SearchResult, error) {
	if strings.TrimSpace(imagePath) == "" {
		return nil, fmt.Errorf("image search needs an image path: %w", ErrMalformedQuery)
	}
	limit = normalizeLimit(limit, DefaultKNNLimit)

	vectors, err := s.embeddings.EmbedImages(ctx, []string{imagePath})
	if err != nil {
		return nil, err
	}

	pipeline := buildVectorPipeline(s.cfg.VectorIndexName, "video_embedding", vectors[0], f, limit, false)
	return s.runSearch(ctx, "image_to_video", s.videoFrames(), pipeline)
}

// SearchImageExact hashes the query image and looks up frames with
// the identical perceptual hash. A hash-computation failure is
// distinct from a valid hash with zero matches: the former returns an
// error, the latter an empty result.
func (s *SearchService) SearchImageExact(ctx context.Context, imagePath string, limit int) (*models.SearchResult, error) {
	if strings.TrimSpace(imagePath) == "" {
		return nil, fmt.Errorf("exact-hash search needs an image path: %w", ErrMalformedQuery)
	}
	limit = normalizeLimit(limit, DefaultKNNLimit)

	hash, err := s.hasher.PerceptualHash(ctx, imagePath)
	if err != nil {
		return nil, err
	}
	return s.SearchByHash(ctx, hash, limit)
}

// SearchByHash is the exact term match on a precomputed perceptual
// hash string.
func (s *SearchService) SearchByHash(ctx context.Context, hash string, limit int) (*models.SearchResult, error) {
	if hash == "" {
		return nil, fmt.Errorf("exact-hash search needs a hash: %w", ErrMalformedQuery)
	}
	limit = normalizeLimit(limit, DefaultKNNLimit)

	start := time.Now()
	cursor, err := s.videoFrames().Find(ctx, bson.M{"perceptual_hash": hash},
		options.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, backendErr("exact-hash search", err)
	}
	result, err := collectHits(ctx, cursor)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "exact_hash", start)
	return result, nil
}

// SearchEmotion matches frames containing a character appearance with
// the given emotion label, optionally constrained to one character,
// sorted by the matched element's emotion confidence descending with
// relevance score as tie-break.
func (s *SearchService) SearchEmotion(ctx context.Context, emotion, character string, f SearchFilters, limit int) (*models.SearchResult, error) {
	emotion = strings.TrimSpace(emotion)
	if emotion == "" {
		return nil, fmt.Errorf("emotion search needs an emotion label: %w", ErrMalformedQuery)
	}
	limit = normalizeLimit(limit, DefaultLimit)

	pipeline := buildEmotionPipeline(s.cfg.SearchIndexName, emotion, character, f, limit)
	return s.runSearch(ctx, "emotion", s.videoFrames(), pipeline)
}

// SearchCharacter matches frames in which the named character was
// recognized.
func (s *SearchService) SearchCharacter(ctx context.Context, character string, f SearchFilters, limit int) (*models.SearchResult, error) {
	character = strings.TrimSpace(character)
	if character == "" {
		return nil, fmt.Errorf("character search needs a name: %w", ErrMalformedQuery)
	}
	limit = normalizeLimit(limit, DefaultLimit)

	pipeline := buildCharacterPipeline(s.cfg.SearchIndexName, character, f, limit)
	return s.runSearch(ctx, "character", s.videoFrames(), pipeline)
}

// SearchObjects matches frames by detected-object class with an
// optional count constraint from the `class[:op count]` grammar.
func (s *SearchService) SearchObjects(ctx context.Context, query string, f SearchFilters, limit int) (*models.SearchResult, error) {
	objQuery, err := ParseObjectQuery(query)
	if err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit, DefaultLimit)

	pipeline := buildObjectPipeline(objQuery, f, limit)
	return s.runSearch(ctx, "object", s.videoFrames(), pipeline)
}

// SearchEpisodeName is the fuzzy text match on episode titles.
func (s *SearchService) SearchEpisodeName(ctx context.Context, query string, season *int, limit int) (*models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("episode-name search needs a query: %w", ErrMalformedQuery)
	}
	limit = normalizeLimit(limit, DefaultLimit)

	pipeline := buildEpisodeNamePipeline(s.cfg.SearchIndexName, query, season, limit)
	return s.runSearch(ctx, "episode_name", s.episodeNames(), pipeline)
}

// SearchEpisodeSemantic scores stored title embeddings against the
// query text's embedding.
func (s *SearchService) SearchEpisodeSemantic(ctx context.Context, query string, season *int, limit int) (*models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("episode-name search needs a query: %w", ErrMalformedQuery)
	}
	limit = normalizeLimit(limit, DefaultLimit)

	vector, err := s.embeddings.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}

	pipeline := buildVectorPipeline(s.cfg.VectorIndexName, "title_embedding", vector, SearchFilters{Season: season}, limit, true)
	return s.runSearch(ctx, "episode_semantic", s.episodeNames(), pipeline)
}

// Stats returns the document count of each of the four collections,
// keyed exactly {segments, text_embeddings, video_embeddings,
// episode_names}.
func (s *SearchService) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, 4)
	for key, coll := range map[string]*mongo.Collection{
		"segments":         s.segments(),
		"text_embeddings":  s.textEmbeddings(),
		"video_embeddings": s.videoFrames(),
		"episode_names":    s.episodeNames(),
	} {
		count, err := coll.CountDocuments(ctx, bson.M{})
		if err != nil {
			return nil, backendErr("stats", err)
		}
		stats[key] = count
	}
	return stats, nil
}

// ListCharacters buckets recognized character names with their
// occurrence counts, capped at 1000 buckets, in backend order.
func (s *SearchService) ListCharacters(ctx context.Context) ([]models.FacetBucket, error) {
	return s.runFacet(ctx, s.videoFrames(), buildFacetPipeline("character_appearances", "name", facetBucketCap))
}

// ListObjects buckets detected-object classes with their occurrence
// counts, capped at 1000 buckets, in backend order.
func (s *SearchService) ListObjects(ctx context.Context) ([]models.FacetBucket, error) {
	return s.runFacet(ctx, s.videoFrames(), buildFacetPipeline("detected_objects", "class_name", facetBucketCap))
}

func (s *SearchService) runSearch(ctx context.Context, mode string, coll *mongo.Collection, pipeline mongo.Pipeline) (*models.SearchResult, error) {
	tracer := otel.Tracer("search-service")
	ctx, span := tracer.Start(ctx, "search."+mode)
	defer span.End()

	start := time.Now()
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		span.SetAttributes(attribute.Bool("search.error", true))
		return nil, backendErr(mode+" search", err)
	}

	result, err := collectHits(ctx, cursor)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("search.total", result.Total),
		attribute.Int("search.hits", len(result.Hits)),
	)
	s.record(ctx, mode, start)
	return result, nil
}

func (s *SearchService) runFacet(ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline) ([]models.FacetBucket, error) {
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, backendErr("facet aggregation", err)
	}
	defer cursor.Close(ctx)

	buckets := make([]models.FacetBucket, 0)
	if err := cursor.All(ctx, &buckets); err != nil {
		return nil, backendErr("facet aggregation", err)
	}
	return buckets, nil
}

func (s *SearchService) record(ctx context.Context, mode string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordSearch(ctx, mode, time.Since(start).Seconds())
		s.metrics.DatabaseOperations.Add(ctx, 1)
	}
}

// collectHits drains a cursor into a SearchResult. Full-text queries
// carry the backend's total match count on each hit via
// $$SEARCH_META; other query shapes report the returned hit count.
func collectHits(ctx context.Context, cursor *mongo.Cursor) (*models.SearchResult, error) {
	defer cursor.Close(ctx)

	hits := make([]models.SearchHit, 0)
	if err := cursor.All(ctx, &hits); err != nil {
		return nil, backendErr("decoding hits", err)
	}

	total := int64(len(hits))
	if len(hits) > 0 && hits[0].SearchTotal != nil {
		total = *hits[0].SearchTotal
	}
	return &models.SearchResult{Total: total, Hits: hits}, nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}

func backendErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrBackendUnavailable)
}
