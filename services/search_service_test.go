package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"media-archive-search/internal/config"
	"media-archive-search/models"

	"go.mongodb.org/mongo-driver/bson"
)

// Every mode must reject a missing search criterion before any
// backend or model call: the zero-value service has neither, so
// reaching one would panic.
func TestSearchModesRejectMissingCriterion(t *testing.T) {
	s := &SearchService{}
	ctx := context.Background()

	cases := map[string]func() error{
		"text": func() error {
			_, err := s.SearchText(ctx, "  ", SearchFilters{}, 0)
			return err
		},
		"text_semantic": func() error {
			_, err := s.SearchTextSemantic(ctx, "", SearchFilters{}, 0)
			return err
		},
		"text_to_video": func() error {
			_, err := s.SearchTextToVideo(ctx, "", SearchFilters{}, 0)
			return err
		},
		"image_to_video": func() error {
			_, err := s.SearchImageToVideo(ctx, "", SearchFilters{}, 0)
			return err
		},
		"image_exact": func() error {
			_, err := s.SearchImageExact(ctx, "", 0)
			return err
		},
		"by_hash": func() error {
			_, err := s.SearchByHash(ctx, "", 0)
			return err
		},
		"emotion": func() error {
			_, err := s.SearchEmotion(ctx, "", "", SearchFilters{}, 0)
			return err
		},
		"character": func() error {
			_, err := s.SearchCharacter(ctx, " ", SearchFilters{}, 0)
			return err
		},
		"object": func() error {
			_, err := s.SearchObjects(ctx, "", SearchFilters{}, 0)
			return err
		},
		"episode_name": func() error {
			_, err := s.SearchEpisodeName(ctx, "", nil, 0)
			return err
		},
		"episode_semantic": func() error {
			_, err := s.SearchEpisodeSemantic(ctx, "", nil, 0)
			return err
		},
	}

	for mode, call := range cases {
		err := call()
		if err == nil {
			t.Errorf("%s: expected error for missing criterion", mode)
			continue
		}
		if !errors.Is(err, ErrMalformedQuery) {
			t.Errorf("%s: error %v is not ErrMalformedQuery", mode, err)
		}
	}
}

func TestSearchObjectsRejectsBadGrammar(t *testing.T) {
	s := &SearchService{}
	_, err := s.SearchObjects(context.Background(), "person:abc", SearchFilters{}, 0)
	if !errors.Is(err, ErrMalformedQuery) {
		t.Fatalf("error %v is not ErrMalformedQuery", err)
	}
}

func TestNormalizeLimit(t *testing.T) {
	if got := normalizeLimit(0, DefaultLimit); got != 20 {
		t.Errorf("normalizeLimit(0) = %d, want 20", got)
	}
	if got := normalizeLimit(-3, DefaultKNNLimit); got != 10 {
		t.Errorf("normalizeLimit(-3) = %d, want 10", got)
	}
	if got := normalizeLimit(5, DefaultLimit); got != 5 {
		t.Errorf("normalizeLimit(5) = %d, want 5", got)
	}
}

// integrationSearchService connects to the Mongo deployment named by
// MONGO_URI, or skips the test when none is configured.
func integrationSearchService(t *testing.T) *SearchService {
	t.Helper()
	if os.Getenv("MONGO_URI") == "" {
		t.Skip("MONGO_URI not set")
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Skipf("config load failed: %v", err)
	}
	client, err := config.ConnectMongoDB(cfg)
	if err != nil {
		t.Skipf("mongo connect failed: %v", err)
	}
	t.Cleanup(func() { client.Disconnect(context.Background()) })
	return NewSearchService(cfg, client, nil, nil, nil)
}

// waitForHits polls a search until the index has caught up with freshly
// seeded documents. Atlas Search indexes writes asynchronously.
func waitForHits(t *testing.T, fetch func() (*models.SearchResult, error), want int) *models.SearchResult {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for {
		result, err := fetch()
		if err != nil {
			t.Fatalf("search error: %v", err)
		}
		if len(result.Hits) >= want || time.Now().After(deadline) {
			return result
		}
		time.Sleep(time.Second)
	}
}

func TestStatsIntegration(t *testing.T) {
	s := integrationSearchService(t)
	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats error: %v", err)
	}

	for _, key := range []string{"segments", "text_embeddings", "video_embeddings", "episode_names"} {
		count, ok := stats[key]
		if !ok {
			t.Errorf("stats missing key %q", key)
		}
		if count < 0 {
			t.Errorf("stats[%q] = %d, want >= 0", key, count)
		}
	}
	if len(stats) != 4 {
		t.Errorf("stats has %d keys, want exactly 4", len(stats))
	}
}

// Emotion hits must come back ordered by the matched appearance's
// confidence descending, and frames without the queried label must not
// match at all.
func TestSearchEmotionOrderingIntegration(t *testing.T) {
	s := integrationSearchService(t)
	ctx := context.Background()

	run := time.Now().UnixNano()
	marker := fmt.Sprintf("/it/emotion-%d.mp4", run)
	label := fmt.Sprintf("itemotion%d", run)
	meta := models.EpisodeMetadata{Season: 1, EpisodeNumber: 1, Title: "Odcinek testowy", SeriesName: "Ranczo"}

	frame := func(n int, emotion string, confidence float64) models.VideoFrame {
		return models.VideoFrame{
			FrameNumber:     n,
			Timestamp:       float64(n * 10),
			FrameType:       "keyframe",
			PerceptualHash:  "0000",
			VideoPath:       marker,
			EpisodeMetadata: meta,
			CharacterAppearances: []models.CharacterAppearance{{
				Name:       "Lucy",
				Confidence: 0.99,
				Emotion:    &models.EmotionTag{Label: emotion, Confidence: confidence},
			}},
		}
	}

	coll := s.videoFrames()
	_, err := coll.InsertMany(ctx, []interface{}{
		frame(1, label, 0.9),
		frame(2, label+"x", 0.8),
		frame(3, label, 0.6),
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	t.Cleanup(func() {
		coll.DeleteMany(context.Background(), bson.M{"video_path": marker})
	})

	result := waitForHits(t, func() (*models.SearchResult, error) {
		return s.SearchEmotion(ctx, label, "", SearchFilters{}, 10)
	}, 2)

	if len(result.Hits) != 2 {
		t.Fatalf("got %d hits, want 2:\n%+v", len(result.Hits), result.Hits)
	}
	if result.Hits[0].FrameNumber != 1 || result.Hits[1].FrameNumber != 3 {
		t.Errorf("hit order [%d %d], want [1 3] (confidence 0.9 before 0.6)",
			result.Hits[0].FrameNumber, result.Hits[1].FrameNumber)
	}
	for _, hit := range result.Hits {
		if hit.FrameNumber == 2 {
			t.Error("frame without the queried label matched")
		}
	}
}

// The character facet's occurrence count must agree with the total a
// character search reports for the same name.
func TestCharacterFacetRoundTripIntegration(t *testing.T) {
	s := integrationSearchService(t)
	ctx := context.Background()

	run := time.Now().UnixNano()
	marker := fmt.Sprintf("/it/character-%d.mp4", run)
	name := fmt.Sprintf("itcharacter%d", run)
	meta := models.EpisodeMetadata{Season: 2, EpisodeNumber: 3, Title: "Odcinek testowy", SeriesName: "Ranczo"}

	frames := make([]interface{}, 3)
	for i := range frames {
		frames[i] = models.VideoFrame{
			FrameNumber:     i + 1,
			Timestamp:       float64(i) * 5,
			FrameType:       "keyframe",
			PerceptualHash:  "1111",
			VideoPath:       marker,
			EpisodeMetadata: meta,
			CharacterAppearances: []models.CharacterAppearance{{
				Name:       name,
				Confidence: 0.95,
			}},
		}
	}

	coll := s.videoFrames()
	if _, err := coll.InsertMany(ctx, frames); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	t.Cleanup(func() {
		coll.DeleteMany(context.Background(), bson.M{"video_path": marker})
	})

	result := waitForHits(t, func() (*models.SearchResult, error) {
		return s.SearchCharacter(ctx, name, SearchFilters{}, 10)
	}, 3)
	if result.Total != 3 {
		t.Fatalf("character search total = %d, want 3", result.Total)
	}

	buckets, err := s.ListCharacters(ctx)
	if err != nil {
		t.Fatalf("facet error: %v", err)
	}
	var count int64
	for _, b := range buckets {
		if b.Value == name {
			count = b.Count
		}
	}
	if count != result.Total {
		t.Errorf("facet count %d != character search total %d", count, result.Total)
	}
}
