package models

// SearchHit is the decoded union of one document from any of the four
// collections plus its backend relevance score. Only the fields of the
// originating collection are populated; the rest stay at their zero
// value and are omitted from JSON.
type SearchHit struct {
	Score float64 `bson:"score,omitempty" json:"score,omitempty"`

	// TextSegment
	SegmentID string  `bson:"segment_id,omitempty" json:"segment_id,omitempty"`
	StartTime float64 `bson:"start_time,omitempty" json:"start_time,omitempty"`
	EndTime   float64 `bson:"end_time,omitempty" json:"end_time,omitempty"`
	Speaker   string  `bson:"speaker,omitempty" json:"speaker,omitempty"`

	// TextEmbedding
	EmbeddingID  string `bson:"embedding_id,omitempty" json:"embedding_id,omitempty"`
	SegmentRange string `bson:"segment_range,omitempty" json:"segment_range,omitempty"`

	// Shared by segment and embedding rows
	Text string `bson:"text,omitempty" json:"text,omitempty"`

	// VideoFrame
	FrameNumber          int                   `bson:"frame_number,omitempty" json:"frame_number,omitempty"`
	Timestamp            float64               `bson:"timestamp,omitempty" json:"timestamp,omitempty"`
	FrameType            string                `bson:"frame_type,omitempty" json:"frame_type,omitempty"`
	PerceptualHash       string                `bson:"perceptual_hash,omitempty" json:"perceptual_hash,omitempty"`
	CharacterAppearances []CharacterAppearance `bson:"character_appearances,omitempty" json:"character_appearances,omitempty"`
	DetectedObjects      []DetectedObject      `bson:"detected_objects,omitempty" json:"detected_objects,omitempty"`

	// EpisodeName
	Title string `bson:"title,omitempty" json:"title,omitempty"`

	SceneInfo       *SceneInfo      `bson:"scene_info,omitempty" json:"scene_info,omitempty"`
	VideoPath       string          `bson:"video_path,omitempty" json:"video_path,omitempty"`
	EpisodeMetadata EpisodeMetadata `bson:"episode_metadata" json:"episode_metadata"`

	// Populated from $$SEARCH_META on full-text queries only.
	SearchTotal *int64 `bson:"search_total,omitempty" json:"-"`
}

// SearchResult is the raw hit set of one query. Hits preserve the
// backend's ranking order; the engine never re-sorts them.
type SearchResult struct {
	Total int64       `json:"total"`
	Hits  []SearchHit `json:"hits"`
}

// FacetBucket is one (value, count) bucket from a nested terms
// aggregation. Buckets are returned in backend order; display sorting
// belongs to the formatter.
type FacetBucket struct {
	Value string `bson:"_id" json:"value"`
	Count int64  `bson:"count" json:"count"`
}
