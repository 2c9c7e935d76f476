package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// TextSegment is one transcript segment with its time range in the
// source video. Speaker is empty when diarization did not attribute
// the segment.
type TextSegment struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SegmentID       string             `bson:"segment_id" json:"segment_id"`
	Text            string             `bson:"text" json:"text"`
	StartTime       float64            `bson:"start_time" json:"start_time"`
	EndTime         float64            `bson:"end_time" json:"end_time"`
	Speaker         string             `bson:"speaker,omitempty" json:"speaker,omitempty"`
	VideoPath       string             `bson:"video_path" json:"video_path"`
	EpisodeMetadata EpisodeMetadata    `bson:"episode_metadata" json:"episode_metadata"`
}

// TextEmbedding is one embedded text window spanning one or more
// transcript segments. TextVector is a unit vector at write time.
type TextEmbedding struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EmbeddingID     string             `bson:"embedding_id" json:"embedding_id"`
	Text            string             `bson:"text" json:"text"`
	SegmentRange    string             `bson:"segment_range" json:"segment_range"`
	TextVector      []float32          `bson:"text_embedding" json:"-"`
	VideoPath       string             `bson:"video_path" json:"video_path"`
	EpisodeMetadata EpisodeMetadata    `bson:"episode_metadata" json:"episode_metadata"`
}
