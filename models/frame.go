package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// VideoFrame is one sampled frame with its perceptual hash, frame
// embedding and per-frame detections. CharacterAppearances and
// DetectedObjects are nested sub-documents: each element is filterable
// and sortable as a unit independent of its siblings. Element order is
// insertion order and carries no ranking meaning.
type VideoFrame struct {
	ID                   primitive.ObjectID    `bson:"_id,omitempty" json:"id"`
	FrameNumber          int                   `bson:"frame_number" json:"frame_number"`
	Timestamp            float64               `bson:"timestamp" json:"timestamp"`
	FrameType            string                `bson:"frame_type" json:"frame_type"`
	SceneNumber          *int                  `bson:"scene_number,omitempty" json:"scene_number,omitempty"`
	PerceptualHash       string                `bson:"perceptual_hash" json:"perceptual_hash"`
	VideoVector          []float32             `bson:"video_embedding" json:"-"`
	CharacterAppearances []CharacterAppearance `bson:"character_appearances,omitempty" json:"character_appearances,omitempty"`
	DetectedObjects      []DetectedObject      `bson:"detected_objects,omitempty" json:"detected_objects,omitempty"`
	VideoPath            string                `bson:"video_path" json:"video_path"`
	EpisodeMetadata      EpisodeMetadata       `bson:"episode_metadata" json:"episode_metadata"`
}

// CharacterAppearance is one recognized face in a frame. Emotion is
// present only when the emotion classifier produced a label for it.
type CharacterAppearance struct {
	Name       string      `bson:"name" json:"name"`
	Confidence float64     `bson:"confidence" json:"confidence"`
	BBox       []float64   `bson:"bbox" json:"bbox"`
	Emotion    *EmotionTag `bson:"emotion,omitempty" json:"emotion,omitempty"`
}

// EmotionTag is the classified emotion of one character appearance.
type EmotionTag struct {
	Label      string  `bson:"label" json:"label"`
	Confidence float64 `bson:"confidence" json:"confidence"`
}

// DetectedObject is one object-detector hit in a frame.
type DetectedObject struct {
	ClassName  string    `bson:"class_name" json:"class_name"`
	ClassID    int       `bson:"class_id" json:"class_id"`
	Confidence float64   `bson:"confidence" json:"confidence"`
	BBox       []float64 `bson:"bbox" json:"bbox"`
}

// SceneInfo locates a hit inside its detected scene.
type SceneInfo struct {
	SceneNumber int     `bson:"scene_number" json:"scene_number"`
	StartTime   float64 `bson:"start_time" json:"start_time"`
}
