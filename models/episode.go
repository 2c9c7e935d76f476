package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// EpisodeMetadata identifies the episode a document belongs to.
// Every indexed document carries exactly one of these.
type EpisodeMetadata struct {
	Season        int    `bson:"season" json:"season"`
	EpisodeNumber int    `bson:"episode_number" json:"episode_number"`
	Title         string `bson:"title" json:"title"`
	SeriesName    string `bson:"series_name" json:"series_name"`
}

// EpisodeName is one row per episode, used for name-based search.
// TitleEmbedding is a unit vector when present; it is written by the
// offline indexing pipeline and never re-normalized on read.
type EpisodeName struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title           string             `bson:"title" json:"title"`
	TitleEmbedding  []float32          `bson:"title_embedding,omitempty" json:"-"`
	EpisodeMetadata EpisodeMetadata    `bson:"episode_metadata" json:"episode_metadata"`
}
