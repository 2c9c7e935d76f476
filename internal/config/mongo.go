package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson" // Use bson for index keys
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Test connection
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	// Create indexes
	err = createIndexes(client, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	return client, nil
}

// createIndexes bootstraps the regular B-tree indexes the retrieval
// engine filters on. The Atlas Search and Vector Search indexes are
// managed out of band (Atlas UI / indexing pipeline), not here.
func createIndexes(client *mongo.Client, cfg *Config) error {
	db := client.Database(cfg.DBName)

	episodeKeys := []mongo.IndexModel{
		{Keys: bson.D{{Key: "episode_metadata.season", Value: 1}, {Key: "episode_metadata.episode_number", Value: 1}}},
	}

	segmentsCollection := db.Collection(cfg.CollectionName("segments"))
	segmentIndexes := append([]mongo.IndexModel{
		{Keys: bson.D{{Key: "segment_id", Value: 1}}},
		{Keys: bson.D{{Key: "start_time", Value: 1}}},
	}, episodeKeys...)
	_, err := segmentsCollection.Indexes().CreateMany(context.Background(), segmentIndexes)
	if err != nil {
		return err
	}

	embeddingsCollection := db.Collection(cfg.CollectionName("text_embeddings"))
	embeddingIndexes := append([]mongo.IndexModel{
		{Keys: bson.D{{Key: "embedding_id", Value: 1}}},
	}, episodeKeys...)
	_, err = embeddingsCollection.Indexes().CreateMany(context.Background(), embeddingIndexes)
	if err != nil {
		return err
	}

	framesCollection := db.Collection(cfg.CollectionName("video_frames"))
	frameIndexes := append([]mongo.IndexModel{
		{Keys: bson.D{{Key: "perceptual_hash", Value: 1}}},
		{Keys: bson.D{{Key: "character_appearances.name", Value: 1}}},
		{Keys: bson.D{{Key: "detected_objects.class_name", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
	}, episodeKeys...)
	_, err = framesCollection.Indexes().CreateMany(context.Background(), frameIndexes)
	if err != nil {
		return err
	}

	namesCollection := db.Collection(cfg.CollectionName("episode_names"))
	nameIndexes := append([]mongo.IndexModel{
		{Keys: bson.D{{Key: "title", Value: 1}}},
	}, episodeKeys...)
	_, err = namesCollection.Indexes().CreateMany(context.Background(), nameIndexes)
	if err != nil {
		return err
	}

	return nil
}
