package persistence

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/types"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoHistoryStore stores one document per sample; ULID _id values keep
// the documents ordered by append time.
type MongoHistoryStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	capacity   int
}

// NewMongoHistoryStore connects, ensures the (key, _id) index and creates the store.
func NewMongoHistoryStore(ctx context.Context, cfg config.MongoConfig, capacity int) (*MongoHistoryStore, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Timeout > 0 {
		opts.SetConnectTimeout(cfg.Timeout).SetServerSelectionTimeout(cfg.Timeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "key", Value: 1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create history index: %w", err)
	}

	return &MongoHistoryStore{
		client:     client,
		collection: coll,
		capacity:   normalizeCapacity(capacity),
	}, nil
}

// Close disconnects the client
func (s *MongoHistoryStore) Close() error {
	return s.client.Disconnect(context.Background())
}

// Ping checks if the store is healthy
func (s *MongoHistoryStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Append inserts a sample and removes documents beyond the window.
func (s *MongoHistoryStore) Append(ctx context.Context, sample types.HistoricalSample) error {
	sample, err := prepareSample(sample)
	if err != nil {
		return err
	}
	if _, err := s.collection.InsertOne(ctx, sample); err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}

	var cutoff struct {
		ID string `bson:"_id"`
	}
	err = s.collection.FindOne(ctx,
		bson.D{{Key: "key", Value: sample.Key}},
		options.FindOne().
			SetSort(bson.D{{Key: "_id", Value: -1}}).
			SetSkip(int64(s.capacity)).
			SetProjection(bson.D{{Key: "_id", Value: 1}}),
	).Decode(&cutoff)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to locate window boundary: %w", err)
	}

	_, err = s.collection.DeleteMany(ctx, bson.D{
		{Key: "key", Value: sample.Key},
		{Key: "_id", Value: bson.D{{Key: "$lte", Value: cutoff.ID}}},
	})
	return err
}

// Query returns the most recent samples for key, oldest first.
func (s *MongoHistoryStore) Query(ctx context.Context, key string, window int) ([]types.HistoricalSample, error) {
	limit := s.capacity
	if window > 0 && window < limit {
		limit = window
	}

	cur, err := s.collection.Find(ctx,
		bson.D{{Key: "key", Value: key}},
		options.Find().
			SetSort(bson.D{{Key: "_id", Value: -1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}

	var out []types.HistoricalSample
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}
