package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/types"
	"github.com/redis/go-redis/v9"
)

// RedisHistoryStore is a Redis-based implementation of HistoryStore.
// Suitable for distributed deployments. Each key is a Redis list kept at
// capacity with RPUSH + LTRIM in one pipeline.
type RedisHistoryStore struct {
	client    redis.UniversalClient
	keyPrefix string
	capacity  int
	ownClient bool
}

// NewRedisHistoryStore connects to Redis and creates a history store.
func NewRedisHistoryStore(cfg config.RedisConfig, capacity int) (*RedisHistoryStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := NewRedisHistoryStoreFromClient(client, cfg.KeyPrefix, capacity)
	store.ownClient = true
	return store, nil
}

// NewRedisHistoryStoreFromClient wraps an existing client. The caller keeps
// ownership of the client; Close does not close it.
func NewRedisHistoryStoreFromClient(client redis.UniversalClient, keyPrefix string, capacity int) *RedisHistoryStore {
	if keyPrefix == "" {
		keyPrefix = "autoheal:history:"
	}
	return &RedisHistoryStore{
		client:    client,
		keyPrefix: keyPrefix,
		capacity:  normalizeCapacity(capacity),
	}
}

// Close closes the store
func (s *RedisHistoryStore) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisHistoryStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// listKey returns the Redis key for a history window
func (s *RedisHistoryStore) listKey(key string) string {
	return s.keyPrefix + key
}

// Append pushes a sample and trims the list to capacity.
func (s *RedisHistoryStore) Append(ctx context.Context, sample types.HistoricalSample) error {
	sample, err := prepareSample(sample)
	if err != nil {
		return err
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	k := s.listKey(sample.Key)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, k, data)
	pipe.LTrim(ctx, k, int64(-s.capacity), -1)
	_, err = pipe.Exec(ctx)
	return err
}

// Query returns the most recent samples for key, oldest first.
func (s *RedisHistoryStore) Query(ctx context.Context, key string, window int) ([]types.HistoricalSample, error) {
	start := int64(0)
	if window > 0 {
		start = int64(-window)
	}

	items, err := s.client.LRange(ctx, s.listKey(key), start, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]types.HistoricalSample, 0, len(items))
	for _, item := range items {
		var sample types.HistoricalSample
		if err := json.Unmarshal([]byte(item), &sample); err != nil {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}
