package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKnowledgeStore is a Redis-based implementation of KnowledgeStore.
// Each record is a string key; a sorted set per namespace indexes the keys.
type RedisKnowledgeStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisKnowledgeStore creates a Redis knowledge store on an existing client
func NewRedisKnowledgeStore(client *redis.Client, keyPrefix string) *RedisKnowledgeStore {
	if keyPrefix == "" {
		keyPrefix = "swarmflow:"
	}
	return &RedisKnowledgeStore{client: client, keyPrefix: keyPrefix + "knowledge:"}
}

// Close closes the underlying client
func (s *RedisKnowledgeStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisKnowledgeStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// dataKey returns the Redis key for a record
func (s *RedisKnowledgeStore) dataKey(namespace, key string) string {
	return s.keyPrefix + "data:" + namespace + ":" + key
}

// indexKey returns the Redis key for a namespace index
func (s *RedisKnowledgeStore) indexKey(namespace string) string {
	return s.keyPrefix + "index:" + namespace
}

// Put stores a record and indexes its key
func (s *RedisKnowledgeStore) Put(ctx context.Context, namespace, key string, value any, kind string) error {
	e, err := newEntry(namespace, key, value, kind)
	if err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(namespace, key), data, 0)
	pipe.ZAdd(ctx, s.indexKey(namespace), redis.Z{Score: 0, Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Get retrieves a record
func (s *RedisKnowledgeStore) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	data, err := s.client.Get(ctx, s.dataKey(namespace, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", namespace, key, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &e, nil
}

// Search returns matching records ordered by key.
// The index is a zero-score sorted set, so ZRange yields keys lexicographically.
func (s *RedisKnowledgeStore) Search(ctx context.Context, namespace, pattern string) ([]Entry, error) {
	keys, err := s.client.ZRange(ctx, s.indexKey(namespace), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index of %s: %w", namespace, err)
	}

	var dataKeys []string
	for _, k := range keys {
		if matchKey(pattern, k) {
			dataKeys = append(dataKeys, s.dataKey(namespace, k))
		}
	}
	if len(dataKeys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, dataKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load entries of %s: %w", namespace, err)
	}
	out := make([]Entry, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
