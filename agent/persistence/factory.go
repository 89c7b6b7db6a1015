package persistence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Backends carries the shared connections a store may be built on
type Backends struct {
	Redis *redis.Client
	DB    *gorm.DB
}

// NewKnowledgeStore creates a KnowledgeStore based on the configuration
func NewKnowledgeStore(ctx context.Context, config StoreConfig, backends Backends) (KnowledgeStore, error) {
	switch config.Type {
	case "", StoreTypeMemory:
		return NewMemoryKnowledgeStore(), nil
	case StoreTypeRedis:
		if backends.Redis == nil {
			return nil, fmt.Errorf("redis knowledge store requires a redis client")
		}
		return NewRedisKnowledgeStore(backends.Redis, config.KeyPrefix), nil
	case StoreTypeSQL:
		if backends.DB == nil {
			return nil, fmt.Errorf("sql knowledge store requires a database")
		}
		return NewSQLKnowledgeStore(backends.DB), nil
	case StoreTypeMongo:
		return NewMongoKnowledgeStore(ctx, config.Mongo)
	default:
		return nil, fmt.Errorf("unsupported knowledge store type: %s", config.Type)
	}
}

// NewCheckpointStore creates a CheckpointStore based on the configuration.
// Returns nil without error when checkpoints are disabled.
func NewCheckpointStore(ctx context.Context, config CheckpointConfig) (CheckpointStore, error) {
	switch config.Type {
	case "", StoreTypeNone:
		return nil, nil
	case StoreTypeFile:
		return NewFileCheckpointStore(config.BaseDir)
	case StoreTypeS3:
		return NewS3CheckpointStore(ctx, config.S3)
	default:
		return nil, fmt.Errorf("unsupported checkpoint store type: %s", config.Type)
	}
}
