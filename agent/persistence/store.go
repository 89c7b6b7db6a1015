// Package persistence provides the storage collaborators of a swarm:
// a namespaced knowledge store and a checkpoint store.
//
// Supported knowledge store backends:
// - Memory: For development and testing (default)
// - Redis: For distributed deployments
// - SQL: PostgreSQL / MySQL / SQLite through GORM
// - Mongo: MongoDB collections
//
// Supported checkpoint store backends:
// - File: For single-node deployments
// - S3: For shared object storage
package persistence

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeNone   StoreType = "none"
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeMongo  StoreType = "mongo"
	StoreTypeS3     StoreType = "s3"
)

// StoreConfig is the configuration of the knowledge store
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// KeyPrefix prefixes every Redis key (only used when Type is "redis")
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// Mongo configuration (only used when Type is "mongo")
	Mongo MongoStoreConfig `json:"mongo" yaml:"mongo"`
}

// MongoStoreConfig contains MongoDB-specific configuration
type MongoStoreConfig struct {
	URI        string        `json:"uri" yaml:"uri"`
	Database   string        `json:"database" yaml:"database"`
	Collection string        `json:"collection" yaml:"collection"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// CheckpointConfig is the configuration of the checkpoint store
type CheckpointConfig struct {
	// Type is one of none, file, s3
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based checkpoints
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// S3 configuration (only used when Type is "s3")
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config contains S3-specific configuration
type S3Config struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Prefix string `json:"prefix" yaml:"prefix"`
	Region string `json:"region" yaml:"region"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      StoreTypeMemory,
		KeyPrefix: "swarmflow:",
		Mongo: MongoStoreConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "swarmflow",
			Collection: "knowledge",
			Timeout:    10 * time.Second,
		},
	}
}

// DefaultCheckpointConfig returns the default checkpoint configuration
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Type:    StoreTypeFile,
		BaseDir: "./data/checkpoints",
		S3: S3Config{
			Prefix: "swarmflow/checkpoints",
			Region: "us-east-1",
		},
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}
