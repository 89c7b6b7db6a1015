package scheduler

import (
	"errors"
	"fmt"
	"time"
)

const (
	// maxRetryCeiling RetryCount 的硬上限
	maxRetryCeiling = 2
	// MaxSpawnChunkSize 单批并发创建的工作者上限
	MaxSpawnChunkSize = 5
)

// Config 调度器配置
type Config struct {
	MaxWorkers     int           `json:"max_workers" yaml:"max_workers"`
	SpawnChunkSize int           `json:"spawn_chunk_size" yaml:"spawn_chunk_size"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay     time.Duration `json:"retry_delay" yaml:"retry_delay"`
	// TaskTimeout 单次执行超时，0 表示不限制
	TaskTimeout     time.Duration `json:"task_timeout" yaml:"task_timeout"`
	RoutingCacheTTL time.Duration `json:"routing_cache_ttl" yaml:"routing_cache_ttl"`
	// RoutingCache 路由缓存后端：memory | redis | none
	RoutingCache string `json:"routing_cache" yaml:"routing_cache"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxWorkers:      10,
		SpawnChunkSize:  MaxSpawnChunkSize,
		MaxRetries:      maxRetryCeiling,
		RetryDelay:      5 * time.Second,
		TaskTimeout:     10 * time.Minute,
		RoutingCacheTTL: 5 * time.Minute,
		RoutingCache:    "memory",
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	var errs []error
	if c.MaxWorkers <= 0 {
		errs = append(errs, errors.New("max_workers must be positive"))
	}
	if c.SpawnChunkSize <= 0 || c.SpawnChunkSize > MaxSpawnChunkSize {
		errs = append(errs, fmt.Errorf("spawn_chunk_size must be between 1 and %d", MaxSpawnChunkSize))
	}
	if c.MaxRetries < 0 || c.MaxRetries > maxRetryCeiling {
		errs = append(errs, errors.New("max_retries must be between 0 and 2"))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, errors.New("retry_delay must not be negative"))
	}
	if c.TaskTimeout < 0 {
		errs = append(errs, errors.New("task_timeout must not be negative"))
	}
	switch c.RoutingCache {
	case "", "memory", "redis", "none":
	default:
		errs = append(errs, errors.New("routing_cache must be memory, redis or none"))
	}
	return errors.Join(errs...)
}
