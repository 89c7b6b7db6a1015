package scheduler

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/internal/cache"
)

// RoutingCache 缓存"描述前缀 → 工作者"的选择结果。实现需自行处理过期与错误。
type RoutingCache interface {
	Get(ctx context.Context, key string) (workerID string, ok bool)
	Set(ctx context.Context, key, workerID string)
}

// ====== 内存实现 ======

type routeEntry struct {
	workerID  string
	expiresAt time.Time
}

// MemoryRoutingCache 进程内路由缓存
type MemoryRoutingCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]routeEntry
}

// NewMemoryRoutingCache 创建内存路由缓存
func NewMemoryRoutingCache(ttl time.Duration) *MemoryRoutingCache {
	return &MemoryRoutingCache{ttl: ttl, now: time.Now, entries: make(map[string]routeEntry)}
}

// Get 实现 RoutingCache
func (c *MemoryRoutingCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return e.workerID, true
}

// Set 实现 RoutingCache
func (c *MemoryRoutingCache) Set(_ context.Context, key, workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	// 顺带清理过期项，避免无限增长
	if len(c.entries) > 1024 {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = routeEntry{workerID: workerID, expiresAt: now.Add(c.ttl)}
}

// ====== Redis 实现 ======

// RedisRoutingCache 基于 internal/cache 的路由缓存，多个调度器实例可共享
type RedisRoutingCache struct {
	manager *cache.Manager
	scope   string
	ttl     time.Duration
	logger  *zap.Logger
}

// NewRedisRoutingCache 创建 Redis 路由缓存。scope 用于隔离不同蜂群的工作者 ID。
func NewRedisRoutingCache(manager *cache.Manager, scope string, ttl time.Duration, logger *zap.Logger) *RedisRoutingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRoutingCache{
		manager: manager,
		scope:   scope,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "routing_cache")),
	}
}

func (c *RedisRoutingCache) key(k string) string {
	sum := sha1.Sum([]byte(k))
	return "route:" + c.scope + ":" + hex.EncodeToString(sum[:])
}

// Get 实现 RoutingCache。Redis 错误按未命中处理。
func (c *RedisRoutingCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.manager.Get(ctx, c.key(key))
	if err != nil {
		if !cache.IsCacheMiss(err) {
			c.logger.Warn("routing cache get failed", zap.Error(err))
		}
		return "", false
	}
	return v, true
}

// Set 实现 RoutingCache
func (c *RedisRoutingCache) Set(ctx context.Context, key, workerID string) {
	if err := c.manager.Set(ctx, c.key(key), workerID, c.ttl); err != nil {
		c.logger.Warn("routing cache set failed", zap.Error(err))
	}
}

// noopRoutingCache 关闭路由缓存
type noopRoutingCache struct{}

func (noopRoutingCache) Get(context.Context, string) (string, bool) { return "", false }
func (noopRoutingCache) Set(context.Context, string, string)        {}

// NoopRoutingCache 返回不缓存的实现
func NoopRoutingCache() RoutingCache { return noopRoutingCache{} }
