package config

import (
	"fmt"
	"time"

	"github.com/BaSui01/swarmflow/agent/capability"
	"github.com/BaSui01/swarmflow/agent/fabric"
	"github.com/BaSui01/swarmflow/agent/persistence"
	"github.com/BaSui01/swarmflow/agent/queen"
	"github.com/BaSui01/swarmflow/agent/scheduler"
	"github.com/BaSui01/swarmflow/agent/swarm"
	"github.com/BaSui01/swarmflow/internal/cache"
	"github.com/BaSui01/swarmflow/internal/database"
	"github.com/BaSui01/swarmflow/internal/pool"
)

// =============================================================================
// 🔁 配置到各组件配置的转换
// =============================================================================

// SwarmDefaults 返回新建蜂群的默认配置，Objective 由调用方填写
func (c *Config) SwarmDefaults() swarm.Config {
	return swarm.Config{
		MaxWorkers:         c.Swarm.MaxWorkers,
		ConsensusAlgorithm: fabric.Algorithm(c.Swarm.ConsensusAlgorithm),
		QueenType:          queen.Type(c.Swarm.QueenType),
		AutoScale:          c.Swarm.AutoScale,
		AutoScaleInterval:  c.Swarm.AutoScaleInterval,
		CheckpointInterval: c.Swarm.CheckpointInterval,
		Seed:               c.Swarm.Seed,
		Fabric: fabric.Config{
			AckTimeout:        c.Fabric.AckTimeout,
			ConsensusTimeout:  c.Fabric.ConsensusTimeout,
			Quorum:            c.Fabric.Quorum,
			GossipFanout:      c.Fabric.GossipFanout,
			GossipMaxHops:     c.Fabric.GossipMaxHops,
			GossipSeenTTL:     c.Fabric.GossipSeenTTL,
			HeartbeatInterval: c.Fabric.HeartbeatInterval,
			OfflineAfter:      c.Fabric.OfflineAfter,
			MailboxSize:       c.Fabric.MailboxSize,
		},
		Scheduler: scheduler.Config{
			MaxWorkers:      c.Swarm.MaxWorkers,
			SpawnChunkSize:  c.Scheduler.SpawnChunkSize,
			MaxRetries:      c.Scheduler.MaxRetries,
			RetryDelay:      c.Scheduler.RetryDelay,
			TaskTimeout:     c.Scheduler.TaskTimeout,
			RoutingCache:    c.Scheduler.RoutingCache,
			RoutingCacheTTL: c.Scheduler.RoutingCacheTTL,
		},
	}
}

// validateSwarm 用占位目标校验蜂群默认值
func (c *Config) validateSwarm() error {
	sc := c.SwarmDefaults()
	sc.Objective = "config validation"
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("swarm: %w", err)
	}
	if err := c.GatewaySettings().Validate(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// GatewaySettings 返回能力网关配置
func (c *Config) GatewaySettings() capability.Config {
	return capability.Config{
		RateLimit:        c.Gateway.RateLimit,
		Burst:            c.Gateway.Burst,
		CallTimeout:      c.Gateway.CallTimeout,
		BatchConcurrency: c.Gateway.BatchConcurrency,
	}
}

// StoreSettings 返回知识库配置
func (c *Config) StoreSettings() persistence.StoreConfig {
	return persistence.StoreConfig{
		Type:      persistence.StoreType(c.Store.Type),
		KeyPrefix: c.Store.KeyPrefix,
		Mongo: persistence.MongoStoreConfig{
			URI:        c.Mongo.URI,
			Database:   c.Mongo.Database,
			Collection: c.Mongo.Collection,
			Timeout:    c.Mongo.Timeout,
		},
	}
}

// CheckpointSettings 返回检查点配置
func (c *Config) CheckpointSettings() persistence.CheckpointConfig {
	return persistence.CheckpointConfig{
		Type:    persistence.StoreType(c.Checkpoint.Type),
		BaseDir: c.Checkpoint.Dir,
		S3: persistence.S3Config{
			Bucket: c.Checkpoint.Bucket,
			Prefix: c.Checkpoint.Prefix,
			Region: c.Checkpoint.Region,
		},
	}
}

// CacheSettings 返回 Redis 缓存配置
func (c *Config) CacheSettings() cache.Config {
	cc := cache.DefaultConfig()
	cc.Addr = c.Redis.Addr
	cc.Password = c.Redis.Password
	cc.DB = c.Redis.DB
	if c.Redis.PoolSize > 0 {
		cc.PoolSize = c.Redis.PoolSize
	}
	cc.MinIdleConns = c.Redis.MinIdleConns
	return cc
}

// PoolSettings 返回任务执行协程池配置，PoolSize 为 0 时返回 false
func (c *Config) PoolSettings() (pool.Config, bool) {
	if c.Scheduler.PoolSize <= 0 {
		return pool.Config{}, false
	}
	pc := pool.DefaultConfig()
	pc.MaxWorkers = c.Scheduler.PoolSize
	return pc, true
}

// DatabasePoolSettings 返回数据库连接池配置
func (c *Config) DatabasePoolSettings() database.PoolConfig {
	pc := database.DefaultPoolConfig()
	if c.Database.MaxOpenConns > 0 {
		pc.MaxOpenConns = c.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns > 0 {
		pc.MaxIdleConns = c.Database.MaxIdleConns
	}
	if c.Database.ConnMaxLifetime > 0 {
		pc.ConnMaxLifetime = c.Database.ConnMaxLifetime
	}
	return pc
}

// GracePeriod 返回优雅关闭等待时间
func (c *Config) GracePeriod() time.Duration {
	if c.Server.ShutdownTimeout <= 0 {
		return 15 * time.Second
	}
	return c.Server.ShutdownTimeout
}
