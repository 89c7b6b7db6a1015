// =============================================================================
// 📦 SwarmFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Swarm:      DefaultSwarmConfig(),
		Fabric:     DefaultFabricConfig(),
		Scheduler:  DefaultSchedulerConfig(),
		Gateway:    DefaultGatewayConfig(),
		Store:      DefaultStoreConfig(),
		Checkpoint: DefaultCheckpointConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Mongo:      DefaultMongoConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		MaxActiveSwarms: 16,
	}
}

// DefaultSwarmConfig 返回默认蜂群参数
func DefaultSwarmConfig() SwarmConfig {
	return SwarmConfig{
		MaxWorkers:         8,
		ConsensusAlgorithm: "majority",
		QueenType:          "strategic",
		AutoScale:          false,
		AutoScaleInterval:  15 * time.Second,
		CheckpointInterval: time.Minute,
	}
}

// DefaultFabricConfig 返回默认通信层配置
func DefaultFabricConfig() FabricConfig {
	return FabricConfig{
		AckTimeout:        5 * time.Second,
		ConsensusTimeout:  30 * time.Second,
		Quorum:            0.67,
		GossipFanout:      3,
		GossipMaxHops:     3,
		GossipSeenTTL:     5 * time.Minute,
		HeartbeatInterval: 10 * time.Second,
		OfflineAfter:      30 * time.Second,
		MailboxSize:       100,
	}
}

// DefaultSchedulerConfig 返回默认调度器配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SpawnChunkSize:  5,
		MaxRetries:      2,
		RetryDelay:      5 * time.Second,
		TaskTimeout:     10 * time.Minute,
		RoutingCache:    "memory",
		RoutingCacheTTL: 5 * time.Minute,
	}
}

// DefaultGatewayConfig 返回默认能力网关配置
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		RateLimit:        50,
		Burst:            10,
		CallTimeout:      30 * time.Second,
		BatchConcurrency: 8,
		BuiltinLatency:   50 * time.Millisecond,
	}
}

// DefaultStoreConfig 返回默认知识库配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      "memory",
		KeyPrefix: "swarmflow:knowledge:",
	}
}

// DefaultCheckpointConfig 返回默认检查点配置
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Type:   "none",
		Dir:    "./checkpoints",
		Prefix: "swarmflow/checkpoints",
		Region: "us-east-1",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置，Addr 为空即不连接
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置，Driver 为空即不连接
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "",
		Host:            "localhost",
		Port:            5432,
		User:            "swarmflow",
		Password:        "",
		Name:            "swarmflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "swarmflow",
		Collection: "knowledge",
		Timeout:    10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "swarmflow",
		SampleRate:   0.1,
	}
}
