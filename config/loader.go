// =============================================================================
// 📦 SwarmFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("swarmflow.yaml").
//	    WithEnvPrefix("SWARMFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量默认前缀
const DefaultEnvPrefix = "SWARMFLOW"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 SwarmFlow 的完整配置结构
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server" env:"SERVER"`
	Swarm      SwarmConfig      `yaml:"swarm" json:"swarm" env:"SWARM"`
	Fabric     FabricConfig     `yaml:"fabric" json:"fabric" env:"FABRIC"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" json:"scheduler" env:"SCHEDULER"`
	Gateway    GatewayConfig    `yaml:"gateway" json:"gateway" env:"GATEWAY"`
	Store      StoreConfig      `yaml:"store" json:"store" env:"STORE"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint" env:"CHECKPOINT"`
	Redis      RedisConfig      `yaml:"redis" json:"redis" env:"REDIS"`
	Database   DatabaseConfig   `yaml:"database" json:"database" env:"DATABASE"`
	Mongo      MongoConfig      `yaml:"mongo" json:"mongo" env:"MONGO"`
	Log        LogConfig        `yaml:"log" json:"log" env:"LOG"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry" env:"TELEMETRY"`
	Auth       AuthConfig       `yaml:"auth" json:"auth" env:"AUTH"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" json:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" json:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，事件流端点不受此限制
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个 IP 每秒请求数
	RateLimitRPS float64 `yaml:"rate_limit_rps" json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORS 允许的来源，为空表示不设置
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" json:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 同时运行的蜂群上限，0 表示不限制
	MaxActiveSwarms int `yaml:"max_active_swarms" json:"max_active_swarms" env:"MAX_ACTIVE_SWARMS"`
}

// SwarmConfig 新建蜂群的默认参数
type SwarmConfig struct {
	MaxWorkers         int           `yaml:"max_workers" json:"max_workers" env:"MAX_WORKERS"`
	ConsensusAlgorithm string        `yaml:"consensus_algorithm" json:"consensus_algorithm" env:"CONSENSUS_ALGORITHM"`
	QueenType          string        `yaml:"queen_type" json:"queen_type" env:"QUEEN_TYPE"`
	AutoScale          bool          `yaml:"auto_scale" json:"auto_scale" env:"AUTO_SCALE"`
	AutoScaleInterval  time.Duration `yaml:"auto_scale_interval" json:"auto_scale_interval" env:"AUTO_SCALE_INTERVAL"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval" json:"checkpoint_interval" env:"CHECKPOINT_INTERVAL"`
	// 固定随机源，0 表示按时间播种
	Seed uint64 `yaml:"seed" json:"seed" env:"SEED"`
}

// FabricConfig 通信层配置
type FabricConfig struct {
	AckTimeout        time.Duration `yaml:"ack_timeout" json:"ack_timeout" env:"ACK_TIMEOUT"`
	ConsensusTimeout  time.Duration `yaml:"consensus_timeout" json:"consensus_timeout" env:"CONSENSUS_TIMEOUT"`
	Quorum            float64       `yaml:"quorum" json:"quorum" env:"QUORUM"`
	GossipFanout      int           `yaml:"gossip_fanout" json:"gossip_fanout" env:"GOSSIP_FANOUT"`
	GossipMaxHops     int           `yaml:"gossip_max_hops" json:"gossip_max_hops" env:"GOSSIP_MAX_HOPS"`
	GossipSeenTTL     time.Duration `yaml:"gossip_seen_ttl" json:"gossip_seen_ttl" env:"GOSSIP_SEEN_TTL"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	OfflineAfter      time.Duration `yaml:"offline_after" json:"offline_after" env:"OFFLINE_AFTER"`
	MailboxSize       int           `yaml:"mailbox_size" json:"mailbox_size" env:"MAILBOX_SIZE"`
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	SpawnChunkSize int           `yaml:"spawn_chunk_size" json:"spawn_chunk_size" env:"SPAWN_CHUNK_SIZE"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`
	RetryDelay     time.Duration `yaml:"retry_delay" json:"retry_delay" env:"RETRY_DELAY"`
	TaskTimeout    time.Duration `yaml:"task_timeout" json:"task_timeout" env:"TASK_TIMEOUT"`
	// 路由缓存后端: memory, redis, none
	RoutingCache    string        `yaml:"routing_cache" json:"routing_cache" env:"ROUTING_CACHE"`
	RoutingCacheTTL time.Duration `yaml:"routing_cache_ttl" json:"routing_cache_ttl" env:"ROUTING_CACHE_TTL"`
	// 执行任务的协程池大小，0 表示每个任务独立协程
	PoolSize int `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
}

// GatewayConfig 能力网关配置
type GatewayConfig struct {
	RateLimit        float64       `yaml:"rate_limit" json:"rate_limit" env:"RATE_LIMIT"`
	Burst            int           `yaml:"burst" json:"burst" env:"BURST"`
	CallTimeout      time.Duration `yaml:"call_timeout" json:"call_timeout" env:"CALL_TIMEOUT"`
	BatchConcurrency int           `yaml:"batch_concurrency" json:"batch_concurrency" env:"BATCH_CONCURRENCY"`
	// 内置处理器模拟的基础耗时
	BuiltinLatency time.Duration `yaml:"builtin_latency" json:"builtin_latency" env:"BUILTIN_LATENCY"`
}

// StoreConfig 知识库配置
type StoreConfig struct {
	// 类型: memory, redis, sql, mongo
	Type      string `yaml:"type" json:"type" env:"TYPE"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`
}

// CheckpointConfig 检查点配置
type CheckpointConfig struct {
	// 类型: none, file, s3
	Type   string `yaml:"type" json:"type" env:"TYPE"`
	Dir    string `yaml:"dir" json:"dir" env:"DIR"`
	Bucket string `yaml:"bucket" json:"bucket" env:"BUCKET"`
	Prefix string `yaml:"prefix" json:"prefix" env:"PREFIX"`
	Region string `yaml:"region" json:"region" env:"REGION"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址，为空表示不连接 Redis
	Addr         string `yaml:"addr" json:"addr" env:"ADDR"`
	Password     string `yaml:"password" json:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" json:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" json:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite；为空表示不连接数据库
	Driver          string        `yaml:"driver" json:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" json:"host" env:"HOST"`
	Port            int           `yaml:"port" json:"port" env:"PORT"`
	User            string        `yaml:"user" json:"user" env:"USER"`
	Password        string        `yaml:"password" json:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" json:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时自动执行内嵌迁移
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate" env:"AUTO_MIGRATE"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI        string        `yaml:"uri" json:"uri" env:"URI"`
	Database   string        `yaml:"database" json:"database" env:"DATABASE"`
	Collection string        `yaml:"collection" json:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" json:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" json:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" json:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" json:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" json:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" json:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
}

// AuthConfig 认证配置，API Key 与 JWT 均为空时不启用认证
type AuthConfig struct {
	APIKeys   []string `yaml:"api_keys" json:"api_keys" env:"API_KEYS"`
	JWTSecret string   `yaml:"jwt_secret" json:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer string   `yaml:"jwt_issuer" json:"jwt_issuer" env:"JWT_ISSUER"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，键名为 <PREFIX>_<SECTION>_<FIELD>
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 按字段类型解析字符串
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, errors.New("server.http_port must be between 1 and 65535"))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, errors.New("server.metrics_port must be between 0 and 65535"))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, errors.New("server.rate_limit_rps must not be negative"))
	}
	if c.Server.MaxActiveSwarms < 0 {
		errs = append(errs, errors.New("server.max_active_swarms must not be negative"))
	}

	// 蜂群、通信层、调度器与网关的校验交给各自的包
	if err := c.validateSwarm(); err != nil {
		errs = append(errs, err)
	}

	switch c.Store.Type {
	case "", "memory", "redis", "sql", "mongo":
	default:
		errs = append(errs, fmt.Errorf("store.type %q is not supported", c.Store.Type))
	}
	if c.Store.Type == "redis" && c.Redis.Addr == "" {
		errs = append(errs, errors.New("store.type redis requires redis.addr"))
	}
	if c.Store.Type == "sql" && c.Database.Driver == "" {
		errs = append(errs, errors.New("store.type sql requires database.driver"))
	}
	if c.Scheduler.RoutingCache == "redis" && c.Redis.Addr == "" {
		errs = append(errs, errors.New("scheduler.routing_cache redis requires redis.addr"))
	}

	switch c.Checkpoint.Type {
	case "", "none":
	case "file":
		if c.Checkpoint.Dir == "" {
			errs = append(errs, errors.New("checkpoint.dir is required for file checkpoints"))
		}
	case "s3":
		if c.Checkpoint.Bucket == "" {
			errs = append(errs, errors.New("checkpoint.bucket is required for s3 checkpoints"))
		}
	default:
		errs = append(errs, fmt.Errorf("checkpoint.type %q is not supported", c.Checkpoint.Type))
	}

	switch c.Database.Driver {
	case "", "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not supported", c.Log.Level))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry.sample_rate must be between 0 and 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
