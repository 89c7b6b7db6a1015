package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/swarmflow/agent/fabric"
	"github.com/BaSui01/swarmflow/agent/queen"
	"github.com/BaSui01/swarmflow/agent/swarm"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swarmflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_DefaultsOnly(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoader_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_YAMLOverrides(t *testing.T) {
	path := writeYAML(t, `
server:
  http_port: 9000
swarm:
  max_workers: 4
  consensus_algorithm: byzantine
  queen_type: adaptive
fabric:
  consensus_timeout: 5s
  quorum: 0.75
scheduler:
  routing_cache: none
store:
  type: redis
redis:
  addr: localhost:6380
`)
	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 4, cfg.Swarm.MaxWorkers)
	assert.Equal(t, "byzantine", cfg.Swarm.ConsensusAlgorithm)
	assert.Equal(t, 5*time.Second, cfg.Fabric.ConsensusTimeout)
	assert.InDelta(t, 0.75, cfg.Fabric.Quorum, 1e-9)
	assert.Equal(t, "redis", cfg.Store.Type)
	// 未出现的字段保留默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 3, cfg.Fabric.GossipFanout)
	require.NoError(t, cfg.Validate())
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeYAML(t, "server: [unclosed")
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := writeYAML(t, "swarm:\n  max_workers: 4\n")
	t.Setenv("SWARMFLOW_SWARM_MAX_WORKERS", "6")
	t.Setenv("SWARMFLOW_FABRIC_ACK_TIMEOUT", "250ms")
	t.Setenv("SWARMFLOW_SWARM_AUTO_SCALE", "true")
	t.Setenv("SWARMFLOW_SWARM_SEED", "42")
	t.Setenv("SWARMFLOW_AUTH_API_KEYS", "a, b,,c")
	t.Setenv("SWARMFLOW_LOG_LEVEL", "")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Swarm.MaxWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.Fabric.AckTimeout)
	assert.True(t, cfg.Swarm.AutoScale)
	assert.Equal(t, uint64(42), cfg.Swarm.Seed)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Auth.APIKeys)
	// 空值不覆盖
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoader_CustomPrefix(t *testing.T) {
	t.Setenv("SF_SERVER_HTTP_PORT", "7070")
	cfg, err := NewLoader().WithEnvPrefix("SF").Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.HTTPPort)
}

func TestLoader_BadEnvValue(t *testing.T) {
	t.Setenv("SWARMFLOW_SERVER_HTTP_PORT", "eighty")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SWARMFLOW_SERVER_HTTP_PORT")
}

func TestLoader_Validators(t *testing.T) {
	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.NoError(t, err)

	t.Setenv("SWARMFLOW_SWARM_QUEEN_TYPE", "emperor")
	_, err = NewLoader().WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown queen type")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.HTTPPort = 0 }, wantErr: "http_port"},
		{name: "negative swarms", mutate: func(c *Config) { c.Server.MaxActiveSwarms = -1 }, wantErr: "max_active_swarms"},
		{name: "unknown algorithm", mutate: func(c *Config) { c.Swarm.ConsensusAlgorithm = "raft" }, wantErr: "consensus algorithm"},
		{name: "zero workers", mutate: func(c *Config) { c.Swarm.MaxWorkers = 0 }, wantErr: "max_workers"},
		{name: "quorum above one", mutate: func(c *Config) { c.Fabric.Quorum = 1.5 }, wantErr: "quorum"},
		{name: "too many retries", mutate: func(c *Config) { c.Scheduler.MaxRetries = 3 }, wantErr: "max_retries"},
		{name: "gateway burst", mutate: func(c *Config) { c.Gateway.Burst = 0 }, wantErr: "burst"},
		{name: "redis store without addr", mutate: func(c *Config) { c.Store.Type = "redis" }, wantErr: "redis.addr"},
		{name: "sql store without driver", mutate: func(c *Config) { c.Store.Type = "sql" }, wantErr: "database.driver"},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Type = "etcd" }, wantErr: "store.type"},
		{name: "redis routing cache", mutate: func(c *Config) { c.Scheduler.RoutingCache = "redis" }, wantErr: "routing_cache"},
		{name: "file checkpoint without dir", mutate: func(c *Config) {
			c.Checkpoint.Type = "file"
			c.Checkpoint.Dir = ""
		}, wantErr: "checkpoint.dir"},
		{name: "s3 checkpoint without bucket", mutate: func(c *Config) { c.Checkpoint.Type = "s3" }, wantErr: "checkpoint.bucket"},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: "database.driver"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: "log.level"},
		{name: "bad sample rate", mutate: func(c *Config) { c.Telemetry.SampleRate = 2 }, wantErr: "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())

	d.Driver = "mysql"
	d.Port = 3306
	assert.Equal(t, "u:p@tcp(db:3306)/n?parseTime=true", d.DSN())

	d.Driver = "sqlite"
	assert.Equal(t, "n", d.DSN())

	d.Driver = ""
	assert.Empty(t, d.DSN())
}

func TestConfig_SwarmDefaultsMatchPackageDefaults(t *testing.T) {
	got := DefaultConfig().SwarmDefaults()
	want := swarm.DefaultConfig()
	// 调度器的工作者上限跟随蜂群
	want.Scheduler.MaxWorkers = want.MaxWorkers
	assert.Equal(t, want, got)
}

func TestConfig_Settings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Swarm.ConsensusAlgorithm = "weighted"
	cfg.Swarm.QueenType = "tactical"
	cfg.Store.Type = "mongo"
	cfg.Checkpoint.Type = "s3"
	cfg.Checkpoint.Bucket = "snapshots"
	cfg.Redis.Addr = "cache:6379"
	cfg.Scheduler.PoolSize = 12

	sc := cfg.SwarmDefaults()
	assert.Equal(t, fabric.AlgorithmWeighted, sc.ConsensusAlgorithm)
	assert.Equal(t, queen.TypeTactical, sc.QueenType)

	st := cfg.StoreSettings()
	assert.EqualValues(t, "mongo", st.Type)
	assert.Equal(t, "knowledge", st.Mongo.Collection)

	cp := cfg.CheckpointSettings()
	assert.EqualValues(t, "s3", cp.Type)
	assert.Equal(t, "snapshots", cp.S3.Bucket)

	assert.Equal(t, "cache:6379", cfg.CacheSettings().Addr)

	pc, ok := cfg.PoolSettings()
	require.True(t, ok)
	assert.Equal(t, 12, pc.MaxWorkers)
	cfg.Scheduler.PoolSize = 0
	_, ok = cfg.PoolSettings()
	assert.False(t, ok)

	gw := cfg.GatewaySettings()
	assert.Equal(t, cfg.Gateway.BatchConcurrency, gw.BatchConcurrency)
	assert.Equal(t, 15*time.Second, cfg.GracePeriod())
}

func TestMustLoad_PanicsOnBadFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unclosed sequence", content: "swarm: [unclosed"},
		{name: "section type mismatch", content: "swarm: 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeYAML(t, tt.content)
			assert.Panics(t, func() { MustLoad(path) })
		})
	}
}
