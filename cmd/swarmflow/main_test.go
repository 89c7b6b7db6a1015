package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/swarmflow/config"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		wantLevel zapcore.Level
	}{
		{name: "json debug", cfg: config.LogConfig{Level: "debug", Format: "json"}, wantLevel: zapcore.DebugLevel},
		{name: "console warn", cfg: config.LogConfig{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}}, wantLevel: zapcore.WarnLevel},
		{name: "invalid level", cfg: config.LogConfig{Level: "loud"}, wantLevel: zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := initLogger(tt.cfg)
			require.NotNil(t, logger)
			assert.True(t, logger.Core().Enabled(tt.wantLevel))
			assert.False(t, logger.Core().Enabled(tt.wantLevel-1))
		})
	}
}

func TestInitLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarmflow.log")
	logger := initLogger(config.LogConfig{Level: "info", Format: "json", OutputPaths: []string{path}})
	logger.Info("hello", zap.String("k", "v"))
	require.NoError(t, logger.Sync())
	assert.FileExists(t, path)
}

func TestRunHealthCheck(t *testing.T) {
	ready := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/ready":
			if ready {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, runHealthCheck([]string{"--addr", srv.URL}, &out))
	assert.Equal(t, "OK\n", out.String())

	err := runHealthCheck([]string{"--addr", srv.URL, "--ready"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	ready = true
	assert.NoError(t, runHealthCheck([]string{"--addr", srv.URL, "--ready"}, &out))
}

func TestRunHealthCheck_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	var out bytes.Buffer
	assert.Error(t, runHealthCheck([]string{"--addr", addr}, &out))
	assert.Empty(t, out.String())
}

func TestPrintUsageAndVersion(t *testing.T) {
	var out bytes.Buffer
	printUsage(&out)
	for _, cmd := range []string{"serve", "run", "migrate", "version", "health"} {
		assert.Contains(t, out.String(), cmd)
	}

	out.Reset()
	printVersion(&out)
	assert.Contains(t, out.String(), "SwarmFlow "+Version)
	assert.Contains(t, out.String(), "Git Commit: "+GitCommit)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Server.HTTPPort, cfg.Server.HTTPPort)

	// 文件缺失时沿用默认值
	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NoError(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0o600))
	_, err = loadConfig(bad)
	assert.Error(t, err)

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("log:\n  level: loud\n"), 0o600))
	_, err = loadConfig(invalid)
	assert.Error(t, err)
}

func TestRunMigrate_Usage(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		wantOut string
	}{
		{name: "no subcommand", args: nil, wantErr: true, wantOut: "Subcommands:"},
		{name: "help", args: []string{"help"}, wantOut: "swarmflow migrate <subcommand>"},
		{name: "unknown", args: []string{"sideways"}, wantErr: true, wantOut: "Unknown migrate subcommand: sideways"},
		{name: "goto without version", args: []string{"goto"}, wantErr: true, wantOut: "migrate goto <n>"},
		{name: "goto negative", args: []string{"goto", "-1"}, wantErr: true},
		{name: "force not a number", args: []string{"force", "x"}, wantErr: true},
		{name: "no database", args: []string{"status"}, wantErr: true},
		{name: "bad db type", args: []string{"up", "--db-type", "oracle", "--db-url", "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runMigrate(tt.args, &out)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantOut != "" {
				assert.Contains(t, out.String(), tt.wantOut)
			}
		})
	}
}

func TestParseMigrateFlags(t *testing.T) {
	opts, err := parseMigrateFlags("down", []string{"--all", "--db-type", "sqlite", "--db-url", "file:x.db"})
	require.NoError(t, err)
	assert.True(t, opts.all)
	assert.Equal(t, "sqlite", opts.dbType)
	assert.Equal(t, "file:x.db", opts.dbURL)

	// --all 只属于 down
	_, err = parseMigrateFlags("up", []string{"--all"})
	assert.Error(t, err)
}

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Auth.APIKeys = []string{"secret-key"}

	srv := NewServer(cfg, "", zap.NewNop(), nil)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown()

	base := "http://" + srv.httpManager.Addr()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(base + "/api/v1/swarms")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, base+"/api/v1/swarms", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + srv.metricsManager.Addr() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
