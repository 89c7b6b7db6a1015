package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHotReloadManager_InitialVersion(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	assert.Equal(t, 1, m.CurrentVersion())
	require.Len(t, m.History(), 1)
	assert.Equal(t, "init", m.History()[0].Source)
}

func TestHotReloadManager_ApplyConfig(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())

	var changes []ConfigChange
	var reloaded atomic.Bool
	m.OnChange(func(c ConfigChange) { changes = append(changes, c) })
	m.OnReload(func(old, cur *Config) {
		reloaded.Store(old.Swarm.MaxWorkers == 8 && cur.Swarm.MaxWorkers == 4)
	})

	next := DefaultConfig()
	next.Swarm.MaxWorkers = 4
	next.Server.HTTPPort = 9000
	require.NoError(t, m.ApplyConfig(next, "api"))

	assert.True(t, reloaded.Load())
	require.Len(t, changes, 2)
	byPath := map[string]ConfigChange{}
	for _, c := range changes {
		byPath[c.Path] = c
	}
	assert.False(t, byPath["Swarm.MaxWorkers"].RequiresRestart)
	assert.True(t, byPath["Server.HTTPPort"].RequiresRestart)
	assert.Equal(t, 2, m.CurrentVersion())
	assert.Equal(t, 4, m.Config().Swarm.MaxWorkers)
}

func TestHotReloadManager_ValidateHookRejects(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), WithValidateFunc(func(c *Config) error {
		if c.Swarm.MaxWorkers > 100 {
			return errors.New("too many workers")
		}
		return nil
	}))

	next := DefaultConfig()
	next.Swarm.MaxWorkers = 500
	require.Error(t, m.ApplyConfig(next, "api"))
	assert.Equal(t, 8, m.Config().Swarm.MaxWorkers)
	assert.Equal(t, 1, m.CurrentVersion())
	log := m.ChangeLog(0)
	require.Len(t, log, 1)
	assert.Equal(t, "(validation_hook)", log[0].Path)
}

func TestHotReloadManager_CallbackPanicRollsBack(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	var rolledBack atomic.Bool
	m.OnRollback(func(ev RollbackEvent) { rolledBack.Store(ev.Version == 1) })
	m.OnReload(func(_, _ *Config) { panic("boom") })

	next := DefaultConfig()
	next.Swarm.QueenType = "tactical"
	err := m.ApplyConfig(next, "file")
	require.Error(t, err)
	assert.Equal(t, "strategic", m.Config().Swarm.QueenType)
	assert.True(t, rolledBack.Load())
}

func TestHotReloadManager_UpdateField(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())

	// JSON 数字解码为 float64
	require.NoError(t, m.UpdateField("Swarm.MaxWorkers", float64(5)))
	assert.Equal(t, 5, m.Config().Swarm.MaxWorkers)

	require.NoError(t, m.UpdateField("Fabric.ConsensusTimeout", "3s"))
	assert.Equal(t, 3*time.Second, m.Config().Fabric.ConsensusTimeout)

	require.NoError(t, m.UpdateField("Swarm.ConsensusAlgorithm", "weighted"))
	assert.Equal(t, 4, m.CurrentVersion())

	v, err := m.FieldValue("Swarm.ConsensusAlgorithm")
	require.NoError(t, err)
	assert.Equal(t, "weighted", v)
}

func TestHotReloadManager_UpdateFieldRejected(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())

	tests := []struct {
		path  string
		value any
	}{
		{"Agent.Model", "gpt"},
		{"Swarm.MaxWorkers", float64(-1)},
		{"Swarm.QueenType", "emperor"},
		{"Swarm.ConsensusAlgorithm", 3},
		{"Fabric.ConsensusTimeout", "soon"},
		// 取值合法但整体校验失败
		{"Scheduler.MaxRetries", float64(7)},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			require.Error(t, m.UpdateField(tt.path, tt.value))
		})
	}
	assert.Equal(t, DefaultConfig(), m.Config())
	assert.Equal(t, 1, m.CurrentVersion())
}

func TestHotReloadManager_SensitiveFieldRedacted(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	require.NoError(t, m.UpdateField("Auth.JWTSecret", "s3cret"))

	log := m.ChangeLog(1)
	require.Len(t, log, 1)
	assert.Equal(t, redacted, log[0].NewValue)
	assert.True(t, log[0].RequiresRestart)

	view := m.SanitizedConfig()
	auth := view["auth"].(map[string]any)
	assert.Equal(t, redacted, auth["jwt_secret"])
}

func TestHotReloadManager_Rollback(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	require.Error(t, m.Rollback())

	require.NoError(t, m.UpdateField("Swarm.MaxWorkers", 3))
	require.NoError(t, m.UpdateField("Swarm.MaxWorkers", 2))

	require.NoError(t, m.Rollback())
	assert.Equal(t, 3, m.Config().Swarm.MaxWorkers)

	require.NoError(t, m.RollbackToVersion(1))
	assert.Equal(t, 8, m.Config().Swarm.MaxWorkers)
	assert.Error(t, m.RollbackToVersion(42))
}

func TestHotReloadManager_HistoryBounded(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), WithMaxHistorySize(3))
	for i := 1; i <= 5; i++ {
		require.NoError(t, m.UpdateField("Swarm.MaxWorkers", i))
	}
	h := m.History()
	require.Len(t, h, 3)
	assert.Equal(t, 6, h[2].Version)
}

func TestHotReloadManager_ReloadFromFile(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	require.Error(t, m.ReloadFromFile())

	path := writeYAML(t, "swarm:\n  max_workers: 3\n")
	m = NewHotReloadManager(DefaultConfig(), WithConfigPath(path))
	require.NoError(t, m.ReloadFromFile())
	assert.Equal(t, 3, m.Config().Swarm.MaxWorkers)

	require.NoError(t, os.WriteFile(path, []byte("swarm:\n  max_workers: 0\n"), 0o644))
	require.Error(t, m.ReloadFromFile())
	assert.Equal(t, 3, m.Config().Swarm.MaxWorkers)
}

func TestHotReloadManager_WatchesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarmflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("swarm:\n  max_workers: 8\n"), 0o644))

	m := NewHotReloadManager(DefaultConfig(), WithConfigPath(path))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop() })
	require.Error(t, m.Start(context.Background()))

	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte("swarm:\n  max_workers: 2\n"), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))

	require.Eventually(t, func() bool {
		return m.Config().Swarm.MaxWorkers == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHotReloadableFields(t *testing.T) {
	fields := HotReloadableFields()
	assert.Contains(t, fields, "Swarm.MaxWorkers")
	assert.True(t, IsHotReloadable("Log.Level"))
	assert.False(t, IsHotReloadable("Server.HTTPPort"))
	assert.False(t, IsHotReloadable("Missing.Field"))

	// 每个登记的路径都能在 Config 上解析
	m := NewHotReloadManager(DefaultConfig())
	for path := range fields {
		_, err := m.FieldValue(path)
		assert.NoError(t, err, path)
	}
}
