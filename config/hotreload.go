// 配置热重载管理器实现。
//
// 文件变更或 API 更新都会经过校验后整体替换当前配置，
// 回调失败时自动回滚到上一个版本。
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHistorySize = 10
	maxChangeLog       = 1000
	redacted           = "[REDACTED]"
)

// HotReloadManager 管理配置热重载
type HotReloadManager struct {
	mu sync.RWMutex

	config     *Config
	configPath string

	previous     *Config
	history      []ConfigSnapshot
	historySize  int
	validateFunc ValidateFunc

	watcher *FileWatcher

	changeCallbacks   []ChangeCallback
	reloadCallbacks   []ReloadCallback
	rollbackCallbacks []RollbackCallback

	changeLog []ConfigChange
	logger    *zap.Logger

	running bool
	cancel  context.CancelFunc
}

// ChangeCallback 单个字段变更时调用
type ChangeCallback func(change ConfigChange)

// ReloadCallback 整体配置替换后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// ValidateFunc 应用前的额外校验
type ValidateFunc func(newConfig *Config) error

// RollbackCallback 回滚后调用
type RollbackCallback func(event RollbackEvent)

// ConfigChange 一条字段变更记录
type ConfigChange struct {
	Timestamp time.Time `json:"timestamp"`
	// 来源: file, api, rollback
	Source          string `json:"source"`
	Path            string `json:"path"`
	OldValue        any    `json:"old_value,omitempty"`
	NewValue        any    `json:"new_value,omitempty"`
	RequiresRestart bool   `json:"requires_restart"`
	Applied         bool   `json:"applied"`
	Error           string `json:"error,omitempty"`
}

// ConfigSnapshot 历史中的一个配置版本
type ConfigSnapshot struct {
	Config    *Config   `json:"config"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   int       `json:"version"`
	Checksum  string    `json:"checksum"`
}

// RollbackEvent 回滚事件
type RollbackEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	Reason         string    `json:"reason"`
	FailedConfig   *Config   `json:"failed_config"`
	RestoredConfig *Config   `json:"restored_config"`
	Version        int       `json:"version"`
	Error          error     `json:"error,omitempty"`
}

// HotReloadableField 描述一个可在运行时修改的字段
type HotReloadableField struct {
	Path            string
	Description     string
	RequiresRestart bool
	Sensitive       bool
	// Validator 可选的取值校验
	Validator func(value any) error
}

// hotReloadableFields 定义哪些配置字段可以热重载
// 蜂群相关字段只影响之后创建的实例
var hotReloadableFields = map[string]HotReloadableField{
	"Log.Level": {
		Path:        "Log.Level",
		Description: "Log level (debug, info, warn, error)",
		Validator:   oneOf("debug", "info", "warn", "error"),
	},

	// 蜂群默认值
	"Swarm.MaxWorkers": {
		Path:        "Swarm.MaxWorkers",
		Description: "Default worker ceiling of new swarms",
		Validator:   positiveInt,
	},
	"Swarm.ConsensusAlgorithm": {
		Path:        "Swarm.ConsensusAlgorithm",
		Description: "Default consensus algorithm (majority, weighted, byzantine)",
		Validator:   oneOf("majority", "weighted", "byzantine"),
	},
	"Swarm.QueenType": {
		Path:        "Swarm.QueenType",
		Description: "Default queen type (strategic, tactical, adaptive)",
		Validator:   oneOf("strategic", "tactical", "adaptive"),
	},
	"Swarm.AutoScale": {
		Path:        "Swarm.AutoScale",
		Description: "Enable auto scaling for new swarms",
	},
	"Swarm.CheckpointInterval": {
		Path:        "Swarm.CheckpointInterval",
		Description: "Checkpoint interval of new swarms",
	},

	// 通信层与调度器
	"Fabric.ConsensusTimeout": {
		Path:        "Fabric.ConsensusTimeout",
		Description: "Consensus round timeout",
	},
	"Fabric.Quorum": {
		Path:        "Fabric.Quorum",
		Description: "Byzantine quorum fraction",
	},
	"Fabric.GossipFanout": {
		Path:        "Fabric.GossipFanout",
		Description: "Gossip fanout",
		Validator:   positiveInt,
	},
	"Scheduler.MaxRetries": {
		Path:        "Scheduler.MaxRetries",
		Description: "Task retry budget (0-2)",
	},
	"Scheduler.TaskTimeout": {
		Path:        "Scheduler.TaskTimeout",
		Description: "Per-attempt task timeout",
	},

	"Telemetry.SampleRate": {
		Path:        "Telemetry.SampleRate",
		Description: "Telemetry sample rate",
	},

	// 需要重启
	"Server.HTTPPort": {
		Path:            "Server.HTTPPort",
		Description:     "HTTP server port",
		RequiresRestart: true,
	},
	"Server.MetricsPort": {
		Path:            "Server.MetricsPort",
		Description:     "Metrics server port",
		RequiresRestart: true,
	},
	"Server.MaxActiveSwarms": {
		Path:            "Server.MaxActiveSwarms",
		Description:     "Concurrent swarm ceiling",
		RequiresRestart: true,
	},
	"Store.Type": {
		Path:            "Store.Type",
		Description:     "Knowledge store backend",
		RequiresRestart: true,
	},
	"Checkpoint.Type": {
		Path:            "Checkpoint.Type",
		Description:     "Checkpoint store backend",
		RequiresRestart: true,
	},
	"Database.Password": {
		Path:            "Database.Password",
		Description:     "Database password",
		RequiresRestart: true,
		Sensitive:       true,
	},
	"Redis.Addr": {
		Path:            "Redis.Addr",
		Description:     "Redis address",
		RequiresRestart: true,
	},
	"Redis.Password": {
		Path:            "Redis.Password",
		Description:     "Redis password",
		RequiresRestart: true,
		Sensitive:       true,
	},
	"Auth.JWTSecret": {
		Path:            "Auth.JWTSecret",
		Description:     "JWT signing secret",
		RequiresRestart: true,
		Sensitive:       true,
	},
}

func oneOf(allowed ...string) func(any) error {
	return func(v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return fmt.Errorf("%q is not one of %s", s, strings.Join(allowed, ", "))
	}
}

// positiveInt 接受 int 或 JSON 解码得到的 float64
func positiveInt(v any) error {
	switch n := v.(type) {
	case int:
		if n > 0 {
			return nil
		}
	case float64:
		if n > 0 && n == float64(int(n)) {
			return nil
		}
	default:
		return fmt.Errorf("expected number, got %T", v)
	}
	return fmt.Errorf("%v must be a positive integer", v)
}

// HotReloadOption 配置 HotReloadManager
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger 设置记录器
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithConfigPath 设置要监听的配置文件
func WithConfigPath(path string) HotReloadOption {
	return func(m *HotReloadManager) {
		m.configPath = path
	}
}

// WithMaxHistorySize 设置保留的历史版本数
func WithMaxHistorySize(size int) HotReloadOption {
	return func(m *HotReloadManager) {
		if size > 0 {
			m.historySize = size
		}
	}
}

// WithValidateFunc 设置应用前的额外校验
func WithValidateFunc(fn ValidateFunc) HotReloadOption {
	return func(m *HotReloadManager) {
		m.validateFunc = fn
	}
}

// NewHotReloadManager 创建热重载管理器，初始配置记为版本 1
func NewHotReloadManager(config *Config, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		config:      config,
		historySize: defaultHistorySize,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "config_reload"))
	m.pushHistory(config, "init")
	return m
}

func (m *HotReloadManager) pushHistory(config *Config, source string) {
	version := 1
	if n := len(m.history); n > 0 {
		version = m.history[n-1].Version + 1
	}
	m.history = append(m.history, ConfigSnapshot{
		Config:    cloneConfig(config),
		Timestamp: time.Now(),
		Source:    source,
		Version:   version,
		Checksum:  checksum(config),
	})
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}
}

// cloneConfig 通过 JSON 往返深拷贝
func cloneConfig(config *Config) *Config {
	data, err := json.Marshal(config)
	if err != nil {
		return config
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return config
	}
	return &out
}

func checksum(config *Config) string {
	data, err := json.Marshal(config)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Start 启动热重载；设置了配置文件时开始监听
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("hot reload manager already running")
	}

	ctx, m.cancel = context.WithCancel(ctx)
	if m.configPath != "" {
		watcher, err := NewFileWatcher([]string{m.configPath},
			WithWatcherLogger(m.logger),
			WithDebounceDelay(500*time.Millisecond))
		if err != nil {
			m.cancel()
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		watcher.OnChange(m.handleFileChange)
		if err := watcher.Start(ctx); err != nil {
			m.cancel()
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
		m.watcher = watcher
	}

	m.running = true
	m.logger.Info("hot reload manager started", zap.String("config_path", m.configPath))
	return nil
}

// Stop 停止热重载
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.cancel()
	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Error("failed to stop file watcher", zap.Error(err))
		}
	}
	m.running = false
	m.logger.Info("hot reload manager stopped")
	return nil
}

func (m *HotReloadManager) handleFileChange(event FileEvent) {
	m.logger.Info("configuration file changed",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))
	if event.Op != FileOpWrite && event.Op != FileOpCreate {
		return
	}
	if err := m.ReloadFromFile(); err != nil {
		m.logger.Error("failed to reload configuration", zap.Error(err))
	}
}

// ReloadFromFile 重新读取配置文件，校验失败时保留当前配置
func (m *HotReloadManager) ReloadFromFile() error {
	if m.configPath == "" {
		return fmt.Errorf("no config path set")
	}
	newConfig, err := NewLoader().WithConfigPath(m.configPath).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return m.ApplyConfig(newConfig, "file")
}

// ApplyConfig 整体替换配置。校验、替换与记录在同一把锁内完成，
// 回调在锁外执行，失败或 panic 时回滚。
func (m *HotReloadManager) ApplyConfig(newConfig *Config, source string) error {
	m.mu.Lock()
	oldConfig := m.config

	if m.validateFunc != nil {
		if err := m.validateFunc(newConfig); err != nil {
			m.appendChangeLog(ConfigChange{
				Timestamp: time.Now(),
				Source:    source,
				Path:      "(validation_hook)",
				Error:     err.Error(),
			})
			m.mu.Unlock()
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	now := time.Now()
	changes := diffConfigs(oldConfig, newConfig)
	requiresRestart := false
	for i := range changes {
		c := &changes[i]
		c.Source = source
		c.Timestamp = now
		c.Applied = true
		field, known := hotReloadableFields[c.Path]
		c.RequiresRestart = !known || field.RequiresRestart
		if known && field.Sensitive {
			c.OldValue, c.NewValue = redacted, redacted
		}
		requiresRestart = requiresRestart || c.RequiresRestart
		m.logChange(*c)
	}

	m.previous = cloneConfig(oldConfig)
	m.config = newConfig
	m.pushHistory(newConfig, source)
	m.appendChangeLog(changes...)

	changeCallbacks := append([]ChangeCallback(nil), m.changeCallbacks...)
	reloadCallbacks := append([]ReloadCallback(nil), m.reloadCallbacks...)
	m.mu.Unlock()

	if err := notifySafe(changeCallbacks, reloadCallbacks, oldConfig, newConfig, changes); err != nil {
		m.mu.Lock()
		if m.config == newConfig {
			m.rollbackLocked(oldConfig, fmt.Sprintf("callback error: %v", err), err)
		}
		m.mu.Unlock()
		return fmt.Errorf("config applied but callback failed: %w", err)
	}

	if requiresRestart {
		m.logger.Warn("some configuration changes require restart to take effect")
	}
	m.logger.Info("configuration reloaded",
		zap.String("source", source),
		zap.Int("changes", len(changes)),
		zap.Bool("requires_restart", requiresRestart))
	return nil
}

func (m *HotReloadManager) appendChangeLog(changes ...ConfigChange) {
	m.changeLog = append(m.changeLog, changes...)
	if len(m.changeLog) > maxChangeLog {
		m.changeLog = m.changeLog[len(m.changeLog)-maxChangeLog:]
	}
}

func notifySafe(changeCallbacks []ChangeCallback, reloadCallbacks []ReloadCallback, oldConfig, newConfig *Config, changes []ConfigChange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	for _, cb := range changeCallbacks {
		for _, c := range changes {
			cb(c)
		}
	}
	for _, cb := range reloadCallbacks {
		cb(oldConfig, newConfig)
	}
	return nil
}

// diffConfigs 按字段路径列出差异，如 Swarm.MaxWorkers
func diffConfigs(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	diffStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

func diffStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		o, n := oldVal.Field(i), newVal.Field(i)
		if o.Kind() == reflect.Struct {
			diffStructs(path, o, n, changes)
			continue
		}
		if !reflect.DeepEqual(o.Interface(), n.Interface()) {
			*changes = append(*changes, ConfigChange{Path: path, OldValue: o.Interface(), NewValue: n.Interface()})
		}
	}
}

func (m *HotReloadManager) logChange(change ConfigChange) {
	fields := []zap.Field{
		zap.String("path", change.Path),
		zap.String("source", change.Source),
		zap.Bool("requires_restart", change.RequiresRestart),
	}
	if field, known := hotReloadableFields[change.Path]; !known || !field.Sensitive {
		fields = append(fields, zap.Any("old_value", change.OldValue), zap.Any("new_value", change.NewValue))
	}
	m.logger.Info("configuration changed", fields...)
}

// OnChange 注册字段变更回调
func (m *HotReloadManager) OnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCallbacks = append(m.changeCallbacks, callback)
}

// OnReload 注册整体替换回调
func (m *HotReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCallbacks = append(m.reloadCallbacks, callback)
}

// OnRollback 注册回滚回调
func (m *HotReloadManager) OnRollback(callback RollbackCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbackCallbacks = append(m.rollbackCallbacks, callback)
}

// Rollback 回滚到上一个配置
func (m *HotReloadManager) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.previous == nil {
		return fmt.Errorf("no previous config available for rollback")
	}
	m.rollbackLocked(m.previous, "manual rollback", nil)
	return nil
}

// RollbackToVersion 回滚到历史中的指定版本
func (m *HotReloadManager) RollbackToVersion(version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snap := range m.history {
		if snap.Version == version {
			m.rollbackLocked(snap.Config, fmt.Sprintf("rollback to version %d", version), nil)
			return nil
		}
	}
	return fmt.Errorf("config version %d not found in history", version)
}

// rollbackLocked 调用方持有写锁
func (m *HotReloadManager) rollbackLocked(target *Config, reason string, cause error) {
	failed := m.config
	restored := cloneConfig(target)
	m.config = restored

	version := 0
	sum := checksum(target)
	for _, snap := range m.history {
		if snap.Checksum == sum {
			version = snap.Version
			break
		}
	}

	m.appendChangeLog(ConfigChange{
		Timestamp: time.Now(),
		Source:    "rollback",
		Path:      "(rollback)",
		Applied:   true,
		Error:     reason,
	})

	event := RollbackEvent{
		Timestamp:      time.Now(),
		Reason:         reason,
		FailedConfig:   failed,
		RestoredConfig: restored,
		Version:        version,
		Error:          cause,
	}
	for _, cb := range m.rollbackCallbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("rollback callback panicked", zap.Any("panic", r))
				}
			}()
			cb(event)
		}()
	}

	m.logger.Warn("configuration rolled back",
		zap.String("reason", reason),
		zap.Int("restored_version", version))
}

// History 返回保留的配置版本
func (m *HotReloadManager) History() []ConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ConfigSnapshot(nil), m.history...)
}

// CurrentVersion 返回当前版本号
func (m *HotReloadManager) CurrentVersion() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return 0
	}
	return m.history[len(m.history)-1].Version
}

// Config 返回当前配置的副本
func (m *HotReloadManager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneConfig(m.config)
}

// ChangeLog 返回最近 limit 条变更，limit<=0 返回全部
func (m *HotReloadManager) ChangeLog(limit int) []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.changeLog) {
		limit = len(m.changeLog)
	}
	return append([]ConfigChange(nil), m.changeLog[len(m.changeLog)-limit:]...)
}

// UpdateField 修改单个已登记字段。新值使整体配置失效时恢复旧值。
// 变更以新配置版本的形式记录，回调失败时回滚。
func (m *HotReloadManager) UpdateField(path string, value any) error {
	field, known := hotReloadableFields[path]
	if !known {
		return fmt.Errorf("unknown configuration field: %s", path)
	}
	if field.Validator != nil {
		if err := field.Validator(value); err != nil {
			return fmt.Errorf("validation failed for %s: %w", path, err)
		}
	}

	m.mu.Lock()
	oldConfig := m.config
	newConfig := cloneConfig(oldConfig)
	root := reflect.ValueOf(newConfig).Elem()
	oldValue, err := getNestedField(root, path)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if err := setNestedField(root, path, value); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to set value: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("invalid value for %s: %w", path, err)
	}
	newValue, _ := getNestedField(root, path)

	change := ConfigChange{
		Timestamp:       time.Now(),
		Source:          "api",
		Path:            path,
		OldValue:        oldValue,
		NewValue:        newValue,
		RequiresRestart: field.RequiresRestart,
		Applied:         true,
	}
	if field.Sensitive {
		change.OldValue, change.NewValue = redacted, redacted
	}
	m.logChange(change)
	m.previous = cloneConfig(oldConfig)
	m.config = newConfig
	m.pushHistory(newConfig, "api")
	m.appendChangeLog(change)
	changeCallbacks := append([]ChangeCallback(nil), m.changeCallbacks...)
	reloadCallbacks := append([]ReloadCallback(nil), m.reloadCallbacks...)
	m.mu.Unlock()

	if err := notifySafe(changeCallbacks, reloadCallbacks, oldConfig, newConfig, []ConfigChange{change}); err != nil {
		m.mu.Lock()
		if m.config == newConfig {
			m.rollbackLocked(oldConfig, fmt.Sprintf("callback error: %v", err), err)
		}
		m.mu.Unlock()
		return fmt.Errorf("field updated but callback failed, rolled back: %w", err)
	}
	return nil
}

// FieldValue 返回字段当前值
func (m *HotReloadManager) FieldValue(path string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return getNestedField(reflect.ValueOf(m.config).Elem(), path)
}

func getNestedField(v reflect.Value, path string) (any, error) {
	for _, part := range splitPath(path) {
		if v.Kind() != reflect.Struct {
			return nil, fmt.Errorf("not a struct at %s", part)
		}
		v = v.FieldByName(part)
		if !v.IsValid() {
			return nil, fmt.Errorf("field not found: %s", part)
		}
	}
	return v.Interface(), nil
}

func setNestedField(v reflect.Value, path string, value any) error {
	parts := splitPath(path)
	for i, part := range parts {
		if v.Kind() != reflect.Struct {
			return fmt.Errorf("not a struct at %s", part)
		}
		v = v.FieldByName(part)
		if !v.IsValid() {
			return fmt.Errorf("field not found: %s", part)
		}
		if i < len(parts)-1 {
			continue
		}
		if !v.CanSet() {
			return fmt.Errorf("cannot set field: %s", part)
		}
		if s, ok := value.(string); ok && v.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("invalid duration for %s: %w", part, err)
			}
			v.SetInt(int64(d))
			return nil
		}
		nv := reflect.ValueOf(value)
		if !nv.IsValid() || !nv.Type().ConvertibleTo(v.Type()) {
			return fmt.Errorf("type mismatch: expected %s, got %T", v.Type(), value)
		}
		v.Set(nv.Convert(v.Type()))
	}
	return nil
}

func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(c rune) bool { return c == '.' })
}

// HotReloadableFields 返回已登记字段的副本
func HotReloadableFields() map[string]HotReloadableField {
	out := make(map[string]HotReloadableField, len(hotReloadableFields))
	for k, v := range hotReloadableFields {
		out[k] = v
	}
	return out
}

// IsHotReloadable 字段已登记且无需重启
func IsHotReloadable(path string) bool {
	field, known := hotReloadableFields[path]
	return known && !field.RequiresRestart
}

// SanitizedConfig 返回脱敏后的配置视图
func (m *HotReloadManager) SanitizedConfig() map[string]any {
	m.mu.RLock()
	data, err := json.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	redactSensitive(out)
	return out
}

var sensitiveKeys = []string{"password", "api_key", "secret", "token", "credential"}

func redactSensitive(data map[string]any) {
	for key, value := range data {
		lower := strings.ToLower(key)
		for _, k := range sensitiveKeys {
			if !strings.Contains(lower, k) {
				continue
			}
			switch v := value.(type) {
			case string:
				if v != "" {
					data[key] = redacted
				}
			case []any:
				if len(v) > 0 {
					data[key] = redacted
				}
			}
			break
		}
		if nested, ok := value.(map[string]any); ok {
			redactSensitive(nested)
		}
	}
}
