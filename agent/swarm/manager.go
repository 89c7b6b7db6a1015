package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/types"
)

// ErrManagerClosed 管理器已关闭
var ErrManagerClosed = errors.New("swarm manager is closed")

// Manager 进程内的蜂群实例注册表
type Manager struct {
	deps      Deps
	logger    *zap.Logger
	maxActive int

	mu       sync.RWMutex
	defaults Config
	swarms   map[string]*Swarm
	order    []string
	closed   bool
	hooks    []func(*Swarm)
	wg       sync.WaitGroup
}

// NewManager 创建管理器。maxActive 限制同时运行的实例数，0 表示不限制。
func NewManager(defaults Config, deps Deps, maxActive int, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		deps:      deps,
		logger:    logger.With(zap.String("component", "swarm_manager")),
		maxActive: maxActive,
		defaults:  defaults,
		swarms:    make(map[string]*Swarm),
	}
}

// Defaults 返回新实例使用的默认配置
func (m *Manager) Defaults() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaults
}

// SetDefaults 替换默认配置，只影响之后创建的实例
func (m *Manager) SetDefaults(cfg Config) {
	m.mu.Lock()
	m.defaults = cfg
	m.mu.Unlock()
	m.logger.Info("swarm defaults updated",
		zap.Int("max_workers", cfg.MaxWorkers),
		zap.String("consensus_algorithm", string(cfg.ConsensusAlgorithm)),
		zap.String("queen_type", string(cfg.QueenType)))
}

// OnStart 注册新实例开始运行前的回调，用于挂接事件观察者。
// 回调在持有管理器锁时执行，不得再调用 Manager 的方法。
func (m *Manager) OnStart(fn func(*Swarm)) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// Start 创建实例并在后台运行。调用方通过 Get/Status/Events 观察进度。
func (m *Manager) Start(cfg Config) (*Swarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.maxActive > 0 && m.activeLocked() >= m.maxActive {
		return nil, types.NewCapacityExhaustedError(fmt.Sprintf("%d swarms already running", m.maxActive))
	}

	s, err := New(cfg, m.deps, m.logger)
	if err != nil {
		return nil, err
	}
	m.swarms[s.ID()] = s
	m.order = append(m.order, s.ID())
	for _, fn := range m.hooks {
		fn(s)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		// 实例生命周期独立于创建请求
		if err := s.Run(s.ctx); err != nil {
			m.logger.Warn("swarm run ended with error", zap.String("swarm_id", s.ID()), zap.Error(err))
		}
	}()
	return s, nil
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, s := range m.swarms {
		select {
		case <-s.Done():
		default:
			n++
		}
	}
	return n
}

// Get 按 ID 查找实例
func (m *Manager) Get(id string) (*Swarm, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.swarms[id]
	if !ok {
		return nil, types.NewNotFoundError("swarm not found: " + id)
	}
	return s, nil
}

// List 按创建顺序返回全部实例的状态
func (m *Manager) List() []Status {
	m.mu.RLock()
	list := make([]*Swarm, 0, len(m.order))
	for _, id := range m.order {
		list = append(list, m.swarms[id])
	}
	m.mu.RUnlock()

	out := make([]Status, len(list))
	for i, s := range list {
		out[i] = s.Status()
	}
	return out
}

// Stop 停止并释放一个实例，实例记录仍保留以便查询
func (m *Manager) Stop(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Close(ctx)
}

// Shutdown 停止全部实例并等待其运行结束
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	list := make([]*Swarm, 0, len(m.swarms))
	for _, s := range m.swarms {
		list = append(list, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range list {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close swarm %s: %w", s.ID(), err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
