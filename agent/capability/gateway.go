package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/swarmflow/types"
)

// ErrUnknownCapability 未注册的处理器
var ErrUnknownCapability = errors.New("unknown capability")

// Handler 能力处理函数
type Handler func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Call 批量调用中的一项
type Call struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Params any    `json:"params,omitempty"`
}

// Result 单次调用结果
type Result struct {
	CallID   string          `json:"call_id"`
	Name     string          `json:"name"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
	Err      error           `json:"-"`
}

// Gateway 能力调用网关
type Gateway interface {
	Invoke(ctx context.Context, name string, params any) (json.RawMessage, error)
	InvokeBatch(ctx context.Context, calls []Call) []Result
	Has(name string) bool
}

// Config 网关配置
type Config struct {
	// RateLimit 每秒允许的调用数，0 表示不限流
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst     int     `json:"burst" yaml:"burst"`
	// CallTimeout 单次调用超时
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`
	// BatchConcurrency InvokeBatch 的最大并发
	BatchConcurrency int `json:"batch_concurrency" yaml:"batch_concurrency"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		RateLimit:        50,
		Burst:            10,
		CallTimeout:      30 * time.Second,
		BatchConcurrency: 8,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	var errs []error
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	if c.RateLimit > 0 && c.Burst <= 0 {
		errs = append(errs, errors.New("burst must be positive when rate_limit is set"))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, errors.New("call_timeout must be positive"))
	}
	if c.BatchConcurrency <= 0 {
		errs = append(errs, errors.New("batch_concurrency must be positive"))
	}
	return errors.Join(errs...)
}

// ====== 实现：LocalGateway ======

// LocalGateway 进程内能力注册表
type LocalGateway struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLocalGateway 创建进程内网关
func NewLocalGateway(cfg Config, logger *zap.Logger) (*LocalGateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &LocalGateway{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "capability_gateway")),
		handlers: make(map[string]Handler),
	}
	if cfg.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	return g, nil
}

// Register 注册处理器，同名重复注册返回错误
func (g *LocalGateway) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return errors.New("capability name and handler are required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.handlers[name]; exists {
		return fmt.Errorf("capability %s already registered", name)
	}
	g.handlers[name] = h
	g.logger.Debug("capability registered", zap.String("name", name))
	return nil
}

// Unregister 移除处理器
func (g *LocalGateway) Unregister(name string) {
	g.mu.Lock()
	delete(g.handlers, name)
	g.mu.Unlock()
}

// Has 是否注册了 name
func (g *LocalGateway) Has(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.handlers[name]
	return ok
}

// Names 已注册的处理器名（排序）
func (g *LocalGateway) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.handlers))
	for n := range g.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke 调用处理器。限流等待受 ctx 约束，执行受 CallTimeout 约束。
func (g *LocalGateway) Invoke(ctx context.Context, name string, params any) (json.RawMessage, error) {
	g.mu.RLock()
	h, ok := g.handlers[name]
	g.mu.RUnlock()
	if !ok {
		return nil, types.NewNotFoundError("capability not registered: " + name).
			WithCause(fmt.Errorf("%w: %s", ErrUnknownCapability, name))
	}

	raw, err := encodeParams(params)
	if err != nil {
		return nil, types.NewInvalidRequestError("invalid capability params").WithCause(err)
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("capability %s rate limit wait: %w", name, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	out, err := h(callCtx, raw)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("capability %s timeout after %s: %w", name, g.cfg.CallTimeout, err)
		}
		return nil, fmt.Errorf("capability %s: %w", name, err)
	}
	return out, nil
}

// InvokeBatch 并发执行一批调用，结果顺序与 calls 一致。单个失败不影响其他调用。
func (g *LocalGateway) InvokeBatch(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.BatchConcurrency)

	for i, call := range calls {
		eg.Go(func() error {
			start := time.Now()
			out, err := g.Invoke(egCtx, call.Name, call.Params)
			results[i] = Result{
				CallID:   call.ID,
				Name:     call.Name,
				Output:   out,
				Duration: time.Since(start),
				Err:      err,
			}
			if err != nil {
				results[i].Error = err.Error()
			}
			// 不返回错误，避免 errgroup 取消其余调用
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

func encodeParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("params are not valid JSON")
		}
		return p, nil
	default:
		return json.Marshal(p)
	}
}
