// Package pool 提供有界的 goroutine 池，用于异步执行任务而不阻塞调用方。
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Job 池中执行的工作单元
type Job func(ctx context.Context) error

// Config 池配置
type Config struct {
	MaxWorkers  int           `json:"max_workers" yaml:"max_workers"`
	QueueSize   int           `json:"queue_size" yaml:"queue_size"`
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  64,
		QueueSize:   1024,
		IdleTimeout: 60 * time.Second,
	}
}

// GoroutinePool 按需伸缩的 goroutine 池。空闲超时后多余的 goroutine 退出，至少保留一个。
type GoroutinePool struct {
	cfg    Config
	queue  chan queuedJob
	logger *zap.Logger

	workers atomic.Int32
	active  atomic.Int32

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	panicked  atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type queuedJob struct {
	ctx context.Context
	job Job
}

// NewGoroutinePool 创建 goroutine 池
func NewGoroutinePool(cfg Config, logger *zap.Logger) *GoroutinePool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoroutinePool{
		cfg:    cfg,
		queue:  make(chan queuedJob, cfg.QueueSize),
		logger: logger.With(zap.String("component", "goroutine_pool")),
	}
}

// Submit 提交任务后立即返回。队列已满且无法扩容时返回 ErrPoolFull。
func (p *GoroutinePool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	qj := queuedJob{ctx: ctx, job: job}

	select {
	case p.queue <- qj:
		p.ensureWorker()
		return nil
	default:
	}

	// 队列满，尝试扩容后再投递一次
	if p.trySpawn() {
		select {
		case p.queue <- qj:
			return nil
		default:
		}
	}
	p.rejected.Add(1)
	return ErrPoolFull
}

func (p *GoroutinePool) ensureWorker() {
	if int(p.workers.Load()) < p.cfg.MaxWorkers {
		p.trySpawn()
	}
}

func (p *GoroutinePool) trySpawn() bool {
	for {
		n := p.workers.Load()
		if int(n) >= p.cfg.MaxWorkers {
			return false
		}
		if p.workers.CompareAndSwap(n, n+1) {
			p.wg.Add(1)
			go p.loop()
			return true
		}
	}
}

func (p *GoroutinePool) loop() {
	defer p.wg.Done()
	defer p.workers.Add(-1)

	timer := time.NewTimer(p.cfg.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case qj, ok := <-p.queue:
			if !ok {
				return
			}
			p.active.Add(1)
			if err := p.run(qj); err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
			p.active.Add(-1)
			timer.Reset(p.cfg.IdleTimeout)

		case <-timer.C:
			if p.workers.Load() > 1 {
				return
			}
			timer.Reset(p.cfg.IdleTimeout)
		}
	}
}

func (p *GoroutinePool) run(qj queuedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.logger.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return qj.job(qj.ctx)
}

// Close 停止接收任务，等待已排队任务执行完毕或 ctx 结束
func (p *GoroutinePool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool drain: %w", ctx.Err())
	}
}

// Stats 池统计信息
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	Panicked  int64 `json:"panicked"`
}

// Stats 返回池统计信息
func (p *GoroutinePool) Stats() Stats {
	return Stats{
		Workers:   int(p.workers.Load()),
		Active:    int(p.active.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		Panicked:  p.panicked.Load(),
	}
}
