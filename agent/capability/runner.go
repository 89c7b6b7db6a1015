package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent/scheduler"
	"github.com/BaSui01/swarmflow/types"
)

// 约定的处理器名
const (
	// TaskPrefix 按能力类型分派：task.<capability>
	TaskPrefix = "task."
	// TaskExecute 没有能力专属处理器时的兜底
	TaskExecute = "task.execute"
	// WorkerSpawn 注册后在开通工作者时调用
	WorkerSpawn = "worker.spawn"
)

// GatewayRunner 通过网关执行调度器任务，同时实现 scheduler.TaskRunner 与 scheduler.Provisioner
type GatewayRunner struct {
	gateway Gateway
	logger  *zap.Logger
}

var (
	_ scheduler.TaskRunner  = (*GatewayRunner)(nil)
	_ scheduler.Provisioner = (*GatewayRunner)(nil)
)

// NewGatewayRunner 创建网关执行器
func NewGatewayRunner(g Gateway, logger *zap.Logger) *GatewayRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayRunner{gateway: g, logger: logger.With(zap.String("component", "gateway_runner"))}
}

// HandlerFor 返回执行该能力类型任务的处理器名，均未注册时 ok=false
func (r *GatewayRunner) HandlerFor(c types.CapabilityType) (string, bool) {
	if name := TaskPrefix + string(c); r.gateway.Has(name) {
		return name, true
	}
	if r.gateway.Has(TaskExecute) {
		return TaskExecute, true
	}
	return "", false
}

// Run 实现 scheduler.TaskRunner。处理器错误原样返回，由调度器判定是否可恢复。
func (r *GatewayRunner) Run(ctx context.Context, exec scheduler.Execution) (json.RawMessage, error) {
	name, ok := r.HandlerFor(exec.Capability)
	if !ok {
		return nil, types.NewTerminalTaskError("no handler for capability " + string(exec.Capability)).
			WithCause(fmt.Errorf("%w: %s%s", ErrUnknownCapability, TaskPrefix, exec.Capability))
	}
	r.logger.Debug("running task",
		zap.String("task_id", exec.TaskID),
		zap.String("worker_id", exec.WorkerID),
		zap.String("handler", name),
		zap.Int("attempt", exec.Attempt))
	return r.gateway.Invoke(ctx, name, exec)
}

// Provision 实现 scheduler.Provisioner。未注册 worker.spawn 时直接放行。
func (r *GatewayRunner) Provision(ctx context.Context, w scheduler.Worker) error {
	if !r.gateway.Has(WorkerSpawn) {
		return nil
	}
	if _, err := r.gateway.Invoke(ctx, WorkerSpawn, w); err != nil {
		return fmt.Errorf("provision worker %s: %w", w.ID, err)
	}
	return nil
}

// ====== 内置处理器 ======

// TaskReport 内置处理器的输出
type TaskReport struct {
	TaskID     string               `json:"task_id"`
	WorkerID   string               `json:"worker_id"`
	Capability types.CapabilityType `json:"capability"`
	Attempt    int                  `json:"attempt"`
	Summary    string               `json:"summary"`
	FinishedAt time.Time            `json:"finished_at"`
}

// RegisterBuiltins 注册 task.execute：按复杂度等待 latency 的倍数后返回执行报告。
// 用于演示与本地运行，latency 为 0 时立即返回。
func RegisterBuiltins(g *LocalGateway, latency time.Duration) error {
	return g.Register(TaskExecute, func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		var exec scheduler.Execution
		if err := json.Unmarshal(params, &exec); err != nil {
			return nil, fmt.Errorf("decode execution: %w", err)
		}
		if wait := latency * complexityFactor(exec.Complexity); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return json.Marshal(TaskReport{
			TaskID:     exec.TaskID,
			WorkerID:   exec.WorkerID,
			Capability: exec.Capability,
			Attempt:    exec.Attempt,
			Summary:    fmt.Sprintf("%s finished: %s", exec.Capability, exec.Description),
			FinishedAt: time.Now(),
		})
	})
}

func complexityFactor(c scheduler.TaskComplexity) time.Duration {
	switch c {
	case scheduler.ComplexityHigh:
		return 3
	case scheduler.ComplexityMedium:
		return 2
	default:
		return 1
	}
}
