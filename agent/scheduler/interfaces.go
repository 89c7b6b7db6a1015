package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BaSui01/swarmflow/agent/fabric"
)

// TaskRunner 执行任务。返回的错误按失败策略分类。
type TaskRunner interface {
	Run(ctx context.Context, exec Execution) (json.RawMessage, error)
}

// TaskRunnerFunc 函数适配器
type TaskRunnerFunc func(ctx context.Context, exec Execution) (json.RawMessage, error)

// Run 实现 TaskRunner
func (f TaskRunnerFunc) Run(ctx context.Context, exec Execution) (json.RawMessage, error) {
	return f(ctx, exec)
}

// Provisioner 开通工作者（注册到通信层、启动参与者循环等）。返回错误时该工作者不会加入池。
type Provisioner interface {
	Provision(ctx context.Context, w Worker) error
}

// ProvisionerFunc 函数适配器
type ProvisionerFunc func(ctx context.Context, w Worker) error

// Provision 实现 Provisioner
func (f ProvisionerFunc) Provision(ctx context.Context, w Worker) error { return f(ctx, w) }

// Provisioners 依次调用多个 Provisioner，遇错即停
type Provisioners []Provisioner

// Provision 实现 Provisioner
func (ps Provisioners) Provision(ctx context.Context, w Worker) error {
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.Provision(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// Announcer 通过通信层直连通知工作者，*fabric.Fabric 满足该接口
type Announcer interface {
	Send(ctx context.Context, from, to string, msgType fabric.MessageType, payload any) error
}

// MetricsRecorder 调度指标，internal/metrics.SwarmRecorder 满足该接口
type MetricsRecorder interface {
	RecordTask(capability, status string, d time.Duration)
	RecordTaskRetry(capability string)
	RecordSpawnBatch(count int, d time.Duration)
	SetWorkers(idle, busy, offline int)
	RecordRoutingCache(hit bool)
}

type nopMetrics struct{}

func (nopMetrics) RecordTask(string, string, time.Duration) {}
func (nopMetrics) RecordTaskRetry(string)                   {}
func (nopMetrics) RecordSpawnBatch(int, time.Duration)      {}
func (nopMetrics) SetWorkers(int, int, int)                 {}
func (nopMetrics) RecordRoutingCache(bool)                  {}
