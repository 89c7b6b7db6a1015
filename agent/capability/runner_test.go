package capability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/swarmflow/agent/scheduler"
	"github.com/BaSui01/swarmflow/types"
)

func TestGatewayRunner_PrefersCapabilityHandler(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.Register("task.coder", func(_ context.Context, p json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"coder"`), nil
	}))
	require.NoError(t, RegisterBuiltins(g, 0))
	r := NewGatewayRunner(g, nil)

	name, ok := r.HandlerFor(types.CapabilityCoder)
	require.True(t, ok)
	assert.Equal(t, "task.coder", name)
	name, _ = r.HandlerFor(types.CapabilityTester)
	assert.Equal(t, TaskExecute, name)

	out, err := r.Run(context.Background(), scheduler.Execution{TaskID: "t1", WorkerID: "coder-1", Capability: types.CapabilityCoder})
	require.NoError(t, err)
	assert.Equal(t, `"coder"`, string(out))
}

func TestGatewayRunner_Builtin(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, RegisterBuiltins(g, 0))
	r := NewGatewayRunner(g, nil)

	out, err := r.Run(context.Background(), scheduler.Execution{
		TaskID:      "t1",
		WorkerID:    "tester-3",
		Capability:  types.CapabilityTester,
		Description: "verify the totals",
		Attempt:     2,
	})
	require.NoError(t, err)

	var rep TaskReport
	require.NoError(t, json.Unmarshal(out, &rep))
	assert.Equal(t, "t1", rep.TaskID)
	assert.Equal(t, "tester-3", rep.WorkerID)
	assert.Equal(t, 2, rep.Attempt)
	assert.Equal(t, "tester finished: verify the totals", rep.Summary)
}

func TestGatewayRunner_BuiltinHonorsContext(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, RegisterBuiltins(g, time.Hour))
	r := NewGatewayRunner(g, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Run(ctx, scheduler.Execution{TaskID: "t1", Capability: types.CapabilityCoder, Complexity: scheduler.ComplexityHigh})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGatewayRunner_NoHandlerIsTerminal(t *testing.T) {
	r := NewGatewayRunner(newTestGateway(t), nil)

	_, err := r.Run(context.Background(), scheduler.Execution{TaskID: "t1", Capability: types.CapabilityCoder})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrTerminalTask))
	assert.ErrorIs(t, err, ErrUnknownCapability)
	assert.False(t, scheduler.IsRecoverable(err))
}

func TestGatewayRunner_Provision(t *testing.T) {
	g := newTestGateway(t)
	r := NewGatewayRunner(g, nil)
	w := scheduler.Worker{ID: "coder-1", Capability: types.CapabilityCoder}

	// 未注册 worker.spawn 时放行
	require.NoError(t, r.Provision(context.Background(), w))

	var got scheduler.Worker
	require.NoError(t, g.Register(WorkerSpawn, func(_ context.Context, p json.RawMessage) (json.RawMessage, error) {
		if err := json.Unmarshal(p, &got); err != nil {
			return nil, err
		}
		if got.Capability == types.CapabilityTester {
			return nil, errors.New("quota exceeded")
		}
		return nil, nil
	}))
	require.NoError(t, r.Provision(context.Background(), w))
	assert.Equal(t, "coder-1", got.ID)

	err := r.Provision(context.Background(), scheduler.Worker{ID: "tester-2", Capability: types.CapabilityTester})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tester-2")
}

func TestGatewayRunner_DrivesScheduler(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, RegisterBuiltins(g, 0))
	r := NewGatewayRunner(g, nil)

	s, err := scheduler.New(scheduler.DefaultConfig(), r, nil, scheduler.WithProvisioner(r))
	require.NoError(t, err)
	defer s.Close(context.Background())

	_, err = s.SpawnWorkers(context.Background(), []types.CapabilityType{types.CapabilityCoder})
	require.NoError(t, err)
	task, err := s.CreateTask(context.Background(), "implement the parser", 5, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitForTasks(ctx, []string{task.ID}))

	done, _ := s.Task(task.ID)
	assert.Equal(t, scheduler.TaskCompleted, done.Status)
	var rep TaskReport
	require.NoError(t, json.Unmarshal(done.Result, &rep))
	assert.Equal(t, "coder-1", rep.WorkerID)
}
