package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent/capability"
	"github.com/BaSui01/swarmflow/agent/events"
	"github.com/BaSui01/swarmflow/agent/fabric"
	"github.com/BaSui01/swarmflow/agent/persistence"
	"github.com/BaSui01/swarmflow/agent/queen"
	"github.com/BaSui01/swarmflow/agent/scheduler"
	"github.com/BaSui01/swarmflow/types"
)

const checkoutObjective = "optimize the checkout API and add tests"

// fastConfig 缩短所有超时，便于在测试中跑完整个流程
func fastConfig(objective string) Config {
	cfg := DefaultConfig()
	cfg.Objective = objective
	cfg.Seed = 7
	cfg.CheckpointInterval = 0
	cfg.Fabric.AckTimeout = 500 * time.Millisecond
	cfg.Fabric.ConsensusTimeout = 2 * time.Second
	cfg.Fabric.HeartbeatInterval = 20 * time.Millisecond
	cfg.Fabric.OfflineAfter = 5 * time.Second
	cfg.Scheduler.RetryDelay = 10 * time.Millisecond
	cfg.Scheduler.TaskTimeout = 2 * time.Second
	return cfg
}

func newTestSwarm(t *testing.T, cfg Config, deps Deps) *Swarm {
	t.Helper()
	s, err := New(cfg, deps, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func runSwarm(t *testing.T, s *Swarm) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return s.Run(ctx)
}

func eventTypes(s *Swarm) []events.Type {
	var out []events.Type
	for _, ev := range s.Events().History() {
		out = append(out, ev.Type)
	}
	return out
}

// waitEvent 事件总线异步分发，等待 want 出现在历史中
func waitEvent(t *testing.T, s *Swarm, want events.Type) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, typ := range eventTypes(s) {
			if typ == want {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "event %s not published", want)
}

// ====== 工作者投票 ======

func TestWorkerVote(t *testing.T) {
	options := []string{
		"simple direct approach",
		"scalable modular approach",
		"iterative incremental approach",
	}
	tests := []struct {
		capability types.CapabilityType
		want       string
	}{
		{types.CapabilityCoder, "simple direct approach"},
		{types.CapabilityArchitect, "scalable modular approach"},
		{types.CapabilityResearcher, "iterative incremental approach"},
		{types.CapabilityTester, "iterative incremental approach"},
		{types.CapabilityOptimizer, "simple direct approach"},
	}
	for _, tt := range tests {
		t.Run(string(tt.capability), func(t *testing.T) {
			assert.Equal(t, tt.want, WorkerVote(tt.capability, options))
		})
	}
}

func TestWorkerVote_KeywordHitsAndTies(t *testing.T) {
	// 能力关键词同样计分
	assert.Equal(t, "verify the build", WorkerVote(types.CapabilityTester, []string{"ship it", "verify the build"}))
	// 都不命中时取第一个
	assert.Equal(t, "alpha", WorkerVote(types.CapabilityCoder, []string{"alpha", "beta"}))
	assert.Empty(t, WorkerVote(types.CapabilityCoder, nil))
}

// ====== 健康度 ======

func TestAssessHealth(t *testing.T) {
	tests := []struct {
		name string
		st   Status
		want Health
	}{
		{"clean run", Status{State: StateRunning}, HealthProgressing},
		{
			"pending without workers",
			Status{State: StateRunning, Tasks: scheduler.TaskStats{Pending: 2}, Workers: scheduler.WorkerStats{Offline: 3}},
			HealthStuck,
		},
		{
			"pending with idle workers",
			Status{State: StateRunning, Tasks: scheduler.TaskStats{Pending: 2}, Workers: scheduler.WorkerStats{Idle: 1}},
			HealthProgressing,
		},
		{
			"terminal swarm is never stuck",
			Status{State: StateCompleted, Tasks: scheduler.TaskStats{Pending: 1}},
			HealthProgressing,
		},
		{"failed tasks", Status{State: StateRunning, Tasks: scheduler.TaskStats{Failed: 1}}, HealthDegraded},
		{"no quorum", Status{State: StateRunning, NoQuorumDecisions: []string{"approach"}}, HealthDegraded},
		{"offline participant", Status{State: StateRunning, OfflineParticipants: []string{"coder-1"}}, HealthDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := tt.st
			assert.Equal(t, tt.want, assessHealth(&st))
		})
	}
}

// ====== 配置 ======

func TestConfig_Validate(t *testing.T) {
	valid := fastConfig(checkoutObjective)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty objective", func(c *Config) { c.Objective = "  " }},
		{"no workers", func(c *Config) { c.MaxWorkers = 0 }},
		{"unknown algorithm", func(c *Config) { c.ConsensusAlgorithm = "raft" }},
		{"unknown queen", func(c *Config) { c.QueenType = "royal" }},
		{"auto-scale without interval", func(c *Config) { c.AutoScale, c.AutoScaleInterval = true, 0 }},
		{"negative checkpoint interval", func(c *Config) { c.CheckpointInterval = -time.Second }},
		{"bad fabric", func(c *Config) { c.Fabric.Quorum = 2 }},
		{"bad scheduler", func(c *Config) { c.Scheduler.MaxRetries = 5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{}, Deps{}, nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{Objective: "x", MaxWorkers: 3, Seed: 42}.withDefaults()
	assert.Equal(t, fabric.AlgorithmMajority, cfg.ConsensusAlgorithm)
	assert.Equal(t, queen.TypeStrategic, cfg.QueenType)
	assert.Equal(t, 3, cfg.Scheduler.MaxWorkers)
	assert.Equal(t, uint64(42), cfg.Fabric.Seed)
}

func TestSpawnList(t *testing.T) {
	caps := []types.CapabilityType{types.CapabilityResearcher, types.CapabilityCoder}
	assert.Equal(t, []types.CapabilityType{
		types.CapabilityResearcher, types.CapabilityCoder, types.CapabilityResearcher,
	}, spawnList(caps, 3))
	assert.Equal(t, []types.CapabilityType{types.CapabilityResearcher}, spawnList(nil, 1))
}

// ====== 端到端 ======

func TestSwarm_RunCheckoutObjective(t *testing.T) {
	s := newTestSwarm(t, fastConfig(checkoutObjective), Deps{})

	require.NoError(t, runSwarm(t, s))

	plan := s.Plan()
	require.NotNil(t, plan)
	assert.Equal(t, queen.StrategyConsensusDriven, plan.Strategy)

	st := s.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, HealthProgressing, st.Health)
	assert.Equal(t, plan.TaskCount(), st.Tasks.Completed)
	assert.Zero(t, st.Tasks.Failed)
	assert.Equal(t, len(plan.Phases), st.PhasesDone)
	assert.Equal(t, 4, st.Workers.Total)
	assert.Empty(t, st.AbandonedPhases)
	assert.False(t, st.FinishedAt.IsZero())

	// researcher/tester 与 architect/queen 各两票，平票按选项顺序
	require.Len(t, st.Decisions, 1)
	d := st.Decisions[0]
	assert.Equal(t, "solution approach", d.Topic)
	assert.True(t, d.Reached)
	assert.Equal(t, "scalable modular approach", d.Outcome)
	assert.Equal(t, "scalable modular approach", d.QueenVote)
	assert.InDelta(t, 0.4, d.Confidence, 1e-9)

	// 工作者收到了提议、简报与进度
	require.Eventually(t, func() bool {
		m := s.Status().Messages
		return m[fabric.ProtocolConsensus] > 0 && m[fabric.ProtocolMulticast] > 0 && m[fabric.ProtocolGossip] > 0
	}, 2*time.Second, 5*time.Millisecond)

	for _, task := range s.Scheduler().Tasks() {
		assert.Equal(t, s.ID(), task.Metadata["swarm_id"])
		if task.Metadata["phase"] == "approach" {
			assert.Equal(t, "scalable modular approach", task.Metadata["decision"])
		}
	}

	waitEvent(t, s, events.SwarmCompleted)
	got := eventTypes(s)
	assert.Contains(t, got, events.SwarmStarted)
	assert.Contains(t, got, events.PlanCreated)
	assert.Contains(t, got, events.DecisionMade)
	assert.Contains(t, got, events.PhaseCompleted)
	assert.Equal(t, events.SwarmCompleted, got[len(got)-1])

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed after Run")
	}
}

func TestSwarm_RunTwiceRejected(t *testing.T) {
	s := newTestSwarm(t, fastConfig(checkoutObjective), Deps{})
	require.NoError(t, runSwarm(t, s))

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidTransition))
}

func TestSwarm_WeightedAlgorithmFavorsQueen(t *testing.T) {
	cfg := fastConfig(checkoutObjective)
	cfg.ConsensusAlgorithm = fabric.AlgorithmWeighted
	s := newTestSwarm(t, cfg, Deps{})

	require.NoError(t, runSwarm(t, s))

	decisions := s.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, "scalable modular approach", decisions[0].Outcome)
	// architect 一票加 queen 的 1+2 票，分母为 5 名参与者加 2
	assert.InDelta(t, 4.0/7.0, decisions[0].Confidence, 1e-9)
}

func TestSwarm_ByzantineNoQuorumAbandonsPhase(t *testing.T) {
	cfg := fastConfig(checkoutObjective)
	cfg.ConsensusAlgorithm = fabric.AlgorithmByzantine
	s := newTestSwarm(t, cfg, Deps{})

	require.NoError(t, runSwarm(t, s))

	st := s.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, HealthDegraded, st.Health)
	assert.Equal(t, []string{"approach"}, st.AbandonedPhases)
	assert.Equal(t, []string{"solution approach"}, st.NoQuorumDecisions)
	require.Len(t, st.Decisions, 1)
	assert.False(t, st.Decisions[0].Reached)
	assert.Equal(t, fabric.NoConsensus, st.Decisions[0].Outcome)

	// 放弃的阶段不创建任务，其余阶段照常完成
	assert.Equal(t, s.Plan().TaskCount()-1, st.Tasks.Completed)
	for _, task := range s.Scheduler().Tasks() {
		assert.NotEqual(t, "approach", task.Metadata["phase"])
	}
	waitEvent(t, s, events.SwarmCompleted)
	assert.Contains(t, eventTypes(s), events.PhaseAbandoned)
	assert.Contains(t, eventTypes(s), events.DecisionFailed)
}

func TestSwarm_FailedTasksDegradeHealth(t *testing.T) {
	gw, err := capability.NewLocalGateway(capability.DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, capability.RegisterBuiltins(gw, 0))
	require.NoError(t, gw.Register(capability.TaskPrefix+string(types.CapabilityTester),
		func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("bad request: fixture missing")
		}))

	s := newTestSwarm(t, fastConfig(checkoutObjective), Deps{Gateway: gw})
	require.NoError(t, runSwarm(t, s))

	st := s.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, HealthDegraded, st.Health)
	assert.NotEmpty(t, st.FailedTasks)
	assert.Equal(t, len(st.FailedTasks), st.Tasks.Failed)
}

func TestSwarm_ContextCancelFails(t *testing.T) {
	gw, err := capability.NewLocalGateway(capability.DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, capability.RegisterBuiltins(gw, time.Hour))

	s := newTestSwarm(t, fastConfig(checkoutObjective), Deps{Gateway: gw})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Status().Tasks.InProgress > 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	st := s.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.NotEmpty(t, st.Error)
	waitEvent(t, s, events.SwarmFailed)
}

// ====== 离线与检查点 ======

func TestSwarm_SilencedWorkerGoesOffline(t *testing.T) {
	cfg := fastConfig(checkoutObjective)
	cfg.Fabric.OfflineAfter = 100 * time.Millisecond
	s := newTestSwarm(t, cfg, Deps{})
	require.NoError(t, runSwarm(t, s))

	workers := s.Scheduler().Workers()
	require.NotEmpty(t, workers)
	target := workers[0].ID
	s.Silence(target)

	require.Eventually(t, func() bool {
		w, ok := s.Scheduler().Worker(target)
		return ok && w.Status == scheduler.WorkerOffline
	}, 5*time.Second, 10*time.Millisecond)

	st := s.Status()
	assert.Equal(t, []string{target}, st.OfflineParticipants)
	assert.Equal(t, HealthDegraded, st.Health)
	assert.NotContains(t, s.activeWorkerIDs(), target)
	// queen 与其余工作者仍在发送心跳
	assert.Equal(t, len(workers), s.Fabric().OnlineCount())
}

func TestSwarm_RejoinRevivesWorker(t *testing.T) {
	cfg := fastConfig(checkoutObjective)
	cfg.Fabric.OfflineAfter = 100 * time.Millisecond
	s := newTestSwarm(t, cfg, Deps{})
	require.NoError(t, runSwarm(t, s))

	workers := s.Scheduler().Workers()
	require.NotEmpty(t, workers)
	target := workers[0].ID
	s.Silence(target)
	require.Eventually(t, func() bool {
		w, _ := s.Scheduler().Worker(target)
		return w.Status == scheduler.WorkerOffline
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Rejoin(target))
	w, _ := s.Scheduler().Worker(target)
	assert.Equal(t, scheduler.WorkerIdle, w.Status)
	assert.Contains(t, s.activeWorkerIDs(), target)
	assert.Empty(t, s.Status().OfflineParticipants)

	// 恢复心跳后不会再次离线
	time.Sleep(3 * cfg.Fabric.OfflineAfter)
	w, _ = s.Scheduler().Worker(target)
	assert.Equal(t, scheduler.WorkerIdle, w.Status)

	err := s.Rejoin("ghost")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestSwarm_CheckpointToFileStore(t *testing.T) {
	store, err := persistence.NewFileCheckpointStore(t.TempDir())
	require.NoError(t, err)

	s := newTestSwarm(t, fastConfig(checkoutObjective), Deps{Checkpoints: store})
	require.NoError(t, runSwarm(t, s))

	cp, err := store.LoadCheckpoint(context.Background(), s.ID())
	require.NoError(t, err)
	assert.Equal(t, s.ID(), cp.SwarmID)
	assert.Positive(t, cp.Sequence)

	snap, err := DecodeSnapshot(cp)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, checkoutObjective, snap.Objective)
	assert.Empty(t, snap.PendingTasks)
	assert.Len(t, snap.WorkerStates, 4)
	assert.Empty(t, snap.ActiveConsensusRounds)
	assert.Len(t, snap.Decisions, 1)

	// 手动保存的序号递增
	require.NoError(t, s.SaveCheckpoint(context.Background()))
	next, err := store.LoadCheckpoint(context.Background(), s.ID())
	require.NoError(t, err)
	assert.Equal(t, cp.Sequence+1, next.Sequence)
}

func TestSwarm_AdaptiveQueenRemembersOutcome(t *testing.T) {
	store := persistence.NewMemoryKnowledgeStore()
	cfg := fastConfig(checkoutObjective)
	cfg.QueenType = queen.TypeAdaptive
	s := newTestSwarm(t, cfg, Deps{Store: store})
	require.NoError(t, runSwarm(t, s))

	decisions := s.Decisions()
	require.NotEmpty(t, decisions)
	mem := s.Queen().Memory()
	require.NotEmpty(t, mem)
	assert.Equal(t, decisions[0].Topic, mem[len(mem)-1].Topic)
	assert.True(t, mem[len(mem)-1].Success)

	// 同一知识库上的新实例载入这段记忆
	next := newTestSwarm(t, cfg, Deps{Store: store})
	n, err := next.Queen().LoadMemory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(mem), n)
}

func TestSwarm_CloseIsIdempotent(t *testing.T) {
	s := newTestSwarm(t, fastConfig(checkoutObjective), Deps{})
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
}
