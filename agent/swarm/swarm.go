package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent/capability"
	"github.com/BaSui01/swarmflow/agent/events"
	"github.com/BaSui01/swarmflow/agent/fabric"
	"github.com/BaSui01/swarmflow/agent/persistence"
	"github.com/BaSui01/swarmflow/agent/queen"
	"github.com/BaSui01/swarmflow/agent/scheduler"
	"github.com/BaSui01/swarmflow/internal/cache"
	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/internal/pool"
	"github.com/BaSui01/swarmflow/types"
)

// eventHistory 每个实例保留的最近事件数
const eventHistory = 512

// Deps 实例共享的外部协作者，均可为空
type Deps struct {
	Store       persistence.KnowledgeStore
	Checkpoints persistence.CheckpointStore
	// Gateway 为空时使用注册了内置处理器的本地网关
	Gateway capability.Gateway
	// Cache 在 Scheduler.RoutingCache 为 redis 时用作路由缓存
	Cache   *cache.Manager
	Metrics *metrics.Collector
	Pool    *pool.GoroutinePool
}

// Briefing 阶段开始时组播给工作者的简报
type Briefing struct {
	SwarmID  string   `json:"swarm_id"`
	Phase    string   `json:"phase"`
	Decision string   `json:"decision,omitempty"`
	Tasks    []string `json:"tasks"`
}

// Progress 阶段结束时经 gossip 传播的进度
type Progress struct {
	SwarmID   string `json:"swarm_id"`
	Phase     string `json:"phase"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
}

// Swarm 一个针对单一目标运行的蜂群实例
type Swarm struct {
	id       string
	cfg      Config
	deps     Deps
	logger   *zap.Logger
	bus      *events.Bus
	fabric   *fabric.Fabric
	queen    *queen.Queen
	sched    *scheduler.Scheduler
	recorder *metrics.SwarmRecorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	state      State
	analysis   *queen.Analysis
	plan       *queen.Plan
	phase      string
	phasesDone int
	decisions  []queen.Decision
	noQuorum   []string
	abandoned  []string
	messages   map[fabric.Protocol]int
	silenced   map[string]bool
	err        error
	startedAt  time.Time
	finishedAt time.Time

	checkpointSeq atomic.Int64
	done          chan struct{}
	closeOnce     sync.Once
}

// New 创建实例。实例在 Run 之前不会启动任何后台循环。
func New(cfg Config, deps Deps, logger *zap.Logger) (*Swarm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, types.NewInvalidRequestError("invalid swarm config").WithCause(err)
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	logger = logger.With(zap.String("component", "swarm"), zap.String("swarm_id", id))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Swarm{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		bus:      events.NewBus(eventHistory, logger),
		ctx:      ctx,
		cancel:   cancel,
		state:    StatePending,
		messages: make(map[fabric.Protocol]int),
		silenced: make(map[string]bool),
		done:     make(chan struct{}),
	}

	var err error
	if s.fabric, err = fabric.New(cfg.Fabric, logger); err != nil {
		cancel()
		return nil, err
	}
	if s.queen, err = queen.New(queen.Config{Type: cfg.QueenType, Seed: cfg.Seed}, deps.Store, logger); err != nil {
		cancel()
		return nil, err
	}

	gateway := deps.Gateway
	if gateway == nil {
		local, err := capability.NewLocalGateway(capability.DefaultConfig(), logger)
		if err != nil {
			cancel()
			return nil, err
		}
		if err := capability.RegisterBuiltins(local, 0); err != nil {
			cancel()
			return nil, err
		}
		gateway = local
	}
	runner := capability.NewGatewayRunner(gateway, logger)

	opts := []scheduler.Option{
		scheduler.WithAnnouncer(s.fabric, s.queen.ID()),
		scheduler.WithProvisioner(scheduler.Provisioners{s, runner}),
		scheduler.WithEvents(s.bus, id),
	}
	if deps.Store != nil {
		opts = append(opts, scheduler.WithStore(deps.Store))
	}
	if deps.Pool != nil {
		opts = append(opts, scheduler.WithPool(deps.Pool))
	}
	if deps.Metrics != nil {
		s.recorder = deps.Metrics.ForSwarm(id)
		opts = append(opts, scheduler.WithMetrics(s.recorder))
	}
	if cfg.Scheduler.RoutingCache == "redis" {
		if deps.Cache == nil {
			logger.Warn("redis routing cache requested without a cache manager, using memory")
		} else {
			opts = append(opts, scheduler.WithRoutingCache(
				scheduler.NewRedisRoutingCache(deps.Cache, id, cfg.Scheduler.RoutingCacheTTL, logger)))
		}
	}
	if s.sched, err = scheduler.New(cfg.Scheduler, runner, logger, opts...); err != nil {
		cancel()
		s.fabric.Close()
		return nil, err
	}
	return s, nil
}

// ID 实例 ID
func (s *Swarm) ID() string { return s.id }

// Config 实例配置
func (s *Swarm) Config() Config { return s.cfg }

// Events 实例事件总线
func (s *Swarm) Events() *events.Bus { return s.bus }

// Scheduler 实例调度器
func (s *Swarm) Scheduler() *scheduler.Scheduler { return s.sched }

// Fabric 实例通信层
func (s *Swarm) Fabric() *fabric.Fabric { return s.fabric }

// Queen 实例决策引擎
func (s *Swarm) Queen() *queen.Queen { return s.queen }

// Done 在 Run 返回后关闭
func (s *Swarm) Done() <-chan struct{} { return s.done }

// Plan 返回执行计划，Run 之前为 nil
func (s *Swarm) Plan() *queen.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan
}

// Decisions 返回已完成的共识记录
func (s *Swarm) Decisions() []queen.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]queen.Decision(nil), s.decisions...)
}

// =============================================================================
// 运行
// =============================================================================

// Run 执行目标直到全部阶段结束或 ctx 取消。一个实例只能运行一次。
func (s *Swarm) Run(ctx context.Context) error {
	if err := s.start(); err != nil {
		// 重复运行不改变已有实例；其它启动失败（如已被关闭）进入终态
		if !types.IsErrorCode(err, types.ErrInvalidTransition) {
			s.finish(err)
		}
		return err
	}
	err := s.execute(ctx)
	s.finish(err)
	return err
}

func (s *Swarm) start() error {
	s.mu.Lock()
	if s.state != StatePending {
		s.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition, "swarm "+s.id+" already started")
	}
	s.state = StateRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	mb, err := s.fabric.Register(s.queen.ID(), fabric.RoleQueen)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go s.queenLoop(mb)

	s.fabric.OnOffline(func(id string) {
		if id == s.queen.ID() {
			return
		}
		if err := s.sched.MarkWorkerOffline(s.ctx, id); err != nil {
			s.logger.Debug("offline participant is not a worker", zap.String("participant_id", id))
		}
	})
	s.fabric.OnRejoin(func(id string) {
		if id == s.queen.ID() {
			return
		}
		if err := s.sched.MarkWorkerOnline(s.ctx, id); err != nil {
			s.logger.Warn("worker rejoin rejected", zap.String("worker_id", id), zap.Error(err))
		}
	})
	s.fabric.Start()

	if s.cfg.AutoScale {
		s.wg.Add(1)
		go s.autoScaleLoop()
	}
	if s.deps.Checkpoints != nil && s.cfg.CheckpointInterval > 0 {
		s.wg.Add(1)
		go s.checkpointLoop()
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SwarmStarted()
	}
	if s.cfg.QueenType == queen.TypeAdaptive {
		if _, err := s.queen.LoadMemory(s.ctx); err != nil {
			s.logger.Warn("load decision memory failed", zap.Error(err))
		}
	}

	s.publish(events.SwarmStarted, map[string]any{"objective": s.cfg.Objective, "max_workers": s.cfg.MaxWorkers})
	s.logger.Info("swarm started", zap.String("objective", s.cfg.Objective))
	return nil
}

func (s *Swarm) execute(ctx context.Context) error {
	a := s.queen.AnalyzeObjective(s.cfg.Objective)
	s.publish(events.ObjectiveAnalyzed, map[string]any{
		"complexity":   string(a.Complexity),
		"components":   a.Components,
		"capabilities": a.RequiredCapabilities,
		"task_count":   a.EstimatedTaskCount,
		"strategy":     string(a.RecommendedStrategy),
	})

	workers := min(s.cfg.MaxWorkers, max(a.ResourceEstimate.OptimalWorkers, len(a.RequiredCapabilities)))
	plan := s.queen.CreateExecutionPlan(a, workers)
	s.mu.Lock()
	s.analysis, s.plan = a, plan
	s.mu.Unlock()
	s.publish(events.PlanCreated, map[string]any{
		"strategy":           string(plan.Strategy),
		"phases":             len(plan.Phases),
		"tasks":              plan.TaskCount(),
		"estimated_duration": plan.EstimatedDurationMin,
	})

	spawned, err := s.sched.SpawnWorkers(ctx, spawnList(a.RequiredCapabilities, workers))
	if len(spawned) == 0 {
		if err == nil {
			err = errors.New("no workers spawned")
		}
		return fmt.Errorf("spawn workers: %w", err)
	}
	if err != nil {
		s.logger.Warn("some workers failed to spawn", zap.Error(err), zap.Int("spawned", len(spawned)))
	}

	for _, phase := range plan.Phases {
		if err := s.runPhase(ctx, phase); err != nil {
			return err
		}
	}
	return nil
}

// spawnList 按顺序循环所需能力，凑足 n 个工作者
func spawnList(caps []types.CapabilityType, n int) []types.CapabilityType {
	if len(caps) == 0 {
		caps = []types.CapabilityType{types.CapabilityResearcher}
	}
	out := make([]types.CapabilityType, n)
	for i := range out {
		out[i] = caps[i%len(caps)]
	}
	return out
}

func (s *Swarm) runPhase(ctx context.Context, phase queen.Phase) error {
	s.mu.Lock()
	s.phase = phase.Name
	s.mu.Unlock()
	s.publish(events.PhaseStarted, map[string]any{"phase": phase.Name, "tasks": len(phase.Tasks)})
	logger := s.logger.With(zap.String("phase", phase.Name))

	var decision string
	if phase.RequiresConsensus && phase.Decision != nil {
		d, err := s.decide(ctx, phase)
		switch {
		case types.IsErrorCode(err, types.ErrConsensusNoQuorum), types.IsErrorCode(err, types.ErrConsensusTimeout):
			s.mu.Lock()
			s.abandoned = append(s.abandoned, phase.Name)
			s.phasesDone++
			s.mu.Unlock()
			s.publish(events.PhaseAbandoned, map[string]any{"phase": phase.Name, "reason": err.Error()})
			logger.Warn("phase abandoned", zap.Error(err))
			return nil
		case err != nil:
			return fmt.Errorf("phase %s: %w", phase.Name, err)
		}
		decision = d
	}

	descs := make([]string, len(phase.Tasks))
	for i, t := range phase.Tasks {
		descs[i] = t.Description
	}
	if res, err := s.fabric.Multicast(ctx, s.queen.ID(), s.activeWorkerIDs(), fabric.MsgPhaseBriefing,
		Briefing{SwarmID: s.id, Phase: phase.Name, Decision: decision, Tasks: descs}); err != nil {
		logger.Warn("phase briefing not fully delivered", zap.Error(err), zap.Int("failed", len(res.Failed)))
	}

	meta := map[string]any{"swarm_id": s.id, "phase": phase.Name}
	if decision != "" {
		meta["decision"] = decision
	}
	var ids []string
	for _, t := range phase.Tasks {
		task, err := s.sched.CreateTask(ctx, t.Description, t.Priority, meta)
		if err != nil {
			return fmt.Errorf("phase %s: create task: %w", phase.Name, err)
		}
		ids = append(ids, task.ID)
		if !phase.Parallel {
			if err := s.sched.WaitForTasks(ctx, []string{task.ID}); err != nil {
				return fmt.Errorf("phase %s: %w", phase.Name, err)
			}
		}
	}
	if err := s.sched.WaitForTasks(ctx, ids); err != nil {
		return fmt.Errorf("phase %s: %w", phase.Name, err)
	}

	progress := Progress{SwarmID: s.id, Phase: phase.Name, Total: len(ids)}
	for _, id := range ids {
		if t, ok := s.sched.Task(id); ok {
			if t.Status == scheduler.TaskCompleted {
				progress.Completed++
			} else {
				progress.Failed++
			}
		}
	}
	if decision != "" {
		s.queen.RecordOutcome(ctx, phase.Decision.Topic, decision, progress.Failed == 0)
	}
	_, reached := s.fabric.Gossip(s.queen.ID(), fabric.MsgProgress, progress)

	s.mu.Lock()
	s.phasesDone++
	s.mu.Unlock()
	s.publish(events.PhaseCompleted, map[string]any{
		"phase":     phase.Name,
		"completed": progress.Completed,
		"failed":    progress.Failed,
		"gossiped":  reached,
	})
	logger.Info("phase completed", zap.Int("completed", progress.Completed), zap.Int("failed", progress.Failed))
	return nil
}

// decide 在在线工作者与 queen 之间发起一轮共识，queen 作为仲裁者最后投票
func (s *Swarm) decide(ctx context.Context, phase queen.Phase) (string, error) {
	participants := append(s.activeWorkerIDs(), s.queen.ID())
	res, err := s.fabric.Consensus(ctx, s.queen.ID(), fabric.Proposal{
		Topic:     phase.Decision.Topic,
		Options:   phase.Decision.Options,
		Algorithm: s.cfg.ConsensusAlgorithm,
		ArbiterID: s.queen.ID(),
		Context:   map[string]any{"swarm_id": s.id, "phase": phase.Name},
	}, participants)
	if res != nil {
		d := s.queen.DecisionFromResult(res)
		s.queen.RecordDecision(ctx, d)
		s.mu.Lock()
		s.decisions = append(s.decisions, d)
		s.mu.Unlock()
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordDecision(string(res.Algorithm), res.Reached)
		}
	}
	if err != nil {
		if types.IsErrorCode(err, types.ErrConsensusNoQuorum) || types.IsErrorCode(err, types.ErrConsensusTimeout) {
			s.mu.Lock()
			s.noQuorum = append(s.noQuorum, phase.Decision.Topic)
			s.mu.Unlock()
		}
		s.publish(events.DecisionFailed, map[string]any{"topic": phase.Decision.Topic, "error": err.Error()})
		return "", err
	}
	s.publish(events.DecisionMade, map[string]any{
		"topic":      res.Topic,
		"decision":   res.Decision,
		"confidence": res.Confidence,
		"round_id":   res.RoundID,
	})
	return res.Decision, nil
}

func (s *Swarm) activeWorkerIDs() []string {
	var ids []string
	for _, w := range s.sched.Workers() {
		if w.Status != scheduler.WorkerOffline {
			ids = append(ids, w.ID)
		}
	}
	return ids
}

func (s *Swarm) finish(runErr error) {
	s.mu.Lock()
	s.finishedAt = time.Now()
	s.phase = ""
	if runErr != nil {
		s.state = StateFailed
		s.err = runErr
	} else {
		s.state = StateCompleted
	}
	state := s.state
	s.mu.Unlock()

	st := s.Status()
	s.fabric.Broadcast(s.queen.ID(), fabric.MsgStatus, st)
	if err := s.SaveCheckpoint(context.Background()); err != nil {
		s.logger.Warn("final checkpoint failed", zap.Error(err))
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SwarmFinished(string(state))
	}

	if runErr != nil {
		s.publish(events.SwarmFailed, map[string]any{"error": runErr.Error()})
		s.logger.Error("swarm failed", zap.Error(runErr))
	} else {
		s.publish(events.SwarmCompleted, map[string]any{
			"completed": st.Tasks.Completed,
			"failed":    st.Tasks.Failed,
			"health":    string(st.Health),
		})
		s.logger.Info("swarm completed",
			zap.Int("completed", st.Tasks.Completed),
			zap.Int("failed", st.Tasks.Failed),
			zap.String("health", string(st.Health)))
	}
	close(s.done)
}

// =============================================================================
// 后台循环
// =============================================================================

func (s *Swarm) autoScaleLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.AutoScaleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.checkAutoScale()
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Swarm) checkAutoScale() {
	d, err := s.sched.CheckAutoScale(s.ctx)
	if err != nil {
		s.logger.Warn("auto-scale failed", zap.Error(err))
	}
	if d != nil && d.Action != scheduler.ScaleNone {
		s.fabric.Broadcast(s.queen.ID(), fabric.MsgScaleSignal, *d)
	}
}

func (s *Swarm) checkpointLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.SaveCheckpoint(s.ctx); err != nil {
				s.logger.Warn("periodic checkpoint failed", zap.Error(err))
			}
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// Close 停止后台循环并释放通信层、调度器与指标。可重复调用。
func (s *Swarm) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.sched.Close(ctx)
		s.fabric.Close()
		s.wg.Wait()
		s.bus.Close()
		if s.recorder != nil {
			s.recorder.Release()
		}
	})
	return err
}

func (s *Swarm) publish(t events.Type, data map[string]any) {
	s.bus.Publish(events.New(t, s.id, data))
}

// =============================================================================
// 检查点
// =============================================================================

// Snapshot 可序列化的实例状态
type Snapshot struct {
	SwarmID               string             `json:"swarm_id"`
	Objective             string             `json:"objective"`
	State                 State              `json:"state"`
	Phase                 string             `json:"phase,omitempty"`
	PendingTasks          []scheduler.Task   `json:"pending_tasks"`
	WorkerStates          []scheduler.Worker `json:"worker_states"`
	ActiveConsensusRounds []fabric.Round     `json:"active_consensus_rounds"`
	Decisions             []queen.Decision   `json:"decisions,omitempty"`
	TakenAt               time.Time          `json:"taken_at"`
}

// Snapshot 返回当前快照
func (s *Swarm) Snapshot() Snapshot {
	ss := s.sched.Snapshot()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		SwarmID:               s.id,
		Objective:             s.cfg.Objective,
		State:                 s.state,
		Phase:                 s.phase,
		PendingTasks:          ss.PendingTasks,
		WorkerStates:          ss.Workers,
		ActiveConsensusRounds: s.fabric.ActiveRounds(),
		Decisions:             append([]queen.Decision(nil), s.decisions...),
		TakenAt:               ss.TakenAt,
	}
}

// SaveCheckpoint 将快照写入检查点服务；未配置时什么也不做
func (s *Swarm) SaveCheckpoint(ctx context.Context) error {
	if s.deps.Checkpoints == nil {
		return nil
	}
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	cp := &persistence.Checkpoint{
		SwarmID:   s.id,
		Sequence:  s.checkpointSeq.Add(1),
		CreatedAt: time.Now(),
		Data:      data,
	}
	if err := s.deps.Checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.publish(events.CheckpointSaved, map[string]any{"sequence": cp.Sequence})
	return nil
}

// DecodeSnapshot 解析检查点中的快照
func DecodeSnapshot(cp *persistence.Checkpoint) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(cp.Data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
