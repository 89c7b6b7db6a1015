package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent/events"
	"github.com/BaSui01/swarmflow/agent/fabric"
	"github.com/BaSui01/swarmflow/agent/persistence"
	"github.com/BaSui01/swarmflow/internal/pool"
	"github.com/BaSui01/swarmflow/types"
)

// 知识库命名空间
const (
	NamespaceTasks   = "tasks"
	NamespaceWorkers = "workers"
)

// ErrSchedulerClosed 调度器已关闭
var ErrSchedulerClosed = errors.New("scheduler is closed")

// persistTimeout 单次尽力持久化的超时
const persistTimeout = 2 * time.Second

type taskEntry struct {
	task Task
	done chan struct{}
	// seq 每次分配或回收时递增，用于识别过期的执行结果
	seq       uint64
	notBefore time.Time
}

// assignment 在锁内生成、锁外派发的分配记录
type assignment struct {
	seq    uint64
	exec   Execution
	task   Task
	worker Worker
}

// Option 调度器选项
type Option func(*Scheduler)

// WithAnnouncer 分配任务时经通信层直连通知工作者，from 为发送方参与者 ID
func WithAnnouncer(a Announcer, from string) Option {
	return func(s *Scheduler) {
		s.announcer = a
		s.announceFrom = from
	}
}

// WithProvisioner 设置工作者开通钩子
func WithProvisioner(p Provisioner) Option {
	return func(s *Scheduler) { s.provisioner = p }
}

// WithEvents 设置事件发布器
func WithEvents(p events.Publisher, swarmID string) Option {
	return func(s *Scheduler) {
		s.events = p
		s.swarmID = swarmID
	}
}

// WithStore 设置知识库，任务与工作者记录尽力写入
func WithStore(store persistence.KnowledgeStore) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithRoutingCache 替换默认的内存路由缓存
func WithRoutingCache(c RoutingCache) Option {
	return func(s *Scheduler) { s.cache = c }
}

// WithMetrics 设置指标记录器
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithPool 使用共享的 goroutine 池，调度器关闭时不会关闭它
func WithPool(p *pool.GoroutinePool) Option {
	return func(s *Scheduler) { s.pool = p }
}

// Scheduler 工作者池与任务调度器
type Scheduler struct {
	cfg          Config
	logger       *zap.Logger
	runner       TaskRunner
	provisioner  Provisioner
	announcer    Announcer
	announceFrom string
	events       events.Publisher
	swarmID      string
	store        persistence.KnowledgeStore
	cache        RoutingCache
	metrics      MetricsRecorder
	pool         *pool.GoroutinePool
	ownsPool     bool

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	workers     map[string]*Worker
	workerOrder []string
	tasks       map[string]*taskEntry
	taskOrder   []string
	reserved    int
	workerSeq   int
	timers      map[string]*time.Timer
	closed      bool
}

// New 创建调度器
func New(cfg Config, runner TaskRunner, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	if runner == nil {
		return nil, errors.New("scheduler requires a task runner")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "scheduler")),
		runner:  runner,
		metrics: nopMetrics{},
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*Worker),
		tasks:   make(map[string]*taskEntry),
		timers:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		if cfg.RoutingCache == "none" {
			s.cache = NoopRoutingCache()
		} else {
			s.cache = NewMemoryRoutingCache(cfg.RoutingCacheTTL)
		}
	}
	if s.pool == nil {
		s.pool = pool.NewGoroutinePool(pool.DefaultConfig(), logger)
		s.ownsPool = true
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	return s, nil
}

// Config 返回调度器配置
func (s *Scheduler) Config() Config { return s.cfg }

// =============================================================================
// 任务
// =============================================================================

// CreateTask 创建任务并立即尝试分配。没有空闲工作者时任务保持 pending。
func (s *Scheduler) CreateTask(ctx context.Context, description string, priority int, metadata map[string]any) (*Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, types.NewInvalidRequestError("task description is required")
	}
	if priority < MinPriority || priority > MaxPriority {
		return nil, types.NewInvalidRequestError(fmt.Sprintf("task priority %d out of range [%d,%d]", priority, MinPriority, MaxPriority))
	}

	complexity, est := EstimateTask(description)
	t := Task{
		ID:                  uuid.NewString(),
		Description:         description,
		Priority:            priority,
		Status:              TaskPending,
		EstimatedDurationMs: est,
		Complexity:          complexity,
		Metadata:            metadata,
		CreatedAt:           time.Now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	e := &taskEntry{task: t, done: make(chan struct{})}
	e.task.Metadata = e.task.clone().Metadata
	s.tasks[t.ID] = e
	s.taskOrder = append(s.taskOrder, t.ID)
	created := e.task.clone()
	s.mu.Unlock()

	s.publish(events.TaskCreated, map[string]any{
		"task_id":    t.ID,
		"priority":   priority,
		"complexity": string(complexity),
	})
	s.persistTask(created)

	s.tryAssign(ctx, t.ID)

	got, _ := s.Task(t.ID)
	return &got, nil
}

// Task 返回任务副本
func (s *Scheduler) Task(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return e.task.clone(), true
}

// Tasks 按创建顺序返回全部任务副本
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.taskOrder))
	for _, id := range s.taskOrder {
		out = append(out, s.tasks[id].task.clone())
	}
	return out
}

// WaitForTasks 等待所有任务进入终态，或 ctx 结束
func (s *Scheduler) WaitForTasks(ctx context.Context, ids []string) error {
	s.mu.Lock()
	waits := make([]chan struct{}, 0, len(ids))
	for _, id := range ids {
		e, ok := s.tasks[id]
		if !ok {
			s.mu.Unlock()
			return types.NewNotFoundError("task not found: " + id)
		}
		waits = append(waits, e.done)
	}
	s.mu.Unlock()

	for _, ch := range waits {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return ErrSchedulerClosed
		}
	}
	return nil
}

// =============================================================================
// 工作者
// =============================================================================

// Worker 返回工作者副本
func (s *Scheduler) Worker(id string) (Worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return Worker{}, false
	}
	return *w, true
}

// Workers 按开通顺序返回全部工作者副本
func (s *Scheduler) Workers() []Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Worker, 0, len(s.workerOrder))
	for _, id := range s.workerOrder {
		out = append(out, *s.workers[id])
	}
	return out
}

// SpawnWorkers 按批开通工作者，每批内并发执行。超过 MaxWorkers 时整体拒绝。
// 单个工作者开通失败不影响其他工作者，错误合并返回。
func (s *Scheduler) SpawnWorkers(ctx context.Context, caps []types.CapabilityType) ([]Worker, error) {
	if len(caps) == 0 {
		return nil, nil
	}
	for _, c := range caps {
		if !c.Valid() {
			return nil, types.NewInvalidRequestError("unknown capability type: " + string(c))
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	active := s.activeWorkersLocked() + s.reserved
	if active+len(caps) > s.cfg.MaxWorkers {
		s.mu.Unlock()
		return nil, types.NewCapacityExhaustedError(fmt.Sprintf(
			"cannot spawn %d workers: %d active, max %d", len(caps), active, s.cfg.MaxWorkers))
	}
	s.reserved += len(caps)
	ids := make([]string, len(caps))
	for i, c := range caps {
		s.workerSeq++
		ids[i] = fmt.Sprintf("%s-%d", c, s.workerSeq)
	}
	s.mu.Unlock()

	spawned := make([]*Worker, len(caps))
	errs := make([]error, len(caps))
	for start := 0; start < len(caps); start += s.cfg.SpawnChunkSize {
		end := min(start+s.cfg.SpawnChunkSize, len(caps))
		batchStart := time.Now()

		var wg conc.WaitGroup
		for i := start; i < end; i++ {
			wg.Go(func() {
				w := &Worker{
					ID:          ids[i],
					Capability:  caps[i],
					Status:      WorkerIdle,
					Performance: Performance{SuccessRate: 1},
					SpawnedAt:   time.Now(),
				}
				if s.provisioner != nil {
					if err := s.provisioner.Provision(ctx, *w); err != nil {
						errs[i] = fmt.Errorf("provision %s: %w", w.ID, err)
						return
					}
				}
				spawned[i] = w
			})
		}
		wg.Wait()

		s.metrics.RecordSpawnBatch(end-start, time.Since(batchStart))
		s.logger.Debug("spawn batch finished",
			zap.Int("batch_size", end-start),
			zap.Duration("elapsed", time.Since(batchStart)))
	}

	s.mu.Lock()
	s.reserved -= len(caps)
	out := make([]Worker, 0, len(caps))
	var pulls []assignment
	for _, w := range spawned {
		if w == nil {
			continue
		}
		s.workers[w.ID] = w
		s.workerOrder = append(s.workerOrder, w.ID)
		if next := s.nextPendingLocked(); next != nil {
			pulls = append(pulls, s.assignLocked(w, next))
		}
		out = append(out, *w)
	}
	s.mu.Unlock()

	if len(out) > 0 {
		ids := make([]string, len(out))
		for i, w := range out {
			ids[i] = w.ID
			s.persistWorker(w)
		}
		s.publish(events.WorkersSpawned, map[string]any{"worker_ids": ids, "count": len(out)})
		s.logger.Info("workers spawned", zap.Int("count", len(out)))
	}
	for _, a := range pulls {
		s.afterAssign(a)
	}
	s.updateWorkerGauge()

	return out, errors.Join(errs...)
}

// MarkWorkerOffline 将工作者标记为离线。其执行中的任务回到 pending，不消耗重试次数。
func (s *Scheduler) MarkWorkerOffline(ctx context.Context, workerID string) error {
	s.mu.Lock()
	w, ok := s.workers[workerID]
	if !ok {
		s.mu.Unlock()
		return types.NewNotFoundError("worker not found: " + workerID)
	}
	if w.Status == WorkerOffline {
		s.mu.Unlock()
		return nil
	}
	w.Status = WorkerOffline
	taskID := w.CurrentTaskID
	w.CurrentTaskID = ""
	if taskID != "" {
		e := s.tasks[taskID]
		e.seq++
		e.task.Status = TaskPending
		e.task.AssignedWorkerID = ""
		e.task.StartedAt = nil
		e.notBefore = time.Time{}
	}
	wc := *w
	s.mu.Unlock()

	s.logger.Warn("worker offline", zap.String("worker_id", workerID), zap.String("requeued_task", taskID))
	s.publish(events.WorkerOffline, map[string]any{"worker_id": workerID})
	s.persistWorker(wc)
	s.updateWorkerGauge()

	if taskID != "" {
		s.publish(events.TaskRequeued, map[string]any{"task_id": taskID, "worker_id": workerID})
		s.tryAssign(ctx, taskID)
	}
	return nil
}

// MarkWorkerOnline 让离线工作者恢复为 idle，并立即领取优先级最高的 pending 任务
func (s *Scheduler) MarkWorkerOnline(ctx context.Context, workerID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	w, ok := s.workers[workerID]
	if !ok {
		s.mu.Unlock()
		return types.NewNotFoundError("worker not found: " + workerID)
	}
	if w.Status != WorkerOffline {
		s.mu.Unlock()
		return nil
	}
	if s.activeWorkersLocked()+s.reserved >= s.cfg.MaxWorkers {
		s.mu.Unlock()
		return types.NewCapacityExhaustedError(fmt.Sprintf("cannot revive %s: pool is at max_workers %d", workerID, s.cfg.MaxWorkers))
	}
	w.Status = WorkerIdle
	var next *assignment
	if n := s.nextPendingLocked(); n != nil {
		na := s.assignLocked(w, n)
		next = &na
	}
	wc := *w
	s.mu.Unlock()

	s.logger.Info("worker back online", zap.String("worker_id", workerID))
	s.publish(events.WorkerOnline, map[string]any{"worker_id": workerID})
	s.persistWorker(wc)
	s.updateWorkerGauge()
	if next != nil {
		s.afterAssign(*next)
	}
	return nil
}

// =============================================================================
// 分配与执行
// =============================================================================

// AssignTask 将 pending 任务分配给 idle 工作者并开始异步执行
func (s *Scheduler) AssignTask(ctx context.Context, workerID, taskID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	w, ok := s.workers[workerID]
	if !ok {
		s.mu.Unlock()
		return types.NewNotFoundError("worker not found: " + workerID)
	}
	e, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return types.NewNotFoundError("task not found: " + taskID)
	}
	if w.Status != WorkerIdle {
		s.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition, fmt.Sprintf("worker %s is %s, not idle", workerID, w.Status))
	}
	if e.task.Status != TaskPending {
		s.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition, fmt.Sprintf("task %s is %s, not pending", taskID, e.task.Status))
	}
	a := s.assignLocked(w, e)
	s.mu.Unlock()

	s.afterAssign(a)
	return nil
}

// tryAssign 为 pending 任务挑选最合适的空闲工作者
func (s *Scheduler) tryAssign(ctx context.Context, taskID string) bool {
	s.mu.Lock()
	e, ok := s.tasks[taskID]
	if !ok || !s.assignableLocked(e) {
		s.mu.Unlock()
		return false
	}
	desc := e.task.Description
	s.mu.Unlock()

	key := routingKey(desc)
	cachedID, hit := s.cache.Get(ctx, key)

	s.mu.Lock()
	e, ok = s.tasks[taskID]
	if !ok || !s.assignableLocked(e) {
		s.mu.Unlock()
		return false
	}
	var w *Worker
	if hit {
		if cw, ok := s.workers[cachedID]; ok && cw.Status == WorkerIdle {
			w = cw
		}
	}
	fromCache := w != nil
	if w == nil {
		picked, _, found := selectWorker(s.idleWorkersLocked(), desc)
		if !found {
			s.mu.Unlock()
			return false
		}
		w = picked
	}
	a := s.assignLocked(w, e)
	s.mu.Unlock()

	s.metrics.RecordRoutingCache(fromCache)
	if !fromCache {
		s.cache.Set(ctx, key, w.ID)
	}
	s.afterAssign(a)
	return true
}

func (s *Scheduler) assignableLocked(e *taskEntry) bool {
	return !s.closed && e.task.Status == TaskPending && !time.Now().Before(e.notBefore)
}

func (s *Scheduler) assignLocked(w *Worker, e *taskEntry) assignment {
	now := time.Now()
	e.seq++
	e.notBefore = time.Time{}
	e.task.Status = TaskInProgress
	e.task.AssignedWorkerID = w.ID
	e.task.StartedAt = &now
	w.Status = WorkerBusy
	w.CurrentTaskID = e.task.ID

	return assignment{
		seq: e.seq,
		exec: Execution{
			TaskID:      e.task.ID,
			WorkerID:    w.ID,
			Capability:  w.Capability,
			Description: e.task.Description,
			Priority:    e.task.Priority,
			Complexity:  e.task.Complexity,
			Attempt:     e.task.RetryCount + 1,
			Metadata:    e.task.clone().Metadata,
		},
		task:   e.task.clone(),
		worker: *w,
	}
}

// afterAssign 锁外的分配副作用：事件、持久化、提交执行
func (s *Scheduler) afterAssign(a assignment) {
	s.publish(events.TaskAssigned, map[string]any{
		"task_id":   a.exec.TaskID,
		"worker_id": a.exec.WorkerID,
		"attempt":   a.exec.Attempt,
	})
	s.persistTask(a.task)
	s.persistWorker(a.worker)
	s.updateWorkerGauge()

	err := s.pool.Submit(s.ctx, func(ctx context.Context) error {
		s.execute(ctx, a)
		return nil
	})
	if err != nil {
		s.logger.Error("submit task execution failed",
			zap.String("task_id", a.exec.TaskID), zap.Error(err))
		s.revert(a)
	}
}

// revert 撤销一次未能提交的分配
func (s *Scheduler) revert(a assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.tasks[a.exec.TaskID]
	w := s.workers[a.exec.WorkerID]
	if e == nil || e.seq != a.seq || e.task.Status != TaskInProgress {
		return
	}
	e.seq++
	e.task.Status = TaskPending
	e.task.AssignedWorkerID = ""
	e.task.StartedAt = nil
	if w != nil && w.CurrentTaskID == e.task.ID {
		w.CurrentTaskID = ""
		if w.Status == WorkerBusy {
			w.Status = WorkerIdle
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, a assignment) {
	start := time.Now()

	if s.announcer != nil {
		err := s.announcer.Send(ctx, s.announceFrom, a.exec.WorkerID, fabric.MsgTaskAssignment, a.exec)
		if err != nil {
			if errors.Is(err, fabric.ErrParticipantOffline) || errors.Is(err, fabric.ErrUnknownParticipant) {
				_ = s.MarkWorkerOffline(ctx, a.exec.WorkerID)
				return
			}
			s.finish(a, nil, fmt.Errorf("announce assignment: %w", err), start)
			return
		}
	}

	runCtx := ctx
	if s.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.TaskTimeout)
		defer cancel()
	}
	out, err := s.runner.Run(runCtx, a.exec)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("task timeout after %s: %w", s.cfg.TaskTimeout, err)
	}
	s.finish(a, out, err, start)
}

// finish 记录执行结果。过期的结果（任务已被回收或重新分配）被忽略。
func (s *Scheduler) finish(a assignment, out []byte, runErr error, start time.Time) {
	d := time.Since(start)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	e := s.tasks[a.exec.TaskID]
	w := s.workers[a.exec.WorkerID]
	if e == nil || w == nil || e.seq != a.seq || e.task.Status != TaskInProgress {
		s.mu.Unlock()
		s.logger.Debug("ignoring late task result", zap.String("task_id", a.exec.TaskID))
		return
	}

	now := time.Now()
	w.Status = WorkerIdle
	w.CurrentTaskID = ""
	e.task.AssignedWorkerID = ""

	var (
		evType   events.Type
		evData   map[string]any
		status   string
		retried  bool
		finished chan struct{}
	)
	if runErr == nil {
		w.recordSuccess(d)
		e.task.Status = TaskCompleted
		e.task.Result = out
		e.task.Error = ""
		e.task.CompletedBy = w.ID
		e.task.CompletedAt = &now
		finished = e.done
		evType, status = events.TaskCompleted, string(TaskCompleted)
		evData = map[string]any{"task_id": e.task.ID, "worker_id": w.ID, "duration_ms": d.Milliseconds()}
	} else {
		w.recordFailure()
		e.task.Error = runErr.Error()
		if IsRecoverable(runErr) && e.task.RetryCount < s.cfg.MaxRetries {
			e.task.RetryCount++
			e.task.Status = TaskPending
			e.task.StartedAt = nil
			e.notBefore = now.Add(s.cfg.RetryDelay)
			s.scheduleRetryLocked(e.task.ID)
			retried = true
			evType = events.TaskRetry
			evData = map[string]any{"task_id": e.task.ID, "retry_count": e.task.RetryCount, "error": runErr.Error()}
		} else {
			e.task.Status = TaskFailed
			e.task.CompletedAt = &now
			finished = e.done
			evType, status = events.TaskFailed, string(TaskFailed)
			evData = map[string]any{"task_id": e.task.ID, "worker_id": w.ID, "error": runErr.Error(), "retry_count": e.task.RetryCount}
		}
	}

	var next *assignment
	if n := s.nextPendingLocked(); n != nil {
		na := s.assignLocked(w, n)
		next = &na
	}
	tc, wc := e.task.clone(), *w
	s.mu.Unlock()

	if retried {
		s.metrics.RecordTaskRetry(string(wc.Capability))
		s.logger.Warn("task failed, retry scheduled",
			zap.String("task_id", tc.ID), zap.Int("retry_count", tc.RetryCount), zap.Error(runErr))
	} else {
		s.metrics.RecordTask(string(wc.Capability), status, d)
		if runErr != nil {
			s.logger.Error("task failed", zap.String("task_id", tc.ID), zap.Error(runErr))
		}
	}
	s.publish(evType, evData)
	s.persistTask(tc)
	s.persistWorker(wc)
	s.updateWorkerGauge()
	// 副作用完成后再唤醒等待者
	if finished != nil {
		close(finished)
	}

	if next != nil {
		s.afterAssign(*next)
	}
}

func (s *Scheduler) scheduleRetryLocked(taskID string) {
	if old, ok := s.timers[taskID]; ok {
		old.Stop()
	}
	s.timers[taskID] = time.AfterFunc(s.cfg.RetryDelay, func() {
		s.mu.Lock()
		delete(s.timers, taskID)
		if e, ok := s.tasks[taskID]; ok {
			e.notBefore = time.Time{}
		}
		s.mu.Unlock()
		s.tryAssign(s.ctx, taskID)
	})
}

// nextPendingLocked 优先级最高的可分配任务，同优先级取最早创建者
func (s *Scheduler) nextPendingLocked() *taskEntry {
	var best *taskEntry
	for _, id := range s.taskOrder {
		e := s.tasks[id]
		if !s.assignableLocked(e) {
			continue
		}
		if best == nil || e.task.Priority > best.task.Priority {
			best = e
		}
	}
	return best
}

func (s *Scheduler) idleWorkersLocked() []*Worker {
	out := make([]*Worker, 0, len(s.workerOrder))
	for _, id := range s.workerOrder {
		if w := s.workers[id]; w.Status == WorkerIdle {
			out = append(out, w)
		}
	}
	return out
}

func (s *Scheduler) activeWorkersLocked() int {
	n := 0
	for _, w := range s.workers {
		if w.Status != WorkerOffline {
			n++
		}
	}
	return n
}

// =============================================================================
// 自动伸缩
// =============================================================================

// CheckAutoScale 待处理任务超过空闲工作者两倍且未达上限时，扩容一个与待处理任务最匹配的工作者。
// 大量空闲且无待处理任务时只发出缩容建议，不移除工作者。
func (s *Scheduler) CheckAutoScale(ctx context.Context) (*ScaleDecision, error) {
	s.mu.Lock()
	d := &ScaleDecision{Action: ScaleNone}
	var pendingDescs []string
	for _, id := range s.taskOrder {
		if e := s.tasks[id]; e.task.Status == TaskPending {
			d.Pending++
			pendingDescs = append(pendingDescs, e.task.Description)
		}
	}
	for _, w := range s.workers {
		switch w.Status {
		case WorkerIdle:
			d.Idle++
		case WorkerBusy:
			d.Busy++
		}
	}
	d.PoolSize = s.activeWorkersLocked() + s.reserved
	s.mu.Unlock()

	switch {
	case d.Pending > 2*d.Idle && d.PoolSize < s.cfg.MaxWorkers:
		d.Action = ScaleUp
		d.Capability = majorityCapability(pendingDescs)
		d.Reason = fmt.Sprintf("%d pending tasks exceed twice the %d idle workers", d.Pending, d.Idle)
		spawned, err := s.SpawnWorkers(ctx, []types.CapabilityType{d.Capability})
		d.Spawned = spawned
		if err != nil {
			return d, err
		}
		s.publish(events.ScaleUp, map[string]any{
			"capability": string(d.Capability),
			"pending":    d.Pending,
			"idle":       d.Idle,
		})
		s.logger.Info("scaled up", zap.String("capability", string(d.Capability)), zap.Int("pending", d.Pending))

	case d.Pending == 0 && d.Idle > 1 && d.Idle > 2*d.Busy:
		d.Action = ScaleDownAdvisory
		d.Surplus = d.Idle - max(d.Busy, 1)
		d.Reason = fmt.Sprintf("%d idle workers with no pending tasks", d.Idle)
		s.publish(events.ScaleDownAdvised, map[string]any{"idle": d.Idle, "surplus": d.Surplus})

	default:
		d.Reason = "pool matches demand"
	}
	return d, nil
}

// majorityCapability 待处理任务描述中命中最多的能力类型，平局取固定顺序中靠前者
func majorityCapability(descriptions []string) types.CapabilityType {
	counts := make(map[types.CapabilityType]int)
	for _, desc := range descriptions {
		if c, ok := types.MatchCapability(desc); ok {
			counts[c]++
		}
	}
	best := types.CapabilityOrder[0]
	for _, c := range types.CapabilityOrder {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

// =============================================================================
// 状态
// =============================================================================

// Snapshot 未完成任务与全部工作者
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{TakenAt: time.Now(), Workers: make([]Worker, 0, len(s.workerOrder))}
	for _, id := range s.taskOrder {
		if e := s.tasks[id]; !e.task.Status.Terminal() {
			snap.PendingTasks = append(snap.PendingTasks, e.task.clone())
		}
	}
	for _, id := range s.workerOrder {
		snap.Workers = append(snap.Workers, *s.workers[id])
	}
	return snap
}

// Stats 按状态统计任务与工作者
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Scheduler) statsLocked() Stats {
	var st Stats
	for _, e := range s.tasks {
		st.Tasks.Total++
		switch e.task.Status {
		case TaskPending:
			st.Tasks.Pending++
		case TaskInProgress:
			st.Tasks.InProgress++
		case TaskCompleted:
			st.Tasks.Completed++
		case TaskFailed:
			st.Tasks.Failed++
		}
	}
	for _, w := range s.workers {
		st.Workers.Total++
		switch w.Status {
		case WorkerIdle:
			st.Workers.Idle++
		case WorkerBusy:
			st.Workers.Busy++
		case WorkerOffline:
			st.Workers.Offline++
		}
	}
	return st
}

// checkInvariantsLocked 校验任务与工作者的双向独占绑定
func (s *Scheduler) checkInvariantsLocked() error {
	var errs []error
	for id, e := range s.tasks {
		wid := e.task.AssignedWorkerID
		if (e.task.Status == TaskInProgress) != (wid != "") {
			errs = append(errs, fmt.Errorf("task %s is %s with assigned worker %q", id, e.task.Status, wid))
		}
		if wid != "" {
			w, ok := s.workers[wid]
			if !ok || w.Status != WorkerBusy || w.CurrentTaskID != id {
				errs = append(errs, fmt.Errorf("task %s points at worker %s which does not hold it", id, wid))
			}
		}
		if e.task.RetryCount > maxRetryCeiling {
			errs = append(errs, fmt.Errorf("task %s retry count %d", id, e.task.RetryCount))
		}
	}
	for id, w := range s.workers {
		if (w.Status == WorkerBusy) != (w.CurrentTaskID != "") {
			errs = append(errs, fmt.Errorf("worker %s is %s with current task %q", id, w.Status, w.CurrentTaskID))
		}
		if w.CurrentTaskID != "" {
			e, ok := s.tasks[w.CurrentTaskID]
			if !ok || e.task.AssignedWorkerID != id {
				errs = append(errs, fmt.Errorf("worker %s holds task %s which is not assigned to it", id, w.CurrentTaskID))
			}
		}
	}
	return errors.Join(errs...)
}

// Close 停止调度：取消执行中的任务上下文、停止重试计时器，并关闭自有的 goroutine 池
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.cancel()
	if s.ownsPool {
		return s.pool.Close(ctx)
	}
	return nil
}

// =============================================================================
// 副作用
// =============================================================================

func (s *Scheduler) publish(t events.Type, data map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.New(t, s.swarmID, data))
}

func (s *Scheduler) updateWorkerGauge() {
	s.mu.Lock()
	st := s.statsLocked()
	s.mu.Unlock()
	s.metrics.SetWorkers(st.Workers.Idle, st.Workers.Busy, st.Workers.Offline)
}

func (s *Scheduler) persistTask(t Task) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.Put(ctx, NamespaceTasks, t.ID, t, "task"); err != nil {
		s.logger.Warn("persist task failed", zap.String("task_id", t.ID), zap.Error(err))
	}
}

func (s *Scheduler) persistWorker(w Worker) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.Put(ctx, NamespaceWorkers, w.ID, w, "worker"); err != nil {
		s.logger.Warn("persist worker failed", zap.String("worker_id", w.ID), zap.Error(err))
	}
}
