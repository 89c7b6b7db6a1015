// Package events 提供蜂群运行时的对外状态事件流。
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Type 事件类型
type Type string

const (
	SwarmStarted      Type = "swarm_started"
	ObjectiveAnalyzed Type = "objective_analyzed"
	PlanCreated       Type = "plan_created"
	WorkersSpawned    Type = "workers_spawned"
	PhaseStarted      Type = "phase_started"
	PhaseCompleted    Type = "phase_completed"
	PhaseAbandoned    Type = "phase_abandoned"
	TaskCreated       Type = "task_created"
	TaskAssigned      Type = "task_assigned"
	TaskCompleted     Type = "task_completed"
	TaskRetry         Type = "task_retry"
	TaskFailed        Type = "task_failed"
	TaskRequeued      Type = "task_requeued"
	DecisionMade      Type = "decision_made"
	DecisionFailed    Type = "decision_failed"
	ScaleUp           Type = "scale_up"
	ScaleDownAdvised  Type = "scale_down_advised"
	WorkerOffline     Type = "worker_offline"
	WorkerOnline      Type = "worker_online"
	CheckpointSaved   Type = "checkpoint_saved"
	SwarmCompleted    Type = "swarm_completed"
	SwarmFailed       Type = "swarm_failed"
)

// Event 一条状态事件
type Event struct {
	Type      Type           `json:"type"`
	SwarmID   string         `json:"swarm_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New 创建事件
func New(t Type, swarmID string, data map[string]any) Event {
	return Event{Type: t, SwarmID: swarmID, Timestamp: time.Now(), Data: data}
}

// Publisher is the narrow side of the bus that producers depend on.
type Publisher interface {
	Publish(event Event)
}

// Handler 事件处理器
type Handler func(Event)

type subscriber struct {
	types map[Type]bool
	ch    chan Event
	fn    Handler
}

func (s *subscriber) wants(t Type) bool {
	return len(s.types) == 0 || s.types[t]
}

// funcBuffer 函数订阅者的队列长度
const funcBuffer = 1024

// Bus 事件总线。
// 所有订阅者按发布顺序接收事件，缓冲满时丢弃。
// 每个函数订阅者由专属 goroutine 依次调用，同一订阅者的回调不会并发。
type Bus struct {
	mu       sync.RWMutex
	subs     map[string]*subscriber
	history  []Event
	maxHist  int
	queue    chan Event
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	fnWG     sync.WaitGroup
	nextID   atomic.Int64
	dropped  atomic.Int64
	logger   *zap.Logger
}

// NewBus 创建事件总线，historySize 为保留的最近事件数量
func NewBus(historySize int, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if historySize <= 0 {
		historySize = 256
	}
	b := &Bus{
		subs:    make(map[string]*subscriber),
		maxHist: historySize,
		queue:   make(chan Event, 256),
		done:    make(chan struct{}),
		logger:  logger.With(zap.String("component", "event_bus")),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Publish 发布事件，队列满时丢弃
func (b *Bus) Publish(event Event) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.queue <- event:
	case <-b.done:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event", zap.String("type", string(event.Type)))
	}
}

// Subscribe 订阅事件流；types 为空时接收全部事件。
// 返回订阅 ID 与只读通道，Unsubscribe 后通道关闭。
func (b *Bus) Subscribe(buffer int, types ...Type) (string, <-chan Event) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{types: toSet(types), ch: make(chan Event, buffer)}
	return b.add(sub), sub.ch
}

// SubscribeFunc 以回调方式订阅事件，回调按发布顺序串行执行。
// Unsubscribe 或 Close 后，已排队的事件仍会交给回调。
func (b *Bus) SubscribeFunc(fn Handler, types ...Type) string {
	sub := &subscriber{types: toSet(types), ch: make(chan Event, funcBuffer), fn: fn}
	b.fnWG.Add(1)
	go b.drain(sub)
	return b.add(sub)
}

func (b *Bus) drain(sub *subscriber) {
	defer b.fnWG.Done()
	for ev := range sub.ch {
		b.call(sub.fn, ev)
	}
}

func (b *Bus) call(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("type", string(ev.Type)), zap.Any("recover", r))
		}
	}()
	fn(ev)
}

func (b *Bus) add(sub *subscriber) string {
	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.done:
		// 已关闭的总线不再登记订阅者
		close(sub.ch)
		return id
	default:
	}
	b.subs[id] = sub
	return id
}

// Unsubscribe 取消订阅
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// History 返回最近的事件副本
func (b *Bus) History() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// Dropped 返回因队列或订阅者缓冲满而丢弃的事件数
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

func (b *Bus) run() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ev)
		case <-b.done:
			// 排空剩余事件
			for {
				select {
				case ev := <-b.queue:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Close 停止事件总线并关闭所有订阅者，等待函数订阅者处理完已排队的事件
func (b *Bus) Close() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		b.mu.Lock()
		for id, sub := range b.subs {
			close(sub.ch)
			delete(b.subs, id)
		}
		b.mu.Unlock()
		b.fnWG.Wait()
	})
}

func toSet(types []Type) map[Type]bool {
	if len(types) == 0 {
		return nil
	}
	m := make(map[Type]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}
