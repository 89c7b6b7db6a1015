package fabric

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrParticipantOffline = errors.New("participant offline")
	ErrFabricClosed       = errors.New("fabric closed")
	ErrEmptyParticipantID = errors.New("participant id is required")
)

// Role 参与者角色
type Role string

const (
	RoleQueen    Role = "queen"
	RoleWorker   Role = "worker"
	RoleObserver Role = "observer"
)

// Status 参与者在线状态
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Mailbox 参与者的接收端。C 永不关闭；Done 在 Fabric 关闭时关闭。
type Mailbox struct {
	ID   string
	C    <-chan *Envelope
	Done <-chan struct{}
}

// ParticipantInfo 参与者快照
type ParticipantInfo struct {
	ID       string    `json:"id"`
	Role     Role      `json:"role"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

type participant struct {
	id       string
	role     Role
	status   Status
	lastSeen time.Time
	order    int
	mailbox  chan *Envelope
}

// Fabric 进程内通信层
type Fabric struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	inst   *instruments

	mu           sync.RWMutex
	participants map[string]*participant
	nextOrder    int
	onOffline    []func(id string)
	onRejoin     []func(id string)

	gossipMu sync.Mutex
	seen     map[string]*gossipState

	rounds *roundRegistry

	rngMu sync.Mutex
	rng   *rand.Rand

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option 配置 Fabric
type Option func(*Fabric)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(f *Fabric) { f.now = now }
}

// New 创建 Fabric
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Fabric, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fabric config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	f := &Fabric{
		cfg:          cfg,
		logger:       logger.With(zap.String("component", "fabric")),
		now:          time.Now,
		participants: make(map[string]*participant),
		seen:         make(map[string]*gossipState),
		rounds:       newRoundRegistry(),
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.inst = newInstruments(f.logger)
	return f, nil
}

// Config 返回当前配置
func (f *Fabric) Config() Config { return f.cfg }

// Register 注册参与者并返回其邮箱。
// 重复注册会刷新心跳时间，离线参与者借此恢复在线。
func (f *Fabric) Register(id string, role Role) (*Mailbox, error) {
	if id == "" {
		return nil, ErrEmptyParticipantID
	}
	select {
	case <-f.done:
		return nil, ErrFabricClosed
	default:
	}

	f.mu.Lock()
	p, ok := f.participants[id]
	rejoined := false
	if !ok {
		p = &participant{
			id:      id,
			role:    role,
			order:   f.nextOrder,
			mailbox: make(chan *Envelope, f.cfg.MailboxSize),
		}
		f.nextOrder++
		f.participants[id] = p
	} else if p.status == StatusOffline {
		rejoined = true
	}
	p.status = StatusOnline
	p.lastSeen = f.now()
	f.inst.setOnline(f.onlineLocked())
	mb := &Mailbox{ID: id, C: p.mailbox, Done: f.done}
	callbacks := append([]func(string){}, f.onRejoin...)
	f.mu.Unlock()

	if rejoined {
		f.logger.Info("participant back online", zap.String("participant_id", id))
		for _, cb := range callbacks {
			cb(id)
		}
	}
	return mb, nil
}

// Heartbeat 记录参与者存活信号。离线参与者需重新注册才能恢复。
func (f *Fabric) Heartbeat(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	p.lastSeen = f.now()
	return nil
}

// touch 发送方的任何消息都视为存活信号
func (f *Fabric) touch(id string) {
	f.mu.Lock()
	if p, ok := f.participants[id]; ok && p.status == StatusOnline {
		p.lastSeen = f.now()
	}
	f.mu.Unlock()
}

// OnOffline 注册离线回调，在巡检标记离线后调用
func (f *Fabric) OnOffline(fn func(id string)) {
	f.mu.Lock()
	f.onOffline = append(f.onOffline, fn)
	f.mu.Unlock()
}

// OnRejoin 注册回调，离线参与者重新注册后调用
func (f *Fabric) OnRejoin(fn func(id string)) {
	f.mu.Lock()
	f.onRejoin = append(f.onRejoin, fn)
	f.mu.Unlock()
}

// Participants 返回按注册顺序排列的参与者快照
func (f *Fabric) Participants() []ParticipantInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	list := f.sortedLocked(func(*participant) bool { return true })
	out := make([]ParticipantInfo, len(list))
	for i, p := range list {
		out[i] = ParticipantInfo{ID: p.id, Role: p.role, Status: p.status, LastSeen: p.lastSeen}
	}
	return out
}

// Participant 返回单个参与者快照
func (f *Fabric) Participant(id string) (ParticipantInfo, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.participants[id]
	if !ok {
		return ParticipantInfo{}, false
	}
	return ParticipantInfo{ID: p.id, Role: p.role, Status: p.status, LastSeen: p.lastSeen}, true
}

// OnlineCount 在线参与者数量
func (f *Fabric) OnlineCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.onlineLocked()
}

// OfflineCount 离线参与者数量
func (f *Fabric) OfflineCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.participants) - f.onlineLocked()
}

func (f *Fabric) onlineLocked() int {
	n := 0
	for _, p := range f.participants {
		if p.status == StatusOnline {
			n++
		}
	}
	return n
}

func (f *Fabric) sortedLocked(keep func(*participant) bool) []*participant {
	out := make([]*participant, 0, len(f.participants))
	for _, p := range f.participants {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// ============================================================
// 心跳巡检
// ============================================================

// Start 启动心跳巡检循环
func (f *Fabric) Start() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.Sweep()
			case <-f.done:
				return
			}
		}
	}()
}

// Sweep 执行一次巡检，返回本次被标记离线的参与者
func (f *Fabric) Sweep() []string {
	now := f.now()

	f.mu.Lock()
	var offline []string
	for _, p := range f.sortedLocked(func(p *participant) bool { return p.status == StatusOnline }) {
		if now.Sub(p.lastSeen) > f.cfg.OfflineAfter {
			p.status = StatusOffline
			offline = append(offline, p.id)
		}
	}
	callbacks := append([]func(string){}, f.onOffline...)
	f.inst.setOnline(f.onlineLocked())
	f.mu.Unlock()

	for _, id := range offline {
		f.logger.Warn("participant marked offline", zap.String("participant_id", id))
		for _, cb := range callbacks {
			cb(id)
		}
	}
	f.pruneGossip(now)
	return offline
}

// Close 停止巡检并通知所有邮箱
func (f *Fabric) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
		f.wg.Wait()
	})
}

// Done 在 Fabric 关闭时关闭
func (f *Fabric) Done() <-chan struct{} { return f.done }

func (f *Fabric) shuffle(list []*participant) {
	f.rngMu.Lock()
	f.rng.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
	f.rngMu.Unlock()
}
