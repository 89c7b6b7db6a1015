package queen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent/fabric"
	"github.com/BaSui01/swarmflow/agent/persistence"
)

// NamespaceDecisions 决策记忆在知识库中的命名空间
const NamespaceDecisions = "decisions"

const (
	kindOutcome  = "decision_outcome"
	kindDecision = "decision_record"
)

// maxMemory 内存中保留的决策结果上限
const maxMemory = 1000

// Config 女王配置
type Config struct {
	ID   string `json:"id" yaml:"id"`
	Type Type   `json:"type" yaml:"type"`
	// Seed 自适应人格探索用随机源，0 表示按时间播种
	Seed uint64 `json:"seed" yaml:"seed"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{ID: "queen", Type: TypeStrategic}
}

// Outcome 一次决策的执行结果，供自适应人格参考
type Outcome struct {
	Topic      string    `json:"topic"`
	Option     string    `json:"option"`
	Success    bool      `json:"success"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Decision 一轮共识在女王视角下的记录。Outcome 为集群实际结果，QueenTally 仅作参考。
type Decision struct {
	RoundID    string            `json:"round_id"`
	Topic      string            `json:"topic"`
	Options    []string          `json:"options"`
	PeerVotes  map[string]string `json:"peer_votes"`
	QueenVote  string            `json:"queen_vote"`
	QueenTally Tally             `json:"queen_tally"`
	Outcome    string            `json:"outcome"`
	Reached    bool              `json:"reached"`
	Confidence float64           `json:"confidence"`
	DecidedAt  time.Time         `json:"decided_at"`
}

// Queen 决策引擎：分析目标、生成计划、按人格投票
type Queen struct {
	id     string
	typ    Type
	store  persistence.KnowledgeStore
	logger *zap.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	memory []Outcome
}

// New 创建决策引擎。store 可为 nil，此时决策记忆只保存在内存中。
func New(cfg Config, store persistence.KnowledgeStore, logger *zap.Logger) (*Queen, error) {
	if cfg.Type == "" {
		cfg.Type = TypeStrategic
	}
	if !cfg.Type.Valid() {
		return nil, fmt.Errorf("unknown queen type %q", cfg.Type)
	}
	if cfg.ID == "" {
		cfg.ID = "queen"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Queen{
		id:     cfg.ID,
		typ:    cfg.Type,
		store:  store,
		logger: logger.With(zap.String("component", "queen"), zap.String("queen_type", string(cfg.Type))),
		rng:    rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d)),
	}, nil
}

// ID 返回女王的参与者 ID
func (q *Queen) ID() string { return q.id }

// Type 返回女王人格
func (q *Queen) Type() Type { return q.typ }

// RecordOutcome 记录一次决策的执行结果。持久化失败只记录日志。
func (q *Queen) RecordOutcome(ctx context.Context, topic, option string, success bool) {
	o := Outcome{Topic: topic, Option: option, Success: success, RecordedAt: time.Now()}
	q.remember(o)

	if q.store == nil {
		return
	}
	key := "outcome:" + uuid.NewString()
	if err := q.store.Put(ctx, NamespaceDecisions, key, o, kindOutcome); err != nil {
		q.logger.Warn("persist decision outcome failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (q *Queen) remember(o Outcome) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.memory = append(q.memory, o)
	if len(q.memory) > maxMemory {
		q.memory = q.memory[len(q.memory)-maxMemory:]
	}
}

// LoadMemory 从知识库恢复历史决策结果，返回加载条数
func (q *Queen) LoadMemory(ctx context.Context) (int, error) {
	if q.store == nil {
		return 0, nil
	}
	entries, err := q.store.Search(ctx, NamespaceDecisions, "outcome:*")
	if err != nil {
		return 0, fmt.Errorf("load decision memory: %w", err)
	}

	loaded := make([]Outcome, 0, len(entries))
	for i := range entries {
		var o Outcome
		if err := entries[i].Decode(&o); err != nil {
			q.logger.Warn("skip malformed decision outcome", zap.String("key", entries[i].Key), zap.Error(err))
			continue
		}
		loaded = append(loaded, o)
	}
	// 按记录时间排序，保证 lastSuccess 取到最近一次
	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].RecordedAt.Before(loaded[j].RecordedAt)
	})

	q.mu.Lock()
	q.memory = append(loaded, q.memory...)
	if len(q.memory) > maxMemory {
		q.memory = q.memory[len(q.memory)-maxMemory:]
	}
	q.mu.Unlock()

	q.logger.Info("decision memory loaded", zap.Int("count", len(loaded)))
	return len(loaded), nil
}

// Memory 返回决策记忆副本
func (q *Queen) Memory() []Outcome {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Outcome, len(q.memory))
	copy(out, q.memory)
	return out
}

// lastSuccess 同一主题下最近一次成功、且仍在当前选项中的选项
func (q *Queen) lastSuccess(topic string, options []string) (string, bool) {
	present := wordSet(options...)
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.memory) - 1; i >= 0; i-- {
		o := q.memory[i]
		if o.Topic == topic && o.Success && present[o.Option] {
			return o.Option, true
		}
	}
	return "", false
}

// DecisionFromResult 由一轮已完成的共识生成决策记录
func (q *Queen) DecisionFromResult(res *fabric.Result) Decision {
	peers := make(map[string]string, len(res.Votes))
	for id, v := range res.Votes {
		if id != q.id {
			peers[id] = v
		}
	}
	queenVote := res.Votes[q.id]
	if queenVote == "" {
		queenVote = q.CastVote(res.Topic, res.Options, peers)
	}
	return Decision{
		RoundID:    res.RoundID,
		Topic:      res.Topic,
		Options:    res.Options,
		PeerVotes:  peers,
		QueenVote:  queenVote,
		QueenTally: q.TallyDecision(res.Options, peers, queenVote),
		Outcome:    res.Decision,
		Reached:    res.Reached,
		Confidence: res.Confidence,
		DecidedAt:  time.Now(),
	}
}

// RecordDecision 持久化决策记录（尽力而为）
func (q *Queen) RecordDecision(ctx context.Context, d Decision) {
	q.logger.Info("decision recorded",
		zap.String("round_id", d.RoundID),
		zap.String("topic", d.Topic),
		zap.String("outcome", d.Outcome),
		zap.String("queen_vote", d.QueenVote),
		zap.Float64("confidence", d.Confidence),
	)
	if q.store == nil {
		return
	}
	if err := q.store.Put(ctx, NamespaceDecisions, "decision:"+d.RoundID, d, kindDecision); err != nil {
		q.logger.Warn("persist decision failed", zap.String("round_id", d.RoundID), zap.Error(err))
	}
}

// Vote 实现共识仲裁者：收到 Ballot 后按人格投票
func (q *Queen) Vote(b fabric.Ballot) string {
	return q.CastVote(b.Topic, b.Options, b.PeerVotes)
}
