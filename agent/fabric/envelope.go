package fabric

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Protocol 投递协议
type Protocol string

const (
	ProtocolDirect    Protocol = "direct"
	ProtocolBroadcast Protocol = "broadcast"
	ProtocolMulticast Protocol = "multicast"
	ProtocolGossip    Protocol = "gossip"
	ProtocolConsensus Protocol = "consensus"
)

// MessageType 消息类型
type MessageType string

const (
	MsgTaskAssignment   MessageType = "task_assignment"
	MsgPhaseBriefing    MessageType = "phase_briefing"
	MsgProgress         MessageType = "progress"
	MsgStatus           MessageType = "status"
	MsgScaleSignal      MessageType = "scale_signal"
	MsgConsensusPropose MessageType = "consensus_propose"
	MsgConsensusResult  MessageType = "consensus_result"
)

// Broadcast address used in Envelope.To.
const ToAll = "*"

// GossipMeta 传播元数据
type GossipMeta struct {
	OriginID string   `json:"origin_id"`
	Hops     int      `json:"hops"`
	SeenBy   []string `json:"seen_by"`
}

// Envelope 消息信封。每个接收者拿到独立副本。
type Envelope struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Type      MessageType `json:"type"`
	Protocol  Protocol    `json:"protocol"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	GroupID   string      `json:"group_id,omitempty"`
	Gossip    *GossipMeta `json:"gossip,omitempty"`

	ack     chan struct{}
	ackOnce *sync.Once
}

func newEnvelopeID() string {
	return ulid.Make().String()
}

// RequiresAck reports whether the sender is waiting on Ack.
func (e *Envelope) RequiresAck() bool {
	return e != nil && e.ack != nil
}

// Ack 确认收到消息。可重复调用，对无需确认的消息无效果。
func (e *Envelope) Ack() {
	if e == nil || e.ack == nil {
		return
	}
	e.ackOnce.Do(func() { close(e.ack) })
}

// copyFor 为单个接收者生成副本；reliable 时附带确认通道
func (e *Envelope) copyFor(to string, reliable bool) *Envelope {
	c := *e
	c.To = to
	c.ack, c.ackOnce = nil, nil
	if reliable {
		c.ack = make(chan struct{})
		c.ackOnce = &sync.Once{}
	}
	if e.Gossip != nil {
		g := *e.Gossip
		g.SeenBy = append([]string(nil), e.Gossip.SeenBy...)
		c.Gossip = &g
	}
	return &c
}
