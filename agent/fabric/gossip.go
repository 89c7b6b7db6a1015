package fabric

import (
	"context"
	"time"
)

// gossipState 单条 gossip 消息的传播簿记
type gossipState struct {
	seen      map[string]bool
	seenOrder []string
	forwarded map[string]bool
	created   time.Time
}

func (s *gossipState) markSeen(id string) {
	if !s.seen[id] {
		s.seen[id] = true
		s.seenOrder = append(s.seenOrder, id)
	}
}

func (f *Fabric) stateLocked(msgID string) *gossipState {
	st, ok := f.seen[msgID]
	if !ok {
		st = &gossipState{
			seen:      make(map[string]bool),
			forwarded: make(map[string]bool),
			created:   f.now(),
		}
		f.seen[msgID] = st
	}
	return st
}

// Gossip 从 from 发起一次传播，返回消息 ID 与投递总数。
// 每一跳随机选择 GossipFanout 个未见过该消息的在线参与者，跳数达到 GossipMaxHops 后停止。
func (f *Fabric) Gossip(from string, msgType MessageType, payload any) (string, int) {
	f.touch(from)
	base := f.newEnvelope(from, "", msgType, ProtocolGossip, payload)
	base.Gossip = &GossipMeta{OriginID: from}

	f.gossipMu.Lock()
	st := f.stateLocked(base.ID)
	st.markSeen(from)
	st.forwarded[from] = true
	delivered := f.propagateLocked(st, f.fanoutLocked(st, from, base))
	f.gossipMu.Unlock()

	f.inst.message(context.Background(), ProtocolGossip, "delivered")
	return base.ID, delivered
}

// AcceptGossip 将 env 交给参与者 to 处理，返回 to 本次转发的目标数。
// 同一消息对同一参与者的重复投递不会再次转发。
func (f *Fabric) AcceptGossip(to string, env *Envelope) int {
	if env == nil || env.Gossip == nil {
		return 0
	}

	f.gossipMu.Lock()
	defer f.gossipMu.Unlock()

	st := f.stateLocked(env.ID)
	st.markSeen(env.Gossip.OriginID)
	st.forwarded[env.Gossip.OriginID] = true
	for _, id := range env.Gossip.SeenBy {
		st.markSeen(id)
	}
	if st.forwarded[to] {
		return 0
	}
	st.forwarded[to] = true
	st.markSeen(to)

	if !f.deliverGossipLocked(env.copyFor(to, false)) {
		return 0
	}
	next := f.fanoutLocked(st, to, env)
	f.propagateLocked(st, next)
	return len(next)
}

// fanoutLocked 为 sender 选出下一跳目标并标记为已见
func (f *Fabric) fanoutLocked(st *gossipState, sender string, env *Envelope) []*Envelope {
	if env.Gossip.Hops >= f.cfg.GossipMaxHops {
		return nil
	}

	f.mu.RLock()
	candidates := f.sortedLocked(func(p *participant) bool {
		return p.status == StatusOnline && p.id != sender && !st.seen[p.id]
	})
	f.mu.RUnlock()

	f.shuffle(candidates)
	if len(candidates) > f.cfg.GossipFanout {
		candidates = candidates[:f.cfg.GossipFanout]
	}
	for _, p := range candidates {
		st.markSeen(p.id)
	}

	out := make([]*Envelope, 0, len(candidates))
	for _, p := range candidates {
		c := env.copyFor(p.id, false)
		c.From = sender
		c.Gossip.Hops = env.Gossip.Hops + 1
		c.Gossip.SeenBy = append([]string(nil), st.seenOrder...)
		out = append(out, c)
	}
	return out
}

// propagateLocked 广度优先投递并继续转发
func (f *Fabric) propagateLocked(st *gossipState, queue []*Envelope) int {
	delivered := 0
	for len(queue) > 0 {
		env := queue[0]
		queue = queue[1:]
		if st.forwarded[env.To] {
			continue
		}
		st.forwarded[env.To] = true
		if !f.deliverGossipLocked(env) {
			continue
		}
		delivered++
		queue = append(queue, f.fanoutLocked(st, env.To, env)...)
	}
	return delivered
}

func (f *Fabric) deliverGossipLocked(env *Envelope) bool {
	p, err := f.lookupOnline(env.To)
	if err != nil {
		return false
	}
	return f.tryEnqueue(p, env)
}

func (f *Fabric) pruneGossip(now time.Time) {
	f.gossipMu.Lock()
	defer f.gossipMu.Unlock()
	for id, st := range f.seen {
		if now.Sub(st.created) > f.cfg.GossipSeenTTL {
			delete(f.seen, id)
		}
	}
}
