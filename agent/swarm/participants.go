package swarm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent/fabric"
	"github.com/BaSui01/swarmflow/agent/scheduler"
	"github.com/BaSui01/swarmflow/types"
)

// leanings 各能力类型在方案投票中偏好的词，与能力关键词一起参与打分
var leanings = map[types.CapabilityType][]string{
	types.CapabilityResearcher: {"explore", "iterative", "incremental"},
	types.CapabilityCoder:      {"simple", "direct", "quick"},
	types.CapabilityAnalyst:    {"incremental", "layer"},
	types.CapabilityTester:     {"iterative", "incremental", "targeted"},
	types.CapabilityArchitect:  {"scalable", "modular", "extensible", "maintainable", "component"},
	types.CapabilityReviewer:   {"maintainable", "refine", "quality"},
	types.CapabilityOptimizer:  {"fast", "quick", "efficient"},
	types.CapabilityDocumenter: {"simple", "maintainable"},
}

// WorkerVote 工作者按自身能力为选项打分，得分最高者胜出，平局取靠前的选项
func WorkerVote(c types.CapabilityType, options []string) string {
	if len(options) == 0 {
		return ""
	}
	spec := c.Spec()
	best, bestScore := options[0], -1
	for _, opt := range options {
		score := spec.KeywordHits(opt)
		words := types.Tokenize(opt)
		for _, lean := range leanings[c] {
			for _, w := range words {
				if strings.HasPrefix(w, lean) {
					score++
				}
			}
		}
		if score > bestScore {
			best, bestScore = opt, score
		}
	}
	return best
}

// Provision 实现 scheduler.Provisioner：把工作者注册为通信层参与者并启动其收件循环
func (s *Swarm) Provision(_ context.Context, w scheduler.Worker) error {
	mb, err := s.fabric.Register(w.ID, fabric.RoleWorker)
	if err != nil {
		return fmt.Errorf("register worker on fabric: %w", err)
	}
	s.wg.Add(1)
	go s.workerLoop(w.ID, w.Capability, mb)
	return nil
}

func (s *Swarm) workerLoop(id string, c types.CapabilityType, mb *fabric.Mailbox) {
	defer s.wg.Done()
	logger := s.logger.With(zap.String("worker_id", id))

	heartbeat := time.NewTicker(s.heartbeatEvery())
	defer heartbeat.Stop()
	for {
		select {
		case env := <-mb.C:
			s.countMessage(env)
			env.Ack()
			if env.Type != fabric.MsgConsensusPropose {
				continue
			}
			ballot, ok := env.Payload.(fabric.Ballot)
			if !ok {
				continue
			}
			opt := WorkerVote(c, ballot.Options)
			if err := s.fabric.Vote(ballot.RoundID, id, opt); err != nil {
				logger.Debug("vote rejected", zap.String("round_id", ballot.RoundID), zap.Error(err))
			}
		case <-heartbeat.C:
			if s.isSilenced(id) {
				continue
			}
			_ = s.fabric.Heartbeat(id)
		case <-mb.Done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Swarm) queenLoop(mb *fabric.Mailbox) {
	defer s.wg.Done()
	id := s.queen.ID()

	heartbeat := time.NewTicker(s.heartbeatEvery())
	defer heartbeat.Stop()
	for {
		select {
		case env := <-mb.C:
			s.countMessage(env)
			env.Ack()
			if env.Type != fabric.MsgConsensusPropose {
				continue
			}
			ballot, ok := env.Payload.(fabric.Ballot)
			if !ok {
				continue
			}
			if err := s.fabric.Vote(ballot.RoundID, id, s.queen.Vote(ballot)); err != nil {
				s.logger.Warn("queen vote rejected", zap.String("round_id", ballot.RoundID), zap.Error(err))
			}
		case <-heartbeat.C:
			_ = s.fabric.Heartbeat(id)
		case <-mb.Done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// heartbeatEvery 参与者主动心跳的间隔，取巡检间隔的一半
func (s *Swarm) heartbeatEvery() time.Duration {
	return max(s.cfg.Fabric.HeartbeatInterval/2, time.Millisecond)
}

// Silence 让工作者停止发送心跳，巡检会在 OfflineAfter 之后将其标记离线
func (s *Swarm) Silence(workerID string) {
	s.mu.Lock()
	s.silenced[workerID] = true
	s.mu.Unlock()
}

// Rejoin 恢复工作者心跳并重新注册到通信层，调度器随之把它恢复为 idle
func (s *Swarm) Rejoin(workerID string) error {
	if _, ok := s.sched.Worker(workerID); !ok {
		return types.NewNotFoundError("worker not found: " + workerID)
	}
	s.mu.Lock()
	delete(s.silenced, workerID)
	s.mu.Unlock()
	if _, err := s.fabric.Register(workerID, fabric.RoleWorker); err != nil {
		return fmt.Errorf("re-register worker on fabric: %w", err)
	}
	return nil
}

func (s *Swarm) isSilenced(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.silenced[id]
}

func (s *Swarm) countMessage(env *fabric.Envelope) {
	s.mu.Lock()
	s.messages[env.Protocol]++
	s.mu.Unlock()
}
