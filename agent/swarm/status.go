package swarm

import (
	"time"

	"github.com/BaSui01/swarmflow/agent/fabric"
	"github.com/BaSui01/swarmflow/agent/queen"
	"github.com/BaSui01/swarmflow/agent/scheduler"
)

// State 实例生命周期
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the swarm has stopped running.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Health 运行健康度
type Health string

const (
	// HealthProgressing 没有失败任务、未决决策或离线工作者
	HealthProgressing Health = "progressing"
	// HealthDegraded 存在失败任务、未达成的共识或离线工作者，但仍能推进
	HealthDegraded Health = "degraded"
	// HealthStuck 仍有待处理任务，却没有可用的工作者
	HealthStuck Health = "stuck"
)

// DecisionSummary 一轮共识的对外摘要
type DecisionSummary struct {
	RoundID    string  `json:"round_id"`
	Topic      string  `json:"topic"`
	Outcome    string  `json:"outcome"`
	Reached    bool    `json:"reached"`
	Confidence float64 `json:"confidence"`
	QueenVote  string  `json:"queen_vote"`
}

// Status 实例状态报告
type Status struct {
	ID          string           `json:"id"`
	Objective   string           `json:"objective"`
	State       State            `json:"state"`
	Health      Health           `json:"health"`
	Strategy    queen.Strategy   `json:"strategy,omitempty"`
	QueenType   queen.Type       `json:"queen_type"`
	Algorithm   fabric.Algorithm `json:"consensus_algorithm"`
	Phase       string           `json:"phase,omitempty"`
	PhasesTotal int              `json:"phases_total"`
	PhasesDone  int              `json:"phases_done"`

	Tasks   scheduler.TaskStats   `json:"tasks"`
	Workers scheduler.WorkerStats `json:"workers"`

	// 三类问题分开报告
	FailedTasks         []string `json:"failed_tasks,omitempty"`
	NoQuorumDecisions   []string `json:"no_quorum_decisions,omitempty"`
	OfflineParticipants []string `json:"offline_participants,omitempty"`
	AbandonedPhases     []string `json:"abandoned_phases,omitempty"`

	Decisions  []DecisionSummary       `json:"decisions,omitempty"`
	Messages   map[fabric.Protocol]int `json:"messages,omitempty"`
	StartedAt  time.Time               `json:"started_at,omitempty"`
	FinishedAt time.Time               `json:"finished_at,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// assessHealth 由状态计数推导健康度
func assessHealth(st *Status) Health {
	if !st.State.Terminal() && st.Tasks.Pending > 0 && st.Workers.Idle+st.Workers.Busy == 0 {
		return HealthStuck
	}
	if st.Tasks.Failed > 0 || len(st.NoQuorumDecisions) > 0 || len(st.OfflineParticipants) > 0 {
		return HealthDegraded
	}
	return HealthProgressing
}

// Status 返回当前状态
func (s *Swarm) Status() Status {
	stats := s.sched.Stats()

	s.mu.RLock()
	st := Status{
		ID:                s.id,
		Objective:         s.cfg.Objective,
		State:             s.state,
		QueenType:         s.queen.Type(),
		Algorithm:         s.cfg.ConsensusAlgorithm,
		Phase:             s.phase,
		PhasesDone:        s.phasesDone,
		Tasks:             stats.Tasks,
		Workers:           stats.Workers,
		NoQuorumDecisions: append([]string(nil), s.noQuorum...),
		AbandonedPhases:   append([]string(nil), s.abandoned...),
		Messages:          make(map[fabric.Protocol]int, len(s.messages)),
		StartedAt:         s.startedAt,
		FinishedAt:        s.finishedAt,
	}
	if s.plan != nil {
		st.Strategy = s.plan.Strategy
		st.PhasesTotal = len(s.plan.Phases)
	}
	for _, d := range s.decisions {
		st.Decisions = append(st.Decisions, DecisionSummary{
			RoundID:    d.RoundID,
			Topic:      d.Topic,
			Outcome:    d.Outcome,
			Reached:    d.Reached,
			Confidence: d.Confidence,
			QueenVote:  d.QueenVote,
		})
	}
	for p, n := range s.messages {
		st.Messages[p] = n
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	s.mu.RUnlock()

	for _, t := range s.sched.Tasks() {
		if t.Status == scheduler.TaskFailed {
			st.FailedTasks = append(st.FailedTasks, t.ID)
		}
	}
	for _, p := range s.fabric.Participants() {
		if p.Status == fabric.StatusOffline {
			st.OfflineParticipants = append(st.OfflineParticipants, p.ID)
		}
	}
	st.Health = assessHealth(&st)
	return st
}
