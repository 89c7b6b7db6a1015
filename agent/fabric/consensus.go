package fabric

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/types"
)

var (
	ErrUnknownRound   = errors.New("unknown consensus round")
	ErrRoundClosed    = errors.New("consensus round is closed")
	ErrNotEligible    = errors.New("participant is not eligible to vote in this round")
	ErrDuplicateVote  = errors.New("participant already voted")
	ErrInvalidOption  = errors.New("option is not part of the proposal")
	ErrEmptyProposal  = errors.New("proposal needs at least one option")
	ErrNoParticipants = errors.New("consensus needs at least one participant")
)

// RoundStatus 投票轮次状态
type RoundStatus string

const (
	RoundVoting    RoundStatus = "voting"
	RoundCompleted RoundStatus = "completed"
)

// Proposal 共识提议
type Proposal struct {
	Topic     string         `json:"topic"`
	Options   []string       `json:"options"`
	Algorithm Algorithm      `json:"algorithm"`
	Quorum    float64        `json:"quorum,omitempty"`
	ArbiterID string         `json:"arbiter_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timeout   time.Duration  `json:"timeout,omitempty"`
}

// Ballot 是 propose 消息的载荷。仲裁者收到的选票附带同伴投票。
type Ballot struct {
	RoundID   string            `json:"round_id"`
	Topic     string            `json:"topic"`
	Options   []string          `json:"options"`
	Algorithm Algorithm         `json:"algorithm"`
	PeerVotes map[string]string `json:"peer_votes,omitempty"`
	Context   map[string]any    `json:"context,omitempty"`
	Deadline  time.Time         `json:"deadline"`
}

// Round 投票轮次快照，完成后不再变化
type Round struct {
	ID           string             `json:"id"`
	Topic        string             `json:"topic"`
	Options      []string           `json:"options"`
	Votes        map[string]string  `json:"votes"`
	Algorithm    Algorithm          `json:"algorithm"`
	Quorum       float64            `json:"quorum"`
	ArbiterID    string             `json:"arbiter_id,omitempty"`
	Participants []string           `json:"participants"`
	Result       string             `json:"result,omitempty"`
	Tally        map[string]float64 `json:"tally,omitempty"`
	Confidence   float64            `json:"confidence"`
	Status       RoundStatus        `json:"status"`
	StartedAt    time.Time          `json:"started_at"`
	CompletedAt  time.Time          `json:"completed_at,omitempty"`
}

// Result 共识结果
type Result struct {
	RoundID      string             `json:"round_id"`
	Topic        string             `json:"topic"`
	Decision     string             `json:"decision"`
	Reached      bool               `json:"reached"`
	Algorithm    Algorithm          `json:"algorithm"`
	Options      []string           `json:"options"`
	Votes        map[string]string  `json:"votes"`
	NullVotes    []string           `json:"null_votes,omitempty"`
	Tally        map[string]float64 `json:"tally"`
	Participants int                `json:"participants"`
	Confidence   float64            `json:"confidence"`
	Duration     time.Duration      `json:"duration"`
}

type roundState struct {
	round    Round
	eligible map[string]bool
	notify   chan struct{}
}

func (s *roundState) snapshot() Round {
	r := s.round
	r.Options = append([]string(nil), s.round.Options...)
	r.Participants = append([]string(nil), s.round.Participants...)
	r.Votes = make(map[string]string, len(s.round.Votes))
	for k, v := range s.round.Votes {
		r.Votes[k] = v
	}
	if s.round.Tally != nil {
		r.Tally = make(map[string]float64, len(s.round.Tally))
		for k, v := range s.round.Tally {
			r.Tally[k] = v
		}
	}
	return r
}

const maxCompletedRounds = 256

type roundRegistry struct {
	mu        sync.Mutex
	rounds    map[string]*roundState
	completed []string
}

func newRoundRegistry() *roundRegistry {
	return &roundRegistry{rounds: make(map[string]*roundState)}
}

func (r *roundRegistry) add(st *roundState) {
	r.mu.Lock()
	r.rounds[st.round.ID] = st
	r.mu.Unlock()
}

func (r *roundRegistry) complete(id string, apply func(*Round)) Round {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.rounds[id]
	apply(&st.round)
	st.round.Status = RoundCompleted
	r.completed = append(r.completed, id)
	if len(r.completed) > maxCompletedRounds {
		delete(r.rounds, r.completed[0])
		r.completed = r.completed[1:]
	}
	return st.snapshot()
}

// Vote 为轮次投票。每个参与者只能投一次，且必须在投票阶段内。
func (f *Fabric) Vote(roundID, participantID, option string) error {
	f.rounds.mu.Lock()
	st, ok := f.rounds.rounds[roundID]
	if !ok {
		f.rounds.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRound, roundID)
	}
	var err error
	switch {
	case st.round.Status != RoundVoting:
		err = ErrRoundClosed
	case !st.eligible[participantID]:
		err = fmt.Errorf("%w: %s", ErrNotEligible, participantID)
	case st.round.Votes[participantID] != "":
		err = fmt.Errorf("%w: %s", ErrDuplicateVote, participantID)
	case !contains(st.round.Options, option):
		err = fmt.Errorf("%w: %q", ErrInvalidOption, option)
	default:
		st.round.Votes[participantID] = option
		select {
		case st.notify <- struct{}{}:
		default:
		}
	}
	f.rounds.mu.Unlock()

	if err == nil {
		f.touch(participantID)
	}
	return err
}

// Round 返回轮次快照
func (f *Fabric) Round(id string) (Round, bool) {
	f.rounds.mu.Lock()
	defer f.rounds.mu.Unlock()
	st, ok := f.rounds.rounds[id]
	if !ok {
		return Round{}, false
	}
	return st.snapshot(), true
}

// ActiveRounds 返回仍在投票阶段的轮次
func (f *Fabric) ActiveRounds() []Round {
	f.rounds.mu.Lock()
	defer f.rounds.mu.Unlock()
	var out []Round
	for _, st := range f.rounds.rounds {
		if st.round.Status == RoundVoting {
			out = append(out, st.snapshot())
		}
	}
	return out
}

// Consensus 执行一轮共识：提议 → 收票 → 计票 → 公告。
//
// 仲裁者（ArbiterID，通常为 queen）在同伴投票收齐或超时后单独收到附带同伴投票的提议。
// 超时未投票的参与者记为空票，计入分母。
// 无人投票时返回 CONSENSUS_TIMEOUT；byzantine 未达法定比例时返回 CONSENSUS_NO_QUORUM。
// 两种情况下都会同时返回结果。
func (f *Fabric) Consensus(ctx context.Context, from string, p Proposal, participants []string) (*Result, error) {
	if len(p.Options) == 0 {
		return nil, ErrEmptyProposal
	}
	participants = dedupe(participants)
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}
	if !p.Algorithm.Valid() {
		p.Algorithm = AlgorithmMajority
	}
	if p.Quorum <= 0 || p.Quorum > 1 {
		p.Quorum = f.cfg.Quorum
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = f.cfg.ConsensusTimeout
	}
	arbiter := ""
	if p.ArbiterID != "" && contains(participants, p.ArbiterID) {
		arbiter = p.ArbiterID
	}

	ctx, span := f.inst.tracer.Start(ctx, "fabric.consensus", trace.WithAttributes(
		attribute.String("consensus.topic", p.Topic),
		attribute.String("consensus.algorithm", string(p.Algorithm)),
		attribute.Int("consensus.participants", len(participants))))
	defer span.End()

	f.touch(from)
	started := f.now()
	st := &roundState{
		round: Round{
			ID:           uuid.NewString(),
			Topic:        p.Topic,
			Options:      append([]string(nil), p.Options...),
			Votes:        make(map[string]string),
			Algorithm:    p.Algorithm,
			Quorum:       p.Quorum,
			ArbiterID:    arbiter,
			Participants: participants,
			Status:       RoundVoting,
			StartedAt:    started,
		},
		eligible: make(map[string]bool, len(participants)),
		notify:   make(chan struct{}, 1),
	}
	for _, id := range participants {
		st.eligible[id] = true
	}
	f.rounds.add(st)

	logger := f.logger.With(zap.String("round_id", st.round.ID), zap.String("topic", p.Topic))
	logger.Debug("consensus round started",
		zap.String("algorithm", string(p.Algorithm)),
		zap.Int("participants", len(participants)))

	// propose + collect
	peers := make([]string, 0, len(participants))
	for _, id := range participants {
		if id != arbiter {
			peers = append(peers, id)
		}
	}
	ballot := Ballot{
		RoundID:   st.round.ID,
		Topic:     p.Topic,
		Options:   st.round.Options,
		Algorithm: p.Algorithm,
		Context:   p.Context,
		Deadline:  started.Add(timeout),
	}
	f.propose(from, peers, ballot)
	f.collect(ctx, st, peers, timeout)

	if arbiter != "" && ctx.Err() == nil {
		arbiterBallot := ballot
		arbiterBallot.PeerVotes = f.votesOf(st)
		arbiterBallot.Deadline = f.now().Add(timeout)
		f.propose(from, []string{arbiter}, arbiterBallot)
		f.collect(ctx, st, []string{arbiter}, timeout)
	}

	// tally
	var outcome TallyOutcome
	round := f.rounds.complete(st.round.ID, func(r *Round) {
		outcome = Tally(TallyInput{
			Algorithm:    r.Algorithm,
			Options:      r.Options,
			Votes:        r.Votes,
			Participants: len(r.Participants),
			ArbiterID:    r.ArbiterID,
			Quorum:       r.Quorum,
		})
		r.Result = outcome.Decision
		r.Tally = outcome.Tally
		r.Confidence = outcome.Confidence
		r.CompletedAt = f.now()
	})

	res := &Result{
		RoundID:      round.ID,
		Topic:        round.Topic,
		Decision:     outcome.Decision,
		Reached:      outcome.Reached,
		Algorithm:    round.Algorithm,
		Options:      round.Options,
		Votes:        round.Votes,
		Tally:        round.Tally,
		Participants: len(round.Participants),
		Confidence:   round.Confidence,
		Duration:     round.CompletedAt.Sub(round.StartedAt),
	}
	for _, id := range round.Participants {
		if _, ok := round.Votes[id]; !ok {
			res.NullVotes = append(res.NullVotes, id)
		}
	}

	// 调用方取消时返回已收集的部分结果，不再公告
	if ctxErr := ctx.Err(); ctxErr != nil {
		f.inst.round(ctx, round.Algorithm, "cancelled", res.Duration)
		span.SetStatus(codes.Error, ctxErr.Error())
		logger.Warn("consensus interrupted",
			zap.Int("votes", len(round.Votes)), zap.Int("null_votes", len(res.NullVotes)))
		return res, fmt.Errorf("consensus %q interrupted: %w", p.Topic, ctxErr)
	}

	// announce
	f.announce(from, round.Participants, res)

	var err error
	outcomeLabel := "decided"
	switch {
	case len(round.Votes) == 0:
		outcomeLabel = "timeout"
		err = types.NewConsensusTimeoutError(fmt.Sprintf("no votes received for %q", p.Topic))
	case !outcome.Reached:
		outcomeLabel = "no_quorum"
		err = types.NewNoQuorumError(fmt.Sprintf("%q: winning share %.2f below quorum %.2f",
			p.Topic, outcome.WinningVotes/float64(len(round.Participants)), round.Quorum))
	}
	f.inst.round(ctx, round.Algorithm, outcomeLabel, res.Duration)
	span.SetAttributes(attribute.String("consensus.decision", res.Decision))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("consensus not reached", zap.Error(err), zap.Int("null_votes", len(res.NullVotes)))
		return res, err
	}
	logger.Info("consensus reached",
		zap.String("decision", res.Decision),
		zap.Float64("confidence", res.Confidence),
		zap.Int("null_votes", len(res.NullVotes)))
	return res, nil
}

func (f *Fabric) propose(from string, to []string, ballot Ballot) {
	base := f.newEnvelope(from, "", MsgConsensusPropose, ProtocolConsensus, ballot)
	base.GroupID = ballot.RoundID
	for _, id := range to {
		p, err := f.lookupOnline(id)
		if err != nil {
			continue
		}
		f.tryEnqueue(p, base.copyFor(id, false))
	}
}

func (f *Fabric) announce(from string, to []string, res *Result) {
	base := f.newEnvelope(from, "", MsgConsensusResult, ProtocolConsensus, *res)
	base.GroupID = res.RoundID
	for _, id := range to {
		if id == from {
			continue
		}
		p, err := f.lookupOnline(id)
		if err != nil {
			continue
		}
		f.tryEnqueue(p, base.copyFor(id, false))
	}
}

// collect 等待 voters 全部投票，或超时、取消、Fabric 关闭
func (f *Fabric) collect(ctx context.Context, st *roundState, voters []string, timeout time.Duration) {
	if len(voters) == 0 {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if f.allVoted(st, voters) {
			return
		}
		select {
		case <-st.notify:
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		case <-f.done:
			return
		}
	}
}

func (f *Fabric) allVoted(st *roundState, voters []string) bool {
	f.rounds.mu.Lock()
	defer f.rounds.mu.Unlock()
	for _, id := range voters {
		if st.round.Votes[id] == "" {
			return false
		}
	}
	return true
}

func (f *Fabric) votesOf(st *roundState) map[string]string {
	f.rounds.mu.Lock()
	defer f.rounds.mu.Unlock()
	out := make(map[string]string, len(st.round.Votes))
	for k, v := range st.round.Votes {
		out[k] = v
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
