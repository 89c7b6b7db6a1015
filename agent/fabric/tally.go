package fabric

import "math"

// Algorithm 计票算法
type Algorithm string

const (
	AlgorithmMajority  Algorithm = "majority"
	AlgorithmWeighted  Algorithm = "weighted"
	AlgorithmByzantine Algorithm = "byzantine"
)

// Valid reports whether a is a known algorithm.
func (a Algorithm) Valid() bool {
	switch a {
	case AlgorithmMajority, AlgorithmWeighted, AlgorithmByzantine:
		return true
	}
	return false
}

// NoConsensus 是未达成一致时的结果值
const NoConsensus = "no_consensus"

// ArbiterBonus 加权算法中仲裁者选票的额外票数
const ArbiterBonus = 2

// TallyInput 计票输入
type TallyInput struct {
	Algorithm    Algorithm
	Options      []string
	Votes        map[string]string // participantID -> option，缺席者不出现
	Participants int
	ArbiterID    string
	Quorum       float64
}

// TallyOutcome 计票结果
type TallyOutcome struct {
	Decision     string             `json:"decision"`
	Reached      bool               `json:"reached"`
	Tally        map[string]float64 `json:"tally"`
	WinningVotes float64            `json:"winning_votes"`
	Confidence   float64            `json:"confidence"`
}

// Tally 对一轮投票计票。
//
// majority 取相对多数；weighted 在此基础上给仲裁者的选项额外加 ArbiterBonus 票；
// byzantine 要求获胜选项占全部参与者（含缺席）的比例不低于 quorum，
// 比例按两位小数比较，因此 9 人中 6 票（0.67）达到 0.67，5 票（0.56）不达到。
// 平票时按 Options 顺序取第一个。
func Tally(in TallyInput) TallyOutcome {
	counts := make(map[string]float64, len(in.Options))
	valid := make(map[string]bool, len(in.Options))
	for _, o := range in.Options {
		counts[o] = 0
		valid[o] = true
	}
	for _, opt := range in.Votes {
		if valid[opt] {
			counts[opt]++
		}
	}

	// 仲裁者缺席时不计入额外票数，分母也不加
	total := float64(in.Participants)
	if in.Algorithm == AlgorithmWeighted && in.ArbiterID != "" {
		if opt, ok := in.Votes[in.ArbiterID]; ok && valid[opt] {
			counts[opt] += ArbiterBonus
			total += ArbiterBonus
		}
	}

	out := TallyOutcome{Decision: NoConsensus, Tally: counts}
	winner, best := "", 0.0
	for _, o := range in.Options {
		if counts[o] > best {
			winner, best = o, counts[o]
		}
	}
	if best == 0 || total <= 0 {
		return out
	}

	out.WinningVotes = best
	out.Confidence = best / total

	if in.Algorithm == AlgorithmByzantine {
		share := best / float64(in.Participants)
		if math.Round(share*100) < math.Round(in.Quorum*100) {
			return out
		}
	}
	out.Decision = winner
	out.Reached = true
	return out
}
