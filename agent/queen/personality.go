package queen

import (
	"fmt"
	"strings"
)

// Type 女王决策人格（封闭枚举）
type Type string

const (
	TypeStrategic Type = "strategic"
	TypeTactical  Type = "tactical"
	TypeAdaptive  Type = "adaptive"
)

// tacticalMajority 战术型跟随同伴多数所需的份额（严格大于）
const tacticalMajority = 0.6

var (
	forwardKeywords    = []string{"scalable", "maintainable", "extensible", "future"}
	efficiencyKeywords = []string{"simple", "quick", "fast", "efficient"}
)

// personality 每种人格的决策权重与投票函数
type personality struct {
	Weight float64
	Vote   func(q *Queen, topic string, options []string, peerVotes map[string]string) string
}

var personalities = map[Type]personality{
	TypeStrategic: {Weight: 3, Vote: strategicVote},
	TypeTactical:  {Weight: 2, Vote: tacticalVote},
	TypeAdaptive:  {Weight: 2.5, Vote: adaptiveVote},
}

// Valid reports whether t is a known queen type.
func (t Type) Valid() bool {
	_, ok := personalities[t]
	return ok
}

// Weight 人格对应的决策权重
func (t Type) Weight() float64 {
	return personalities[t].Weight
}

// ParseType 解析女王类型，空串返回 strategic
func ParseType(s string) (Type, error) {
	if s == "" {
		return TypeStrategic, nil
	}
	t := Type(strings.ToLower(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown queen type %q", s)
	}
	return t, nil
}

// CastVote 按女王人格在 options 中选择一项。options 为空时返回空串。
func (q *Queen) CastVote(topic string, options []string, peerVotes map[string]string) string {
	if len(options) == 0 {
		return ""
	}
	return personalities[q.typ].Vote(q, topic, options, peerVotes)
}

func strategicVote(_ *Queen, _ string, options []string, _ map[string]string) string {
	if opt, ok := firstWithKeyword(options, forwardKeywords); ok {
		return opt
	}
	return options[0]
}

func tacticalVote(_ *Queen, _ string, options []string, peerVotes map[string]string) string {
	counts := make(map[string]int, len(options))
	total := 0
	for _, v := range peerVotes {
		if v == "" {
			continue
		}
		counts[v]++
		total++
	}
	if total > 0 {
		for _, opt := range options {
			if float64(counts[opt])/float64(total) > tacticalMajority {
				return opt
			}
		}
	}
	if opt, ok := firstWithKeyword(options, efficiencyKeywords); ok {
		return opt
	}
	return options[0]
}

func adaptiveVote(q *Queen, topic string, options []string, _ map[string]string) string {
	if opt, ok := q.lastSuccess(topic, options); ok {
		return opt
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return options[q.rng.IntN(len(options))]
}

// firstWithKeyword 返回第一个包含任一关键词（整词）的选项
func firstWithKeyword(options []string, keywords []string) (string, bool) {
	kw := wordSet(keywords...)
	for _, opt := range options {
		for _, w := range strings.Fields(strings.ToLower(opt)) {
			if kw[strings.Trim(w, ".,;:!?()")] {
				return opt, true
			}
		}
	}
	return "", false
}

// Tally 女王视角的加权计票结果
type Tally struct {
	Winner string             `json:"winner"`
	Scores map[string]float64 `json:"scores"`
}

// TallyDecision 每个同伴计一票，女王的投票计 weight 票；最高者胜，平局取 options 中靠前者。
// 不在 options 中的投票被忽略。
func TallyDecision(options []string, peerVotes map[string]string, queenVote string, weight float64) Tally {
	scores := make(map[string]float64, len(options))
	valid := make(map[string]bool, len(options))
	for _, opt := range options {
		scores[opt] = 0
		valid[opt] = true
	}
	for _, v := range peerVotes {
		if valid[v] {
			scores[v]++
		}
	}
	if valid[queenVote] {
		scores[queenVote] += weight
	}

	t := Tally{Scores: scores}
	best := -1.0
	for _, opt := range options {
		if scores[opt] > best {
			best = scores[opt]
			t.Winner = opt
		}
	}
	return t
}

// TallyDecision 使用女王自身人格权重计票
func (q *Queen) TallyDecision(options []string, peerVotes map[string]string, queenVote string) Tally {
	return TallyDecision(options, peerVotes, queenVote, q.typ.Weight())
}
