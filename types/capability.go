package types

import (
	"strings"
	"unicode"
)

// CapabilityType 工作者能力类型（封闭枚举）
type CapabilityType string

const (
	CapabilityResearcher CapabilityType = "researcher"
	CapabilityCoder      CapabilityType = "coder"
	CapabilityAnalyst    CapabilityType = "analyst"
	CapabilityTester     CapabilityType = "tester"
	CapabilityArchitect  CapabilityType = "architect"
	CapabilityReviewer   CapabilityType = "reviewer"
	CapabilityOptimizer  CapabilityType = "optimizer"
	CapabilityDocumenter CapabilityType = "documenter"
)

// CapabilitySpec 能力类型的匹配关键词与评分权重
type CapabilitySpec struct {
	Keywords []string
	Weight   float64
}

// CapabilityOrder 固定的能力类型枚举顺序，平局时按此顺序取第一个
var CapabilityOrder = []CapabilityType{
	CapabilityResearcher,
	CapabilityCoder,
	CapabilityAnalyst,
	CapabilityTester,
	CapabilityArchitect,
	CapabilityReviewer,
	CapabilityOptimizer,
	CapabilityDocumenter,
}

var capabilitySpecs = map[CapabilityType]CapabilitySpec{
	CapabilityResearcher: {Keywords: []string{"research", "investigate", "analyze", "explore", "find", "discover", "study"}, Weight: 1.2},
	CapabilityCoder:      {Keywords: []string{"code", "implement", "build", "develop", "fix", "create", "program"}, Weight: 1.3},
	CapabilityAnalyst:    {Keywords: []string{"analyze", "data", "metrics", "performance", "report", "statistics"}, Weight: 1.1},
	CapabilityTester:     {Keywords: []string{"test", "validate", "check", "verify", "quality", "qa"}, Weight: 1.2},
	CapabilityArchitect:  {Keywords: []string{"design", "architecture", "structure", "plan", "system"}, Weight: 1.4},
	CapabilityReviewer:   {Keywords: []string{"review", "feedback", "improve", "refactor", "audit"}, Weight: 1.1},
	CapabilityOptimizer:  {Keywords: []string{"optimize", "performance", "speed", "efficiency", "enhance"}, Weight: 1.3},
	CapabilityDocumenter: {Keywords: []string{"document", "explain", "write", "describe", "guide"}, Weight: 1.0},
}

// Spec 返回能力类型的规格；未知类型返回权重 1.0 的空规格
func (c CapabilityType) Spec() CapabilitySpec {
	if s, ok := capabilitySpecs[c]; ok {
		return s
	}
	return CapabilitySpec{Weight: 1.0}
}

// Valid reports whether c is one of the closed capability types.
func (c CapabilityType) Valid() bool {
	_, ok := capabilitySpecs[c]
	return ok
}

// KeywordHits counts the words of text that match one of the spec's keywords.
// A word matches when it starts with a keyword, so "tests" matches "test".
func (s CapabilitySpec) KeywordHits(text string) int {
	hits := 0
	for _, word := range Tokenize(text) {
		for _, kw := range s.Keywords {
			if strings.HasPrefix(word, kw) {
				hits++
				break
			}
		}
	}
	return hits
}

// MatchCapability 返回与文本关键词命中最多的能力类型。
// 无命中时返回 ok=false；平局按 CapabilityOrder 取第一个。
func MatchCapability(text string) (CapabilityType, bool) {
	best := CapabilityType("")
	bestHits := 0
	for _, c := range CapabilityOrder {
		if hits := c.Spec().KeywordHits(text); hits > bestHits {
			best, bestHits = c, hits
		}
	}
	return best, bestHits > 0
}

// Tokenize splits text into lower-case alphanumeric words.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
