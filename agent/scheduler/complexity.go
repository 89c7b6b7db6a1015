package scheduler

import (
	"strings"

	"github.com/BaSui01/swarmflow/types"
)

// 动词权重：高复杂度动词得分高于低复杂度动词
var verbWeights = map[string]int{
	"optimize": 3, "refactor": 3, "design": 3, "architect": 3, "migrate": 3, "integrate": 3,
	"implement": 2, "build": 2, "develop": 2, "create": 2, "analyze": 2, "test": 2, "debug": 2, "fix": 2,
	"list": 1, "get": 1, "read": 1, "show": 1, "fetch": 1,
}

var estimatedDurationMs = map[TaskComplexity]int64{
	ComplexityLow:    30_000,
	ComplexityMedium: 120_000,
	ComplexityHigh:   300_000,
}

// EstimateTask 由描述推导复杂度与预估耗时（毫秒）
func EstimateTask(description string) (TaskComplexity, int64) {
	score := 0
	for _, w := range types.Tokenize(description) {
		score += verbWeights[w]
	}
	switch n := len(strings.TrimSpace(description)); {
	case n > 200:
		score += 2
	case n > 80:
		score++
	}

	c := ComplexityLow
	switch {
	case score >= 5:
		c = ComplexityHigh
	case score >= 2:
		c = ComplexityMedium
	}
	return c, estimatedDurationMs[c]
}

// 可恢复错误的关键字
var recoverableMarkers = []string{"timeout", "network", "temporary", "connection"}

// IsRecoverable 错误信息包含 timeout / network / temporary / connection 之一（忽略大小写）时可恢复
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range recoverableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
