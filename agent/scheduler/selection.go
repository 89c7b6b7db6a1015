package scheduler

import (
	"strings"
	"unicode/utf8"
)

// Score 工作者对某条任务的匹配得分
type Score struct {
	WorkerID    string  `json:"worker_id"`
	Keyword     int     `json:"keyword"`
	Performance float64 `json:"performance"`
	Completion  float64 `json:"completion"`
	Total       float64 `json:"total"`
}

// ScoreWorker 计算 (2k + 1.5p + 1.0c) × 能力权重
func ScoreWorker(w *Worker, description string) Score {
	spec := w.Capability.Spec()
	k := spec.KeywordHits(description)
	p := 0.5*w.Performance.SuccessRate + 0.5*(1/(w.Performance.AvgTaskTimeMs+1))
	c := min(float64(w.TasksCompleted)/10, 1)
	return Score{
		WorkerID:    w.ID,
		Keyword:     k,
		Performance: p,
		Completion:  c,
		Total:       (2*float64(k) + 1.5*p + 1.0*c) * spec.Weight,
	}
}

// selectWorker 在候选中选出得分最高者，平局取靠前者。candidates 需按开通顺序排列且均为空闲。
func selectWorker(candidates []*Worker, description string) (*Worker, Score, bool) {
	var (
		best  *Worker
		bestS Score
	)
	for _, w := range candidates {
		s := ScoreWorker(w, description)
		if best == nil || s.Total > bestS.Total {
			best, bestS = w, s
		}
	}
	return best, bestS, best != nil
}

// routingKeyLen 路由缓存键取描述的前 50 个字符
const routingKeyLen = 50

func routingKey(description string) string {
	s := strings.ToLower(description)
	if utf8.RuneCountInString(s) <= routingKeyLen {
		return s
	}
	return string([]rune(s)[:routingKeyLen])
}
