package scheduler

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/BaSui01/swarmflow/types"
)

// WorkerStatus 工作者状态
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerBusy    WorkerStatus = "busy"
	WorkerOffline WorkerStatus = "offline"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether s is a final status.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskComplexity 任务复杂度
type TaskComplexity string

const (
	ComplexityLow    TaskComplexity = "low"
	ComplexityMedium TaskComplexity = "medium"
	ComplexityHigh   TaskComplexity = "high"
)

// 优先级范围
const (
	MinPriority = 1
	MaxPriority = 10
)

// Performance 工作者历史表现
type Performance struct {
	AvgTaskTimeMs float64 `json:"avg_task_time_ms"`
	SuccessRate   float64 `json:"success_rate"`
}

// Worker 工作者。只会被标记为 offline，不会被删除。
type Worker struct {
	ID             string               `json:"id"`
	Capability     types.CapabilityType `json:"capability"`
	Status         WorkerStatus         `json:"status"`
	CurrentTaskID  string               `json:"current_task_id,omitempty"`
	TasksCompleted int                  `json:"tasks_completed"`
	TasksFailed    int                  `json:"tasks_failed"`
	Performance    Performance          `json:"performance"`
	SpawnedAt      time.Time            `json:"spawned_at"`
}

func (w *Worker) recordSuccess(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	n := float64(w.TasksCompleted)
	w.Performance.AvgTaskTimeMs = (w.Performance.AvgTaskTimeMs*n + ms) / (n + 1)
	w.TasksCompleted++
	w.updateSuccessRate()
}

func (w *Worker) recordFailure() {
	w.TasksFailed++
	w.updateSuccessRate()
}

func (w *Worker) updateSuccessRate() {
	total := w.TasksCompleted + w.TasksFailed
	if total == 0 {
		w.Performance.SuccessRate = 1
		return
	}
	w.Performance.SuccessRate = float64(w.TasksCompleted) / float64(total)
}

// Task 调度单元
type Task struct {
	ID                  string          `json:"id"`
	Description         string          `json:"description"`
	Priority            int             `json:"priority"`
	Status              TaskStatus      `json:"status"`
	AssignedWorkerID    string          `json:"assigned_worker_id,omitempty"`
	CompletedBy         string          `json:"completed_by,omitempty"`
	RetryCount          int             `json:"retry_count"`
	EstimatedDurationMs int64           `json:"estimated_duration_ms"`
	Complexity          TaskComplexity  `json:"complexity"`
	Result              json.RawMessage `json:"result,omitempty"`
	Error               string          `json:"error,omitempty"`
	Metadata            map[string]any  `json:"metadata,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	StartedAt           *time.Time      `json:"started_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

func (t *Task) clone() Task {
	c := *t
	c.Metadata = maps.Clone(t.Metadata)
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	return c
}

// Execution 一次任务执行的输入，也是分配通知的载荷
type Execution struct {
	TaskID      string               `json:"task_id"`
	WorkerID    string               `json:"worker_id"`
	Capability  types.CapabilityType `json:"capability"`
	Description string               `json:"description"`
	Priority    int                  `json:"priority"`
	Complexity  TaskComplexity       `json:"complexity"`
	Attempt     int                  `json:"attempt"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
}

// ScaleAction 自动伸缩动作
type ScaleAction string

const (
	ScaleNone         ScaleAction = "none"
	ScaleUp           ScaleAction = "scale_up"
	ScaleDownAdvisory ScaleAction = "scale_down_advisory"
)

// ScaleDecision 一次伸缩检查的结论
type ScaleDecision struct {
	Action     ScaleAction          `json:"action"`
	Capability types.CapabilityType `json:"capability,omitempty"`
	Pending    int                  `json:"pending"`
	Idle       int                  `json:"idle"`
	Busy       int                  `json:"busy"`
	PoolSize   int                  `json:"pool_size"`
	// Surplus 建议移除的空闲工作者数（仅建议）
	Surplus int      `json:"surplus,omitempty"`
	Spawned []Worker `json:"spawned,omitempty"`
	Reason  string   `json:"reason"`
}

// Snapshot 可序列化的调度状态，用于检查点
type Snapshot struct {
	PendingTasks []Task    `json:"pending_tasks"`
	Workers      []Worker  `json:"workers"`
	TakenAt      time.Time `json:"taken_at"`
}

// TaskStats 任务计数
type TaskStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// WorkerStats 工作者计数
type WorkerStats struct {
	Total   int `json:"total"`
	Idle    int `json:"idle"`
	Busy    int `json:"busy"`
	Offline int `json:"offline"`
}

// Stats 调度器统计
type Stats struct {
	Tasks   TaskStats   `json:"tasks"`
	Workers WorkerStats `json:"workers"`
}
