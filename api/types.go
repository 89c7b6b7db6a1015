package api

import (
	"time"

	"github.com/BaSui01/swarmflow/agent/events"
	"github.com/BaSui01/swarmflow/agent/swarm"
)

// =============================================================================
// 通用响应信封
// =============================================================================

// Response 统一 API 响应结构
// @Description 所有 JSON 端点共用的响应信封
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
// @Description 错误详细结构
type ErrorInfo struct {
	// 错误代码
	Code string `json:"code" example:"INVALID_REQUEST"`
	// 人类可读的错误消息
	Message   string `json:"message" example:"objective is required"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	// HTTP 状态码，不序列化
	HTTPStatus int `json:"-"`
}

// =============================================================================
// 蜂群类型
// =============================================================================

// CreateSwarmRequest 创建蜂群请求。省略的字段使用服务端默认值。
// @Description 创建蜂群请求结构
type CreateSwarmRequest struct {
	// 目标描述
	Objective string `json:"objective" example:"optimize the checkout API and add tests" binding:"required"`
	// 工作者上限
	MaxWorkers int `json:"max_workers,omitempty" example:"4"`
	// 共识算法: majority, weighted, byzantine
	ConsensusAlgorithm string `json:"consensus_algorithm,omitempty" example:"majority"`
	// queen 类型: strategic, tactical, adaptive
	QueenType string `json:"queen_type,omitempty" example:"strategic"`
	// 是否自动扩容
	AutoScale *bool `json:"auto_scale,omitempty"`
	// 固定随机源，便于复现
	Seed uint64 `json:"seed,omitempty"`
}

// ApplyTo 将请求覆盖到默认配置上
func (r CreateSwarmRequest) ApplyTo(cfg swarm.Config) swarm.Config {
	cfg.Objective = r.Objective
	if r.MaxWorkers > 0 {
		cfg.MaxWorkers = r.MaxWorkers
	}
	if r.ConsensusAlgorithm != "" {
		cfg.ConsensusAlgorithm = fabricAlgorithm(r.ConsensusAlgorithm)
	}
	if r.QueenType != "" {
		cfg.QueenType = queenType(r.QueenType)
	}
	if r.AutoScale != nil {
		cfg.AutoScale = *r.AutoScale
	}
	if r.Seed != 0 {
		cfg.Seed = r.Seed
	}
	return cfg
}

// SwarmListResponse 蜂群列表
// @Description 蜂群列表响应
type SwarmListResponse struct {
	Swarms []swarm.Status `json:"swarms"`
	Total  int            `json:"total"`
}

// CheckpointResponse 手动保存检查点的结果
// @Description 检查点响应
type CheckpointResponse struct {
	SwarmID  string           `json:"swarm_id"`
	Snapshot swarm.Snapshot   `json:"snapshot"`
	Saved    bool             `json:"saved"`
	Stored   *CheckpointEntry `json:"stored,omitempty"`
}

// CheckpointEntry 检查点存储中的最新记录
type CheckpointEntry struct {
	Sequence  int64     `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

// EventListResponse 事件历史
// @Description 事件历史响应
type EventListResponse struct {
	SwarmID string         `json:"swarm_id"`
	Events  []events.Event `json:"events"`
	Dropped int64          `json:"dropped"`
}

// StopSwarmResponse 停止蜂群的结果
type StopSwarmResponse struct {
	SwarmID string      `json:"swarm_id"`
	State   swarm.State `json:"state"`
}
