package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent/persistence"
	"github.com/BaSui01/swarmflow/agent/swarm"
	"github.com/BaSui01/swarmflow/api"
	"github.com/BaSui01/swarmflow/types"
)

// stopTimeout 停止实例时等待运行结束的上限
const stopTimeout = 10 * time.Second

// =============================================================================
// 🐝 蜂群 Handler
// =============================================================================

// SwarmHandler 蜂群生命周期与观测接口
type SwarmHandler struct {
	manager     *swarm.Manager
	checkpoints persistence.CheckpointStore
	knowledge   persistence.KnowledgeStore
	logger      *zap.Logger
}

// NewSwarmHandler 创建蜂群处理器。checkpoints 与 knowledge 可以为 nil。
func NewSwarmHandler(manager *swarm.Manager, checkpoints persistence.CheckpointStore, knowledge persistence.KnowledgeStore, logger *zap.Logger) *SwarmHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SwarmHandler{
		manager:     manager,
		checkpoints: checkpoints,
		knowledge:   knowledge,
		logger:      logger.With(zap.String("component", "swarm_handler")),
	}
}

// Register 在 mux 上注册蜂群、检查点与知识库路由
func (h *SwarmHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/swarms", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/swarms", h.HandleList)
	mux.HandleFunc("GET /api/v1/swarms/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/swarms/{id}/stop", h.HandleStop)
	mux.HandleFunc("GET /api/v1/swarms/{id}/snapshot", h.HandleSnapshot)
	mux.HandleFunc("POST /api/v1/swarms/{id}/checkpoint", h.HandleCheckpoint)
	mux.HandleFunc("GET /api/v1/swarms/{id}/events", h.HandleEvents)
	mux.HandleFunc("GET /api/v1/swarms/{id}/stream", h.HandleStream)
	mux.HandleFunc("GET /api/v1/checkpoints", h.HandleListCheckpoints)
	mux.HandleFunc("GET /api/v1/checkpoints/{id}", h.HandleLoadCheckpoint)
	mux.HandleFunc("GET /api/v1/knowledge/{namespace}", h.HandleKnowledge)
}

// lookup 按路径参数查找实例，失败时已写出错误响应
func (h *SwarmHandler) lookup(w http.ResponseWriter, r *http.Request) (*swarm.Swarm, bool) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, types.NewInvalidRequestError("swarm id is required"), h.logger)
		return nil, false
	}
	s, err := h.manager.Get(id)
	if err != nil {
		WriteFromError(w, err, h.logger)
		return nil, false
	}
	return s, true
}

// HandleCreate 创建并启动蜂群
// @Summary 创建蜂群
// @Tags 蜂群
// @Accept json
// @Produce json
// @Param request body api.CreateSwarmRequest true "创建请求"
// @Success 202 {object} Response{data=swarm.Status}
// @Failure 400 {object} Response
// @Failure 503 {object} Response
// @Router /api/v1/swarms [post]
func (h *SwarmHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.CreateSwarmRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Objective) == "" {
		WriteError(w, types.NewInvalidRequestError("objective is required"), h.logger)
		return
	}

	s, err := h.manager.Start(req.ApplyTo(h.manager.Defaults()))
	if err != nil {
		if errors.Is(err, swarm.ErrManagerClosed) {
			WriteError(w, types.NewError(types.ErrServiceUnavailable, "server is shutting down").WithCause(err), h.logger)
			return
		}
		WriteFromError(w, err, h.logger)
		return
	}

	h.logger.Info("swarm created",
		zap.String("swarm_id", s.ID()),
		zap.String("objective", req.Objective))
	w.Header().Set("Location", "/api/v1/swarms/"+s.ID())
	WriteAccepted(w, s.Status())
}

// HandleList 列出全部蜂群
// @Summary 蜂群列表
// @Tags 蜂群
// @Produce json
// @Param state query string false "按状态过滤"
// @Success 200 {object} Response{data=api.SwarmListResponse}
// @Router /api/v1/swarms [get]
func (h *SwarmHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	all := h.manager.List()
	state := swarm.State(strings.ToLower(r.URL.Query().Get("state")))

	list := make([]swarm.Status, 0, len(all))
	for _, st := range all {
		if state == "" || st.State == state {
			list = append(list, st)
		}
	}
	WriteSuccess(w, api.SwarmListResponse{Swarms: list, Total: len(list)})
}

// HandleGet 查询蜂群状态
// @Summary 蜂群状态
// @Tags 蜂群
// @Produce json
// @Param id path string true "蜂群 ID"
// @Success 200 {object} Response{data=swarm.Status}
// @Failure 404 {object} Response
// @Router /api/v1/swarms/{id} [get]
func (h *SwarmHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, s.Status())
}

// HandleStop 停止蜂群，记录保留以供查询
// @Summary 停止蜂群
// @Tags 蜂群
// @Produce json
// @Param id path string true "蜂群 ID"
// @Success 200 {object} Response{data=api.StopSwarmResponse}
// @Failure 404 {object} Response
// @Router /api/v1/swarms/{id}/stop [post]
func (h *SwarmHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	if err := h.manager.Stop(ctx, s.ID()); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			WriteError(w, types.NewError(types.ErrTimeout, "swarm did not stop in time").WithCause(err), h.logger)
			return
		}
		WriteFromError(w, err, h.logger)
		return
	}
	// 等待运行协程写入终态
	select {
	case <-s.Done():
	case <-ctx.Done():
		WriteError(w, types.NewError(types.ErrTimeout, "swarm did not stop in time").WithCause(ctx.Err()), h.logger)
		return
	}
	WriteSuccess(w, api.StopSwarmResponse{SwarmID: s.ID(), State: s.Status().State})
}

// HandleSnapshot 返回实例的当前快照
// @Summary 蜂群快照
// @Tags 蜂群
// @Produce json
// @Param id path string true "蜂群 ID"
// @Success 200 {object} Response{data=swarm.Snapshot}
// @Router /api/v1/swarms/{id}/snapshot [get]
func (h *SwarmHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, s.Snapshot())
}

// HandleCheckpoint 立即保存检查点
// @Summary 保存检查点
// @Tags 蜂群
// @Produce json
// @Param id path string true "蜂群 ID"
// @Success 200 {object} Response{data=api.CheckpointResponse}
// @Router /api/v1/swarms/{id}/checkpoint [post]
func (h *SwarmHandler) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.SaveCheckpoint(r.Context()); err != nil {
		WriteError(w, types.NewInternalError("failed to save checkpoint").WithCause(err), h.logger)
		return
	}

	resp := api.CheckpointResponse{
		SwarmID:  s.ID(),
		Snapshot: s.Snapshot(),
		Saved:    h.checkpoints != nil,
	}
	if h.checkpoints != nil {
		cp, err := h.checkpoints.LoadCheckpoint(r.Context(), s.ID())
		if err != nil {
			WriteError(w, types.NewInternalError("failed to read checkpoint").WithCause(err), h.logger)
			return
		}
		resp.Stored = &api.CheckpointEntry{Sequence: cp.Sequence, CreatedAt: cp.CreatedAt}
	}
	WriteSuccess(w, resp)
}

// HandleLoadCheckpoint 读取存储中的最新检查点，实例已结束或已重启也可查询
// @Summary 读取检查点
// @Tags 蜂群
// @Produce json
// @Param id path string true "蜂群 ID"
// @Success 200 {object} Response{data=api.CheckpointResponse}
// @Failure 404 {object} Response
// @Router /api/v1/checkpoints/{id} [get]
func (h *SwarmHandler) HandleLoadCheckpoint(w http.ResponseWriter, r *http.Request) {
	if h.checkpoints == nil {
		WriteError(w, types.NewError(types.ErrServiceUnavailable, "checkpoint store is not configured"), h.logger)
		return
	}
	id := r.PathValue("id")
	cp, err := h.checkpoints.LoadCheckpoint(r.Context(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			WriteError(w, types.NewNotFoundError("no checkpoint for swarm "+id), h.logger)
			return
		}
		WriteError(w, types.NewInternalError("failed to read checkpoint").WithCause(err), h.logger)
		return
	}
	snap, err := swarm.DecodeSnapshot(cp)
	if err != nil {
		WriteError(w, types.NewInternalError("corrupt checkpoint").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, api.CheckpointResponse{
		SwarmID:  cp.SwarmID,
		Snapshot: *snap,
		Saved:    true,
		Stored:   &api.CheckpointEntry{Sequence: cp.Sequence, CreatedAt: cp.CreatedAt},
	})
}

// HandleListCheckpoints 列出有检查点的蜂群 ID
// @Summary 检查点列表
// @Tags 蜂群
// @Produce json
// @Success 200 {object} Response{data=[]string}
// @Router /api/v1/checkpoints [get]
func (h *SwarmHandler) HandleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if h.checkpoints == nil {
		WriteSuccess(w, []string{})
		return
	}
	ids, err := h.checkpoints.ListCheckpoints(r.Context())
	if err != nil {
		WriteError(w, types.NewInternalError("failed to list checkpoints").WithCause(err), h.logger)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	WriteSuccess(w, ids)
}

// HandleEvents 返回实例保留的事件历史
// @Summary 事件历史
// @Tags 蜂群
// @Produce json
// @Param id path string true "蜂群 ID"
// @Param type query string false "按事件类型过滤，逗号分隔"
// @Success 200 {object} Response{data=api.EventListResponse}
// @Router /api/v1/swarms/{id}/events [get]
func (h *SwarmHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	filter := parseEventTypes(r.URL.Query().Get("type"))
	history := s.Events().History()
	list := history[:0:0]
	for _, ev := range history {
		if len(filter) == 0 || filter[ev.Type] {
			list = append(list, ev)
		}
	}
	WriteSuccess(w, api.EventListResponse{
		SwarmID: s.ID(),
		Events:  list,
		Dropped: s.Events().Dropped(),
	})
}

// HandleKnowledge 按 glob 模式检索知识库
// @Summary 检索知识库
// @Tags 知识库
// @Produce json
// @Param namespace path string true "命名空间"
// @Param pattern query string false "键的 glob 模式，默认 *"
// @Success 200 {object} Response{data=[]persistence.Entry}
// @Router /api/v1/knowledge/{namespace} [get]
func (h *SwarmHandler) HandleKnowledge(w http.ResponseWriter, r *http.Request) {
	if h.knowledge == nil {
		WriteError(w, types.NewError(types.ErrServiceUnavailable, "knowledge store is not configured"), h.logger)
		return
	}
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}
	entries, err := h.knowledge.Search(r.Context(), r.PathValue("namespace"), pattern)
	if err != nil {
		if errors.Is(err, persistence.ErrInvalidInput) {
			WriteError(w, types.NewInvalidRequestError("invalid knowledge query").WithCause(err), h.logger)
			return
		}
		WriteError(w, types.NewInternalError("knowledge search failed").WithCause(err), h.logger)
		return
	}
	if entries == nil {
		entries = []persistence.Entry{}
	}
	WriteSuccess(w, entries)
}
