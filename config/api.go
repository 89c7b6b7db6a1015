// config 包的 HTTP 配置管理 API。
//
// 运行中可调的只有新建蜂群的默认参数（swarm / fabric / scheduler 三段），
// 已在运行的蜂群保持创建时的快照。其余字段可以改写，但要重启才生效。
package config

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/swarmflow/api"
)

type apiResponse = api.Response

type apiError = api.ErrorInfo

// SwarmSections 配置中作为新建蜂群默认值的段，顺序即展示顺序
var SwarmSections = []string{"Swarm", "Fabric", "Scheduler"}

// 字段生效范围
const (
	AppliesToNewSwarms = "new_swarms"
	AppliesToProcess   = "process"
	AppliesToRestart   = "restart"
)

// ConfigAPIHandler 处理 /api/v1/config 下的请求
type ConfigAPIHandler struct {
	manager       *HotReloadManager
	allowedOrigin string
}

// configData 响应 Data 字段
type configData struct {
	Message string         `json:"message,omitempty"`
	Config  map[string]any `json:"config,omitempty"`
	// Sections 按段分组的蜂群默认值字段
	Sections map[string][]FieldInfo `json:"sections,omitempty"`
	Changes  []ConfigChange         `json:"changes,omitempty"`
	// AppliesTo 本次更新中最晚生效的范围
	AppliesTo       string   `json:"applies_to,omitempty"`
	RequiresRestart bool     `json:"requires_restart,omitempty"`
	Rejected        []string `json:"rejected,omitempty"`
}

// FieldInfo 一个蜂群默认值字段
type FieldInfo struct {
	Path         string `json:"path"`
	Section      string `json:"section"`
	Description  string `json:"description"`
	AppliesTo    string `json:"applies_to"`
	CurrentValue any    `json:"current_value,omitempty"`
}

// ConfigUpdateRequest PUT /api/v1/config 的请求体，键为字段路径
type ConfigUpdateRequest struct {
	Updates map[string]any `json:"updates"`
}

// RollbackRequest 回滚请求，Version 为 0 时回到上一个配置
type RollbackRequest struct {
	Version int `json:"version,omitempty"`
}

// NewConfigAPIHandler 创建处理器。allowedOrigin 为空时不下发 Access-Control-Allow-Origin
func NewConfigAPIHandler(manager *HotReloadManager, allowedOrigin ...string) *ConfigAPIHandler {
	h := &ConfigAPIHandler{manager: manager}
	if len(allowedOrigin) > 0 {
		h.allowedOrigin = allowedOrigin[0]
	}
	return h
}

// RegisterRoutes 注册全部配置路由（不带认证）
func (h *ConfigAPIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/config", h.HandleConfig)
	mux.HandleFunc("/api/v1/config/reload", h.HandleReload)
	mux.HandleFunc("/api/v1/config/fields", h.HandleFields)
	mux.HandleFunc("/api/v1/config/changes", h.HandleChanges)
	mux.HandleFunc("/api/v1/config/rollback", h.HandleRollback)
}

// sectionOf 取路径首段，"Swarm.MaxWorkers" -> "Swarm"
func sectionOf(path string) string {
	section, _, _ := strings.Cut(path, ".")
	return section
}

// canonicalSection 大小写不敏感地匹配蜂群默认值段
func canonicalSection(name string) (string, bool) {
	for _, s := range SwarmSections {
		if strings.EqualFold(s, name) {
			return s, true
		}
	}
	return "", false
}

// appliesTo 字段改动何时生效
func appliesTo(path string, field HotReloadableField) string {
	if field.RequiresRestart {
		return AppliesToRestart
	}
	if _, ok := canonicalSection(sectionOf(path)); ok {
		return AppliesToNewSwarms
	}
	return AppliesToProcess
}

// widerScope 合并生效范围，restart > process > new_swarms
func widerScope(a, b string) string {
	rank := map[string]int{"": 0, AppliesToNewSwarms: 1, AppliesToProcess: 2, AppliesToRestart: 3}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// HandleConfig GET 返回脱敏配置，可用 ?section=swarm 只取一段；PUT 批量更新字段
// @Summary 查询或更新配置
// @Tags config
// @Produce json
// @Param section query string false "swarm, fabric 或 scheduler"
// @Param request body ConfigUpdateRequest false "PUT 时的字段更新"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse "字段未知或取值非法，整批未应用"
// @Router /api/v1/config [get]
// @Router /api/v1/config [put]
func (h *ConfigAPIHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getConfig(w, r)
	case http.MethodPut:
		h.updateConfig(w, r)
	case http.MethodOptions:
		h.preflight(w)
	default:
		h.methodNotAllowed(w, r)
	}
}

func (h *ConfigAPIHandler) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.manager.SanitizedConfig()
	name := r.URL.Query().Get("section")
	if name == "" {
		writeOK(w, configData{Config: cfg})
		return
	}
	section, ok := canonicalSection(name)
	if !ok {
		writeFail(w, http.StatusBadRequest, "INVALID_REQUEST",
			fmt.Sprintf("unknown section %q, want one of %s", name, strings.Join(SwarmSections, ", ")), nil)
		return
	}
	key := strings.ToLower(section)
	writeOK(w, configData{Config: map[string]any{key: cfg[key]}})
}

// updateConfig 先整批校验，全部通过才逐个应用，避免半套默认值落到新蜂群上
func (h *ConfigAPIHandler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("decode body: %v", err), nil)
		return
	}
	if len(req.Updates) == 0 {
		writeFail(w, http.StatusBadRequest, "INVALID_REQUEST", "no updates provided", nil)
		return
	}

	paths := make([]string, 0, len(req.Updates))
	for path := range req.Updates {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var rejected []string
	scope := ""
	for _, path := range paths {
		field, known := hotReloadableFields[path]
		if !known {
			rejected = append(rejected, fmt.Sprintf("%s: unknown field", path))
			continue
		}
		if field.Validator != nil {
			if err := field.Validator(req.Updates[path]); err != nil {
				rejected = append(rejected, fmt.Sprintf("%s: %v", path, err))
				continue
			}
		}
		scope = widerScope(scope, appliesTo(path, field))
	}
	if len(rejected) > 0 {
		writeFail(w, http.StatusBadRequest, "INVALID_REQUEST",
			fmt.Sprintf("%d of %d updates rejected, nothing applied", len(rejected), len(paths)),
			&configData{Rejected: rejected})
		return
	}

	for i, path := range paths {
		if err := h.manager.UpdateField(path, req.Updates[path]); err != nil {
			// 前面的字段已各自生成配置版本，可经 rollback 撤销
			writeFail(w, http.StatusBadRequest, "INVALID_REQUEST",
				fmt.Sprintf("applied %d of %d updates, stopped at %s", i, len(paths), path),
				&configData{Rejected: []string{fmt.Sprintf("%s: %v", path, err)}, Config: h.manager.SanitizedConfig()})
			return
		}
	}

	writeOK(w, configData{
		Message:         fmt.Sprintf("%d field(s) updated", len(paths)),
		Config:          h.manager.SanitizedConfig(),
		AppliesTo:       scope,
		RequiresRestart: scope == AppliesToRestart,
	})
}

// HandleReload 从配置文件重新加载
// @Summary 从文件重载配置
// @Tags config
// @Produce json
// @Success 200 {object} apiResponse
// @Failure 500 {object} apiResponse "文件缺失或校验失败"
// @Router /api/v1/config/reload [post]
func (h *ConfigAPIHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodPost) {
		return
	}
	if err := h.manager.ReloadFromFile(); err != nil {
		writeFail(w, http.StatusInternalServerError, "INTERNAL_ERROR", fmt.Sprintf("reload: %v", err), nil)
		return
	}
	writeOK(w, configData{Message: "reloaded from file", Config: h.manager.SanitizedConfig()})
}

// HandleFields 列出可在运行中调整的蜂群默认值，按段分组，可用 ?section= 过滤
// @Summary 蜂群默认值字段
// @Tags config
// @Produce json
// @Param section query string false "swarm, fabric 或 scheduler"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse "未知的段"
// @Router /api/v1/config/fields [get]
func (h *ConfigAPIHandler) HandleFields(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodGet) {
		return
	}

	wanted := SwarmSections
	if name := r.URL.Query().Get("section"); name != "" {
		section, ok := canonicalSection(name)
		if !ok {
			writeFail(w, http.StatusBadRequest, "INVALID_REQUEST",
				fmt.Sprintf("unknown section %q, want one of %s", name, strings.Join(SwarmSections, ", ")), nil)
			return
		}
		wanted = []string{section}
	}

	sections := make(map[string][]FieldInfo, len(wanted))
	for _, s := range wanted {
		sections[s] = []FieldInfo{}
	}
	for path, field := range hotReloadableFields {
		section := sectionOf(path)
		list, ok := sections[section]
		if !ok || field.Sensitive {
			continue
		}
		info := FieldInfo{
			Path:        path,
			Section:     section,
			Description: field.Description,
			AppliesTo:   appliesTo(path, field),
		}
		if v, err := h.manager.FieldValue(path); err == nil {
			info.CurrentValue = v
		}
		sections[section] = append(list, info)
	}
	for _, list := range sections {
		sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
	}

	writeOK(w, configData{Sections: sections})
}

// HandleChanges 变更历史，?limit= 默认 50
// @Summary 配置变更历史
// @Tags config
// @Produce json
// @Param limit query int false "最多返回条数" default(50)
// @Success 200 {object} apiResponse
// @Router /api/v1/config/changes [get]
func (h *ConfigAPIHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodGet) {
		return
	}
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	writeOK(w, configData{Changes: h.manager.ChangeLog(limit)})
}

// HandleRollback 回到上一个或指定版本的配置
// @Summary 回滚配置
// @Tags config
// @Produce json
// @Param request body RollbackRequest false "目标版本"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse "无可回滚的版本"
// @Router /api/v1/config/rollback [post]
func (h *ConfigAPIHandler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodPost) {
		return
	}

	var req RollbackRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeFail(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("decode body: %v", err), nil)
			return
		}
	}

	var err error
	if req.Version > 0 {
		err = h.manager.RollbackToVersion(req.Version)
	} else {
		err = h.manager.Rollback()
	}
	if err != nil {
		writeFail(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	writeOK(w, configData{
		Message: fmt.Sprintf("rolled back, now at version %d", h.manager.CurrentVersion()),
		Config:  h.manager.SanitizedConfig(),
	})
}

// allow 处理预检并校验方法，返回 false 时响应已写出
func (h *ConfigAPIHandler) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	switch r.Method {
	case method:
		return true
	case http.MethodOptions:
		h.preflight(w)
	default:
		h.methodNotAllowed(w, r)
	}
	return false
}

func (h *ConfigAPIHandler) preflight(w http.ResponseWriter) {
	if h.allowedOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOrigin)
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConfigAPIHandler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeFail(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", fmt.Sprintf("method %s not allowed", r.Method), nil)
}

func writeOK(w http.ResponseWriter, data configData) {
	writeAPIJSON(w, http.StatusOK, apiResponse{Success: true, Data: data, Timestamp: time.Now()})
}

func writeFail(w http.ResponseWriter, status int, code, msg string, data *configData) {
	resp := apiResponse{Error: &apiError{Code: code, Message: msg}, Timestamp: time.Now()}
	if data != nil {
		resp.Data = *data
	}
	writeAPIJSON(w, status, resp)
}

// writeAPIJSON 先序列化再写头，序列化失败时仍能返回 500
func writeAPIJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	buf, err := json.Marshal(data)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"INTERNAL_ERROR","message":"failed to encode response"}}`)) //nolint:errcheck
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(buf) //nolint:errcheck
}

// ConfigAPIMiddleware 用单个 API key 保护配置路由
type ConfigAPIMiddleware struct {
	apiKey string
}

// NewConfigAPIMiddleware apiKey 为空时不做认证
func NewConfigAPIMiddleware(_ *ConfigAPIHandler, apiKey string) *ConfigAPIMiddleware {
	return &ConfigAPIMiddleware{apiKey: apiKey}
}

// RequireAuth 校验 X-API-Key，预检请求放行
func (m *ConfigAPIMiddleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions && m.apiKey != "" &&
			subtle.ConstantTimeCompare([]byte(r.Header.Get("X-API-Key")), []byte(m.apiKey)) != 1 {
			writeFail(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing API key", nil)
			return
		}
		next(w, r)
	}
}
