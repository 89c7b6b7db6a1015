// 版权所有 2024 SwarmFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package handlers 提供 SwarmFlow HTTP API 的请求处理器实现。

# 核心类型

  - SwarmHandler    : 蜂群创建、查询、停止、快照、检查点与事件
  - HealthHandler   : 服务健康检查（/health, /healthz, /ready）
  - Response        : 统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter  : 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck     : 可插拔依赖检查接口，PingCheck 覆盖 Redis、数据库与存储

# 事件流

HandleStream 对带升级头的请求使用 WebSocket，其余使用 SSE。
实例结束后流自动关闭：SSE 以 "data: [DONE]" 结尾，WebSocket 以正常关闭帧结尾。

# 错误映射

types.ErrorCode 映射到 HTTP 状态码：NOT_FOUND 为 404，
CAPACITY_EXHAUSTED 为 503，CONSENSUS_NO_QUORUM 为 409，CONSENSUS_TIMEOUT 为 504。
*/
package handlers
