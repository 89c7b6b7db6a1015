// Package api 定义 SwarmFlow HTTP API 的请求与响应类型。
//
// # API Overview
//
// SwarmFlow 通过 RESTful API 提供:
//   - 蜂群的创建、查询与停止
//   - 运行快照与检查点
//   - 事件历史与 WebSocket 实时事件流
//   - 健康检查与运行时配置管理
//
// # Authentication
//
// 配置了 API Key 时，请求需携带 X-API-Key 头:
//
//	X-API-Key: your-api-key
//
// 配置了 JWT 密钥时也可使用 Bearer Token:
//
//	Authorization: Bearer <token>
//
// # Base URL
//
//	http://localhost:8080
//
// # Response Envelope
//
// 除事件流外，所有端点都返回 Response 信封，失败时 Error 字段携带
// types.ErrorCode 对应的错误码。
package api
