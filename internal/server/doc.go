// 版权所有 2024 SwarmFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 HTTP 服务器的启动与优雅关闭。

Manager 在独立 goroutine 中监听，异步错误通过 Errors 暴露。
所有请求的 ctx 派生自管理器持有的基础 ctx：Shutdown 先取消它，
让 SSE 与 WebSocket 事件流这类长连接立即结束，再等待普通请求
在 ShutdownTimeout 内完成。WaitForShutdown 等待 SIGINT/SIGTERM，
关闭顺序由调用方编排。
*/
package server
