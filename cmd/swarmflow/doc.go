// 版权所有 2024 SwarmFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 SwarmFlow 的可执行入口。

# 子命令

  - serve    启动 HTTP API、Metrics 端口与配置热更新
  - run      在本进程中运行一个蜂群，打印事件进度与最终结果
  - migrate  管理知识库表的数据库迁移（up、down、status、goto、force 等）
  - health   探测运行中服务的存活或就绪状态
  - version  打印构建注入的版本信息

# 服务组装

Server 依次建立共享后端（Redis、数据库连接池、知识库、检查点存储、
能力网关、任务协程池），创建 swarm.Manager，注册 HTTP 路由并启动
两个 internal/server.Manager。关闭顺序与启动相反：热更新、HTTP、
全部蜂群、后端、Metrics、遥测。

# 中间件链

Recovery、RequestID（ULID）、SecurityHeaders、RequestLogger、
MetricsMiddleware、OTelTracing（遥测开启时）、CORS、RateLimiter（按 IP）、
Authenticate（X-API-Key 或 HS256 Bearer JWT）。

# 退出码

run 子命令在蜂群失败时以 2 退出，其余错误以 1 退出。
*/
package main
