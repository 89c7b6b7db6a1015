/*
Package capability 提供工作者执行任务时调用的能力网关。

LocalGateway 是进程内的具名处理器注册表，带全局令牌桶限流与单次调用超时；
InvokeBatch 以有界并发执行一批调用。GatewayRunner 把调度器的任务执行
与工作者开通转换为网关调用：

  - 任务按 "task.<capability>" 查找处理器，找不到时回退到 "task.execute"
  - 开通工作者时若注册了 "worker.spawn" 则调用它
*/
package capability
