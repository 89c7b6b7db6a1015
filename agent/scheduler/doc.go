/*
Package scheduler 管理蜂群的工作者池与任务生命周期。

# 概述

Scheduler 独占 Worker 与 Task 的状态：

  - CreateTask 由描述推导复杂度与预估耗时，并立即尝试分配
  - SpawnWorkers 按批（默认每批 5 个）并发开通工作者，超出上限返回 CAPACITY_EXHAUSTED
  - AssignTask 双向绑定工作者与任务，经通信层通知工作者后在 goroutine 池中异步执行
  - CheckAutoScale 在待处理任务超过空闲工作者两倍时扩容一个工作者；缩容仅发出建议事件

# 不变量

任务的 AssignedWorkerID 非空当且仅当对应工作者为 busy 且 CurrentTaskID 指向该任务，
一个工作者同时最多持有一个任务。RetryCount 不会被重置，也不会超过 2。

# 失败策略

错误信息包含 timeout / network / temporary / connection（忽略大小写）时视为可恢复，
固定延迟后重新分配给任意空闲工作者；其余错误直接进入 failed。
失败的工作者总会被释放，只有成功率统计会下降。
*/
package scheduler
