// 版权所有 2024 SwarmFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package swarm 将 queen、scheduler 与 fabric 组装为一个针对单一目标运行的蜂群实例。

# 运行流程

Swarm.Run 依次执行：

 1. queen 分析目标并生成执行计划
 2. 按所需能力开通工作者，每个工作者同时注册为通信层参与者
 3. 逐阶段推进：需要共识的阶段先发起投票，未达成一致时放弃该阶段；
    达成后以组播向工作者下发阶段简报，再创建并等待该阶段的任务
 4. 每个阶段结束后以 gossip 传播进度，并把决策结果反馈给 queen 的决策记忆

后台循环负责心跳巡检、自动伸缩检查与周期性检查点。
通信层标记离线的工作者会交给调度器回收其任务。

# 管理

Manager 持有同一进程内的多个独立实例，没有任何全局单例。
*/
package swarm
