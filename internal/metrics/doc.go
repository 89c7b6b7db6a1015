// 版权所有 2024 SwarmFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、任务调度、
工作者池、路由缓存、共识与数据库几个维度。

Collector 在创建时以 promauto 注册全部指标，命名空间由调用方指定。
ForSwarm 返回绑定单个蜂群 ID 的记录器，实现调度器的 MetricsRecorder 接口。
*/
package metrics
