// 版权所有 2024 SwarmFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，供调度器的路由缓存等组件共享。

# 核心类型

  - Manager：持有 Redis 客户端，提供带默认 TTL 的 Get/Set/Delete 与
    GetJSON/SetJSON 便捷方法，并统计本进程内的命中与未命中次数。
  - Config：地址、密码、连接池大小、默认 TTL、键前缀与健康检查间隔。

# 主要能力

  - 键前缀：所有键自动加上 Config.KeyPrefix，多个蜂群实例可共用一个 Redis。
  - 健康检查：后台定时 Ping，异常时通过 zap 日志告警，Close 时退出。
  - 错误语义：未命中返回 ErrCacheMiss，可用 IsCacheMiss 判断。
*/
package cache
