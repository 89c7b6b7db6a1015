// 版权所有 2024 SwarmFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开关系型数据库并管理连接池。SQL 知识库与
迁移工具共用这里打开的 GORM 实例。

# 驱动

Open 按驱动名选择 GORM 方言：postgres、mysql 与 sqlite。
sqlite 使用纯 Go 实现，适合单机部署与测试。

# 连接池

PoolManager 统一设置最大连接数、空闲连接数与连接生命周期。
StartHealthCheck 启动后台探活，每次成功后把连接数交给
StatsReporter（服务进程中接到 Prometheus 指标）。Close 会等待
后台循环退出后再关闭底层连接。

WithTransactionRetry 对死锁、序列化失败等瞬时错误按指数退避重试。
*/
package database
