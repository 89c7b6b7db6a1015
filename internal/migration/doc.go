// 版权所有 2024 SwarmFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 SQL 知识库的表结构，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

各方言的迁移文件内嵌在 migrations/<dialect>/ 下，目前包含
swarm_knowledge 表及其 (namespace, kind) 索引。

DefaultMigrator 提供 Up/Down/Steps/Goto/Force 等操作；ctx 取消时
会在当前迁移结束后停止。CLI 为 swarmflow migrate 子命令输出
表格化的状态信息。服务进程在 database.auto_migrate 打开时
通过 ApplyPending 在启动阶段执行迁移。
*/
package migration
