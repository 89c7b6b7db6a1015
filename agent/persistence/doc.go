/*
包 persistence 提供蜂群协调核心所依赖的存储协作方：知识存储与检查点存储。

# 概述

协调核心只通过接口访问存储，且把写入视为尽力而为：存储故障会被记录，
但不会阻塞调度、投票或消息投递。后端可在内存、Redis、SQL 与 MongoDB
之间切换，检查点可写入本地文件或 S3。

# 核心接口

  - Store: 所有存储的基础接口，提供 Close 和 Ping 健康检查。
  - KnowledgeStore: 按命名空间组织的键值存储，支持 Put、Get
    与 glob 模式的 Search。
  - CheckpointStore: 每个蜂群保存最新一份检查点快照。

# 后端实现

  - MemoryKnowledgeStore: 开发测试与单进程部署（默认）。
  - RedisKnowledgeStore: 数据键 + 每个命名空间一个有序集合索引。
  - SQLKnowledgeStore: 基于 GORM，表结构由 internal/migration 管理。
  - MongoKnowledgeStore: 每条记录一个文档，_id 为 namespace/key。
  - FileCheckpointStore: 临时文件 + 原子重命名。
  - S3CheckpointStore: 每个蜂群一个 JSON 对象。
*/
package persistence
