// Package config 提供 SwarmFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序加载，
// 并可转换为蜂群、通信层、调度器、网关与存储各自的配置。
// HotReloadManager 监听配置文件并在运行时替换可热更新的字段，
// ConfigAPIHandler 通过 HTTP 暴露查询、更新与回滚。
package config
