// 版权所有 2024 SwarmFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package telemetry 封装 OpenTelemetry SDK 初始化，
// 为 SwarmFlow 提供 TracerProvider、MeterProvider 与蜂群事件观察器。
// 遥测关闭时使用 noop 实现，不连接任何外部服务。
package telemetry
