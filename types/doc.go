// Copyright (c) SwarmFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 SwarmFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、api、cmd 等上层模块
提供统一的类型契约：能力类型枚举表与结构化错误码。

# 核心类型

  - CapabilityType   : 工作者能力类型（researcher / coder / analyst / ...）
  - CapabilitySpec   : 每个能力类型的关键词与权重
  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - 能力匹配：CapabilitySpec.KeywordHits / MatchCapability
  - 错误工具链：IsRetryable / GetErrorCode / IsErrorCode
  - 常用错误构造：NewRecoverableTaskError / NewNoQuorumError 等
*/
package types
