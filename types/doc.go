// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 botstream 全局共享的错误类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 protocol、payload、
transport、session 等上层模块提供统一的错误契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误，含错误码、Retryable 标记与 Cause 链
  - 哨兵错误 — ErrConnectionClosed、ErrDuplicateBody、ErrUnknownBody、
    ErrCancelled、ErrTransport 等，均可通过 errors.Is 按错误码匹配

# 错误传播策略

  - IsFatal 为 true 的错误（协议违规、传输故障、对端关闭）会拆除整个连接
  - 参数类错误（ErrInvalidArgument、ErrProducerDone）只影响当前调用
*/
package types
