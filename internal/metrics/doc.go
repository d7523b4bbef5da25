// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的流式连接指标采集能力。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
由管理端的 /metrics 端点暴露。

# 核心类型

  - Collector：实现 session.Recorder，可直接通过 session.WithRecorder
    挂到连接上。

# 主要能力

  - 帧指标：收发帧数与字节数（含帧头），按帧类型分组。
  - 请求指标：出站请求完成数与往返耗时、入站请求处理数与处理耗时，
    按 verb/status 分组。
  - 连接指标：正在组装的入站 body 数 Gauge，按原因分组的断开次数。
  - HTTP 指标：管理端请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
*/
package metrics
