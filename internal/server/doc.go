// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供管理端 HTTP/HTTPS 服务器的生命周期管理与路由组装。

# 概述

本包通过 Manager 封装 net/http.Server，统一管理监听、服务、
关闭与错误传播流程。NewHandler 挂载 /health、/metrics 与
WebSocket 流式端点，升级后的连接交给调用方提供的 ServeFunc。

# 核心类型

  - Manager：HTTP 服务器管理器，提供 Start/StartTLS/Run/Shutdown
    等生命周期方法。
  - Config：服务器配置，FromConfig 由 config.ServerConfig 构造。
  - Routes：管理端端点描述（健康检查、流式端点路径与 ServeFunc）。
  - Middleware：Recovery、RequestLogger、Metrics、OTelTracing。

# 主要能力

  - 非阻塞启动：Start/StartTLS 在后台 goroutine 中运行服务；
    Run 阻塞到 ctx 取消后优雅关闭，适合放进 errgroup。
  - WebSocket 端点：升级前清除 HTTP 读写截止时间，连接上下文
    携带对端地址。
  - 指标：HTTP 请求按固定路由记录，未知路径归为 other。
*/
package server
