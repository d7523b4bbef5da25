// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
botstream 是流式连接服务的命令行入口。

serve 子命令按配置在命名管道、TCP 或 WebSocket 上接入连接，
并由内置的 bot 路由应答请求；send 子命令作为客户端发送单条请求。
管理端 HTTP 服务提供 /health 与 /metrics，配置文件变更时日志级别即时生效。
*/
package main
