// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package transport 提供 botstream 的原始双工字节通道。

Transport 契约：Send / Receive 返回实际传输的字节数，0 表示对端有序关闭；
Close 幂等并会唤醒阻塞中的 Receive。所有实现都基于 NetTransport：

  - 命名管道：ListenPipe / DialPipe，使用临时目录下的 unix domain socket
  - TCP：Listen / Dial
  - WebSocket：DialWebSocket / AcceptWebSocket，基于 github.com/coder/websocket，
    以二进制消息承载字节流
  - 内存：Pipe 返回一对相连的传输，用于测试

Dialer 抽象连接建立过程，Static 把服务端已接受的传输交给 session.Connection。
*/
package transport
