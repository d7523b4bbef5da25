// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package session 在单条双工传输上运行流式协议会话。

# 组成

  - PayloadSender — 帧写出，写锁保证帧不交错，失败时触发一次断开回调
  - PayloadReceiver — 接收泵，读帧头与负载并逐帧分发
  - Connection — 请求/响应关联、入站请求处理、连接状态机

# 发送顺序

同一连接上的消息完整串行：一条消息的描述符帧与全部 body 帧发出之后，
下一条消息才开始。消息发出一部分后失败或被取消，连接发送 CancelAll
并整体拆除，因为线上无法撤回半条消息。

# 入站请求

请求在描述符完整到达时即交给 RequestHandler，body 边到达边读取。
处理协程数量有上限，饱和时直接回复 503，接收泵永不阻塞。

# 断开

任何传输错误、协议违规或对端 CancelAll 都会拆除连接：关闭所有 body、
使等待中的 SendRequest 返回 ErrConnectionClosed，并恰好调用一次断开回调。
故障断开后可再次 Connect；Disconnect 之后为终态。
*/
package session
