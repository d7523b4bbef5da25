// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package payload 实现 body 的分块收发。

# 接收侧

  - Buffer — 并发 body 缓冲区。生产者逐块追加，消费者边到达边读取；
    读取从不跨分块拼接，生产结束且读空后返回 io.EOF
  - Assembler — body id 到 Buffer 的映射表，按到达顺序写入 Stream 帧负载

# 发送侧

  - ContentSource — "拉取下一块" 接口，BytesSource / ReaderSource / StringSource
  - Disassembler — 将描述符与各 body 拆分为不超过 MaxPayload 的帧，
    最后一帧交付 FrameWriter 之后才返回

空 body 仍发送一个 End=true 的空帧，使接收方能够结束对应缓冲区。
*/
package payload
