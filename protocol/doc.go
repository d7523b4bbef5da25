// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package protocol 定义 botstream 的线上帧格式与消息描述符。

# 帧格式

每帧由 22 字节定长头与不超过 MaxPayloadLength 字节的负载组成：

	type:1 | id:16 | length:4 (little-endian) | end:1 | payload:length

帧类型：

  - FrameRequest / FrameResponse 携带 JSON 描述符（RequestPayload / ResponsePayload）
  - FrameStream 携带 body 字节，id 为 body 的 id
  - FrameCancelStream 取消单个 body，FrameCancelAll 拆除整个连接

描述符超过单帧上限时按同一 id 拆分为多帧，最后一帧 End=true。

# 错误

解码失败返回 types.ErrProtocolViolation 或 types.ErrFrameTooLarge，
二者均为致命错误，调用方应拆除连接。
*/
package protocol
