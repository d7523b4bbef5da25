// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package message 定义 botstream 的请求/响应消息模型。

发送侧 Request / Response 由元数据（verb+path 或状态码）与有序的
Content 列表组成，Content 通过 payload.ContentSource 按需拉取数据。
接收侧 ReceiveRequest / ReceiveResponse 的 body 为 ContentStream，
在描述符到达时即交给应用，数据可能仍在陆续写入。

	req := message.Post("/api/messages")
	if err := req.SetBody(activity); err != nil {
		return err
	}
	resp, err := conn.SendRequest(ctx, req)
*/
package message
