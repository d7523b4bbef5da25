package session

import (
	"context"

	"github.com/BaSui01/botstream/internal/ctxkeys"
	"github.com/BaSui01/botstream/message"
)

// RequestHandler 处理入站请求。返回的响应会以请求 id 自动发回对端；
// 返回错误时发送 500，返回 nil 响应时发送空的 200。
// body 可能仍在到达，处理方负责读完或丢弃。
type RequestHandler interface {
	ProcessRequest(ctx context.Context, req *message.ReceiveRequest) (*message.Response, error)
}

// RequestHandlerFunc adapts a function to RequestHandler.
type RequestHandlerFunc func(ctx context.Context, req *message.ReceiveRequest) (*message.Response, error)

// ProcessRequest implements RequestHandler.
func (f RequestHandlerFunc) ProcessRequest(ctx context.Context, req *message.ReceiveRequest) (*message.Response, error) {
	return f(ctx, req)
}

// ConnectionIDFromContext 返回处理请求的连接 id
func ConnectionIDFromContext(ctx context.Context) string {
	id, _ := ctxkeys.ConnectionID(ctx)
	return id
}

// RequestIDFromContext returns the id of the inbound request being handled.
// Returns an empty string outside a handler.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctxkeys.RequestID(ctx)
	return id
}

// RemoteAddrFromContext 返回对端地址；内存传输等无地址时为空
func RemoteAddrFromContext(ctx context.Context) string {
	addr, _ := ctxkeys.RemoteAddr(ctx)
	return addr
}
