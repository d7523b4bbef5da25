package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	connectionIDKey contextKey = "connection_id"
	requestIDKey    contextKey = "request_id"
	remoteAddrKey   contextKey = "remote_addr"
)

// WithConnectionID 设置连接 ID
func WithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connectionIDKey, id)
}

// ConnectionID 获取连接 ID
func ConnectionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(connectionIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置当前处理的入站请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取入站请求 ID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRemoteAddr 设置对端地址
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}

// RemoteAddr 获取对端地址
func RemoteAddr(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(remoteAddrKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
