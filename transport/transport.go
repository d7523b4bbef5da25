package transport

import (
	"context"
	"sync/atomic"

	"github.com/BaSui01/botstream/types"
)

// Transport 原始双工字节通道。
//
// Send / Receive 返回实际传输的字节数；返回 0 且 err 为 nil 表示对端
// 已有序关闭，这是正常的断开信号而非错误。Close 幂等，调用后
// IsConnected 立即为 false，阻塞中的 Receive 会返回 0。
type Transport interface {
	Send(p []byte) (int, error)
	Receive(p []byte) (int, error)
	IsConnected() bool
	Close() error
}

// Dialer 建立一条新的传输连接
type Dialer func(ctx context.Context) (Transport, error)

// Static 返回只交付一次已建立传输的 Dialer（服务端 Accept 之后使用）
func Static(t Transport) Dialer {
	var used atomic.Bool
	return func(context.Context) (Transport, error) {
		if used.Swap(true) {
			return nil, types.ErrNotConnected.WithMessage("pre-established transport already consumed")
		}
		return t, nil
	}
}
