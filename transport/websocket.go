package transport

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/botstream/internal/tlsutil"
	"github.com/BaSui01/botstream/types"
)

// WebSocketOptions 控制 WebSocket 传输
type WebSocketOptions struct {
	// ReadLimit 单条消息上限；<=0 使用库默认值（32KiB）
	ReadLimit int64
	// Subprotocols 握手时协商的子协议
	Subprotocols []string
	// InsecureSkipVerify Accept 时跳过 Origin 校验，Dial 时跳过证书校验
	InsecureSkipVerify bool
}

// DialWebSocket 连接 ws:// 或 wss:// 地址，返回以二进制消息承载字节流的传输
func DialWebSocket(ctx context.Context, url string, opts WebSocketOptions, logger *zap.Logger) (*NetTransport, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: opts.Subprotocols,
		HTTPClient:   tlsutil.WebSocketClient(opts.InsecureSkipVerify),
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, types.Cancelled(ctxErr).WithMessage("websocket dial %s", url)
		}
		return nil, types.ErrTransport.WithMessage("websocket dial %s", url).WithCause(err)
	}
	return wrapWebSocket(conn, opts, logger), nil
}

// AcceptWebSocket 升级 HTTP 请求为 WebSocket 传输
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, opts WebSocketOptions, logger *zap.Logger) (*NetTransport, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       opts.Subprotocols,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	})
	if err != nil {
		return nil, types.ErrTransport.WithMessage("websocket accept").WithCause(err)
	}
	return wrapWebSocket(conn, opts, logger), nil
}

// WebSocketDialer returns a Dialer for url.
func WebSocketDialer(url string, opts WebSocketOptions, logger *zap.Logger) Dialer {
	return func(ctx context.Context) (Transport, error) {
		t, err := DialWebSocket(ctx, url, opts, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

func wrapWebSocket(conn *websocket.Conn, opts WebSocketOptions, logger *zap.Logger) *NetTransport {
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	// NetConn 的 ctx 贯穿连接生命周期，关闭由 NetTransport.Close 负责
	nc := websocket.NetConn(context.Background(), conn, websocket.MessageBinary)
	return NewNetTransport(nc, logger)
}
