package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/botstream/types"
)

// NetTransport 基于 net.Conn 的 Transport 实现，覆盖 unix socket、TCP、
// net.Pipe 与 websocket.NetConn。
type NetTransport struct {
	conn      net.Conn
	logger    *zap.Logger
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewNetTransport wraps conn.
func NewNetTransport(conn net.Conn, logger *zap.Logger) *NetTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NetTransport{
		conn: conn,
		logger: logger.With(
			zap.String("component", "net_transport"),
			zap.String("remote", addrString(conn.RemoteAddr())),
		),
	}
}

// Send 写入 p；对端关闭或本地已关闭时返回 (0, nil)
func (t *NetTransport) Send(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, nil
	}
	n, err := t.conn.Write(p)
	if err != nil {
		return n, t.translate(err, "send")
	}
	return n, nil
}

// Receive 读取至多 len(p) 字节；对端关闭或本地已关闭时返回 (0, nil)
func (t *NetTransport) Receive(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, nil
	}
	n, err := t.conn.Read(p)
	if n > 0 {
		// 数据与错误同时返回时先交付数据，错误在下一次调用中体现
		if err != nil && t.isGraceful(err) {
			_ = t.Close()
		}
		return n, nil
	}
	if err != nil {
		return 0, t.translate(err, "receive")
	}
	return 0, nil
}

func (t *NetTransport) translate(err error, op string) error {
	if t.isGraceful(err) {
		t.logger.Debug("transport closed", zap.String("op", op), zap.Error(err))
		_ = t.Close()
		return nil
	}
	_ = t.Close()
	return types.ErrTransport.WithMessage("%s failed", op).WithCause(err)
}

func (t *NetTransport) isGraceful(err error) bool {
	return t.closed.Load() ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

// IsConnected reports whether Close has not been called and the peer has not closed.
func (t *NetTransport) IsConnected() bool {
	return !t.closed.Load()
}

// Close 幂等；关闭底层连接以唤醒阻塞中的 Receive
func (t *NetTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.closeErr = t.conn.Close()
		if errors.Is(t.closeErr, net.ErrClosed) {
			t.closeErr = nil
		}
	})
	return t.closeErr
}

// RemoteAddr returns the peer address.
func (t *NetTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

var _ Transport = (*NetTransport)(nil)
