package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/botstream/types"
)

// Listener 接受 unix socket（命名管道）或 TCP 连接
type Listener struct {
	ln     net.Listener
	path   string // unix socket 文件，关闭时清理
	logger *zap.Logger
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// PipePath 返回命名管道对应的 socket 路径；绝对路径原样返回
func PipePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(os.TempDir(), "botstream-"+name+".sock")
}

// ListenPipe 在命名管道上监听；同名的陈旧 socket 文件会被移除
func ListenPipe(name string, logger *zap.Logger) (*Listener, error) {
	path := PipePath(name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale pipe %s: %w", path, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, types.ErrTransport.WithMessage("listen on pipe %s", path).WithCause(err)
	}
	return newListener(ln, path, logger), nil
}

// Listen 在 TCP（或其它面向流的网络）地址上监听
func Listen(network, addr string, logger *zap.Logger) (*Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, types.ErrTransport.WithMessage("listen on %s %s", network, addr).WithCause(err)
	}
	return newListener(ln, "", logger), nil
}

// NewListener wraps an existing listener.
func NewListener(ln net.Listener, logger *zap.Logger) *Listener {
	return newListener(ln, "", logger)
}

func newListener(ln net.Listener, path string, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		ln:   ln,
		path: path,
		logger: logger.With(
			zap.String("component", "listener"),
			zap.String("addr", ln.Addr().String()),
		),
	}
}

// Accept 等待下一个连接；ctx 取消时返回 types.ErrCancelled，监听器保持可用
func (l *Listener) Accept(ctx context.Context) (*NetTransport, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.Cancelled(err)
	}

	if d, ok := l.ln.(deadliner); ok {
		stop := context.AfterFunc(ctx, func() {
			_ = d.SetDeadline(time.Unix(1, 0))
		})
		defer func() {
			if !stop() {
				_ = d.SetDeadline(time.Time{})
			}
		}()
	}

	conn, err := l.ln.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, types.Cancelled(ctxErr)
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, types.ErrConnectionClosed.WithMessage("listener closed")
		}
		return nil, types.ErrTransport.WithMessage("accept").WithCause(err)
	}

	l.logger.Debug("accepted connection", zap.String("remote", addrString(conn.RemoteAddr())))
	return NewNetTransport(conn, l.logger), nil
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close 停止监听并清理 socket 文件
func (l *Listener) Close() error {
	err := l.ln.Close()
	if l.path != "" {
		_ = os.Remove(l.path)
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// DialPipe 连接命名管道
func DialPipe(ctx context.Context, name string, logger *zap.Logger) (*NetTransport, error) {
	return Dial(ctx, "unix", PipePath(name), logger)
}

// Dial 连接 network/addr
func Dial(ctx context.Context, network, addr string, logger *zap.Logger) (*NetTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, types.Cancelled(ctxErr).WithMessage("dial %s %s", network, addr)
		}
		return nil, types.ErrTransport.WithMessage("dial %s %s", network, addr).WithCause(err)
	}
	return NewNetTransport(conn, logger), nil
}

// PipeDialer returns a Dialer for a named pipe.
func PipeDialer(name string, logger *zap.Logger) Dialer {
	return func(ctx context.Context) (Transport, error) {
		t, err := DialPipe(ctx, name, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// NetDialer returns a Dialer for network/addr.
func NetDialer(network, addr string, logger *zap.Logger) Dialer {
	return func(ctx context.Context) (Transport, error) {
		t, err := Dial(ctx, network, addr, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// Pipe 返回一对相连的内存传输，主要用于测试
func Pipe() (Transport, Transport) {
	a, b := net.Pipe()
	return NewNetTransport(a, nil), NewNetTransport(b, nil)
}
