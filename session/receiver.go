package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/botstream/internal/pool"
	"github.com/BaSui01/botstream/protocol"
	"github.com/BaSui01/botstream/transport"
	"github.com/BaSui01/botstream/types"
)

// FrameHandler 处理接收泵读出的每一帧。返回错误会终止接收泵并断开连接。
// payload 仅在调用期间有效。
type FrameHandler interface {
	HandleFrame(ctx context.Context, h protocol.Header, payload []byte) error
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(ctx context.Context, h protocol.Header, payload []byte) error

// HandleFrame implements FrameHandler.
func (f FrameHandlerFunc) HandleFrame(ctx context.Context, h protocol.Header, payload []byte) error {
	return f(ctx, h, payload)
}

// ReceiverOptions 配置 PayloadReceiver
type ReceiverOptions struct {
	Logger   *zap.Logger
	Recorder Recorder
	// OnDisconnect 在接收泵结束时调用且仅调用一次
	OnDisconnect func(reason string, err error)
}

// errPeerClosed 传输层读到 0 字节
var errPeerClosed = types.ErrConnectionClosed.WithMessage("peer closed connection")

// PayloadReceiver 接收泵：读 22 字节帧头，再读 length 字节负载，分发给 FrameHandler
type PayloadReceiver struct {
	transport transport.Transport
	handler   FrameHandler
	logger    *zap.Logger
	recorder  Recorder

	disconnectOnce sync.Once
	onDisconnect   func(reason string, err error)
}

// NewPayloadReceiver creates a receiver reading from t.
func NewPayloadReceiver(t transport.Transport, handler FrameHandler, opts ReceiverOptions) *PayloadReceiver {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &PayloadReceiver{
		transport:    t,
		handler:      handler,
		logger:       opts.Logger.With(zap.String("component", "payload_receiver")),
		recorder:     opts.Recorder,
		onDisconnect: opts.OnDisconnect,
	}
}

// Run 运行接收泵直到传输关闭、出错或 ctx 取消。
// 对端有序关闭返回 nil；ctx 取消会关闭传输以唤醒阻塞中的读取。
func (r *PayloadReceiver) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = r.transport.Close()
	})
	defer stop()

	reason, err := r.pump(ctx)
	if ctx.Err() != nil && (err == nil || errors.Is(err, types.ErrConnectionClosed)) {
		reason, err = "receive cancelled", types.Cancelled(ctx.Err())
	}
	r.disconnect(reason, err)

	if err == errPeerClosed {
		return nil
	}
	return err
}

func (r *PayloadReceiver) pump(ctx context.Context) (string, error) {
	var hdr [protocol.HeaderLength]byte

	bufp := pool.ReadBufferPool.Get()
	defer pool.ReadBufferPool.Put(bufp)
	payload := *bufp

	for {
		if err := r.readFull(hdr[:]); err != nil {
			return describe("receive header", err), err
		}

		h, err := protocol.DecodeHeader(hdr[:])
		if err != nil {
			return fmt.Sprintf("protocol violation: %v", err), err
		}

		p := payload[:h.PayloadLength]
		if err := r.readFull(p); err != nil {
			return describe("receive payload", err), err
		}

		r.recorder.FrameReceived(h.Type, protocol.HeaderLength+len(p))
		if ce := r.logger.Check(zap.DebugLevel, "frame received"); ce != nil {
			ce.Write(zap.Stringer("type", h.Type), zap.Stringer("id", h.ID),
				zap.Uint32("length", h.PayloadLength), zap.Bool("end", h.End))
		}

		if err := r.handler.HandleFrame(ctx, h, p); err != nil {
			return fmt.Sprintf("handle %s frame: %v", h.Type, err), err
		}
	}
}

// readFull 循环读取直到填满 p；传输层可能每次只交付部分字节
func (r *PayloadReceiver) readFull(p []byte) error {
	for off := 0; off < len(p); {
		n, err := r.transport.Receive(p[off:])
		if err != nil {
			if !errors.Is(err, types.ErrTransport) {
				err = types.ErrTransport.WithCause(err)
			}
			return err
		}
		if n == 0 {
			return errPeerClosed
		}
		off += n
	}
	return nil
}

func (r *PayloadReceiver) disconnect(reason string, err error) {
	r.disconnectOnce.Do(func() {
		r.logger.Debug("receiver stopped", zap.String("reason", reason), zap.Error(err))
		if r.onDisconnect != nil {
			r.onDisconnect(reason, err)
		}
	})
}

func describe(op string, err error) string {
	if err == errPeerClosed {
		return "peer closed connection"
	}
	return fmt.Sprintf("%s: %v", op, err)
}
