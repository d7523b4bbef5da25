package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/botstream/internal/pool"
	"github.com/BaSui01/botstream/protocol"
	"github.com/BaSui01/botstream/transport"
	"github.com/BaSui01/botstream/types"
)

// SenderOptions 配置 PayloadSender
type SenderOptions struct {
	Logger   *zap.Logger
	Recorder Recorder
	// Limiter 按字节限速（令牌 = 字节）；nil 表示不限速
	Limiter *rate.Limiter
	// OnDisconnect 在首次发送失败时调用且仅调用一次
	OnDisconnect func(reason string, err error)
}

// PayloadSender 串行地把帧写入传输层。
// 每帧的头与负载编码进同一块缓冲区，在写锁内循环写完，帧之间不会交错。
type PayloadSender struct {
	transport transport.Transport
	logger    *zap.Logger
	recorder  Recorder
	limiter   *rate.Limiter

	mu             sync.Mutex
	connected      atomic.Bool
	disconnectOnce sync.Once
	onDisconnect   func(reason string, err error)
}

// NewPayloadSender creates a sender bound to t.
func NewPayloadSender(t transport.Transport, opts SenderOptions) *PayloadSender {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	s := &PayloadSender{
		transport:    t,
		logger:       opts.Logger.With(zap.String("component", "payload_sender")),
		recorder:     opts.Recorder,
		limiter:      opts.Limiter,
		onDisconnect: opts.OnDisconnect,
	}
	s.connected.Store(true)
	return s
}

// SendFrame 编码并写出一帧；返回 nil 表示整帧已交付传输层
func (s *PayloadSender) SendFrame(ctx context.Context, h protocol.Header, payload []byte) error {
	if !s.connected.Load() {
		return types.ErrConnectionClosed
	}

	bufp := pool.FrameBufferPool.Get()
	defer pool.FrameBufferPool.Put(bufp)

	buf, err := protocol.AppendFrame((*bufp)[:0], h, payload)
	if err != nil {
		return err
	}
	*bufp = buf

	// 控制帧不限速
	if s.limiter != nil && h.Type != protocol.FrameCancelAll && h.Type != protocol.FrameCancelStream {
		if err := s.limiter.WaitN(ctx, min(len(buf), s.limiter.Burst())); err != nil {
			// ctx 已取消，或等待令牌会超过 ctx 截止时间
			return types.Cancelled(err)
		}
	}

	reason, sendErr := s.write(buf)
	if sendErr != nil {
		s.Disconnect(reason, sendErr)
		return sendErr
	}

	s.recorder.FrameSent(h.Type, len(buf))
	if ce := s.logger.Check(zap.DebugLevel, "frame sent"); ce != nil {
		ce.Write(zap.Stringer("type", h.Type), zap.Stringer("id", h.ID),
			zap.Uint32("length", uint32(len(payload))), zap.Bool("end", h.End))
	}
	return nil
}

// write 在写锁内循环直到整帧写完；失败时返回断开原因
func (s *PayloadSender) write(buf []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected.Load() {
		return "", types.ErrConnectionClosed
	}

	for off := 0; off < len(buf); {
		n, err := s.transport.Send(buf[off:])
		if err != nil {
			if !errors.Is(err, types.ErrTransport) {
				err = types.ErrTransport.WithCause(err)
			}
			return fmt.Sprintf("send failed: %v", err), err
		}
		if n == 0 {
			return "peer closed connection during send", types.ErrConnectionClosed.WithMessage("transport sent 0 bytes")
		}
		off += n
	}
	return "", nil
}

// Disconnect 标记发送端不可用，并仅触发一次断开回调
func (s *PayloadSender) Disconnect(reason string, err error) {
	if reason == "" {
		// 已断开后的快速失败，不重复通知
		return
	}
	s.disconnectOnce.Do(func() {
		s.connected.Store(false)
		s.logger.Debug("sender disconnected", zap.String("reason", reason), zap.Error(err))
		if s.onDisconnect != nil {
			s.onDisconnect(reason, err)
		}
	})
}

// stop 由连接拆除时调用：禁止后续发送。
// 拆除可能正发生在 Disconnect 的回调内，因此这里不能再经过 disconnectOnce。
func (s *PayloadSender) stop() {
	s.connected.Store(false)
}

// IsConnected reports whether frames may still be sent.
func (s *PayloadSender) IsConnected() bool {
	return s.connected.Load()
}
