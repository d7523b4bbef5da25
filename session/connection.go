package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/botstream/internal/ctxkeys"
	"github.com/BaSui01/botstream/internal/pool"
	"github.com/BaSui01/botstream/message"
	"github.com/BaSui01/botstream/payload"
	"github.com/BaSui01/botstream/protocol"
	"github.com/BaSui01/botstream/transport"
	"github.com/BaSui01/botstream/types"
)

// Connection 一条双工流式连接：发送请求/响应，接收并分发对端消息。
//
// 状态机：Disconnected → Connecting → Connected → (Disconnected | Closed)。
// 同一连接上的消息完整串行发送，一条消息的全部帧发出后才开始下一条。
type Connection struct {
	id      uuid.UUID
	dial    transport.Dialer
	handler RequestHandler
	opts    options
	logger  *zap.Logger
	workers *pool.GoroutinePool

	mu         sync.Mutex
	state      State
	link       *link
	lastLink   *link
	done       chan struct{}
	doneClosed bool
	err        error

	workersOnce sync.Once
	workersDone chan struct{}

	// 正在处理的入站请求数，超过 maxConcurrentRequests 的请求回复 503
	inflight atomic.Int32
}

// link 一次 Connect 建立的传输及其接收侧状态，拆除后整体作废
type link struct {
	transport transport.Transport
	sender    *PayloadSender
	receiver  *PayloadReceiver
	assembler *payload.Assembler

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	pumpDone chan struct{}

	// sendSlot 容量为 1，持有期间独占发送整条消息
	sendSlot chan struct{}

	pendingMu sync.Mutex
	pending   map[uuid.UUID]chan *message.ReceiveResponse

	// 仅由接收泵访问
	partial map[uuid.UUID]*partialDescriptor

	// 在 close(done) 之前写入
	reason string
	err    error
}

type partialDescriptor struct {
	frameType protocol.FrameType
	data      []byte
}

// NewConnection 创建连接；dial 在 Connect 时调用，handler 可为 nil（入站请求回复 404）
func NewConnection(dial transport.Dialer, handler RequestHandler, opts ...Option) *Connection {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := o.nextID()
	logger := o.logger.With(
		zap.String("component", "connection"),
		zap.String("connection_id", id.String()),
	)

	c := &Connection{
		id:      id,
		dial:    dial,
		handler: handler,
		opts:    o,
		logger:  logger,
		state:   StateDisconnected,
		done:    make(chan struct{}),

		workersDone: make(chan struct{}),
	}
	c.workers = pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers: o.maxConcurrentRequests,
		QueueSize:  o.maxConcurrentRequests,
		PanicHandler: func(r any) {
			logger.Error("request worker panicked", zap.Any("panic", r))
		},
	})
	return c
}

// ID returns the connection id used in logs.
func (c *Connection) ID() uuid.UUID { return c.id }

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the connection is in StateConnected.
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Done 在当前连接被拆除时关闭；重新 Connect 后返回新的通道
func (c *Connection) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the cause of the last teardown, nil for a requested disconnect.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Connect 在 timeout 内建立传输并启动接收泵；timeout <= 0 仅受 ctx 约束
func (c *Connection) Connect(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return types.ErrConnectionClosed.WithMessage("connection closed")
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return types.ErrInvalidArgument.WithMessage("connect already in progress")
	}
	if c.dial == nil {
		c.mu.Unlock()
		return types.ErrInvalidArgument.WithMessage("connection has no dialer")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.logger.Debug("connecting", zap.Duration("timeout", timeout))
	t, err := c.dial(dialCtx)
	if err != nil {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()

		if dialCtx.Err() != nil && ctx.Err() == nil {
			return types.Cancelled(dialCtx.Err()).WithMessage("connect timed out after %s", timeout)
		}
		return err
	}

	l := c.newLink(t)

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect 在拨号期间被调用
		c.mu.Unlock()
		l.cancel()
		_ = t.Close()
		return types.ErrConnectionClosed.WithMessage("connection closed while connecting")
	}
	if c.doneClosed {
		c.done = make(chan struct{})
		c.doneClosed = false
	}
	l.done = c.done
	c.link = l
	c.lastLink = l
	c.state = StateConnected
	c.err = nil
	c.mu.Unlock()

	go func() {
		defer close(l.pumpDone)
		_ = l.receiver.Run(l.ctx)
	}()

	c.logger.Info("connected")
	return nil
}

func (c *Connection) newLink(t transport.Transport) *link {
	base := ctxkeys.WithConnectionID(context.Background(), c.id.String())
	if ra, ok := t.(interface{ RemoteAddr() net.Addr }); ok && ra.RemoteAddr() != nil {
		base = ctxkeys.WithRemoteAddr(base, ra.RemoteAddr().String())
	}
	ctx, cancel := context.WithCancel(base)
	l := &link{
		transport: t,
		assembler: payload.NewAssembler(c.logger),
		ctx:       ctx,
		cancel:    cancel,
		pumpDone:  make(chan struct{}),
		sendSlot:  make(chan struct{}, 1),
		pending:   make(map[uuid.UUID]chan *message.ReceiveResponse),
		partial:   make(map[uuid.UUID]*partialDescriptor),
	}

	onDisconnect := func(reason string, err error) {
		c.teardown(l, reason, err, StateDisconnected)
	}

	var limiter *rate.Limiter
	if c.opts.sendLimit != rate.Inf {
		limiter = rate.NewLimiter(c.opts.sendLimit, c.opts.sendBurst)
	}
	l.sender = NewPayloadSender(t, SenderOptions{
		Logger:       c.logger,
		Recorder:     c.opts.recorder,
		Limiter:      limiter,
		OnDisconnect: onDisconnect,
	})
	l.receiver = NewPayloadReceiver(t, FrameHandlerFunc(func(ctx context.Context, h protocol.Header, p []byte) error {
		return c.dispatch(ctx, l, h, p)
	}), ReceiverOptions{
		Logger:       c.logger,
		Recorder:     c.opts.recorder,
		OnDisconnect: onDisconnect,
	})
	return l
}

// Disconnect 主动关闭连接，进入终态 StateClosed。
// 不等待接收泵与处理协程退出，需要等待时使用 Shutdown。
func (c *Connection) Disconnect() {
	c.close()
}

// Shutdown 关闭连接并等待接收泵与在途请求处理结束，受 ctx 约束。
// 不能在断开回调或 RequestHandler 内调用。
func (c *Connection) Shutdown(ctx context.Context) error {
	last := c.close()
	if last != nil {
		select {
		case <-last.pumpDone:
		case <-ctx.Done():
			return types.Cancelled(ctx.Err()).WithMessage("shutdown: receive pump still running")
		}
	}
	select {
	case <-c.workersDone:
		return nil
	case <-ctx.Done():
		return types.Cancelled(ctx.Err()).WithMessage("shutdown: request handlers still running")
	}
}

func (c *Connection) close() *link {
	c.mu.Lock()
	l := c.link
	if c.state == StateConnected && l != nil {
		c.mu.Unlock()
		c.teardown(l, "disconnect requested", nil, StateClosed)
		c.mu.Lock()
	}
	c.state = StateClosed
	if !c.doneClosed {
		close(c.done)
		c.doneClosed = true
	}
	last := c.lastLink
	c.mu.Unlock()

	// 处理协程在 ctx 取消与 body 关闭后自行退出
	c.workersOnce.Do(func() {
		go func() {
			c.workers.Close()
			close(c.workersDone)
		}()
	})
	return last
}

// teardown 拆除 l，对同一 link 只生效一次
func (c *Connection) teardown(l *link, reason string, err error, final State) {
	c.mu.Lock()
	if c.link != l || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = final
	c.link = nil
	c.err = err
	c.doneClosed = true
	c.mu.Unlock()

	l.reason, l.err = reason, err
	l.cancel()
	l.sender.stop()
	_ = l.transport.Close()
	bodies := l.assembler.CloseAll()

	l.pendingMu.Lock()
	pending := len(l.pending)
	l.pending = make(map[uuid.UUID]chan *message.ReceiveResponse)
	l.pendingMu.Unlock()

	close(l.done)

	c.opts.recorder.ActiveBodies(0)
	c.opts.recorder.Disconnected(causeLabel(err))

	fields := []zap.Field{
		zap.String("reason", reason),
		zap.Stringer("state", final),
		zap.Int("bodies_closed", bodies),
		zap.Int("pending_failed", pending),
	}
	if err == nil || errors.Is(err, types.ErrConnectionClosed) || errors.Is(err, types.ErrCancelled) {
		c.logger.Info("connection torn down", fields...)
	} else {
		c.logger.Error("connection torn down", append(fields, zap.Error(err))...)
	}

	if c.opts.onDisconnected != nil {
		c.opts.onDisconnected(reason)
	}
}

func causeLabel(err error) string {
	if err == nil {
		return "local"
	}
	if code := types.GetErrorCode(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "unknown"
}

func (l *link) closedError() error {
	return types.ErrConnectionClosed.WithMessage("connection closed: %s", l.reason).WithCause(l.err)
}

func (c *Connection) activeLink() (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.link == nil {
		return nil, types.ErrNotConnected.WithMessage("connection is %s", c.state)
	}
	return c.link, nil
}

// =============================================================================
// 📤 发送
// =============================================================================

// SendRequest 发送请求并等待对应响应。响应 body 可能仍在到达。
func (c *Connection) SendRequest(ctx context.Context, req *message.Request) (*message.ReceiveResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := c.opts.tracer.Start(ctx, "botstream.SendRequest",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("botstream.verb", req.Verb),
			attribute.String("botstream.path", req.Path),
			attribute.Int("botstream.streams", len(req.Streams)),
		),
	)
	defer span.End()

	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("botstream.status_code", resp.StatusCode))
	return resp, nil
}

func (c *Connection) sendRequest(ctx context.Context, req *message.Request) (*message.ReceiveResponse, error) {
	l, err := c.activeLink()
	if err != nil {
		return nil, err
	}

	id := c.opts.nextID()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("botstream.request_id", id.String()))

	ids := message.AssignIDs(req.Streams, c.opts.nextID)
	desc, err := protocol.EncodeDescriptor(req.Descriptor(ids))
	if err != nil {
		return nil, err
	}

	ch := make(chan *message.ReceiveResponse, 1)
	l.pendingMu.Lock()
	l.pending[id] = ch
	l.pendingMu.Unlock()

	start := time.Now()
	if err := c.sendMessage(ctx, l, protocol.FrameRequest, id, desc, message.Bodies(req.Streams, ids)); err != nil {
		l.removePending(id)
		return nil, err
	}

	select {
	case resp := <-ch:
		c.opts.recorder.RequestCompleted(req.Verb, resp.StatusCode, time.Since(start))
		return resp, nil
	case <-ctx.Done():
		l.abandon(id, ch)
		return nil, types.Cancelled(ctx.Err())
	case <-l.done:
		return nil, l.closedError()
	}
}

func (l *link) removePending(id uuid.UUID) {
	l.pendingMu.Lock()
	delete(l.pending, id)
	l.pendingMu.Unlock()
}

// abandon 放弃等待；已投递但无人读取的响应直接丢弃其 body
func (l *link) abandon(id uuid.UUID, ch chan *message.ReceiveResponse) {
	l.removePending(id)
	select {
	case resp := <-ch:
		resp.Discard()
	default:
	}
}

// SendResponse 以 requestID 回复对端请求
func (c *Connection) SendResponse(ctx context.Context, requestID uuid.UUID, resp *message.Response) error {
	if err := resp.Validate(); err != nil {
		return err
	}
	l, err := c.activeLink()
	if err != nil {
		return err
	}
	return c.sendResponseOn(ctx, l, requestID, resp)
}

func (c *Connection) sendResponseOn(ctx context.Context, l *link, requestID uuid.UUID, resp *message.Response) error {
	ids := message.AssignIDs(resp.Streams, c.opts.nextID)
	desc, err := protocol.EncodeDescriptor(resp.Descriptor(ids))
	if err != nil {
		return err
	}
	return c.sendMessage(ctx, l, protocol.FrameResponse, requestID, desc, message.Bodies(resp.Streams, ids))
}

// countingWriter 统计已交付的帧数，用于判断失败时线上是否留有半条消息
type countingWriter struct {
	w      payload.FrameWriter
	frames int
}

func (cw *countingWriter) SendFrame(ctx context.Context, h protocol.Header, p []byte) error {
	if err := cw.w.SendFrame(ctx, h, p); err != nil {
		return err
	}
	cw.frames++
	return nil
}

// sendMessage 独占发送一整条消息。
// 帧已写出一部分后失败（含取消）无法撤回，只能拆除整个连接。
func (c *Connection) sendMessage(ctx context.Context, l *link, frameType protocol.FrameType, id uuid.UUID, desc []byte, bodies []payload.Body) error {
	select {
	case l.sendSlot <- struct{}{}:
	case <-ctx.Done():
		return types.Cancelled(ctx.Err())
	case <-l.done:
		return l.closedError()
	}
	defer func() { <-l.sendSlot }()

	select {
	case <-l.done:
		return l.closedError()
	default:
	}

	cw := &countingWriter{w: l.sender}
	d := payload.Disassembler{Writer: cw, MaxPayload: c.opts.maxPayload}
	err := d.SendMessage(ctx, frameType, id, desc, bodies)
	if err == nil {
		return nil
	}
	if cw.frames == 0 && !types.IsFatal(err) {
		return err
	}

	if errors.Is(err, types.ErrCancelled) {
		_ = l.sender.SendFrame(context.Background(), protocol.Header{Type: protocol.FrameCancelAll, ID: id, End: true}, nil)
		c.teardown(l, "send cancelled mid-message", err, StateDisconnected)
		return err
	}
	c.teardown(l, fmt.Sprintf("send aborted mid-message: %v", err), err, StateDisconnected)
	return err
}

// =============================================================================
// 📥 接收分发
// =============================================================================

// dispatch 由接收泵逐帧调用；返回错误即拆除连接
func (c *Connection) dispatch(ctx context.Context, l *link, h protocol.Header, p []byte) error {
	switch h.Type {
	case protocol.FrameRequest, protocol.FrameResponse:
		return c.handleDescriptor(ctx, l, h, p)

	case protocol.FrameStream:
		if err := l.assembler.AppendFrame(h.ID, p, h.End); err != nil {
			return err
		}
		if h.End {
			c.opts.recorder.ActiveBodies(l.assembler.Active())
		}
		return nil

	case protocol.FrameCancelStream:
		if l.assembler.CancelBody(h.ID) {
			c.logger.Debug("stream cancelled by peer", zap.Stringer("body_id", h.ID))
			c.opts.recorder.ActiveBodies(l.assembler.Active())
		}
		return nil

	case protocol.FrameCancelAll:
		return types.ErrCancelled.WithMessage("peer cancelled all streams")

	default:
		return types.ErrProtocolViolation.WithMessage("unexpected frame type %s", h.Type)
	}
}

// handleDescriptor 累积描述符帧直到 end，然后交付完整消息
func (c *Connection) handleDescriptor(ctx context.Context, l *link, h protocol.Header, p []byte) error {
	pd, ok := l.partial[h.ID]
	if !ok && h.End {
		return c.completeDescriptor(ctx, l, h.Type, h.ID, p)
	}
	if !ok {
		pd = &partialDescriptor{frameType: h.Type}
		l.partial[h.ID] = pd
	} else if pd.frameType != h.Type {
		return types.ErrProtocolViolation.WithMessage("descriptor %s switched from %s to %s", h.ID, pd.frameType, h.Type)
	}

	if len(pd.data)+len(p) > c.opts.maxDescriptorSize {
		return types.ErrProtocolViolation.WithMessage("descriptor %s exceeds %d bytes", h.ID, c.opts.maxDescriptorSize)
	}
	pd.data = append(pd.data, p...)
	if !h.End {
		return nil
	}

	delete(l.partial, h.ID)
	return c.completeDescriptor(ctx, l, pd.frameType, h.ID, pd.data)
}

func (c *Connection) completeDescriptor(ctx context.Context, l *link, frameType protocol.FrameType, id uuid.UUID, data []byte) error {
	if frameType == protocol.FrameRequest {
		return c.onRequest(l, id, data)
	}
	return c.onResponse(l, id, data)
}

func (c *Connection) beginBodies(l *link, idents []payload.Identity) ([]*message.ContentStream, error) {
	streams := make([]*message.ContentStream, len(idents))
	for i, ident := range idents {
		buf, err := l.assembler.BeginBody(ident)
		if err != nil {
			return nil, err
		}
		streams[i] = message.NewContentStream(ident, buf)
	}
	if len(idents) > 0 {
		c.opts.recorder.ActiveBodies(l.assembler.Active())
	}
	return streams, nil
}

func (c *Connection) onRequest(l *link, id uuid.UUID, data []byte) error {
	p, err := protocol.DecodeRequest(data)
	if err != nil {
		return err
	}
	idents, err := message.StreamsFromDescriptions(p.Streams)
	if err != nil {
		return err
	}
	streams, err := c.beginBodies(l, idents)
	if err != nil {
		return err
	}

	req := &message.ReceiveRequest{ID: id, Verb: p.Verb, Path: p.Path, Streams: streams}
	c.logger.Debug("request received",
		zap.Stringer("request_id", id),
		zap.String("verb", p.Verb),
		zap.String("path", p.Path),
		zap.Int("streams", len(streams)))

	if c.handler == nil {
		c.reject(l, req, http.StatusNotFound)
		return nil
	}

	if c.inflight.Add(1) > int32(c.opts.maxConcurrentRequests) {
		c.inflight.Add(-1)
		c.logger.Warn("request rejected, handler limit reached", zap.Stringer("request_id", id))
		c.reject(l, req, http.StatusServiceUnavailable)
		return nil
	}
	err = c.workers.Submit(l.ctx, func(ctx context.Context) error {
		defer c.inflight.Add(-1)
		return c.serveRequest(ctx, l, req)
	})
	if err != nil {
		c.inflight.Add(-1)
	}
	switch {
	case err == nil:
	case errors.Is(err, pool.ErrPoolFull):
		c.logger.Warn("request rejected, handler pool saturated", zap.Stringer("request_id", id))
		c.reject(l, req, http.StatusServiceUnavailable)
	default:
		req.Discard()
	}
	return nil
}

// reject 丢弃请求 body 并异步回复 status；接收泵不能阻塞在发送上
func (c *Connection) reject(l *link, req *message.ReceiveRequest, status int) {
	req.Discard()
	go func() {
		if err := c.sendResponseOn(l.ctx, l, req.ID, message.NewResponse(status)); err != nil {
			c.logger.Debug("send rejection failed", zap.Stringer("request_id", req.ID), zap.Error(err))
		}
	}()
}

func (c *Connection) serveRequest(ctx context.Context, l *link, req *message.ReceiveRequest) error {
	start := time.Now()
	ctx = ctxkeys.WithRequestID(ctx, req.ID.String())

	resp, err := c.invokeHandler(ctx, req)
	switch {
	case err != nil:
		c.logger.Warn("request handler failed",
			zap.Stringer("request_id", req.ID),
			zap.String("path", req.Path),
			zap.Error(err))
		resp = message.InternalServerError("")
	case resp == nil:
		resp = message.OK()
	}
	if vErr := resp.Validate(); vErr != nil {
		c.logger.Warn("handler returned invalid response", zap.Stringer("request_id", req.ID), zap.Error(vErr))
		resp = message.InternalServerError("")
	}
	c.opts.recorder.RequestHandled(req.Verb, resp.StatusCode, time.Since(start))

	if err := c.sendResponseOn(ctx, l, req.ID, resp); err != nil {
		c.logger.Debug("send response failed", zap.Stringer("request_id", req.ID), zap.Error(err))
		return err
	}
	return nil
}

func (c *Connection) invokeHandler(ctx context.Context, req *message.ReceiveRequest) (resp *message.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return c.handler.ProcessRequest(ctx, req)
}

func (c *Connection) onResponse(l *link, id uuid.UUID, data []byte) error {
	p, err := protocol.DecodeResponse(data)
	if err != nil {
		return err
	}
	idents, err := message.StreamsFromDescriptions(p.Streams)
	if err != nil {
		return err
	}
	streams, err := c.beginBodies(l, idents)
	if err != nil {
		return err
	}
	resp := &message.ReceiveResponse{StatusCode: p.StatusCode, Streams: streams}

	l.pendingMu.Lock()
	ch, ok := l.pending[id]
	if ok {
		delete(l.pending, id)
		ch <- resp
	}
	l.pendingMu.Unlock()

	if !ok {
		c.logger.Warn("orphaned response",
			zap.Stringer("request_id", id),
			zap.Int("status_code", p.StatusCode),
			zap.Int("streams", len(idents)))
		for _, ident := range idents {
			l.assembler.DiscardBody(ident.ID)
		}
	}
	return nil
}
