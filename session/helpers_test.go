package session

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/botstream/protocol"
)

// scriptedTransport 从 r 读取预置字节，写入记录到 out；每次至多交付 chunk 字节
type scriptedTransport struct {
	r     io.Reader
	chunk int

	mu       sync.Mutex
	out      bytes.Buffer
	sendErr  error
	zeroSend bool

	closed atomic.Bool
}

func (s *scriptedTransport) Send(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return 0, nil
	}
	if s.sendErr != nil {
		return 0, s.sendErr
	}
	if s.zeroSend {
		return 0, nil
	}
	if s.chunk > 0 && len(p) > s.chunk {
		p = p[:s.chunk]
	}
	return s.out.Write(p)
}

func (s *scriptedTransport) Receive(p []byte) (int, error) {
	if s.closed.Load() || s.r == nil {
		return 0, nil
	}
	if s.chunk > 0 && len(p) > s.chunk {
		p = p[:s.chunk]
	}
	n, err := s.r.Read(p)
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

func (s *scriptedTransport) IsConnected() bool { return !s.closed.Load() }

func (s *scriptedTransport) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *scriptedTransport) written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.out.Bytes()...)
}

// countingRecorder 统计度量事件
type countingRecorder struct {
	mu           sync.Mutex
	sent         map[protocol.FrameType]int
	received     map[protocol.FrameType]int
	completed    []int
	handled      []int
	disconnects  []string
	activeBodies int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		sent:     make(map[protocol.FrameType]int),
		received: make(map[protocol.FrameType]int),
	}
}

func (r *countingRecorder) FrameSent(t protocol.FrameType, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[t]++
}

func (r *countingRecorder) FrameReceived(t protocol.FrameType, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received[t]++
}

func (r *countingRecorder) RequestCompleted(_ string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, status)
}

func (r *countingRecorder) RequestHandled(_ string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled = append(r.handled, status)
}

func (r *countingRecorder) ActiveBodies(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeBodies = n
}

func (r *countingRecorder) Disconnected(cause string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects = append(r.disconnects, cause)
}

func (r *countingRecorder) sentCount(t protocol.FrameType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[t]
}

func (r *countingRecorder) disconnectCauses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.disconnects...)
}

// disconnectLog 记录断开回调
type disconnectLog struct {
	mu      sync.Mutex
	reasons []string
	fired   chan struct{}
	once    sync.Once
}

func newDisconnectLog() *disconnectLog {
	return &disconnectLog{fired: make(chan struct{})}
}

func (d *disconnectLog) record(reason string) {
	d.mu.Lock()
	d.reasons = append(d.reasons, reason)
	d.mu.Unlock()
	d.once.Do(func() { close(d.fired) })
}

func (d *disconnectLog) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reasons)
}

func (d *disconnectLog) first() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.reasons) == 0 {
		return ""
	}
	return d.reasons[0]
}
