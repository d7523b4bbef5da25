package payload

import (
	"context"
	"io"
	"sync"

	"github.com/BaSui01/botstream/types"
)

// Buffer 并发 body 缓冲区：单生产者追加，消费者并发读取。
//
// 每次 Write 作为独立分块入队；一次读取最多返回队首分块的剩余字节，
// 从不跨分块拼接。缓冲区只追加、不可 Seek。
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	chunks [][]byte
	head   int // 队首分块的读游标
	unread int

	done   bool
	closed bool
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	b := &Buffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write 追加 p 的副本为新分块，不阻塞写入方
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		// 已丢弃的 body 静默吞掉数据，避免拖垮接收泵
		return len(p), nil
	}
	if b.done {
		return 0, types.ErrProducerDone
	}
	if len(p) == 0 {
		return 0, nil
	}

	chunk := make([]byte, len(p))
	copy(chunk, p)
	b.chunks = append(b.chunks, chunk)
	b.unread += len(chunk)
	b.cond.Broadcast()
	return len(p), nil
}

// Read implements io.Reader without cancellation.
func (b *Buffer) Read(p []byte) (int, error) {
	return b.ReadContext(context.Background(), p)
}

// ReadContext 读取至多 len(p) 字节。
// 有数据时立即返回 min(len(p), 队首分块剩余)；生产结束且读空返回 io.EOF；
// ctx 取消会关闭缓冲区并返回 types.ErrCancelled。
func (b *Buffer) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) == 0 && !b.done && !b.closed {
		// cond.Wait 不感知 ctx，取消时由 AfterFunc 唤醒
		stop := context.AfterFunc(ctx, func() {
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		defer stop()

		for len(b.chunks) == 0 && !b.done && !b.closed {
			if err := ctx.Err(); err != nil {
				b.closeLocked()
				return 0, types.Cancelled(err)
			}
			b.cond.Wait()
		}
	}

	if b.closed {
		return 0, types.ErrBodyClosed
	}
	if len(b.chunks) == 0 {
		return 0, io.EOF
	}

	chunk := b.chunks[0]
	n := copy(p, chunk[b.head:])
	b.head += n
	b.unread -= n
	if b.head == len(chunk) {
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
		b.head = 0
	}
	return n, nil
}

// ReadSlice reads into buf[offset:offset+count].
func (b *Buffer) ReadSlice(ctx context.Context, buf []byte, offset, count int) (int, error) {
	if offset < 0 || count < 0 || offset > len(buf) || count > len(buf)-offset {
		return 0, types.ErrInvalidArgument.WithMessage("offset %d count %d out of range for buffer of %d", offset, count, len(buf))
	}
	return b.ReadContext(ctx, buf[offset:offset+count])
}

// DoneProducing 标记生产结束，幂等
func (b *Buffer) DoneProducing() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	b.cond.Broadcast()
}

// Close 丢弃未读数据并唤醒所有阻塞读，幂等
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
	return nil
}

func (b *Buffer) closeLocked() {
	if b.closed {
		return
	}
	b.closed = true
	b.chunks = nil
	b.head = 0
	b.unread = 0
	b.cond.Broadcast()
}

// IsDone reports whether no more bytes will ever be readable.
func (b *Buffer) IsDone() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed || (b.done && b.unread == 0)
}

// IsClosed reports whether the buffer was closed or cancelled.
func (b *Buffer) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unread
}

var _ io.ReadWriteCloser = (*Buffer)(nil)
