package payload

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/BaSui01/botstream/protocol"
	"github.com/BaSui01/botstream/types"
)

// FrameWriter 将一帧交给传输层；返回即表示整帧已写出
type FrameWriter interface {
	SendFrame(ctx context.Context, h protocol.Header, payload []byte) error
}

// FrameWriterFunc adapts a function to FrameWriter.
type FrameWriterFunc func(ctx context.Context, h protocol.Header, payload []byte) error

// SendFrame implements FrameWriter.
func (f FrameWriterFunc) SendFrame(ctx context.Context, h protocol.Header, payload []byte) error {
	return f(ctx, h, payload)
}

// Disassembler 将一条消息拆成帧序列：描述符帧在前，随后按顺序发送各 body 的 Stream 帧。
// body 按 MaxPayload 分块拉取，不会整体驻留内存。
type Disassembler struct {
	Writer     FrameWriter
	MaxPayload int
}

func (d *Disassembler) maxPayload() int {
	if d.MaxPayload <= 0 || d.MaxPayload > protocol.MaxPayloadLength {
		return protocol.MaxPayloadLength
	}
	return d.MaxPayload
}

// SendMessage 发送描述符与全部 body，最后一帧交付传输层后才返回。
// 任一帧写失败立即中止；每帧之前检查 ctx。
func (d *Disassembler) SendMessage(ctx context.Context, frameType protocol.FrameType, id uuid.UUID, descriptor []byte, bodies []Body) error {
	if frameType != protocol.FrameRequest && frameType != protocol.FrameResponse {
		return types.ErrInvalidArgument.WithMessage("message frame type must be request or response, got %s", frameType)
	}
	if d.Writer == nil {
		return types.ErrInvalidArgument.WithMessage("disassembler has no writer")
	}

	if err := d.sendDescriptor(ctx, frameType, id, descriptor); err != nil {
		return err
	}

	for i, body := range bodies {
		if err := d.sendBody(ctx, body); err != nil {
			return fmt.Errorf("body %d (%s): %w", i, body.Identity.ID, err)
		}
	}
	return nil
}

func (d *Disassembler) sendDescriptor(ctx context.Context, frameType protocol.FrameType, id uuid.UUID, descriptor []byte) error {
	limit := d.maxPayload()
	for {
		n := min(limit, len(descriptor))
		chunk := descriptor[:n]
		descriptor = descriptor[n:]
		last := len(descriptor) == 0

		if err := d.emit(ctx, protocol.Header{Type: frameType, ID: id, End: last}, chunk); err != nil {
			return err
		}
		if last {
			return nil
		}
	}
}

func (d *Disassembler) sendBody(ctx context.Context, body Body) error {
	if body.Source == nil {
		return d.emit(ctx, protocol.Header{Type: protocol.FrameStream, ID: body.Identity.ID, End: true}, nil)
	}

	limit := d.maxPayload()
	for {
		if err := ctx.Err(); err != nil {
			return types.Cancelled(err)
		}
		chunk, last, err := body.Source.Next(limit)
		if err != nil {
			return fmt.Errorf("read content: %w", err)
		}
		if len(chunk) > limit {
			return types.ErrInvalidArgument.WithMessage("content source returned %d bytes, limit %d", len(chunk), limit)
		}
		if len(chunk) == 0 && !last {
			continue
		}

		h := protocol.Header{Type: protocol.FrameStream, ID: body.Identity.ID, End: last}
		if err := d.emit(ctx, h, chunk); err != nil {
			return err
		}
		if last {
			return nil
		}
	}
}

func (d *Disassembler) emit(ctx context.Context, h protocol.Header, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return types.Cancelled(err)
	}
	h.PayloadLength = uint32(len(chunk))
	return d.Writer.SendFrame(ctx, h, chunk)
}
