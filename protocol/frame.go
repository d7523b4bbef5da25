package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/BaSui01/botstream/types"
)

// FrameType 帧类型（线上占 1 字节）
type FrameType byte

const (
	FrameRequest      FrameType = 'A'
	FrameResponse     FrameType = 'B'
	FrameStream       FrameType = 'S'
	FrameCancelAll    FrameType = 'X'
	FrameCancelStream FrameType = 'C'
)

const (
	// HeaderLength: Type(1) + ID(16) + PayloadLength(4, LE) + End(1) = 22 bytes
	HeaderLength = 1 + 16 + 4 + 1

	// MaxPayloadLength 单帧负载上限，保证任何一帧都不需要无界缓冲
	MaxPayloadLength = 4096
)

// Valid 判断帧类型是否属于协议已知集合
func (t FrameType) Valid() bool {
	switch t {
	case FrameRequest, FrameResponse, FrameStream, FrameCancelAll, FrameCancelStream:
		return true
	default:
		return false
	}
}

func (t FrameType) String() string {
	switch t {
	case FrameRequest:
		return "request"
	case FrameResponse:
		return "response"
	case FrameStream:
		return "stream"
	case FrameCancelAll:
		return "cancel_all"
	case FrameCancelStream:
		return "cancel_stream"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Header 描述一帧：类型、归属 id、负载长度与是否为该 id 序列的最后一帧
type Header struct {
	Type          FrameType
	ID            uuid.UUID
	PayloadLength uint32
	End           bool
}

func (h Header) String() string {
	return fmt.Sprintf("%s id=%s len=%d end=%t", h.Type, h.ID, h.PayloadLength, h.End)
}

// Validate checks the header against protocol limits.
func (h Header) Validate() error {
	if !h.Type.Valid() {
		return types.ErrProtocolViolation.WithMessage("unknown frame type 0x%02x", byte(h.Type))
	}
	if h.PayloadLength > MaxPayloadLength {
		return types.ErrFrameTooLarge.WithMessage("payload length %d exceeds %d", h.PayloadLength, MaxPayloadLength)
	}
	return nil
}

// EncodeHeader writes h into dst, which must hold at least HeaderLength bytes.
func EncodeHeader(dst []byte, h Header) error {
	if len(dst) < HeaderLength {
		return types.ErrInvalidArgument.WithMessage("header buffer too small: %d < %d", len(dst), HeaderLength)
	}
	if err := h.Validate(); err != nil {
		return err
	}

	dst[0] = byte(h.Type)
	copy(dst[1:17], h.ID[:])
	binary.LittleEndian.PutUint32(dst[17:21], h.PayloadLength)
	if h.End {
		dst[21] = 1
	} else {
		dst[21] = 0
	}
	return nil
}

// DecodeHeader parses the first HeaderLength bytes of src.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderLength {
		return Header{}, types.ErrInvalidArgument.WithMessage("header buffer too small: %d < %d", len(src), HeaderLength)
	}

	var h Header
	h.Type = FrameType(src[0])
	copy(h.ID[:], src[1:17])
	h.PayloadLength = binary.LittleEndian.Uint32(src[17:21])

	switch src[21] {
	case 0:
		h.End = false
	case 1:
		h.End = true
	default:
		return Header{}, types.ErrProtocolViolation.WithMessage("invalid end marker 0x%02x", src[21])
	}

	if err := h.Validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderLength)
	if err := EncodeHeader(buf, h); err != nil {
		return nil, err
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) != HeaderLength {
		return types.ErrInvalidArgument.WithMessage("header must be %d bytes, got %d", HeaderLength, len(data))
	}
	decoded, err := DecodeHeader(data)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// AppendFrame appends the encoded header followed by payload to dst.
// h.PayloadLength is overwritten with len(payload).
func AppendFrame(dst []byte, h Header, payload []byte) ([]byte, error) {
	h.PayloadLength = uint32(len(payload))
	if len(payload) > MaxPayloadLength {
		return dst, types.ErrFrameTooLarge.WithMessage("payload length %d exceeds %d", len(payload), MaxPayloadLength)
	}

	start := len(dst)
	dst = append(dst, make([]byte, HeaderLength)...)
	if err := EncodeHeader(dst[start:], h); err != nil {
		return dst[:start], err
	}
	return append(dst, payload...), nil
}

// WriteFrame 将一帧（头 + 负载）一次性写入 w
func WriteFrame(w io.Writer, h Header, payload []byte) error {
	buf, err := AppendFrame(make([]byte, 0, HeaderLength+len(payload)), h, payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame 从 r 读取一帧；io.ReadFull 负责处理部分读
func ReadFrame(r io.Reader) (Header, []byte, error) {
	var hdr [HeaderLength]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Header{}, nil, err
	}

	h, err := DecodeHeader(hdr[:])
	if err != nil {
		return Header{}, nil, err
	}

	payload := make([]byte, h.PayloadLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Header{}, nil, err
	}
	return h, payload, nil
}
