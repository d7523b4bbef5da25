package payload

import (
	"errors"
	"io"

	"github.com/BaSui01/botstream/types"
)

// ContentSource 发送侧 body 的拉取接口。
// Next 返回至多 max 字节；last 为 true 表示此后不再有数据。
// 返回 last 之后再调用 Next 的行为未定义。
type ContentSource interface {
	Next(max int) (chunk []byte, last bool, err error)
}

// Body 一个待发送的 body：身份 + 内容来源
type Body struct {
	Identity Identity
	Source   ContentSource
}

// Fresh 返回一次发送使用的来源：内存来源每次从头读取，其余原样返回
func Fresh(src ContentSource) ContentSource {
	if r, ok := src.(interface{ replay() ContentSource }); ok {
		return r.replay()
	}
	return src
}

// Replayable reports whether src can be sent more than once.
func Replayable(src ContentSource) bool {
	_, ok := src.(interface{ replay() ContentSource })
	return ok
}

// Spent 报告来源是否已被读取过，不能再用于新的发送
func Spent(src ContentSource) bool {
	if s, ok := src.(interface{ spent() bool }); ok {
		return s.spent()
	}
	return false
}

type bytesSource struct {
	all  []byte
	data []byte
}

// BytesSource serves an in-memory slice without copying it.
func BytesSource(data []byte) ContentSource {
	return &bytesSource{all: data, data: data}
}

// StringSource serves s.
func StringSource(s string) ContentSource {
	return BytesSource([]byte(s))
}

func (s *bytesSource) replay() ContentSource {
	return &bytesSource{all: s.all, data: s.all}
}

func (s *bytesSource) Next(max int) ([]byte, bool, error) {
	if max <= 0 {
		return nil, false, types.ErrInvalidArgument.WithMessage("chunk size must be positive, got %d", max)
	}
	n := min(max, len(s.data))
	chunk := s.data[:n]
	s.data = s.data[n:]
	return chunk, len(s.data) == 0, nil
}

// readerSource 预读一个分块，以便在数据恰好是 max 整数倍时
// 把最后一块标记为 last，而不是额外发送一个空的结束帧。
type readerSource struct {
	r       io.Reader
	pending []byte
	started bool
	primed  bool
	eof     bool
}

// ReaderSource streams from r without buffering more than two chunks.
func ReaderSource(r io.Reader) ContentSource {
	return &readerSource{r: r}
}

func (s *readerSource) spent() bool {
	return s.started
}

func (s *readerSource) Next(max int) ([]byte, bool, error) {
	if max <= 0 {
		return nil, false, types.ErrInvalidArgument.WithMessage("chunk size must be positive, got %d", max)
	}
	s.started = true

	if !s.primed {
		chunk, err := s.fill(max)
		if err != nil {
			return nil, false, err
		}
		s.pending = chunk
		s.primed = true
	}

	current := s.pending
	if s.eof {
		s.pending = nil
		return current, true, nil
	}

	next, err := s.fill(max)
	if err != nil {
		return nil, false, err
	}
	if len(next) == 0 && s.eof {
		s.pending = nil
		return current, true, nil
	}
	s.pending = next
	return current, false, nil
}

// fill 读满一个分块或直到 EOF
func (s *readerSource) fill(max int) ([]byte, error) {
	buf := make([]byte, max)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.eof = true
		return buf[:n], nil
	default:
		return nil, err
	}
}
