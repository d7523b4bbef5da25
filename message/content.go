package message

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/BaSui01/botstream/payload"
	"github.com/BaSui01/botstream/protocol"
	"github.com/BaSui01/botstream/types"
)

// 常用内容类型
const (
	ContentTypeJSON   = "application/json; charset=utf-8"
	ContentTypeText   = "text/plain; charset=utf-8"
	ContentTypeBinary = "application/octet-stream"
)

// Content 发送侧的一个 body。ID 为零值时由连接在发送时分配。
type Content struct {
	ID          uuid.UUID
	ContentType string
	Length      *int64
	Source      payload.ContentSource
}

// NewJSONContent 将 v 序列化为 JSON body
func NewJSONContent(v any) (*Content, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return NewBytesContent(ContentTypeJSON, data), nil
}

// NewBytesContent wraps an in-memory body; its length is declared.
func NewBytesContent(contentType string, data []byte) *Content {
	n := int64(len(data))
	return &Content{ContentType: contentType, Length: &n, Source: payload.BytesSource(data)}
}

// NewTextContent wraps s as text/plain.
func NewTextContent(s string) *Content {
	return NewBytesContent(ContentTypeText, []byte(s))
}

// NewReaderContent streams r without buffering it; length is unknown.
func NewReaderContent(contentType string, r io.Reader) *Content {
	return &Content{ContentType: contentType, Source: payload.ReaderSource(r)}
}

// ContentStream 接收侧的一个 body，数据可能仍在陆续到达
type ContentStream struct {
	ID          uuid.UUID
	ContentType string
	Length      *int64

	buffer *payload.Buffer
}

// NewContentStream binds a received body identity to its buffer.
func NewContentStream(id payload.Identity, buf *payload.Buffer) *ContentStream {
	return &ContentStream{
		ID:          id.ID,
		ContentType: id.ContentType,
		Length:      id.Length,
		buffer:      buf,
	}
}

// Read implements io.Reader; returns io.EOF once the body is complete.
func (s *ContentStream) Read(p []byte) (int, error) {
	return s.buffer.Read(p)
}

// ReadContext reads with cancellation; cancelling closes the stream.
func (s *ContentStream) ReadContext(ctx context.Context, p []byte) (int, error) {
	return s.buffer.ReadContext(ctx, p)
}

// IsDone 区分 "暂无数据" 与 "body 已结束"
func (s *ContentStream) IsDone() bool {
	return s.buffer.IsDone()
}

// Close discards the rest of the body.
func (s *ContentStream) Close() error {
	return s.buffer.Close()
}

// ReadAll 读取完整 body
func (s *ContentStream) ReadAll(ctx context.Context) ([]byte, error) {
	var out bytes.Buffer
	if s.Length != nil && *s.Length > 0 {
		out.Grow(int(min(*s.Length, 1<<20)))
	}
	buf := make([]byte, protocol.MaxPayloadLength)
	for {
		n, err := s.buffer.ReadContext(ctx, buf)
		out.Write(buf[:n])
		if err == io.EOF {
			return out.Bytes(), nil
		}
		if err != nil {
			return out.Bytes(), err
		}
	}
}

// IsJSON reports whether the declared content type is JSON.
func (s *ContentStream) IsJSON() bool {
	return strings.HasPrefix(strings.ToLower(s.ContentType), "application/json")
}

func readFirstAsString(ctx context.Context, streams []*ContentStream) (string, error) {
	if len(streams) == 0 {
		return "", nil
	}
	data, err := streams[0].ReadAll(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readFirstAsJSON(ctx context.Context, streams []*ContentStream, v any) error {
	if len(streams) == 0 {
		return fmt.Errorf("message has no body")
	}
	data, err := streams[0].ReadAll(ctx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// descriptions 为各 body 生成流描述，ids 与 streams 一一对应
func descriptions(streams []*Content, ids []uuid.UUID) []protocol.StreamDescription {
	if len(streams) == 0 {
		return nil
	}
	out := make([]protocol.StreamDescription, len(streams))
	for i, c := range streams {
		out[i] = protocol.StreamDescription{
			ID:          ids[i].String(),
			ContentType: c.ContentType,
			Length:      c.Length,
		}
	}
	return out
}

// Bodies 将发送侧 body 转换为拆帧输入
func Bodies(streams []*Content, ids []uuid.UUID) []payload.Body {
	out := make([]payload.Body, len(streams))
	for i, c := range streams {
		out[i] = payload.Body{
			Identity: payload.Identity{ID: ids[i], ContentType: c.ContentType, Length: c.Length},
			Source:   payload.Fresh(c.Source),
		}
	}
	return out
}

// validateStreams 在成帧前拒绝会在对端引发协议错误或丢数据的 body 组合
func validateStreams(kind string, streams []*Content) error {
	seenIDs := make(map[uuid.UUID]int, len(streams))
	seen := make(map[*Content]int, len(streams))
	for i, c := range streams {
		if c == nil {
			return types.ErrInvalidArgument.WithMessage("%s stream %d is nil", kind, i)
		}
		if c.ID != uuid.Nil {
			if j, dup := seenIDs[c.ID]; dup {
				return types.ErrInvalidArgument.WithMessage("%s streams %d and %d share id %s", kind, j, i, c.ID)
			}
			seenIDs[c.ID] = i
		}
		if payload.Spent(c.Source) {
			return types.ErrInvalidArgument.WithMessage("%s stream %d: content source was already sent", kind, i)
		}
		if j, dup := seen[c]; dup && !payload.Replayable(c.Source) {
			return types.ErrInvalidArgument.WithMessage("%s streams %d and %d share a single-use content source", kind, j, i)
		}
		seen[c] = i
	}
	return nil
}

// AssignIDs 返回各 body 的 id：已设置的保持不变，零值由 next 生成
func AssignIDs(streams []*Content, next func() uuid.UUID) []uuid.UUID {
	ids := make([]uuid.UUID, len(streams))
	for i, c := range streams {
		if c.ID != uuid.Nil {
			ids[i] = c.ID
		} else {
			ids[i] = next()
		}
	}
	return ids
}

// StreamsFromDescriptions 将描述符中的流解析为 body 身份
func StreamsFromDescriptions(descs []protocol.StreamDescription) ([]payload.Identity, error) {
	ids, err := protocol.StreamIDs(descs)
	if err != nil {
		return nil, err
	}
	out := make([]payload.Identity, len(descs))
	for i, d := range descs {
		out[i] = payload.Identity{ID: ids[i], ContentType: d.ContentType, Length: d.Length}
	}
	return out, nil
}
