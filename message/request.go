package message

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/BaSui01/botstream/protocol"
	"github.com/BaSui01/botstream/types"
)

// Request 发送侧请求：verb + path 与有序 body 列表
type Request struct {
	Verb    string
	Path    string
	Streams []*Content
}

// NewRequest creates a request with no bodies.
func NewRequest(verb, path string) *Request {
	return &Request{Verb: verb, Path: path}
}

// Get creates a GET request.
func Get(path string) *Request { return NewRequest(http.MethodGet, path) }

// Post creates a POST request.
func Post(path string) *Request { return NewRequest(http.MethodPost, path) }

// Put creates a PUT request.
func Put(path string) *Request { return NewRequest(http.MethodPut, path) }

// Delete creates a DELETE request.
func Delete(path string) *Request { return NewRequest(http.MethodDelete, path) }

// AddStream 追加一个 body，保持添加顺序
func (r *Request) AddStream(c *Content) *Request {
	if c != nil {
		r.Streams = append(r.Streams, c)
	}
	return r
}

// SetBody 将 v 序列化为 JSON 并作为唯一 body
func (r *Request) SetBody(v any) error {
	c, err := NewJSONContent(v)
	if err != nil {
		return err
	}
	r.Streams = []*Content{c}
	return nil
}

// Validate checks the request before it is framed.
func (r *Request) Validate() error {
	if r == nil {
		return types.ErrInvalidArgument.WithMessage("request is nil")
	}
	if r.Verb == "" {
		return types.ErrInvalidArgument.WithMessage("request verb is empty")
	}
	return validateStreams("request", r.Streams)
}

// Descriptor 生成请求描述符，ids 为 AssignIDs 的结果
func (r *Request) Descriptor(ids []uuid.UUID) protocol.RequestPayload {
	return protocol.RequestPayload{
		Verb:    r.Verb,
		Path:    r.Path,
		Streams: descriptions(r.Streams, ids),
	}
}

// ReceiveRequest 接收侧请求；body 可能仍在填充中
type ReceiveRequest struct {
	ID      uuid.UUID
	Verb    string
	Path    string
	Streams []*ContentStream
}

// ReadBodyAsString reads the first body in full.
func (r *ReceiveRequest) ReadBodyAsString(ctx context.Context) (string, error) {
	return readFirstAsString(ctx, r.Streams)
}

// ReadBodyAsJSON decodes the first body into v.
func (r *ReceiveRequest) ReadBodyAsJSON(ctx context.Context, v any) error {
	return readFirstAsJSON(ctx, r.Streams, v)
}

// Discard 关闭所有 body，丢弃剩余数据
func (r *ReceiveRequest) Discard() {
	for _, s := range r.Streams {
		_ = s.Close()
	}
}
