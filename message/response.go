package message

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/BaSui01/botstream/protocol"
	"github.com/BaSui01/botstream/types"
)

// Response 发送侧响应：状态码与有序 body 列表
type Response struct {
	StatusCode int
	Streams    []*Content
}

// NewResponse creates a response with no bodies.
func NewResponse(statusCode int) *Response {
	return &Response{StatusCode: statusCode}
}

// NewJSONResponse 创建带 JSON body 的响应
func NewJSONResponse(statusCode int, v any) (*Response, error) {
	resp := NewResponse(statusCode)
	if err := resp.SetBody(v); err != nil {
		return nil, err
	}
	return resp, nil
}

// OK returns an empty 200 response.
func OK() *Response { return NewResponse(http.StatusOK) }

// NotFound returns an empty 404 response.
func NotFound() *Response { return NewResponse(http.StatusNotFound) }

// Forbidden returns an empty 403 response.
func Forbidden() *Response { return NewResponse(http.StatusForbidden) }

// InternalServerError returns a 500 response, with a text body when msg is set.
func InternalServerError(msg string) *Response {
	resp := NewResponse(http.StatusInternalServerError)
	if msg != "" {
		resp.AddStream(NewTextContent(msg))
	}
	return resp
}

// AddStream 追加一个 body，保持添加顺序
func (r *Response) AddStream(c *Content) *Response {
	if c != nil {
		r.Streams = append(r.Streams, c)
	}
	return r
}

// SetBody 将 v 序列化为 JSON 并作为唯一 body
func (r *Response) SetBody(v any) error {
	c, err := NewJSONContent(v)
	if err != nil {
		return err
	}
	r.Streams = []*Content{c}
	return nil
}

// Validate checks the response before it is framed.
func (r *Response) Validate() error {
	if r == nil {
		return types.ErrInvalidArgument.WithMessage("response is nil")
	}
	if r.StatusCode < 100 || r.StatusCode > 999 {
		return types.ErrInvalidArgument.WithMessage("invalid status code %d", r.StatusCode)
	}
	return validateStreams("response", r.Streams)
}

// Descriptor 生成响应描述符，ids 为 AssignIDs 的结果
func (r *Response) Descriptor(ids []uuid.UUID) protocol.ResponsePayload {
	return protocol.ResponsePayload{
		StatusCode: r.StatusCode,
		Streams:    descriptions(r.Streams, ids),
	}
}

// ReceiveResponse 接收侧响应；body 可能仍在填充中
type ReceiveResponse struct {
	StatusCode int
	Streams    []*ContentStream
}

// IsSuccess reports a 2xx status.
func (r *ReceiveResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ReadBodyAsString reads the first body in full.
func (r *ReceiveResponse) ReadBodyAsString(ctx context.Context) (string, error) {
	return readFirstAsString(ctx, r.Streams)
}

// ReadBodyAsJSON decodes the first body into v.
func (r *ReceiveResponse) ReadBodyAsJSON(ctx context.Context, v any) error {
	return readFirstAsJSON(ctx, r.Streams, v)
}

// Discard 关闭所有 body，丢弃剩余数据
func (r *ReceiveResponse) Discard() {
	for _, s := range r.Streams {
		_ = s.Close()
	}
}
