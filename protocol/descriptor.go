package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/BaSui01/botstream/types"
)

// utf8BOM 部分对端会在 JSON 描述符前写入 BOM，解码前需剥离
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// StreamDescription 描述消息中的一个 body
type StreamDescription struct {
	ID          string `json:"id"`
	ContentType string `json:"type,omitempty"`
	Length      *int64 `json:"length,omitempty"`
}

// RequestPayload 请求描述符，作为 Request 帧的负载
type RequestPayload struct {
	Verb    string              `json:"verb"`
	Path    string              `json:"path"`
	Streams []StreamDescription `json:"streams,omitempty"`
}

// ResponsePayload 响应描述符，作为 Response 帧的负载
type ResponsePayload struct {
	StatusCode int                 `json:"statusCode"`
	Streams    []StreamDescription `json:"streams,omitempty"`
}

// StreamIDs parses every stream id in order.
func StreamIDs(streams []StreamDescription) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(streams))
	seen := make(map[uuid.UUID]struct{}, len(streams))
	for _, s := range streams {
		id, err := uuid.Parse(s.ID)
		if err != nil {
			return nil, types.ErrProtocolViolation.WithMessage("invalid stream id %q", s.ID).WithCause(err)
		}
		if _, dup := seen[id]; dup {
			return nil, types.ErrDuplicateBody.WithMessage("stream %s listed twice", id)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// EncodeDescriptor 将描述符序列化为 JSON
func EncodeDescriptor(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, types.ErrInvalidArgument.WithMessage("encode descriptor").WithCause(err)
	}
	return data, nil
}

// DecodeRequest parses a request descriptor.
func DecodeRequest(data []byte) (*RequestPayload, error) {
	var p RequestPayload
	if err := decodeDescriptor(data, &p); err != nil {
		return nil, err
	}
	if p.Verb == "" {
		return nil, types.ErrProtocolViolation.WithMessage("request descriptor without verb")
	}
	if _, err := StreamIDs(p.Streams); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeResponse parses a response descriptor.
func DecodeResponse(data []byte) (*ResponsePayload, error) {
	var p ResponsePayload
	if err := decodeDescriptor(data, &p); err != nil {
		return nil, err
	}
	if _, err := StreamIDs(p.Streams); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeDescriptor(data []byte, v any) error {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return types.ErrProtocolViolation.WithMessage("empty descriptor")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return types.ErrProtocolViolation.WithMessage("malformed descriptor").WithCause(err)
	}
	return nil
}
