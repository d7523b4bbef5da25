package message

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/botstream/payload"
	"github.com/BaSui01/botstream/testutil"
	"github.com/BaSui01/botstream/types"
)

type activity struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func TestRequest_SetBodyAndDescriptor(t *testing.T) {
	req := Post("/v3/conversations/abc/activities")
	require.NoError(t, req.SetBody(activity{Type: "message", Text: "hi"}))
	req.AddStream(NewTextContent("attachment"))
	require.NoError(t, req.Validate())

	fixed := uuid.New()
	req.Streams[1].ID = fixed

	n := 0
	ids := AssignIDs(req.Streams, func() uuid.UUID { n++; return uuid.New() })
	assert.Equal(t, 1, n, "only unset ids are generated")
	assert.Equal(t, fixed, ids[1])

	desc := req.Descriptor(ids)
	assert.Equal(t, http.MethodPost, desc.Verb)
	require.Len(t, desc.Streams, 2)
	assert.Equal(t, ContentTypeJSON, desc.Streams[0].ContentType)
	require.NotNil(t, desc.Streams[0].Length)
	assert.Equal(t, int64(len(`{"type":"message","text":"hi"}`)), *desc.Streams[0].Length)

	bodies := Bodies(req.Streams, ids)
	assert.Equal(t, ids[0], bodies[0].Identity.ID)
	assert.Equal(t, ContentTypeText, bodies[1].Identity.ContentType)
}

func TestRequest_Validate(t *testing.T) {
	var nilReq *Request
	assert.ErrorIs(t, nilReq.Validate(), types.ErrInvalidArgument)
	assert.ErrorIs(t, NewRequest("", "/x").Validate(), types.ErrInvalidArgument)

	req := Get("/x")
	req.Streams = append(req.Streams, nil)
	assert.ErrorIs(t, req.Validate(), types.ErrInvalidArgument)

	assert.Equal(t, http.MethodDelete, Delete("/x").Verb)
	assert.Equal(t, http.MethodPut, Put("/x").Verb)
}

func TestResponse_Helpers(t *testing.T) {
	assert.Equal(t, http.StatusOK, OK().StatusCode)
	assert.Equal(t, http.StatusNotFound, NotFound().StatusCode)
	assert.Equal(t, http.StatusForbidden, Forbidden().StatusCode)

	resp := InternalServerError("boom")
	require.Len(t, resp.Streams, 1)
	assert.Equal(t, ContentTypeText, resp.Streams[0].ContentType)
	assert.Empty(t, InternalServerError("").Streams)

	assert.ErrorIs(t, NewResponse(42).Validate(), types.ErrInvalidArgument)

	_, err := NewJSONResponse(http.StatusOK, make(chan int))
	assert.Error(t, err)
}

func TestContentStream_ReadHelpers(t *testing.T) {
	ctx := testutil.TestContext(t)

	newStream := func(contentType string, data []byte) *ContentStream {
		buf := payload.NewBuffer()
		_, _ = buf.Write(data)
		buf.DoneProducing()
		return NewContentStream(payload.Identity{ID: uuid.New(), ContentType: contentType}, buf)
	}

	resp := &ReceiveResponse{
		StatusCode: http.StatusCreated,
		Streams:    []*ContentStream{newStream(ContentTypeJSON, []byte(`{"type":"message","text":"pong"}`))},
	}
	assert.True(t, resp.IsSuccess())
	assert.True(t, resp.Streams[0].IsJSON())

	var got activity
	require.NoError(t, resp.ReadBodyAsJSON(ctx, &got))
	assert.Equal(t, "pong", got.Text)
	assert.True(t, resp.Streams[0].IsDone())

	req := &ReceiveRequest{Streams: []*ContentStream{newStream(ContentTypeText, []byte("hello"))}}
	s, err := req.ReadBodyAsString(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	empty := &ReceiveRequest{}
	s, err = empty.ReadBodyAsString(ctx)
	require.NoError(t, err)
	assert.Empty(t, s)
	assert.Error(t, empty.ReadBodyAsJSON(ctx, &got))
}

func TestContentStream_DiscardClosesBodies(t *testing.T) {
	buf := payload.NewBuffer()
	req := &ReceiveRequest{Streams: []*ContentStream{NewContentStream(payload.Identity{ID: uuid.New()}, buf)}}
	req.Discard()
	assert.True(t, buf.IsClosed())
}

func TestReaderContent_StreamsWithoutLength(t *testing.T) {
	c := NewReaderContent(ContentTypeBinary, bytes.NewReader(testutil.RandomBytes(9, 10)))
	assert.Nil(t, c.Length)

	chunk, last, err := c.Source.Next(64)
	require.NoError(t, err)
	assert.Len(t, chunk, 10)
	assert.True(t, last)
}

func TestValidate_RejectsDuplicateStreamIDs(t *testing.T) {
	shared := uuid.New()
	a := NewTextContent("a")
	a.ID = shared
	b := NewTextContent("b")
	b.ID = shared

	err := Post("/x").AddStream(a).AddStream(b).Validate()
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	assert.Contains(t, err.Error(), shared.String())

	err = OK().AddStream(a).AddStream(b).Validate()
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	// 未设置 id 的 body 由连接分配，不算重复
	assert.NoError(t, Post("/x").AddStream(NewTextContent("a")).AddStream(NewTextContent("b")).Validate())
}

func TestValidate_SingleUseSources(t *testing.T) {
	reader := NewReaderContent(ContentTypeBinary, bytes.NewReader([]byte("abc")))
	err := Post("/x").AddStream(reader).AddStream(reader).Validate()
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, _, err = reader.Source.Next(64)
	require.NoError(t, err)
	assert.ErrorIs(t, Post("/x").AddStream(reader).Validate(), types.ErrInvalidArgument)

	text := NewTextContent("again")
	assert.NoError(t, Post("/x").AddStream(text).AddStream(text).Validate())
}

func TestBodies_FreshSourcePerSend(t *testing.T) {
	c := NewTextContent("hello")
	ids := []uuid.UUID{uuid.New()}

	for i := 0; i < 2; i++ {
		bodies := Bodies([]*Content{c}, ids)
		chunk, last, err := bodies[0].Source.Next(64)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(chunk), "send %d", i)
		assert.True(t, last)
	}
}
