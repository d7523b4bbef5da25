package payload

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/botstream/protocol"
	"github.com/BaSui01/botstream/testutil"
	"github.com/BaSui01/botstream/types"
)

type sentFrame struct {
	h       protocol.Header
	payload []byte
}

// recordingWriter 记录所有交付的帧，可选在第 failAt 帧返回错误
type recordingWriter struct {
	mu      sync.Mutex
	frames  []sentFrame
	failAt  int
	failErr error
}

func (w *recordingWriter) SendFrame(_ context.Context, h protocol.Header, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failErr != nil && len(w.frames) == w.failAt {
		return w.failErr
	}
	w.frames = append(w.frames, sentFrame{h: h, payload: append([]byte(nil), payload...)})
	return nil
}

func (w *recordingWriter) streamFrames(id uuid.UUID) []sentFrame {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []sentFrame
	for _, f := range w.frames {
		if f.h.Type == protocol.FrameStream && f.h.ID == id {
			out = append(out, f)
		}
	}
	return out
}

func TestDisassembler_ExactMultipleOfMaxPayload(t *testing.T) {
	for name, newSource := range map[string]func([]byte) ContentSource{
		"bytes":  BytesSource,
		"reader": func(b []byte) ContentSource { return ReaderSource(bytes.NewReader(b)) },
	} {
		t.Run(name, func(t *testing.T) {
			w := &recordingWriter{}
			d := &Disassembler{Writer: w}
			body := Body{Identity: Identity{ID: uuid.New()}, Source: newSource(testutil.RandomBytes(3, 4*protocol.MaxPayloadLength))}

			err := d.SendMessage(context.Background(), protocol.FrameRequest, uuid.New(), []byte(`{"verb":"POST"}`), []Body{body})
			require.NoError(t, err)

			frames := w.streamFrames(body.Identity.ID)
			require.Len(t, frames, 4)
			for i, f := range frames {
				assert.Len(t, f.payload, protocol.MaxPayloadLength)
				assert.Equal(t, i == 3, f.h.End, "frame %d end flag", i)
			}
		})
	}
}

func TestDisassembler_CompletionWaitsForLastFrame(t *testing.T) {
	w := &recordingWriter{}
	// 每帧交付前检查是否已返回
	var returned bool
	var mu sync.Mutex
	counted := FrameWriterFunc(func(ctx context.Context, h protocol.Header, p []byte) error {
		mu.Lock()
		defer mu.Unlock()
		assert.False(t, returned, "frame handed over after SendMessage returned")
		return w.SendFrame(ctx, h, p)
	})

	d := &Disassembler{Writer: counted}
	id := uuid.New()
	err := d.SendMessage(context.Background(), protocol.FrameResponse, uuid.New(), []byte(`{"statusCode":200}`),
		[]Body{{Identity: Identity{ID: id}, Source: BytesSource(make([]byte, 4*protocol.MaxPayloadLength))}})
	mu.Lock()
	returned = true
	mu.Unlock()

	require.NoError(t, err)
	assert.Len(t, w.streamFrames(id), 4)
}

func TestDisassembler_EmptyBodyEmitsSingleEndFrame(t *testing.T) {
	w := &recordingWriter{}
	d := &Disassembler{Writer: w}

	empty := Body{Identity: Identity{ID: uuid.New()}, Source: ReaderSource(bytes.NewReader(nil))}
	noSource := Body{Identity: Identity{ID: uuid.New()}}

	require.NoError(t, d.SendMessage(context.Background(), protocol.FrameRequest, uuid.New(), []byte("{}"), []Body{empty, noSource}))

	for _, id := range []uuid.UUID{empty.Identity.ID, noSource.Identity.ID} {
		frames := w.streamFrames(id)
		require.Len(t, frames, 1)
		assert.True(t, frames[0].h.End)
		assert.Empty(t, frames[0].payload)
	}
}

func TestDisassembler_FrameOrder(t *testing.T) {
	w := &recordingWriter{}
	d := &Disassembler{Writer: w, MaxPayload: 4}
	msgID := uuid.New()
	a := Body{Identity: Identity{ID: uuid.New()}, Source: StringSource("hello")}
	b := Body{Identity: Identity{ID: uuid.New()}, Source: StringSource("hi")}

	require.NoError(t, d.SendMessage(context.Background(), protocol.FrameRequest, msgID, []byte("0123456789"), []Body{a, b}))

	var got []string
	for _, f := range w.frames {
		got = append(got, string(f.h.Type)+":"+string(f.payload))
	}
	// 描述符按 MaxPayload 拆分，随后各 body 依次发送
	assert.Equal(t, []string{"A:0123", "A:4567", "A:89", "S:hell", "S:o", "S:hi"}, got)

	assert.False(t, w.frames[1].h.End)
	assert.True(t, w.frames[2].h.End)
	assert.Equal(t, msgID, w.frames[0].h.ID)
	assert.Equal(t, a.Identity.ID, w.frames[3].h.ID)
	assert.Equal(t, b.Identity.ID, w.frames[5].h.ID)
}

func TestDisassembler_WriterErrorAborts(t *testing.T) {
	w := &recordingWriter{failAt: 2, failErr: types.ErrConnectionClosed}
	d := &Disassembler{Writer: w}
	body := Body{Identity: Identity{ID: uuid.New()}, Source: BytesSource(make([]byte, 3*protocol.MaxPayloadLength))}

	err := d.SendMessage(context.Background(), protocol.FrameRequest, uuid.New(), []byte("{}"), []Body{body})
	assert.ErrorIs(t, err, types.ErrConnectionClosed)
	assert.Len(t, w.frames, 2, "no frames may follow a failed send")
}

func TestDisassembler_CancelledContext(t *testing.T) {
	w := &recordingWriter{}
	d := &Disassembler{Writer: w}
	err := d.SendMessage(testutil.CancelledContext(), protocol.FrameRequest, uuid.New(), []byte("{}"), nil)
	assert.ErrorIs(t, err, types.ErrCancelled)
	assert.Empty(t, w.frames)
}

func TestDisassembler_SourceError(t *testing.T) {
	boom := errors.New("disk gone")
	d := &Disassembler{Writer: &recordingWriter{}}
	body := Body{Identity: Identity{ID: uuid.New()}, Source: ReaderSource(&failingReader{err: boom})}

	err := d.SendMessage(context.Background(), protocol.FrameResponse, uuid.New(), []byte("{}"), []Body{body})
	assert.ErrorIs(t, err, boom)
}

func TestDisassembler_RejectsNonMessageFrameType(t *testing.T) {
	d := &Disassembler{Writer: &recordingWriter{}}
	err := d.SendMessage(context.Background(), protocol.FrameStream, uuid.New(), nil, nil)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

type failingReader struct{ err error }

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }

// 任意长度数据经 ReaderSource 分块后：拼接还原、仅最后一块 last、
// 非空数据块数 = ceil(len/max)，空数据恰好一块
func TestProperty_ReaderSourceChunking(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 64).Draw(rt, "limit")
		data := rapid.SliceOfN(rapid.Byte(), 0, 1024).Draw(rt, "data")
		partial := rapid.IntRange(1, 16).Draw(rt, "partialRead")

		src := ReaderSource(&testutil.ChunkedReader{R: bytes.NewReader(data), Max: partial})

		var got []byte
		chunks := 0
		for {
			chunk, last, err := src.Next(limit)
			if err != nil {
				rt.Fatalf("next: %v", err)
			}
			if len(chunk) > limit {
				rt.Fatalf("chunk of %d exceeds limit %d", len(chunk), limit)
			}
			chunks++
			got = append(got, chunk...)
			if last {
				break
			}
		}

		want := (len(data) + limit - 1) / limit
		if want == 0 {
			want = 1
		}
		if chunks != want {
			rt.Fatalf("got %d chunks, want %d", chunks, want)
		}
		if !bytes.Equal(data, got) {
			rt.Fatalf("data mismatch")
		}
	})
}

func TestFresh_BytesSourceReplaysFromStart(t *testing.T) {
	src := StringSource("hello")
	require.True(t, Replayable(src))

	for i := 0; i < 2; i++ {
		chunk, last, err := Fresh(src).Next(64)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(chunk), "send %d", i)
		assert.True(t, last)
	}
	assert.False(t, Spent(src))
}

func TestSpent_ReaderSource(t *testing.T) {
	src := ReaderSource(strings.NewReader("once"))
	assert.False(t, Replayable(src))
	assert.Same(t, src, Fresh(src))
	assert.False(t, Spent(src))

	_, _, err := src.Next(64)
	require.NoError(t, err)
	assert.True(t, Spent(src))
}
