package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/botstream/config"
	"github.com/BaSui01/botstream/message"
	"github.com/BaSui01/botstream/payload"
)

// receivedStream 构造一个已填充完毕的接收侧 body
func receivedStream(t *testing.T, contentType string, data []byte) (*message.ContentStream, *payload.Buffer) {
	t.Helper()
	buf := payload.NewBuffer()
	_, err := buf.Write(data)
	require.NoError(t, err)
	buf.DoneProducing()
	return message.NewContentStream(payload.Identity{ID: uuid.New(), ContentType: contentType}, buf), buf
}

// readContent 读出发送侧 body 的全部数据
func readContent(t *testing.T, c *message.Content) []byte {
	t.Helper()
	var out []byte
	for {
		chunk, done, err := c.Source.Next(4096)
		require.NoError(t, err)
		out = append(out, chunk...)
		if done {
			return out
		}
	}
}

func TestBotRouter_Version(t *testing.T) {
	r := newBotRouter(zaptest.NewLogger(t))

	resp, err := r.ProcessRequest(context.Background(), &message.ReceiveRequest{Verb: "get", Path: "/api/version?verbose=1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, resp.Streams, 1)

	var got map[string]string
	require.NoError(t, json.Unmarshal(readContent(t, resp.Streams[0]), &got))
	assert.Equal(t, Version, got["version"])
	assert.Equal(t, GitCommit, got["git_commit"])
}

func TestBotRouter_EchoKeepsContentTypes(t *testing.T) {
	r := newBotRouter(zaptest.NewLogger(t))

	text, _ := receivedStream(t, message.ContentTypeText, []byte("hi"))
	bin, _ := receivedStream(t, message.ContentTypeBinary, []byte{0xde, 0xad})

	resp, err := r.ProcessRequest(context.Background(), &message.ReceiveRequest{
		Verb:    http.MethodPost,
		Path:    "/api/echo",
		Streams: []*message.ContentStream{text, bin},
	})
	require.NoError(t, err)
	require.Len(t, resp.Streams, 2)
	assert.Equal(t, message.ContentTypeText, resp.Streams[0].ContentType)
	assert.Equal(t, []byte("hi"), readContent(t, resp.Streams[0]))
	assert.Equal(t, message.ContentTypeBinary, resp.Streams[1].ContentType)
	assert.Equal(t, []byte{0xde, 0xad}, readContent(t, resp.Streams[1]))
}

func TestBotRouter_EchoCancelledBody(t *testing.T) {
	r := newBotRouter(zaptest.NewLogger(t))

	// body 尚未结束，读取跟随 ctx 取消
	buf := payload.NewBuffer()
	stream := message.NewContentStream(payload.Identity{ID: uuid.New(), ContentType: message.ContentTypeText}, buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.ProcessRequest(ctx, &message.ReceiveRequest{
		Verb:    http.MethodPost,
		Path:    "/api/echo",
		Streams: []*message.ContentStream{stream},
	})
	assert.Error(t, err)
}

func TestBotRouter_NotFoundDiscardsBodies(t *testing.T) {
	r := newBotRouter(zaptest.NewLogger(t))

	stream, buf := receivedStream(t, message.ContentTypeText, []byte("ignored"))
	resp, err := r.ProcessRequest(context.Background(), &message.ReceiveRequest{
		Verb:    http.MethodPost,
		Path:    "/api/version",
		Streams: []*message.ContentStream{stream},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.True(t, buf.IsClosed())
}

func TestDialerFor(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name      string
		transport string
		address   string
		wantErr   string
	}{
		{name: "pipe", transport: config.TransportPipe},
		{name: "tcp", transport: config.TransportTCP, address: "127.0.0.1:1"},
		{name: "websocket", transport: config.TransportWebSocket, address: "ws://127.0.0.1:1/api/messages"},
		{name: "websocket without address", transport: config.TransportWebSocket, wantErr: "ws:// or wss://"},
		{name: "unknown", transport: "carrier-pigeon", wantErr: "unknown transport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Connection.Transport = tt.transport
			cfg.Connection.Address = tt.address

			dial, err := dialerFor(cfg, logger)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, dial)
		})
	}
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.LogConfig
		level zapcore.Level
	}{
		{name: "json debug", cfg: config.LogConfig{Level: "debug", Format: "json"}, level: zapcore.DebugLevel},
		{name: "console warn", cfg: config.LogConfig{Level: "warn", Format: "console"}, level: zapcore.WarnLevel},
		{name: "invalid level falls back to info", cfg: config.LogConfig{Level: "loud"}, level: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.OutputPaths = []string{"stderr"}
			logger, level := initLogger(tt.cfg)
			require.NotNil(t, logger)
			assert.Equal(t, tt.level, level.Level())

			level.SetLevel(zapcore.ErrorLevel)
			assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadConfig("")
		require.NoError(t, err)
		assert.Equal(t, config.TransportPipe, cfg.Connection.Transport)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Setenv("BOTSTREAM_CONNECTION_MAX_PAYLOAD", "99999")
		_, err := loadConfig("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})
}
