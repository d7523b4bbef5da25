package main

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/botstream/message"
	"github.com/BaSui01/botstream/session"
)

// botRouter 按 "VERB path" 分发入站请求，未匹配时回 404
type botRouter struct {
	routes map[string]session.RequestHandlerFunc
	logger *zap.Logger
}

func newBotRouter(logger *zap.Logger) *botRouter {
	r := &botRouter{
		routes: make(map[string]session.RequestHandlerFunc),
		logger: logger.With(zap.String("component", "bot")),
	}
	r.handle(http.MethodGet, "/api/version", handleVersion)
	r.handle(http.MethodPost, "/api/echo", handleEcho)
	r.handle(http.MethodGet, "/api/connection", handleConnectionInfo)
	return r
}

func (r *botRouter) handle(verb, path string, h session.RequestHandlerFunc) {
	r.routes[verb+" "+path] = h
}

// ProcessRequest implements session.RequestHandler.
func (r *botRouter) ProcessRequest(ctx context.Context, req *message.ReceiveRequest) (*message.Response, error) {
	path, _, _ := strings.Cut(req.Path, "?")
	h, ok := r.routes[strings.ToUpper(req.Verb)+" "+path]
	if !ok {
		r.logger.Debug("no route", zap.String("verb", req.Verb), zap.String("path", req.Path))
		req.Discard()
		return message.NotFound(), nil
	}
	return h(ctx, req)
}

func handleVersion(_ context.Context, req *message.ReceiveRequest) (*message.Response, error) {
	req.Discard()
	return message.NewJSONResponse(http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// handleEcho 按原内容类型逐个回送请求 body
func handleEcho(ctx context.Context, req *message.ReceiveRequest) (*message.Response, error) {
	resp := message.NewResponse(http.StatusOK)
	for _, s := range req.Streams {
		data, err := s.ReadAll(ctx)
		if err != nil {
			return nil, err
		}
		resp.AddStream(message.NewBytesContent(s.ContentType, data))
	}
	return resp, nil
}

func handleConnectionInfo(ctx context.Context, req *message.ReceiveRequest) (*message.Response, error) {
	req.Discard()
	return message.NewJSONResponse(http.StatusOK, map[string]string{
		"connection_id": session.ConnectionIDFromContext(ctx),
		"request_id":    session.RequestIDFromContext(ctx),
		"remote_addr":   session.RemoteAddrFromContext(ctx),
	})
}
